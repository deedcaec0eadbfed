// Package vm implements dynamic object shapes and attribute inline caches.
//
// This package contains:
//   - NaN-boxed value representation
//   - Object storage with unboxed, inline and overflow slots
//   - Locations, Shapes and the memoizing shape transition engine
//   - Validity tokens (Assumptions) for in-place layout redefinition
//   - Per call-site attribute cache chains with a megamorphic fallback
package vm
