package vm

import "sync"

// internTable maps strings to dense uint32 IDs. IDs are never reused, so a
// string Value stays valid for the life of the process.
type internTable struct {
	mu     sync.RWMutex
	byName map[string]uint32
	byID   []string
}

func newInternTable() *internTable {
	return &internTable{
		byName: make(map[string]uint32),
		byID:   make([]string, 0, 256),
	}
}

// Intern returns the ID for s, assigning the next one on first sight.
func (t *internTable) Intern(s string) uint32 {
	t.mu.RLock()
	if id, ok := t.byName[s]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := t.byName[s]; ok {
		return id
	}
	id := uint32(len(t.byID))
	t.byName[s] = id
	t.byID = append(t.byID, s)
	return id
}

// Name returns the string for id, or "" if id was never assigned.
func (t *internTable) Name(id uint32) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.byID) {
		return ""
	}
	return t.byID[id]
}

// Len returns the number of interned strings.
func (t *internTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
