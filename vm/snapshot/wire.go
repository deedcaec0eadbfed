package snapshot

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// cborEncMode uses canonical options for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a Graph to CBOR bytes.
func Marshal(g *Graph) ([]byte, error) {
	return cborEncMode.Marshal(g)
}

// Unmarshal deserializes a Graph from CBOR bytes.
func Unmarshal(data []byte) (*Graph, error) {
	var g Graph
	if err := cbor.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal graph: %w", err)
	}
	return &g, nil
}

// MarshalYAML renders a Graph as YAML.
func MarshalYAML(g *Graph) ([]byte, error) {
	return yaml.Marshal(g)
}

// UnmarshalYAML parses a Graph written by MarshalYAML.
func UnmarshalYAML(data []byte) (*Graph, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal yaml: %w", err)
	}
	return &g, nil
}
