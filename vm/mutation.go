package vm

import "fmt"

// MutationKind enumerates the layout changes the transition engine understands.
type MutationKind uint8

const (
	MutationAdd        MutationKind = iota // add-attribute(name, type, final)
	MutationGeneralize                     // generalize-attribute(name, type)
	MutationDefinalize                     // de-finalize-attribute(name)
	MutationRemove                         // remove-attribute(name)
)

func (k MutationKind) String() string {
	switch k {
	case MutationAdd:
		return "add"
	case MutationGeneralize:
		return "generalize"
	case MutationDefinalize:
		return "definalize"
	case MutationRemove:
		return "remove"
	}
	return fmt.Sprintf("MutationKind(%d)", uint8(k))
}

// Mutation describes one requested layout change. It is comparable and is
// used directly as the key of a shape's transition table.
type Mutation struct {
	Kind  MutationKind
	Name  string
	Type  ValueType // add: type of the initial value; generalize: required type
	Final bool      // add only
}

// Add returns the mutation that adds name holding a value like v.
func Add(name string, v Value, final bool) Mutation {
	return Mutation{Kind: MutationAdd, Name: name, Type: TypeOf(v), Final: final}
}

// Generalize returns the mutation that widens name to accept typ.
func Generalize(name string, typ ValueType) Mutation {
	return Mutation{Kind: MutationGeneralize, Name: name, Type: typ}
}

// Definalize returns the mutation that makes name writable more than once.
func Definalize(name string) Mutation {
	return Mutation{Kind: MutationDefinalize, Name: name}
}

// Remove returns the mutation that drops name.
func Remove(name string) Mutation {
	return Mutation{Kind: MutationRemove, Name: name}
}

func (m Mutation) String() string {
	switch m.Kind {
	case MutationAdd:
		if m.Final {
			return fmt.Sprintf("add %s:%s final", m.Name, m.Type)
		}
		return fmt.Sprintf("add %s:%s", m.Name, m.Type)
	case MutationGeneralize:
		return fmt.Sprintf("generalize %s:%s", m.Name, m.Type)
	}
	return m.Kind.String() + " " + m.Name
}
