package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chazu/shapes/vm"
)

// Op is a trace script operation.
type Op uint8

const (
	OpNew      Op = iota // new o
	OpWrite              // o.x = 1 [@site]
	OpRead               // o.x [@site]
	OpFinal              // final o.x = 1
	OpDelete             // delete o.x
	OpRedefine           // redefine o.x any
	OpExpect             // expect o.x 1 | expect o.x absent
)

func (op Op) String() string {
	return [...]string{"new", "write", "read", "final", "delete", "redefine", "expect"}[op]
}

// Stmt is one parsed script line.
type Stmt struct {
	Line   int
	Op     Op
	Obj    string
	Attr   string
	Value  vm.Value
	Type   vm.ValueType
	Absent bool   // expect: attribute must be missing
	Site   string // write/read: explicit site label, "" for a per-line site
}

// ParseScript reads a trace script. Blank lines and # comments are skipped.
func ParseScript(r io.Reader) ([]Stmt, error) {
	var stmts []Stmt
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		toks, err := tokenize(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(toks) == 0 {
			continue
		}
		st, err := parseStmt(toks)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		st.Line = line
		stmts = append(stmts, st)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return stmts, nil
}

func parseStmt(toks []string) (Stmt, error) {
	var st Stmt
	if last := toks[len(toks)-1]; strings.HasPrefix(last, "@") {
		if len(last) == 1 {
			return st, fmt.Errorf("empty site label")
		}
		st.Site = last[1:]
		toks = toks[:len(toks)-1]
		if len(toks) == 0 {
			return st, fmt.Errorf("site label without an access")
		}
	}

	var err error
	switch toks[0] {
	case "new":
		if len(toks) != 2 || !isIdent(toks[1]) {
			return st, fmt.Errorf("usage: new <object>")
		}
		st.Op, st.Obj = OpNew, toks[1]
	case "final":
		if len(toks) != 4 || toks[2] != "=" {
			return st, fmt.Errorf("usage: final <object>.<attr> = <value>")
		}
		st.Op = OpFinal
		if st.Obj, st.Attr, err = parseTarget(toks[1]); err != nil {
			return st, err
		}
		st.Value, err = parseLiteral(toks[3])
	case "delete":
		if len(toks) != 2 {
			return st, fmt.Errorf("usage: delete <object>.<attr>")
		}
		st.Op = OpDelete
		st.Obj, st.Attr, err = parseTarget(toks[1])
	case "redefine":
		if len(toks) != 3 {
			return st, fmt.Errorf("usage: redefine <object>.<attr> <type>")
		}
		st.Op = OpRedefine
		if st.Obj, st.Attr, err = parseTarget(toks[1]); err != nil {
			return st, err
		}
		st.Type, err = vm.ParseValueType(toks[2])
	case "expect":
		if len(toks) != 3 {
			return st, fmt.Errorf("usage: expect <object>.<attr> <value>|absent")
		}
		st.Op = OpExpect
		if st.Obj, st.Attr, err = parseTarget(toks[1]); err != nil {
			return st, err
		}
		if toks[2] == "absent" {
			st.Absent = true
		} else {
			st.Value, err = parseLiteral(toks[2])
		}
	default:
		if st.Obj, st.Attr, err = parseTarget(toks[0]); err != nil {
			return st, err
		}
		switch {
		case len(toks) == 1:
			st.Op = OpRead
		case len(toks) == 3 && toks[1] == "=":
			st.Op = OpWrite
			st.Value, err = parseLiteral(toks[2])
		default:
			return st, fmt.Errorf("expected <object>.<attr> [= <value>]")
		}
	}
	if err != nil {
		return st, err
	}
	if st.Site != "" && st.Op != OpRead && st.Op != OpWrite {
		return st, fmt.Errorf("%s does not go through a call site", st.Op)
	}
	return st, nil
}

func parseTarget(tok string) (obj, attr string, err error) {
	obj, attr, ok := strings.Cut(tok, ".")
	if !ok || !isIdent(obj) || !isIdent(attr) {
		return "", "", fmt.Errorf("bad target %q, want <object>.<attr>", tok)
	}
	return obj, attr, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// parseLiteral converts a script literal to a Value: nil, true, false,
// integers, floats, or a double-quoted string.
func parseLiteral(tok string) (vm.Value, error) {
	switch tok {
	case "nil":
		return vm.Nil, nil
	case "true":
		return vm.True, nil
	case "false":
		return vm.False, nil
	}
	if strings.HasPrefix(tok, `"`) {
		s, err := strconv.Unquote(tok)
		if err != nil {
			return vm.Nil, fmt.Errorf("bad string %s: %w", tok, err)
		}
		return vm.FromString(s), nil
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		if v, ok := vm.TryFromSmallInt(n); ok {
			return v, nil
		}
		return vm.Nil, fmt.Errorf("integer %s out of range", tok)
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return vm.FromFloat64(f), nil
	}
	return vm.Nil, fmt.Errorf("bad literal %q", tok)
}

// tokenize splits a line on whitespace. Double-quoted strings stay one
// token, quotes included, and # starts a comment outside of them.
func tokenize(line string) ([]string, error) {
	var (
		toks []string
		cur  strings.Builder
		inq  bool
		esc  bool
	)
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case inq:
			cur.WriteRune(r)
			switch {
			case esc:
				esc = false
			case r == '\\':
				esc = true
			case r == '"':
				inq = false
			}
		case r == '"':
			inq = true
			cur.WriteRune(r)
		case r == '#':
			flush()
			return toks, nil
		case r == ' ', r == '\t':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inq {
		return nil, fmt.Errorf("unterminated string")
	}
	flush()
	return toks, nil
}
