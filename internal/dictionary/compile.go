package dictionary

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// CompileError is a dictionary compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadDir loads every CUE file of the package in dir and compiles it.
func LoadDir(dir string) (*Dictionary, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("load dictionary: not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load dictionary: no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load dictionary: %w", inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(value)
}

// LoadString compiles a dictionary from CUE source. name is used in
// error positions.
func LoadString(name, src string) (*Dictionary, error) {
	value := cuecontext.New().CompileString(src, cue.Filename(name))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(value)
}

// Compile builds a dictionary from the top-level node and edge structs.
func Compile(v cue.Value) (*Dictionary, error) {
	var nodes []NodeType
	var edges []EdgeType

	nodesVal := v.LookupPath(cue.ParsePath("node"))
	if nodesVal.Exists() {
		iter, err := nodesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			nt, err := CompileNodeType(iter.Value())
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, *nt)
		}
	}

	edgesVal := v.LookupPath(cue.ParsePath("edge"))
	if edgesVal.Exists() {
		iter, err := edgesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			et, err := CompileEdgeType(iter.Value())
			if err != nil {
				return nil, err
			}
			edges = append(edges, *et)
		}
	}

	if len(nodes) == 0 {
		return nil, &CompileError{
			Field:   "node",
			Message: "at least one node type is required",
			Pos:     v.Pos(),
		}
	}

	d, err := New(nodes, edges)
	if err != nil {
		return nil, &CompileError{Field: "dictionary", Message: err.Error(), Pos: v.Pos()}
	}
	return d, nil
}

// CompileNodeType parses one node type. The label is the struct's field
// name, e.g. the value at path node.case has label "case".
func CompileNodeType(v cue.Value) (*NodeType, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	nt := &NodeType{Label: lastSelector(v)}

	catVal := v.LookupPath(cue.ParsePath("category"))
	if catVal.Exists() {
		cat, err := catVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		nt.Category = cat
	}

	specs, err := parseProperties(v, "node."+nt.Label)
	if err != nil {
		return nil, err
	}
	nt.Properties = specs
	return nt, nil
}

// CompileEdgeType parses one edge type. src and dst are required.
func CompileEdgeType(v cue.Value) (*EdgeType, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	et := &EdgeType{Name: lastSelector(v)}
	field := "edge." + et.Name

	for _, f := range []struct {
		name     string
		dst      *string
		required bool
	}{
		{"label", &et.Label, false},
		{"src", &et.Src, true},
		{"dst", &et.Dst, true},
	} {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			if f.required {
				return nil, &CompileError{
					Field:   field + "." + f.name,
					Message: f.name + " is required",
					Pos:     v.Pos(),
				}
			}
			continue
		}
		s, err := fv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		*f.dst = s
	}

	specs, err := parseProperties(v, field)
	if err != nil {
		return nil, err
	}
	et.Properties = specs
	return et, nil
}

// parseProperties reads the properties struct and the required list.
func parseProperties(v cue.Value, field string) ([]PropertySpec, error) {
	var specs []PropertySpec
	index := make(map[string]int)

	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if propsVal.Exists() {
		iter, err := propsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			kind, err := extractKind(iter.Value(), field+".properties."+iter.Label())
			if err != nil {
				return nil, err
			}
			index[iter.Label()] = len(specs)
			specs = append(specs, PropertySpec{Name: iter.Label(), Kind: kind})
		}
	}

	reqVal := v.LookupPath(cue.ParsePath("required"))
	if reqVal.Exists() {
		iter, err := reqVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			i, ok := index[name]
			if !ok {
				return nil, &CompileError{
					Field:   field + ".required",
					Message: fmt.Sprintf("required property %q is not declared", name),
					Pos:     iter.Value().Pos(),
				}
			}
			specs[i].Required = true
		}
	}

	return specs, nil
}

// extractKind maps a CUE type to a property kind. number maps to float.
func extractKind(v cue.Value, field string) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return KindString, nil
	case cue.IntKind:
		return KindInt, nil
	case cue.FloatKind, cue.NumberKind:
		return KindFloat, nil
	case cue.BoolKind:
		return KindBool, nil
	default:
		return "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported property kind %v (want string, int, float, number or bool)", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func lastSelector(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	return sels[len(sels)-1].String()
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
