package dictionary

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
)

// ValidateNode checks a node state against its type schema. Call it with
// the merged state (current properties overlaid with the patch).
func (d *Dictionary) ValidateNode(label, id string, bag props.Bag) error {
	ref := model.NodeRef(label, id)
	nt, ok := d.nodes[label]
	if !ok {
		return model.NewSchemaViolation(ref, fmt.Sprintf("unknown node label %q", label))
	}
	if id == "" {
		return model.NewSchemaViolation(ref, "node id is required")
	}
	return validateBag(ref, nt.Properties, bag)
}

// ValidateEdge checks an edge state against its type schema.
func (d *Dictionary) ValidateEdge(name, srcID, dstID string, bag props.Bag) error {
	ref := model.EdgeRef(name, srcID, dstID)
	et, ok := d.edges[name]
	if !ok {
		return model.NewSchemaViolation(ref, fmt.Sprintf("unknown edge type %q", name))
	}
	if srcID == "" || dstID == "" {
		return model.NewSchemaViolation(ref, "edge endpoints are required")
	}
	return validateBag(ref, et.Properties, bag)
}

func validateBag(ref model.EntityRef, specs []PropertySpec, bag props.Bag) error {
	byName := make(map[string]PropertySpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	var problems []string
	var fields []string

	for _, key := range bag.SortedKeys() {
		spec, ok := byName[key]
		if !ok {
			problems = append(problems, "unknown "+key)
			fields = append(fields, key)
			continue
		}
		val := bag[key]
		if _, isNull := val.(props.Null); isNull {
			if spec.Required {
				problems = append(problems, "null "+key)
				fields = append(fields, key)
			}
			continue
		}
		if !kindAccepts(spec.Kind, val) {
			problems = append(problems, fmt.Sprintf("%s: expected %s, got %s", key, spec.Kind, props.Kind(val)))
			fields = append(fields, key)
		}
	}

	for _, s := range specs {
		if !s.Required {
			continue
		}
		if _, ok := bag[s.Name]; !ok {
			problems = append(problems, "missing "+s.Name)
			fields = append(fields, s.Name)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	slices.Sort(fields)
	fields = slices.Compact(fields)
	return model.NewSchemaViolation(ref, "invalid properties: "+strings.Join(problems, "; "), fields...)
}

// kindAccepts reports whether val fits kind. Float properties accept Int.
func kindAccepts(kind string, val props.Value) bool {
	switch kind {
	case KindString:
		_, ok := val.(props.String)
		return ok
	case KindInt:
		_, ok := val.(props.Int)
		return ok
	case KindFloat:
		switch val.(type) {
		case props.Float, props.Int:
			return true
		}
		return false
	case KindBool:
		_, ok := val.(props.Bool)
		return ok
	default:
		return false
	}
}
