package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/vgraph/internal/graph"
	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
	"github.com/roach88/vgraph/internal/store"
)

// AssertionContext gives assertions access to the final state.
type AssertionContext struct {
	Driver *graph.Driver
	Store  *store.Store

	// Sessions maps scenario session names to transaction ids.
	Sessions map[string]string

	Ctx context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %s", event.Step, event.Session, event.Op, event.Ref)
		if event.Error != "" {
			fmt.Fprintf(&buf, " -> %s", event.Error)
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertNode:
			err = assertNode(actx, a)
		case AssertEdge:
			err = assertEdge(actx, a)
		case AssertHistory:
			err = assertHistory(actx, a)
		case AssertTransaction:
			err = assertTransaction(actx, a)
		case AssertLogCount:
			err = assertLogCount(actx, a)
		case AssertTableCount:
			err = assertTableCount(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			if ae, ok := err.(*AssertionError); ok {
				ae.Trace = result.Trace
			}
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertNode checks the current state of a node.
func assertNode(actx *AssertionContext, a Assertion) error {
	ref := model.NodeRef(a.Label, a.ID)
	n, err := actx.Driver.GetNode(actx.Ctx, a.Label, a.ID)
	return checkCurrent(a, ref, n.Version, n.Properties, err)
}

// assertEdge checks the current state of an edge.
func assertEdge(actx *AssertionContext, a Assertion) error {
	ref := model.EdgeRef(a.Label, a.Src, a.Dst)
	e, err := actx.Driver.GetEdge(actx.Ctx, a.Label, a.Src, a.Dst)
	return checkCurrent(a, ref, e.Version, e.Properties, err)
}

func checkCurrent(a Assertion, ref model.EntityRef, version int64, bag props.Bag, err error) error {
	if model.IsNotFound(err) {
		if a.Absent {
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s to be current", ref),
			Actual:   "not found",
		}
	}
	if err != nil {
		return err
	}
	if a.Absent {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s to be absent", ref),
			Actual:   fmt.Sprintf("current at version %d", version),
		}
	}
	if a.Version != nil && *a.Version != version {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s at version %d", ref, *a.Version),
			Actual:   fmt.Sprintf("version %d", version),
		}
	}
	return matchProps(a.Type, ref, a.Props, bag)
}

// matchProps checks that every expected property is present with an equal
// value. Extra properties are ignored.
func matchProps(typ string, ref model.EntityRef, expected map[string]any, actual props.Bag) error {
	if len(expected) == 0 {
		return nil
	}
	want, err := props.BagFromMap(expected)
	if err != nil {
		return fmt.Errorf("expected props: %w", err)
	}
	for _, k := range want.SortedKeys() {
		got, ok := actual[k]
		if !ok {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s.%s = %v", ref, k, props.ToAny(want[k])),
				Actual:   "property not set",
			}
		}
		if got != want[k] {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s.%s = %v", ref, k, props.ToAny(want[k])),
				Actual:   fmt.Sprintf("%v", props.ToAny(got)),
			}
		}
	}
	return nil
}

// assertHistory checks the shadow rows of an entity: their versions in
// order and, if given, their kinds.
func assertHistory(actx *AssertionContext, a Assertion) error {
	var (
		ref     model.EntityRef
		history []model.HistoryEntry
		err     error
	)
	if a.Src != "" {
		ref = model.EdgeRef(a.Label, a.Src, a.Dst)
		history, err = actx.Driver.EdgeHistory(actx.Ctx, a.Label, a.Src, a.Dst)
	} else {
		ref = model.NodeRef(a.Label, a.ID)
		history, err = actx.Driver.NodeHistory(actx.Ctx, a.Label, a.ID)
	}
	if err != nil {
		return err
	}

	versions := make([]int64, len(history))
	kinds := make([]string, len(history))
	for i, h := range history {
		versions[i] = h.Version
		kinds[i] = string(h.Kind)
	}

	want := a.Versions
	if want == nil {
		want = []int64{}
	}
	if !slices.Equal(want, versions) {
		return &AssertionError{
			Type:     AssertHistory,
			Expected: fmt.Sprintf("%s history versions %v", ref, want),
			Actual:   fmt.Sprintf("%v", versions),
		}
	}
	if len(a.Kinds) > 0 && !slices.Equal(a.Kinds, kinds) {
		return &AssertionError{
			Type:     AssertHistory,
			Expected: fmt.Sprintf("%s history kinds %v", ref, a.Kinds),
			Actual:   fmt.Sprintf("%v", kinds),
		}
	}
	return nil
}

// assertTransaction checks the log entry of a scenario session.
func assertTransaction(actx *AssertionContext, a Assertion) error {
	id, ok := actx.Sessions[a.Session]
	if !ok {
		return fmt.Errorf("unknown session %q", a.Session)
	}

	entry, err := actx.Driver.Transaction(actx.Ctx, id)
	if model.IsNotFound(err) {
		if a.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertTransaction,
			Expected: fmt.Sprintf("session %s (%s) to be logged", a.Session, id),
			Actual:   "no log entry",
		}
	}
	if err != nil {
		return err
	}
	if a.Absent {
		return &AssertionError{
			Type:     AssertTransaction,
			Expected: fmt.Sprintf("session %s (%s) not to be logged", a.Session, id),
			Actual:   fmt.Sprintf("log entry %d in state %s", entry.Seq, entry.State),
		}
	}
	if a.State != "" && a.State != string(entry.State) {
		return &AssertionError{
			Type:     AssertTransaction,
			Expected: fmt.Sprintf("session %s in state %s", a.Session, a.State),
			Actual:   string(entry.State),
		}
	}
	if a.Entities != nil && *a.Entities != entry.EntityCount {
		return &AssertionError{
			Type:     AssertTransaction,
			Expected: fmt.Sprintf("session %s touching %d entities", a.Session, *a.Entities),
			Actual:   fmt.Sprintf("%d entities", entry.EntityCount),
		}
	}
	return nil
}

// assertLogCount checks the number of committed log entries.
func assertLogCount(actx *AssertionContext, a Assertion) error {
	entries, err := actx.Driver.Transactions(actx.Ctx, 0, 0)
	if err != nil {
		return err
	}
	if int64(len(entries)) != *a.Count {
		return &AssertionError{
			Type:     AssertLogCount,
			Expected: fmt.Sprintf("%d log entries", *a.Count),
			Actual:   fmt.Sprintf("%d", len(entries)),
		}
	}
	return nil
}

// assertTableCount checks the row count of a table.
func assertTableCount(actx *AssertionContext, a Assertion) error {
	n, err := actx.Store.CountRows(actx.Ctx, a.Table)
	if err != nil {
		return err
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertTableCount,
			Expected: fmt.Sprintf("%d rows in %s", *a.Count, a.Table),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}
