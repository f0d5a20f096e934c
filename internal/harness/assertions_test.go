package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seededSteps = `
dictionary: testdata/dictionary.cue
steps:
  - { session: s1, op: upsert_node, label: project, id: p1, props: { code: PRJ } }
  - { session: s1, op: upsert_node, label: case, id: c1, props: { age: 30 } }
  - { session: s1, op: upsert_edge, label: case_member_of_project, src: c1, dst: p1 }
  - { session: s1, op: commit }
  - { session: s2, op: upsert_node, label: case, id: c1, props: { age: 31 } }
  - { session: s2, op: commit }
`

func runAssertions(t *testing.T, assertions string) *Result {
	t.Helper()
	scenario := mustParse(t, "name: a\ndescription: d\n"+seededSteps+"assertions:\n"+assertions)
	result, err := Run(scenario)
	require.NoError(t, err)
	return result
}

func TestAssertions_Pass(t *testing.T) {
	result := runAssertions(t, `
  - { type: node, label: case, id: c1, version: 2, props: { age: 31 } }
  - { type: node, label: case, id: c9, absent: true }
  - { type: edge, label: case_member_of_project, src: c1, dst: p1, version: 1 }
  - { type: history, label: case, id: c1, versions: [1], kinds: [superseded] }
  - { type: history, label: project, id: p1 }
  - { type: transaction, session: s2, state: SUCCEEDED, entities: 1 }
  - { type: log_count, count: 2 }
  - { type: table_count, table: versioned_nodes, count: 1 }
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion string
		want      string
	}{
		{"wrong version", "{ type: node, label: case, id: c1, version: 3 }", "case(c1) at version 3"},
		{"wrong prop", "{ type: node, label: case, id: c1, props: { age: 30 } }", "case(c1).age = 30"},
		{"missing prop", "{ type: node, label: case, id: c1, props: { submitter_id: x } }", "property not set"},
		{"not absent", "{ type: node, label: case, id: c1, absent: true }", "case(c1) to be absent"},
		{"not found", "{ type: edge, label: case_member_of_project, src: c1, dst: p2 }", "not found"},
		{"history versions", "{ type: history, label: case, id: c1, versions: [1, 2] }", "history versions [1 2]"},
		{"history kinds", "{ type: history, label: case, id: c1, versions: [1], kinds: [deleted] }", "history kinds [deleted]"},
		{"transaction state", "{ type: transaction, session: s1, state: DRY_RUN }", "in state DRY_RUN"},
		{"transaction entities", "{ type: transaction, session: s1, entities: 1 }", "touching 1 entities"},
		{"transaction logged", "{ type: transaction, session: s1, absent: true }", "not to be logged"},
		{"unknown session", "{ type: transaction, session: s9 }", `unknown session "s9"`},
		{"log count", "{ type: log_count, count: 5 }", "5 log entries"},
		{"table count", "{ type: table_count, table: node_case, count: 0 }", "0 rows in node_case"},
		{"unknown table", "{ type: table_count, table: nodes, count: 0 }", `unknown table "nodes"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := runAssertions(t, "  - "+tt.assertion+"\n")
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.want)
		})
	}
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertNode,
		Expected: "case(c1) at version 3",
		Actual:   "version 2",
		Trace: []TraceEvent{
			{Step: 0, Session: "s1", Op: OpUpsertNode, Ref: "case(c1)"},
			{Step: 1, Session: "s1", Op: OpCommit, Error: "CONFLICT"},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: node")
	assert.Contains(t, msg, "[0] s1 upsert_node case(c1)")
	assert.Contains(t, msg, "[1] s1 commit  -> CONFLICT")
}
