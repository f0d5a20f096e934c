// Package harness runs graph scenarios: scripted sequences of sessions,
// mutations and commits against a fresh store, checked by assertions on the
// resulting graph, history and transaction log.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: update_then_delete
//	description: "An update archives v1; the delete leaves a marker at v3"
//	dictionary: dictionary.cue
//	steps:
//	  - session: s1
//	    op: upsert_node
//	    label: case
//	    id: c1
//	    props: { age: 1 }
//	  - session: s1
//	    op: commit
//	  - session: s2
//	    op: upsert_node
//	    label: case
//	    id: c1
//	    expected_version: 1
//	    props: { age: 2 }
//	    expect: { version: 2 }
//	  - session: s2
//	    op: commit
//	assertions:
//	  - type: node
//	    label: case
//	    id: c1
//	    version: 2
//	    props: { age: 2 }
//	  - type: history
//	    label: case
//	    id: c1
//	    versions: [1]
//
// Sessions are named by the scenario and open on first use. An explicit
// begin step opens a session with a project or as a dry run. Any number of
// sessions may be open at once, which is how scenarios script concurrent
// writers.
//
// # Operations
//
//   - begin: open the session (project, dry_run)
//   - upsert_node, delete_node: label, id
//   - upsert_edge, delete_edge: label, src, dst
//   - attach: document
//   - commit, abort
//
// A step's expect clause names the returned version or the error code
// (SCHEMA_VIOLATION, CONFLICT, SESSION_CLOSED, STORAGE_FAILURE, NOT_FOUND).
// A step without an expect clause must succeed.
//
// # Assertion Types
//
//   - node, edge: the current state (version, props subset) or absent
//   - history: the shadow rows of an entity (versions, kinds)
//   - transaction: the log entry of a session (state, entities) or absent
//   - log_count: the number of committed log entries
//   - table_count: the row count of one table
//
// # Deterministic Testing
//
// Every scenario runs on a fresh database with sequential transaction ids
// (testutil.SequenceGenerator) and a stepping wall clock
// (testutil.StepClock), so traces compare byte for byte against golden
// files.
package harness
