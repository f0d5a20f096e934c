package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vgraph/internal/model"
)

// Scenario defines a graph scenario: steps run in order against a fresh
// store, then assertions check the final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Dictionary is the path of the CUE dictionary the store is built from.
	// Relative paths are resolved against the scenario file's directory.
	Dictionary string `yaml:"dictionary"`

	// Actor runs every session. Defaults to DefaultActor.
	Actor *ActorSpec `yaml:"actor,omitempty"`

	// IDPrefix prefixes the sequential transaction ids. Default: "tx".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// ActorSpec describes the actor of a scenario.
type ActorSpec struct {
	ID            int64               `yaml:"id"`
	Username      string              `yaml:"username"`
	IsAdmin       bool                `yaml:"is_admin,omitempty"`
	ProjectAccess map[string][]string `yaml:"project_access,omitempty"`
}

// DefaultActor runs scenarios that do not name one.
var DefaultActor = model.Actor{ID: 1, Username: "harness"}

func (a *ActorSpec) actor() model.Actor {
	if a == nil {
		return DefaultActor
	}
	return model.Actor{
		ID:            a.ID,
		Username:      a.Username,
		IsAdmin:       a.IsAdmin,
		ProjectAccess: a.ProjectAccess,
	}
}

// Step is one operation on a named session.
type Step struct {
	// Session names the session the step runs in.
	Session string `yaml:"session"`

	// Op is the operation; see the Op constants.
	Op string `yaml:"op"`

	// Label is the node label or edge type name.
	Label string `yaml:"label,omitempty"`
	ID    string `yaml:"id,omitempty"`
	Src   string `yaml:"src,omitempty"`
	Dst   string `yaml:"dst,omitempty"`

	// Props is the property patch of an upsert.
	Props map[string]any `yaml:"props,omitempty"`

	// ExpectedVersion makes the mutation conditional.
	ExpectedVersion *int64 `yaml:"expected_version,omitempty"`

	// Project and DryRun configure a begin step.
	Project string `yaml:"project,omitempty"`
	DryRun  bool   `yaml:"dry_run,omitempty"`

	// Document is attached by an attach step.
	Document *DocumentSpec `yaml:"document,omitempty"`

	// Expect checks the step's outcome. Nil means the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// DocumentSpec is a document attached to a session.
type DocumentSpec struct {
	Name   string `yaml:"name"`
	Format string `yaml:"format"`
	Data   string `yaml:"data"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Version is the version the mutation returns.
	Version *int64 `yaml:"version,omitempty"`

	// Error is the expected error code. Empty means success.
	Error string `yaml:"error,omitempty"`
}

// Step operations.
const (
	OpBegin      = "begin"
	OpUpsertNode = "upsert_node"
	OpDeleteNode = "delete_node"
	OpUpsertEdge = "upsert_edge"
	OpDeleteEdge = "delete_edge"
	OpAttach     = "attach"
	OpCommit     = "commit"
	OpAbort      = "abort"
)

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert constants.
	Type string `yaml:"type"`

	// Label, ID, Src and Dst identify the entity of node, edge and history
	// assertions. A history assertion with Src set reads an edge.
	Label string `yaml:"label,omitempty"`
	ID    string `yaml:"id,omitempty"`
	Src   string `yaml:"src,omitempty"`
	Dst   string `yaml:"dst,omitempty"`

	// Version and Props check the current state (subset match on Props).
	Version *int64         `yaml:"version,omitempty"`
	Props   map[string]any `yaml:"props,omitempty"`

	// Absent asserts the entity or transaction does not exist.
	Absent bool `yaml:"absent,omitempty"`

	// Versions and Kinds check the shadow rows of a history assertion.
	Versions []int64  `yaml:"versions,omitempty"`
	Kinds    []string `yaml:"kinds,omitempty"`

	// Session, State and Entities check a transaction assertion.
	Session  string `yaml:"session,omitempty"`
	State    string `yaml:"state,omitempty"`
	Entities *int   `yaml:"entities,omitempty"`

	// Table names the table of a table_count assertion.
	Table string `yaml:"table,omitempty"`

	// Count is the expected count of log_count and table_count.
	Count *int64 `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertNode        = "node"
	AssertEdge        = "edge"
	AssertHistory     = "history"
	AssertTransaction = "transaction"
	AssertLogCount    = "log_count"
	AssertTableCount  = "table_count"
)

var errorCodes = []string{
	string(model.ErrCodeSchemaViolation),
	string(model.ErrCodeConflict),
	string(model.ErrCodeSessionClosed),
	string(model.ErrCodeStorageFailure),
	string(model.ErrCodeNotFound),
	"ERROR",
}

// LoadScenario reads and parses a scenario YAML file. The dictionary path
// is resolved relative to the file.
//
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Dictionary != "" && !filepath.IsAbs(scenario.Dictionary) {
		scenario.Dictionary = filepath.Join(filepath.Dir(path), scenario.Dictionary)
	}
	if _, err := os.Stat(scenario.Dictionary); err != nil {
		return nil, fmt.Errorf("invalid scenario: dictionary not found: %s", scenario.Dictionary)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Dictionary == "" {
		return fmt.Errorf("dictionary is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Actor != nil && s.Actor.Username == "" {
		return fmt.Errorf("actor: username is required")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step based on its operation.
func validateStep(index int, st *Step) error {
	if st.Session == "" {
		return fmt.Errorf("steps[%d]: session is required", index)
	}

	switch st.Op {
	case OpBegin, OpCommit, OpAbort:
	case OpUpsertNode, OpDeleteNode:
		if st.Label == "" || st.ID == "" {
			return fmt.Errorf("steps[%d]: label and id are required for %s", index, st.Op)
		}
	case OpUpsertEdge, OpDeleteEdge:
		if st.Label == "" || st.Src == "" || st.Dst == "" {
			return fmt.Errorf("steps[%d]: label, src and dst are required for %s", index, st.Op)
		}
	case OpAttach:
		if st.Document == nil {
			return fmt.Errorf("steps[%d]: document is required for attach", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	if st.Expect != nil && st.Expect.Error != "" && !slices.Contains(errorCodes, st.Expect.Error) {
		return fmt.Errorf("steps[%d].expect: unknown error code %q", index, st.Expect.Error)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertNode:
		if a.Label == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: label and id are required for node", index)
		}
	case AssertEdge:
		if a.Label == "" || a.Src == "" || a.Dst == "" {
			return fmt.Errorf("assertions[%d]: label, src and dst are required for edge", index)
		}
	case AssertHistory:
		if a.Label == "" || (a.ID == "" && (a.Src == "" || a.Dst == "")) {
			return fmt.Errorf("assertions[%d]: label and id (or src and dst) are required for history", index)
		}
		if len(a.Kinds) > 0 && len(a.Kinds) != len(a.Versions) {
			return fmt.Errorf("assertions[%d]: kinds must match versions in length", index)
		}
	case AssertTransaction:
		if a.Session == "" {
			return fmt.Errorf("assertions[%d]: session is required for transaction", index)
		}
	case AssertLogCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for log_count", index)
		}
	case AssertTableCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for table_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for table_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
