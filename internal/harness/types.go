package harness

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step          int    `json:"step"`
	Session       string `json:"session"`
	TransactionID string `json:"transaction_id"`
	Op            string `json:"op"`
	Ref           string `json:"ref,omitempty"`
	Version       int64  `json:"version,omitempty"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`

	// Seq and Changes are set by a successful commit.
	Seq     int64    `json:"seq,omitempty"`
	Changes []string `json:"changes,omitempty"`

	// Discarded is set by abort.
	Discarded int `json:"discarded,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Tables holds the final row count of every table.
	Tables map[string]int64 `json:"tables,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Tables: make(map[string]int64),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}
