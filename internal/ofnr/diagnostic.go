package ofnr

import "sync"

// Action is what a stage did with one piece of content.
type Action string

const (
	ActionPass         Action = "PASS"
	ActionRewritten    Action = "REWRITTEN"
	ActionRejected     Action = "REJECTED"
	ActionReclassified Action = "RECLASSIFIED"
)

// Actions lists every Action in reporting order.
var Actions = []Action{ActionPass, ActionRewritten, ActionRejected, ActionReclassified}

// Stage names used in diagnostics.
const (
	StageSanitize = "sanitize"
	StageClassify = "classify"
	StageNeeds    = "needs"
	StageRequests = "requests"
	StageAssemble = "assemble"
)

// Diagnostic records one decision made about one span of content.
type Diagnostic struct {
	Stage       string  `json:"stage" validate:"required"`
	Field       Field   `json:"field" validate:"required"`
	Original    string  `json:"original"`
	Action      Action  `json:"action" validate:"required,oneof=PASS REWRITTEN REJECTED RECLASSIFIED" jsonschema:"enum=PASS,enum=REWRITTEN,enum=REJECTED,enum=RECLASSIFIED"`
	Replacement *string `json:"replacement,omitempty"`
	Reason      string  `json:"reason"`
}

// Replaced returns a pointer to s for Diagnostic.Replacement.
func Replaced(s string) *string {
	return &s
}

// Trail is an append-only diagnostic list. Appended entries are copied in
// and never handed out by reference.
type Trail struct {
	mu      sync.Mutex
	entries []Diagnostic
}

// Add appends diagnostics to the trail.
func (t *Trail) Add(d ...Diagnostic) {
	if len(d) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range d {
		if e.Replacement != nil {
			r := *e.Replacement
			e.Replacement = &r
		}
		t.entries = append(t.entries, e)
	}
}

// Len returns the number of recorded diagnostics.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a copy of the recorded diagnostics in append order.
func (t *Trail) Entries() []Diagnostic {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Diagnostic, len(t.entries))
	for i, e := range t.entries {
		if e.Replacement != nil {
			r := *e.Replacement
			e.Replacement = &r
		}
		out[i] = e
	}
	return out
}

// Counts tallies diagnostics per action. Every action is present in the map.
func (t *Trail) Counts() map[Action]int {
	out := make(map[Action]int, len(Actions))
	for _, a := range Actions {
		out[a] = 0
	}
	for _, e := range t.Entries() {
		out[e.Action]++
	}
	return out
}
