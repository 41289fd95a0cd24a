package proposal

import (
	"sort"
	"time"

	"github.com/MikeSquared-Agency/LeadRouter/internal/scoring"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// Evaluation is one pipeline pass over a single lead.
type Evaluation struct {
	Tenant string
	Lead   *store.Lead
	// Ranked holds the eligible agents, best first.
	Ranked []scoring.Result
	// Ineligible holds agents that were filtered out but still scored; only
	// overrides may pick them.
	Ineligible  []scoring.Result
	TopN        int
	EvaluatedAt time.Time
}

// Winner returns the top-ranked eligible agent.
func (e *Evaluation) Winner() (scoring.Result, bool) {
	if e == nil || len(e.Ranked) == 0 {
		return scoring.Result{}, false
	}
	return e.Ranked[0], true
}

// Result finds the scored result for an agent, eligible or not.
func (e *Evaluation) Result(agentID string) (scoring.Result, bool) {
	for _, r := range e.Ranked {
		if r.AgentID == agentID {
			return r, true
		}
	}
	for _, r := range e.Ineligible {
		if r.AgentID == agentID {
			return r, true
		}
	}
	return scoring.Result{}, false
}

// Diff lists the mapped fields whose values differ between two snapshots,
// sorted by field name.
func Diff(before, after map[string]string) []store.FieldChange {
	var changes []store.FieldChange
	for field, nv := range after {
		if ov := before[field]; ov != nv {
			changes = append(changes, store.FieldChange{Field: field, Old: ov, New: nv})
		}
	}
	for field, ov := range before {
		if _, ok := after[field]; !ok {
			changes = append(changes, store.FieldChange{Field: field, Old: ov})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}
