package scoring

import (
	"fmt"
	"sort"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// maxSecondaryReasons caps the secondary reasons after the primary one.
const maxSecondaryReasons = 2

// Explanation is frozen into a proposal at creation, rescore and override.
type Explanation struct {
	Summary      string              `json:"summary"`
	Reasons      []store.Reason      `json:"reasons"`
	Alternatives []store.Alternative `json:"alternatives"`
}

// Explain builds the summary, reasons and alternatives for chosen against the
// ranked field. chosen need not be ranked first (manager override).
func Explain(chosen Result, ranked []Result, topN int) Explanation {
	exp := Explanation{
		Reasons:      Reasons(chosen.Breakdown),
		Alternatives: Alternatives(chosen, ranked, topN),
	}

	name := chosen.AgentName
	if name == "" {
		name = chosen.AgentID
	}
	if len(exp.Reasons) == 0 {
		exp.Summary = fmt.Sprintf("%s selected by tie-break; no KPIs contributed to the score", name)
		return exp
	}
	primary := exp.Reasons[0]
	exp.Summary = fmt.Sprintf("%s recommended with score %.1f; strongest factor: %s (%.1f pts)",
		name, chosen.Score, primary.Key.Label(), primary.Contribution)
	return exp
}

// Reasons returns the highest-contributing KPI as primary plus up to two
// secondary reasons. Equal contributions keep breakdown order.
func Reasons(b store.ScoreBreakdown) []store.Reason {
	entries := make([]store.BreakdownEntry, 0, len(b.Entries))
	for _, e := range b.Entries {
		if e.Weight > 0 {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Contribution() > entries[j].Contribution()
	})
	if len(entries) > maxSecondaryReasons+1 {
		entries = entries[:maxSecondaryReasons+1]
	}

	reasons := make([]store.Reason, 0, len(entries))
	for i, e := range entries {
		reasons = append(reasons, store.Reason{
			Key:          e.Key,
			Category:     e.Category,
			Value:        e.Contribution(),
			RawScore:     e.RawScore,
			Contribution: e.Contribution(),
			IsWeighted:   true,
			Primary:      i == 0,
		})
	}
	return reasons
}

// Alternatives lists up to topN other ranked agents with their gap to chosen.
func Alternatives(chosen Result, ranked []Result, topN int) []store.Alternative {
	out := []store.Alternative{}
	for _, r := range ranked {
		if len(out) >= topN {
			break
		}
		if r.AgentID == chosen.AgentID {
			continue
		}
		out = append(out, store.Alternative{
			AgentID:         r.AgentID,
			AgentName:       r.AgentName,
			Score:           r.Score,
			ScoreDifference: chosen.Score - r.Score,
		})
	}
	return out
}
