package scoring

import (
	"log/slog"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// Result is the complete scoring output for a single lead–agent pair.
type Result struct {
	AgentID   string               `json:"agent_id"`
	AgentName string               `json:"agent_name"`
	Workload  int                  `json:"workload"`
	Score     float64              `json:"score"`
	Breakdown store.ScoreBreakdown `json:"breakdown"`
}

// Scorer runs the enabled KPI scorers and the weight aggregator.
type Scorer struct {
	logger *slog.Logger
}

func NewScorer(logger *slog.Logger) *Scorer {
	return &Scorer{logger: logger}
}

// ScoreCandidate computes the composite score for one lead–agent pair. Only
// enabled KPIs are evaluated.
func (s *Scorer) ScoreCandidate(sc *ScoringContext) Result {
	agent := sc.Candidate.Agent
	keys := sc.Config.EnabledKPIs()
	scores := make([]store.KPIScore, 0, len(keys))
	for _, k := range keys {
		scores = append(scores, s.run(k, sc))
	}

	total, breakdown := Aggregate(sc.Config, scores)
	return Result{
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Workload:  agent.OpenAssignments,
		Score:     total,
		Breakdown: breakdown,
	}
}

// run invokes one scorer, turning a panic into the neutral score.
func (s *Scorer) run(k store.KPIKey, sc *ScoringContext) (out store.KPIScore) {
	f, ok := ScorerFor(k)
	if !ok {
		return neutral(k, "unknown kpi")
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("kpi scorer panicked", "kpi", k, "agent_id", sc.Candidate.Agent.ID, "panic", r)
			out = neutral(k, "scorer failed")
		}
	}()
	return f(sc)
}
