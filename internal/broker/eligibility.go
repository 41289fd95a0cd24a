package broker

import (
	"github.com/MikeSquared-Agency/LeadRouter/internal/capacity"
	"github.com/MikeSquared-Agency/LeadRouter/internal/scoring"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// Exclusion reasons.
const (
	ReasonUnavailable      = "unavailable"
	ReasonManuallyExcluded = "manually excluded"
)

// Exclusion records why an agent was not considered for a lead.
type Exclusion struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Reason    string `json:"reason"`
}

// Filter splits candidates into eligible and excluded, preserving input
// order. An agent is excluded when it is unavailable in the snapshot,
// manually excluded, or at any configured capacity limit.
func Filter(candidates []scoring.Candidate, limits store.CapacitySettings) ([]scoring.Candidate, []Exclusion) {
	eligible := make([]scoring.Candidate, 0, len(candidates))
	var excluded []Exclusion
	for _, c := range candidates {
		if reason, ok := exclusionReason(c, limits); ok {
			excluded = append(excluded, Exclusion{AgentID: c.Agent.ID, AgentName: c.Agent.Name, Reason: reason})
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible, excluded
}

func exclusionReason(c scoring.Candidate, limits store.CapacitySettings) (string, bool) {
	switch {
	case !c.Agent.Available:
		return ReasonUnavailable, true
	case c.Excluded:
		return ReasonManuallyExcluded, true
	}
	if over, reason := capacity.AtCapacity(c.Counts, limits); over {
		return reason, true
	}
	return "", false
}
