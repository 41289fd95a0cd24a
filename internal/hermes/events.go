package hermes

import "time"

type ProposalEvent struct {
	ProposalID string  `json:"proposal_id"`
	Tenant     string  `json:"tenant"`
	LeadID     string  `json:"lead_id"`
	Status     string  `json:"status"`
	AgentID    string  `json:"agent_id"`
	Score      float64 `json:"score"`
	Version    int     `json:"version"`
	Actor      string  `json:"actor,omitempty"`
}

type ProposalOverriddenEvent struct {
	ProposalEvent
	OriginalAgentID string `json:"original_agent_id"`
}

type ProposalWriteBackFailedEvent struct {
	ProposalEvent
	Error string `json:"error"`
}

type LeadUnmatchedEvent struct {
	Tenant   string   `json:"tenant"`
	LeadID   string   `json:"lead_id"`
	Reason   string   `json:"reason"`
	Excluded []string `json:"excluded_agents,omitempty"`
}

// LeadChangedEvent is consumed from the CRM connector.
type LeadChangedEvent struct {
	Tenant    string    `json:"tenant"`
	LeadID    string    `json:"lead_id"`
	Fields    []string  `json:"fields,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type StatsEvent struct {
	Tenant    string    `json:"tenant"`
	Pending   int       `json:"pending"`
	Approved  int       `json:"approved"`
	Applied   int       `json:"applied"`
	Rejected  int       `json:"rejected"`
	Rescored  int       `json:"rescored"`
	Timestamp time.Time `json:"timestamp"`
}
