package hermes

import "strings"

const (
	// SubjectLeadChanged is published by the CRM connector when mapped lead
	// fields change; tokens are tenant and lead ID.
	SubjectLeadChanged = "crm.lead.*.*.changed"

	SubjectRoutingStats = "leadrouter.routing.stats"

	StreamName   = "LEADROUTER_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

func SubjectProposalCreated(id string) string  { return "leadrouter.proposal." + id + ".created" }
func SubjectProposalRescored(id string) string { return "leadrouter.proposal." + id + ".rescored" }
func SubjectProposalApproved(id string) string { return "leadrouter.proposal." + id + ".approved" }
func SubjectProposalApplied(id string) string  { return "leadrouter.proposal." + id + ".applied" }
func SubjectProposalRejected(id string) string { return "leadrouter.proposal." + id + ".rejected" }
func SubjectProposalOverridden(id string) string {
	return "leadrouter.proposal." + id + ".overridden"
}
func SubjectProposalWriteBackFailed(id string) string {
	return "leadrouter.proposal." + id + ".writeback_failed"
}

func SubjectLeadUnmatched(leadID string) string { return "leadrouter.lead." + leadID + ".unmatched" }

// SubjectLeadChangedFor is the concrete subject the connector publishes on.
func SubjectLeadChangedFor(tenant, leadID string) string {
	return "crm.lead." + tenant + "." + leadID + ".changed"
}

// ParseLeadChangedSubject extracts tenant and lead ID from a lead-changed subject.
func ParseLeadChangedSubject(subject string) (tenant, leadID string, ok bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 5 || parts[0] != "crm" || parts[1] != "lead" || parts[4] != "changed" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
