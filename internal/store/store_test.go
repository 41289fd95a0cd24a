package store

import (
	"encoding/json"
	"math"
	"testing"
)

func TestProposalStatusValues(t *testing.T) {
	statuses := []ProposalStatus{StatusPending, StatusApproved, StatusApplied, StatusRejected}
	expected := []string{"PENDING", "APPROVED", "APPLIED", "REJECTED"}
	for i, s := range statuses {
		if string(s) != expected[i] {
			t.Errorf("expected %s, got %s", expected[i], s)
		}
	}
}

func TestParseProposalStatusAlias(t *testing.T) {
	tests := map[string]ProposalStatus{
		"PROPOSED": StatusPending,
		"proposed": StatusPending,
		"pending":  StatusPending,
		"Applied":  StatusApplied,
	}
	for in, want := range tests {
		got, err := ParseProposalStatus(in)
		if err != nil {
			t.Fatalf("ParseProposalStatus(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseProposalStatus(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseProposalStatus("DONE"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestStatusOpenTerminal(t *testing.T) {
	if !StatusPending.Open() || !StatusApproved.Open() {
		t.Error("PENDING and APPROVED should be open")
	}
	if StatusApplied.Open() || StatusRejected.Open() {
		t.Error("APPLIED and REJECTED should not be open")
	}
	if !StatusApplied.Terminal() || !StatusRejected.Terminal() {
		t.Error("APPLIED and REJECTED should be terminal")
	}
}

func TestBreakdownContributionDerived(t *testing.T) {
	b := ScoreBreakdown{Version: KPIConfigVersion, Entries: []BreakdownEntry{
		{Key: KPIDomain, RawScore: 80, Weight: 30},
		{Key: KPIWorkload, RawScore: 50, Weight: 20},
	}}
	if got := b.Total(); math.Abs(got-34) > 1e-9 {
		t.Errorf("expected total 34, got %v", got)
	}

	data, err := json.Marshal(b.Entries[0])
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["contribution_points"] != 24.0 {
		t.Errorf("expected contribution_points 24, got %v", m["contribution_points"])
	}
	if m["raw_score"] != 80.0 || m["weight"] != 30.0 {
		t.Errorf("expected raw_score and weight to be persisted, got %v", m)
	}
}

func TestKPIConfigEnabledWeight(t *testing.T) {
	var cfg KPIConfig
	cfg.Domain.Enabled, cfg.Domain.Weight = true, 40
	cfg.Workload.Enabled, cfg.Workload.Weight = true, 30
	cfg.Burnout.Weight = 30

	if got := cfg.EnabledWeight(); got != 70 {
		t.Errorf("expected enabled weight 70, got %v", got)
	}
	keys := cfg.EnabledKPIs()
	if len(keys) != 2 || keys[0] != KPIDomain || keys[1] != KPIWorkload {
		t.Errorf("unexpected enabled keys: %v", keys)
	}
}

func TestKPIConfigEmbeddedSettingJSON(t *testing.T) {
	var cfg KPIConfig
	data := []byte(`{"domain":{"enabled":true,"weight":25,"min_sample_size":5}}`)
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatal(err)
	}
	if !cfg.Domain.Enabled || cfg.Domain.Weight != 25 || cfg.Domain.MinSampleSize != 5 {
		t.Errorf("embedded setting not decoded: %+v", cfg.Domain)
	}
}

func TestAgentAvailableDefault(t *testing.T) {
	var a Agent
	if err := json.Unmarshal([]byte(`{"id":"a1","name":"Ann"}`), &a); err != nil {
		t.Fatal(err)
	}
	if !a.Available {
		t.Error("expected agent to default to available")
	}
	if err := json.Unmarshal([]byte(`{"id":"a1","available":false}`), &a); err != nil {
		t.Fatal(err)
	}
	if a.Available {
		t.Error("expected explicit false to be kept")
	}
}

func TestLeadMappedFields(t *testing.T) {
	amount := 1250.5
	l := Lead{BoardID: "b1", Industry: "Solar", Status: "new", DealAmount: &amount}
	f := l.MappedFields()
	if f["deal_amount"] != "1250.5" || f["industry"] != "Solar" || f["board_id"] != "b1" {
		t.Errorf("unexpected mapped fields: %v", f)
	}
}
