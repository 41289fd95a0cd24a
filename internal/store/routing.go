package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// --- Snapshot types (owned by the CRM, read-only here) ---

type Lead struct {
	ID              string    `json:"id"`
	Tenant          string    `json:"tenant"`
	BoardID         string    `json:"board_id"`
	Industry        string    `json:"industry,omitempty"`
	DealAmount      *float64  `json:"deal_amount,omitempty"`
	Status          string    `json:"status"`
	AssignedAgentID string    `json:"assigned_agent_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Unassigned reports whether the lead still needs an agent.
func (l *Lead) Unassigned() bool {
	return l.AssignedAgentID == ""
}

// MappedFields returns the routing-relevant fields used for change diffs.
func (l *Lead) MappedFields() map[string]string {
	fields := map[string]string{
		"board_id":    l.BoardID,
		"industry":    l.Industry,
		"status":      l.Status,
		"deal_amount": "",
	}
	if l.DealAmount != nil {
		fields["deal_amount"] = strconv.FormatFloat(*l.DealAmount, 'f', -1, 64)
	}
	return fields
}

// IndustryStats is an agent's track record inside one industry.
type IndustryStats struct {
	ConversionRate float64 `json:"conversion_rate"`
	AvgDealSize    float64 `json:"avg_deal_size"`
	SampleSize     int     `json:"sample_size"`
}

// Outcome is one lead previously assigned to an agent.
type Outcome struct {
	LeadID      string     `json:"lead_id"`
	Industry    string     `json:"industry,omitempty"`
	AssignedAt  time.Time  `json:"assigned_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Won         bool       `json:"won"`
	DealAmount  *float64   `json:"deal_amount,omitempty"`
	ContactedAt *time.Time `json:"contacted_at,omitempty"`
	NextCallAt  *time.Time `json:"next_call_at,omitempty"`
}

type Agent struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	Available       bool                     `json:"available"`
	OpenAssignments int                      `json:"open_assignments"`
	LastActivityAt  *time.Time               `json:"last_activity_at,omitempty"`
	Expertise       map[string]IndustryStats `json:"expertise,omitempty"`
	History         []Outcome                `json:"history,omitempty"`
}

// UnmarshalJSON defaults Available to true when the CRM omits it.
func (a *Agent) UnmarshalJSON(data []byte) error {
	type alias Agent
	aux := alias{Available: true}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = Agent(aux)
	return nil
}

// IndustryKey normalizes an industry tag for lookups.
func IndustryKey(industry string) string {
	return strings.ToLower(strings.TrimSpace(industry))
}

// --- KPI configuration ---

// KPIKey is the closed set of routing factors. New keys are additive;
// bump KPIConfigVersion when adding one.
type KPIKey string

const (
	KPIDomain            KPIKey = "domain"
	KPIConversion        KPIKey = "conversion"
	KPIRecentPerformance KPIKey = "recent_performance"
	KPIDealSize          KPIKey = "deal_size"
	KPIHotStreak         KPIKey = "hot_streak"
	KPIResponseSpeed     KPIKey = "response_speed"
	KPIBurnout           KPIKey = "burnout"
	KPIAvailability      KPIKey = "availability"
	KPIWorkload          KPIKey = "workload"
)

const KPIConfigVersion = 1

// AllKPIs is the canonical evaluation and breakdown order.
var AllKPIs = []KPIKey{
	KPIDomain,
	KPIConversion,
	KPIRecentPerformance,
	KPIDealSize,
	KPIHotStreak,
	KPIResponseSpeed,
	KPIBurnout,
	KPIAvailability,
	KPIWorkload,
}

// Category groups KPIs for explanations.
func (k KPIKey) Category() string {
	switch k {
	case KPIDomain:
		return "expertise"
	case KPIConversion, KPIRecentPerformance, KPIDealSize:
		return "performance"
	case KPIHotStreak:
		return "momentum"
	case KPIResponseSpeed, KPIBurnout:
		return "engagement"
	case KPIAvailability, KPIWorkload:
		return "capacity"
	default:
		return "other"
	}
}

// Label is the human-readable KPI name.
func (k KPIKey) Label() string {
	switch k {
	case KPIDomain:
		return "industry expertise"
	case KPIConversion:
		return "conversion rate"
	case KPIRecentPerformance:
		return "recent performance"
	case KPIDealSize:
		return "average deal size"
	case KPIHotStreak:
		return "hot streak"
	case KPIResponseSpeed:
		return "response speed"
	case KPIBurnout:
		return "recent activity"
	case KPIAvailability:
		return "availability"
	case KPIWorkload:
		return "workload"
	default:
		return string(k)
	}
}

var requiredMappings = map[KPIKey][]string{
	KPIDomain:            {"industry", "status"},
	KPIConversion:        {"status"},
	KPIRecentPerformance: {"status"},
	KPIDealSize:          {"status", "deal_amount"},
	KPIHotStreak:         {"status"},
	KPIResponseSpeed:     {"contacted_at", "next_call_at"},
	KPIBurnout:           {"status", "last_activity"},
}

// RequiredMappings lists the CRM field mappings a KPI needs.
func RequiredMappings(k KPIKey) []string {
	return requiredMappings[k]
}

type KPISetting struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Weight  float64 `yaml:"weight" json:"weight" validate:"gte=0,lte=100"`
}

type DomainKPI struct {
	KPISetting    `yaml:",inline"`
	MinSampleSize int `yaml:"min_sample_size" json:"min_sample_size" validate:"gte=0"`
}

type ConversionKPI struct {
	KPISetting `yaml:",inline"`
}

type RecentPerformanceKPI struct {
	KPISetting `yaml:",inline"`
	WindowDays int `yaml:"window_days" json:"window_days" validate:"gte=0"`
}

type DealSizeKPI struct {
	KPISetting `yaml:",inline"`
}

type HotStreakKPI struct {
	KPISetting `yaml:",inline"`
	WindowDays int `yaml:"window_days" json:"window_days" validate:"gte=0"`
	MinWins    int `yaml:"min_wins" json:"min_wins" validate:"gte=0"`
}

type ResponseSpeedKPI struct {
	KPISetting  `yaml:",inline"`
	TargetHours float64 `yaml:"target_hours" json:"target_hours" validate:"gte=0"`
	MaxHours    float64 `yaml:"max_hours" json:"max_hours" validate:"gte=0"`
}

type BurnoutKPI struct {
	KPISetting        `yaml:",inline"`
	WinDecayDays      int `yaml:"win_decay_days" json:"win_decay_days" validate:"gte=0"`
	ActivityDecayDays int `yaml:"activity_decay_days" json:"activity_decay_days" validate:"gte=0"`
}

type AvailabilityKPI struct {
	KPISetting `yaml:",inline"`
	RampStart  float64 `yaml:"ramp_start" json:"ramp_start" validate:"gte=0,lte=1"`
}

type WorkloadKPI struct {
	KPISetting     `yaml:",inline"`
	DailyThreshold int `yaml:"daily_threshold" json:"daily_threshold" validate:"gte=0"`
}

// KPIConfig is the per-tenant scoring configuration. Weights are absolute
// points out of 100; disabled KPIs leave their weight unscored.
type KPIConfig struct {
	Version           int                  `yaml:"version" json:"version"`
	Domain            DomainKPI            `yaml:"domain" json:"domain"`
	Conversion        ConversionKPI        `yaml:"conversion" json:"conversion"`
	RecentPerformance RecentPerformanceKPI `yaml:"recent_performance" json:"recent_performance"`
	DealSize          DealSizeKPI          `yaml:"deal_size" json:"deal_size"`
	HotStreak         HotStreakKPI         `yaml:"hot_streak" json:"hot_streak"`
	ResponseSpeed     ResponseSpeedKPI     `yaml:"response_speed" json:"response_speed"`
	Burnout           BurnoutKPI           `yaml:"burnout" json:"burnout"`
	Availability      AvailabilityKPI      `yaml:"availability" json:"availability"`
	Workload          WorkloadKPI          `yaml:"workload" json:"workload"`
	FieldMapping      map[string]string    `yaml:"field_mapping" json:"field_mapping,omitempty"`
}

// Setting returns the enabled flag and weight of a KPI.
func (c *KPIConfig) Setting(k KPIKey) KPISetting {
	switch k {
	case KPIDomain:
		return c.Domain.KPISetting
	case KPIConversion:
		return c.Conversion.KPISetting
	case KPIRecentPerformance:
		return c.RecentPerformance.KPISetting
	case KPIDealSize:
		return c.DealSize.KPISetting
	case KPIHotStreak:
		return c.HotStreak.KPISetting
	case KPIResponseSpeed:
		return c.ResponseSpeed.KPISetting
	case KPIBurnout:
		return c.Burnout.KPISetting
	case KPIAvailability:
		return c.Availability.KPISetting
	case KPIWorkload:
		return c.Workload.KPISetting
	}
	return KPISetting{}
}

// EnabledKPIs returns enabled keys in canonical order.
func (c *KPIConfig) EnabledKPIs() []KPIKey {
	var out []KPIKey
	for _, k := range AllKPIs {
		if c.Setting(k).Enabled {
			out = append(out, k)
		}
	}
	return out
}

// EnabledWeight is the sum of enabled weights.
func (c *KPIConfig) EnabledWeight() float64 {
	var sum float64
	for _, k := range c.EnabledKPIs() {
		sum += c.Setting(k).Weight
	}
	return sum
}

// CapacitySettings caps assignments per agent. Nil means unlimited.
type CapacitySettings struct {
	DailyLimit   *int `yaml:"daily_limit" json:"daily_limit" validate:"omitempty,gte=1"`
	WeeklyLimit  *int `yaml:"weekly_limit" json:"weekly_limit" validate:"omitempty,gte=1"`
	MonthlyLimit *int `yaml:"monthly_limit" json:"monthly_limit" validate:"omitempty,gte=1"`
}

// AssignmentCounts are an agent's applied assignments in the current buckets.
type AssignmentCounts struct {
	Daily   int `json:"daily_count"`
	Weekly  int `json:"weekly_count"`
	Monthly int `json:"monthly_count"`
}

// RoutingConfig is what the configuration store holds per tenant.
type RoutingConfig struct {
	Tenant    string           `json:"tenant"`
	KPI       KPIConfig        `json:"kpi"`
	Capacity  CapacitySettings `json:"capacity"`
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// --- Scoring output ---

// KPIScore is a single scorer's output.
type KPIScore struct {
	Key      KPIKey   `json:"key"`
	RawScore float64  `json:"raw_score"`
	RawValue *float64 `json:"raw_value,omitempty"`
	HasData  bool     `json:"has_data"`
	Reason   string   `json:"reason"`
}

// BreakdownEntry stores the raw score and weight; contribution is derived.
type BreakdownEntry struct {
	Key      KPIKey   `json:"key"`
	Category string   `json:"category"`
	RawScore float64  `json:"raw_score"`
	Weight   float64  `json:"weight"`
	RawValue *float64 `json:"raw_value,omitempty"`
	HasData  bool     `json:"has_data"`
	Reason   string   `json:"reason,omitempty"`
}

// Contribution is the weighted points this KPI adds to the composite.
func (e BreakdownEntry) Contribution() float64 {
	return e.RawScore * e.Weight / 100
}

func (e BreakdownEntry) MarshalJSON() ([]byte, error) {
	type alias BreakdownEntry
	return json.Marshal(struct {
		alias
		ContributionPoints float64 `json:"contribution_points"`
	}{alias: alias(e), ContributionPoints: e.Contribution()})
}

type ScoreBreakdown struct {
	Version int              `json:"version"`
	Entries []BreakdownEntry `json:"entries"`
}

// Total is the sum of contributions, equal to the composite score.
func (b ScoreBreakdown) Total() float64 {
	var total float64
	for _, e := range b.Entries {
		total += e.Contribution()
	}
	return total
}

func (b ScoreBreakdown) Entry(k KPIKey) (BreakdownEntry, bool) {
	for _, e := range b.Entries {
		if e.Key == k {
			return e, true
		}
	}
	return BreakdownEntry{}, false
}

// Reason is one explanation line. IsWeighted distinguishes contribution
// points from a raw 0-100 metric score in Value.
type Reason struct {
	Key          KPIKey  `json:"key"`
	Category     string  `json:"category"`
	Value        float64 `json:"value"`
	RawScore     float64 `json:"raw_score"`
	Contribution float64 `json:"contribution_points"`
	IsWeighted   bool    `json:"is_weighted"`
	Primary      bool    `json:"primary"`
}

type Alternative struct {
	AgentID         string  `json:"agent_id"`
	AgentName       string  `json:"agent_name"`
	Score           float64 `json:"score"`
	ScoreDifference float64 `json:"score_difference"`
}

type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}
