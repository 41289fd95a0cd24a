package scoring

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/LeadRouter/internal/apperr"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
	"github.com/MikeSquared-Agency/LeadRouter/internal/validate"
)

// MaxWeightBudget is the ceiling for the sum of enabled weights.
const MaxWeightBudget = 100.0

const weightTolerance = 1e-9

// MissingMapping names an enabled KPI whose CRM field is not mapped.
type MissingMapping struct {
	KPI   store.KPIKey `json:"kpi"`
	Field string       `json:"field"`
}

// ValidateWeights checks per-KPI ranges and the enabled budget. Enabled
// weights may sum to less than 100; the remainder is left unscored.
func ValidateWeights(cfg *store.KPIConfig) error {
	fieldErrs, err := validate.Struct(cfg)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "validate kpi config", err)
	}
	if len(fieldErrs) > 0 {
		return apperr.Configuration("invalid kpi config: " + validate.Summary(fieldErrs)).WithDetails(fieldErrs)
	}
	if sum := cfg.EnabledWeight(); sum > MaxWeightBudget+weightTolerance {
		return apperr.Configuration(fmt.Sprintf("enabled weights sum to %.2f, must not exceed %.0f", sum, MaxWeightBudget))
	}
	return nil
}

// ValidateConfig runs the weight checks and then verifies that every enabled
// KPI has the field mappings it reads. Runs refuse to start on failure.
func ValidateConfig(cfg *store.KPIConfig) error {
	if err := ValidateWeights(cfg); err != nil {
		return err
	}
	var missing []MissingMapping
	for _, k := range cfg.EnabledKPIs() {
		for _, field := range store.RequiredMappings(k) {
			if strings.TrimSpace(cfg.FieldMapping[field]) == "" {
				missing = append(missing, MissingMapping{KPI: k, Field: field})
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, len(missing))
	for i, m := range missing {
		names[i] = string(m.KPI) + "." + m.Field
	}
	return apperr.Configuration("enabled KPIs are missing field mappings: " + strings.Join(names, ", ")).WithDetails(missing)
}

// Aggregate combines enabled KPI scores into the composite and breakdown.
// Disabled KPIs are dropped; no re-normalization happens.
func Aggregate(cfg *store.KPIConfig, scores []store.KPIScore) (float64, store.ScoreBreakdown) {
	byKey := make(map[store.KPIKey]store.KPIScore, len(scores))
	for _, s := range scores {
		byKey[s.Key] = s
	}

	breakdown := store.ScoreBreakdown{Version: store.KPIConfigVersion}
	var total float64
	for _, k := range cfg.EnabledKPIs() {
		s, ok := byKey[k]
		if !ok {
			continue
		}
		entry := store.BreakdownEntry{
			Key:      k,
			Category: k.Category(),
			RawScore: s.RawScore,
			Weight:   cfg.Setting(k).Weight,
			RawValue: s.RawValue,
			HasData:  s.HasData,
			Reason:   s.Reason,
		}
		breakdown.Entries = append(breakdown.Entries, entry)
		total += entry.Contribution()
	}
	return total, breakdown
}

// DefaultKPIConfig enables every KPI with a budget of exactly 100 and maps
// each required field to the connector's normalized name.
func DefaultKPIConfig() store.KPIConfig {
	on := func(w float64) store.KPISetting { return store.KPISetting{Enabled: true, Weight: w} }
	return store.KPIConfig{
		Version:           store.KPIConfigVersion,
		Domain:            store.DomainKPI{KPISetting: on(20), MinSampleSize: 5},
		Conversion:        store.ConversionKPI{KPISetting: on(15)},
		RecentPerformance: store.RecentPerformanceKPI{KPISetting: on(10), WindowDays: defaultRecentWindowDays},
		DealSize:          store.DealSizeKPI{KPISetting: on(10)},
		HotStreak:         store.HotStreakKPI{KPISetting: on(5), WindowDays: defaultHotStreakDays, MinWins: defaultHotStreakMinWins},
		ResponseSpeed:     store.ResponseSpeedKPI{KPISetting: on(10), TargetHours: defaultTargetHours, MaxHours: defaultMaxHours},
		Burnout:           store.BurnoutKPI{KPISetting: on(5), WinDecayDays: defaultWinDecayDays, ActivityDecayDays: defaultActivityDecayDays},
		Availability:      store.AvailabilityKPI{KPISetting: on(15), RampStart: defaultRampStart},
		Workload:          store.WorkloadKPI{KPISetting: on(10), DailyThreshold: defaultDailyThreshold},
		FieldMapping: map[string]string{
			"industry":      "industry",
			"status":        "status",
			"deal_amount":   "deal_amount",
			"contacted_at":  "contacted_at",
			"next_call_at":  "next_call_at",
			"last_activity": "last_activity_at",
		},
	}
}
