package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// NeutralScore is returned for missing or unmappable inputs.
const NeutralScore = 50.0

// Fallbacks for zero-valued KPI settings.
const (
	defaultRecentWindowDays  = 30
	defaultHotStreakDays     = 14
	defaultHotStreakMinWins  = 3
	defaultTargetHours       = 4.0
	defaultMaxHours          = 48.0
	defaultWinDecayDays      = 30
	defaultActivityDecayDays = 14
	defaultRampStart         = 0.8
	defaultDailyThreshold    = 10
)

// Candidate is one agent with the tracker state the scorers need.
type Candidate struct {
	Agent  *store.Agent
	Counts store.AssignmentCounts
	// Excluded is the tracker's manual availability override.
	Excluded bool
}

// Unavailable reports the combined snapshot and manual availability flags.
func (c Candidate) Unavailable() bool {
	return c.Excluded || !c.Agent.Available
}

// ScoringContext bundles all inputs needed to score a single lead–agent pair.
type ScoringContext struct {
	Lead       *store.Lead
	Candidate  Candidate
	Config     *store.KPIConfig
	Limits     store.CapacitySettings
	Population *Population
	Now        time.Time
}

// ScorerFunc computes one KPI. Scorers are total and return values in [0, 100].
type ScorerFunc func(sc *ScoringContext) store.KPIScore

var scorers = map[store.KPIKey]ScorerFunc{
	store.KPIDomain:            DomainScore,
	store.KPIConversion:        ConversionScore,
	store.KPIRecentPerformance: RecentPerformanceScore,
	store.KPIDealSize:          DealSizeScore,
	store.KPIHotStreak:         HotStreakScore,
	store.KPIResponseSpeed:     ResponseSpeedScore,
	store.KPIBurnout:           BurnoutScore,
	store.KPIAvailability:      AvailabilityScore,
	store.KPIWorkload:          WorkloadScore,
}

// ScorerFor returns the scorer registered for a KPI key.
func ScorerFor(k store.KPIKey) (ScorerFunc, bool) {
	f, ok := scorers[k]
	return f, ok
}

func neutral(k store.KPIKey, reason string) store.KPIScore {
	return store.KPIScore{Key: k, RawScore: NeutralScore, HasData: false, Reason: reason}
}

func scored(k store.KPIKey, raw, value float64, reason string) store.KPIScore {
	v := value
	return store.KPIScore{Key: k, RawScore: clamp(raw, 0, 100), RawValue: &v, HasData: true, Reason: reason}
}

// --- Individual KPI scorers ---

// DomainScore rates the agent's record in the lead's industry, capped while
// the sample is below MinSampleSize.
func DomainScore(sc *ScoringContext) store.KPIScore {
	k := store.KPIDomain
	if sc.Lead.Industry == "" {
		return neutral(k, "lead has no industry")
	}
	stats, ok := expertiseFor(sc.Candidate.Agent, sc.Lead.Industry)
	if !ok || stats.SampleSize == 0 {
		return neutral(k, "no history in "+sc.Lead.Industry)
	}
	ip := sc.Population.Industries[store.IndustryKey(sc.Lead.Industry)]

	var convRatio, sampleRatio float64
	if ip.BestConversion > 0 {
		convRatio = stats.ConversionRate / ip.BestConversion
	}
	if ip.MaxSamples > 0 {
		sampleRatio = float64(stats.SampleSize) / float64(ip.MaxSamples)
	}
	raw := 100 * (0.7*convRatio + 0.3*sampleRatio)

	reason := fmt.Sprintf("%.0f%% conversion over %d %s leads", stats.ConversionRate*100, stats.SampleSize, sc.Lead.Industry)
	if min := sc.Config.Domain.MinSampleSize; min > 0 && stats.SampleSize < min {
		ceiling := 50 + 50*float64(stats.SampleSize)/float64(min)
		if raw > ceiling {
			raw = ceiling
			reason += fmt.Sprintf(" (capped, %d/%d samples)", stats.SampleSize, min)
		}
	}
	return scored(k, raw, stats.ConversionRate, reason)
}

// ConversionScore is all-time won/assigned against the population best.
func ConversionScore(sc *ScoringContext) store.KPIScore {
	k := store.KPIConversion
	rate, n := conversion(sc.Candidate.Agent)
	if n == 0 {
		return neutral(k, "no assigned leads")
	}
	return scored(k, ratio(rate, sc.Population.BestConversion), rate,
		fmt.Sprintf("%.0f%% won of %d assigned", rate*100, n))
}

// RecentPerformanceScore is the conversion ratio inside the rolling window.
func RecentPerformanceScore(sc *ScoringContext) store.KPIScore {
	k := store.KPIRecentPerformance
	window := recentWindow(sc.Config)
	rate, n := conversionSince(sc.Candidate.Agent, sc.Now.Add(-window))
	if n == 0 {
		return neutral(k, "no leads in window")
	}
	return scored(k, ratio(rate, sc.Population.BestRecentConversion), rate,
		fmt.Sprintf("%.0f%% won of %d in last %d days", rate*100, n, int(window.Hours()/24)))
}

// DealSizeScore is the mean won deal amount against the org-wide maximum.
func DealSizeScore(sc *ScoringContext) store.KPIScore {
	k := store.KPIDealSize
	avg, n := avgWonDeal(sc.Candidate.Agent)
	if n == 0 {
		return neutral(k, "no won deals with amounts")
	}
	return scored(k, ratio(avg, sc.Population.MaxAvgDeal), avg,
		fmt.Sprintf("average won deal %.2f over %d deals", avg, n))
}

// HotStreakScore boosts agents with MinWins wins inside the window, decaying
// linearly with the age of the MinWins-th most recent win.
func HotStreakScore(sc *ScoringContext) store.KPIScore {
	k := store.KPIHotStreak
	agent := sc.Candidate.Agent
	if len(agent.History) == 0 {
		return neutral(k, "no history")
	}
	days := sc.Config.HotStreak.WindowDays
	if days <= 0 {
		days = defaultHotStreakDays
	}
	minWins := sc.Config.HotStreak.MinWins
	if minWins <= 0 {
		minWins = defaultHotStreakMinWins
	}
	window := time.Duration(days) * 24 * time.Hour
	since := sc.Now.Add(-window)

	var recent []time.Time
	for _, t := range winTimes(agent) {
		if !t.Before(since) && !t.After(sc.Now) {
			recent = append(recent, t)
		}
	}
	if len(recent) < minWins {
		return scored(k, 0, float64(len(recent)), fmt.Sprintf("%d wins in last %d days", len(recent), days))
	}
	age := sc.Now.Sub(recent[minWins-1])
	raw := 100 * (1 - float64(age)/float64(window))
	return scored(k, raw, float64(len(recent)), fmt.Sprintf("%d wins in last %d days", len(recent), days))
}

// ResponseSpeedScore maps mean contacted-to-next-call hours onto a linear ramp.
func ResponseSpeedScore(sc *ScoringContext) store.KPIScore {
	k := store.KPIResponseSpeed
	hours, n := avgResponseHours(sc.Candidate.Agent)
	if n == 0 {
		return neutral(k, "no response timings")
	}
	target := sc.Config.ResponseSpeed.TargetHours
	if target <= 0 {
		target = defaultTargetHours
	}
	max := sc.Config.ResponseSpeed.MaxHours
	if max <= 0 {
		max = defaultMaxHours
	}
	reason := fmt.Sprintf("%.1fh average response", hours)

	switch {
	case hours <= target:
		return scored(k, 100, hours, reason)
	case max <= target || hours >= max:
		return scored(k, 0, hours, reason)
	default:
		return scored(k, 100*(max-hours)/(max-target), hours, reason)
	}
}

// BurnoutScore takes the lower of the win-recency and activity-recency curves.
func BurnoutScore(sc *ScoringContext) store.KPIScore {
	k := store.KPIBurnout
	agent := sc.Candidate.Agent

	winDays := sc.Config.Burnout.WinDecayDays
	if winDays <= 0 {
		winDays = defaultWinDecayDays
	}
	actDays := sc.Config.Burnout.ActivityDecayDays
	if actDays <= 0 {
		actDays = defaultActivityDecayDays
	}

	score := math.Inf(1)
	var parts []string
	var since float64
	if wins := winTimes(agent); len(wins) > 0 {
		d := daysBetween(wins[0], sc.Now)
		score = math.Min(score, 100*(1-d/float64(winDays)))
		since = d
		parts = append(parts, fmt.Sprintf("%.0fd since last win", d))
	}
	if last := lastActivity(agent); last != nil {
		d := daysBetween(*last, sc.Now)
		if c := 100 * (1 - d/float64(actDays)); c < score {
			score = c
			since = d
		}
		parts = append(parts, fmt.Sprintf("%.0fd since last activity", d))
	}
	if len(parts) == 0 {
		return neutral(k, "no win or activity dates")
	}
	reason := parts[0]
	if len(parts) > 1 {
		reason += ", " + parts[1]
	}
	return scored(k, score, since, reason)
}

// AvailabilityScore is 0 when excluded, otherwise the lowest limit ramp.
func AvailabilityScore(sc *ScoringContext) store.KPIScore {
	k := store.KPIAvailability
	if sc.Candidate.Unavailable() {
		return scored(k, 0, 1, "marked unavailable")
	}
	ramp := sc.Config.Availability.RampStart
	if ramp <= 0 || ramp >= 1 {
		ramp = defaultRampStart
	}

	c := sc.Candidate.Counts
	score := 100.0
	var peak float64
	for _, l := range []struct {
		count int
		limit *int
	}{
		{c.Daily, sc.Limits.DailyLimit},
		{c.Weekly, sc.Limits.WeeklyLimit},
		{c.Monthly, sc.Limits.MonthlyLimit},
	} {
		if l.limit == nil || *l.limit <= 0 {
			continue
		}
		util := float64(l.count) / float64(*l.limit)
		peak = math.Max(peak, util)
		score = math.Min(score, rampScore(util, ramp))
	}
	return scored(k, score, peak, fmt.Sprintf("%.0f%% of tightest limit used", peak*100))
}

// WorkloadScore falls linearly with open assignments up to the daily threshold.
func WorkloadScore(sc *ScoringContext) store.KPIScore {
	k := store.KPIWorkload
	threshold := sc.Config.Workload.DailyThreshold
	if threshold <= 0 {
		threshold = defaultDailyThreshold
	}
	open := sc.Candidate.Agent.OpenAssignments
	raw := 100 * math.Max(0, 1-float64(open)/float64(threshold))
	return scored(k, raw, float64(open), fmt.Sprintf("%d open of %d threshold", open, threshold))
}

func rampScore(util, start float64) float64 {
	switch {
	case util >= 1:
		return 0
	case util < start:
		return 100
	default:
		return 100 * (1 - (util-start)/(1-start))
	}
}

func recentWindow(cfg *store.KPIConfig) time.Duration {
	days := cfg.RecentPerformance.WindowDays
	if days <= 0 {
		days = defaultRecentWindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func ratio(v, best float64) float64 {
	if best <= 0 {
		return 0
	}
	return 100 * v / best
}

func daysBetween(from, to time.Time) float64 {
	d := to.Sub(from).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func clamp(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return NeutralScore
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
