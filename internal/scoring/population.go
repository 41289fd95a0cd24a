package scoring

import (
	"sort"
	"time"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// IndustryPopulation holds the per-industry normalizers for the domain KPI.
type IndustryPopulation struct {
	BestConversion float64
	MaxSamples     int
}

// Population is the set of normalizers computed once per run over the whole
// agent roster, so eligibility changes never shift another agent's score.
type Population struct {
	BestConversion       float64
	BestRecentConversion float64
	MaxAvgDeal           float64
	Industries           map[string]IndustryPopulation
}

// NewPopulation scans the roster for the best observed values.
func NewPopulation(agents []*store.Agent, cfg *store.KPIConfig, now time.Time) *Population {
	p := &Population{Industries: make(map[string]IndustryPopulation)}
	window := recentWindow(cfg)

	for _, a := range agents {
		if rate, n := conversion(a); n > 0 && rate > p.BestConversion {
			p.BestConversion = rate
		}
		if rate, n := conversionSince(a, now.Add(-window)); n > 0 && rate > p.BestRecentConversion {
			p.BestRecentConversion = rate
		}
		if avg, n := avgWonDeal(a); n > 0 && avg > p.MaxAvgDeal {
			p.MaxAvgDeal = avg
		}
		for industry, stats := range a.Expertise {
			key := store.IndustryKey(industry)
			ip := p.Industries[key]
			if stats.ConversionRate > ip.BestConversion {
				ip.BestConversion = stats.ConversionRate
			}
			if stats.SampleSize > ip.MaxSamples {
				ip.MaxSamples = stats.SampleSize
			}
			p.Industries[key] = ip
		}
	}
	return p
}

// --- agent history helpers ---

func conversion(a *store.Agent) (float64, int) {
	if len(a.History) == 0 {
		return 0, 0
	}
	won := 0
	for _, o := range a.History {
		if o.Won {
			won++
		}
	}
	return float64(won) / float64(len(a.History)), len(a.History)
}

func conversionSince(a *store.Agent, since time.Time) (float64, int) {
	assigned, won := 0, 0
	for _, o := range a.History {
		if o.AssignedAt.Before(since) {
			continue
		}
		assigned++
		if o.Won {
			won++
		}
	}
	if assigned == 0 {
		return 0, 0
	}
	return float64(won) / float64(assigned), assigned
}

func avgWonDeal(a *store.Agent) (float64, int) {
	var sum float64
	n := 0
	for _, o := range a.History {
		if o.Won && o.DealAmount != nil {
			sum += *o.DealAmount
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// winTimes returns close times of won outcomes, newest first.
func winTimes(a *store.Agent) []time.Time {
	var out []time.Time
	for _, o := range a.History {
		if o.Won && o.ClosedAt != nil {
			out = append(out, *o.ClosedAt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}

func avgResponseHours(a *store.Agent) (float64, int) {
	var sum float64
	n := 0
	for _, o := range a.History {
		if o.ContactedAt == nil || o.NextCallAt == nil || o.NextCallAt.Before(*o.ContactedAt) {
			continue
		}
		sum += o.NextCallAt.Sub(*o.ContactedAt).Hours()
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

func lastActivity(a *store.Agent) *time.Time {
	if a.LastActivityAt != nil {
		return a.LastActivityAt
	}
	var last *time.Time
	for i := range a.History {
		if c := a.History[i].ContactedAt; c != nil && (last == nil || c.After(*last)) {
			last = c
		}
	}
	return last
}

func expertiseFor(a *store.Agent, industry string) (store.IndustryStats, bool) {
	if s, ok := a.Expertise[industry]; ok {
		return s, true
	}
	key := store.IndustryKey(industry)
	for k, s := range a.Expertise {
		if store.IndustryKey(k) == key {
			return s, true
		}
	}
	return store.IndustryStats{}, false
}
