// gen_snapshot.go writes a random CRM snapshot fixture for crm.snapshot_path.
//
// Usage:
//
//	go run scripts/gen_snapshot.go -agents 8 -leads 40 -out snapshot.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/LeadRouter/internal/crm"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

var industries = []string{"Tech", "Retail", "Healthcare", "Finance", "Manufacturing"}

var firstNames = []string{"Avery", "Blake", "Casey", "Devon", "Emery", "Finley", "Harper", "Jordan", "Kai", "Logan", "Morgan", "Quinn"}

func main() {
	agents := flag.Int("agents", 6, "number of agents")
	leads := flag.Int("leads", 25, "number of unassigned leads")
	history := flag.Int("history", 30, "past outcomes per agent")
	seed := flag.Uint64("seed", 1, "random seed")
	board := flag.String("board", "", "board id for generated leads")
	out := flag.String("out", "", "output file (default stdout)")
	dryRun := flag.Bool("dry-run", false, "print a summary instead of the fixture")
	flag.Parse()

	rng := rand.New(rand.NewPCG(*seed, *seed))
	now := time.Now().UTC().Truncate(time.Second)

	snap := &crm.Snapshot{}
	for i := 0; i < *agents; i++ {
		snap.Agents = append(snap.Agents, genAgent(rng, i, *history, now))
	}
	for i := 0; i < *leads; i++ {
		snap.Leads = append(snap.Leads, genLead(rng, *board, now))
	}

	if *dryRun {
		for _, a := range snap.Agents {
			fmt.Printf("agent %s (%s) available=%t open=%d industries=%d outcomes=%d\n",
				a.ID, a.Name, a.Available, a.OpenAssignments, len(a.Expertise), len(a.History))
		}
		fmt.Printf("%d leads\n", len(snap.Leads))
		return
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("create %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		log.Fatalf("encode snapshot: %v", err)
	}
	if *out != "" {
		log.Printf("wrote %d agents and %d leads to %s", len(snap.Agents), len(snap.Leads), *out)
	}
}

func genAgent(rng *rand.Rand, i, history int, now time.Time) *store.Agent {
	a := &store.Agent{
		ID:              fmt.Sprintf("agent-%02d", i+1),
		Name:            firstNames[i%len(firstNames)],
		Available:       rng.Float64() > 0.1,
		OpenAssignments: rng.IntN(12),
		Expertise:       make(map[string]store.IndustryStats),
	}
	last := now.Add(-time.Duration(rng.IntN(72)) * time.Hour)
	a.LastActivityAt = &last

	for _, ind := range industries {
		if rng.Float64() < 0.4 {
			continue
		}
		a.Expertise[ind] = store.IndustryStats{
			ConversionRate: round2(0.05 + rng.Float64()*0.6),
			AvgDealSize:    float64(5000 + rng.IntN(95000)),
			SampleSize:     rng.IntN(60),
		}
	}

	for j := 0; j < history; j++ {
		assigned := now.Add(-time.Duration(1+rng.IntN(90*24)) * time.Hour)
		o := store.Outcome{
			LeadID:     uuid.NewString(),
			Industry:   industries[rng.IntN(len(industries))],
			AssignedAt: assigned,
		}
		if rng.Float64() < 0.8 {
			contacted := assigned.Add(time.Duration(5+rng.IntN(48*60)) * time.Minute)
			o.ContactedAt = &contacted
		}
		if rng.Float64() < 0.6 {
			closed := assigned.Add(time.Duration(1+rng.IntN(30)) * 24 * time.Hour)
			if closed.Before(now) {
				o.ClosedAt = &closed
				o.Won = rng.Float64() < 0.4
				if o.Won {
					amount := float64(2000 + rng.IntN(80000))
					o.DealAmount = &amount
				}
			}
		}
		if o.ClosedAt == nil && rng.Float64() < 0.5 {
			next := now.Add(time.Duration(rng.IntN(96)-24) * time.Hour)
			o.NextCallAt = &next
		}
		a.History = append(a.History, o)
	}
	return a
}

func genLead(rng *rand.Rand, board string, now time.Time) *store.Lead {
	created := now.Add(-time.Duration(rng.IntN(7*24*60)) * time.Minute)
	l := &store.Lead{
		ID:        uuid.NewString(),
		BoardID:   board,
		Industry:  industries[rng.IntN(len(industries))],
		Status:    "new",
		CreatedAt: created,
		UpdatedAt: created,
	}
	if rng.Float64() < 0.85 {
		amount := float64(1000 + rng.IntN(120000))
		l.DealAmount = &amount
	}
	return l
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
