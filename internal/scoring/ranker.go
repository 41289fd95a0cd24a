package scoring

import "sort"

// ScoreEpsilon is the tolerance under which two composite scores tie.
const ScoreEpsilon = 1e-6

// Rank orders results by score descending. Ties within ScoreEpsilon go to the
// lower workload, then the lexicographically smaller agent ID. The input slice
// is not modified.
func Rank(results []Result) []Result {
	ranked := make([]Result, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Less(ranked[i], ranked[j])
	})
	return ranked
}

// Less reports whether a ranks ahead of b.
func Less(a, b Result) bool {
	if d := a.Score - b.Score; d > ScoreEpsilon || d < -ScoreEpsilon {
		return a.Score > b.Score
	}
	if a.Workload != b.Workload {
		return a.Workload < b.Workload
	}
	return a.AgentID < b.AgentID
}
