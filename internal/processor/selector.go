package processor

import "sort"

// DefaultMinScore is the lowest confidence accepted as a result.
const DefaultMinScore = 0.3

// Selector picks the winning text among scored results.
type Selector struct {
	MinScore float64
}

// Select deduplicates results by text, keeping the best score per text, and
// returns the winner. ok is false when nothing reaches MinScore. The choice
// depends only on the set of results, not their order.
func (s *Selector) Select(results []ExtractionResult) (best ExtractionResult, ok bool) {
	ranked := s.Rank(results)
	if len(ranked) == 0 || ranked[0].Score < s.MinScore {
		return ExtractionResult{}, false
	}
	return ranked[0], true
}

// Rank returns the deduplicated results, best first.
func (s *Selector) Rank(results []ExtractionResult) []ExtractionResult {
	byText := make(map[string]ExtractionResult, len(results))
	for _, r := range results {
		cur, seen := byText[r.Text]
		if !seen || better(r, cur) {
			byText[r.Text] = r
		}
	}

	ranked := make([]ExtractionResult, 0, len(byText))
	for _, r := range byText {
		ranked = append(ranked, r)
	}
	sort.Slice(ranked, func(i, j int) bool { return better(ranked[i], ranked[j]) })
	return ranked
}

// better orders by score, then multi-language groups, then canonical
// strategy index, then text so the order is total.
func better(a, b ExtractionResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	am, bm := a.Strategy.Language.Multi(), b.Strategy.Language.Multi()
	if am != bm {
		return am
	}
	if a.Strategy.Index != b.Strategy.Index {
		return a.Strategy.Index < b.Strategy.Index
	}
	return a.Text < b.Text
}
