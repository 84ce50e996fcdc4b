/**
 * Quality Scorer
 *
 * Judges recognized text without ground truth. A binary validity gate
 * rejects degenerate output; text that passes receives a heuristic
 * confidence in [0,1] built from length, diversity and structure.
 */

package processor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// GateThresholds configure the validity gate.
type GateThresholds struct {
	MinLength      int
	MinDistinct    int
	MaxDominance   float64
	MinLetterRatio float64
}

// ScoreWeights configure the confidence score. Each factor saturates at its cap.
type ScoreWeights struct {
	Length      float64
	Diversity   float64
	Words       float64
	Lines       float64
	BlurBonus   float64
	LengthCap   int
	DistinctCap int
	WordCap     int
	LineCap     int
}

// DefaultGate returns the standard validity gate.
func DefaultGate() GateThresholds {
	return GateThresholds{
		MinLength:      3,
		MinDistinct:    2,
		MaxDominance:   0.7,
		MinLetterRatio: 0.15,
	}
}

// DefaultWeights returns the standard scoring weights.
func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		Length:      0.30,
		Diversity:   0.25,
		Words:       0.15,
		Lines:       0.10,
		BlurBonus:   0.10,
		LengthCap:   40,
		DistinctCap: 10,
		WordCap:     4,
		LineCap:     3,
	}
}

// ExtractionResult is a scored attempt that passed the validity gate.
type ExtractionResult struct {
	Text     string
	Strategy Strategy
	Score    float64
	Length   int
}

// Scorer applies the gate and computes scores.
type Scorer struct {
	Gate    GateThresholds
	Weights ScoreWeights
}

// NewScorer creates a scorer with default thresholds and weights.
func NewScorer() *Scorer {
	return &Scorer{Gate: DefaultGate(), Weights: DefaultWeights()}
}

// Valid reports whether text passes the validity gate.
func (s *Scorer) Valid(text string) bool {
	text = strings.TrimSpace(text)
	total := utf8.RuneCountInString(text)
	if total < s.Gate.MinLength {
		return false
	}

	distinct := make(map[rune]int)
	alnum := make(map[rune]int)
	alnumTotal, letters := 0, 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			distinct[r]++
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum[unicode.ToLower(r)]++
			alnumTotal++
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}

	if len(distinct) < s.Gate.MinDistinct {
		return false
	}

	if alnumTotal > 0 {
		top := 0
		for _, n := range alnum {
			top = max(top, n)
		}
		if float64(top)/float64(alnumTotal) > s.Gate.MaxDominance {
			return false
		}
	}

	return float64(letters)/float64(total) >= s.Gate.MinLetterRatio
}

// Score returns the confidence for text produced by strategy. It does not
// apply the gate.
func (s *Scorer) Score(text string, strategy Strategy) float64 {
	text = strings.TrimSpace(text)
	w := s.Weights

	length := utf8.RuneCountInString(text)
	distinct := make(map[rune]struct{})
	for _, r := range text {
		if !unicode.IsSpace(r) {
			distinct[r] = struct{}{}
		}
	}
	words := len(strings.Fields(text))
	lines := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}

	score := w.Length*saturate(length, w.LengthCap) +
		w.Diversity*saturate(len(distinct), w.DistinctCap) +
		w.Words*saturate(words, w.WordCap) +
		w.Lines*saturate(lines, w.LineCap)
	if strategy.BlurTargeted() {
		score += w.BlurBonus
	}

	return clamp01(score)
}

// Evaluate gates and scores every successful attempt.
func (s *Scorer) Evaluate(attempts []Attempt) []ExtractionResult {
	var results []ExtractionResult
	for _, a := range attempts {
		if !a.OK() || !s.Valid(a.Text) {
			continue
		}
		text := strings.TrimSpace(a.Text)
		results = append(results, ExtractionResult{
			Text:     text,
			Strategy: a.Strategy,
			Score:    s.Score(text, a.Strategy),
			Length:   utf8.RuneCountInString(text),
		})
	}
	return results
}

func saturate(n, limit int) float64 {
	if limit <= 0 {
		return 1
	}
	if n >= limit {
		return 1
	}
	return float64(n) / float64(limit)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
