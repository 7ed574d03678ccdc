// CLAUDE:SUMMARY Deterministic content quality scorer: five weighted components, per-type weights, letter grades.
// CLAUDE:DEPENDS quality/components.go
// CLAUDE:EXPORTS Scorer, Score, Weights, WeightsFor, Grade, DefaultThreshold
//
// Package quality scores extracted content before it is delivered. The
// scorer is pure: same content and source type always give the same score.
package quality

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

// DefaultThreshold is the score below which content is skipped.
const DefaultThreshold = 40.0

// shortContentFactor scales the overall score of content below the minimum
// length so it always lands under DefaultThreshold.
const shortContentFactor = 0.3

// Weights are the component weights; they sum to 1.
type Weights struct {
	Length     float64
	Density    float64
	Structure  float64
	Language   float64
	Uniqueness float64
}

// DefaultWeights apply to web and file content.
var DefaultWeights = Weights{Length: 0.20, Density: 0.20, Structure: 0.25, Language: 0.20, Uniqueness: 0.15}

// WeightsFor returns the weights used for a source type.
func WeightsFor(t catalog.SourceType) Weights {
	w := DefaultWeights
	switch t {
	case catalog.TypeRepository:
		w.Structure = 0.30
		w.Density = 0.15
	case catalog.TypePaper:
		w.Language = 0.25
		w.Structure = 0.25
		w.Length = 0.15
	case catalog.TypeVideo:
		w.Uniqueness = 0.10
		w.Length = 0.25
	}
	return w
}

// Score is the result of scoring one piece of content.
type Score struct {
	Overall    float64 `json:"score"`
	Grade      string  `json:"grade"`
	Length     float64 `json:"length"`
	Density    float64 `json:"density"`
	Structure  float64 `json:"structure"`
	Language   float64 `json:"language"`
	Uniqueness float64 `json:"uniqueness"`

	WordCount         int      `json:"word_count"`
	SentenceCount     int      `json:"sentence_count"`
	AvgSentenceLength float64  `json:"avg_sentence_length"`
	CodeRatio         float64  `json:"code_ratio"`
	LinkDensity       float64  `json:"link_density"`
	Short             bool     `json:"short"`
	Issues            []string `json:"issues,omitempty"`
}

// Passes reports whether the score reaches threshold.
func (s Score) Passes(threshold float64) bool {
	return s.Overall >= threshold
}

// Grade maps a score to A..F.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// Scorer holds the minimum-length rules. The zero value uses the defaults.
type Scorer struct {
	// MinChars is the minimum content length in characters. Default 100.
	MinChars int
	// MinWords is the minimum word count. Default 100.
	MinWords int
}

func (sc Scorer) defaults() Scorer {
	if sc.MinChars <= 0 {
		sc.MinChars = 100
	}
	if sc.MinWords <= 0 {
		sc.MinWords = 100
	}
	return sc
}

// Evaluate scores content with the default Scorer.
func Evaluate(content string, t catalog.SourceType) Score {
	return Scorer{}.Score(content, t)
}

// Score computes the quality score of content for source type t.
func (sc Scorer) Score(content string, t catalog.SourceType) Score {
	sc = sc.defaults()
	if strings.TrimSpace(content) == "" {
		return Score{Grade: "F", Short: true, Issues: []string{"empty content"}}
	}

	m := measure(content)
	s := Score{
		Length:            lengthScore(m.words),
		Density:           densityScore(content, m),
		Structure:         structureScore(content, t),
		Language:          languageScore(content, m),
		Uniqueness:        uniquenessScore(content),
		WordCount:         m.words,
		SentenceCount:     m.sentences,
		AvgSentenceLength: m.avgSentence,
		CodeRatio:         m.codeRatio,
		LinkDensity:       m.linkDensity,
	}

	w := WeightsFor(t)
	s.Overall = s.Length*w.Length +
		s.Density*w.Density +
		s.Structure*w.Structure +
		s.Language*w.Language +
		s.Uniqueness*w.Uniqueness

	if utf8.RuneCountInString(content) < sc.MinChars || m.words < sc.MinWords {
		s.Short = true
		s.Overall *= shortContentFactor
		s.Issues = append(s.Issues, fmt.Sprintf("below minimum length (%d words)", m.words))
	}

	s.Overall = round2(clamp(s.Overall))
	s.Grade = Grade(s.Overall)
	s.Issues = append(s.Issues, issues(m, t)...)
	return s
}

func issues(m metrics, t catalog.SourceType) []string {
	var out []string
	if m.words < optimalWordsMin {
		out = append(out, fmt.Sprintf("content too short (%d words)", m.words))
	}
	if m.avgSentence > optimalSentenceMax {
		out = append(out, "sentences too long on average")
	}
	if m.codeRatio > maxCodeRatio && t != catalog.TypeRepository {
		out = append(out, fmt.Sprintf("high code ratio (%.1f%%)", m.codeRatio*100))
	}
	if m.linkDensity > maxLinkDensity {
		out = append(out, fmt.Sprintf("high link density (%.1f%%)", m.linkDensity*100))
	}
	return out
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
