package quality

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/seeder/seeder/internal/catalog"
)

const (
	optimalWordsMin    = 300
	optimalWordsMax    = 50000
	optimalSentenceMin = 10
	optimalSentenceMax = 30
	maxCodeRatio       = 0.6
	maxLinkDensity     = 0.1
)

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	codeRe        = regexp.MustCompile("```[\\s\\S]*?```|`[^`]+`")
	linkRe        = regexp.MustCompile(`https?://\S+|\[.*?\]\(.*?\)`)
	headingRe     = regexp.MustCompile(`(?m)^#{1,6}[ \t]+.+$`)
	paragraphRe   = regexp.MustCompile(`\n[ \t]*\n`)
	listItemRe    = regexp.MustCompile(`(?m)^[ \t]*(?:[-*•][ \t]+|\d+\.[ \t]+).+$`)
	capStartRe    = regexp.MustCompile(`(?:^|[.!?]\s+)[A-Z]`)

	boilerplate = []*regexp.Regexp{
		regexp.MustCompile(`(?i)cookie`),
		regexp.MustCompile(`(?i)privacy policy`),
		regexp.MustCompile(`(?i)terms of service`),
		regexp.MustCompile(`(?i)subscribe to our`),
		regexp.MustCompile(`(?i)sign up for`),
		regexp.MustCompile(`(?i)follow us on`),
		regexp.MustCompile(`(?i)share this`),
	}
)

type metrics struct {
	words       int
	sentences   int
	avgSentence float64
	codeRatio   float64
	linkDensity float64
}

func measure(content string) metrics {
	var m metrics
	m.words = len(strings.Fields(content))
	for _, s := range sentenceSplit.Split(content, -1) {
		if strings.TrimSpace(s) != "" {
			m.sentences++
		}
	}
	m.avgSentence = float64(m.words) / float64(max(m.sentences, 1))

	total := float64(max(utf8.RuneCountInString(content), 1))
	m.codeRatio = float64(matchedRunes(codeRe, content)) / total
	m.linkDensity = float64(matchedRunes(linkRe, content)) / total
	return m
}

func matchedRunes(re *regexp.Regexp, s string) int {
	n := 0
	for _, match := range re.FindAllString(s, -1) {
		n += utf8.RuneCountInString(match)
	}
	return n
}

// lengthScore peaks inside the optimal word band.
func lengthScore(words int) float64 {
	var score float64
	switch {
	case words < 50:
		score = float64(words * 2)
	case words < optimalWordsMin:
		score = 50 + float64(words-50)/float64(optimalWordsMin-50)*30
	case words <= optimalWordsMax:
		score = 100
	default:
		excess := float64(words - optimalWordsMax)
		score = math.Max(70, 100-math.Log10(excess+1)*10)
	}
	return clamp(score)
}

func densityScore(content string, m metrics) float64 {
	var codePenalty, linkPenalty, repetitionPenalty float64
	if m.codeRatio > maxCodeRatio {
		codePenalty = (m.codeRatio - maxCodeRatio) * 100
	}
	if m.linkDensity > maxLinkDensity {
		linkPenalty = (m.linkDensity - maxLinkDensity) * 200
	}

	lines := strings.Split(content, "\n")
	if len(lines) > 10 {
		uniq := make(map[string]struct{}, len(lines))
		for _, l := range lines {
			uniq[l] = struct{}{}
		}
		ratio := float64(len(uniq)) / float64(len(lines))
		if ratio < 0.5 {
			repetitionPenalty = (1 - ratio) * 50
		}
	}
	return clamp(100 - codePenalty - linkPenalty - repetitionPenalty)
}

func structureScore(content string, t catalog.SourceType) float64 {
	score := 50.0
	if n := len(headingRe.FindAllString(content, -1)); n > 0 {
		score += math.Min(20, float64(n*2))
	}

	meaningful := 0
	for _, p := range paragraphRe.Split(content, -1) {
		if utf8.RuneCountInString(strings.TrimSpace(p)) > 50 {
			meaningful++
		}
	}
	if meaningful >= 3 {
		score += 15
	}

	if n := len(listItemRe.FindAllString(content, -1)); n > 0 {
		score += math.Min(10, float64(n))
	}

	if (t == catalog.TypeRepository || t == catalog.TypePaper) && strings.Contains(content, "##") {
		score += 5
	}
	return clamp(score)
}

func languageScore(content string, m metrics) float64 {
	score := 70.0
	switch {
	case m.avgSentence < optimalSentenceMin:
		score -= (optimalSentenceMin - m.avgSentence) * 2
	case m.avgSentence > optimalSentenceMax:
		score -= m.avgSentence - optimalSentenceMax
	}

	for _, re := range boilerplate {
		if re.MatchString(content) {
			score -= 5
		}
	}

	if float64(len(capStartRe.FindAllString(content, -1))) >= float64(m.sentences)*0.7 {
		score += 10
	}
	return clamp(score)
}

// uniquenessScore penalizes repeated bigrams and trigrams seen more than twice.
func uniquenessScore(content string) float64 {
	words := strings.Fields(strings.ToLower(content))
	if len(words) < 20 {
		return 50
	}

	bigrams := make(map[string]struct{}, len(words))
	for i := 0; i+1 < len(words); i++ {
		bigrams[words[i]+" "+words[i+1]] = struct{}{}
	}
	bigramUniqueness := float64(len(bigrams)) / float64(len(words)-1)

	trigrams := make(map[string]int, len(words))
	for i := 0; i+2 < len(words); i++ {
		trigrams[words[i]+" "+words[i+1]+" "+words[i+2]]++
	}
	repeated := 0
	for _, c := range trigrams {
		if c > 2 {
			repeated++
		}
	}
	penalty := math.Min(30, float64(repeated*3))
	return clamp(bigramUniqueness*100 - penalty)
}
