package visibility

import (
	"strings"

	"github.com/split-labs/split/internal/models"
)

// contentSignals are the structural features extracted from page markdown
// that correlate with answer-engine pickup.
type contentSignals struct {
	Words     int
	Headings  int
	Questions int
}

func extractSignals(markdown string) contentSignals {
	var sig contentSignals
	sig.Words = len(strings.Fields(markdown))
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			sig.Headings++
		}
		if strings.HasSuffix(trimmed, "?") {
			sig.Questions++
		}
	}
	return sig
}

// contentScore rates page structure 0-100. Longer, well-structured pages
// with question-form headings score higher.
func contentScore(sig contentSignals) int {
	if sig.Words == 0 {
		return 0
	}
	score := 20
	if sig.Words >= 300 {
		score += 20
	}
	if sig.Words >= 1000 {
		score += 10
	}
	score += min(20, sig.Headings*4)
	score += min(30, sig.Questions*6)
	return min(100, score)
}

// visibilityScore rates answer-engine visibility 0-100. A cited page gets
// full marks; an uncited page is bounded by half its content score.
func visibilityScore(cited bool, content int) int {
	if cited {
		return 100
	}
	return content / 2
}

// normalizeURL strips scheme, www prefix, and trailing slash so that cited
// sources compare equal to submitted URLs regardless of those variations.
func normalizeURL(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimSuffix(u, "/")
}

// isCited reports whether pageURL appears among the answer's sources.
func isCited(pageURL string, sources []string) bool {
	page := normalizeURL(pageURL)
	if page == "" {
		return false
	}
	for _, src := range sources {
		if normalizeURL(src) == page {
			return true
		}
	}
	return false
}

// buildScorecard combines per-URL reports into the overall result.
func buildScorecard(topic, answerText string, reports []models.URLReport) models.Scorecard {
	card := models.Scorecard{
		Topic:   topic,
		Answer:  answerText,
		Reports: reports,
	}
	if len(reports) == 0 {
		return card
	}
	total := 0
	for _, r := range reports {
		total += r.VisibilityScore
		if r.Cited {
			card.CitedURLs++
		}
	}
	card.Overall = total / len(reports)
	return card
}
