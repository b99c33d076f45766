// Package detect classifies HTTP user-agent strings as AI crawlers, generic
// bots, or human traffic. Classification is pure and deterministic: a static
// pattern table matched in order, first match wins.
package detect

import (
	"regexp"
	"strings"
)

// Category of a classified user agent.
type Category string

const (
	CategoryAI      Category = "ai_crawler"
	CategoryGeneric Category = "generic_bot"
	CategoryHuman   Category = "human"
)

// Crawler purposes, roughly: bulk training ingestion, search indexing for
// answer engines, or on-demand fetches triggered by a user prompt.
const (
	PurposeTraining = "training"
	PurposeSearch   = "search"
	PurposeOnDemand = "on_demand"
	PurposeUnknown  = "unknown"
)

// Classification is the result of matching a user agent.
type Classification struct {
	Category Category `json:"category"`
	Crawler  string   `json:"crawler,omitempty"`
	Vendor   string   `json:"vendor,omitempty"`
	Purpose  string   `json:"purpose,omitempty"`
}

type pattern struct {
	token   string // lowercase substring
	crawler string
	vendor  string
	purpose string
}

// Known AI crawler user-agent tokens, matched in order. More specific tokens
// come before broader ones (oai-searchbot before gptbot would not matter,
// but claude-user must precede claudebot's vendor fallback ordering).
var aiPatterns = []pattern{
	{"oai-searchbot", "OAI-SearchBot", "OpenAI", PurposeSearch},
	{"chatgpt-user", "ChatGPT-User", "OpenAI", PurposeOnDemand},
	{"gptbot", "GPTBot", "OpenAI", PurposeTraining},
	{"claude-user", "Claude-User", "Anthropic", PurposeOnDemand},
	{"claude-searchbot", "Claude-SearchBot", "Anthropic", PurposeSearch},
	{"claudebot", "ClaudeBot", "Anthropic", PurposeTraining},
	{"anthropic-ai", "anthropic-ai", "Anthropic", PurposeTraining},
	{"perplexity-user", "Perplexity-User", "Perplexity", PurposeOnDemand},
	{"perplexitybot", "PerplexityBot", "Perplexity", PurposeSearch},
	{"google-extended", "Google-Extended", "Google", PurposeTraining},
	{"googleother", "GoogleOther", "Google", PurposeTraining},
	{"gemini-deep-research", "Gemini-Deep-Research", "Google", PurposeOnDemand},
	{"bytespider", "Bytespider", "ByteDance", PurposeTraining},
	{"ccbot", "CCBot", "Common Crawl", PurposeTraining},
	{"amazonbot", "Amazonbot", "Amazon", PurposeSearch},
	{"applebot-extended", "Applebot-Extended", "Apple", PurposeTraining},
	{"meta-externalagent", "Meta-ExternalAgent", "Meta", PurposeTraining},
	{"facebookbot", "FacebookBot", "Meta", PurposeTraining},
	{"cohere-ai", "cohere-ai", "Cohere", PurposeTraining},
	{"mistralai-user", "MistralAI-User", "Mistral", PurposeOnDemand},
	{"duckassistbot", "DuckAssistBot", "DuckDuckGo", PurposeSearch},
	{"youbot", "YouBot", "You.com", PurposeSearch},
}

// genericBotRe is the fallback heuristic for automated clients that are not
// known AI vendors.
var genericBotRe = regexp.MustCompile(`(?i)\b(bot|crawler|spider|scraper|curl|wget|python-requests|go-http-client|headless)\b|bot/|crawl`)

// Classify matches ua against the known AI crawler table, then the generic
// bot heuristic. An empty user agent counts as a generic bot.
func Classify(ua string) Classification {
	lower := strings.ToLower(strings.TrimSpace(ua))
	if lower == "" {
		return Classification{Category: CategoryGeneric, Purpose: PurposeUnknown}
	}
	for _, p := range aiPatterns {
		if strings.Contains(lower, p.token) {
			return Classification{
				Category: CategoryAI,
				Crawler:  p.crawler,
				Vendor:   p.vendor,
				Purpose:  p.purpose,
			}
		}
	}
	if genericBotRe.MatchString(lower) {
		return Classification{Category: CategoryGeneric, Purpose: PurposeUnknown}
	}
	return Classification{Category: CategoryHuman}
}

// IsAICrawler reports whether ua belongs to a known AI vendor.
func IsAICrawler(ua string) bool {
	return Classify(ua).Category == CategoryAI
}
