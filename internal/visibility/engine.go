package visibility

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/split-labs/split/internal/models"
)

// ScreenshotArchiver stores a page screenshot and returns its storage key.
type ScreenshotArchiver interface {
	Archive(ctx context.Context, snapshotID string, urlIndex int, screenshotURL string) (string, error)
}

// Engine runs the full analysis for one snapshot request.
type Engine struct {
	crawler  Crawler
	answers  AnswerEngine
	archiver ScreenshotArchiver // nil disables archiving
	logger   *slog.Logger
}

// NewEngine wires the analysis pipeline. archiver may be nil.
func NewEngine(crawler Crawler, answers AnswerEngine, archiver ScreenshotArchiver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{crawler: crawler, answers: answers, archiver: archiver, logger: logger}
}

// Analyze crawls every URL, queries the answer engine once for the topic,
// and assembles the scorecard. The answer-engine call failing is fatal for
// the snapshot; a single URL failing to crawl is recorded on that URL's
// report and does not abort the rest.
func (e *Engine) Analyze(ctx context.Context, snapshotID string, urls []string, topic string) (*models.Scorecard, error) {
	answer, err := e.answers.Ask(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("ask answer engine: %w", err)
	}

	reports := make([]models.URLReport, 0, len(urls))
	for i, url := range urls {
		report := models.URLReport{URL: url}

		page, err := e.crawler.Scrape(ctx, url)
		if err != nil {
			report.Error = err.Error()
			e.logger.Warn("crawl failed", "snapshot_id", snapshotID, "url", url, "error", err)
			reports = append(reports, report)
			continue
		}

		sig := extractSignals(page.Markdown)
		report.WordCount = sig.Words
		report.Headings = sig.Headings
		report.Questions = sig.Questions
		report.ContentScore = contentScore(sig)
		report.Cited = isCited(url, answer.Sources)
		report.VisibilityScore = visibilityScore(report.Cited, report.ContentScore)

		if e.archiver != nil && page.ScreenshotURL != "" {
			key, err := e.archiver.Archive(ctx, snapshotID, i, page.ScreenshotURL)
			if err != nil {
				// Archiving is best effort; the scorecard stands without it.
				e.logger.Warn("screenshot archive failed", "snapshot_id", snapshotID, "url", url, "error", err)
			} else {
				report.ScreenshotKey = key
			}
		}

		reports = append(reports, report)
	}

	card := buildScorecard(topic, answer.Text, reports)
	card.GeneratedAt = time.Now().UTC()
	return &card, nil
}
