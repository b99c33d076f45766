package visibility

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeCrawler struct {
	pages map[string]*Page
	fail  map[string]error
}

func (f *fakeCrawler) Scrape(_ context.Context, url string) (*Page, error) {
	if err, ok := f.fail[url]; ok {
		return nil, err
	}
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unexpected url %s", url)
}

type fakeAnswers struct {
	answer *Answer
	err    error
}

func (f *fakeAnswers) Ask(context.Context, string) (*Answer, error) {
	return f.answer, f.err
}

func TestEngineAnalyze(t *testing.T) {
	crawler := &fakeCrawler{
		pages: map[string]*Page{
			"https://example.com/guide": {
				URL:      "https://example.com/guide",
				Markdown: "# What is a CRM?\n\nA long explanation with plenty of words to count here.\n",
			},
			"https://example.com/thin": {
				URL:      "https://example.com/thin",
				Markdown: "hi",
			},
		},
	}
	answers := &fakeAnswers{
		answer: &Answer{
			Text:    "CRMs are...",
			Sources: []string{"https://www.example.com/guide/"},
		},
	}

	engine := NewEngine(crawler, answers, nil, nil)
	card, err := engine.Analyze(context.Background(), "snap-1",
		[]string{"https://example.com/guide", "https://example.com/thin"}, "what is a crm")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if len(card.Reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(card.Reports))
	}
	if !card.Reports[0].Cited {
		t.Error("expected first URL to be cited")
	}
	if card.Reports[1].Cited {
		t.Error("expected second URL to be uncited")
	}
	if card.CitedURLs != 1 {
		t.Errorf("cited urls = %d, want 1", card.CitedURLs)
	}
	if card.Reports[0].VisibilityScore <= card.Reports[1].VisibilityScore {
		t.Error("cited URL should outscore uncited URL")
	}
	if card.Answer != "CRMs are..." {
		t.Errorf("answer = %q", card.Answer)
	}
}

func TestEngineAnalyzeCrawlFailureIsIsolated(t *testing.T) {
	crawler := &fakeCrawler{
		pages: map[string]*Page{
			"https://ok.com": {URL: "https://ok.com", Markdown: "# Fine\n\ncontent here\n"},
		},
		fail: map[string]error{
			"https://down.com": errors.New("status 503"),
		},
	}
	answers := &fakeAnswers{answer: &Answer{Text: "a"}}

	engine := NewEngine(crawler, answers, nil, nil)
	card, err := engine.Analyze(context.Background(), "snap-2",
		[]string{"https://down.com", "https://ok.com"}, "topic")
	if err != nil {
		t.Fatalf("one bad URL should not fail the snapshot: %v", err)
	}
	if card.Reports[0].Error == "" {
		t.Error("expected error recorded on failed URL report")
	}
	if card.Reports[1].Error != "" {
		t.Errorf("healthy URL has error %q", card.Reports[1].Error)
	}
}

func TestEngineAnalyzeAnswerFailureIsFatal(t *testing.T) {
	engine := NewEngine(&fakeCrawler{}, &fakeAnswers{err: errors.New("quota exceeded")}, nil, nil)
	if _, err := engine.Analyze(context.Background(), "snap-3", []string{"https://x.com"}, "topic"); err == nil {
		t.Fatal("expected error when answer engine fails")
	}
}
