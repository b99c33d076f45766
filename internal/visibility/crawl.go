// Package visibility runs the AEO analysis for a snapshot request: crawl the
// target pages through a managed crawl API, query an LLM answer engine for
// the topic, and score how visible each page is to AI search.
package visibility

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Page is the crawl output for a single URL.
type Page struct {
	URL           string
	Title         string
	Markdown      string
	ScreenshotURL string
}

// Crawler fetches page content through the managed crawl API.
type Crawler interface {
	Scrape(ctx context.Context, url string) (*Page, error)
}

// CrawlClient talks to a Firecrawl-style scrape endpoint.
type CrawlClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCrawlClient builds a client for the crawl API.
func NewCrawlClient(baseURL, apiKey string, timeout time.Duration) *CrawlClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &CrawlClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown   string `json:"markdown"`
		Screenshot string `json:"screenshot"`
		Metadata   struct {
			Title      string `json:"title"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
	Error string `json:"error"`
}

// Scrape fetches one page as markdown plus an optional screenshot URL.
func (c *CrawlClient) Scrape(ctx context.Context, url string) (*Page, error) {
	body, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"markdown", "screenshot"}})
	if err != nil {
		return nil, fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read scrape response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("scrape %s: status %d", url, resp.StatusCode)
	}

	var out scrapeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode scrape response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("scrape %s: %s", url, nonEmpty(out.Error, "upstream reported failure"))
	}

	return &Page{
		URL:           url,
		Title:         out.Data.Metadata.Title,
		Markdown:      out.Data.Markdown,
		ScreenshotURL: out.Data.Screenshot,
	}, nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
