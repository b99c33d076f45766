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

// Answer is an answer-engine response for a topic: the generated answer text
// and the source URLs it cited.
type Answer struct {
	Text    string
	Sources []string
}

// AnswerEngine queries an LLM search API for a topic.
type AnswerEngine interface {
	Ask(ctx context.Context, topic string) (*Answer, error)
}

// AnswerClient talks to a Perplexity-style chat completions endpoint that
// returns citations alongside the answer.
type AnswerClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAnswerClient builds a client for the answer-engine API.
func NewAnswerClient(baseURL, apiKey string, timeout time.Duration) *AnswerClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &AnswerClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      "sonar",
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Ask queries the engine for the topic and returns the answer with citations.
func (c *AnswerClient) Ask(ctx context.Context, topic string) (*Answer, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: topic},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal answer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query answer engine: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read answer response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("answer engine: status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode answer response: %w", err)
	}

	answer := &Answer{Sources: out.Citations}
	if len(out.Choices) > 0 {
		answer.Text = out.Choices[0].Message.Content
	}
	return answer, nil
}
