package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vnmchuo/llm-optimizer/internal/inference"
)

// Client calls the Anthropic Messages API, mapping model tiers to
// concrete model identifiers and HTTP failures to the inference error
// classes.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID      string       `json:"id"`
	Content []apiContent `json:"content"`
	Model   string       `json:"model"`
	Usage   apiUsage     `json:"usage"`
}

type apiContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func New(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Invoke(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	apiReq := apiRequest{
		Model:     req.Tier.Model,
		MaxTokens: maxTokens,
		System:    req.Query.Context["system"],
		Messages:  []apiMessage{{Role: "user", Content: req.Query.Text}},
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/messages", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", inference.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", inference.ErrService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", inference.ErrService, err)
	}

	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("%w: empty content", inference.ErrService)
	}

	return &inference.Response{
		Text:         apiResp.Content[0].Text,
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
		Model:        apiResp.Model,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests || status == 529:
		return fmt.Errorf("%w: status %d: %s", inference.ErrRateLimited, status, body)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d: %s", inference.ErrTimeout, status, body)
	default:
		return fmt.Errorf("%w: status %d: %s", inference.ErrService, status, body)
	}
}
