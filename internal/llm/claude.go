package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const anthropicVersion = "2023-06-01"

// Config configures the Anthropic Messages API client. Zero fields take
// their DefaultConfig value.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	RateLimitRPM int
	CacheTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.anthropic.com",
		Model:        "claude-sonnet-4-20250514",
		Timeout:      30 * time.Second,
		RateLimitRPM: 50,
		CacheTTL:     time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RateLimitRPM <= 0 {
		c.RateLimitRPM = d.RateLimitRPM
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	return c
}

// Metrics is a snapshot of a client's usage counters.
type Metrics struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalTokensIn   int64
	TotalTokensOut  int64
	TotalLatencyMs  int64
	CacheHits       int64
	CacheMisses     int64
}

type counters struct {
	requests, successes, failures atomic.Int64
	tokensIn, tokensOut           atomic.Int64
	latencyMs                     atomic.Int64
	cacheHits, cacheMisses        atomic.Int64
}

// ClaudeClient calls the Anthropic Messages API with a client-side rate
// limit and a response cache.
type ClaudeClient struct {
	cfg         Config
	http        *http.Client
	rateLimiter *rate.Limiter
	cache       *Cache
	stats       counters
	logger      *zap.Logger
}

func NewClaudeClient(cfg Config, logger *zap.Logger) (*ClaudeClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("claude: API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &ClaudeClient{
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitRPM)), 1),
		cache:       NewCache(),
		logger:      logger.Named("llm.claude"),
	}, nil
}

// Request is the Messages API request body.
type Request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the subset of the Messages API answer the client reads.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Complete asks for a deterministic single-turn answer. Cached answers come
// back with a nil usage.
func (c *ClaudeClient) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, *Usage, error) {
	c.stats.requests.Add(1)

	key := c.cacheKey(systemPrompt, userPrompt, maxTokens)
	if text, ok := c.cache.Get(key); ok {
		c.stats.cacheHits.Add(1)
		return text, nil, nil
	}
	c.stats.cacheMisses.Add(1)

	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.stats.failures.Add(1)
		return "", nil, fmt.Errorf("claude rate limit: %w", err)
	}

	began := time.Now()
	resp, err := c.send(ctx, Request{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  []Message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		c.stats.failures.Add(1)
		return "", nil, err
	}
	elapsed := time.Since(began)

	c.stats.successes.Add(1)
	c.stats.tokensIn.Add(int64(resp.Usage.InputTokens))
	c.stats.tokensOut.Add(int64(resp.Usage.OutputTokens))
	c.stats.latencyMs.Add(elapsed.Milliseconds())
	c.logger.Debug("completion received",
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("duration", elapsed),
	)

	usage := resp.Usage
	if len(resp.Content) == 0 {
		return "", &usage, errors.New("claude: response has no content")
	}
	text := resp.Content[0].Text
	c.cache.Set(key, text, c.cfg.CacheTTL)
	return text, &usage, nil
}

func (c *ClaudeClient) send(ctx context.Context, body Request) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding claude request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building claude request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling claude: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading claude response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: ProviderClaude, StatusCode: res.StatusCode, Body: string(raw)}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding claude response: %w", err)
	}
	return &out, nil
}

func (c *ClaudeClient) cacheKey(systemPrompt, userPrompt string, maxTokens int) string {
	return promptKey(c.cfg.Model, systemPrompt, userPrompt, maxTokensPart(maxTokens))
}

// GetMetrics returns the counters accumulated since the client was built.
func (c *ClaudeClient) GetMetrics() Metrics {
	return Metrics{
		TotalRequests:   c.stats.requests.Load(),
		SuccessRequests: c.stats.successes.Load(),
		FailedRequests:  c.stats.failures.Load(),
		TotalTokensIn:   c.stats.tokensIn.Load(),
		TotalTokensOut:  c.stats.tokensOut.Load(),
		TotalLatencyMs:  c.stats.latencyMs.Load(),
		CacheHits:       c.stats.cacheHits.Load(),
		CacheMisses:     c.stats.cacheMisses.Load(),
	}
}

func (c *ClaudeClient) Model() string { return c.cfg.Model }

func (c *ClaudeClient) Provider() string { return ProviderClaude }
