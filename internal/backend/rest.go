package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RESTConfig configures the HTTP fallback client.
type RESTConfig struct {
	BaseURL  string        // e.g., "http://localhost:8765"
	Timeout  time.Duration // per-request timeout
	UserName string        // reported to the agent with each chat
}

// DefaultRESTConfig returns sensible defaults
func DefaultRESTConfig() *RESTConfig {
	return &RESTConfig{
		BaseURL: "http://localhost:8765",
		Timeout: 60 * time.Second,
	}
}

// RESTClient is the request/response fallback used when the WebSocket
// channel is down. Same agent, no streaming events.
type RESTClient struct {
	config *RESTConfig
	client *http.Client
	logger zerolog.Logger
}

// NewRESTClient creates the HTTP fallback client
func NewRESTClient(cfg *RESTConfig, logger zerolog.Logger) *RESTClient {
	if cfg == nil {
		cfg = DefaultRESTConfig()
	}
	return &RESTClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "backend-rest").Logger(),
	}
}

// Ask sends a command over HTTP and returns the agent's reply.
func (c *RESTClient) Ask(ctx context.Context, text, threadID string) (Reply, error) {
	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Text:     text,
		ThreadID: threadID,
		UserName: c.config.UserName,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Reply{}, fmt.Errorf("chat request failed: %d - %s", resp.StatusCode, string(respBody))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return Reply{}, fmt.Errorf("decode response: %w", err)
	}

	latency := time.Since(start)
	c.logger.Info().
		Dur("latency", latency).
		Int("tools", len(chat.ToolsUsed)).
		Msg("Chat reply received")

	return Reply{
		Text:      chat.Response,
		ToolsUsed: chat.ToolsUsed,
		Latency:   latency,
	}, nil
}

// Status probes the agent service.
func (c *RESTClient) Status(ctx context.Context) (*StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status request failed: %d - %s", resp.StatusCode, string(respBody))
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}
