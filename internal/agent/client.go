// Package agent is the gateway to the external conversational service:
// endpoint URL normalization, the chat call, and a lightweight health probe.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"memobox/internal/errors"
)

// Client talks to one configured agent endpoint.
type Client struct {
	httpClient *http.Client
	rawURL     string
}

// New creates a client for the given raw (possibly unnormalized) endpoint.
func New(rawURL string) *Client {
	return &Client{
		httpClient: &http.Client{},
		rawURL:     rawURL,
	}
}

// Reply is a successful chat response.
type Reply struct {
	Reply    string `json:"reply"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Health is a successful probe result.
type Health struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type chatRequest struct {
	System   string    `json:"system"`
	Messages []Message `json:"messages"`
}

// chatResponse is the superset body shape: reply fields on success, an
// optional error text otherwise.
type chatResponse struct {
	Reply    string `json:"reply"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Error    string `json:"error"`
}

// Call issues a single POST {system, messages} under the caller's context.
// A non-2xx status or a malformed success body is a transport failure
// carrying the server's error text when present, else the status code.
// Context cancellation surfaces as a cancellation error.
func (c *Client) Call(ctx context.Context, system string, messages []Message) (*Reply, error) {
	body, err := json.Marshal(chatRequest{System: system, Messages: messages})
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, NormalizeChatURL(c.rawURL), bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewTransportFailed(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled()
		}
		return nil, errors.NewTransportFailed(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled()
		}
		return nil, errors.NewTransportFailed(err.Error())
	}

	var data chatResponse
	parseErr := json.Unmarshal(raw, &data)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(data.Error)
		if msg == "" {
			msg = strconv.Itoa(resp.StatusCode)
		}
		return nil, errors.NewTransportFailed(msg)
	}
	if parseErr != nil {
		return nil, errors.NewTransportFailed("malformed response body")
	}

	return &Reply{Reply: data.Reply, Provider: data.Provider, Model: data.Model}, nil
}

// Probe checks reachability: a GET on the health URL first (cheap, no side
// effects), falling back to a trivial chat call. A reachable-but-degraded
// service still reports its provider/model; otherwise the failure is a
// structured unreachability error.
func (c *Client) Probe(ctx context.Context, system string) (*Health, error) {
	if h := c.probeHealth(ctx); h != nil {
		return h, nil
	}
	if ctx.Err() != nil {
		return nil, errors.NewCancelled()
	}

	reply, err := c.Call(ctx, system, []Message{{Role: "user", Content: TextContent("hello")}})
	if err != nil {
		if errors.Is(err, errors.ErrCancelled) {
			return nil, err
		}
		return nil, errors.NewAgentUnreachable(NormalizeChatURL(c.rawURL))
	}
	provider := reply.Provider
	if provider == "" {
		provider = "agent"
	}
	return &Health{Provider: provider, Model: reply.Model}, nil
}

// probeHealth returns a Health on a successful GET, nil otherwise.
func (c *Client) probeHealth(ctx context.Context) *Health {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, HealthURL(c.rawURL), nil)
	if err != nil {
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}

	var h Health
	// A malformed health body still counts as reachable.
	raw, err := io.ReadAll(resp.Body)
	if err == nil {
		_ = json.Unmarshal(raw, &h)
	}
	if h.Provider == "" {
		h.Provider = "health"
	}
	return &h
}
