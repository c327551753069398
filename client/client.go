// Package client calls the Coop server on behalf of the local user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coop-messenger/coop-sync/coop"
	"github.com/coop-messenger/coop-sync/metrics"
)

// Client is a coop.Client over HTTP. The server is chosen per call by its
// base URL, so one Client serves subscriptions on several servers.
type Client struct {
	httpClient *http.Client
	token      string
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// New returns a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-success response of the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("coop server: status %d", e.Status)
	}
	return fmt.Sprintf("coop server: status %d: %s", e.Status, e.Message)
}

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type emojiRequest struct {
	Emoji string `json:"emoji"`
}

type topicRequest struct {
	Topic string `json:"topic"`
}

// ToggleReaction flips the local user's emoji on a message.
func (c *Client) ToggleReaction(ctx context.Context, baseURL, messageID, emoji string) error {
	endpoint := "/v1/coop/messages/" + url.PathEscape(messageID) + "/reactions"
	return c.call(ctx, "toggle_reaction", http.MethodPost, baseURL, endpoint, nil, emojiRequest{Emoji: emoji}, nil)
}

// ListReactions returns the reactions of every message of topic.
func (c *Client) ListReactions(ctx context.Context, baseURL, topic string) ([]coop.MessageReactions, error) {
	var out []coop.MessageReactions
	query := url.Values{"topic": {topic}}
	if err := c.call(ctx, "list_reactions", http.MethodGet, baseURL, "/v1/coop/reactions", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendTyping signals that the local user is typing in topic.
func (c *Client) SendTyping(ctx context.Context, baseURL, topic string) error {
	return c.call(ctx, "typing", http.MethodPost, baseURL, "/v1/coop/typing", nil, topicRequest{Topic: topic}, nil)
}

// SendNudge nudges topic. A server-side rate limit is reported as
// coop.ErrRateLimited.
func (c *Client) SendNudge(ctx context.Context, baseURL, topic string) error {
	return c.call(ctx, "nudge", http.MethodPost, baseURL, "/v1/coop/nudge", nil, topicRequest{Topic: topic}, nil)
}

// Publish sends a message and returns the event the server stored.
func (c *Client) Publish(ctx context.Context, baseURL string, req coop.PublishRequest) (coop.Event, error) {
	var ev coop.Event
	if err := c.call(ctx, "publish", http.MethodPost, baseURL, "/", nil, req, &ev); err != nil {
		return coop.Event{}, err
	}
	return ev, nil
}

func (c *Client) call(ctx context.Context, operation, method, baseURL, endpoint string, query url.Values, body, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveRequest(operation, start, err) }()

	req, err := c.newRequest(ctx, method, baseURL, endpoint, query, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, baseURL, endpoint string, query url.Values, body any) (*http.Request, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) && uerr.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, coop.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, coop.ErrNotFound)
	case resp.StatusCode >= http.StatusBadRequest:
		apiErr := &APIError{Status: resp.StatusCode}
		var er errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
			apiErr.Message = er.Error
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
