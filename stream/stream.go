// Package stream consumes the push events of a Coop topic over WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coop-messenger/coop-sync/coop"
)

// DefaultReconnectDelay is the pause between two connection attempts.
const DefaultReconnectDelay = 5 * time.Second

const readWait = 2 * time.Minute

// HandlerFunc receives the events of a topic served from baseURL.
type HandlerFunc func(ctx context.Context, baseURL string, ev coop.Event) (bool, error)

// A Subscriber keeps one WebSocket open to a topic and hands every event to
// Handle, reconnecting after failures.
type Subscriber struct {
	Logger  *slog.Logger
	BaseURL string
	Topic   string
	Token   string
	// Since returns the id of the newest known event, "" for none.
	Since  func() string
	Handle HandlerFunc

	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
}

// URL returns the WebSocket endpoint of topic on baseURL resuming after since.
func URL(baseURL, topic, since string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(topic) + "/ws")
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if since == "" {
		since = "all"
	}
	u.RawQuery = url.Values{"since": {since}}.Encode()
	return u.String(), nil
}

// Run streams events until ctx is done. It only returns ctx's error.
func (s *Subscriber) Run(ctx context.Context) error {
	delay := s.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	logger := s.Logger.With("topic_url", coop.TopicURL(s.BaseURL, s.Topic))

	for {
		err := s.stream(ctx, logger)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Stream disconnected", "error", err.Error(), "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Subscriber) stream(ctx context.Context, logger *slog.Logger) error {
	var since string
	if s.Since != nil {
		since = s.Since()
	}
	endpoint, err := URL(s.BaseURL, s.Topic, since)
	if err != nil {
		return err
	}

	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	logger.Info("Stream connected", "since", since)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("closed by server")
			}
			return fmt.Errorf("read: %w", err)
		}

		var ev coop.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("Could not decode event", "error", err.Error())
			continue
		}
		switch ev.Event {
		case coop.EventOpen, coop.EventKeepalive:
			continue
		}
		if ev.Topic == "" {
			ev.Topic = s.Topic
		}
		if _, err := s.Handle(ctx, s.BaseURL, ev); err != nil {
			logger.Error("Could not handle event", "id", ev.ID, "event", ev.Event, "error", err.Error())
		}
	}
}
