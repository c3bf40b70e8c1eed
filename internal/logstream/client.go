// Package logstream follows the backend's live trigger-log feed over SSE,
// keeping a bounded in-memory tail for the control surface.
package logstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/metrics"
)

// State of the stream connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	// DefaultReconnectDelay is the fixed wait between reconnect attempts.
	// Deliberately not backed off: the feed is advisory and the operator
	// expects it back as soon as the backend is.
	DefaultReconnectDelay = 3 * time.Second

	// DefaultBufferSize caps the retained tail.
	DefaultBufferSize = 500
)

// Entry is one retained log line.
type Entry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// frame is the wire shape of one SSE data payload.
type frame struct {
	Type      string    `json:"type"` // "log" or "heartbeat"
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Config struct {
	URL            string
	Token          string // appended as ?token= when set
	ReconnectDelay time.Duration
	BufferSize     int
}

// Client maintains the SSE connection and the ring buffer. Safe for
// concurrent use; Run owns the connection goroutine.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.RWMutex
	state   State
	entries []Entry
	paused  bool
	follow  func(Entry) // live delivery, skipped while paused
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	return &Client{
		cfg: cfg,
		// No client timeout: the connection is long-lived and the
		// context handles cancellation.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// OnEntry registers a live delivery callback. Entries arriving while the
// client is paused are buffered but not delivered.
func (c *Client) OnEntry(fn func(Entry)) {
	c.mu.Lock()
	c.follow = fn
	c.mu.Unlock()
}

// Run connects and reconnects until the context is cancelled. Every failure
// path waits the same fixed delay before retrying; retries are unbounded.
func (c *Client) Run(ctx context.Context) {
	for {
		c.setState(StateConnecting)

		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateDisconnected)
		c.logger.Warn("log stream disconnected, reconnecting",
			zap.Duration("delay", c.cfg.ReconnectDelay),
			zap.Error(err),
		)
		metrics.RecordStreamReconnect()

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// consume opens one connection and reads frames until it drops.
func (c *Client) consume(ctx context.Context) error {
	url := c.cfg.URL
	if c.cfg.Token != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "token=" + neturl.QueryEscape(c.cfg.Token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	c.setState(StateConnected)
	c.logger.Info("log stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var f frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			c.logger.Debug("skipping malformed stream frame", zap.Error(err))
			continue
		}

		switch f.Type {
		case "heartbeat":
			// Keeps the connection alive, never buffered
		case "log":
			c.append(Entry{Message: f.Message, Timestamp: f.Timestamp})
		default:
			c.logger.Debug("skipping unknown frame type", zap.String("type", f.Type))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return fmt.Errorf("stream closed by server")
}

// append retains an entry, evicting the oldest when the buffer is full, and
// delivers it live unless paused.
func (c *Client) append(e Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	if len(c.entries) > c.cfg.BufferSize {
		c.entries = c.entries[len(c.entries)-c.cfg.BufferSize:]
	}
	follow := c.follow
	paused := c.paused
	c.mu.Unlock()

	metrics.SetStreamBufferEntries(c.Len())

	if follow != nil && !paused {
		follow(e)
	}
}

// Pause stops live delivery. Buffering continues.
func (c *Client) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume restarts live delivery.
func (c *Client) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Paused reports whether live delivery is suspended.
func (c *Client) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Entries returns a copy of the retained tail, oldest first.
func (c *Client) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of retained entries.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
