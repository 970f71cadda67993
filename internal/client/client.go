// Package client is the Go-side consumer of the session engine: it joins
// a session over the realtime channel, keeps a live in-memory view of the
// room's content, and mirrors that view to a local SQLite file so the next
// start works offline.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mathysIN/copyman/internal/server"
	"github.com/mathysIN/copyman/internal/session"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultHTTPTimeout = 15 * time.Second
)

var (
	errMissingBaseURL   = errors.New("client: base url is required")
	errMissingSessionID = errors.New("client: session id is required")
)

// Config describes a client bound to one session.
type Config struct {
	// BaseURL is the http(s) root of the engine, without a trailing slash.
	BaseURL string
	// SessionID names the session to join.
	SessionID string
	// PasswordHash is the precomputed credential digest, empty for open sessions.
	PasswordHash string
	// Mirror, when set, receives every state change for offline hydration.
	Mirror *OfflineMirror
	// OnInsight, when set, is invoked with each presence snapshot.
	OnInsight func(insight json.RawMessage)
	Logger    *zap.Logger
}

// Client maintains the live view of one session.
type Client struct {
	baseURL      string
	sessionID    string
	passwordHash string
	httpClient   *http.Client
	dialer       *websocket.Dialer
	mirror       *OfflineMirror
	onInsight    func(json.RawMessage)
	logger       *zap.Logger

	mu           sync.Mutex
	content      []session.Content
	order        []string
	connectionID string

	writeMu sync.Mutex
	socket  *websocket.Conn
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	sessionID, err := session.NormalizeSessionID(cfg.SessionID)
	if err != nil {
		return nil, errMissingSessionID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      baseURL,
		sessionID:    sessionID,
		passwordHash: cfg.PasswordHash,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		dialer:       &websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
		mirror:       cfg.Mirror,
		onInsight:    cfg.OnInsight,
		logger:       logger,
	}, nil
}

// Hydrate loads the last mirrored state into the live view. It reports
// whether a mirrored state existed.
func (c *Client) Hydrate() (bool, error) {
	if c.mirror == nil {
		return false, nil
	}
	state, err := c.mirror.Load(c.sessionID)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}

	c.mu.Lock()
	c.content = state.Content
	c.order = state.Order
	c.mu.Unlock()
	return true, nil
}

// FetchState replaces the live view with the server's current content
// listing. Reconnects always go through here: missed events are never
// replayed, the full state is.
func (c *Client) FetchState(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/content", nil)
	if err != nil {
		return err
	}
	request.Header.Set("Cookie", c.cookieHeader())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close() //nolint:errcheck
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("client: content fetch returned status %d", response.StatusCode)
	}

	var items []json.RawMessage
	if err := json.NewDecoder(response.Body).Decode(&items); err != nil {
		return fmt.Errorf("client: decode content listing: %w", err)
	}
	content := make([]session.Content, 0, len(items))
	for _, item := range items {
		record, err := session.ContentFromJSON(item)
		if err != nil {
			return fmt.Errorf("client: decode content record: %w", err)
		}
		content = append(content, record)
	}

	c.mu.Lock()
	c.content = content
	c.mu.Unlock()
	return c.mirrorState()
}

// Listen dials the realtime channel and applies events until the context
// is canceled or the connection drops.
func (c *Client) Listen(ctx context.Context) error {
	socketURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/socket"
	header := http.Header{}
	header.Set("Cookie", c.cookieHeader())

	socket, _, err := c.dialer.DialContext(ctx, socketURL, header)
	if err != nil {
		return fmt.Errorf("client: dial realtime channel: %w", err)
	}
	defer socket.Close() //nolint:errcheck

	c.writeMu.Lock()
	c.socket = socket
	c.writeMu.Unlock()
	defer func() {
		c.writeMu.Lock()
		c.socket = nil
		c.writeMu.Unlock()
	}()

	if err := c.send(server.EventHello, nil); err != nil {
		return err
	}

	// The watchdog must not outlive this call: a server-side close ends
	// the read loop while the context is still alive, and a goroutine
	// parked on ctx.Done() would pile up across reconnects.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			socket.Close() //nolint:errcheck
		case <-readDone:
		}
	}()

	for {
		_, raw, err := socket.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("client: realtime channel closed: %w", err)
		}
		c.apply(raw)
	}
}

// Reorder moves the given ids to the front of the ordering, reconciles
// against the last known order, and announces the result to the room.
func (c *Client) Reorder(moved []string) error {
	c.mu.Lock()
	merged := session.MergeOrder(c.order, moved)
	c.order = merged
	c.mu.Unlock()

	if err := c.send(server.EventUpdatedContentOrder, merged); err != nil {
		return err
	}
	return c.mirrorState()
}

// Content returns the live view arranged by the known ordering.
func (c *Client) Content() []session.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	arranged := make([]session.Content, len(c.content))
	copy(arranged, c.content)
	session.SortContent(arranged, c.order)
	return arranged
}

// ConnectionID returns the id the server assigned on welcome, empty before it.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

func (c *Client) cookieHeader() string {
	header := "session=" + c.sessionID
	if c.passwordHash != "" {
		header += "; password=" + c.passwordHash
	}
	return header
}

func (c *Client) send(event string, payload any) error {
	encoded, err := json.Marshal(server.Envelope{Event: event, Payload: marshalPayload(payload)})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.socket == nil {
		return errors.New("client: realtime channel not connected")
	}
	return c.socket.WriteMessage(websocket.TextMessage, encoded)
}

func marshalPayload(payload any) json.RawMessage {
	if payload == nil {
		return nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return encoded
}

// apply folds one received event into the live view and refreshes the mirror.
func (c *Client) apply(raw []byte) {
	var envelope server.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.Debug("dropping malformed frame", zap.Error(err))
		return
	}

	switch envelope.Event {
	case server.EventWelcome:
		var welcome server.WelcomePayload
		if err := json.Unmarshal(envelope.Payload, &welcome); err != nil {
			return
		}
		c.mu.Lock()
		c.connectionID = welcome.ConnectionID
		c.mu.Unlock()
		return

	case server.EventRoomInsight:
		if c.onInsight != nil {
			c.onInsight(envelope.Payload)
		}
		return

	case server.EventAddContent:
		added, err := session.ContentListFromJSON(envelope.Payload)
		if err != nil {
			c.logger.Debug("dropping malformed addContent event", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.content = append(c.content, added...)
		c.mu.Unlock()

	case server.EventUpdatedContent:
		updated, err := session.ContentFromJSON(envelope.Payload)
		if err != nil {
			c.logger.Debug("dropping malformed updatedContent event", zap.Error(err))
			return
		}
		c.mu.Lock()
		for index, record := range c.content {
			if record.ContentID() == updated.ContentID() {
				c.content[index] = updated
				break
			}
		}
		c.mu.Unlock()

	case server.EventDeleteContent:
		var contentID string
		if err := json.Unmarshal(envelope.Payload, &contentID); err != nil || contentID == "" {
			return
		}
		c.mu.Lock()
		kept := c.content[:0]
		for _, record := range c.content {
			if record.ContentID() != contentID {
				kept = append(kept, record)
			}
		}
		c.content = kept
		c.mu.Unlock()

	case server.EventUpdatedContentOrder:
		var order []string
		if err := json.Unmarshal(envelope.Payload, &order); err != nil {
			return
		}
		c.mu.Lock()
		c.order = order
		c.mu.Unlock()

	default:
		c.logger.Debug("ignoring unknown event", zap.String("event", envelope.Event))
		return
	}

	if err := c.mirrorState(); err != nil {
		c.logger.Warn("offline mirror write failed", zap.Error(err))
	}
}

func (c *Client) mirrorState() error {
	if c.mirror == nil {
		return nil
	}
	c.mu.Lock()
	state := State{
		SessionID: c.sessionID,
		Content:   append([]session.Content(nil), c.content...),
		Order:     append([]string(nil), c.order...),
		UpdatedAt: time.Now().UTC(),
	}
	c.mu.Unlock()
	return c.mirror.Save(state)
}
