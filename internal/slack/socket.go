package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Socket Mode envelope types.
const (
	envelopeHello      = "hello"
	envelopeDisconnect = "disconnect"
	envelopeEventsAPI  = "events_api"
)

// ErrHandlerRequired is returned when a listener is built without an event handler.
var ErrHandlerRequired = errors.New("slack: event handler is required")

// ConnectionOpener returns a fresh Socket Mode websocket URL.
type ConnectionOpener interface {
	OpenConnection(ctx context.Context) (string, error)
}

// envelope is a Socket Mode frame.
type envelope struct {
	EnvelopeID   string          `json:"envelope_id,omitempty"`
	Type         string          `json:"type"`
	Reason       string          `json:"reason,omitempty"`
	RetryAttempt int             `json:"retry_attempt,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type ack struct {
	EnvelopeID string `json:"envelope_id"`
}

// SocketListener receives events over Slack Socket Mode and reconnects
// whenever the connection drops.
type SocketListener struct {
	opener     ConnectionOpener
	handler    EventHandler
	dialer     *websocket.Dialer
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// SocketOption configures a SocketListener.
type SocketOption func(*SocketListener)

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) SocketOption {
	return func(l *SocketListener) {
		l.dialer = d
	}
}

// WithSocketLogger sets the listener logger.
func WithSocketLogger(logger *slog.Logger) SocketOption {
	return func(l *SocketListener) {
		l.logger = logger
	}
}

// WithReconnectBackoff sets the reconnect backoff bounds.
func WithReconnectBackoff(minBackoff, maxBackoff time.Duration) SocketOption {
	return func(l *SocketListener) {
		l.minBackoff = minBackoff
		l.maxBackoff = maxBackoff
	}
}

// NewSocketListener creates a listener that delivers file_shared events to handler.
func NewSocketListener(opener ConnectionOpener, handler EventHandler, opts ...SocketOption) (*SocketListener, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	l := &SocketListener{
		opener:     opener,
		handler:    handler,
		dialer:     websocket.DefaultDialer,
		logger:     slog.Default(),
		minBackoff: 1 * time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run connects and serves until ctx is cancelled. Connection failures are
// logged and retried with exponential backoff; Run only returns ctx's error.
func (l *SocketListener) Run(ctx context.Context) error {
	backoff := l.minBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		healthy, err := l.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if healthy {
			// The connection reached hello; start the backoff over.
			backoff = l.minBackoff
		}

		if err != nil {
			l.logger.Warn("socket mode connection lost",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
		} else {
			l.logger.Info("socket mode reconnecting")
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

// connectAndServe runs one websocket session. healthy reports whether the
// server said hello. A nil error means the server asked to reconnect.
func (l *SocketListener) connectAndServe(ctx context.Context) (healthy bool, err error) {
	wsURL, err := l.opener.OpenConnection(ctx)
	if err != nil {
		return false, fmt.Errorf("open connection: %w", err)
	}

	conn, _, err := l.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return healthy, fmt.Errorf("read: %w", err)
		}

		switch env.Type {
		case envelopeHello:
			healthy = true
			l.logger.Info("socket mode connected")
		case envelopeDisconnect:
			l.logger.Info("socket mode disconnect requested", slog.String("reason", env.Reason))
			return healthy, nil
		default:
			if env.EnvelopeID != "" {
				if err := conn.WriteJSON(ack{EnvelopeID: env.EnvelopeID}); err != nil {
					return healthy, fmt.Errorf("ack: %w", err)
				}
			}
			if env.Type == envelopeEventsAPI {
				l.deliver(ctx, env)
			}
		}
	}
}

func (l *SocketListener) deliver(ctx context.Context, env envelope) {
	ev, ok, err := parseFileShared(env.Payload)
	if err != nil {
		l.logger.Warn("discarding malformed event",
			slog.String("envelope_id", env.EnvelopeID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		return
	}

	l.logger.Debug("file_shared received",
		slog.String("file_id", ev.FileID),
		slog.String("channel_id", ev.ChannelID),
		slog.Int("retry_attempt", env.RetryAttempt),
	)
	l.handler(ctx, ev)
}
