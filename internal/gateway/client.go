package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/dram/internal/state"
	"github.com/user/dram/internal/types"
)

var ErrEmptyMessage = errors.New("message is empty")

// Sender delivers an outbound request to the backend.
type Sender interface {
	Send(ctx context.Context, req Request) error
}

// Client is the outbound half of the bridge.
type Client struct {
	store      *state.Store
	sender     Sender
	retry      *RetryPolicy
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithRetryPolicy(p *RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithDispatcher serializes the client's store mutations with inbound frame handling.
func WithDispatcher(d *Dispatcher) ClientOption {
	return func(c *Client) { c.dispatcher = d }
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(store *state.Store, sender Sender, opts ...ClientOption) *Client {
	c := &Client{store: store, sender: sender, retry: DefaultRetryPolicy(), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) mutate(ctx context.Context, fn func()) error {
	if c.dispatcher == nil {
		fn()
		return nil
	}
	return c.dispatcher.Do(ctx, func(context.Context) error {
		fn()
		return nil
	})
}

// Connect opens the bridge with token and marks the store connected.
func (c *Client) Connect(ctx context.Context, token string) error {
	err := c.retry.Execute(ctx, func() error {
		return c.sender.Send(ctx, NewConnect(token))
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return c.mutate(ctx, func() { c.store.SetConnected(true) })
}

// SendMessage appends a user message to the current session and sends it. The session
// key is captured before sending so replies stay with the session the user typed in.
func (c *Client) SendMessage(ctx context.Context, text string) (types.RequestID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	var session types.SessionID
	if err := c.mutate(ctx, func() {
		session = c.store.CurrentSessionID()
		c.store.MutateSession(session, func(s *state.Session) {
			s.AppendMessage(types.Message{Role: types.RoleUser, Content: text})
			s.Indicator = state.Indicator{Active: true, Text: "Sending"}
		})
	}); err != nil {
		return "", err
	}

	req := NewChatSend(session, text)
	err := c.retry.Execute(ctx, func() error {
		return c.sender.Send(ctx, req)
	})
	if err != nil {
		_ = c.mutate(context.WithoutCancel(ctx), func() {
			c.store.MutateSession(session, func(s *state.Session) {
				s.Indicator = state.Indicator{}
			})
		})
		return "", fmt.Errorf("send chat message: %w", err)
	}
	c.logger.Debug("chat message sent", "request_id", req.ID, "session_id", session)
	return req.ID, nil
}

// RequestModels asks the backend for a routing metadata snapshot.
func (c *Client) RequestModels(ctx context.Context) error {
	if err := c.sender.Send(ctx, NewModelsStatus()); err != nil {
		return fmt.Errorf("request models status: %w", err)
	}
	return nil
}

// QueueVoiceResponse sends a sentence to the backend's speech stream for the current
// session. It is called from inside frame handling, so it never touches the dispatcher.
func (c *Client) QueueVoiceResponse(text string) error {
	req := NewVoiceStream(c.store.CurrentSessionID(), text)
	if err := c.sender.Send(context.Background(), req); err != nil {
		return fmt.Errorf("queue voice response: %w", err)
	}
	return nil
}

var _ types.VoiceSink = (*Client)(nil)
