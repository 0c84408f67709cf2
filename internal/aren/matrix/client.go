// Package matrix connects the assistant to Matrix rooms. Every text message
// in a configured room is one turn of the sender's session in that room,
// and the reply is posted back as a threaded reply.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aren-assistant/aren/common/redact"
	"github.com/aren-assistant/aren/internal/aren/memory"
)

// typingTimeout bounds the typing indicator shown while a turn runs.
const typingTimeout = 10 * time.Second

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms lists the room IDs where the assistant answers.
	Rooms []string
	// SyncState persists the sync position across restarts. When nil, an
	// in-memory store is used and old messages replay on restart.
	SyncState SyncStateStore
}

// TurnHandler answers one utterance. *dispatch.Dispatcher implements it.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sessionID, text string) (string, error)
}

// Client wraps the Matrix client.
type Client struct {
	client *mautrix.Client
	config Config
	rooms  map[string]bool
	turns  TurnHandler
	stopCh chan struct{}
	logger *slog.Logger
}

// New creates a Matrix client. Nothing is sent until Start.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix: homeserver, user ID and access token are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	if cfg.SyncState != nil {
		client.Store = newSyncStore(cfg.SyncState)
	} else {
		logger.Warn("matrix: no sync store configured, messages will replay on restart")
	}

	rooms := make(map[string]bool, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		rooms[r] = true
	}
	return &Client{
		client: client,
		config: cfg,
		rooms:  rooms,
		stopCh: make(chan struct{}),
		logger: logger,
	}, nil
}

// Start joins the configured rooms and syncs in the background, reconnecting
// with exponential back-off after homeserver errors.
func (c *Client) Start(ctx context.Context, turns TurnHandler) error {
	c.turns = turns

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			err := c.client.SyncWithContext(ctx)
			if err == nil || ctx.Err() != nil {
				return
			}
			select {
			case <-c.stopCh:
				return
			default:
			}
			c.logger.Error("matrix: sync stopped; reconnecting", "err", redact.Error(err, c.config.AccessToken), "backoff", backoff)
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffMax)
		}
	}()
	return nil
}

// Stop stops syncing.
func (c *Client) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.client.StopSync()
}

// UserID returns the client's own user ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

// SessionID returns the session a message belongs to: one per sender per
// room.
func SessionID(roomID, sender string) string {
	return memory.SessionKey(roomID, sender)
}

// accept decides whether evt is a turn and returns its session and text.
func (c *Client) accept(evt *event.Event) (string, string, bool) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return "", "", false
	}
	if !c.rooms[evt.RoomID.String()] {
		return "", "", false
	}
	msg, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || msg.MsgType != event.MsgText {
		return "", "", false
	}
	text := stripReplyFallback(msg.Body)
	if strings.TrimSpace(text) == "" {
		return "", "", false
	}
	return SessionID(evt.RoomID.String(), evt.Sender.String()), text, true
}

// handleMessage runs the turn and replies. Turns are handled in sync order,
// so a user's messages are answered in the order they were sent.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	sessionID, text, ok := c.accept(evt)
	if !ok || c.turns == nil {
		return
	}

	if _, err := c.client.UserTyping(ctx, evt.RoomID, true, typingTimeout); err != nil {
		c.logger.Debug("matrix: typing indicator failed", "room", evt.RoomID, "err", err)
	}
	reply, err := c.turns.HandleTurn(ctx, sessionID, text)
	if _, terr := c.client.UserTyping(ctx, evt.RoomID, false, 0); terr != nil {
		c.logger.Debug("matrix: typing indicator failed", "room", evt.RoomID, "err", terr)
	}
	if err != nil {
		c.logger.Warn("matrix: turn failed", "session", sessionID, "err", err)
		return
	}

	if err := c.replyTo(ctx, evt.RoomID, evt.ID, reply); err != nil {
		c.logger.Error("matrix: reply failed", "room", evt.RoomID, "err", err)
	}
}

func (c *Client) replyTo(ctx context.Context, roomID id.RoomID, eventID id.EventID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    message,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: eventID},
		},
	}
	if _, err := c.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

// stripReplyFallback drops the quoted "> " lines clients prepend to the
// body of a reply.
func stripReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	return strings.TrimSpace(strings.Join(lines[i:], "\n"))
}
