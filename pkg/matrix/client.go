// Package matrix wraps the homeserver client-server API for the
// bridge: bot and ghost sends, room provisioning and the media repo.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	bridgeerrors "slackmatrix/internal/errors"
	"slackmatrix/internal/models"
)

// Client is the Matrix surface the bridge uses. Ghost parameters are
// full MXIDs inside the appservice namespace; an empty sender means
// the bridge bot.
type Client interface {
	SendMessage(ctx context.Context, sender, roomID string, content *event.MessageEventContent) (string, error)
	SendReaction(ctx context.Context, sender, roomID, targetEventID, key string) (string, error)
	RedactEvent(ctx context.Context, sender, roomID, eventID string) error

	CreateRoom(ctx context.Context, name, topic string) (string, error)
	RegisterGhost(ctx context.Context, localpart string) error
	SetGhostDisplayName(ctx context.Context, ghostMXID, displayName string) error
	SetRoomName(ctx context.Context, roomID, name string) error
	SetRoomTopic(ctx context.Context, roomID, topic string) error
	EnsureJoined(ctx context.Context, sender, roomID string) error

	UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error)
	DownloadMedia(ctx context.Context, mxcURI string) ([]byte, error)
}

// AppClient talks to the homeserver with the appservice token,
// impersonating ghosts through the user_id query parameter. One
// underlying client per identity, lazily created and cached.
type AppClient struct {
	homeserverURL string
	asToken       string
	botMXID       id.UserID
	logger        *logrus.Logger

	mu      sync.Mutex
	clients map[id.UserID]*mautrix.Client
}

func NewAppClient(cfg models.MatrixConfig, asToken, botLocalpart string, logger *logrus.Logger) (*AppClient, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	c := &AppClient{
		homeserverURL: cfg.HomeserverURL,
		asToken:       asToken,
		botMXID:       id.NewUserID(botLocalpart, cfg.Domain),
		logger:        logger,
		clients:       make(map[id.UserID]*mautrix.Client),
	}
	// Fail fast on an unparsable homeserver URL.
	if _, err := c.intent(c.botMXID); err != nil {
		return nil, err
	}
	return c, nil
}

// BotMXID returns the bridge bot's user ID.
func (c *AppClient) BotMXID() string {
	return c.botMXID.String()
}

func (c *AppClient) intent(user id.UserID) (*mautrix.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cli, ok := c.clients[user]; ok {
		return cli, nil
	}

	cli, err := mautrix.NewClient(c.homeserverURL, user, c.asToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create homeserver client: %w", err)
	}
	cli.SetAppServiceUserID = true
	cli.DefaultHTTPRetries = 0 // the dispatcher owns retry policy
	c.clients[user] = cli
	return cli, nil
}

func (c *AppClient) sender(sender string) (*mautrix.Client, error) {
	if sender == "" {
		return c.intent(c.botMXID)
	}
	return c.intent(id.UserID(sender))
}

func (c *AppClient) SendMessage(ctx context.Context, sender, roomID string, content *event.MessageEventContent) (string, error) {
	cli, err := c.sender(sender)
	if err != nil {
		return "", err
	}
	resp, err := cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	if err != nil {
		return "", classify(err, "send message")
	}
	return resp.EventID.String(), nil
}

func (c *AppClient) SendReaction(ctx context.Context, sender, roomID, targetEventID, key string) (string, error) {
	cli, err := c.sender(sender)
	if err != nil {
		return "", err
	}
	content := &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{
			Type:    event.RelAnnotation,
			EventID: id.EventID(targetEventID),
			Key:     key,
		},
	}
	resp, err := cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventReaction, content)
	if err != nil {
		return "", classify(err, "send reaction")
	}
	return resp.EventID.String(), nil
}

func (c *AppClient) RedactEvent(ctx context.Context, sender, roomID, eventID string) error {
	cli, err := c.sender(sender)
	if err != nil {
		return err
	}
	if _, err := cli.RedactEvent(ctx, id.RoomID(roomID), id.EventID(eventID)); err != nil {
		return classify(err, "redact event")
	}
	return nil
}

// CreateRoom provisions a bridged room owned by the bot.
func (c *AppClient) CreateRoom(ctx context.Context, name, topic string) (string, error) {
	cli, err := c.intent(c.botMXID)
	if err != nil {
		return "", err
	}
	resp, err := cli.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Name:   name,
		Topic:  topic,
		Preset: "private_chat",
	})
	if err != nil {
		return "", classify(err, "create room")
	}
	return resp.RoomID.String(), nil
}

// RegisterGhost registers a ghost account. An already-registered ghost
// is not an error; registration is idempotent by construction.
func (c *AppClient) RegisterGhost(ctx context.Context, localpart string) error {
	cli, err := c.intent(c.botMXID)
	if err != nil {
		return err
	}
	_, _, err = cli.Register(ctx, &mautrix.ReqRegister{
		Username:     localpart,
		Type:         mautrix.AuthTypeAppservice,
		InhibitLogin: true,
	})
	if err != nil && !errors.Is(err, mautrix.MUserInUse) {
		return classify(err, "register ghost")
	}
	return nil
}

func (c *AppClient) SetGhostDisplayName(ctx context.Context, ghostMXID, displayName string) error {
	cli, err := c.sender(ghostMXID)
	if err != nil {
		return err
	}
	if err := cli.SetDisplayName(ctx, displayName); err != nil {
		return classify(err, "set display name")
	}
	return nil
}

func (c *AppClient) SetRoomName(ctx context.Context, roomID, name string) error {
	cli, err := c.intent(c.botMXID)
	if err != nil {
		return err
	}
	_, err = cli.SendStateEvent(ctx, id.RoomID(roomID), event.StateRoomName, "",
		&event.RoomNameEventContent{Name: name})
	if err != nil {
		return classify(err, "set room name")
	}
	return nil
}

func (c *AppClient) SetRoomTopic(ctx context.Context, roomID, topic string) error {
	cli, err := c.intent(c.botMXID)
	if err != nil {
		return err
	}
	_, err = cli.SendStateEvent(ctx, id.RoomID(roomID), event.StateTopic, "",
		&event.TopicEventContent{Topic: topic})
	if err != nil {
		return classify(err, "set room topic")
	}
	return nil
}

// EnsureJoined joins the sender to the room, inviting first if the
// room is invite-only.
func (c *AppClient) EnsureJoined(ctx context.Context, sender, roomID string) error {
	cli, err := c.sender(sender)
	if err != nil {
		return err
	}
	if _, err := cli.JoinRoomByID(ctx, id.RoomID(roomID)); err == nil {
		return nil
	}

	bot, err := c.intent(c.botMXID)
	if err != nil {
		return err
	}
	target := sender
	if target == "" {
		target = c.botMXID.String()
	}
	if _, err := bot.InviteUser(ctx, id.RoomID(roomID), &mautrix.ReqInviteUser{UserID: id.UserID(target)}); err != nil {
		return classify(err, "invite to room")
	}
	if _, err := cli.JoinRoomByID(ctx, id.RoomID(roomID)); err != nil {
		return classify(err, "join room")
	}
	return nil
}

func (c *AppClient) UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	cli, err := c.intent(c.botMXID)
	if err != nil {
		return "", err
	}
	resp, err := cli.UploadMedia(ctx, mautrix.ReqUploadMedia{
		ContentBytes: data,
		ContentType:  mimeType,
		FileName:     filename,
	})
	if err != nil {
		return "", classify(err, "upload media")
	}
	return resp.ContentURI.String(), nil
}

func (c *AppClient) DownloadMedia(ctx context.Context, mxcURI string) ([]byte, error) {
	cli, err := c.intent(c.botMXID)
	if err != nil {
		return nil, err
	}
	uri, err := id.ParseContentURI(mxcURI)
	if err != nil {
		return nil, bridgeerrors.Malformed(err, "invalid mxc URI")
	}
	data, err := cli.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, classify(err, "download media")
	}
	return data, nil
}

// classify maps homeserver errors onto the bridge error taxonomy so
// the dispatcher can pick the right retry behavior.
func classify(err error, op string) error {
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) {
		status := 0
		if httpErr.Response != nil {
			status = httpErr.Response.StatusCode
		}
		switch {
		case errors.Is(err, mautrix.MLimitExceeded) || status == http.StatusTooManyRequests:
			retryAfter := time.Second
			if httpErr.RespError != nil {
				if ms, ok := httpErr.RespError.ExtraData["retry_after_ms"].(float64); ok && ms > 0 {
					retryAfter = time.Duration(ms) * time.Millisecond
				}
			}
			return bridgeerrors.RateLimited(retryAfter, fmt.Sprintf("%s rate limited", op))
		case errors.Is(err, mautrix.MNotFound):
			return bridgeerrors.Wrap(err, bridgeerrors.ErrCodeNotFound, op)
		case status >= 500:
			return bridgeerrors.Transient(err, op)
		}
		return bridgeerrors.Wrap(err, bridgeerrors.ErrCodeMatrixAPI, op)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Non-HTTP failures are connection-level and worth retrying.
	return bridgeerrors.Transient(err, op)
}
