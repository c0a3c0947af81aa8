// Package bridge is the core: it turns queued events from one network
// into API calls on the other, resolving identities and message
// correlations on the way.
package bridge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	bridgeerrors "slackmatrix/internal/errors"
	"slackmatrix/internal/identity"
	"slackmatrix/internal/metrics"
	"slackmatrix/internal/models"
	"slackmatrix/internal/tracing"
	"slackmatrix/internal/translate"
	"slackmatrix/pkg/matrix"
	"slackmatrix/pkg/slack"
	"slackmatrix/pkg/slack/types"
)

// Store is the message-correlation persistence the bridge needs.
// Satisfied by *database.Database.
type Store interface {
	SaveMessageMapping(ctx context.Context, mapping *models.MessageMapping) error
	GetMessageMappingByMatrixEventID(ctx context.Context, matrixEventID string) (*models.MessageMapping, error)
	GetMessageMappingBySlackMsgID(ctx context.Context, slackMsgID, matrixRoomID string) (*models.MessageMapping, error)
	BumpEditedVersion(ctx context.Context, matrixEventID string) error
	UpdateRoomMeta(ctx context.Context, slackChannelID, name, topic string) error
	UpdateUserProfile(ctx context.Context, slackUserID, displayName, avatarURL, avatarMXC string) error
}

// Identities resolves rooms and users, provisioning the missing side on
// first contact. Satisfied by *identity.Mapper.
type Identities interface {
	IsGhost(mxid string) bool
	ResolveRoomBySlack(ctx context.Context, slackChannelID, name, topic string) (*models.RoomMapping, error)
	ResolveRoomByMatrix(ctx context.Context, matrixRoomID, name string) (*models.RoomMapping, error)
	ResolveUser(ctx context.Context, slackUserID string) (*models.UserMapping, error)
}

// Files moves attachments across networks. Satisfied by
// *filetransfer.Coordinator.
type Files interface {
	UploadToSlack(ctx context.Context, att *models.Attachment, channelID, threadTS string) (string, error)
	TransferToMatrix(ctx context.Context, att *models.Attachment) (string, error)
}

// Config carries the bridge's own identity and limits.
type Config struct {
	Limits models.LimitsConfig
	Ghosts models.GhostsConfig
	Domain string
	// BotMXID and SlackBotUserID identify the bridge's own accounts so
	// their events are never echoed back.
	BotMXID        string
	SlackBotUserID string
}

// Bridge delivers queued events to their destination network. It is the
// dispatcher's Handler; everything here may be retried, so every
// operation is written to be idempotent or tolerated on repeat.
type Bridge struct {
	store    Store
	ids      Identities
	slack    slack.Client
	matrix   matrix.Client
	files    Files
	cfg      Config
	registry *metrics.Registry
	logger   *logrus.Logger

	queue Enqueuer
}

func New(store Store, ids Identities, slackClient slack.Client, matrixClient matrix.Client, files Files, cfg Config, registry *metrics.Registry, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Bridge{
		store:    store,
		ids:      ids,
		slack:    slackClient,
		matrix:   matrixClient,
		files:    files,
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
}

// Deliver routes one event to the opposite network.
func (b *Bridge) Deliver(ctx context.Context, evt *models.BridgeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "bridge.deliver",
		attribute.String("event.kind", string(evt.Kind)),
		attribute.String("event.source", string(evt.Source)),
	)
	defer span.End()

	var err error
	switch evt.Source {
	case models.SourceSlack:
		err = b.deliverToMatrix(ctx, evt)
	case models.SourceMatrix:
		err = b.deliverToSlack(ctx, evt)
	default:
		err = bridgeerrors.New(bridgeerrors.ErrCodeInvalidInput, fmt.Sprintf("unknown source network %q", evt.Source))
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (b *Bridge) deliverToMatrix(ctx context.Context, evt *models.BridgeEvent) error {
	switch evt.Kind {
	case models.EventMessage:
		return b.slackMessageToMatrix(ctx, evt)
	case models.EventEdit:
		return b.slackEditToMatrix(ctx, evt)
	case models.EventDelete:
		return b.slackDeleteToMatrix(ctx, evt)
	case models.EventReactionAdd:
		return b.slackReactionToMatrix(ctx, evt)
	case models.EventReactionRemove:
		return b.slackReactionRemovalToMatrix(ctx, evt)
	case models.EventRoomMeta:
		return b.slackRoomMetaToMatrix(ctx, evt)
	case models.EventUserMeta:
		return b.slackUserMetaToMatrix(ctx, evt)
	}
	return bridgeerrors.New(bridgeerrors.ErrCodeInvalidInput, fmt.Sprintf("unknown event kind %q", evt.Kind))
}

func (b *Bridge) deliverToSlack(ctx context.Context, evt *models.BridgeEvent) error {
	switch evt.Kind {
	case models.EventMessage:
		return b.matrixMessageToSlack(ctx, evt)
	case models.EventEdit:
		return b.matrixEditToSlack(ctx, evt)
	case models.EventDelete:
		return b.matrixDeleteToSlack(ctx, evt)
	case models.EventReactionAdd:
		return b.matrixReactionToSlack(ctx, evt)
	case models.EventRoomMeta:
		return b.matrixRoomMetaToSlack(ctx, evt)
	}
	return bridgeerrors.New(bridgeerrors.ErrCodeInvalidInput, fmt.Sprintf("unknown event kind %q", evt.Kind))
}

// slackMentionRe finds user mentions in raw mrkdwn.
var slackMentionRe = regexp.MustCompile(`<@([A-Z0-9]+)[>|]`)

// matrixPillRe finds user pills in Matrix formatted bodies.
var matrixPillRe = regexp.MustCompile(`matrix\.to/#/(@[^"?]+)`)

func (b *Bridge) slackMessageToMatrix(ctx context.Context, evt *models.BridgeEvent) error {
	if evt.Body == "" && len(evt.Attachments) == 0 {
		return nil
	}

	room, err := b.ids.ResolveRoomBySlack(ctx, evt.SourceRoomID, b.roomNameFor(evt), evt.Topic)
	if err != nil {
		return err
	}
	ghost, err := b.ids.ResolveUser(ctx, evt.SenderID)
	if err != nil {
		return err
	}
	if err := b.matrix.EnsureJoined(ctx, ghost.MatrixUserID, room.MatrixRoomID); err != nil {
		return err
	}

	mctx, err := b.slackMappingContext(ctx, evt, room)
	if err != nil {
		return err
	}

	var firstEventID string
	if evt.Body != "" {
		for _, content := range translate.SlackToMatrix(evt.Body, mctx) {
			eventID, err := b.matrix.SendMessage(ctx, ghost.MatrixUserID, room.MatrixRoomID, content)
			if err != nil {
				return err
			}
			if firstEventID == "" {
				firstEventID = eventID
			}
		}
	}

	var mediaMXC string
	for i := range evt.Attachments {
		att := &evt.Attachments[i]
		mxc, err := b.files.TransferToMatrix(ctx, att)
		if err != nil {
			return err
		}
		eventID, err := b.matrix.SendMessage(ctx, ghost.MatrixUserID, room.MatrixRoomID, fileContent(att, mxc, mctx))
		if err != nil {
			return err
		}
		if firstEventID == "" {
			firstEventID = eventID
		}
		mediaMXC = mxc
	}

	if err := b.store.SaveMessageMapping(ctx, &models.MessageMapping{
		MatrixRoomID:  room.MatrixRoomID,
		MatrixEventID: firstEventID,
		SlackMsgID:    evt.SourceEventID,
		ThreadRoot:    evt.ThreadID,
		MediaMXC:      mediaMXC,
	}); err != nil {
		return err
	}

	b.registry.IncrementCounter(metrics.MessagesBridgedSlackToMatrix, nil)
	return nil
}

func (b *Bridge) slackEditToMatrix(ctx context.Context, evt *models.BridgeEvent) error {
	room, target, err := b.requireSlackTarget(ctx, evt.SourceRoomID, evt.TargetEventID)
	if err != nil {
		return err
	}
	ghost, err := b.ids.ResolveUser(ctx, evt.SenderID)
	if err != nil {
		return err
	}
	mctx, err := b.slackMappingContext(ctx, evt, room)
	if err != nil {
		return err
	}

	content := translate.SlackEditToMatrix(evt.Body, mctx, id.EventID(target.MatrixEventID))
	if _, err := b.matrix.SendMessage(ctx, ghost.MatrixUserID, room.MatrixRoomID, content); err != nil {
		return err
	}
	return b.store.BumpEditedVersion(ctx, target.MatrixEventID)
}

func (b *Bridge) slackDeleteToMatrix(ctx context.Context, evt *models.BridgeEvent) error {
	room, target, err := b.requireSlackTarget(ctx, evt.SourceRoomID, evt.TargetEventID)
	if err != nil {
		return err
	}
	// Deletions arrive without the author; the bot holds redaction power
	// in bridged rooms.
	return b.matrix.RedactEvent(ctx, "", room.MatrixRoomID, target.MatrixEventID)
}

func (b *Bridge) slackReactionToMatrix(ctx context.Context, evt *models.BridgeEvent) error {
	room, target, err := b.requireSlackTarget(ctx, evt.SourceRoomID, evt.TargetEventID)
	if err != nil {
		return err
	}
	ghost, err := b.ids.ResolveUser(ctx, evt.SenderID)
	if err != nil {
		return err
	}
	if err := b.matrix.EnsureJoined(ctx, ghost.MatrixUserID, room.MatrixRoomID); err != nil {
		return err
	}

	key := translate.EmojiToReactionKey(evt.Emoji)
	eventID, err := b.matrix.SendReaction(ctx, ghost.MatrixUserID, room.MatrixRoomID, target.MatrixEventID, key)
	if err != nil {
		return err
	}
	// Recorded so the later reaction_removed can find its annotation.
	return b.store.SaveMessageMapping(ctx, &models.MessageMapping{
		MatrixRoomID:  room.MatrixRoomID,
		MatrixEventID: eventID,
		SlackMsgID:    reactionRef(evt.TargetEventID, evt.Emoji, evt.SenderID),
	})
}

func (b *Bridge) slackReactionRemovalToMatrix(ctx context.Context, evt *models.BridgeEvent) error {
	room, err := b.ids.ResolveRoomBySlack(ctx, evt.SourceRoomID, b.roomNameFor(evt), "")
	if err != nil {
		return err
	}
	ref, err := b.store.GetMessageMappingBySlackMsgID(ctx, reactionRef(evt.TargetEventID, evt.Emoji, evt.SenderID), room.MatrixRoomID)
	if err != nil {
		return err
	}
	if ref == nil {
		// The reaction was never bridged (pre-dates the bridge or was
		// dropped); nothing to remove.
		b.logger.WithFields(logrus.Fields{
			"channel": evt.SourceRoomID,
			"emoji":   evt.Emoji,
		}).Debug("Ignoring removal of unbridged reaction")
		return nil
	}
	ghost, err := b.ids.ResolveUser(ctx, evt.SenderID)
	if err != nil {
		return err
	}
	return b.matrix.RedactEvent(ctx, ghost.MatrixUserID, room.MatrixRoomID, ref.MatrixEventID)
}

func (b *Bridge) slackRoomMetaToMatrix(ctx context.Context, evt *models.BridgeEvent) error {
	room, err := b.ids.ResolveRoomBySlack(ctx, evt.SourceRoomID, b.roomNameFor(evt), evt.Topic)
	if err != nil {
		return err
	}
	if evt.Name != "" {
		if err := b.matrix.SetRoomName(ctx, room.MatrixRoomID, evt.Name); err != nil {
			return err
		}
	}
	if evt.Topic != "" {
		if err := b.matrix.SetRoomTopic(ctx, room.MatrixRoomID, evt.Topic); err != nil {
			return err
		}
	}
	name := evt.Name
	if name == "" {
		name = room.Name
	}
	topic := evt.Topic
	if topic == "" {
		topic = room.Topic
	}
	return b.store.UpdateRoomMeta(ctx, evt.SourceRoomID, name, topic)
}

// slackUserMetaToMatrix applies a profile change pushed by Slack.
// Conflicts with TTL-driven refreshes resolve last-writer-wins.
func (b *Bridge) slackUserMetaToMatrix(ctx context.Context, evt *models.BridgeEvent) error {
	ghost, err := b.ids.ResolveUser(ctx, evt.SenderID)
	if err != nil {
		return err
	}
	if evt.DisplayName != "" && evt.DisplayName != ghost.DisplayName {
		name := identity.GhostDisplayname(b.cfg.Ghosts.DisplaynameTemplate, evt.DisplayName)
		if err := b.matrix.SetGhostDisplayName(ctx, ghost.MatrixUserID, name); err != nil {
			return err
		}
	}
	return b.store.UpdateUserProfile(ctx, evt.SenderID, evt.DisplayName, evt.AvatarURL, ghost.AvatarMXC)
}

func (b *Bridge) matrixMessageToSlack(ctx context.Context, evt *models.BridgeEvent) error {
	if evt.Body == "" && len(evt.Attachments) == 0 {
		return nil
	}

	room, err := b.ids.ResolveRoomByMatrix(ctx, evt.SourceRoomID, b.roomNameFor(evt))
	if err != nil {
		return err
	}

	threadTS, err := b.slackThreadFor(ctx, evt.ThreadID)
	if err != nil {
		return err
	}
	mctx := b.matrixMappingContext(ctx, evt)
	mctx.ThreadRootSlack = threadTS

	username, iconURL := b.puppetIdentity(evt)

	var firstTS string
	if evt.Body != "" {
		content := matrixContent(evt)
		for _, text := range translate.MatrixToSlack(content, mctx) {
			ts, err := b.slack.PostMessage(ctx, &types.PostMessageRequest{
				Channel:  room.SlackChannelID,
				Text:     text,
				ThreadTS: threadTS,
				Username: username,
				IconURL:  iconURL,
			})
			if err != nil {
				return err
			}
			if firstTS == "" {
				firstTS = ts
			}
		}
	}

	for i := range evt.Attachments {
		if _, err := b.files.UploadToSlack(ctx, &evt.Attachments[i], room.SlackChannelID, threadTS); err != nil {
			return err
		}
	}

	if firstTS != "" {
		if err := b.store.SaveMessageMapping(ctx, &models.MessageMapping{
			MatrixRoomID:  evt.SourceRoomID,
			MatrixEventID: evt.SourceEventID,
			SlackMsgID:    firstTS,
			ThreadRoot:    threadTS,
		}); err != nil {
			return err
		}
	}

	b.registry.IncrementCounter(metrics.MessagesBridgedMatrixToSlack, nil)
	return nil
}

func (b *Bridge) matrixEditToSlack(ctx context.Context, evt *models.BridgeEvent) error {
	target, err := b.requireMatrixTarget(ctx, evt.TargetEventID)
	if err != nil {
		return err
	}
	room, err := b.ids.ResolveRoomByMatrix(ctx, evt.SourceRoomID, b.roomNameFor(evt))
	if err != nil {
		return err
	}

	mctx := b.matrixMappingContext(ctx, evt)
	texts := translate.MatrixToSlack(matrixContent(evt), mctx)
	// Slack edits replace in place, so an oversized edit truncates.
	if err := b.slack.UpdateMessage(ctx, room.SlackChannelID, target.SlackMsgID, texts[0]); err != nil {
		return err
	}
	return b.store.BumpEditedVersion(ctx, target.MatrixEventID)
}

func (b *Bridge) matrixDeleteToSlack(ctx context.Context, evt *models.BridgeEvent) error {
	target, err := b.requireMatrixTarget(ctx, evt.TargetEventID)
	if err != nil {
		return err
	}
	room, err := b.ids.ResolveRoomByMatrix(ctx, evt.SourceRoomID, b.roomNameFor(evt))
	if err != nil {
		return err
	}

	// A redaction can target either a bridged message or a bridged
	// reaction annotation; the recorded reference distinguishes them.
	if ts, name, ok := parseReactionRef(target.SlackMsgID); ok {
		return b.slack.RemoveReaction(ctx, room.SlackChannelID, ts, name)
	}
	return b.slack.DeleteMessage(ctx, room.SlackChannelID, target.SlackMsgID)
}

func (b *Bridge) matrixReactionToSlack(ctx context.Context, evt *models.BridgeEvent) error {
	target, err := b.requireMatrixTarget(ctx, evt.TargetEventID)
	if err != nil {
		return err
	}
	room, err := b.ids.ResolveRoomByMatrix(ctx, evt.SourceRoomID, b.roomNameFor(evt))
	if err != nil {
		return err
	}

	name, ok := translate.ReactionKeyToEmoji(evt.Emoji)
	if !ok {
		b.logger.WithField("key", evt.Emoji).Debug("No Slack emoji for reaction key, skipping")
		return nil
	}
	if err := b.slack.AddReaction(ctx, room.SlackChannelID, target.SlackMsgID, name); err != nil {
		return err
	}
	// Recorded so redacting the annotation later maps to reactions.remove.
	return b.store.SaveMessageMapping(ctx, &models.MessageMapping{
		MatrixRoomID:  evt.SourceRoomID,
		MatrixEventID: evt.SourceEventID,
		SlackMsgID:    reactionRef(target.SlackMsgID, name, evt.SenderID),
	})
}

// matrixRoomMetaToSlack records renamed rooms. Slack-side renames are
// not pushed: the bridge bot rarely holds channel-management scopes and
// a rename loop with channel_rename events is worse than stale names.
func (b *Bridge) matrixRoomMetaToSlack(ctx context.Context, evt *models.BridgeEvent) error {
	room, err := b.ids.ResolveRoomByMatrix(ctx, evt.SourceRoomID, b.roomNameFor(evt))
	if err != nil {
		return err
	}
	name := evt.Name
	if name == "" {
		name = room.Name
	}
	topic := evt.Topic
	if topic == "" {
		topic = room.Topic
	}
	return b.store.UpdateRoomMeta(ctx, room.SlackChannelID, name, topic)
}

// requireSlackTarget resolves the room and the bridged message a Slack
// edit/delete/reaction refers to. A missing mapping is NotFound, which
// the dispatcher may defer once for in-flight targets.
func (b *Bridge) requireSlackTarget(ctx context.Context, slackChannelID, slackMsgID string) (*models.RoomMapping, *models.MessageMapping, error) {
	room, err := b.ids.ResolveRoomBySlack(ctx, slackChannelID, "", "")
	if err != nil {
		return nil, nil, err
	}
	target, err := b.store.GetMessageMappingBySlackMsgID(ctx, slackMsgID, room.MatrixRoomID)
	if err != nil {
		return nil, nil, err
	}
	if target == nil {
		return nil, nil, bridgeerrors.New(bridgeerrors.ErrCodeNotFound,
			fmt.Sprintf("message %s in %s is not bridged", slackMsgID, slackChannelID))
	}
	return room, target, nil
}

func (b *Bridge) requireMatrixTarget(ctx context.Context, matrixEventID string) (*models.MessageMapping, error) {
	target, err := b.store.GetMessageMappingByMatrixEventID(ctx, matrixEventID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, bridgeerrors.New(bridgeerrors.ErrCodeNotFound,
			fmt.Sprintf("event %s is not bridged", matrixEventID))
	}
	return target, nil
}

// slackMappingContext builds the translation context for a Slack-origin
// event: mentioned users resolved to ghosts, thread anchor resolved to
// the Matrix root event.
func (b *Bridge) slackMappingContext(ctx context.Context, evt *models.BridgeEvent, room *models.RoomMapping) (*translate.MappingContext, error) {
	mctx := &translate.MappingContext{MaxChars: b.cfg.Limits.MaxMessageChars}

	for _, match := range slackMentionRe.FindAllStringSubmatch(evt.Body, -1) {
		ghost, err := b.ids.ResolveUser(ctx, match[1])
		if err != nil {
			b.logger.WithError(err).WithField("slack_user", match[1]).Warn("Cannot resolve mentioned user")
			continue
		}
		mctx.Users = append(mctx.Users, translate.UserRef{
			SlackID:     ghost.SlackUserID,
			MatrixID:    ghost.MatrixUserID,
			DisplayName: ghost.DisplayName,
		})
	}

	if evt.ThreadID != "" && evt.ThreadID != evt.SourceEventID {
		root, err := b.store.GetMessageMappingBySlackMsgID(ctx, evt.ThreadID, room.MatrixRoomID)
		if err != nil {
			return nil, err
		}
		if root != nil {
			mctx.ThreadRootMatrix = id.EventID(root.MatrixEventID)
		}
	}
	return mctx, nil
}

// matrixMappingContext maps pilled ghosts back to their Slack IDs so
// mentions ping on the Slack side.
func (b *Bridge) matrixMappingContext(ctx context.Context, evt *models.BridgeEvent) *translate.MappingContext {
	mctx := &translate.MappingContext{MaxChars: b.cfg.Limits.MaxMessageChars}
	for _, match := range matrixPillRe.FindAllStringSubmatch(evt.HTMLBody, -1) {
		mxid := match[1]
		if slackID, ok := identity.ParseGhostMXID(mxid, b.cfg.Ghosts.UsernamePrefix, b.cfg.Domain); ok {
			mctx.Users = append(mctx.Users, translate.UserRef{SlackID: slackID, MatrixID: mxid})
		}
	}
	return mctx
}

// slackThreadFor maps a Matrix thread root onto the Slack thread_ts.
func (b *Bridge) slackThreadFor(ctx context.Context, matrixThreadRoot string) (string, error) {
	if matrixThreadRoot == "" {
		return "", nil
	}
	root, err := b.store.GetMessageMappingByMatrixEventID(ctx, matrixThreadRoot)
	if err != nil {
		return "", err
	}
	if root == nil {
		// Root not bridged; post unthreaded rather than dropping.
		return "", nil
	}
	if root.ThreadRoot != "" {
		return root.ThreadRoot, nil
	}
	return root.SlackMsgID, nil
}

// puppetIdentity derives the webhook-style identity for a Matrix sender.
func (b *Bridge) puppetIdentity(evt *models.BridgeEvent) (username, iconURL string) {
	username = evt.DisplayName
	if username == "" {
		username = mxidLocalpart(evt.SenderID)
	}
	return username, evt.AvatarURL
}

func (b *Bridge) roomNameFor(evt *models.BridgeEvent) string {
	if evt.Name != "" {
		return evt.Name
	}
	return strings.ToLower(evt.SourceRoomID)
}

func mxidLocalpart(mxid string) string {
	trimmed := strings.TrimPrefix(mxid, "@")
	if idx := strings.IndexByte(trimmed, ':'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// matrixContent reconstructs message content from the queued event.
func matrixContent(evt *models.BridgeEvent) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    evt.Body,
	}
	if evt.HTMLBody != "" {
		content.Format = event.FormatHTML
		content.FormattedBody = evt.HTMLBody
	}
	return content
}

// fileContent builds the Matrix event for a transferred Slack file.
func fileContent(att *models.Attachment, mxc string, mctx *translate.MappingContext) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: msgTypeForMime(att.MimeType),
		Body:    att.Name,
		URL:     id.ContentURIString(mxc),
		Info: &event.FileInfo{
			MimeType: att.MimeType,
			Size:     int(att.Size),
		},
	}
	if mctx.ThreadRootMatrix != "" {
		content.RelatesTo = &event.RelatesTo{Type: event.RelThread, EventID: mctx.ThreadRootMatrix}
	}
	return content
}

func msgTypeForMime(mime string) event.MessageType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return event.MsgImage
	case strings.HasPrefix(mime, "video/"):
		return event.MsgVideo
	case strings.HasPrefix(mime, "audio/"):
		return event.MsgAudio
	}
	return event.MsgFile
}

// reactionRef is the stored correlation key for one bridged reaction.
func reactionRef(targetID, emojiName, sender string) string {
	return "reaction|" + targetID + "|" + emojiName + "|" + sender
}

func parseReactionRef(ref string) (targetTS, emojiName string, ok bool) {
	parts := strings.Split(ref, "|")
	if len(parts) != 4 || parts[0] != "reaction" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
