package bridge

import (
	"context"
	"time"

	"maunium.net/go/mautrix/event"

	"slackmatrix/internal/models"
	"slackmatrix/pkg/slack/types"
)

// Enqueuer accepts converted events for delivery. Satisfied by
// *dispatch.Dispatcher.
type Enqueuer interface {
	Enqueue(evt *models.BridgeEvent)
}

// SetQueue wires the outbound queue. Called once during startup, after
// the dispatcher (which needs the bridge as its handler) exists.
func (b *Bridge) SetQueue(q Enqueuer) {
	b.queue = q
}

// HandleSlackEvent converts one Events API callback and queues it. It
// must return quickly: the socket client acks the envelope as soon as
// this returns, and slow handling here would stall the gateway.
func (b *Bridge) HandleSlackEvent(cb *types.EventCallback) {
	evt := b.convertSlackEvent(&cb.Event)
	if evt == nil {
		return
	}
	evt.ReceivedAt = time.Now()
	b.queue.Enqueue(evt)
}

func (b *Bridge) convertSlackEvent(ev *types.Event) *models.BridgeEvent {
	// Never echo the bridge's own posts back to Matrix.
	if ev.BotID != "" || (b.cfg.SlackBotUserID != "" && ev.User.ID == b.cfg.SlackBotUserID) {
		return nil
	}

	switch ev.Type {
	case types.EventTypeMessage:
		return b.convertSlackMessage(ev)

	case types.EventTypeReactionAdded, types.EventTypeReactionRemoved:
		if ev.Item == nil || ev.Item.Type != "message" {
			return nil
		}
		kind := models.EventReactionAdd
		if ev.Type == types.EventTypeReactionRemoved {
			kind = models.EventReactionRemove
		}
		return &models.BridgeEvent{
			Kind:          kind,
			Source:        models.SourceSlack,
			SourceRoomID:  ev.Item.Channel,
			SenderID:      ev.User.ID,
			SourceEventID: ev.EventTS,
			TargetEventID: ev.Item.TS,
			Emoji:         ev.Reaction,
		}

	case types.EventTypeChannelRename:
		return &models.BridgeEvent{
			Kind:          models.EventRoomMeta,
			Source:        models.SourceSlack,
			SourceRoomID:  ev.Channel.ID,
			SourceEventID: ev.EventTS,
			Name:          ev.Channel.Name,
		}

	case types.EventTypeUserChange:
		return &models.BridgeEvent{
			Kind:          models.EventUserMeta,
			Source:        models.SourceSlack,
			SenderID:      ev.User.ID,
			SourceEventID: ev.EventTS,
			DisplayName:   ev.User.Profile.BestName(),
			AvatarURL:     avatarOf(ev.User.Profile),
		}
	}

	b.logger.WithField("type", ev.Type).Debug("Ignoring unhandled Slack event type")
	return nil
}

func (b *Bridge) convertSlackMessage(ev *types.Event) *models.BridgeEvent {
	switch ev.Subtype {
	case "":
		evt := &models.BridgeEvent{
			Kind:          models.EventMessage,
			Source:        models.SourceSlack,
			SourceRoomID:  ev.Channel.ID,
			SenderID:      ev.User.ID,
			SourceEventID: ev.TS,
			ThreadID:      ev.ThreadTS,
			Body:          ev.Text,
		}
		for _, f := range ev.Files {
			evt.Attachments = append(evt.Attachments, models.Attachment{
				Name:             f.Name,
				MimeType:         f.Mimetype,
				Size:             f.Size,
				SlackFileID:      f.ID,
				SlackDownloadURL: f.URLPrivateDownload,
			})
		}
		if evt.Body == "" && len(evt.Attachments) == 0 {
			return nil
		}
		return evt

	case types.SubtypeChannelTopic:
		return &models.BridgeEvent{
			Kind:          models.EventRoomMeta,
			Source:        models.SourceSlack,
			SourceRoomID:  ev.Channel.ID,
			SourceEventID: ev.TS,
			Topic:         ev.Topic,
		}

	case types.SubtypeMessageChanged:
		if ev.Message == nil || ev.Message.BotID != "" {
			return nil
		}
		// Slack resends message_changed for unfurls with unchanged text.
		if ev.PreviousMessage != nil && ev.PreviousMessage.Text == ev.Message.Text {
			return nil
		}
		return &models.BridgeEvent{
			Kind:          models.EventEdit,
			Source:        models.SourceSlack,
			SourceRoomID:  ev.Channel.ID,
			SenderID:      ev.Message.User,
			SourceEventID: ev.EventTS,
			TargetEventID: ev.Message.TS,
			ThreadID:      ev.Message.ThreadTS,
			Body:          ev.Message.Text,
		}

	case types.SubtypeMessageDeleted:
		return &models.BridgeEvent{
			Kind:          models.EventDelete,
			Source:        models.SourceSlack,
			SourceRoomID:  ev.Channel.ID,
			SourceEventID: ev.EventTS,
			TargetEventID: ev.DeletedTS,
		}
	}

	// bot_message, joins, and the remaining subtypes are noise.
	return nil
}

func avatarOf(p *types.Profile) string {
	if p == nil {
		return ""
	}
	return p.Image512
}

// HandleMatrixEvent is the appservice sink: it converts one transaction
// event and queues it. Ghost and bot echoes are dropped here so they
// never consume queue capacity.
func (b *Bridge) HandleMatrixEvent(ctx context.Context, evt *event.Event) error {
	sender := evt.Sender.String()
	if sender == b.cfg.BotMXID || b.ids.IsGhost(sender) {
		return nil
	}

	converted := b.convertMatrixEvent(evt)
	if converted == nil {
		return nil
	}
	converted.ReceivedAt = time.Now()
	b.queue.Enqueue(converted)
	return nil
}

func (b *Bridge) convertMatrixEvent(evt *event.Event) *models.BridgeEvent {
	if err := evt.Content.ParseRaw(evt.Type); err != nil {
		b.logger.WithError(err).WithFields(map[string]interface{}{
			"event_id": evt.ID,
			"type":     evt.Type.Type,
		}).Warn("Skipping undecodable Matrix event")
		return nil
	}

	base := models.BridgeEvent{
		Source:        models.SourceMatrix,
		SourceRoomID:  evt.RoomID.String(),
		SenderID:      evt.Sender.String(),
		SourceEventID: evt.ID.String(),
	}

	switch evt.Type {
	case event.EventMessage:
		content := evt.Content.AsMessage()
		if content == nil {
			return nil
		}
		return b.convertMatrixMessage(&base, content)

	case event.EventReaction:
		content := evt.Content.AsReaction()
		if content == nil || content.RelatesTo.Type != event.RelAnnotation {
			return nil
		}
		base.Kind = models.EventReactionAdd
		base.TargetEventID = content.RelatesTo.EventID.String()
		base.Emoji = content.RelatesTo.Key
		return &base

	case event.EventRedaction:
		if evt.Redacts == "" {
			return nil
		}
		base.Kind = models.EventDelete
		base.TargetEventID = evt.Redacts.String()
		return &base

	case event.StateRoomName:
		if content := evt.Content.AsRoomName(); content != nil {
			base.Kind = models.EventRoomMeta
			base.Name = content.Name
			return &base
		}

	case event.StateTopic:
		if content := evt.Content.AsTopic(); content != nil {
			base.Kind = models.EventRoomMeta
			base.Topic = content.Topic
			return &base
		}
	}
	return nil
}

func (b *Bridge) convertMatrixMessage(base *models.BridgeEvent, content *event.MessageEventContent) *models.BridgeEvent {
	rel := content.RelatesTo

	if rel != nil && rel.Type == event.RelReplace {
		edited := content
		if content.NewContent != nil {
			edited = content.NewContent
		}
		base.Kind = models.EventEdit
		base.TargetEventID = rel.EventID.String()
		base.Body = edited.Body
		base.HTMLBody = edited.FormattedBody
		return base
	}

	base.Kind = models.EventMessage
	if rel != nil && rel.Type == event.RelThread {
		base.ThreadID = rel.EventID.String()
	}

	switch content.MsgType {
	case event.MsgText, event.MsgEmote, event.MsgNotice:
		base.Body = content.Body
		base.HTMLBody = content.FormattedBody

	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		att := models.Attachment{
			Name:             content.Body,
			MatrixContentURI: string(content.URL),
		}
		if content.Info != nil {
			att.MimeType = content.Info.MimeType
			att.Size = int64(content.Info.Size)
		}
		base.Attachments = []models.Attachment{att}

	default:
		return nil
	}

	if base.Body == "" && len(base.Attachments) == 0 {
		return nil
	}
	return base
}
