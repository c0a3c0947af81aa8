package models

import "time"

// SourceNetwork tags which side of the bridge produced an event.
type SourceNetwork string

const (
	SourceMatrix SourceNetwork = "matrix"
	SourceSlack  SourceNetwork = "slack"
)

// EventKind is the cross-network event taxonomy. Behavior differences
// between networks are handled by explicit matching on (Kind, Source)
// in the translator and dispatcher, not by type hierarchies.
type EventKind string

const (
	EventMessage        EventKind = "message"
	EventEdit           EventKind = "edit"
	EventDelete         EventKind = "delete"
	EventReactionAdd    EventKind = "reaction_add"
	EventReactionRemove EventKind = "reaction_remove"
	EventRoomMeta       EventKind = "room_meta"
	EventUserMeta       EventKind = "user_meta"
)

// Attachment describes one file carried by a bridged message. Exactly one
// of SlackFileID/MatrixContentURI is set depending on the source network.
type Attachment struct {
	Name             string
	MimeType         string
	Size             int64
	SlackFileID      string
	SlackDownloadURL string
	MatrixContentURI string
}

// BridgeEvent is the network-agnostic inbound event handed from the
// ingestors to the dispatcher. SourceEventID is the upstream identifier
// (Matrix event ID or Slack ts) and feeds the idempotency key.
type BridgeEvent struct {
	Kind   EventKind
	Source SourceNetwork

	// Room addressing in the source network's namespace.
	SourceRoomID string
	// Sender in the source network's namespace.
	SenderID string

	SourceEventID string
	// TargetEventID is the edited/deleted/reacted-to message for
	// non-message kinds, in the source network's namespace.
	TargetEventID string
	// ThreadID is the reply/thread anchor in the source namespace
	// (Slack thread_ts or Matrix in-reply-to event ID).
	ThreadID string

	Body        string
	HTMLBody    string
	Emoji       string
	Attachments []Attachment

	// Room/user metadata payload for EventRoomMeta / EventUserMeta.
	Name        string
	Topic       string
	DisplayName string
	AvatarURL   string

	ReceivedAt time.Time
}
