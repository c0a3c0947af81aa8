// Package types defines the Slack wire shapes the bridge speaks:
// Socket Mode envelopes, Events API callbacks and Web API responses.
package types

import (
	"encoding/json"
)

// Socket Mode envelope types.
const (
	EnvelopeHello      = "hello"
	EnvelopeDisconnect = "disconnect"
	EnvelopeEventsAPI  = "events_api"
)

// Envelope is one Socket Mode frame. Event frames carry an envelope ID
// that must be acknowledged promptly or the gateway redelivers.
type Envelope struct {
	Type       string          `json:"type"`
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Ack acknowledges an events_api envelope.
type Ack struct {
	EnvelopeID string `json:"envelope_id"`
}

// EventCallback is the payload of an events_api envelope.
type EventCallback struct {
	TeamID string `json:"team_id"`
	Event  Event  `json:"event"`
}

// Event types and message subtypes the bridge handles.
const (
	EventTypeMessage         = "message"
	EventTypeReactionAdded   = "reaction_added"
	EventTypeReactionRemoved = "reaction_removed"
	EventTypeChannelRename   = "channel_rename"
	EventTypeUserChange      = "user_change"

	SubtypeMessageChanged = "message_changed"
	SubtypeMessageDeleted = "message_deleted"
	SubtypeChannelTopic   = "channel_topic"
	SubtypeBotMessage     = "bot_message"
)

// Event is one Events API event. Slack reuses field names with
// different shapes across event types (channel and user are strings on
// messages but objects on rename/user_change), hence the Ref types.
type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	Channel ChannelRef `json:"channel,omitempty"`
	User    UserRef    `json:"user,omitempty"`

	Text     string `json:"text,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
	EventTS  string `json:"event_ts,omitempty"`

	// message_changed / message_deleted
	Message         *MessageItem `json:"message,omitempty"`
	PreviousMessage *MessageItem `json:"previous_message,omitempty"`
	DeletedTS       string       `json:"deleted_ts,omitempty"`

	// reaction_added / reaction_removed
	Reaction string        `json:"reaction,omitempty"`
	Item     *ReactionItem `json:"item,omitempty"`

	// channel_topic
	Topic string `json:"topic,omitempty"`

	Files []File `json:"files,omitempty"`
	BotID string `json:"bot_id,omitempty"`
}

// MessageItem is the nested message object in edit/delete subtypes.
type MessageItem struct {
	User     string `json:"user,omitempty"`
	Text     string `json:"text,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
}

// ReactionItem locates the message a reaction applies to.
type ReactionItem struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// ChannelRef decodes both the string and the object form of a channel
// reference.
type ChannelRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (c *ChannelRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.ID)
	}
	type plain ChannelRef
	return json.Unmarshal(data, (*plain)(c))
}

// UserRef decodes both the string and the object form of a user
// reference.
type UserRef struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
}

func (u *UserRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &u.ID)
	}
	type plain UserRef
	return json.Unmarshal(data, (*plain)(u))
}

// File is the subset of a Slack file object the bridge transfers.
type File struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	Size               int64  `json:"size"`
	URLPrivateDownload string `json:"url_private_download"`
}

// Web API shapes.

// APIResponse is the envelope every Web API call shares.
type APIResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Result returns the shared envelope; embedding promotes it onto every
// concrete response type.
func (r *APIResponse) Result() *APIResponse { return r }

// PostMessageRequest is the chat.postMessage body. Username and
// IconURL puppet the Matrix sender's identity on bot-authored posts.
type PostMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

type PostMessageResponse struct {
	APIResponse
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type UpdateMessageRequest struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
	Text    string `json:"text"`
}

type DeleteMessageRequest struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type ReactionRequest struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Name      string `json:"name"`
}

// Profile is the subset of a user profile the bridge syncs to ghosts.
type Profile struct {
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name"`
	Image512    string `json:"image_512"`
}

// BestName returns the display name, falling back to the real name.
func (p *Profile) BestName() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.RealName
}

type User struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	IsBot   bool    `json:"is_bot"`
	Profile Profile `json:"profile"`
}

type UsersInfoResponse struct {
	APIResponse
	User User `json:"user"`
}

type Topic struct {
	Value string `json:"value"`
}

type Conversation struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Topic Topic  `json:"topic"`
}

type ConversationResponse struct {
	APIResponse
	Channel Conversation `json:"channel"`
}

type ConnectionsOpenResponse struct {
	APIResponse
	URL string `json:"url"`
}

type GetUploadURLResponse struct {
	APIResponse
	UploadURL string `json:"upload_url"`
	FileID    string `json:"file_id"`
}

// CompletedFile is one entry of files.completeUploadExternal's result.
type CompletedFile struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type CompleteUploadResponse struct {
	APIResponse
	Files []CompletedFile `json:"files"`
}

type AuthTestResponse struct {
	APIResponse
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
}
