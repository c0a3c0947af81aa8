package models

import "time"

// DeliveryOutcome is the terminal (or in-flight) state of one logical
// delivery, keyed by idempotency key in the delivery ledger.
type DeliveryOutcome string

const (
	DeliveryOutcomePending   DeliveryOutcome = "pending"
	DeliveryOutcomeDelivered DeliveryOutcome = "delivered"
	DeliveryOutcomeFailed    DeliveryOutcome = "permanently_failed"
)

// IsTerminal reports whether the outcome can never change again.
func (o DeliveryOutcome) IsTerminal() bool {
	return o == DeliveryOutcomeDelivered || o == DeliveryOutcomeFailed
}

// RoomMapping is the bijection between a Matrix room and a Slack channel.
// Both columns carry a UNIQUE constraint so the store, not process-local
// locking, arbitrates concurrent first-contact races.
type RoomMapping struct {
	ID             int64     `db:"id"`
	MatrixRoomID   string    `db:"matrix_room_id"`
	SlackChannelID string    `db:"slack_channel_id"`
	SlackTeamID    string    `db:"slack_team_id"`
	Name           string    `db:"name"`
	Topic          string    `db:"topic"`
	Bridged        bool      `db:"bridged"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// UserMapping links a Slack user to its Matrix ghost. The ghost MXID is a
// deterministic function of the Slack user ID; the row is the source of
// truth for profile metadata only.
type UserMapping struct {
	ID           int64     `db:"id"`
	MatrixUserID string    `db:"matrix_user_id"`
	SlackUserID  string    `db:"slack_user_id"`
	DisplayName  string    `db:"display_name"`
	AvatarURL    string    `db:"avatar_url"`
	AvatarMXC    string    `db:"avatar_mxc"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	CreatedAt    time.Time `db:"created_at"`
}

// MessageMapping correlates one delivered message across both networks.
// Rows are append-only; edits bump EditedVersion instead of rewriting
// history. ThreadRoot carries the Slack thread_ts (or Matrix thread root
// event ID) used for reply correlation.
type MessageMapping struct {
	ID            int64     `db:"id"`
	MatrixRoomID  string    `db:"matrix_room_id"`
	MatrixEventID string    `db:"matrix_event_id"`
	SlackMsgID    string    `db:"slack_msg_id"`
	ThreadRoot    string    `db:"thread_root"`
	MediaMXC      string    `db:"media_mxc"`
	EditedVersion int       `db:"edited_version"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// LedgerEntry records the outcome of one idempotent delivery action.
type LedgerEntry struct {
	ID            int64           `db:"id"`
	Key           string          `db:"idempotency_key"`
	Outcome       DeliveryOutcome `db:"outcome"`
	AttemptCount  int             `db:"attempt_count"`
	LastAttemptAt time.Time       `db:"last_attempt_at"`
}

// SlackProfile is the subset of a Slack user profile the bridge syncs
// onto ghosts.
type SlackProfile struct {
	DisplayName string
	AvatarURL   string
}

// PendingUploadState tracks the three-step Slack file upload hand-off.
// Pending uploads are process-local; on restart an in-flight upload is
// abandoned and retried from the source event.
type PendingUploadState string

const (
	UploadStateRequested PendingUploadState = "requested"
	UploadStateURLIssued PendingUploadState = "url_issued"
	UploadStateUploaded  PendingUploadState = "uploaded"
	UploadStateCompleted PendingUploadState = "completed"
	UploadStateFailed    PendingUploadState = "failed"
)

// PendingUpload is the transient record of one attachment hand-off.
type PendingUpload struct {
	SessionID      string
	SourceEventID  string
	SlackChannelID string
	Filename       string
	ExpectedSize   int64
	State          PendingUploadState
	FileID         string
	UploadURL      string
	StartedAt      time.Time
}
