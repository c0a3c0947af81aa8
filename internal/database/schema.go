package database

// Schema is applied on every start; all statements are idempotent.
//
// The UNIQUE constraints are load-bearing: room and user mappings are a
// bijection between the two networks, and concurrent first-contact
// provisioning races are settled by whichever insert lands first. Losers
// get a constraint violation and re-read the winning row.
const Schema = `
CREATE TABLE IF NOT EXISTS room_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	matrix_room_id TEXT NOT NULL UNIQUE,
	slack_channel_id TEXT NOT NULL UNIQUE,
	slack_team_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	topic TEXT NOT NULL DEFAULT '',
	bridged BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	matrix_user_id TEXT NOT NULL UNIQUE,
	slack_user_id TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	avatar_mxc TEXT NOT NULL DEFAULT '',
	last_synced_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS message_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	matrix_room_id TEXT NOT NULL,
	matrix_event_id TEXT NOT NULL UNIQUE,
	slack_msg_id TEXT NOT NULL,
	thread_root TEXT NOT NULL DEFAULT '',
	media_mxc TEXT NOT NULL DEFAULT '',
	edited_version INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(slack_msg_id, matrix_room_id)
);

CREATE INDEX IF NOT EXISTS idx_message_mappings_slack_msg_id
	ON message_mappings(slack_msg_id);
CREATE INDEX IF NOT EXISTS idx_message_mappings_room
	ON message_mappings(matrix_room_id);

CREATE TABLE IF NOT EXISTS delivery_ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	idempotency_key TEXT NOT NULL UNIQUE,
	outcome TEXT NOT NULL DEFAULT 'pending',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS processed_transactions (
	txn_id TEXT PRIMARY KEY,
	processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pending_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
