package database

// Room mapping queries
const (
	insertRoomMappingQuery = `
		INSERT INTO room_mappings (matrix_room_id, slack_channel_id, slack_team_id, name, topic, bridged)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	selectRoomMappingByMatrixIDQuery = `
		SELECT id, matrix_room_id, slack_channel_id, slack_team_id, name, topic, bridged,
		       created_at, updated_at
		FROM room_mappings
		WHERE matrix_room_id = ?
	`

	selectRoomMappingBySlackIDQuery = `
		SELECT id, matrix_room_id, slack_channel_id, slack_team_id, name, topic, bridged,
		       created_at, updated_at
		FROM room_mappings
		WHERE slack_channel_id = ?
	`

	updateRoomMetaQuery = `
		UPDATE room_mappings
		SET name = ?, topic = ?, updated_at = CURRENT_TIMESTAMP
		WHERE slack_channel_id = ?
	`
)

// User mapping queries
const (
	insertUserMappingQuery = `
		INSERT INTO user_mappings (matrix_user_id, slack_user_id, display_name, avatar_url, avatar_mxc, last_synced_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	selectUserMappingBySlackIDQuery = `
		SELECT id, matrix_user_id, slack_user_id, display_name, avatar_url, avatar_mxc,
		       last_synced_at, created_at
		FROM user_mappings
		WHERE slack_user_id = ?
	`

	selectUserMappingByMatrixIDQuery = `
		SELECT id, matrix_user_id, slack_user_id, display_name, avatar_url, avatar_mxc,
		       last_synced_at, created_at
		FROM user_mappings
		WHERE matrix_user_id = ?
	`

	updateUserProfileQuery = `
		UPDATE user_mappings
		SET display_name = ?, avatar_url = ?, avatar_mxc = ?, last_synced_at = CURRENT_TIMESTAMP
		WHERE slack_user_id = ?
	`
)

// Message mapping queries
const (
	insertMessageMappingQuery = `
		INSERT INTO message_mappings (matrix_room_id, matrix_event_id, slack_msg_id, thread_root, media_mxc)
		VALUES (?, ?, ?, ?, ?)
	`

	selectMessageMappingByMatrixEventIDQuery = `
		SELECT id, matrix_room_id, matrix_event_id, slack_msg_id, thread_root, media_mxc,
		       edited_version, created_at, updated_at
		FROM message_mappings
		WHERE matrix_event_id = ?
	`

	selectMessageMappingBySlackMsgIDQuery = `
		SELECT id, matrix_room_id, matrix_event_id, slack_msg_id, thread_root, media_mxc,
		       edited_version, created_at, updated_at
		FROM message_mappings
		WHERE slack_msg_id = ? AND matrix_room_id = ?
	`

	bumpEditedVersionQuery = `
		UPDATE message_mappings
		SET edited_version = edited_version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE matrix_event_id = ?
	`

	deleteOldMessageMappingsQuery = `
		DELETE FROM message_mappings
		WHERE created_at < datetime('now', '-' || ? || ' days')
	`
)

// Delivery ledger queries
const (
	insertLedgerEntryQuery = `
		INSERT INTO delivery_ledger (idempotency_key, outcome, attempt_count, last_attempt_at)
		VALUES (?, 'pending', 0, CURRENT_TIMESTAMP)
		ON CONFLICT(idempotency_key) DO NOTHING
	`

	selectLedgerEntryQuery = `
		SELECT id, idempotency_key, outcome, attempt_count, last_attempt_at
		FROM delivery_ledger
		WHERE idempotency_key = ?
	`

	recordAttemptQuery = `
		UPDATE delivery_ledger
		SET attempt_count = attempt_count + 1, last_attempt_at = CURRENT_TIMESTAMP
		WHERE idempotency_key = ?
	`

	updateLedgerOutcomeQuery = `
		UPDATE delivery_ledger
		SET outcome = ?, last_attempt_at = CURRENT_TIMESTAMP
		WHERE idempotency_key = ? AND outcome = 'pending'
	`

	deleteOldLedgerEntriesQuery = `
		DELETE FROM delivery_ledger
		WHERE created_at < datetime('now', '-' || ? || ' days')
		  AND outcome != 'pending'
	`
)

// Processed transaction queries
const (
	insertProcessedTransactionQuery = `
		INSERT INTO processed_transactions (txn_id)
		VALUES (?)
		ON CONFLICT(txn_id) DO NOTHING
	`

	deleteOldProcessedTransactionsQuery = `
		DELETE FROM processed_transactions
		WHERE processed_at < datetime('now', '-' || ? || ' days')
	`
)

// Pending event queries
const (
	insertPendingEventQuery = `
		INSERT INTO pending_events (payload)
		VALUES (?)
	`

	selectPendingEventsQuery = `
		SELECT id, payload
		FROM pending_events
		ORDER BY id
	`

	deleteAllPendingEventsQuery = `
		DELETE FROM pending_events
	`
)
