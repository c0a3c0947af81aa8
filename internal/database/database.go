package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"slackmatrix/internal/models"
)

// Database is the bridge's durable store: room and user identity
// mappings, message correlation, the delivery ledger and appservice
// transaction dedup. All cross-process races are arbitrated by the
// schema's UNIQUE constraints, not by locks held here.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(cfg models.DatabaseConfig) (*Database, error) {
	if len(cfg.Path) == 0 || cfg.Path[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", url.PathEscape(cfg.Path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor(cfg.EncryptionSecret)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Room mappings

// InsertRoomMapping records a new room pair. Returns a UNIQUE constraint
// error if either side is already mapped; callers losing a first-contact
// race should re-read with one of the getters.
func (d *Database) InsertRoomMapping(ctx context.Context, mapping *models.RoomMapping) error {
	encName, err := d.encryptor.Encrypt(mapping.Name)
	if err != nil {
		return fmt.Errorf("failed to encrypt room name: %w", err)
	}
	encTopic, err := d.encryptor.Encrypt(mapping.Topic)
	if err != nil {
		return fmt.Errorf("failed to encrypt room topic: %w", err)
	}

	_, err = d.db.ExecContext(ctx, insertRoomMappingQuery,
		mapping.MatrixRoomID, mapping.SlackChannelID, mapping.SlackTeamID,
		encName, encTopic, mapping.Bridged)
	if err != nil {
		if IsUniqueConstraint(err) {
			return err
		}
		return fmt.Errorf("failed to insert room mapping: %w", err)
	}
	return nil
}

func (d *Database) GetRoomMappingByMatrixID(ctx context.Context, matrixRoomID string) (*models.RoomMapping, error) {
	return d.scanRoomMapping(d.db.QueryRowContext(ctx, selectRoomMappingByMatrixIDQuery, matrixRoomID))
}

func (d *Database) GetRoomMappingBySlackID(ctx context.Context, slackChannelID string) (*models.RoomMapping, error) {
	return d.scanRoomMapping(d.db.QueryRowContext(ctx, selectRoomMappingBySlackIDQuery, slackChannelID))
}

func (d *Database) scanRoomMapping(row *sql.Row) (*models.RoomMapping, error) {
	mapping := &models.RoomMapping{}
	var encName, encTopic string

	err := row.Scan(
		&mapping.ID,
		&mapping.MatrixRoomID,
		&mapping.SlackChannelID,
		&mapping.SlackTeamID,
		&encName,
		&encTopic,
		&mapping.Bridged,
		&mapping.CreatedAt,
		&mapping.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room mapping: %w", err)
	}

	if mapping.Name, err = d.encryptor.Decrypt(encName); err != nil {
		return nil, fmt.Errorf("failed to decrypt room name: %w", err)
	}
	if mapping.Topic, err = d.encryptor.Decrypt(encTopic); err != nil {
		return nil, fmt.Errorf("failed to decrypt room topic: %w", err)
	}
	return mapping, nil
}

// UpdateRoomMeta records the latest observed name and topic for a
// mapped channel. Last writer wins.
func (d *Database) UpdateRoomMeta(ctx context.Context, slackChannelID, name, topic string) error {
	encName, err := d.encryptor.Encrypt(name)
	if err != nil {
		return fmt.Errorf("failed to encrypt room name: %w", err)
	}
	encTopic, err := d.encryptor.Encrypt(topic)
	if err != nil {
		return fmt.Errorf("failed to encrypt room topic: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, updateRoomMetaQuery, encName, encTopic, slackChannelID)
		return err
	}, "update room meta")
}

// User mappings

func (d *Database) InsertUserMapping(ctx context.Context, mapping *models.UserMapping) error {
	encName, err := d.encryptor.Encrypt(mapping.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to encrypt display name: %w", err)
	}
	encAvatar, err := d.encryptor.Encrypt(mapping.AvatarURL)
	if err != nil {
		return fmt.Errorf("failed to encrypt avatar URL: %w", err)
	}

	_, err = d.db.ExecContext(ctx, insertUserMappingQuery,
		mapping.MatrixUserID, mapping.SlackUserID, encName, encAvatar, mapping.AvatarMXC)
	if err != nil {
		if IsUniqueConstraint(err) {
			return err
		}
		return fmt.Errorf("failed to insert user mapping: %w", err)
	}
	return nil
}

func (d *Database) GetUserMappingBySlackID(ctx context.Context, slackUserID string) (*models.UserMapping, error) {
	return d.scanUserMapping(d.db.QueryRowContext(ctx, selectUserMappingBySlackIDQuery, slackUserID))
}

func (d *Database) GetUserMappingByMatrixID(ctx context.Context, matrixUserID string) (*models.UserMapping, error) {
	return d.scanUserMapping(d.db.QueryRowContext(ctx, selectUserMappingByMatrixIDQuery, matrixUserID))
}

func (d *Database) scanUserMapping(row *sql.Row) (*models.UserMapping, error) {
	mapping := &models.UserMapping{}
	var encName, encAvatar string

	err := row.Scan(
		&mapping.ID,
		&mapping.MatrixUserID,
		&mapping.SlackUserID,
		&encName,
		&encAvatar,
		&mapping.AvatarMXC,
		&mapping.LastSyncedAt,
		&mapping.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user mapping: %w", err)
	}

	if mapping.DisplayName, err = d.encryptor.Decrypt(encName); err != nil {
		return nil, fmt.Errorf("failed to decrypt display name: %w", err)
	}
	if mapping.AvatarURL, err = d.encryptor.Decrypt(encAvatar); err != nil {
		return nil, fmt.Errorf("failed to decrypt avatar URL: %w", err)
	}
	return mapping, nil
}

// UpdateUserProfile stores the latest profile metadata for a mapped
// user. Last writer wins.
func (d *Database) UpdateUserProfile(ctx context.Context, slackUserID, displayName, avatarURL, avatarMXC string) error {
	encName, err := d.encryptor.Encrypt(displayName)
	if err != nil {
		return fmt.Errorf("failed to encrypt display name: %w", err)
	}
	encAvatar, err := d.encryptor.Encrypt(avatarURL)
	if err != nil {
		return fmt.Errorf("failed to encrypt avatar URL: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, updateUserProfileQuery, encName, encAvatar, avatarMXC, slackUserID)
		return err
	}, "update user profile")
}

// Message mappings

func (d *Database) SaveMessageMapping(ctx context.Context, mapping *models.MessageMapping) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertMessageMappingQuery,
			mapping.MatrixRoomID, mapping.MatrixEventID, mapping.SlackMsgID,
			mapping.ThreadRoot, mapping.MediaMXC)
		if IsUniqueConstraint(err) {
			// Redelivered event already correlated; nothing to record.
			return nil
		}
		return err
	}, "save message mapping")
}

func (d *Database) GetMessageMappingByMatrixEventID(ctx context.Context, matrixEventID string) (*models.MessageMapping, error) {
	return scanMessageMapping(d.db.QueryRowContext(ctx, selectMessageMappingByMatrixEventIDQuery, matrixEventID))
}

func (d *Database) GetMessageMappingBySlackMsgID(ctx context.Context, slackMsgID, matrixRoomID string) (*models.MessageMapping, error) {
	return scanMessageMapping(d.db.QueryRowContext(ctx, selectMessageMappingBySlackMsgIDQuery, slackMsgID, matrixRoomID))
}

func scanMessageMapping(row *sql.Row) (*models.MessageMapping, error) {
	mapping := &models.MessageMapping{}
	err := row.Scan(
		&mapping.ID,
		&mapping.MatrixRoomID,
		&mapping.MatrixEventID,
		&mapping.SlackMsgID,
		&mapping.ThreadRoot,
		&mapping.MediaMXC,
		&mapping.EditedVersion,
		&mapping.CreatedAt,
		&mapping.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message mapping: %w", err)
	}
	return mapping, nil
}

// BumpEditedVersion increments the edit counter on a correlated message.
func (d *Database) BumpEditedVersion(ctx context.Context, matrixEventID string) error {
	return retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, bumpEditedVersionQuery, matrixEventID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("no message found with Matrix event ID: %s", matrixEventID)
		}
		return nil
	}, "bump edited version")
}

// Delivery ledger

// BeginDelivery claims an idempotency key. It returns the ledger entry
// and whether this call created it. An existing entry with a terminal
// outcome means the delivery already happened (or was given up on) and
// must not be repeated.
func (d *Database) BeginDelivery(ctx context.Context, key string) (*models.LedgerEntry, bool, error) {
	var created bool
	err := retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, insertLedgerEntryQuery, key)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		created = rows > 0
		return nil
	}, "begin delivery")
	if err != nil {
		return nil, false, err
	}

	entry := &models.LedgerEntry{}
	err = d.db.QueryRowContext(ctx, selectLedgerEntryQuery, key).Scan(
		&entry.ID, &entry.Key, &entry.Outcome, &entry.AttemptCount, &entry.LastAttemptAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read ledger entry: %w", err)
	}
	return entry, created, nil
}

// RecordAttempt bumps the attempt counter before a network call.
func (d *Database) RecordAttempt(ctx context.Context, key string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, recordAttemptQuery, key)
		return err
	}, "record attempt")
}

// MarkDelivered transitions a pending entry to delivered. Terminal
// outcomes never change again.
func (d *Database) MarkDelivered(ctx context.Context, key string) error {
	return d.setOutcome(ctx, key, models.DeliveryOutcomeDelivered)
}

// MarkFailed transitions a pending entry to permanently failed.
func (d *Database) MarkFailed(ctx context.Context, key string) error {
	return d.setOutcome(ctx, key, models.DeliveryOutcomeFailed)
}

func (d *Database) setOutcome(ctx context.Context, key string, outcome models.DeliveryOutcome) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, updateLedgerOutcomeQuery, string(outcome), key)
		return err
	}, "set delivery outcome")
}

// Processed transactions

// MarkTransactionProcessed records an appservice transaction ID and
// reports whether it had been seen before. The caller must record the
// ID only after the transaction's events are durably accepted.
func (d *Database) MarkTransactionProcessed(ctx context.Context, txnID string) (bool, error) {
	var alreadySeen bool
	err := retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, insertProcessedTransactionQuery, txnID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		alreadySeen = rows == 0
		return nil
	}, "mark transaction processed")
	if err != nil {
		return false, err
	}
	return alreadySeen, nil
}

// Pending events

// SavePendingEvents persists events that could not be delivered before
// shutdown, preserving their order for replay on the next start.
func (d *Database) SavePendingEvents(ctx context.Context, events []*models.BridgeEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin pending events transaction: %w", err)
	}
	for _, evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to encode pending event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertPendingEventQuery, string(payload)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to save pending event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pending events: %w", err)
	}
	return nil
}

// TakePendingEvents returns all persisted events in insertion order and
// removes them. Replaying an event whose delivery actually completed is
// harmless; the ledger's terminal outcome suppresses it.
func (d *Database) TakePendingEvents(ctx context.Context) ([]*models.BridgeEvent, error) {
	rows, err := d.db.QueryContext(ctx, selectPendingEventsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending events: %w", err)
	}
	defer rows.Close()

	var events []*models.BridgeEvent
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan pending event: %w", err)
		}
		evt := &models.BridgeEvent{}
		if err := json.Unmarshal([]byte(payload), evt); err != nil {
			return nil, fmt.Errorf("failed to decode pending event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending events: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to close pending events cursor: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, deleteAllPendingEventsQuery); err != nil {
		return nil, fmt.Errorf("failed to clear pending events: %w", err)
	}
	return events, nil
}

// Retention

// CleanupOldRecords prunes message mappings, terminal ledger entries and
// processed transaction IDs older than the retention window. Room and
// user mappings are identity, not history, and are never pruned.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) error {
	for name, query := range map[string]string{
		"message mappings":       deleteOldMessageMappingsQuery,
		"ledger entries":         deleteOldLedgerEntriesQuery,
		"processed transactions": deleteOldProcessedTransactionsQuery,
	} {
		if _, err := d.db.ExecContext(ctx, query, retentionDays); err != nil {
			return fmt.Errorf("failed to cleanup old %s: %w", name, err)
		}
	}
	return nil
}
