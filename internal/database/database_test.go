package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackmatrix/internal/models"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(models.DatabaseConfig{Path: filepath.Join(t.TempDir(), "bridge.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func TestRoomMappingRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mapping := &models.RoomMapping{
		MatrixRoomID:   "!room:example.org",
		SlackChannelID: "C123",
		SlackTeamID:    "T001",
		Name:           "general",
		Topic:          "all the things",
		Bridged:        true,
	}
	require.NoError(t, db.InsertRoomMapping(ctx, mapping))

	byMatrix, err := db.GetRoomMappingByMatrixID(ctx, "!room:example.org")
	require.NoError(t, err)
	require.NotNil(t, byMatrix)
	assert.Equal(t, "C123", byMatrix.SlackChannelID)
	assert.Equal(t, "general", byMatrix.Name)

	bySlack, err := db.GetRoomMappingBySlackID(ctx, "C123")
	require.NoError(t, err)
	require.NotNil(t, bySlack)
	assert.Equal(t, "!room:example.org", bySlack.MatrixRoomID)

	missing, err := db.GetRoomMappingBySlackID(ctx, "C999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRoomMappingBijection(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertRoomMapping(ctx, &models.RoomMapping{
		MatrixRoomID:   "!a:example.org",
		SlackChannelID: "C1",
		Bridged:        true,
	}))

	// Same Slack channel cannot map to a second Matrix room.
	err := db.InsertRoomMapping(ctx, &models.RoomMapping{
		MatrixRoomID:   "!b:example.org",
		SlackChannelID: "C1",
		Bridged:        true,
	})
	require.Error(t, err)
	assert.True(t, IsUniqueConstraint(err))

	// Same Matrix room cannot map to a second Slack channel.
	err = db.InsertRoomMapping(ctx, &models.RoomMapping{
		MatrixRoomID:   "!a:example.org",
		SlackChannelID: "C2",
		Bridged:        true,
	})
	require.Error(t, err)
	assert.True(t, IsUniqueConstraint(err))
}

func TestConcurrentFirstContact(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.InsertRoomMapping(ctx, &models.RoomMapping{
				MatrixRoomID:   fmt.Sprintf("!candidate-%d:example.org", i),
				SlackChannelID: "C42",
				Bridged:        true,
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, IsUniqueConstraint(err), "loser should see a constraint violation, got: %v", err)
		}
	}
	assert.Equal(t, 1, winners)

	// Losers re-read and converge on the single winning row.
	mapping, err := db.GetRoomMappingBySlackID(ctx, "C42")
	require.NoError(t, err)
	require.NotNil(t, mapping)
}

func TestUserMapping(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertUserMapping(ctx, &models.UserMapping{
		MatrixUserID: "@_slack_U1:example.org",
		SlackUserID:  "U1",
		DisplayName:  "Alice",
	}))

	mapping, err := db.GetUserMappingBySlackID(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "@_slack_U1:example.org", mapping.MatrixUserID)
	assert.Equal(t, "Alice", mapping.DisplayName)

	require.NoError(t, db.UpdateUserProfile(ctx, "U1", "Alice Cooper", "https://example.com/a.png", "mxc://example.org/abc"))

	mapping, err = db.GetUserMappingByMatrixID(ctx, "@_slack_U1:example.org")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "Alice Cooper", mapping.DisplayName)
	assert.Equal(t, "mxc://example.org/abc", mapping.AvatarMXC)
}

func TestMessageMapping(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mapping := &models.MessageMapping{
		MatrixRoomID:  "!room:example.org",
		MatrixEventID: "$ev1",
		SlackMsgID:    "1724493600.000100",
		ThreadRoot:    "1724493500.000001",
	}
	require.NoError(t, db.SaveMessageMapping(ctx, mapping))

	// Saving the same correlation again is a no-op, not an error.
	require.NoError(t, db.SaveMessageMapping(ctx, mapping))

	got, err := db.GetMessageMappingByMatrixEventID(ctx, "$ev1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1724493600.000100", got.SlackMsgID)
	assert.Equal(t, 0, got.EditedVersion)

	got, err = db.GetMessageMappingBySlackMsgID(ctx, "1724493600.000100", "!room:example.org")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "$ev1", got.MatrixEventID)

	require.NoError(t, db.BumpEditedVersion(ctx, "$ev1"))
	got, err = db.GetMessageMappingByMatrixEventID(ctx, "$ev1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.EditedVersion)

	err = db.BumpEditedVersion(ctx, "$missing")
	assert.Error(t, err)
}

func TestDeliveryLedger(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	key := "slack|1724493600.000100|!room:example.org"

	entry, created, err := db.BeginDelivery(ctx, key)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.DeliveryOutcomePending, entry.Outcome)

	entry, created, err = db.BeginDelivery(ctx, key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.DeliveryOutcomePending, entry.Outcome)

	require.NoError(t, db.RecordAttempt(ctx, key))
	require.NoError(t, db.MarkDelivered(ctx, key))

	entry, created, err = db.BeginDelivery(ctx, key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.DeliveryOutcomeDelivered, entry.Outcome)
	assert.True(t, entry.Outcome.IsTerminal())
	assert.Equal(t, 1, entry.AttemptCount)

	// Terminal outcomes never change again.
	require.NoError(t, db.MarkFailed(ctx, key))
	entry, _, err = db.BeginDelivery(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryOutcomeDelivered, entry.Outcome)
}

func TestTransactionDedup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seen, err := db.MarkTransactionProcessed(ctx, "txn-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = db.MarkTransactionProcessed(ctx, "txn-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = db.MarkTransactionProcessed(ctx, "txn-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEncryptionAtRest(t *testing.T) {
	db, err := New(models.DatabaseConfig{
		Path:             filepath.Join(t.TempDir(), "bridge.db"),
		EncryptionSecret: "this-is-a-test-secret-of-32-chars!!",
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()
	ctx := context.Background()

	require.NoError(t, db.InsertUserMapping(ctx, &models.UserMapping{
		MatrixUserID: "@_slack_U9:example.org",
		SlackUserID:  "U9",
		DisplayName:  "Secret Name",
	}))

	// The raw column must not contain the plaintext.
	var raw string
	require.NoError(t, db.db.QueryRow(`SELECT display_name FROM user_mappings WHERE slack_user_id = ?`, "U9").Scan(&raw))
	assert.NotEqual(t, "Secret Name", raw)
	assert.NotEmpty(t, raw)

	mapping, err := db.GetUserMappingBySlackID(ctx, "U9")
	require.NoError(t, err)
	assert.Equal(t, "Secret Name", mapping.DisplayName)
}

func TestEncryptionSecretTooShort(t *testing.T) {
	_, err := New(models.DatabaseConfig{
		Path:             filepath.Join(t.TempDir(), "bridge.db"),
		EncryptionSecret: "short",
	})
	assert.Error(t, err)
}

func TestCleanupOldRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveMessageMapping(ctx, &models.MessageMapping{
		MatrixRoomID:  "!room:example.org",
		MatrixEventID: "$old",
		SlackMsgID:    "1.0",
	}))
	_, _, err := db.BeginDelivery(ctx, "old-delivered")
	require.NoError(t, err)
	require.NoError(t, db.MarkDelivered(ctx, "old-delivered"))
	_, _, err = db.BeginDelivery(ctx, "old-pending")
	require.NoError(t, err)

	// Age everything past the retention window.
	_, err = db.db.Exec(`UPDATE message_mappings SET created_at = datetime('now', '-90 days')`)
	require.NoError(t, err)
	_, err = db.db.Exec(`UPDATE delivery_ledger SET created_at = datetime('now', '-90 days')`)
	require.NoError(t, err)

	require.NoError(t, db.CleanupOldRecords(ctx, 30))

	mapping, err := db.GetMessageMappingByMatrixEventID(ctx, "$old")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	// Pending ledger entries survive retention; terminal ones do not.
	entry, created, err := db.BeginDelivery(ctx, "old-pending")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.DeliveryOutcomePending, entry.Outcome)

	_, created, err = db.BeginDelivery(ctx, "old-delivered")
	require.NoError(t, err)
	assert.True(t, created, "delivered entry should have been pruned")
}

func TestPendingEventsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	events := []*models.BridgeEvent{
		{
			Kind:          models.EventMessage,
			Source:        models.SourceSlack,
			SourceRoomID:  "C123",
			SenderID:      "U001",
			SourceEventID: "1700000000.000100",
			Body:          "first",
		},
		{
			Kind:          models.EventEdit,
			Source:        models.SourceSlack,
			SourceRoomID:  "C123",
			SourceEventID: "1700000000.000200",
			TargetEventID: "1700000000.000100",
			Body:          "first, edited",
		},
		{
			Kind:          models.EventMessage,
			Source:        models.SourceMatrix,
			SourceRoomID:  "!room:example.org",
			SourceEventID: "$evt1",
			Body:          "from the other side",
		},
	}
	require.NoError(t, db.SavePendingEvents(ctx, events))

	got, err := db.TakePendingEvents(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "1700000000.000100", got[0].SourceEventID)
	assert.Equal(t, models.EventEdit, got[1].Kind)
	assert.Equal(t, "1700000000.000100", got[1].TargetEventID)
	assert.Equal(t, models.SourceMatrix, got[2].Source)
	assert.Equal(t, "from the other side", got[2].Body)

	// Taking consumes; a second start sees nothing.
	again, err := db.TakePendingEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSavePendingEventsEmptyIsNoop(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.SavePendingEvents(context.Background(), nil))
	got, err := db.TakePendingEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
