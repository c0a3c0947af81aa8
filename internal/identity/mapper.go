package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"slackmatrix/internal/cache"
	"slackmatrix/internal/database"
	"slackmatrix/internal/models"
)

// Store is the persistence surface the mapper needs. Satisfied by
// *database.Database.
type Store interface {
	InsertRoomMapping(ctx context.Context, mapping *models.RoomMapping) error
	GetRoomMappingByMatrixID(ctx context.Context, matrixRoomID string) (*models.RoomMapping, error)
	GetRoomMappingBySlackID(ctx context.Context, slackChannelID string) (*models.RoomMapping, error)
	InsertUserMapping(ctx context.Context, mapping *models.UserMapping) error
	GetUserMappingBySlackID(ctx context.Context, slackUserID string) (*models.UserMapping, error)
	UpdateUserProfile(ctx context.Context, slackUserID, displayName, avatarURL, avatarMXC string) error
}

// MatrixProvisioner creates rooms and ghost identities on the Matrix
// side. Satisfied by the matrix client.
type MatrixProvisioner interface {
	CreateRoom(ctx context.Context, name, topic string) (string, error)
	RegisterGhost(ctx context.Context, localpart string) error
	SetGhostDisplayName(ctx context.Context, ghostMXID, displayName string) error
}

// SlackProvisioner creates channels and looks up profiles on the Slack
// side. Satisfied by the slack client.
type SlackProvisioner interface {
	CreateChannel(ctx context.Context, name string) (channelID, teamID string, err error)
	LookupUser(ctx context.Context, slackUserID string) (*models.SlackProfile, error)
}

// Mapper resolves room and user identities, provisioning the missing
// side on first contact. Concurrent provisioning races are settled by
// the store's unique constraints: losing an insert is not an error,
// the loser re-reads the winning row.
type Mapper struct {
	store  Store
	matrix MatrixProvisioner
	slack  SlackProvisioner

	rooms *cache.TTLCache[string, *models.RoomMapping]
	users *cache.TTLCache[string, *models.UserMapping]

	ghosts     models.GhostsConfig
	domain     string
	profileTTL time.Duration
	logger     *logrus.Logger
	now        func() time.Time
}

func NewMapper(store Store, matrix MatrixProvisioner, slack SlackProvisioner, ghosts models.GhostsConfig, domain string, profileTTL time.Duration, logger *logrus.Logger) *Mapper {
	return &Mapper{
		store:      store,
		matrix:     matrix,
		slack:      slack,
		rooms:      cache.New[string, *models.RoomMapping](profileTTL, 4096),
		users:      cache.New[string, *models.UserMapping](profileTTL, 4096),
		ghosts:     ghosts,
		domain:     domain,
		profileTTL: profileTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// IsGhost reports whether mxid belongs to this bridge's ghost
// namespace. Events from our own ghosts are never bridged back.
func (m *Mapper) IsGhost(mxid string) bool {
	_, ok := ParseGhostMXID(mxid, m.ghosts.UsernamePrefix, m.domain)
	return ok
}

// ResolveRoomBySlack returns the mapping for a Slack channel, creating
// the Matrix room on first contact.
func (m *Mapper) ResolveRoomBySlack(ctx context.Context, slackChannelID, name, topic string) (*models.RoomMapping, error) {
	if cached, ok := m.rooms.Get("s:" + slackChannelID); ok {
		return cached, nil
	}

	mapping, err := m.store.GetRoomMappingBySlackID(ctx, slackChannelID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		mapping, err = m.provisionMatrixRoom(ctx, slackChannelID, name, topic)
		if err != nil {
			return nil, err
		}
	}

	m.cacheRoom(mapping)
	return mapping, nil
}

// ResolveRoomByMatrix returns the mapping for a Matrix room, creating
// the Slack channel on first contact.
func (m *Mapper) ResolveRoomByMatrix(ctx context.Context, matrixRoomID, name string) (*models.RoomMapping, error) {
	if cached, ok := m.rooms.Get("m:" + matrixRoomID); ok {
		return cached, nil
	}

	mapping, err := m.store.GetRoomMappingByMatrixID(ctx, matrixRoomID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		mapping, err = m.provisionSlackChannel(ctx, matrixRoomID, name)
		if err != nil {
			return nil, err
		}
	}

	m.cacheRoom(mapping)
	return mapping, nil
}

func (m *Mapper) provisionMatrixRoom(ctx context.Context, slackChannelID, name, topic string) (*models.RoomMapping, error) {
	roomID, err := m.matrix.CreateRoom(ctx, name, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix room for channel %s: %w", slackChannelID, err)
	}

	mapping := &models.RoomMapping{
		MatrixRoomID:   roomID,
		SlackChannelID: slackChannelID,
		Name:           name,
		Topic:          topic,
		Bridged:        true,
	}
	if err := m.store.InsertRoomMapping(ctx, mapping); err != nil {
		if database.IsUniqueConstraint(err) {
			// Lost the first-contact race; the winner's room stands.
			m.logger.WithFields(logrus.Fields{
				"slack_channel": slackChannelID,
				"orphaned_room": roomID,
			}).Info("Lost room provisioning race, using existing mapping")
			return m.requireRoomBySlack(ctx, slackChannelID)
		}
		return nil, err
	}
	return mapping, nil
}

func (m *Mapper) provisionSlackChannel(ctx context.Context, matrixRoomID, name string) (*models.RoomMapping, error) {
	channelID, teamID, err := m.slack.CreateChannel(ctx, SlackChannelName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to create Slack channel for room %s: %w", matrixRoomID, err)
	}

	mapping := &models.RoomMapping{
		MatrixRoomID:   matrixRoomID,
		SlackChannelID: channelID,
		SlackTeamID:    teamID,
		Name:           name,
		Bridged:        true,
	}
	if err := m.store.InsertRoomMapping(ctx, mapping); err != nil {
		if database.IsUniqueConstraint(err) {
			m.logger.WithFields(logrus.Fields{
				"matrix_room":      matrixRoomID,
				"orphaned_channel": channelID,
			}).Info("Lost channel provisioning race, using existing mapping")
			return m.requireRoomByMatrix(ctx, matrixRoomID)
		}
		return nil, err
	}
	return mapping, nil
}

func (m *Mapper) requireRoomBySlack(ctx context.Context, slackChannelID string) (*models.RoomMapping, error) {
	mapping, err := m.store.GetRoomMappingBySlackID(ctx, slackChannelID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, fmt.Errorf("room mapping for channel %s vanished after constraint violation", slackChannelID)
	}
	return mapping, nil
}

func (m *Mapper) requireRoomByMatrix(ctx context.Context, matrixRoomID string) (*models.RoomMapping, error) {
	mapping, err := m.store.GetRoomMappingByMatrixID(ctx, matrixRoomID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, fmt.Errorf("room mapping for room %s vanished after constraint violation", matrixRoomID)
	}
	return mapping, nil
}

func (m *Mapper) cacheRoom(mapping *models.RoomMapping) {
	m.rooms.Set("s:"+mapping.SlackChannelID, mapping)
	m.rooms.Set("m:"+mapping.MatrixRoomID, mapping)
}

// ResolveUser returns the ghost mapping for a Slack user, registering
// the ghost and fetching its profile on first contact and refreshing
// profile metadata past the TTL. Repeated calls always yield the same
// ghost MXID.
func (m *Mapper) ResolveUser(ctx context.Context, slackUserID string) (*models.UserMapping, error) {
	if cached, ok := m.users.Get(slackUserID); ok {
		return cached, nil
	}

	mapping, err := m.store.GetUserMappingBySlackID(ctx, slackUserID)
	if err != nil {
		return nil, err
	}

	switch {
	case mapping == nil:
		mapping, err = m.provisionGhost(ctx, slackUserID)
	case m.now().Sub(mapping.LastSyncedAt) > m.profileTTL:
		mapping, err = m.refreshProfile(ctx, mapping)
	}
	if err != nil {
		return nil, err
	}

	m.users.Set(slackUserID, mapping)
	return mapping, nil
}

func (m *Mapper) provisionGhost(ctx context.Context, slackUserID string) (*models.UserMapping, error) {
	localpart := GhostLocalpart(m.ghosts.UsernamePrefix, slackUserID)
	mxid := GhostMXID(m.ghosts.UsernamePrefix, slackUserID, m.domain)

	if err := m.matrix.RegisterGhost(ctx, localpart); err != nil {
		return nil, fmt.Errorf("failed to register ghost %s: %w", mxid, err)
	}

	profile, err := m.slack.LookupUser(ctx, slackUserID)
	if err != nil {
		m.logger.WithError(err).WithField("slack_user", slackUserID).
			Warn("Profile lookup failed, ghost keeps default name")
		profile = &models.SlackProfile{DisplayName: slackUserID}
	}

	if err := m.matrix.SetGhostDisplayName(ctx, mxid, GhostDisplayname(m.ghosts.DisplaynameTemplate, profile.DisplayName)); err != nil {
		m.logger.WithError(err).WithField("ghost", mxid).Warn("Failed to set ghost display name")
	}

	mapping := &models.UserMapping{
		MatrixUserID: mxid,
		SlackUserID:  slackUserID,
		DisplayName:  profile.DisplayName,
		AvatarURL:    profile.AvatarURL,
		LastSyncedAt: m.now(),
	}
	if err := m.store.InsertUserMapping(ctx, mapping); err != nil {
		if database.IsUniqueConstraint(err) {
			existing, rerr := m.store.GetUserMappingBySlackID(ctx, slackUserID)
			if rerr != nil {
				return nil, rerr
			}
			if existing == nil {
				return nil, fmt.Errorf("user mapping for %s vanished after constraint violation", slackUserID)
			}
			return existing, nil
		}
		return nil, err
	}
	return mapping, nil
}

// refreshProfile applies the latest Slack profile. Conflicting metadata
// updates resolve last-writer-wins by refresh order.
func (m *Mapper) refreshProfile(ctx context.Context, mapping *models.UserMapping) (*models.UserMapping, error) {
	profile, err := m.slack.LookupUser(ctx, mapping.SlackUserID)
	if err != nil {
		// Stale metadata is still usable; keep bridging.
		m.logger.WithError(err).WithField("slack_user", mapping.SlackUserID).
			Warn("Profile refresh failed, keeping stale metadata")
		return mapping, nil
	}

	if profile.DisplayName != mapping.DisplayName {
		if err := m.matrix.SetGhostDisplayName(ctx, mapping.MatrixUserID, GhostDisplayname(m.ghosts.DisplaynameTemplate, profile.DisplayName)); err != nil {
			m.logger.WithError(err).WithField("ghost", mapping.MatrixUserID).Warn("Failed to update ghost display name")
		}
	}

	if err := m.store.UpdateUserProfile(ctx, mapping.SlackUserID, profile.DisplayName, profile.AvatarURL, mapping.AvatarMXC); err != nil {
		return nil, err
	}

	mapping.DisplayName = profile.DisplayName
	mapping.AvatarURL = profile.AvatarURL
	mapping.LastSyncedAt = m.now()
	return mapping, nil
}
