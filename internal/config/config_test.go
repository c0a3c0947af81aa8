package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackmatrix/internal/constants"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `{
	"matrix": {
		"homeserver_url": "http://localhost:8008",
		"domain": "example.org",
		"as_token": "as",
		"hs_token": "hs"
	},
	"slack": {
		"app_token": "xapp-1-A1-abc",
		"bot_token": "xoxb-abc"
	},
	"database": {"path": "bridge.db"}
}`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8008", cfg.Matrix.HomeserverURL)
	assert.Equal(t, "xoxb-abc", cfg.Slack.BotToken)

	// Defaults filled in.
	assert.Equal(t, constants.DefaultWorkers, cfg.Queue.Workers)
	assert.Equal(t, constants.DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, constants.DefaultGhostPrefix, cfg.Ghosts.UsernamePrefix)
	assert.Equal(t, constants.DefaultMaxMessageChars, cfg.Limits.MaxMessageChars)
}

func TestLoadConfigMissingFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing homeserver",
			content: `{"matrix":{"domain":"d","as_token":"a","hs_token":"h"},"slack":{"app_token":"a","bot_token":"b"},"database":{"path":"x"}}`,
			wantErr: ErrMissingHomeserverURL,
		},
		{
			name:    "missing bot token",
			content: `{"matrix":{"homeserver_url":"u","domain":"d","as_token":"a","hs_token":"h"},"slack":{"app_token":"a"},"database":{"path":"x"}}`,
			wantErr: ErrMissingBotToken,
		},
		{
			name:    "missing database path",
			content: `{"matrix":{"homeserver_url":"u","domain":"d","as_token":"a","hs_token":"h"},"slack":{"app_token":"a","bot_token":"b"}}`,
			wantErr: ErrMissingDBPath,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, tc.content))
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-from-env")
	t.Setenv("SLACKMATRIX_WORKERS", "3")

	cfg, err := LoadConfig(writeTempConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "xoxb-from-env", cfg.Slack.BotToken)
	assert.Equal(t, 3, cfg.Queue.Workers)
}

func TestTokensRequireRegistrationOrOverride(t *testing.T) {
	content := `{
		"matrix": {"homeserver_url": "u", "domain": "d"},
		"slack": {"app_token": "a", "bot_token": "b"},
		"database": {"path": "x"}
	}`
	_, err := LoadConfig(writeTempConfig(t, content))
	assert.Error(t, err)
}

func TestLoadRegistration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registration.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: slackmatrix
as_token: secret-as
hs_token: secret-hs
sender_localpart: slackbot
url: http://localhost:9005
namespaces:
  users:
    - exclusive: true
      regex: "@_slack_.*:example\\.org"
`), 0600))

	reg, err := LoadRegistration(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-as", reg.ASToken)
	assert.Equal(t, "secret-hs", reg.HSToken)
	assert.Equal(t, "slackbot", reg.SenderLocalpart)
	require.Len(t, reg.Namespaces.Users, 1)
	assert.True(t, reg.Namespaces.Users[0].Exclusive)
}

func TestLoadRegistrationMissingTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registration.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: x\n"), 0600))

	_, err := LoadRegistration(path)
	assert.Error(t, err)
}
