package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"slackmatrix/internal/constants"
	"slackmatrix/internal/models"
)

var (
	ErrMissingHomeserverURL = models.ConfigError{Message: "missing Matrix homeserver URL"}
	ErrMissingDomain        = models.ConfigError{Message: "missing Matrix server domain"}
	ErrMissingAppToken      = models.ConfigError{Message: "missing Slack app-level token"}
	ErrMissingBotToken      = models.ConfigError{Message: "missing Slack bot token"}
	ErrMissingDBPath        = models.ConfigError{Message: "missing database path"}
)

// LoadConfig reads the JSON config file, applies environment overrides
// and fills defaults.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg models.Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvironmentOverrides(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required fields are present.
func Validate(c *models.Config) error {
	if c.Matrix.HomeserverURL == "" {
		return ErrMissingHomeserverURL
	}
	if c.Matrix.Domain == "" {
		return ErrMissingDomain
	}
	if c.Slack.AppToken == "" {
		return ErrMissingAppToken
	}
	if c.Slack.BotToken == "" {
		return ErrMissingBotToken
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Matrix.RegistrationPath == "" && (c.Matrix.ASToken == "" || c.Matrix.HSToken == "") {
		return models.ConfigError{Message: "either registration_path or explicit as/hs tokens are required"}
	}
	return nil
}

// applyEnvironmentOverrides lets secrets come from the environment
// instead of the config file.
func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		c.Slack.AppToken = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("MATRIX_HOMESERVER_URL"); v != "" {
		c.Matrix.HomeserverURL = v
	}
	if v := os.Getenv("SLACKMATRIX_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("SLACKMATRIX_DB_SECRET"); v != "" {
		c.Database.EncryptionSecret = v
	}
	if v := os.Getenv("SLACKMATRIX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SLACKMATRIX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.Workers = n
		}
	}
}

func applyDefaults(c *models.Config) {
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Queue.IntakeSize <= 0 {
		c.Queue.IntakeSize = constants.DefaultIntakeSize
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = constants.DefaultWorkers
	}
	if c.Queue.EditGraceSec <= 0 {
		c.Queue.EditGraceSec = constants.DefaultEditGraceSec
	}
	if c.Queue.DrainTimeoutSec <= 0 {
		c.Queue.DrainTimeoutSec = constants.DefaultDrainTimeoutSec
	}
	if c.Queue.SlackRatePerSec <= 0 {
		c.Queue.SlackRatePerSec = constants.DefaultSlackRatePerSec
	}
	if c.Queue.MatrixRatePerSec <= 0 {
		c.Queue.MatrixRatePerSec = constants.DefaultMatrixRatePerSec
	}
	if c.Queue.RateBurst <= 0 {
		c.Queue.RateBurst = constants.DefaultRateBurst
	}
	if c.Queue.ProfileTTLMinutes <= 0 {
		c.Queue.ProfileTTLMinutes = constants.DefaultProfileTTLMin
	}
	if c.Files.MaxSizeMB <= 0 {
		c.Files.MaxSizeMB = constants.DefaultMaxFileSizeMB
	}
	if c.Files.DownloadTimeoutSec <= 0 {
		c.Files.DownloadTimeoutSec = constants.DefaultFileDownloadTimeoutSec
	}
	if c.Files.UploadTimeoutSec <= 0 {
		c.Files.UploadTimeoutSec = constants.DefaultFileUploadTimeoutSec
	}
	if c.Slack.TimeoutSec <= 0 {
		c.Slack.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Slack.PingDeadline <= 0 {
		c.Slack.PingDeadline = constants.DefaultSocketPingDeadlineSec
	}
	if c.Limits.MaxMessageChars <= 0 {
		c.Limits.MaxMessageChars = constants.DefaultMaxMessageChars
	}
	if c.Ghosts.UsernamePrefix == "" {
		c.Ghosts.UsernamePrefix = constants.DefaultGhostPrefix
	}
	if c.Ghosts.DisplaynameTemplate == "" {
		c.Ghosts.DisplaynameTemplate = constants.DefaultDisplaynameTemplate
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if c.Matrix.BotUser == "" {
		c.Matrix.BotUser = "slackbot"
	}
}
