package models

// Config holds the application configuration
type Config struct {
	Matrix        MatrixConfig   `json:"matrix"`
	Slack         SlackConfig    `json:"slack"`
	Database      DatabaseConfig `json:"database"`
	Files         FilesConfig    `json:"files"`
	Retry         RetryConfig    `json:"retry"`
	Queue         QueueConfig    `json:"queue"`
	Ghosts        GhostsConfig   `json:"ghosts"`
	Limits        LimitsConfig   `json:"limits"`
	Tracing       TracingConfig  `json:"tracing"`
	LogLevel      string         `json:"log_level"`
	RetentionDays int            `json:"retentionDays"`
}

// MatrixConfig holds homeserver and appservice related configuration.
type MatrixConfig struct {
	HomeserverURL    string `json:"homeserver_url"`
	Domain           string `json:"domain"`
	RegistrationPath string `json:"registration_path"`
	// Overrides for the registration file, mainly for tests.
	ASToken string `json:"as_token,omitempty"`
	HSToken string `json:"hs_token,omitempty"`
	BotUser string `json:"bot_username"`
}

// SlackConfig holds Slack API related configuration.
type SlackConfig struct {
	APIBaseURL string `json:"api_base_url"`
	// AppToken (xapp-) opens Socket Mode connections, BotToken (xoxb-)
	// authenticates Web API calls.
	AppToken     string `json:"app_token"`
	BotToken     string `json:"bot_token"`
	TeamID       string `json:"team_id"`
	TimeoutSec   int    `json:"timeout_sec"`
	PingDeadline int    `json:"ping_deadline_sec"`
}

// DatabaseConfig holds database related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
	// EncryptionSecret, when non-empty, enables AES-GCM at-rest
	// encryption of profile and room metadata columns. Identifier
	// columns stay plaintext so UNIQUE constraints keep working.
	EncryptionSecret string `json:"encryption_secret,omitempty"`
}

// FilesConfig bounds attachment transfers in both directions.
type FilesConfig struct {
	MaxSizeMB          int `json:"maxSizeMB"`
	DownloadTimeoutSec int `json:"downloadTimeoutSec"`
	UploadTimeoutSec   int `json:"uploadTimeoutSec"`
}

// RetryConfig holds retry related configuration.
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// QueueConfig bounds the dispatcher intake and worker pool.
type QueueConfig struct {
	IntakeSize        int `json:"intakeSize"`
	Workers           int `json:"workers"`
	EditGraceSec      int `json:"editGraceSec"`
	DrainTimeoutSec   int `json:"drainTimeoutSec"`
	SlackRatePerSec   int `json:"slackRatePerSec"`
	MatrixRatePerSec  int `json:"matrixRatePerSec"`
	RateBurst         int `json:"rateBurst"`
	ProfileTTLMinutes int `json:"profileTTLMinutes"`
}

// GhostsConfig controls how Slack users appear on the Matrix side.
type GhostsConfig struct {
	// UsernamePrefix is the localpart prefix for ghost MXIDs, e.g.
	// "_slack_" yields @_slack_U123:domain.
	UsernamePrefix      string `json:"username_prefix"`
	DisplaynameTemplate string `json:"displayname_template"`
}

// LimitsConfig bounds outbound message sizes.
type LimitsConfig struct {
	// MaxMessageChars is the per-message character budget on the
	// destination network; longer bodies are split into a thread.
	MaxMessageChars int `json:"maxMessageChars"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
