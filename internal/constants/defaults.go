package constants

// Default retry configuration values
const (
	DefaultRetryBackoffMs   = 1000
	DefaultMaxBackoffMs     = 60000
	DefaultMaxAttempts      = 5
	DefaultRetentionDays    = 30
	DefaultServerPort       = 9005
	DefaultDatabaseAttempts = 3
)

// Default dispatcher configuration values
const (
	DefaultIntakeSize       = 1024
	DefaultWorkers          = 8
	DefaultEditGraceSec     = 10
	DefaultDrainTimeoutSec  = 20
	DefaultSlackRatePerSec  = 1
	DefaultMatrixRatePerSec = 10
	DefaultRateBurst        = 5
	DefaultProfileTTLMin    = 60
)

// Default Slack socket configuration values
const (
	DefaultSocketPingDeadlineSec = 30
	DefaultSocketAckTimeoutSec   = 3
	DefaultReconnectInitialMs    = 500
	DefaultReconnectMaxSec       = 60
)

// Default file transfer limits
const (
	DefaultMaxFileSizeMB          = 100
	DefaultFileDownloadTimeoutSec = 60
	DefaultFileUploadTimeoutSec   = 120
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// Default message limits
const (
	DefaultMaxMessageChars = 4000
)

// Default ghost identity settings
const (
	DefaultGhostPrefix         = "_slack_"
	DefaultDisplaynameTemplate = ":displayname (Slack)"
)
