package constants

import "time"

const (
	// APIVersion is sent as x-api-version on every authenticated request.
	APIVersion = "20250101"
	APIScope   = "public"
)

const (
	UserRecordTTL = 24 * time.Hour
	SyncRunsLimit = 20
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// UserPrefetchLimit bounds concurrent user lookups while resolving one event.
	UserPrefetchLimit      = 4
	NotificationBuffer     = 64
	MinimumRefreshInterval = 5 * time.Second
)
