package config

const (
	// DefaultDatabasePath is the default path for the local cache database
	DefaultDatabasePath = "./syncbridge.db"

	// DefaultQueueCapacity is the max number of queued offline writes
	DefaultQueueCapacity = 100

	// DefaultMaxAttempts is the replay attempt limit per queued item
	DefaultMaxAttempts = 3
)
