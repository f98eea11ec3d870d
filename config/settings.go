package config

var (
	AppVersion = "v1.0.0"
	AppPort    = "3000"
	AppDebug   = false

	McpPort = "8080"
	McpHost = "localhost"

	PathStorages = "storages"
	// DBPath defaults to <PathStorages>/artifacts.db when left empty.
	DBPath = ""

	// Background cleanup cadence for the long-running servers.
	CacheCleanupIntervalMins = 60
)
