package artifact

import domainStorage "github.com/orbitalweb/ow-agent/domains/storage"

// Partition layout of the cache. Items are keyed by storageKey and indexed by
// session and by timestamp for eviction/cleanup scans; sessions hold one quota
// record each; config holds the single CacheConfig record under a fixed key.
const (
	PartitionItems    = "cache_items"
	PartitionSessions = "cache_sessions"
	PartitionConfig   = "cache_config"

	FieldStorageKey = "storageKey"
	FieldSessionID  = "sessionId"
	FieldTimestamp  = "timestamp"

	ConfigRecordKey = "global"
)

// ConfigRecord wraps CacheConfig with the fixed primary key the config
// partition is keyed by.
type ConfigRecord struct {
	ConfigKey string `json:"configKey"`
	CacheConfig
}

// Partitions returns the store schema the cache initializes with.
func Partitions() []domainStorage.PartitionSpec {
	return []domainStorage.PartitionSpec{
		{
			Name:       PartitionItems,
			PrimaryKey: FieldStorageKey,
			Indexes: []domainStorage.IndexSpec{
				{Field: FieldSessionID, Kind: domainStorage.IndexText},
				{Field: FieldTimestamp, Kind: domainStorage.IndexInteger},
			},
		},
		{
			Name:       PartitionSessions,
			PrimaryKey: FieldSessionID,
		},
		{
			Name:       PartitionConfig,
			PrimaryKey: "configKey",
		},
	}
}
