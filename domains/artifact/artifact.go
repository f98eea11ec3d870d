package artifact

import (
	"context"
	"time"
)

// Fixed contract values. These are part of the tool-facing boundary and must
// not drift between transports.
const (
	// MaxItemSize caps a single serialized payload (5 MB).
	MaxItemSize int64 = 5 * 1024 * 1024
	// MaxSessionSize caps the aggregate live size of one session (200 MB).
	MaxSessionSize int64 = 200 * 1024 * 1024
	// MaxGlobalSize caps the aggregate live size across all sessions (5 GB).
	MaxGlobalSize int64 = 5 * 1024 * 1024 * 1024
	// MaxDescriptionLength caps the human-readable description.
	MaxDescriptionLength = 500

	// DefaultEvictionFraction is the share of a session's items removed by one
	// auto-eviction pass.
	DefaultEvictionFraction = 0.5
	// DefaultOrphanMaxAge is the inactivity window after which a whole session
	// is considered abandoned.
	DefaultOrphanMaxAge = 24 * time.Hour
	// DefaultOutdatedCleanupDays is the default item age threshold for the
	// global cleanup pass.
	DefaultOutdatedCleanupDays = 30
	// CleanupDisabled is the config sentinel that turns the outdated cleanup
	// pass off entirely.
	CleanupDisabled = -1
)

// CacheItem is one stored artifact. Timestamps are unix milliseconds, the
// precision the by-timestamp index sorts on.
type CacheItem struct {
	StorageKey     string         `json:"storageKey"`
	SessionID      string         `json:"sessionId"`
	TaskID         string         `json:"taskId"`
	TurnID         string         `json:"turnId"`
	Data           any            `json:"data"`
	Description    string         `json:"description"`
	DataSize       int64          `json:"dataSize"`
	Timestamp      int64          `json:"timestamp"`
	CustomMetadata map[string]any `json:"customMetadata,omitempty"`
}

// Metadata strips the payload so callers relaying the result into an LLM
// prompt pay only the small bounded metadata cost.
func (i CacheItem) Metadata() ItemMetadata {
	return ItemMetadata{
		StorageKey:     i.StorageKey,
		SessionID:      i.SessionID,
		TaskID:         i.TaskID,
		TurnID:         i.TurnID,
		Description:    i.Description,
		DataSize:       i.DataSize,
		Timestamp:      i.Timestamp,
		CustomMetadata: i.CustomMetadata,
	}
}

// ItemMetadata is CacheItem without Data.
type ItemMetadata struct {
	StorageKey     string         `json:"storageKey"`
	SessionID      string         `json:"sessionId"`
	TaskID         string         `json:"taskId"`
	TurnID         string         `json:"turnId"`
	Description    string         `json:"description"`
	DataSize       int64          `json:"dataSize"`
	Timestamp      int64          `json:"timestamp"`
	CustomMetadata map[string]any `json:"customMetadata,omitempty"`
}

// SessionQuota is the per-session bookkeeping record. TotalSize and ItemCount
// summarize the live items of the session; the record survives at zero when
// items are deleted one by one and is only removed by an explicit clear.
type SessionQuota struct {
	SessionID        string  `json:"sessionId"`
	TotalSize        int64   `json:"totalSize"`
	ItemCount        int64   `json:"itemCount"`
	QuotaUsedPercent float64 `json:"quotaUsedPercent"`
	CreatedAt        int64   `json:"createdAt"`
	LastAccessedAt   int64   `json:"lastAccessedAt"`
}

// GlobalStats aggregates every session's quota record.
type GlobalStats struct {
	TotalSize        int64   `json:"totalSize"`
	HumanSize        string  `json:"humanSize"`
	ItemCount        int64   `json:"itemCount"`
	SessionCount     int     `json:"sessionCount"`
	QuotaUsedPercent float64 `json:"quotaUsedPercent"`
	OldestItemAgeMs  int64   `json:"oldestItemAgeMs"`
}

// CacheConfig is the single persisted configuration record.
type CacheConfig struct {
	OutdatedCleanupDays     int     `json:"outdatedCleanupDays"`
	SessionEvictionFraction float64 `json:"sessionEvictionFraction"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		OutdatedCleanupDays:     DefaultOutdatedCleanupDays,
		SessionEvictionFraction: DefaultEvictionFraction,
	}
}

// CacheConfigUpdate is a merge-write: nil fields keep their persisted value.
type CacheConfigUpdate struct {
	OutdatedCleanupDays     *int     `json:"outdatedCleanupDays,omitempty"`
	SessionEvictionFraction *float64 `json:"sessionEvictionFraction,omitempty"`
}

type WriteRequest struct {
	SessionID      string         `json:"sessionId"`
	Data           any            `json:"data"`
	Description    string         `json:"description"`
	TaskID         string         `json:"taskId,omitempty"`
	TurnID         string         `json:"turnId,omitempty"`
	CustomMetadata map[string]any `json:"customMetadata,omitempty"`
}

type UpdateRequest struct {
	StorageKey     string         `json:"storageKey"`
	Data           any            `json:"data"`
	Description    string         `json:"description"`
	CustomMetadata map[string]any `json:"customMetadata,omitempty"`
}

// IArtifactCacheUsecase owns every cache semantic: key generation, quota
// accounting, truncation, auto-eviction, cleanup and corruption detection.
// It consumes the persistent store exclusively through its generic contract.
type IArtifactCacheUsecase interface {
	GenerateStorageKey(sessionID, taskID, turnID string) (string, error)

	Write(ctx context.Context, request WriteRequest) (ItemMetadata, error)
	Read(ctx context.Context, storageKey string) (CacheItem, error)
	List(ctx context.Context, sessionID string) ([]ItemMetadata, error)
	Delete(ctx context.Context, storageKey string) (bool, error)
	Update(ctx context.Context, request UpdateRequest) (ItemMetadata, error)

	// EvictOldest runs one auto-eviction pass for the session and returns the
	// number of items removed. Write triggers it implicitly when a session
	// would overflow its cap.
	EvictOldest(ctx context.Context, sessionID string) (int64, error)

	GetStats(ctx context.Context, sessionID string) (SessionQuota, error)
	GetGlobalStats(ctx context.Context) (GlobalStats, error)
	// CheckGlobalQuota reports whether the aggregate size exceeds the global
	// cap. Advisory only; nothing is evicted on overflow.
	CheckGlobalQuota(ctx context.Context) (bool, error)

	ClearSession(ctx context.Context, sessionID string) (int64, error)
	CleanupOrphans(ctx context.Context, maxAge time.Duration) (int64, error)
	// CleanupOutdated removes items older than maxAgeDays. Zero resolves the
	// threshold from the persisted config; a resolved CleanupDisabled is a
	// no-op returning 0.
	CleanupOutdated(ctx context.Context, maxAgeDays int) (int64, error)

	GetConfig(ctx context.Context) (CacheConfig, error)
	SetConfig(ctx context.Context, update CacheConfigUpdate) (CacheConfig, error)

	// StartBackgroundCleanup runs periodic orphan and outdated passes on the
	// given interval until the context is cancelled.
	StartBackgroundCleanup(ctx context.Context, interval time.Duration)
}
