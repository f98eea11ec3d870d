package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
	domainStorage "github.com/orbitalweb/ow-agent/domains/storage"
	pkgError "github.com/orbitalweb/ow-agent/pkg/error"
	"github.com/orbitalweb/ow-agent/pkg/utils"
	"github.com/orbitalweb/ow-agent/validations"
)

// artifactCacheService implements every cache semantic on top of the generic
// persistent store: key generation, size/quota accounting, truncation,
// auto-eviction, orphan/outdated cleanup and corruption detection.
//
// Quota bookkeeping is a read-then-write of a whole session record. To keep
// totals exact under concurrent writes the service serializes quota updates
// per session with a keyed in-memory mutex; items themselves are never at
// risk, only the counters would be.
type artifactCacheService struct {
	store domainStorage.IPersistentStore

	maxItemSize    int64
	maxSessionSize int64
	maxGlobalSize  int64

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// sessionLock is a refcounted per-session mutex entry. The count covers both
// the holder and any blocked waiters, so the map entry can be dropped the
// moment the last of them releases.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewArtifactCacheService(store domainStorage.IPersistentStore) domainArtifact.IArtifactCacheUsecase {
	return &artifactCacheService{
		store:          store,
		maxItemSize:    domainArtifact.MaxItemSize,
		maxSessionSize: domainArtifact.MaxSessionSize,
		maxGlobalSize:  domainArtifact.MaxGlobalSize,
		locks:          make(map[string]*sessionLock),
	}
}

// lockSession acquires the session's mutex and returns the matching release
// function. Entries are removed once no holder or waiter references them,
// keeping the map proportional to in-flight sessions rather than all sessions
// ever seen.
func (s *artifactCacheService) lockSession(sessionID string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.locksMu.Unlock()
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// GenerateStorageKey fills missing task/turn tokens with fresh random ones
// and returns the composite key.
func (s *artifactCacheService) GenerateStorageKey(sessionID, taskID, turnID string) (string, error) {
	if err := validations.ValidateSessionID(context.Background(), sessionID); err != nil {
		return "", err
	}
	if taskID == "" {
		taskID = utils.RandomToken(domainArtifact.TokenLength)
	} else if !domainArtifact.ValidateToken(taskID) {
		return "", pkgError.ValidationError("taskId must be an 8-character lowercase alphanumeric token")
	}
	if turnID == "" {
		turnID = utils.RandomToken(domainArtifact.TokenLength)
	} else if !domainArtifact.ValidateToken(turnID) {
		return "", pkgError.ValidationError("turnId must be an 8-character lowercase alphanumeric token")
	}
	return domainArtifact.FormatStorageKey(sessionID, taskID, turnID), nil
}

// truncateDescription caps the description so the total length is exactly the
// limit, the last three characters replaced by "...".
func truncateDescription(description string) string {
	runes := []rune(description)
	if len(runes) <= domainArtifact.MaxDescriptionLength {
		return description
	}
	return string(runes[:domainArtifact.MaxDescriptionLength-3]) + "..."
}

func (s *artifactCacheService) serialize(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, pkgError.ValidationError(fmt.Sprintf("data is not JSON-serializable: %v", err))
	}
	return raw, nil
}

func decodeItem(raw json.RawMessage) (domainArtifact.CacheItem, error) {
	var item domainArtifact.CacheItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return domainArtifact.CacheItem{}, err
	}
	return item, nil
}

func decodeQuota(raw json.RawMessage) (domainArtifact.SessionQuota, error) {
	var quota domainArtifact.SessionQuota
	if err := json.Unmarshal(raw, &quota); err != nil {
		return domainArtifact.SessionQuota{}, err
	}
	return quota, nil
}

func (s *artifactCacheService) quotaPercent(totalSize int64) float64 {
	return float64(totalSize) / float64(s.maxSessionSize) * 100
}

// getQuota returns the session's quota record, or nil when none exists yet.
func (s *artifactCacheService) getQuota(ctx context.Context, sessionID string) (*domainArtifact.SessionQuota, error) {
	raw, err := s.store.Get(ctx, domainArtifact.PartitionSessions, sessionID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	quota, err := decodeQuota(raw)
	if err != nil {
		return nil, fmt.Errorf("decode quota record for session %s: %w", sessionID, err)
	}
	return &quota, nil
}

// persistQuota is fire-and-forget: quota bookkeeping is best-effort after the
// item mutation already succeeded, so a transient storage hiccup is logged
// rather than failing the operation.
func (s *artifactCacheService) persistQuota(ctx context.Context, quota domainArtifact.SessionQuota) {
	quota.QuotaUsedPercent = s.quotaPercent(quota.TotalSize)
	if err := s.store.Put(ctx, domainArtifact.PartitionSessions, quota); err != nil {
		logrus.Errorf("[CACHE] failed to persist quota record for session %s: %v", quota.SessionID, err)
	}
}

// Write persists a new artifact and returns metadata only; the payload is
// deliberately excluded from the response so callers relaying it into an LLM
// prompt pay a small bounded cost.
func (s *artifactCacheService) Write(ctx context.Context, request domainArtifact.WriteRequest) (domainArtifact.ItemMetadata, error) {
	if err := validations.ValidateWriteRequest(ctx, request); err != nil {
		return domainArtifact.ItemMetadata{}, err
	}

	raw, err := s.serialize(request.Data)
	if err != nil {
		return domainArtifact.ItemMetadata{}, err
	}
	dataSize := int64(len(raw))
	if dataSize > s.maxItemSize {
		return domainArtifact.ItemMetadata{}, pkgError.DataTooLargeError{DataSize: dataSize, MaxSize: s.maxItemSize}
	}

	storageKey, err := s.GenerateStorageKey(request.SessionID, request.TaskID, request.TurnID)
	if err != nil {
		return domainArtifact.ItemMetadata{}, err
	}
	sessionID, taskID, turnID, err := domainArtifact.ParseStorageKey(storageKey)
	if err != nil {
		return domainArtifact.ItemMetadata{}, pkgError.ValidationError(err.Error())
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	quota, err := s.getQuota(ctx, sessionID)
	if err != nil {
		return domainArtifact.ItemMetadata{}, err
	}

	// Pre-emptive eviction: triggered by the prior total plus the incoming
	// size. It frees a fraction of existing items, not a guaranteed fit, so a
	// very large incoming item can still overshoot the cap by at most its own
	// overage.
	if quota != nil && quota.TotalSize+dataSize > s.maxSessionSize {
		if _, err := s.evictLocked(ctx, sessionID); err != nil {
			return domainArtifact.ItemMetadata{}, err
		}
		quota, err = s.getQuota(ctx, sessionID)
		if err != nil {
			return domainArtifact.ItemMetadata{}, err
		}
	}

	now := nowMillis()
	item := domainArtifact.CacheItem{
		StorageKey:     storageKey,
		SessionID:      sessionID,
		TaskID:         taskID,
		TurnID:         turnID,
		Data:           request.Data,
		Description:    truncateDescription(request.Description),
		DataSize:       dataSize,
		Timestamp:      now,
		CustomMetadata: request.CustomMetadata,
	}
	if err := s.store.Put(ctx, domainArtifact.PartitionItems, item); err != nil {
		return domainArtifact.ItemMetadata{}, err
	}

	if quota == nil {
		quota = &domainArtifact.SessionQuota{SessionID: sessionID, CreatedAt: now}
	}
	quota.TotalSize += dataSize
	quota.ItemCount++
	quota.LastAccessedAt = now
	s.persistQuota(ctx, *quota)

	return item.Metadata(), nil
}

// Read returns the full item including its payload. The stored record is
// re-serialized as an integrity check before anything is returned.
func (s *artifactCacheService) Read(ctx context.Context, storageKey string) (domainArtifact.CacheItem, error) {
	if err := validations.ValidateStorageKey(ctx, storageKey); err != nil {
		return domainArtifact.CacheItem{}, err
	}

	raw, err := s.store.Get(ctx, domainArtifact.PartitionItems, storageKey)
	if err != nil {
		return domainArtifact.CacheItem{}, err
	}
	if raw == nil {
		return domainArtifact.CacheItem{}, pkgError.ItemNotFoundError{StorageKey: storageKey}
	}

	item, err := decodeItem(raw)
	if err != nil {
		return domainArtifact.CacheItem{}, pkgError.CorruptedDataError{StorageKey: storageKey, Err: err}
	}
	if _, err := json.Marshal(item.Data); err != nil {
		return domainArtifact.CacheItem{}, pkgError.CorruptedDataError{StorageKey: storageKey, Err: err}
	}

	// The only quota effect of a read: the session is marked as recently
	// accessed. Size and count stay untouched.
	unlock := s.lockSession(item.SessionID)
	if quota, err := s.getQuota(ctx, item.SessionID); err == nil && quota != nil {
		quota.LastAccessedAt = nowMillis()
		s.persistQuota(ctx, *quota)
	}
	unlock()

	return item, nil
}

// List returns metadata for every live item of the session, newest first.
func (s *artifactCacheService) List(ctx context.Context, sessionID string) ([]domainArtifact.ItemMetadata, error) {
	if err := validations.ValidateSessionID(ctx, sessionID); err != nil {
		return nil, err
	}

	items, err := s.sessionItems(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp > items[j].Timestamp
		}
		return items[i].StorageKey > items[j].StorageKey
	})

	metadata := make([]domainArtifact.ItemMetadata, 0, len(items))
	for _, item := range items {
		metadata = append(metadata, item.Metadata())
	}
	return metadata, nil
}

// Delete removes the item if present; deleting an unknown key is not an
// error, it just reports false.
func (s *artifactCacheService) Delete(ctx context.Context, storageKey string) (bool, error) {
	if err := validations.ValidateStorageKey(ctx, storageKey); err != nil {
		return false, err
	}
	sessionID, _, _, err := domainArtifact.ParseStorageKey(storageKey)
	if err != nil {
		return false, pkgError.ValidationError(err.Error())
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	raw, err := s.store.Get(ctx, domainArtifact.PartitionItems, storageKey)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}

	var dataSize int64
	if item, decodeErr := decodeItem(raw); decodeErr == nil {
		dataSize = item.DataSize
	} else {
		logrus.Warnf("[CACHE] deleting undecodable record %s; quota size delta unknown", storageKey)
	}

	removed, err := s.store.Delete(ctx, domainArtifact.PartitionItems, storageKey)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}

	if quota, err := s.getQuota(ctx, sessionID); err == nil && quota != nil {
		quota.TotalSize = clampNonNegative(quota.TotalSize - dataSize)
		quota.ItemCount = clampNonNegative(quota.ItemCount - 1)
		quota.LastAccessedAt = nowMillis()
		s.persistQuota(ctx, *quota)
	}
	return true, nil
}

// Update replaces the payload/description of an existing item in place. The
// session quota moves by the delta between old and new sizes, not by a
// delete-and-insert.
func (s *artifactCacheService) Update(ctx context.Context, request domainArtifact.UpdateRequest) (domainArtifact.ItemMetadata, error) {
	if err := validations.ValidateUpdateRequest(ctx, request); err != nil {
		return domainArtifact.ItemMetadata{}, err
	}

	raw, err := s.serialize(request.Data)
	if err != nil {
		return domainArtifact.ItemMetadata{}, err
	}
	dataSize := int64(len(raw))
	if dataSize > s.maxItemSize {
		return domainArtifact.ItemMetadata{}, pkgError.DataTooLargeError{DataSize: dataSize, MaxSize: s.maxItemSize}
	}

	sessionID, _, _, err := domainArtifact.ParseStorageKey(request.StorageKey)
	if err != nil {
		return domainArtifact.ItemMetadata{}, pkgError.ValidationError(err.Error())
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	stored, err := s.store.Get(ctx, domainArtifact.PartitionItems, request.StorageKey)
	if err != nil {
		return domainArtifact.ItemMetadata{}, err
	}
	if stored == nil {
		return domainArtifact.ItemMetadata{}, pkgError.ItemNotFoundError{StorageKey: request.StorageKey}
	}
	item, err := decodeItem(stored)
	if err != nil {
		return domainArtifact.ItemMetadata{}, pkgError.CorruptedDataError{StorageKey: request.StorageKey, Err: err}
	}

	delta := dataSize - item.DataSize
	item.Data = request.Data
	item.Description = truncateDescription(request.Description)
	item.DataSize = dataSize
	item.Timestamp = nowMillis()
	if request.CustomMetadata != nil {
		item.CustomMetadata = request.CustomMetadata
	}

	if err := s.store.Put(ctx, domainArtifact.PartitionItems, item); err != nil {
		return domainArtifact.ItemMetadata{}, err
	}

	if quota, err := s.getQuota(ctx, sessionID); err == nil && quota != nil {
		quota.TotalSize = clampNonNegative(quota.TotalSize + delta)
		quota.LastAccessedAt = item.Timestamp
		s.persistQuota(ctx, *quota)
	}
	return item.Metadata(), nil
}

// EvictOldest runs one auto-eviction pass for the session.
func (s *artifactCacheService) EvictOldest(ctx context.Context, sessionID string) (int64, error) {
	if err := validations.ValidateSessionID(ctx, sessionID); err != nil {
		return 0, err
	}
	unlock := s.lockSession(sessionID)
	defer unlock()
	return s.evictLocked(ctx, sessionID)
}

// evictLocked removes the oldest configured fraction of the session's items
// in a single batch delete and decrements the quota record by the evicted
// sums. Caller holds the session lock.
func (s *artifactCacheService) evictLocked(ctx context.Context, sessionID string) (int64, error) {
	items, err := s.sessionItems(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	config, err := s.GetConfig(ctx)
	if err != nil {
		logrus.Errorf("[CACHE] eviction falling back to default config: %v", err)
		config = domainArtifact.DefaultCacheConfig()
	}

	// Oldest first; the storage key keeps timestamp ties deterministic.
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp < items[j].Timestamp
		}
		return items[i].StorageKey < items[j].StorageKey
	})

	evictCount := int(math.Ceil(float64(len(items)) * config.SessionEvictionFraction))
	if evictCount > len(items) {
		evictCount = len(items)
	}

	keys := make([]string, 0, evictCount)
	var freedSize int64
	for _, item := range items[:evictCount] {
		keys = append(keys, item.StorageKey)
		freedSize += item.DataSize
	}

	removed, err := s.store.BatchDelete(ctx, domainArtifact.PartitionItems, keys)
	if err != nil {
		return 0, err
	}

	if quota, err := s.getQuota(ctx, sessionID); err == nil && quota != nil {
		quota.TotalSize = clampNonNegative(quota.TotalSize - freedSize)
		quota.ItemCount = clampNonNegative(quota.ItemCount - removed)
		quota.LastAccessedAt = nowMillis()
		s.persistQuota(ctx, *quota)
	}

	logrus.Infof("[CACHE] evicted %d of %d items from session %s (freed %s)",
		removed, len(items), sessionID, humanize.Bytes(uint64(freedSize)))
	return removed, nil
}

// sessionItems fetches the session's items via the by-session index.
// Undecodable records are skipped with a warning instead of failing the scan.
func (s *artifactCacheService) sessionItems(ctx context.Context, sessionID string) ([]domainArtifact.CacheItem, error) {
	records, err := s.store.QueryIndex(ctx, domainArtifact.PartitionItems, domainStorage.IndexQuery{
		Field:  domainArtifact.FieldSessionID,
		Equals: sessionID,
	})
	if err != nil {
		return nil, err
	}
	items := make([]domainArtifact.CacheItem, 0, len(records))
	for _, record := range records {
		item, err := decodeItem(record)
		if err != nil {
			logrus.Warnf("[CACHE] skipping undecodable record in session %s: %v", sessionID, err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
