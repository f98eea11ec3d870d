package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
	domainStorage "github.com/orbitalweb/ow-agent/domains/storage"
	pkgError "github.com/orbitalweb/ow-agent/pkg/error"
	"github.com/orbitalweb/ow-agent/validations"
)

// GetStats returns the session's quota record. Unknown sessions get a zeroed
// synthetic record stamped with the current instant, never an error.
func (s *artifactCacheService) GetStats(ctx context.Context, sessionID string) (domainArtifact.SessionQuota, error) {
	if err := validations.ValidateSessionID(ctx, sessionID); err != nil {
		return domainArtifact.SessionQuota{}, err
	}

	quota, err := s.getQuota(ctx, sessionID)
	if err != nil {
		return domainArtifact.SessionQuota{}, err
	}
	if quota == nil {
		now := nowMillis()
		return domainArtifact.SessionQuota{
			SessionID:      sessionID,
			CreatedAt:      now,
			LastAccessedAt: now,
		}, nil
	}
	quota.QuotaUsedPercent = s.quotaPercent(quota.TotalSize)
	return *quota, nil
}

// GetGlobalStats aggregates every session's quota record and scans live items
// for the oldest age.
func (s *artifactCacheService) GetGlobalStats(ctx context.Context) (domainArtifact.GlobalStats, error) {
	records, err := s.store.GetAll(ctx, domainArtifact.PartitionSessions)
	if err != nil {
		return domainArtifact.GlobalStats{}, err
	}

	stats := domainArtifact.GlobalStats{SessionCount: len(records)}
	for _, record := range records {
		quota, err := decodeQuota(record)
		if err != nil {
			logrus.Warnf("[CACHE] skipping undecodable quota record: %v", err)
			stats.SessionCount--
			continue
		}
		stats.TotalSize += quota.TotalSize
		stats.ItemCount += quota.ItemCount
	}
	stats.HumanSize = humanize.Bytes(uint64(stats.TotalSize))
	stats.QuotaUsedPercent = float64(stats.TotalSize) / float64(s.maxGlobalSize) * 100

	items, err := s.store.GetAll(ctx, domainArtifact.PartitionItems)
	if err != nil {
		return domainArtifact.GlobalStats{}, err
	}
	now := nowMillis()
	for _, record := range items {
		item, err := decodeItem(record)
		if err != nil {
			continue
		}
		if age := now - item.Timestamp; age > stats.OldestItemAgeMs {
			stats.OldestItemAgeMs = age
		}
	}
	return stats, nil
}

// CheckGlobalQuota reports whether the aggregate size exceeds the global cap.
// Advisory only; exceeding it triggers no remediation.
func (s *artifactCacheService) CheckGlobalQuota(ctx context.Context) (bool, error) {
	records, err := s.store.GetAll(ctx, domainArtifact.PartitionSessions)
	if err != nil {
		return false, err
	}
	var totalSize int64
	for _, record := range records {
		if quota, err := decodeQuota(record); err == nil {
			totalSize += quota.TotalSize
		}
	}
	return totalSize > s.maxGlobalSize, nil
}

// ClearSession removes every item of the session and its quota record,
// returning the number of items removed. Unknown sessions clear to 0.
func (s *artifactCacheService) ClearSession(ctx context.Context, sessionID string) (int64, error) {
	if err := validations.ValidateSessionID(ctx, sessionID); err != nil {
		return 0, err
	}
	unlock := s.lockSession(sessionID)
	defer unlock()
	return s.clearSessionLocked(ctx, sessionID)
}

func (s *artifactCacheService) clearSessionLocked(ctx context.Context, sessionID string) (int64, error) {
	items, err := s.sessionItems(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.StorageKey)
	}

	removed, err := s.store.BatchDelete(ctx, domainArtifact.PartitionItems, keys)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.Delete(ctx, domainArtifact.PartitionSessions, sessionID); err != nil {
		logrus.Errorf("[CACHE] failed to delete quota record for session %s: %v", sessionID, err)
	}
	return removed, nil
}

// CleanupOrphans fully clears every session whose quota record has not been
// accessed within maxAge (default 24h) and returns the total items removed.
func (s *artifactCacheService) CleanupOrphans(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = domainArtifact.DefaultOrphanMaxAge
	}
	records, err := s.store.GetAll(ctx, domainArtifact.PartitionSessions)
	if err != nil {
		return 0, err
	}

	cutoff := nowMillis() - maxAge.Milliseconds()
	var total int64
	for _, record := range records {
		quota, err := decodeQuota(record)
		if err != nil {
			logrus.Warnf("[CACHE] skipping undecodable quota record during orphan cleanup: %v", err)
			continue
		}
		if quota.LastAccessedAt >= cutoff {
			continue
		}

		unlock := s.lockSession(quota.SessionID)
		removed, err := s.clearSessionLocked(ctx, quota.SessionID)
		unlock()
		if err != nil {
			return total, err
		}
		logrus.Infof("[CACHE] cleared orphan session %s (%d items)", quota.SessionID, removed)
		total += removed
	}
	return total, nil
}

// CleanupOutdated batch-deletes items older than the resolved threshold and
// applies the aggregated size/count deltas to each affected session. A zero
// maxAgeDays resolves the threshold from the persisted config; a resolved
// CleanupDisabled is an immediate no-op.
func (s *artifactCacheService) CleanupOutdated(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays == 0 {
		config, err := s.GetConfig(ctx)
		if err != nil {
			return 0, err
		}
		maxAgeDays = config.OutdatedCleanupDays
	}
	if maxAgeDays == domainArtifact.CleanupDisabled {
		return 0, nil
	}
	if maxAgeDays < 1 {
		return 0, pkgError.ValidationError("maxAgeDays must be >= 1, or -1 to disable cleanup")
	}

	cutoff := nowMillis() - int64(maxAgeDays)*24*time.Hour.Milliseconds()
	records, err := s.store.QueryIndex(ctx, domainArtifact.PartitionItems, domainStorage.IndexQuery{
		Field: domainArtifact.FieldTimestamp,
		Max:   cutoff,
	})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	type sessionDelta struct {
		keys []string
		size int64
	}
	deltas := make(map[string]*sessionDelta)
	for _, record := range records {
		item, err := decodeItem(record)
		if err != nil {
			logrus.Warnf("[CACHE] skipping undecodable record during outdated cleanup: %v", err)
			continue
		}
		delta, ok := deltas[item.SessionID]
		if !ok {
			delta = &sessionDelta{}
			deltas[item.SessionID] = delta
		}
		delta.keys = append(delta.keys, item.StorageKey)
		delta.size += item.DataSize
	}

	var total int64
	for sessionID, delta := range deltas {
		unlock := s.lockSession(sessionID)
		removed, err := s.store.BatchDelete(ctx, domainArtifact.PartitionItems, delta.keys)
		if err != nil {
			unlock()
			return total, err
		}
		if quota, err := s.getQuota(ctx, sessionID); err == nil && quota != nil {
			quota.TotalSize = clampNonNegative(quota.TotalSize - delta.size)
			quota.ItemCount = clampNonNegative(quota.ItemCount - removed)
			s.persistQuota(ctx, *quota)
		}
		unlock()
		total += removed
	}

	logrus.Infof("[CACHE] outdated cleanup removed %d items older than %d days", total, maxAgeDays)
	return total, nil
}

// GetConfig reads the persisted cache configuration, falling back to defaults
// when none has been written yet.
func (s *artifactCacheService) GetConfig(ctx context.Context) (domainArtifact.CacheConfig, error) {
	raw, err := s.store.Get(ctx, domainArtifact.PartitionConfig, domainArtifact.ConfigRecordKey)
	if err != nil {
		return domainArtifact.CacheConfig{}, err
	}
	if raw == nil {
		return domainArtifact.DefaultCacheConfig(), nil
	}
	record, err := decodeConfig(raw)
	if err != nil {
		logrus.Errorf("[CACHE] undecodable config record, using defaults: %v", err)
		return domainArtifact.DefaultCacheConfig(), nil
	}
	return record.CacheConfig, nil
}

// SetConfig merge-writes the single config record: nil fields keep their
// current value.
func (s *artifactCacheService) SetConfig(ctx context.Context, update domainArtifact.CacheConfigUpdate) (domainArtifact.CacheConfig, error) {
	if err := validations.ValidateConfigUpdate(ctx, update); err != nil {
		return domainArtifact.CacheConfig{}, err
	}

	config, err := s.GetConfig(ctx)
	if err != nil {
		return domainArtifact.CacheConfig{}, err
	}
	if update.OutdatedCleanupDays != nil {
		config.OutdatedCleanupDays = *update.OutdatedCleanupDays
	}
	if update.SessionEvictionFraction != nil {
		config.SessionEvictionFraction = *update.SessionEvictionFraction
	}

	record := domainArtifact.ConfigRecord{ConfigKey: domainArtifact.ConfigRecordKey, CacheConfig: config}
	if err := s.store.Put(ctx, domainArtifact.PartitionConfig, record); err != nil {
		return domainArtifact.CacheConfig{}, err
	}
	return config, nil
}

func decodeConfig(raw []byte) (domainArtifact.ConfigRecord, error) {
	var record domainArtifact.ConfigRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domainArtifact.ConfigRecord{}, err
	}
	return record, nil
}

// StartBackgroundCleanup runs periodic orphan and outdated passes until the
// context is cancelled. The interval is clamped to a sane minimum so a
// misconfigured deployment cannot spin the store.
func (s *artifactCacheService) StartBackgroundCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		if interval < 5*time.Minute {
			interval = 5 * time.Minute
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}

			logrus.Info("[CACHE] running scheduled cleanup...")
			if removed, err := s.CleanupOrphans(ctx, domainArtifact.DefaultOrphanMaxAge); err != nil {
				logrus.Errorf("[CACHE] orphan cleanup failed: %v", err)
			} else if removed > 0 {
				logrus.Infof("[CACHE] orphan cleanup removed %d items", removed)
			}
			if removed, err := s.CleanupOutdated(ctx, 0); err != nil {
				logrus.Errorf("[CACHE] outdated cleanup failed: %v", err)
			} else if removed > 0 {
				logrus.Infof("[CACHE] outdated cleanup removed %d items", removed)
			}
		}
	}()
}
