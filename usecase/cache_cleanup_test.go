package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
	pkgError "github.com/orbitalweb/ow-agent/pkg/error"
)

func TestEvictOldest_RemovesHalfOldestFirst(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()
	sessionID := "session1"

	seedItem(t, svc, sessionID, "aaaaaaaa", "aaaaaaaa", 1000, 100)
	seedItem(t, svc, sessionID, "bbbbbbbb", "bbbbbbbb", 2000, 100)
	k3 := seedItem(t, svc, sessionID, "cccccccc", "cccccccc", 3000, 100)
	k4 := seedItem(t, svc, sessionID, "dddddddd", "dddddddd", 4000, 100)
	seedQuota(t, svc, sessionID, 400, 4, 4000)

	removed, err := svc.EvictOldest(ctx, sessionID)
	if err != nil {
		t.Fatalf("EvictOldest() unexpected error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("EvictOldest() removed %d, want 2", removed)
	}

	items, err := svc.List(ctx, sessionID)
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(items))
	}
	if items[0].StorageKey != k4 || items[1].StorageKey != k3 {
		t.Fatalf("eviction removed the wrong items, survivors: %q %q",
			items[0].StorageKey, items[1].StorageKey)
	}

	stats, err := svc.GetStats(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetStats() unexpected error: %v", err)
	}
	if stats.ItemCount != 2 || stats.TotalSize != 200 {
		t.Fatalf("quota after eviction = %d items / %d bytes, want 2 / 200", stats.ItemCount, stats.TotalSize)
	}
}

func TestEvictOldest_OddCountRoundsUp(t *testing.T) {
	svc := newTestCacheService(t)
	sessionID := "session1"

	seedItem(t, svc, sessionID, "aaaaaaaa", "aaaaaaaa", 1000, 100)
	seedItem(t, svc, sessionID, "bbbbbbbb", "bbbbbbbb", 2000, 100)
	seedItem(t, svc, sessionID, "cccccccc", "cccccccc", 3000, 100)
	seedQuota(t, svc, sessionID, 300, 3, 3000)

	removed, err := svc.EvictOldest(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("EvictOldest() unexpected error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("EvictOldest() on 3 items removed %d, want ceil(1.5) = 2", removed)
	}
}

func TestEvictOldest_EmptySession(t *testing.T) {
	svc := newTestCacheService(t)

	removed, err := svc.EvictOldest(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("EvictOldest() unexpected error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("EvictOldest() on empty session removed %d, want 0", removed)
	}
}

func TestEvictOldest_HonorsConfiguredFraction(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()
	sessionID := "session1"

	fraction := 1.0
	if _, err := svc.SetConfig(ctx, domainArtifact.CacheConfigUpdate{
		SessionEvictionFraction: &fraction,
	}); err != nil {
		t.Fatalf("SetConfig() unexpected error: %v", err)
	}

	for i, task := range []string{"aaaaaaaa", "bbbbbbbb", "cccccccc", "dddddddd"} {
		seedItem(t, svc, sessionID, task, task, int64((i+1)*1000), 100)
	}
	seedQuota(t, svc, sessionID, 400, 4, 4000)

	removed, err := svc.EvictOldest(ctx, sessionID)
	if err != nil {
		t.Fatalf("EvictOldest() unexpected error: %v", err)
	}
	if removed != 4 {
		t.Fatalf("EvictOldest() with fraction 1.0 removed %d, want 4", removed)
	}
}

func TestWrite_TriggersEvictionWhenSessionWouldOverflow(t *testing.T) {
	svc := newTestCacheService(t)
	svc.maxSessionSize = 250
	ctx := context.Background()
	sessionID := "session1"

	oldest := seedItem(t, svc, sessionID, "aaaaaaaa", "aaaaaaaa", 1000, 100)
	kept := seedItem(t, svc, sessionID, "bbbbbbbb", "bbbbbbbb", 2000, 100)
	seedQuota(t, svc, sessionID, 200, 2, 2000)

	// Serialized size 100 (98 chars plus quotes); 200 + 100 > 250 forces a
	// pre-emptive eviction pass before the write lands.
	metadata, err := svc.Write(ctx, domainArtifact.WriteRequest{
		SessionID:   sessionID,
		Data:        strings.Repeat("z", 98),
		Description: "overflowing write",
	})
	if err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}

	if _, err := svc.Read(ctx, oldest); err == nil {
		t.Fatalf("oldest item should have been evicted")
	}
	if _, err := svc.Read(ctx, kept); err != nil {
		t.Fatalf("newer item should have survived eviction: %v", err)
	}

	stats, err := svc.GetStats(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetStats() unexpected error: %v", err)
	}
	if stats.ItemCount != 2 {
		t.Fatalf("expected 2 items after eviction plus write, got %d", stats.ItemCount)
	}
	if stats.TotalSize != 100+metadata.DataSize {
		t.Fatalf("quota totalSize = %d, want %d", stats.TotalSize, 100+metadata.DataSize)
	}
}

func TestClearSession(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()

	seedItem(t, svc, "alpha", "aaaaaaaa", "aaaaaaaa", 1000, 100)
	seedItem(t, svc, "alpha", "bbbbbbbb", "bbbbbbbb", 2000, 100)
	seedQuota(t, svc, "alpha", 200, 2, 2000)
	betaKey := seedItem(t, svc, "beta", "cccccccc", "cccccccc", 3000, 100)
	seedQuota(t, svc, "beta", 100, 1, 3000)

	removed, err := svc.ClearSession(ctx, "alpha")
	if err != nil {
		t.Fatalf("ClearSession() unexpected error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("ClearSession() removed %d, want 2", removed)
	}

	stats, err := svc.GetStats(ctx, "alpha")
	if err != nil {
		t.Fatalf("GetStats() unexpected error: %v", err)
	}
	if stats.ItemCount != 0 || stats.TotalSize != 0 {
		t.Fatalf("cleared session still reports %d items / %d bytes", stats.ItemCount, stats.TotalSize)
	}

	if _, err := svc.Read(ctx, betaKey); err != nil {
		t.Fatalf("ClearSession() must not touch other sessions: %v", err)
	}
}

func TestCleanupOrphans(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()
	now := nowMillis()

	staleKey := seedItem(t, svc, "stale", "aaaaaaaa", "aaaaaaaa", now, 100)
	seedQuota(t, svc, "stale", 100, 1, now-(25*time.Hour).Milliseconds())
	freshKey := seedItem(t, svc, "fresh", "bbbbbbbb", "bbbbbbbb", now, 100)
	seedQuota(t, svc, "fresh", 100, 1, now-(12*time.Hour).Milliseconds())

	removed, err := svc.CleanupOrphans(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOrphans() unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("CleanupOrphans() removed %d, want 1", removed)
	}

	if _, err := svc.Read(ctx, staleKey); err == nil {
		t.Fatalf("stale session's item should be gone")
	}
	if _, err := svc.Read(ctx, freshKey); err != nil {
		t.Fatalf("fresh session's item should survive: %v", err)
	}
}

func TestCleanupOrphans_DefaultMaxAge(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()
	now := nowMillis()

	seedItem(t, svc, "stale", "aaaaaaaa", "aaaaaaaa", now, 100)
	seedQuota(t, svc, "stale", 100, 1, now-(25*time.Hour).Milliseconds())

	// Zero duration resolves to the 24h default.
	removed, err := svc.CleanupOrphans(ctx, 0)
	if err != nil {
		t.Fatalf("CleanupOrphans() unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("CleanupOrphans() with default age removed %d, want 1", removed)
	}
}

func TestCleanupOutdated(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()
	now := nowMillis()
	day := (24 * time.Hour).Milliseconds()

	oldKey := seedItem(t, svc, "session1", "aaaaaaaa", "aaaaaaaa", now-31*day, 100)
	newKey := seedItem(t, svc, "session1", "bbbbbbbb", "bbbbbbbb", now-1*day, 100)
	seedQuota(t, svc, "session1", 200, 2, now)

	removed, err := svc.CleanupOutdated(ctx, 30)
	if err != nil {
		t.Fatalf("CleanupOutdated() unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("CleanupOutdated() removed %d, want 1", removed)
	}

	if _, err := svc.Read(ctx, oldKey); err == nil {
		t.Fatalf("item older than the threshold should be gone")
	}
	if _, err := svc.Read(ctx, newKey); err != nil {
		t.Fatalf("recent item should survive: %v", err)
	}

	stats, err := svc.GetStats(ctx, "session1")
	if err != nil {
		t.Fatalf("GetStats() unexpected error: %v", err)
	}
	if stats.ItemCount != 1 || stats.TotalSize != 100 {
		t.Fatalf("quota after outdated cleanup = %d items / %d bytes, want 1 / 100",
			stats.ItemCount, stats.TotalSize)
	}
}

func TestCleanupOutdated_ThresholdBoundary(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()
	now := nowMillis()
	day := (24 * time.Hour).Milliseconds()

	gone := seedItem(t, svc, "session1", "aaaaaaaa", "aaaaaaaa", now-8*day, 100)
	kept := seedItem(t, svc, "session1", "bbbbbbbb", "bbbbbbbb", now-6*day, 100)
	seedQuota(t, svc, "session1", 200, 2, now)

	removed, err := svc.CleanupOutdated(ctx, 7)
	if err != nil {
		t.Fatalf("CleanupOutdated() unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("CleanupOutdated(7) removed %d, want 1", removed)
	}
	if _, err := svc.Read(ctx, gone); err == nil {
		t.Fatalf("8-day-old item should be removed at a 7-day threshold")
	}
	if _, err := svc.Read(ctx, kept); err != nil {
		t.Fatalf("6-day-old item should survive a 7-day threshold: %v", err)
	}
}

func TestCleanupOutdated_ResolvesThresholdFromConfig(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()
	now := nowMillis()
	day := (24 * time.Hour).Milliseconds()

	days := 5
	if _, err := svc.SetConfig(ctx, domainArtifact.CacheConfigUpdate{OutdatedCleanupDays: &days}); err != nil {
		t.Fatalf("SetConfig() unexpected error: %v", err)
	}

	seedItem(t, svc, "session1", "aaaaaaaa", "aaaaaaaa", now-6*day, 100)
	seedQuota(t, svc, "session1", 100, 1, now)

	removed, err := svc.CleanupOutdated(ctx, 0)
	if err != nil {
		t.Fatalf("CleanupOutdated() unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("CleanupOutdated(0) with a 5-day config removed %d, want 1", removed)
	}
}

func TestCleanupOutdated_DisabledSentinel(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()
	now := nowMillis()
	day := (24 * time.Hour).Milliseconds()

	disabled := domainArtifact.CleanupDisabled
	if _, err := svc.SetConfig(ctx, domainArtifact.CacheConfigUpdate{OutdatedCleanupDays: &disabled}); err != nil {
		t.Fatalf("SetConfig() unexpected error: %v", err)
	}

	ancient := seedItem(t, svc, "session1", "aaaaaaaa", "aaaaaaaa", now-400*day, 100)
	seedQuota(t, svc, "session1", 100, 1, now)

	removed, err := svc.CleanupOutdated(ctx, 0)
	if err != nil {
		t.Fatalf("CleanupOutdated() unexpected error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("disabled cleanup removed %d items, want 0", removed)
	}
	if _, err := svc.Read(ctx, ancient); err != nil {
		t.Fatalf("disabled cleanup must leave items alone: %v", err)
	}

	// An explicit -1 behaves the same as the resolved sentinel.
	removed, err = svc.CleanupOutdated(ctx, domainArtifact.CleanupDisabled)
	if err != nil {
		t.Fatalf("CleanupOutdated(-1) unexpected error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("CleanupOutdated(-1) removed %d items, want 0", removed)
	}
}

func TestCleanupOutdated_RejectsInvalidThreshold(t *testing.T) {
	svc := newTestCacheService(t)

	_, err := svc.CleanupOutdated(context.Background(), -5)
	if _, ok := err.(pkgError.ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
}

func TestGetStats_UnknownSession(t *testing.T) {
	svc := newTestCacheService(t)

	stats, err := svc.GetStats(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetStats() on unknown session should not fail: %v", err)
	}
	if stats.SessionID != "nobody" || stats.ItemCount != 0 || stats.TotalSize != 0 {
		t.Fatalf("GetStats() on unknown session = %+v, want zeroed record", stats)
	}
	if stats.CreatedAt == 0 || stats.LastAccessedAt == 0 {
		t.Fatalf("GetStats() synthetic record must be stamped with the current instant")
	}
}

func TestGetGlobalStats(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()
	now := nowMillis()

	seedItem(t, svc, "alpha", "aaaaaaaa", "aaaaaaaa", now-5000, 100)
	seedQuota(t, svc, "alpha", 100, 1, now)
	seedItem(t, svc, "beta", "bbbbbbbb", "bbbbbbbb", now, 200)
	seedQuota(t, svc, "beta", 200, 1, now)

	stats, err := svc.GetGlobalStats(ctx)
	if err != nil {
		t.Fatalf("GetGlobalStats() unexpected error: %v", err)
	}
	if stats.SessionCount != 2 {
		t.Fatalf("GetGlobalStats() sessionCount = %d, want 2", stats.SessionCount)
	}
	if stats.TotalSize != 300 || stats.ItemCount != 2 {
		t.Fatalf("GetGlobalStats() = %d bytes / %d items, want 300 / 2", stats.TotalSize, stats.ItemCount)
	}
	if stats.HumanSize == "" {
		t.Fatalf("GetGlobalStats() humanSize must be populated")
	}
	if stats.OldestItemAgeMs < 5000 {
		t.Fatalf("GetGlobalStats() oldestItemAgeMs = %d, want >= 5000", stats.OldestItemAgeMs)
	}
}

func TestCheckGlobalQuota(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()

	exceeded, err := svc.CheckGlobalQuota(ctx)
	if err != nil {
		t.Fatalf("CheckGlobalQuota() unexpected error: %v", err)
	}
	if exceeded {
		t.Fatalf("empty cache must not exceed the global quota")
	}

	svc.maxGlobalSize = 150
	seedQuota(t, svc, "alpha", 100, 1, nowMillis())
	seedQuota(t, svc, "beta", 100, 1, nowMillis())

	exceeded, err = svc.CheckGlobalQuota(ctx)
	if err != nil {
		t.Fatalf("CheckGlobalQuota() unexpected error: %v", err)
	}
	if !exceeded {
		t.Fatalf("200 bytes against a 150-byte cap must report exceeded")
	}
}

func TestGetSetConfig(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()

	config, err := svc.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig() unexpected error: %v", err)
	}
	if config != domainArtifact.DefaultCacheConfig() {
		t.Fatalf("GetConfig() before any write = %+v, want defaults", config)
	}

	days := 7
	config, err = svc.SetConfig(ctx, domainArtifact.CacheConfigUpdate{OutdatedCleanupDays: &days})
	if err != nil {
		t.Fatalf("SetConfig() unexpected error: %v", err)
	}
	if config.OutdatedCleanupDays != 7 {
		t.Fatalf("SetConfig() days = %d, want 7", config.OutdatedCleanupDays)
	}
	if config.SessionEvictionFraction != domainArtifact.DefaultEvictionFraction {
		t.Fatalf("merge write must keep the untouched fraction, got %v", config.SessionEvictionFraction)
	}

	// The other field merges independently.
	fraction := 0.25
	config, err = svc.SetConfig(ctx, domainArtifact.CacheConfigUpdate{SessionEvictionFraction: &fraction})
	if err != nil {
		t.Fatalf("SetConfig() unexpected error: %v", err)
	}
	if config.OutdatedCleanupDays != 7 || config.SessionEvictionFraction != 0.25 {
		t.Fatalf("SetConfig() merge result = %+v", config)
	}

	persisted, err := svc.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig() unexpected error: %v", err)
	}
	if persisted != config {
		t.Fatalf("GetConfig() = %+v, want persisted %+v", persisted, config)
	}
}

func TestSetConfig_Validation(t *testing.T) {
	svc := newTestCacheService(t)
	ctx := context.Background()

	badDays := 0
	if _, err := svc.SetConfig(ctx, domainArtifact.CacheConfigUpdate{OutdatedCleanupDays: &badDays}); err == nil {
		t.Fatalf("SetConfig() must reject zero cleanup days")
	}
	badFraction := 1.5
	if _, err := svc.SetConfig(ctx, domainArtifact.CacheConfigUpdate{SessionEvictionFraction: &badFraction}); err == nil {
		t.Fatalf("SetConfig() must reject a fraction above 1")
	}
	negFraction := -0.1
	if _, err := svc.SetConfig(ctx, domainArtifact.CacheConfigUpdate{SessionEvictionFraction: &negFraction}); err == nil {
		t.Fatalf("SetConfig() must reject a non-positive fraction")
	}
}
