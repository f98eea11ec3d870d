package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cleanupOrphanHours  int
	cleanupOutdatedDays int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one orphan + outdated cleanup pass and exit",
	Long:  `Run a single cleanup pass suitable for cron: clears sessions not accessed within the orphan window, then removes items older than the outdated threshold (persisted config unless overridden).`,
	Run:   runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupOrphanHours, "orphan-hours", 0, "Orphan session window in hours (0 = default 24h)")
	cleanupCmd.Flags().IntVar(&cleanupOutdatedDays, "outdated-days", 0, "Outdated item threshold in days (0 = persisted config)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(_ *cobra.Command, _ []string) {
	defer StopApp()
	ctx := context.Background()

	orphans, err := cacheUsecase.CleanupOrphans(ctx, time.Duration(cleanupOrphanHours)*time.Hour)
	if err != nil {
		logrus.Fatalf("Orphan cleanup failed: %v", err)
	}
	logrus.Infof("Orphan cleanup removed %d items", orphans)

	outdated, err := cacheUsecase.CleanupOutdated(ctx, cleanupOutdatedDays)
	if err != nil {
		logrus.Fatalf("Outdated cleanup failed: %v", err)
	}
	logrus.Infof("Outdated cleanup removed %d items", outdated)
}
