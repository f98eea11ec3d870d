package cmd

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	globalConfig "github.com/orbitalweb/ow-agent/config"
	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
	infraStorage "github.com/orbitalweb/ow-agent/infrastructure/storage"
	"github.com/orbitalweb/ow-agent/pkg/utils"
	"github.com/orbitalweb/ow-agent/usecase"
)

var cacheUsecase domainArtifact.IArtifactCacheUsecase

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ow-agent",
	Short: "In-browser agent runtime backend",
	Long:  `Backend service of the OrbitalWeb in-browser agent runtime: a session-scoped artifact cache that lets an agent park large intermediate results outside its prompt context, exposed over REST and MCP.`,
}

func init() {
	// Load environment variables first
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	cobra.OnInitialize(initEnvConfig, initApp)
}

// initEnvConfig loads configuration from environment variables
func initEnvConfig() {
	if envPort := viper.GetString("app_port"); envPort != "" {
		globalConfig.AppPort = envPort
	}
	if viper.GetBool("app_debug") {
		globalConfig.AppDebug = true
		logrus.SetLevel(logrus.DebugLevel)
	}
	if envPath := viper.GetString("path_storages"); envPath != "" {
		globalConfig.PathStorages = envPath
	}
	if envDB := viper.GetString("db_path"); envDB != "" {
		globalConfig.DBPath = envDB
	}
	if envInterval := viper.GetString("cache_cleanup_interval_mins"); envInterval != "" {
		if parsed, err := strconv.Atoi(envInterval); err == nil && parsed > 0 {
			globalConfig.CacheCleanupIntervalMins = parsed
		}
	}
}

// initApp wires the persistent store and the cache usecase. The usecase is
// constructed once per store handle and passed to the transport adapters;
// nothing here is reachable as a process-wide accessor outside cmd.
func initApp() {
	ctx := context.Background()

	if globalConfig.DBPath == "" {
		globalConfig.DBPath = filepath.Join(globalConfig.PathStorages, "artifacts.db")
	}

	store, err := infraStorage.GetOrInitStore(ctx, globalConfig.DBPath, domainArtifact.Partitions())
	if err != nil {
		logrus.Fatalf("Failed to initialize persistent store: %v", err)
	}

	cacheUsecase = usecase.NewArtifactCacheService(store)
}

// StopApp releases shared resources on shutdown.
func StopApp() {
	if err := infraStorage.CleanupStore(globalConfig.DBPath, false); err != nil {
		logrus.Errorf("Failed to close persistent store: %v", err)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalln(err)
	}
}
