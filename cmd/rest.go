package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	globalConfig "github.com/orbitalweb/ow-agent/config"
	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
	"github.com/orbitalweb/ow-agent/ui/rest"
	"github.com/orbitalweb/ow-agent/ui/rest/middleware"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Serve the artifact cache over HTTP",
	Long:  `Start the REST API for the artifact cache: CRUD on artifacts, per-session and global stats, config, and manual cleanup triggers.`,
	Run:   restServer,
}

func init() {
	restCmd.Flags().StringVar(&globalConfig.AppPort, "port", globalConfig.AppPort, "Port for the REST server")
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	app := fiber.New(fiber.Config{
		// Payload cap with headroom over the per-item limit.
		BodyLimit:             int(domainArtifact.MaxItemSize) + 1024*1024,
		Network:               "tcp",
		AppName:               "OrbitalWeb Agent Cache",
		DisableStartupMessage: false,
	})

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	if globalConfig.AppDebug {
		app.Use(logger.New())
	}

	rest.InitRestCache(app, cacheUsecase)

	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	cacheUsecase.StartBackgroundCleanup(cleanupCtx, time.Duration(globalConfig.CacheCleanupIntervalMins)*time.Minute)

	// Graceful shutdown handler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] termination signal received, shutting down gracefully...")
		cancelCleanup()
		_ = app.Shutdown()
		StopApp()
		os.Exit(0)
	}()

	if err := app.Listen(":" + globalConfig.AppPort); err != nil {
		logrus.Fatalln("Failed to start REST server:", err)
	}
}
