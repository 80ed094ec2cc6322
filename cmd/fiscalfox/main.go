package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/FiscalFox/app/controllers"
	"github.com/ManuelReschke/FiscalFox/app/repository"
	apiv1 "github.com/ManuelReschke/FiscalFox/internal/api/v1"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/cache"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/database"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/env"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/fiscal"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/objectstore"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/router"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/statistics"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/vault"
)

func main() {
	app := NewApplication()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("[Server] Shutting down...")
		if m := jobqueue.GetManager(); m != nil {
			m.Stop()
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("[Server] Shutdown error: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}

	if err := cache.Close(); err != nil {
		log.Warnf("[Server] Failed to close cache client: %v", err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	if env.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	// Fail fast on missing secrets, there are no built-in fallbacks.
	keyRing, err := vault.LoadKeyRing()
	if err != nil {
		log.Fatalf("[Server] Vault configuration: %v", err)
	}
	fiscalCfg, err := fiscal.LoadConfig()
	if err != nil {
		log.Fatalf("[Server] Fiscal configuration: %v", err)
	}
	storeCfg, err := objectstore.LoadConfig()
	if err != nil {
		log.Fatalf("[Server] Object storage configuration: %v", err)
	}

	if err := database.SetupDatabase(); err != nil {
		log.Fatalf("[Server] Database: %v", err)
	}
	repos, err := repository.InitializeRepositories(database.GetDB())
	if err != nil {
		log.Fatalf("[Server] Repositories: %v", err)
	}

	cache.SetupCache()
	redisClient := cache.GetClient()

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	blobs, err := objectstore.NewClient(startupCtx, storeCfg)
	if err != nil {
		log.Fatalf("[Server] Object storage: %v", err)
	}

	if _, err := apiv1.LoadSpec(startupCtx, apiv1.DefaultSpecPath); err != nil {
		log.Warnf("[Server] API document: %v", err)
	}

	documents := fiscal.NewService(fiscalCfg, repos, fiscal.NewHTTPProvider(fiscalCfg))
	documents.SetLocker(cache.NewRedisLocker(redisClient, fiscalCfg.LockTTL))

	if fiscalCfg.AutoPoll {
		manager := jobqueue.NewManager(redisClient, documents, jobqueue.LoadManagerConfig())
		documents.SetPoller(manager.Poller())
		jobqueue.InitializeManager(manager)
		manager.Start()
	}

	certificates := vault.NewService(blobs, repos.Certificate, keyRing)
	controllers.InitializeFiscalController(
		documents,
		fiscal.NewRegistry(repos.Integration),
		certificates,
		statistics.NewService(repos.Document, redisClient),
	)

	app := fiber.New(fiber.Config{
		BodyLimit: int(vault.MaxCertificateSize) + 1<<20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if user, pass := env.GetEnv("MONITOR_USER", ""), env.GetEnv("MONITOR_PASSWORD", ""); user != "" && pass != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{user: pass},
		}), monitor.New())
	}

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: apiv1.DefaultSpecPath,
		Path:     "v1",
	}))

	var limiterStorage fiber.Storage
	if err := cache.Ping(startupCtx); err == nil {
		limiterStorage = router.NewLimiterStorage(redisClient)
	}

	router.InstallRouter(app, router.Options{
		Fiscal:         controllers.GetFiscalController(),
		InternalAPIKey: env.GetEnv("FISCAL_INTERNAL_API_KEY", ""),
		RateLimitMax:   env.GetEnvInt("FISCAL_RATE_LIMIT_MAX", 120),
		LimiterStorage: limiterStorage,
		Ready: func(ctx context.Context) error {
			sqlDB, err := database.GetDB().DB()
			if err != nil {
				return err
			}
			return errors.Join(sqlDB.PingContext(ctx), cache.Ping(ctx))
		},
	})

	return app
}
