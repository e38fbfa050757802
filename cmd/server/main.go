package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"spa-cms/internal/admin"
	"spa-cms/internal/api"
	"spa-cms/internal/auth"
	"spa-cms/internal/config"
	"spa-cms/internal/editor"
	"spa-cms/internal/hooks"
	"spa-cms/internal/imaging"
	"spa-cms/internal/logger"
	"spa-cms/internal/records"
	"spa-cms/internal/session"
	"spa-cms/internal/storage"
	"spa-cms/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("config loaded", "port", cfg.Server.Port, "db", cfg.Database.Driver, "storage", cfg.Storage.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	// 3. Bootstrap tables and the first admin
	if err := db.Bootstrap(ctx, cfg.Admin, log); err != nil {
		log.Fatal("failed to bootstrap database", "error", err)
	}

	// 4. Editor definitions
	reg, err := editor.LoadRegistry()
	if err != nil {
		log.Fatal("failed to load editor definitions", "error", err)
	}
	log.Info("editors loaded", "kinds", len(reg.List()))

	// 5. Persistence and file storage
	gateway := records.NewGateway(db, reg.SlugFields(), log)

	fs, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal("failed to init file storage", "error", err)
	}
	if c, ok := fs.(io.Closer); ok {
		defer c.Close()
	}
	uploader := storage.NewUploader(fs, cfg.Storage.Categories, cfg.Storage.MaxFileSize, cfg.Storage.PublicBaseURL, log)
	pipeline := imaging.NewPipeline(uploader).WithLimits(imaging.Limits{
		MaxSourceBytes: cfg.Storage.MaxFileSize,
		MaxPixels:      cfg.Storage.MaxPixels,
	})

	// 6. Editing sessions
	sessions := session.NewManager(reg, gateway, pipeline, cfg.Sessions.IdleTTL, log)
	dispatcher, err := hooks.NewDispatcher(cfg.Hooks, log)
	if err != nil {
		log.Fatal("invalid hook configuration", "error", err)
	}
	sessions.Notify(dispatcher)
	sessions.Start(cfg.Sessions.SweepInterval)
	defer sessions.Stop()

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler(log),
		BodyLimit:    cfg.Server.BodyLimit,
		Immutable:    true,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": sessions.Len()})
	})

	// 8. Auth routes (before the protected /api group)
	authService := auth.NewService(db, cfg.JWTSecret, log)
	authMW := auth.AuthMiddleware(cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, auth.NewAuthHandler(authService), authMW)

	// 9. User management (admin only)
	admin.RegisterAdminRoutes(app, admin.NewHandler(authService), authMW, auth.RequireAdmin())

	// 10. Editor API (editors and admins)
	handler := api.NewHandler(reg, sessions, gateway, uploader, log)
	api.RegisterRoutes(app, handler, authMW, auth.RequireEditor())

	// 11. Purge expired refresh tokens hourly
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()
	go func() {
		for range purge.C {
			if n, err := authService.PurgeExpiredTokens(context.Background()); err != nil {
				log.Error("purge refresh tokens", "error", err)
			} else if n > 0 {
				log.Info("expired refresh tokens purged", "count", n)
			}
		}
	}()

	// 12. Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info("starting server", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatal("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("shutdown", "error", err)
	}
	dispatcher.Stop()
}
