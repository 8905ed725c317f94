package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"defect-tracker/internal/config"
	"defect-tracker/internal/database"
	"defect-tracker/internal/handlers"
	"defect-tracker/internal/logging"
	"defect-tracker/internal/metrics"
	"defect-tracker/internal/models"
	"defect-tracker/internal/server"
	"defect-tracker/internal/storage"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	root := &cli.Command{
		Name:  "defect-tracker",
		Usage: "Construction defect tracking server",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			createAdminCommand(),
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			return runServer(ctx)
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return runServer(ctx)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations and exit",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg := config.Load()
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := database.Connect(cfg.DBDriver, cfg.DBDSN, logger.Component("database"))
			if err != nil {
				return err
			}
			return database.Migrate(ctx, db, logger.Component("migrations"))
		},
	}
}

func createAdminCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-admin",
		Usage: "Create an administrator account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Required: true},
			&cli.StringFlag{Name: "password", Required: true},
			&cli.StringFlag{Name: "full-name", Value: "Administrator"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := config.Load()
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := database.Init(ctx, cfg, logger.Component("database")); err != nil {
				return err
			}
			var u *models.User
			err = database.Transact(ctx, func(tx *gorm.DB) (*database.AuditEntry, error) {
				var err error
				u, err = database.InsertUser(tx, database.NewUser{
					Username: c.String("username"),
					Password: c.String("password"),
					Role:     models.RoleAdmin,
					FullName: c.String("full-name"),
				})
				if err != nil {
					return nil, err
				}
				return &database.AuditEntry{UserID: u.ID, Entity: "user", EntityID: u.ID, Action: "create", Details: u.Username + " (admin, command line)"}, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("created admin %s (id %d)\n", u.Username, u.ID)
			return nil
		},
	}
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Dir:     cfg.LogDir,
		Level:   cfg.LogLevel,
		Console: cfg.RunMode != gin.ReleaseMode,
	})
}

func runServer(ctx context.Context) error {
	cfg := config.Load()
	gin.SetMode(cfg.RunMode)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.RunMode,
			AttachStacktrace: true,
		}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := database.Init(ctx, cfg, logger.Component("database")); err != nil {
		return err
	}

	files, err := storage.New(ctx, cfg)
	if err != nil {
		return err
	}

	r := server.NewRouter(cfg, handlers.Deps{
		Storage:        files,
		Logger:         logger,
		Metrics:        metrics.New(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
