package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/auth"
	"github.com/gopikiran22001/ReWear/internal/catalog"
	"github.com/gopikiran22001/ReWear/internal/chat"
	"github.com/gopikiran22001/ReWear/internal/config"
	"github.com/gopikiran22001/ReWear/internal/exchange"
	"github.com/gopikiran22001/ReWear/internal/handlers"
	"github.com/gopikiran22001/ReWear/internal/logging"
	"github.com/gopikiran22001/ReWear/internal/notify"
	"github.com/gopikiran22001/ReWear/internal/store"
	"github.com/gopikiran22001/ReWear/internal/users"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	ConfigPath string
	Dev        bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and chat relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd := &cobra.Command{
		Use:           "reware",
		Short:         "ReWear - peer-to-peer clothing exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (default ./config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.Dev, "dev", false, "allow the placeholder auth.jwt_secret for local development")

	cmd.AddCommand(serve)
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts)
		},
	})
	return cmd
}

func runMigrate(opts *rootOptions) error {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log)

	db, err := store.InitDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer store.Close(db)
	logger.Info("schema applied", "database", cfg.Database.Path)
	return nil
}

func runServe(opts *rootOptions) error {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log)

	if cfg.Auth.InsecureSecret() {
		if !opts.Dev {
			return errors.New("auth.jwt_secret is empty or the placeholder; set REWARE_AUTH_JWT_SECRET or pass --dev")
		}
		logger.Warn("signing session tokens with the placeholder secret (--dev)")
	}

	db, err := store.InitDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer func() {
		if err := store.Close(db); err != nil {
			logger.Warn("closing database failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go store.RunCodeSweeper(ctx, db, cfg.OTP.SweepInterval, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      newRouter(cfg, db, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newRouter(cfg config.Config, db *gorm.DB, logger *slog.Logger) *gin.Engine {
	var scorer catalog.Scorer
	if cfg.Footprint.URL != "" {
		scorer = catalog.NewHTTPScorer(cfg.Footprint.URL, cfg.Footprint.Timeout)
	}

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	userService := users.NewService(db, logger, cfg.Exchange.SignupPoints)
	catalogService := catalog.NewService(db, scorer, logger)

	relay := chat.NewRelay(
		chat.NewStore(db, catalogService),
		userService,
		chat.NewMemoryDirectory(),
		logger.With("component", "chat"),
		chat.Options{
			StoreTimeout:   cfg.Chat.StoreTimeout,
			WriteTimeout:   cfg.Chat.WriteTimeout,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Issuer:         issuer,
		},
	)

	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(logger), handlers.CORS(cfg.Server.AllowedOrigins))
	handlers.RegisterRoutes(r, &handlers.Handler{
		DB:            db,
		Users:         userService,
		Catalog:       catalogService,
		Exchange:      exchange.NewEngine(db, logger, cfg.OTP.TTL),
		Notifications: notify.NewService(db),
		Issuer:        issuer,
		Relay:         relay,
		CookieSecure:  cfg.Auth.CookieSecure,
		Log:           logger,
	})
	return r
}
