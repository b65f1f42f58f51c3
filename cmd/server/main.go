package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sujalbistaa/skyarchive/internal/archive"
	"github.com/sujalbistaa/skyarchive/internal/blob"
	"github.com/sujalbistaa/skyarchive/internal/cache"
	"github.com/sujalbistaa/skyarchive/internal/config"
	"github.com/sujalbistaa/skyarchive/internal/db"
	"github.com/sujalbistaa/skyarchive/internal/geo"
	routes "github.com/sujalbistaa/skyarchive/internal/http"
	"github.com/sujalbistaa/skyarchive/internal/logging"
	"github.com/sujalbistaa/skyarchive/internal/metrics"
	"github.com/sujalbistaa/skyarchive/internal/ws"
)

const (
	shutdownTimeout     = 5 * time.Second
	limiterPruneEvery   = 10 * time.Minute
	geocoderHTTPTimeout = 5 * time.Second
)

func main() {
	// Must run before viper reads the environment.
	config.LoadDotEnv()

	v := config.New()
	if err := rootCommand(v).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "skyarchive",
		Short:         "Crowd-sourced sky photo archive",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), config.Load(v))
		},
	}

	flags := root.PersistentFlags()
	flags.String("port", v.GetString(config.KeyPort), "HTTP listen port")
	flags.String("database-url", v.GetString(config.KeyDatabaseURL), "postgres://, sqlite:// or mongodb:// connection URL")
	flags.String("log-level", v.GetString(config.KeyLogLevel), "zerolog level (debug, info, warn, error)")
	flags.Bool("moderation", v.GetBool(config.KeyModerationEnabled), "start new uploads as pending")
	for key, name := range map[string]string{
		config.KeyPort:              "port",
		config.KeyDatabaseURL:       "database-url",
		config.KeyLogLevel:          "log-level",
		config.KeyModerationEnabled: "moderation",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), config.Load(v))
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create tables, collections and indexes, then exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate(cmd.Context(), config.Load(v))
			},
		},
	)
	return root
}

func migrate(ctx context.Context, cfg *config.Config) error {
	log := logging.Init(cfg.LogLevel, "skyarchive")

	st, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer st.Close()

	log.Info().Msg("running database migrations...")
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Msg("migrations complete")
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.Init(cfg.LogLevel, "skyarchive")

	// 1. Database
	st, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer st.Close()

	log.Info().Msg("running database migrations...")
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// 2. Collaborators
	blobs, err := blob.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("failed to prepare upload dir: %w", err)
	}

	photoCache := cache.New(cfg.RedisURL, log)
	defer photoCache.Close()

	m, err := metrics.New(nil)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	hub := ws.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	opts := archive.Options{
		ModerationEnabled: cfg.ModerationEnabled,
		Blob:              blobs,
		Cache:             photoCache,
		Notifier:          hub,
		Metrics:           m,
		Logger:            log,
	}
	if cfg.GeocoderEnabled {
		opts.Geocoder = geo.NewNominatim(cfg.GeocoderURL, geocoderHTTPTimeout)
	}
	svc := archive.New(st, opts)
	log.Info().Bool("moderation", cfg.ModerationEnabled).Bool("geocoder", cfg.GeocoderEnabled).
		Bool("redis", photoCache.Enabled()).Msg("archive service ready")

	// 3. Router
	limiter := routes.NewUploadLimiter(cfg.UploadInterval)
	go limiter.Cleanup(ctx, limiterPruneEvery)

	if !strings.EqualFold(cfg.LogLevel, zerolog.DebugLevel.String()) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	routes.SetupRoutes(router, &routes.Env{Archive: svc, Hub: hub, Log: log}, routes.Options{
		AdminToken:    cfg.AdminToken,
		CORSOrigin:    cfg.CORSOrigin,
		UploadDir:     cfg.UploadDir,
		PublicPath:    cfg.PublicBaseURL,
		Metrics:       m,
		UploadLimiter: limiter,
	})

	// 4. Start server with graceful shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server exiting")
	return nil
}
