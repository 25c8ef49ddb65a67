// Package app boots the backend: configuration, database, object
// storage, the generation engine, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/pixfusion/pixfusion/internal/auth"
	"github.com/pixfusion/pixfusion/internal/config"
	"github.com/pixfusion/pixfusion/internal/db"
	"github.com/pixfusion/pixfusion/internal/generation"
	"github.com/pixfusion/pixfusion/internal/http/api"
	"github.com/pixfusion/pixfusion/internal/invoker"
	"github.com/pixfusion/pixfusion/internal/ratelimit"
	"github.com/pixfusion/pixfusion/internal/storage"
)

// shutdownTimeout bounds graceful shutdown once the context is canceled.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(_ context.Context, cfg config.Config) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the backend and serves until ctx is canceled.
func RunServer(ctx context.Context, cfg config.Config) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	sessions, errSessions := auth.NewSessions(cfg.Session.Secret, cfg.Session.Expiry.Std())
	if errSessions != nil {
		return errSessions
	}
	google := auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)

	store, errStore := openStore(ctx, cfg.Storage)
	if errStore != nil {
		return errStore
	}

	inv, errInvoker := invoker.NewGeminiInvoker(ctx, cfg.Generation.Model)
	if errInvoker != nil {
		return errInvoker
	}

	engine := generation.NewEngine(conn, inv, store, cfg.Generation.Cost, cfg.Generation.InvokeTimeout.Std())

	limiter := ratelimit.NewManager(ratelimit.Options{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.Redis.Prefix,
	}, nil)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Options{
		DB:              conn,
		Engine:          engine,
		Sessions:        sessions,
		Google:          google,
		Presigner:       store,
		Limiter:         limiter,
		SubmitPerMinute: cfg.Generation.SubmitPerMinute,
		FrontendHost:    cfg.FrontendHost,
		SecureCookies:   strings.HasPrefix(cfg.Google.RedirectURL, "https://"),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("server shutdown incomplete")
	}

	// Let in-flight generations reach a terminal state before exiting.
	engine.Wait()
	return nil
}

// openStore selects the object storage backend. An S3 endpoint is the
// normal case; without one the process falls back to the in-memory
// store, which only suits local development.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Endpoint == "" {
		log.Warn("no storage endpoint configured, using in-memory object store")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
	})
}
