package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-auth-accounts/activitymap"
	"github.com/goliatone/go-auth-accounts/httpauth"
	"github.com/goliatone/go-auth-accounts/metrics"
	"github.com/goliatone/go-auth-accounts/notify"
	"github.com/goliatone/go-auth-accounts/providers"
	"github.com/goliatone/go-auth-accounts/redirect"
	"github.com/goliatone/go-auth-accounts/redisstore"
	"github.com/goliatone/go-auth-accounts/repository"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	logger := auth.DefaultLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("authd stopped: %v", err)
		os.Exit(1)
	}
}

func openDB(cfg serverConfig) (*bun.DB, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		sqldb, err := sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}
}

func run(ctx context.Context, cfg serverConfig, logger auth.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.CreateSchema(ctx, db); err != nil {
		return err
	}

	var opts []repository.Option
	bunTokens := repository.NewStateTokenRepository(db)
	if cfg.RedisURL != "" {
		store, err := redisstore.NewFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		opts = append(opts, repository.WithStateTokenStore(store))
		bunTokens = nil
		logger.Info("state tokens stored in redis")
	}
	repo := repository.NewRepositoryManager(db, opts...)

	sink, err := metrics.NewSink(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	activity := auth.MultiActivitySink(sink, activitymap.LogSink(logger))

	renderer, err := notify.NewRenderer(cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	sender := notify.NewSender(renderer, notify.LogTransport(logger))

	reconciler := auth.NewReconciler(repo, cfg.Auth).
		WithNotificationSender(sender).
		WithLogger(logger).
		WithActivitySink(activity)

	lifecycle := auth.NewPasswordLifecycle(repo, cfg.Auth).
		WithNotificationSender(sender).
		WithLogger(logger).
		WithActivitySink(activity)

	sessions, err := httpauth.NewSessions(httpauth.SessionConfig{
		SigningKey: []byte(cfg.SessionKey),
		Issuer:     "authd",
		Secure:     cfg.SecureCookies,
	}, repo.Credentials())
	if err != nil {
		return err
	}
	sessions.WithLogger(logger)

	controllerOpts := []httpauth.ControllerOption{
		httpauth.WithControllerLogger(logger),
		httpauth.WithSecureCookies(cfg.SecureCookies),
	}

	verifiers, err := buildVerifiers(cfg.Auth, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, v := range verifiers {
			v.Close()
		}
	}()

	if len(verifiers) > 0 {
		carrier, err := redirect.NewCarrier([]byte(cfg.StateEncKey), []byte(cfg.StateHMACKey), cfg.Auth.RedirectStateTTL)
		if err != nil {
			return err
		}
		controllerOpts = append(controllerOpts, httpauth.WithCarrier(carrier))
		for _, v := range verifiers {
			controllerOpts = append(controllerOpts, httpauth.WithVerifier(v, cfg.Auth.Audience(v.Provider())))
		}
	}

	var app *fiber.App
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app = fiber.New(fiber.Config{DisableStartupMessage: true})
		return app
	})
	app.Get(cfg.MetricsPath, adaptor.HTTPHandler(promhttp.Handler()))
	httpauth.NewController(reconciler, lifecycle, sessions, controllerOpts...).Register(srv.Router())

	if bunTokens != nil {
		go purgeExpired(ctx, bunTokens, cfg.PurgeInterval, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authd listening on %s", cfg.Addr)
		errCh <- app.Listen(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

func buildVerifiers(cfg auth.Config, logger auth.Logger) ([]*providers.IDTokenVerifier, error) {
	var out []*providers.IDTokenVerifier
	if cfg.AppleClientID != "" {
		v, err := providers.NewAppleVerifier(cfg, providers.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if cfg.GoogleClientID != "" {
		v, err := providers.NewGoogleVerifier(cfg, providers.WithLogger(logger))
		if err != nil {
			for _, prev := range out {
				prev.Close()
			}
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// purgeExpired removes expired state tokens from the database. Redis
// tokens expire on their own.
func purgeExpired(ctx context.Context, tokens *repository.StateTokenRepository, every time.Duration, logger auth.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := tokens.PurgeExpired(ctx, now)
			if err != nil {
				logger.Warn("failed to purge expired state tokens: %v", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged %d expired state token(s)", n)
			}
		}
	}
}
