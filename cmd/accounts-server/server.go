package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/goliatone/go-accounts/config"
	"github.com/goliatone/go-accounts/httpapi"
	"github.com/goliatone/go-accounts/identity"
	"github.com/goliatone/go-accounts/migrations"
	"github.com/goliatone/go-accounts/notify"
	"github.com/goliatone/go-accounts/redisstore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"
)

func run(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) error {
	logger := accounts.NewZapLogger(sugar)

	db, dialect, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(ctx, db.DB, dialect); err != nil {
			return err
		}
		logger.Info("database schema up to date (%s)", dialect)
	}

	repo := accounts.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}

	denylist, closeDenylist, err := openDenylist(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeDenylist()

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	manager := accounts.NewManagerFromConfig(cfg, repo, denylist,
		accounts.WithLogger(logger.With("component", "accounts")),
		accounts.WithNotifier(notifier),
		accounts.WithActivitySink(activityLogger(sugar.Named("activity"))),
	)

	opts := []httpapi.HandlerOption{
		httpapi.WithFrontendURL(cfg.Frontend.URL),
		httpapi.WithLogger(logger.With("component", "http")),
	}
	if cfg.Google.Enabled() {
		google := identity.NewGoogle(identity.GoogleConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			CallbackURL:  cfg.Google.CallbackURL,
			Logger:       logger.With("component", "identity"),
		})
		defer google.Close()

		states := identity.NewStateCodec([]byte(cfg.Google.StateSecret), cfg.Google.StateTTL)
		flow := identity.NewFlow(states, manager, identity.WithProvider(google))
		opts = append(opts, httpapi.WithIdentityFlow(flow))
		logger.Info("external sign in enabled for %v", flow.Providers())
	}

	app := fiber.New(fiber.Config{
		AppName:      "accounts",
		ErrorHandler: httpapi.ErrorHandler(logger.With("component", "http")),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.UserContext()); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "database unavailable")
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	httpapi.NewHandler(manager, opts...).Register(app)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", cfg.Server.Address)
		errCh <- app.Listen(cfg.Server.Address)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*bun.DB, string, error) {
	switch cfg.Driver {
	case "postgres":
		pgcfg, err := pgx.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		sqldb := stdlib.OpenDB(*pgcfg)
		return bun.NewDB(sqldb, pgdialect.New()), migrations.DialectPostgres, nil
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		// one writer keeps sqlite from returning SQLITE_BUSY under load
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), migrations.DialectSQLite, nil
	default:
		return nil, "", errors.New("unsupported database driver " + cfg.Driver)
	}
}

// openDenylist returns the redis denylist when configured, nil otherwise,
// letting the session issuer fall back to process memory.
func openDenylist(ctx context.Context, cfg config.RedisConfig, logger accounts.Logger) (accounts.Denylist, func(), error) {
	if cfg.Addr == "" {
		logger.Warn("redis not configured, revoked sessions are kept in memory")
		return nil, func() {}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	denylist := redisstore.NewDenylist(client, cfg.Prefix)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := denylist.Ping(pingCtx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return denylist, func() { client.Close() }, nil
}

func newNotifier(cfg *config.Config, logger *accounts.ZapLogger) (*notify.TemplateNotifier, error) {
	var mailer notify.Mailer = notify.LogMailer{Logger: logger.With("component", "mail")}
	if cfg.Mail.Driver == "smtp" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
	}

	return notify.NewTemplateNotifier(mailer,
		notify.WithProductName(cfg.Mail.ProductName),
		notify.WithLifetimes(cfg.Auth.VerificationTTL, cfg.Auth.ResetTTL),
	)
}

func activityLogger(l *zap.SugaredLogger) accounts.ActivitySink {
	return activitymap.Sink(func(r activitymap.Record) {
		l.Infow(r.Verb, r.Fields()...)
	})
}
