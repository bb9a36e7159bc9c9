// Package app assembles the workspace runtime shared by the CLI commands:
// config, logger, database and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"podnotes/internal/config"
	"podnotes/internal/db"
	"podnotes/internal/domain"
	"podnotes/internal/engine"
	"podnotes/internal/feed"
	"podnotes/internal/logging"
	"podnotes/internal/migrate"
	"podnotes/internal/purge"
)

type Options struct {
	Workspace string
	// LogLevel and LogFormat override the config file when set.
	LogLevel  string
	LogFormat string
	LogOutput io.Writer
}

type Env struct {
	Workspace string
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Engine    engine.Engine
}

// Open loads the workspace config, opens and migrates the database and
// builds the engine. Callers must Close the returned Env.
func Open(ctx context.Context, opts Options) (*Env, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	logOpts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: opts.LogOutput}
	if opts.LogLevel != "" {
		logOpts.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		logOpts.Format = opts.LogFormat
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(opts.Workspace), err)
	}
	e := engine.New(conn, cfg)
	e.Logger = logger
	return &Env{
		Workspace: opts.Workspace,
		Config:    cfg,
		Logger:    logger,
		DB:        conn,
		Engine:    e,
	}, nil
}

func (env *Env) Close() error {
	if env == nil || env.DB == nil {
		return nil
	}
	return env.DB.Close()
}

// User resolves the acting user for commands that need one.
func (env *Env) User(ctx context.Context, username string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, fmt.Errorf("--user is required")
	}
	return env.Engine.UserByUsername(ctx, username)
}

// Purger returns a claim purger using the configured max age, logging every
// drop and posting it to the configured webhooks.
func (env *Env) Purger() purge.Purger {
	notifiers := []purge.Notifier{purge.LogNotifier{Logger: env.Logger}}
	if len(env.Config.Notifications.Webhooks) > 0 {
		notifiers = append(notifiers, purge.WebhookNotifier{
			Hooks:  env.Config.Notifications.Webhooks,
			Client: &http.Client{},
		})
	}
	return purge.Purger{
		Ledger:    env.Engine,
		MaxAge:    env.Config.MaxAge(),
		Notifiers: notifiers,
		Logger:    env.Logger,
		Now:       env.Engine.Now,
	}
}

func (env *Env) FeedReader() feed.Reader {
	return feed.Reader{Timeout: env.Config.Feed.Timeout.Duration, Logger: env.Logger}
}
