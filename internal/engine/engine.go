package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"podnotes/internal/config"
	"podnotes/internal/domain"
	"podnotes/internal/engine/auth"
	"podnotes/internal/events"
	"podnotes/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) policy() auth.Policy {
	strict := true
	if e.Config != nil {
		strict = e.Config.StrictClaims()
	}
	return auth.Policy{SingleClaimPerUser: strict}
}

// begin starts a write transaction whose events share the engine clock.
func (e Engine) begin(ctx context.Context) (*sql.Tx, events.Writer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, events.Writer{}, err
	}
	w := e.Events
	w.Now = e.now
	return tx, w, nil
}

// notFound maps repo.ErrNotFound to the given domain error.
func notFound(err error, as error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return as
	}
	return err
}

func (e Engine) GetEpisode(ctx context.Context, guid string) (domain.Episode, error) {
	ep, err := e.Repo.GetEpisode(ctx, guid)
	return ep, notFound(err, domain.ErrEpisodeNotFound)
}

// LoadGraph returns the episode with hosts, topics and topic authors.
func (e Engine) LoadGraph(ctx context.Context, guid string) (domain.EpisodeGraph, error) {
	ep, err := e.GetEpisode(ctx, guid)
	if err != nil {
		return domain.EpisodeGraph{}, err
	}
	hosts, err := e.Repo.ListEpisodeHosts(ctx, guid)
	if err != nil {
		return domain.EpisodeGraph{}, err
	}
	topics, err := e.Repo.ListTopics(ctx, guid)
	if err != nil {
		return domain.EpisodeGraph{}, err
	}
	authors, err := e.Repo.TopicAuthors(ctx, guid)
	if err != nil {
		return domain.EpisodeGraph{}, err
	}
	return domain.EpisodeGraph{Episode: ep, Hosts: hosts, Topics: topics, Authors: authors}, nil
}
