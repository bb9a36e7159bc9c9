package engine

import (
	"context"
	"database/sql"
	"fmt"

	"podnotes/internal/dataset"
	"podnotes/internal/domain"
	"podnotes/internal/events"
	"podnotes/internal/repo"
)

// datasetTx is a dataset.TxStore over one sqlite transaction.
type datasetTx struct {
	repo   repo.Repo
	tx     *sql.Tx
	events events.Writer
	actor  string
}

func (s *datasetTx) FindEpisodeByGUID(ctx context.Context, guid string) (domain.Episode, error) {
	ep, err := s.repo.GetEpisodeTx(ctx, s.tx, guid)
	return ep, notFound(err, domain.ErrEpisodeNotFound)
}

func (s *datasetTx) CountTopics(ctx context.Context, guid string) (int, error) {
	return s.repo.CountTopicsTx(ctx, s.tx, guid)
}

func (s *datasetTx) FindUserByUsername(ctx context.Context, username string) (domain.User, error) {
	u, err := s.repo.GetUserByUsernameTx(ctx, s.tx, username)
	return u, notFound(err, domain.ErrUserNotFound)
}

func (s *datasetTx) GetOrCreateHost(ctx context.Context, name string) (domain.Host, error) {
	return s.repo.GetOrCreateHostTx(ctx, s.tx, name)
}

func (s *datasetTx) ReplaceEpisodeHosts(ctx context.Context, guid string, hostIDs []string) error {
	return s.repo.ReplaceEpisodeHostsTx(ctx, s.tx, guid, hostIDs)
}

func (s *datasetTx) SaveTopics(ctx context.Context, topics []domain.Topic) error {
	for _, t := range topics {
		if err := s.repo.InsertTopicTx(ctx, s.tx, t); err != nil {
			return fmt.Errorf("insert topic %q: %w", t.Name, err)
		}
	}
	if len(topics) == 0 {
		return nil
	}
	return s.events.Append(ctx, s.tx, events.DatasetImported, "episode", topics[0].EpisodeGUID, s.actor, events.EventPayload{
		"topics": len(topics),
	})
}

func (s *datasetTx) Commit() error {
	return s.tx.Commit()
}

func (s *datasetTx) Rollback() error {
	return s.tx.Rollback()
}

func (e Engine) codec() dataset.Codec {
	return dataset.Codec{Now: e.now}
}

// ImportDatasets loads dataset files from location, one transaction each.
func (e Engine) ImportDatasets(ctx context.Context, location, actorID string, opts dataset.ImportOptions) (dataset.ImportReport, error) {
	im := dataset.Importer{
		Codec:  e.codec(),
		Logger: e.logger(),
		Begin: func(ctx context.Context) (dataset.TxStore, error) {
			tx, w, err := e.begin(ctx)
			if err != nil {
				return nil, err
			}
			return &datasetTx{repo: e.Repo, tx: tx, events: w, actor: actorID}, nil
		},
	}
	return im.Run(ctx, location, opts)
}

// datasetSource feeds the exporter from the repo.
type datasetSource struct {
	e Engine
}

func (s datasetSource) ListEpisodes(ctx context.Context, withTopicsOnly bool) ([]domain.Episode, error) {
	return s.e.Repo.ListEpisodes(ctx, repo.EpisodeFilters{WithTopicsOnly: withTopicsOnly})
}

func (s datasetSource) EpisodeByNumber(ctx context.Context, number int) (domain.Episode, error) {
	ep, err := s.e.Repo.GetEpisodeByNumber(ctx, number)
	return ep, notFound(err, domain.ErrEpisodeNotFound)
}

func (s datasetSource) LoadGraph(ctx context.Context, ep domain.Episode) (domain.EpisodeGraph, error) {
	return s.e.LoadGraph(ctx, ep.GUID)
}

// ExportDatasets writes dataset files for stored episodes into dir.
func (e Engine) ExportDatasets(ctx context.Context, dir string, opts dataset.ExportOptions) (dataset.ExportReport, error) {
	if opts.Prefix == "" && e.Config != nil {
		opts.Prefix = e.Config.Datasets.Prefix
	}
	if opts.Extension == "" && e.Config != nil {
		opts.Extension = e.Config.Datasets.Extension
	}
	ex := dataset.Exporter{Source: datasetSource{e: e}, Logger: e.logger()}
	return ex.Run(ctx, dir, opts)
}
