package engine

import (
	"context"
	"fmt"
	"strings"

	"podnotes/internal/domain"
	"podnotes/internal/events"
	"podnotes/internal/repo"
)

type EpisodeImport struct {
	Created []domain.Episode
	// Existing counts episodes whose guid or number was already stored.
	Existing int
}

// ImportEpisodes stores the episodes that are not known yet. Known
// episodes are never updated.
func (e Engine) ImportEpisodes(ctx context.Context, eps []domain.Episode, actorID string) (EpisodeImport, error) {
	var res EpisodeImport
	tx, w, err := e.begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	now := e.timestamp()
	for _, ep := range eps {
		if strings.TrimSpace(ep.GUID) == "" {
			return EpisodeImport{}, fmt.Errorf("%w: feed item %q", domain.ErrMissingGUID, ep.Title)
		}
		if ep.CreatedAt == "" {
			ep.CreatedAt = now
		}
		ok, err := e.Repo.InsertEpisodeIfAbsentTx(ctx, tx, ep)
		if err != nil {
			return EpisodeImport{}, fmt.Errorf("insert episode %s: %w", ep.GUID, err)
		}
		if !ok {
			res.Existing++
			continue
		}
		if err := w.Append(ctx, tx, events.EpisodeImported, "episode", ep.GUID, actorID, events.EventPayload{
			"episode_number": ep.Number,
			"title":          ep.Title,
		}); err != nil {
			return EpisodeImport{}, err
		}
		res.Created = append(res.Created, ep)
	}
	if err := tx.Commit(); err != nil {
		return EpisodeImport{}, err
	}
	return res, nil
}

func (e Engine) ListEpisodes(ctx context.Context, f repo.EpisodeFilters) ([]domain.Episode, error) {
	return e.Repo.ListEpisodes(ctx, f)
}

// ListHosts returns every known host ordered by name.
func (e Engine) ListHosts(ctx context.Context) ([]domain.Host, error) {
	return e.Repo.ListHosts(ctx)
}

func (e Engine) EpisodeHosts(ctx context.Context, guid string) ([]domain.Host, error) {
	if _, err := e.GetEpisode(ctx, guid); err != nil {
		return nil, err
	}
	return e.Repo.ListEpisodeHosts(ctx, guid)
}
