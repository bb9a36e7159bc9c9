package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"podnotes/internal/domain"
)

const episodeColumns = `guid,episode_number,title,COALESCE(subtitle,''),COALESCE(description,''),COALESCE(image,''),COALESCE(media_url,''),COALESCE(type,''),duration,explicit,COALESCE(published_at,''),created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (domain.Episode, error) {
	var e domain.Episode
	var number sql.NullInt64
	var explicit int
	err := row.Scan(&e.GUID, &number, &e.Title, &e.Subtitle, &e.Description, &e.Image, &e.MediaURL, &e.Type, &e.Duration, &explicit, &e.PublishedAt, &e.CreatedAt)
	if err != nil {
		return domain.Episode{}, noRows(err)
	}
	e.Number = intPtr(number)
	e.Explicit = explicit != 0
	return e, nil
}

func (r Repo) InsertEpisode(ctx context.Context, tx *sql.Tx, e domain.Episode) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO episodes(guid,episode_number,title,subtitle,description,image,media_url,type,duration,explicit,published_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.GUID, nullableIntPtr(e.Number), e.Title, nullable(e.Subtitle), nullable(e.Description), nullable(e.Image),
		nullable(e.MediaURL), nullable(e.Type), e.Duration, boolInt(e.Explicit), nullable(e.PublishedAt), e.CreatedAt)
	return err
}

// InsertEpisodeIfAbsentTx inserts e unless its guid or episode number is
// already stored, reporting whether the row was written.
func (r Repo) InsertEpisodeIfAbsentTx(ctx context.Context, tx *sql.Tx, e domain.Episode) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO episodes(guid,episode_number,title,subtitle,description,image,media_url,type,duration,explicit,published_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?) ON CONFLICT DO NOTHING`,
		e.GUID, nullableIntPtr(e.Number), e.Title, nullable(e.Subtitle), nullable(e.Description), nullable(e.Image),
		nullable(e.MediaURL), nullable(e.Type), e.Duration, boolInt(e.Explicit), nullable(e.PublishedAt), e.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) GetEpisode(ctx context.Context, guid string) (domain.Episode, error) {
	return r.GetEpisodeTx(ctx, nil, guid)
}

func (r Repo) GetEpisodeTx(ctx context.Context, tx *sql.Tx, guid string) (domain.Episode, error) {
	return scanEpisode(r.on(tx).QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE guid=?`, guid))
}

func (r Repo) GetEpisodeByNumber(ctx context.Context, number int) (domain.Episode, error) {
	return scanEpisode(r.DB.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE episode_number=?`, number))
}

type EpisodeFilters struct {
	// WithTopicsOnly drops episodes that have no topics.
	WithTopicsOnly bool
	Claimed        *bool
	Limit          int
	Offset         int
}

// ListEpisodes returns episodes ordered by episode number, unnumbered last.
func (r Repo) ListEpisodes(ctx context.Context, f EpisodeFilters) ([]domain.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes e WHERE 1=1`
	var args []any
	if f.WithTopicsOnly {
		query += ` AND EXISTS (SELECT 1 FROM topics t WHERE t.episode_guid=e.guid)`
	}
	if f.Claimed != nil {
		if *f.Claimed {
			query += ` AND EXISTS (SELECT 1 FROM claims c WHERE c.episode_guid=e.guid)`
		} else {
			query += ` AND NOT EXISTS (SELECT 1 FROM claims c WHERE c.episode_guid=e.guid)`
		}
	}
	query += ` ORDER BY episode_number IS NULL, episode_number, created_at`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// GetOrCreateHostTx returns the host named name, creating it if needed.
func (r Repo) GetOrCreateHostTx(ctx context.Context, tx *sql.Tx, name string) (domain.Host, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Host{}, fmt.Errorf("host name required")
	}
	h := domain.Host{ID: uuid.NewString(), Name: name}
	if _, err := r.on(tx).ExecContext(ctx, `INSERT INTO hosts(id,name) VALUES (?,?) ON CONFLICT(name) DO NOTHING`, h.ID, h.Name); err != nil {
		return domain.Host{}, err
	}
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,name FROM hosts WHERE name=?`, name).Scan(&h.ID, &h.Name)
	return h, noRows(err)
}

// ReplaceEpisodeHostsTx detaches all hosts from the episode and attaches hostIDs.
func (r Repo) ReplaceEpisodeHostsTx(ctx context.Context, tx *sql.Tx, guid string, hostIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM episode_hosts WHERE episode_guid=?`, guid); err != nil {
		return err
	}
	for _, id := range hostIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO episode_hosts(episode_guid,host_id) VALUES (?,?)`, guid, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListEpisodeHosts(ctx context.Context, guid string) ([]domain.Host, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT h.id,h.name FROM hosts h JOIN episode_hosts eh ON eh.host_id=h.id WHERE eh.episode_guid=? ORDER BY eh.rowid`, guid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHosts(rows)
}

func (r Repo) ListHosts(ctx context.Context) ([]domain.Host, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM hosts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHosts(rows)
}

func scanHosts(rows *sql.Rows) ([]domain.Host, error) {
	var res []domain.Host
	for rows.Next() {
		var h domain.Host
		if err := rows.Scan(&h.ID, &h.Name); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
