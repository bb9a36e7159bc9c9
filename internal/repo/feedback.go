package repo

import (
	"context"
	"database/sql"

	"podnotes/internal/domain"
)

// UpsertVoteTx records or replaces the user's vote on an episode.
func (r Repo) UpsertVoteTx(ctx context.Context, tx *sql.Tx, v domain.Vote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO votes(episode_guid,user_id,positive,created_at) VALUES (?,?,?,?)
ON CONFLICT(episode_guid,user_id) DO UPDATE SET positive=excluded.positive, created_at=excluded.created_at`,
		v.EpisodeGUID, v.UserID, boolInt(v.Positive), v.CreatedAt)
	return err
}

// DeleteVoteTx removes the user's vote and reports whether one existed.
func (r Repo) DeleteVoteTx(ctx context.Context, tx *sql.Tx, guid, userID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE episode_guid=? AND user_id=?`, guid, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

type VoteTally struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

func (r Repo) TallyVotes(ctx context.Context, guid string) (VoteTally, error) {
	var t VoteTally
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(positive),0), COALESCE(SUM(1-positive),0) FROM votes WHERE episode_guid=?`, guid).
		Scan(&t.Up, &t.Down)
	return t, err
}

func (r Repo) GetVote(ctx context.Context, guid, userID string) (domain.Vote, error) {
	var v domain.Vote
	var positive int
	err := r.DB.QueryRowContext(ctx, `SELECT episode_guid,user_id,positive,created_at FROM votes WHERE episode_guid=? AND user_id=?`, guid, userID).
		Scan(&v.EpisodeGUID, &v.UserID, &positive, &v.CreatedAt)
	if err != nil {
		return domain.Vote{}, noRows(err)
	}
	v.Positive = positive != 0
	return v, nil
}

func (r Repo) InsertFlagTx(ctx context.Context, tx *sql.Tx, f domain.Flag) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO flags(id,episode_guid,user_id,reason,created_at) VALUES (?,?,?,?,?)`,
		f.ID, f.EpisodeGUID, f.UserID, f.Reason, f.CreatedAt)
	return err
}

func (r Repo) GetFlagTx(ctx context.Context, tx *sql.Tx, id string) (domain.Flag, error) {
	var f domain.Flag
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,episode_guid,user_id,reason,created_at FROM flags WHERE id=?`, id).
		Scan(&f.ID, &f.EpisodeGUID, &f.UserID, &f.Reason, &f.CreatedAt)
	return f, noRows(err)
}

func (r Repo) DeleteFlagTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM flags WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r Repo) ListFlags(ctx context.Context, guid string) ([]domain.Flag, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,episode_guid,user_id,reason,created_at FROM flags WHERE episode_guid=? ORDER BY created_at, rowid`, guid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Flag
	for rows.Next() {
		var f domain.Flag
		if err := rows.Scan(&f.ID, &f.EpisodeGUID, &f.UserID, &f.Reason, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}
