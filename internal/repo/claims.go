package repo

import (
	"context"
	"database/sql"
	"errors"

	"podnotes/internal/domain"
)

const claimColumns = `id,episode_guid,user_id,claimed_at`

func scanClaim(row rowScanner) (domain.Claim, error) {
	var c domain.Claim
	if err := row.Scan(&c.ID, &c.EpisodeGUID, &c.UserID, &c.ClaimedAt); err != nil {
		return domain.Claim{}, noRows(err)
	}
	return c, nil
}

// InsertClaimIfAbsentTx inserts c unless the episode already has a claim.
// It reports whether the row was written.
func (r Repo) InsertClaimIfAbsentTx(ctx context.Context, tx *sql.Tx, c domain.Claim) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO claims(id,episode_guid,user_id,claimed_at) VALUES (?,?,?,?) ON CONFLICT(episode_guid) DO NOTHING`,
		c.ID, c.EpisodeGUID, c.UserID, c.ClaimedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetClaim(ctx context.Context, guid string) (domain.Claim, error) {
	return r.GetClaimTx(ctx, nil, guid)
}

func (r Repo) GetClaimTx(ctx context.Context, tx *sql.Tx, guid string) (domain.Claim, error) {
	return scanClaim(r.on(tx).QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE episode_guid=?`, guid))
}

// CountOtherClaimsTx counts claims held by userID on episodes other than guid.
func (r Repo) CountOtherClaimsTx(ctx context.Context, tx *sql.Tx, userID, guid string) (int, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `SELECT count(*) FROM claims WHERE user_id=? AND episode_guid<>?`, userID, guid).Scan(&n)
	return n, err
}

// DeleteClaimTx removes the episode's claim, returning the removed row.
func (r Repo) DeleteClaimTx(ctx context.Context, tx *sql.Tx, guid string) (domain.Claim, bool, error) {
	c, err := r.GetClaimTx(ctx, tx, guid)
	if errors.Is(err, ErrNotFound) {
		return domain.Claim{}, false, nil
	}
	if err != nil {
		return domain.Claim{}, false, err
	}
	ok, err := r.DeleteClaimByIDTx(ctx, tx, c)
	return c, ok, err
}

// DeleteClaimByIDTx removes exactly the claim instance c, leaving any newer
// claim on the same episode untouched.
func (r Repo) DeleteClaimByIDTx(ctx context.Context, tx *sql.Tx, c domain.Claim) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM claims WHERE id=? AND episode_guid=?`, c.ID, c.EpisodeGUID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type ClaimFilters struct {
	UserID string
	// ClaimedBefore keeps claims with claimed_at strictly before this RFC3339 timestamp.
	ClaimedBefore string
}

func (r Repo) ListClaims(ctx context.Context, f ClaimFilters) ([]domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id=?`
		args = append(args, f.UserID)
	}
	if f.ClaimedBefore != "" {
		query += ` AND claimed_at<?`
		args = append(args, f.ClaimedBefore)
	}
	query += ` ORDER BY claimed_at, rowid`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
