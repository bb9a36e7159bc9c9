package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"podnotes/internal/domain"
	"podnotes/internal/engine/auth"
	"podnotes/internal/events"
	"podnotes/internal/repo"
)

func (e Engine) claimStateTx(ctx context.Context, tx *sql.Tx, guid, userID string) (auth.ClaimState, error) {
	var s auth.ClaimState
	c, err := e.Repo.GetClaimTx(ctx, tx, guid)
	switch {
	case err == nil:
		s.Holder = c.UserID
	case !errors.Is(err, repo.ErrNotFound):
		return s, err
	}
	if userID != "" {
		n, err := e.Repo.CountOtherClaimsTx(ctx, tx, userID, guid)
		if err != nil {
			return s, err
		}
		s.OtherClaims = n
	}
	return s, nil
}

// ClaimState reports the episode's claim holder and the user's other claims.
func (e Engine) ClaimState(ctx context.Context, guid, userID string) (auth.ClaimState, error) {
	if _, err := e.GetEpisode(ctx, guid); err != nil {
		return auth.ClaimState{}, err
	}
	return e.claimStateTx(ctx, nil, guid, userID)
}

// Claim gives userID exclusive edit rights on the episode. The insert is
// conditional on the episode's unique claim slot, so of two concurrent
// claims exactly one succeeds and the other gets ErrAlreadyClaimed.
func (e Engine) Claim(ctx context.Context, guid, userID string) (domain.Claim, error) {
	if userID == "" {
		return domain.Claim{}, domain.ErrUserNotFound
	}
	tx, w, err := e.begin(ctx)
	if err != nil {
		return domain.Claim{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetEpisodeTx(ctx, tx, guid); err != nil {
		return domain.Claim{}, notFound(err, domain.ErrEpisodeNotFound)
	}
	state, err := e.claimStateTx(ctx, tx, guid, userID)
	if err != nil {
		return domain.Claim{}, err
	}
	if err := e.policy().CanClaim(userID, state).Err("claim"); err != nil {
		return domain.Claim{}, err
	}
	c := domain.Claim{
		ID:          uuid.NewString(),
		EpisodeGUID: guid,
		UserID:      userID,
		ClaimedAt:   e.timestamp(),
	}
	ok, err := e.Repo.InsertClaimIfAbsentTx(ctx, tx, c)
	if err != nil {
		return domain.Claim{}, fmt.Errorf("insert claim: %w", err)
	}
	if !ok {
		return domain.Claim{}, domain.ErrAlreadyClaimed
	}
	if err := w.Append(ctx, tx, events.ClaimCreated, "episode", guid, userID, events.EventPayload{"claim_id": c.ID}); err != nil {
		return domain.Claim{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, err
	}
	return c, nil
}

// Release ends the user's own claim on the episode.
func (e Engine) Release(ctx context.Context, guid, userID string) error {
	tx, w, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetEpisodeTx(ctx, tx, guid); err != nil {
		return notFound(err, domain.ErrEpisodeNotFound)
	}
	state, err := e.claimStateTx(ctx, tx, guid, "")
	if err != nil {
		return err
	}
	if err := e.policy().CanUnclaim(userID, state).Err("unclaim"); err != nil {
		return err
	}
	if !state.Claimed() {
		return domain.ErrNotClaimed
	}
	c, ok, err := e.Repo.DeleteClaimTx(ctx, tx, guid)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotClaimed
	}
	if err := w.Append(ctx, tx, events.ClaimReleased, "episode", guid, userID, events.EventPayload{"claim_id": c.ID}); err != nil {
		return err
	}
	return tx.Commit()
}

// ForceRelease removes any claim on the episode regardless of holder or
// age. It returns the removed claim and false when there was none.
func (e Engine) ForceRelease(ctx context.Context, guid, actorID string) (domain.Claim, bool, error) {
	tx, w, err := e.begin(ctx)
	if err != nil {
		return domain.Claim{}, false, err
	}
	defer tx.Rollback()

	c, ok, err := e.Repo.DeleteClaimTx(ctx, tx, guid)
	if err != nil || !ok {
		return domain.Claim{}, false, err
	}
	if err := w.Append(ctx, tx, events.ClaimDropped, "episode", guid, actorID, events.EventPayload{
		"claim_id": c.ID,
		"holder":   c.UserID,
	}); err != nil {
		return domain.Claim{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, false, err
	}
	return c, true, nil
}

// ForceReleaseClaim removes exactly the claim c. A claim taken on the same
// episode after c was read is left alone; false means c was already gone.
func (e Engine) ForceReleaseClaim(ctx context.Context, c domain.Claim, actorID string) (bool, error) {
	tx, w, err := e.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.DeleteClaimByIDTx(ctx, tx, c)
	if err != nil || !ok {
		return false, err
	}
	if err := w.Append(ctx, tx, events.ClaimDropped, "episode", c.EpisodeGUID, actorID, events.EventPayload{
		"claim_id":   c.ID,
		"holder":     c.UserID,
		"claimed_at": c.ClaimedAt,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// IsHeldBy reports whether userID holds the episode's claim.
func (e Engine) IsHeldBy(ctx context.Context, guid, userID string) (bool, error) {
	c, err := e.Repo.GetClaim(ctx, guid)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.UserID == userID, nil
}

func (e Engine) GetClaim(ctx context.Context, guid string) (domain.Claim, error) {
	c, err := e.Repo.GetClaim(ctx, guid)
	return c, notFound(err, domain.ErrNotClaimed)
}

func (e Engine) ListClaims(ctx context.Context, userID string) ([]domain.Claim, error) {
	return e.Repo.ListClaims(ctx, repo.ClaimFilters{UserID: userID})
}

// ExpiredClaims lists claims acquired strictly before now - maxAge.
func (e Engine) ExpiredClaims(ctx context.Context, maxAge time.Duration) ([]domain.Claim, error) {
	cutoff := e.now().Add(-maxAge).UTC().Format(time.RFC3339)
	return e.Repo.ListClaims(ctx, repo.ClaimFilters{ClaimedBefore: cutoff})
}
