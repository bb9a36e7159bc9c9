package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"podnotes/internal/domain"
	"podnotes/internal/events"
	"podnotes/internal/repo"
)

// Vote records an up (1) or down (-1) vote; 0 withdraws the user's vote.
func (e Engine) Vote(ctx context.Context, guid, userID string, direction int) (repo.VoteTally, error) {
	if direction < -1 || direction > 1 {
		return repo.VoteTally{}, domain.ErrInvalidDirection
	}
	if err := e.policy().CanVote(userID).Err("vote"); err != nil {
		return repo.VoteTally{}, err
	}
	tx, w, err := e.begin(ctx)
	if err != nil {
		return repo.VoteTally{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetEpisodeTx(ctx, tx, guid); err != nil {
		return repo.VoteTally{}, notFound(err, domain.ErrEpisodeNotFound)
	}
	if direction == 0 {
		removed, err := e.Repo.DeleteVoteTx(ctx, tx, guid, userID)
		if err != nil {
			return repo.VoteTally{}, err
		}
		if removed {
			if err := w.Append(ctx, tx, events.VoteWithdrawn, "episode", guid, userID, nil); err != nil {
				return repo.VoteTally{}, err
			}
		}
	} else {
		v := domain.Vote{EpisodeGUID: guid, UserID: userID, Positive: direction > 0, CreatedAt: e.timestamp()}
		if err := e.Repo.UpsertVoteTx(ctx, tx, v); err != nil {
			return repo.VoteTally{}, err
		}
		if err := w.Append(ctx, tx, events.VoteCast, "episode", guid, userID, events.EventPayload{"direction": direction}); err != nil {
			return repo.VoteTally{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return repo.VoteTally{}, err
	}
	return e.Repo.TallyVotes(ctx, guid)
}

func (e Engine) CreateFlag(ctx context.Context, guid, userID, reason string) (domain.Flag, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Flag{}, domain.ErrMissingReason
	}
	tx, w, err := e.begin(ctx)
	if err != nil {
		return domain.Flag{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetEpisodeTx(ctx, tx, guid); err != nil {
		return domain.Flag{}, notFound(err, domain.ErrEpisodeNotFound)
	}
	f := domain.Flag{ID: uuid.NewString(), EpisodeGUID: guid, UserID: userID, Reason: reason, CreatedAt: e.timestamp()}
	if err := e.Repo.InsertFlagTx(ctx, tx, f); err != nil {
		return domain.Flag{}, err
	}
	if err := w.Append(ctx, tx, events.FlagCreated, "flag", f.ID, userID, events.EventPayload{"episode_guid": guid}); err != nil {
		return domain.Flag{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Flag{}, err
	}
	return f, nil
}

// DeleteFlag removes a flag; only the user who raised it may do so.
func (e Engine) DeleteFlag(ctx context.Context, id, userID string) error {
	tx, w, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	f, err := e.Repo.GetFlagTx(ctx, tx, id)
	if err != nil {
		return notFound(err, domain.ErrNotFound)
	}
	if f.UserID != userID {
		return domain.ErrNotOwner
	}
	if err := e.Repo.DeleteFlagTx(ctx, tx, id); err != nil {
		return notFound(err, domain.ErrNotFound)
	}
	if err := w.Append(ctx, tx, events.FlagDeleted, "flag", id, userID, events.EventPayload{"episode_guid": f.EpisodeGUID}); err != nil {
		return err
	}
	return tx.Commit()
}
