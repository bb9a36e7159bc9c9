// Package purge force-releases claims that were held longer than the
// configured maximum age and tells the former holders about it.
package purge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"podnotes/internal/domain"
)

// Actor is recorded on claim.dropped events written by the purger.
const Actor = "purger"

// Ledger is the part of the claim ledger the purger drives.
type Ledger interface {
	ExpiredClaims(ctx context.Context, maxAge time.Duration) ([]domain.Claim, error)
	ForceReleaseClaim(ctx context.Context, c domain.Claim, actorID string) (bool, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// ClaimDropped is sent to notifiers for every claim the purger removed.
type ClaimDropped struct {
	EpisodeGUID  string       `json:"episode_guid"`
	Claim        domain.Claim `json:"claim"`
	FormerHolder domain.User  `json:"former_holder"`
	DroppedAt    string       `json:"dropped_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n ClaimDropped) error
}

type Report struct {
	Expired         int
	Dropped         []domain.Claim
	ReleaseFailures int
	NotifyFailures  int
}

type Purger struct {
	Ledger    Ledger
	MaxAge    time.Duration
	Notifiers []Notifier
	Logger    *slog.Logger
	Now       func() time.Time
}

func (p Purger) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p Purger) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Sweep drops every expired claim. A claim that fails to release or to
// notify is counted in the report and the sweep moves on; only failing to
// list the expired claims aborts it.
func (p Purger) Sweep(ctx context.Context) (Report, error) {
	if p.Ledger == nil {
		return Report{}, errors.New("purger has no ledger")
	}
	if p.MaxAge <= 0 {
		return Report{}, errors.New("purger max age must be positive")
	}
	expired, err := p.Ledger.ExpiredClaims(ctx, p.MaxAge)
	if err != nil {
		return Report{}, err
	}
	log := p.logger()
	rep := Report{Expired: len(expired)}
	for _, c := range expired {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		ok, err := p.Ledger.ForceReleaseClaim(ctx, c, Actor)
		if err != nil {
			rep.ReleaseFailures++
			log.Error("release expired claim", "episode", c.EpisodeGUID, "claim", c.ID, "err", err)
			continue
		}
		if !ok {
			// released or re-claimed since it was listed
			log.Debug("expired claim already gone", "episode", c.EpisodeGUID, "claim", c.ID)
			continue
		}
		rep.Dropped = append(rep.Dropped, c)
		n := ClaimDropped{
			EpisodeGUID:  c.EpisodeGUID,
			Claim:        c,
			FormerHolder: p.holder(ctx, c.UserID),
			DroppedAt:    p.now().UTC().Format(time.RFC3339),
		}
		for _, nt := range p.Notifiers {
			if err := nt.Notify(ctx, n); err != nil {
				rep.NotifyFailures++
				log.Warn("notify dropped claim", "episode", c.EpisodeGUID, "user", c.UserID, "err", err)
			}
		}
	}
	if rep.Expired > 0 {
		log.Info("claim purge finished", "expired", rep.Expired, "dropped", len(rep.Dropped),
			"release_failures", rep.ReleaseFailures, "notify_failures", rep.NotifyFailures)
	}
	return rep, nil
}

func (p Purger) holder(ctx context.Context, userID string) domain.User {
	u, err := p.Ledger.GetUser(ctx, userID)
	if err != nil {
		p.logger().Debug("former holder lookup", "user", userID, "err", err)
		return domain.User{ID: userID}
	}
	return u
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (p Purger) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("purge interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			p.logger().Error("claim purge failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
