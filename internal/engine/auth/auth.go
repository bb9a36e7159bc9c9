// Package auth decides whether a user may claim, release or edit an
// episode. Decisions are pure functions of a ClaimState snapshot.
package auth

import (
	"fmt"

	"podnotes/internal/domain"
)

// ForbiddenError is a denied decision carrying the domain reason.
type ForbiddenError struct {
	Action string
	Reason error
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s denied: %v", e.Action, e.Reason)
}

func (e ForbiddenError) Unwrap() error {
	return e.Reason
}

// ClaimState is what a decision needs to know about an episode and a user.
type ClaimState struct {
	// Holder is the user id of the episode's active claim, "" if unclaimed.
	Holder string
	// OtherClaims counts claims the user holds on other episodes.
	OtherClaims int
}

func (s ClaimState) Claimed() bool {
	return s.Holder != ""
}

type Decision struct {
	Allowed bool
	Reason  error
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason error) Decision {
	return Decision{Reason: reason}
}

// Err returns nil for an allowed decision and a ForbiddenError otherwise.
func (d Decision) Err(action string) error {
	if d.Allowed {
		return nil
	}
	return ForbiddenError{Action: action, Reason: d.Reason}
}

type Policy struct {
	// SingleClaimPerUser denies claiming while the user holds any other claim.
	SingleClaimPerUser bool
}

// CanClaim allows claiming an unclaimed episode, and in single-claim mode
// only when the user holds no other claim.
func (p Policy) CanClaim(userID string, s ClaimState) Decision {
	if s.Claimed() {
		return deny(domain.ErrAlreadyClaimed)
	}
	if p.SingleClaimPerUser && s.OtherClaims > 0 {
		return deny(domain.ErrUserHoldsClaim)
	}
	return allow()
}

// CanUnclaim allows release when nothing is claimed or the user is the holder.
func (p Policy) CanUnclaim(userID string, s ClaimState) Decision {
	if !s.Claimed() || s.Holder == userID {
		return allow()
	}
	return deny(domain.ErrClaimedBySomeoneElse)
}

// CanEdit requires the user to hold the episode's claim.
func (p Policy) CanEdit(userID string, s ClaimState) Decision {
	if !s.Claimed() {
		return deny(domain.ErrMustClaimFirst)
	}
	if s.Holder != userID {
		return deny(domain.ErrClaimedBySomeoneElse)
	}
	return allow()
}

// CanVote allows every authenticated user.
func (p Policy) CanVote(userID string) Decision {
	if userID == "" {
		return deny(domain.ErrUserNotFound)
	}
	return allow()
}
