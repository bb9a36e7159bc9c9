package domain

import "errors"

// Kind classifies a domain error for transport mapping.
type Kind int

const (
	KindInput Kind = iota + 1
	KindConflict
	KindForbidden
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a rejection the caller can act on, as opposed to a fault.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrMalformedTimecode = newError(KindInput, "MALFORMED_TIMECODE", "malformed timecode")
	ErrEmptyTopicSet     = newError(KindInput, "EMPTY_TOPIC_SET", "topic set is empty")
	ErrInvalidDuration   = newError(KindInput, "INVALID_DURATION", "episode duration must be positive")
	ErrMissingGUID       = newError(KindInput, "MISSING_GUID", "dataset has no guid")
	ErrInvalidDirection  = newError(KindInput, "INVALID_DIRECTION", "vote direction must be -1, 0 or 1")
	ErrInvalidTopic      = newError(KindInput, "INVALID_TOPIC", "invalid topic")
	ErrMissingReason     = newError(KindInput, "MISSING_REASON", "a reason is required")
	ErrInvalidUser       = newError(KindInput, "INVALID_USER", "invalid user")

	ErrAlreadyClaimed          = newError(KindConflict, "ALREADY_CLAIMED", "episode is already claimed")
	ErrNotClaimed              = newError(KindConflict, "NOT_YET_CLAIMED", "episode is not claimed")
	ErrEpisodeAlreadyPopulated = newError(KindConflict, "EPISODE_ALREADY_POPULATED", "episode already has topics")
	ErrUsernameTaken           = newError(KindConflict, "USERNAME_TAKEN", "username is already taken")

	ErrClaimedBySomeoneElse = newError(KindForbidden, "CLAIMED_BY_SOMEONE_ELSE", "episode is claimed by another user")
	ErrMustClaimFirst       = newError(KindForbidden, "MUST_CLAIM_FIRST", "episode must be claimed first")
	ErrUserHoldsClaim       = newError(KindForbidden, "USER_HOLDS_CLAIM", "user already holds a claim on another episode")
	ErrNotOwner             = newError(KindForbidden, "NOT_OWNER", "only the owner may do this")

	ErrEpisodeNotFound = newError(KindNotFound, "EPISODE_NOT_FOUND", "episode not found")
	ErrUserNotFound    = newError(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrNotFound        = newError(KindNotFound, "NOT_FOUND", "not found")
)

// KindOf returns the kind of the first domain error in err's chain, or 0.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
