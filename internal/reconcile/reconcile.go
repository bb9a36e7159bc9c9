// Package reconcile orders an episode's topics and fills in missing end
// times.
package reconcile

import (
	"fmt"
	"sort"

	"podnotes/internal/domain"
)

type Options struct {
	// RequireTopics rejects an empty topic set with ErrEmptyTopicSet.
	RequireTopics bool
}

// Topics returns a copy of topics sorted by start (stable, so ties keep
// their input order) where every nil end is set to the next topic's start,
// or to duration for the last topic. Explicit ends are kept as given.
func Topics(duration int, topics []domain.Topic, opts Options) ([]domain.Topic, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidDuration, duration)
	}
	if len(topics) == 0 {
		if opts.RequireTopics {
			return nil, domain.ErrEmptyTopicSet
		}
		return []domain.Topic{}, nil
	}
	out := make([]domain.Topic, len(topics))
	copy(out, topics)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := range out {
		if out[i].End != nil {
			continue
		}
		end := duration
		if i+1 < len(out) {
			end = out[i+1].Start
		}
		out[i].End = &end
	}
	return out, nil
}
