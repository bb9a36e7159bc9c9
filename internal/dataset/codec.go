// Package dataset converts annotated episodes to and from YAML dataset
// files and drives bulk import and export.
package dataset

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"podnotes/internal/domain"
	"podnotes/internal/reconcile"
	"podnotes/internal/timecode"
)

// Store is the persistence the codec needs while decoding. Lookups report
// domain.ErrEpisodeNotFound and domain.ErrUserNotFound for missing rows.
type Store interface {
	FindEpisodeByGUID(ctx context.Context, guid string) (domain.Episode, error)
	CountTopics(ctx context.Context, guid string) (int, error)
	FindUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetOrCreateHost(ctx context.Context, name string) (domain.Host, error)
	ReplaceEpisodeHosts(ctx context.Context, guid string, hostIDs []string) error
	SaveTopics(ctx context.Context, topics []domain.Topic) error
}

// LookupCache memoizes user lookups for one import run.
type LookupCache struct {
	users map[string]domain.User
}

func NewLookupCache() *LookupCache {
	return &LookupCache{users: map[string]domain.User{}}
}

func (c *LookupCache) user(ctx context.Context, store Store, username string) (domain.User, error) {
	if c == nil {
		return store.FindUserByUsername(ctx, username)
	}
	if u, ok := c.users[username]; ok {
		return u, nil
	}
	u, err := store.FindUserByUsername(ctx, username)
	if err != nil {
		return domain.User{}, err
	}
	c.users[username] = u
	return u, nil
}

type Codec struct {
	Now   func() time.Time
	NewID func() string
}

func (c Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Codec) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

// Decoded is the result of mapping a dataset onto stored records.
type Decoded struct {
	Episode domain.Episode
	User    domain.User
	Hosts   []domain.Host
	Topics  []domain.Topic
}

// Decode resolves ds against store. Hosts are created and attached as a
// side effect; topics are returned reconciled but not saved.
func (c Codec) Decode(ctx context.Context, store Store, ds Dataset, cache *LookupCache) (Decoded, error) {
	if strings.TrimSpace(ds.GUID) == "" {
		return Decoded{}, domain.ErrMissingGUID
	}
	ep, err := store.FindEpisodeByGUID(ctx, ds.GUID)
	if err != nil {
		return Decoded{}, fmt.Errorf("episode %s: %w", ds.GUID, err)
	}
	n, err := store.CountTopics(ctx, ep.GUID)
	if err != nil {
		return Decoded{}, err
	}
	if n > 0 {
		return Decoded{}, fmt.Errorf("episode %s has %d topics: %w", ep.GUID, n, domain.ErrEpisodeAlreadyPopulated)
	}
	out := Decoded{Episode: ep}

	hostIDs := make([]string, 0, len(ds.Hosts))
	for _, name := range ds.Hosts {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		h, err := store.GetOrCreateHost(ctx, name)
		if err != nil {
			return Decoded{}, fmt.Errorf("host %q: %w", name, err)
		}
		out.Hosts = append(out.Hosts, h)
		hostIDs = append(hostIDs, h.ID)
	}
	if err := store.ReplaceEpisodeHosts(ctx, ep.GUID, hostIDs); err != nil {
		return Decoded{}, err
	}

	if len(ds.Topics) == 0 {
		out.Topics = []domain.Topic{}
		return out, nil
	}
	if ds.Username == "" {
		return Decoded{}, fmt.Errorf("dataset %s has topics but no username: %w", ds.GUID, domain.ErrUserNotFound)
	}
	user, err := cache.user(ctx, store, ds.Username)
	if err != nil {
		return Decoded{}, fmt.Errorf("user %s: %w", ds.Username, err)
	}
	out.User = user

	now := c.now().UTC().Format(time.RFC3339)
	topics := make([]domain.Topic, 0, len(ds.Topics))
	for i, dt := range ds.Topics {
		start, err := timecode.Parse(string(dt.Start))
		if err != nil {
			return Decoded{}, fmt.Errorf("topic %d (%q) start: %w", i+1, dt.Name, err)
		}
		t := domain.Topic{
			ID:          c.newID(),
			EpisodeGUID: ep.GUID,
			UserID:      user.ID,
			Name:        html.EscapeString(dt.Name),
			Start:       start,
			Ad:          bool(dt.Ad),
			Community:   bool(dt.Community),
			CreatedAt:   now,
		}
		if dt.End != "" {
			end, err := timecode.Parse(string(dt.End))
			if err != nil {
				return Decoded{}, fmt.Errorf("topic %d (%q) end: %w", i+1, dt.Name, err)
			}
			// an end of 00:00:00 means "not given"
			if end > 0 {
				t.End = &end
			}
		}
		for _, name := range dt.Subtopics {
			t.Subtopics = append(t.Subtopics, domain.Subtopic{
				ID:        c.newID(),
				TopicID:   t.ID,
				UserID:    user.ID,
				Name:      html.EscapeString(name),
				CreatedAt: now,
			})
		}
		topics = append(topics, t)
	}
	out.Topics, err = reconcile.Topics(ep.Duration, topics, reconcile.Options{})
	if err != nil {
		return Decoded{}, fmt.Errorf("episode %s: %w", ep.GUID, err)
	}
	return out, nil
}

// Apply decodes ds and saves the resulting topics through store.
func (c Codec) Apply(ctx context.Context, store Store, ds Dataset, cache *LookupCache) (Decoded, error) {
	dec, err := c.Decode(ctx, store, ds, cache)
	if err != nil {
		return Decoded{}, err
	}
	if len(dec.Topics) > 0 {
		if err := store.SaveTopics(ctx, dec.Topics); err != nil {
			return Decoded{}, fmt.Errorf("save topics: %w", err)
		}
	}
	return dec, nil
}

// Encode renders the episode and its topics. Topics must already be in
// persisted order.
func Encode(g domain.EpisodeGraph) Dataset {
	ds := Dataset{GUID: g.Episode.GUID, Title: g.Episode.Title}
	for _, t := range g.Topics {
		dt := Topic{
			Name:      html.UnescapeString(t.Name),
			Start:     Timestamp(timecode.Format(t.Start)),
			Ad:        Flag(t.Ad),
			Community: Flag(t.Community),
		}
		if t.End != nil {
			dt.End = Timestamp(timecode.Format(*t.End))
		}
		for _, st := range t.Subtopics {
			dt.Subtopics = append(dt.Subtopics, html.UnescapeString(st.Name))
		}
		ds.Topics = append(ds.Topics, dt)
	}
	return ds
}

// EncodeAttributed is Encode plus host names and the primary contributor:
// the author of the most topics, ties going to whoever appears first.
func EncodeAttributed(g domain.EpisodeGraph) Dataset {
	ds := Encode(g)
	for _, h := range g.Hosts {
		ds.Hosts = append(ds.Hosts, h.Name)
	}
	ds.Username = PrimaryContributor(g)
	return ds
}

// PrimaryContributor returns the username with the highest topic count.
func PrimaryContributor(g domain.EpisodeGraph) string {
	counts := map[string]int{}
	var order []string
	for _, t := range g.Topics {
		name, ok := g.Authors[t.UserID]
		if !ok || name == "" {
			continue
		}
		if _, seen := counts[name]; !seen {
			order = append(order, name)
		}
		counts[name]++
	}
	best := ""
	for _, name := range order {
		if best == "" || counts[name] > counts[best] {
			best = name
		}
	}
	return best
}
