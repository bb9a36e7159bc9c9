// Package feed reads podcast episodes from an RSS feed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"podnotes/internal/domain"
	"podnotes/internal/timecode"
)

const defaultTimeout = 30 * time.Second

type Reader struct {
	Client  *http.Client
	Timeout time.Duration
	Logger  *slog.Logger
}

func (r Reader) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Fetch downloads the feed at url and maps its items to episodes.
func (r Reader) Fetch(ctx context.Context, url string) ([]domain.Episode, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("feed url is not configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := gofeed.NewParser()
	if r.Client != nil {
		p.Client = r.Client
	}
	f, err := p.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSS feed: %w", err)
	}
	return r.episodes(f), nil
}

// Parse maps an already downloaded feed document to episodes.
func (r Reader) Parse(rd io.Reader) ([]domain.Episode, error) {
	f, err := gofeed.NewParser().Parse(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSS feed: %w", err)
	}
	return r.episodes(f), nil
}

func (r Reader) episodes(f *gofeed.Feed) []domain.Episode {
	if f == nil {
		return nil
	}
	eps := make([]domain.Episode, 0, len(f.Items))
	for _, item := range f.Items {
		if item == nil {
			continue
		}
		if strings.TrimSpace(item.GUID) == "" {
			r.logger().Warn("feed item has no guid, skipped", "title", item.Title)
			continue
		}
		eps = append(eps, r.episode(item))
	}
	return eps
}

func (r Reader) episode(item *gofeed.Item) domain.Episode {
	ep := domain.Episode{
		GUID:        strings.TrimSpace(item.GUID),
		Title:       strings.TrimSpace(item.Title),
		Description: plainText(item.Description),
	}
	if item.Image != nil {
		ep.Image = item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			ep.MediaURL = enc.URL
			break
		}
	}
	if item.PublishedParsed != nil {
		ep.PublishedAt = item.PublishedParsed.UTC().Format(time.RFC3339)
	}
	it := item.ITunesExt
	if it == nil {
		return ep
	}
	ep.Subtitle = strings.TrimSpace(it.Subtitle)
	ep.Type = strings.TrimSpace(it.EpisodeType)
	ep.Explicit = explicit(it.Explicit)
	if it.Image != "" {
		ep.Image = it.Image
	}
	if n, err := strconv.Atoi(strings.TrimSpace(it.Episode)); err == nil && n > 0 {
		ep.Number = &n
	}
	if d := strings.TrimSpace(it.Duration); d != "" {
		secs, err := timecode.Parse(d)
		if err != nil {
			r.logger().Warn("unreadable itunes:duration", "guid", ep.GUID, "duration", d)
		}
		ep.Duration = secs
	}
	if ep.Description == "" {
		ep.Description = plainText(it.Summary)
	}
	return ep
}

func explicit(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "no", "false", "clean":
		return false
	}
	return true
}

// plainText drops markup from feed HTML and collapses whitespace.
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
