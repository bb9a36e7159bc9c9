package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const fixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Test Cast</title>
  <item>
    <guid>ep-42</guid>
    <title> The Answer </title>
    <description><![CDATA[<p>Deep <b>thought</b> &amp; towels</p>]]></description>
    <pubDate>Mon, 01 Jan 2024 10:00:00 +0100</pubDate>
    <enclosure url="https://cdn.example.com/42.mp3" length="123" type="audio/mpeg"/>
    <itunes:episode>42</itunes:episode>
    <itunes:episodeType>full</itunes:episodeType>
    <itunes:duration>01:02:03</itunes:duration>
    <itunes:explicit>no</itunes:explicit>
    <itunes:subtitle>Short one</itunes:subtitle>
    <itunes:image href="https://cdn.example.com/42.jpg"/>
  </item>
  <item>
    <guid>ep-43</guid>
    <title>Bonus</title>
    <itunes:duration>754</itunes:duration>
    <itunes:explicit>yes</itunes:explicit>
  </item>
  <item>
    <title>No guid</title>
  </item>
</channel>
</rss>`

func TestParse(t *testing.T) {
	eps, err := Reader{}.Parse(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(eps))
	}
	ep := eps[0]
	if ep.GUID != "ep-42" || ep.Title != "The Answer" || ep.Number == nil || *ep.Number != 42 {
		t.Fatalf("unexpected episode %+v", ep)
	}
	if ep.Duration != 3723 || ep.Explicit || ep.Type != "full" || ep.Subtitle != "Short one" {
		t.Fatalf("unexpected itunes fields %+v", ep)
	}
	if ep.Description != "Deep thought & towels" {
		t.Fatalf("description = %q", ep.Description)
	}
	if ep.MediaURL != "https://cdn.example.com/42.mp3" || ep.Image != "https://cdn.example.com/42.jpg" {
		t.Fatalf("media = %q image = %q", ep.MediaURL, ep.Image)
	}
	if ep.PublishedAt != "2024-01-01T09:00:00Z" {
		t.Fatalf("published = %q", ep.PublishedAt)
	}
	bonus := eps[1]
	if bonus.Number != nil || bonus.Duration != 754 || !bonus.Explicit {
		t.Fatalf("unexpected bonus episode %+v", bonus)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(fixture))
	}))
	defer srv.Close()

	eps, err := Reader{Timeout: 5 * time.Second}.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(eps))
	}
	if _, err := (Reader{}).Fetch(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
