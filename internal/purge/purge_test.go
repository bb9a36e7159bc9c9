package purge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"podnotes/internal/config"
	"podnotes/internal/db"
	"podnotes/internal/domain"
	"podnotes/internal/engine"
	"podnotes/internal/migrate"
)

type fakeLedger struct {
	mu       sync.Mutex
	expired  []domain.Claim
	gone     map[string]bool
	failing  map[string]bool
	released []string
	listErr  error
}

func (l *fakeLedger) ExpiredClaims(ctx context.Context, maxAge time.Duration) ([]domain.Claim, error) {
	return l.expired, l.listErr
}

func (l *fakeLedger) ForceReleaseClaim(ctx context.Context, c domain.Claim, actorID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing[c.ID] {
		return false, errors.New("database is locked")
	}
	if l.gone[c.ID] {
		return false, nil
	}
	l.released = append(l.released, c.ID)
	return true, nil
}

func (l *fakeLedger) GetUser(ctx context.Context, id string) (domain.User, error) {
	return domain.User{ID: id, Username: "user-" + id}, nil
}

type recordingNotifier struct {
	got  []ClaimDropped
	fail bool
}

func (n *recordingNotifier) Notify(ctx context.Context, d ClaimDropped) error {
	n.got = append(n.got, d)
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func TestSweepCountsFailuresAndContinues(t *testing.T) {
	ledger := &fakeLedger{
		expired: []domain.Claim{
			{ID: "c1", EpisodeGUID: "ep-1", UserID: "u1"},
			{ID: "c2", EpisodeGUID: "ep-2", UserID: "u2"},
			{ID: "c3", EpisodeGUID: "ep-3", UserID: "u3"},
			{ID: "c4", EpisodeGUID: "ep-4", UserID: "u4"},
		},
		gone:    map[string]bool{"c2": true},
		failing: map[string]bool{"c3": true},
	}
	ok := &recordingNotifier{}
	broken := &recordingNotifier{fail: true}
	p := Purger{Ledger: ledger, MaxAge: time.Hour, Notifiers: []Notifier{ok, broken}}

	rep, err := p.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.Expired != 4 || len(rep.Dropped) != 2 || rep.ReleaseFailures != 1 || rep.NotifyFailures != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(ok.got) != 2 || ok.got[0].EpisodeGUID != "ep-1" || ok.got[1].FormerHolder.Username != "user-u4" {
		t.Fatalf("notifications = %+v", ok.got)
	}
	if len(ledger.released) != 2 {
		t.Fatalf("released = %v", ledger.released)
	}
}

func TestSweepListError(t *testing.T) {
	p := Purger{Ledger: &fakeLedger{listErr: errors.New("boom")}, MaxAge: time.Hour}
	if _, err := p.Sweep(context.Background()); err == nil {
		t.Fatalf("expected list error")
	}
	if _, err := (Purger{Ledger: &fakeLedger{}}).Sweep(context.Background()); err == nil {
		t.Fatalf("expected max age error")
	}
}

func TestSweepAgainstEngine(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	eng := engine.New(conn, config.Default())
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now.Add(-4 * time.Hour) }

	alice, err := eng.CreateUser(ctx, domain.User{Username: "alice"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := eng.CreateUser(ctx, domain.User{Username: "bob"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	one, two := 1, 2
	if _, err := eng.ImportEpisodes(ctx, []domain.Episode{
		{GUID: "ep-1", Number: &one, Title: "One", Duration: 60},
		{GUID: "ep-2", Number: &two, Title: "Two", Duration: 60},
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Claim(ctx, "ep-1", alice.ID); err != nil {
		t.Fatal(err)
	}
	eng.Now = func() time.Time { return now.Add(-30 * time.Minute) }
	if _, err := eng.Claim(ctx, "ep-2", bob.ID); err != nil {
		t.Fatal(err)
	}
	eng.Now = func() time.Time { return now }

	rec := &recordingNotifier{}
	p := Purger{Ledger: eng, MaxAge: time.Hour, Notifiers: []Notifier{rec}, Now: eng.Now}
	rep, err := p.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Dropped) != 1 || rep.Dropped[0].EpisodeGUID != "ep-1" {
		t.Fatalf("dropped = %+v", rep.Dropped)
	}
	if len(rec.got) != 1 || rec.got[0].FormerHolder.Username != "alice" {
		t.Fatalf("notifications = %+v", rec.got)
	}
	held, err := eng.IsHeldBy(ctx, "ep-2", bob.ID)
	if err != nil || !held {
		t.Fatalf("young claim must survive: held=%v err=%v", held, err)
	}

	rep, err = p.Sweep(ctx)
	if err != nil || rep.Expired != 0 {
		t.Fatalf("second sweep: %+v %v", rep, err)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []webhookBody
		hdrs []http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, body)
		hdrs = append(hdrs, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer failing.Close()

	n := WebhookNotifier{Hooks: []config.Webhook{
		{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer hook"}},
		{URL: srv.URL, Events: []string{"topic.created"}},
	}}
	d := ClaimDropped{EpisodeGUID: "ep-1", Claim: domain.Claim{ID: "c1", UserID: "u1"}, FormerHolder: domain.User{ID: "u1"}}
	if err := n.Notify(context.Background(), d); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(got) != 1 || got[0].Type != "claim.dropped" || got[0].Data.Claim.ID != "c1" {
		t.Fatalf("deliveries = %+v", got)
	}
	if hdrs[0].Get("Authorization") != "Bearer hook" || hdrs[0].Get("X-Podnotes-Event") != "claim.dropped" {
		t.Fatalf("headers = %v", hdrs[0])
	}

	n.Hooks = append(n.Hooks, config.Webhook{URL: failing.URL})
	if err := n.Notify(context.Background(), d); err == nil {
		t.Fatalf("expected delivery error")
	}
}
