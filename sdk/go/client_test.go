package podnotessdk

import (
	"context"
	"net/http/httptest"
	"testing"

	"podnotes/internal/config"
	"podnotes/internal/db"
	"podnotes/internal/domain"
	"podnotes/internal/engine"
	"podnotes/internal/migrate"
	"podnotes/internal/server"
)

func newAPI(t *testing.T) string {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		if _, err := e.CreateUser(ctx, domain.User{Username: name}, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	n := 7
	if _, err := e.ImportEpisodes(ctx, []domain.Episode{{GUID: "ep-7", Number: &n, Title: "Seven", Duration: 1200}}, "tester"); err != nil {
		t.Fatal(err)
	}
	h, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret", DevLogin: true}})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestClientClaimFlow(t *testing.T) {
	base := newAPI(t)
	ctx := context.Background()
	alice := New(base)
	bob := New(base)
	if err := alice.Login(ctx, "alice"); err != nil {
		t.Fatalf("login alice: %v", err)
	}
	if err := bob.Login(ctx, "bob"); err != nil {
		t.Fatalf("login bob: %v", err)
	}

	c, err := alice.Claim(ctx, "ep-7")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if c.EpisodeGUID != "ep-7" {
		t.Fatalf("unexpected claim %+v", c)
	}
	if _, err := bob.Claim(ctx, "ep-7"); ErrorCode(err) != "ALREADY_CLAIMED" {
		t.Fatalf("expected ALREADY_CLAIMED, got %v", err)
	}

	topic, err := alice.CreateTopic(ctx, "ep-7", NewTopic{Name: "Opening", Start: "00:00:30", End: "00:05:00"})
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if topic.Start != 30 || topic.EndHMS != "00:05:00" {
		t.Fatalf("unexpected topic %+v", topic)
	}
	topics, err := bob.Topics(ctx, "ep-7")
	if err != nil || len(topics) != 1 {
		t.Fatalf("topics: %+v %v", topics, err)
	}

	if err := bob.Release(ctx, "ep-7"); ErrorCode(err) != "CLAIMED_BY_SOMEONE_ELSE" {
		t.Fatalf("expected CLAIMED_BY_SOMEONE_ELSE, got %v", err)
	}
	if err := alice.Release(ctx, "ep-7"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ep, err := bob.Episode(ctx, "ep-7")
	if err != nil || ep.Claim != nil || ep.DurationHMS != "00:20:00" {
		t.Fatalf("episode: %+v %v", ep, err)
	}

	page, err := bob.EventsPage(ctx, 2, "")
	if err != nil || len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("events page: %+v %v", page, err)
	}
}
