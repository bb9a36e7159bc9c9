package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"podnotes/internal/config"
	"podnotes/internal/db"
	"podnotes/internal/domain"
	"podnotes/internal/engine"
	"podnotes/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	for _, name := range []string{"alice", "bob"} {
		if _, err := e.CreateUser(ctx, domain.User{Username: name}, "tester"); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	one, two := 1, 2
	if _, err := e.ImportEpisodes(ctx, []domain.Episode{
		{GUID: "ep-1", Number: &one, Title: "One", Duration: 3600},
		{GUID: "ep-2", Number: &two, Title: "Two", Duration: 1800},
	}, "tester"); err != nil {
		t.Fatalf("seed episodes: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret, DevLogin: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, username string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"username": username}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestClaimLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")
	claimURL := srv.URL + "/v1/episodes/ep-1/claim"

	res, data := doJSON(t, client, http.MethodPost, claimURL, nil, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("claim: %d %s", res.StatusCode, string(data))
	}
	var claim ClaimResponse
	if err := json.Unmarshal(data, &claim); err != nil {
		t.Fatalf("unmarshal claim: %v", err)
	}
	if claim.EpisodeGUID != "ep-1" || claim.ClaimedAt != "2024-02-01T09:00:00Z" {
		t.Fatalf("unexpected claim %+v", claim)
	}

	res, data = doJSON(t, client, http.MethodPost, claimURL, nil, bob)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "ALREADY_CLAIMED" {
		t.Fatalf("expected 409 ALREADY_CLAIMED, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/episodes/ep-2/claim", nil, alice)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "USER_HOLDS_CLAIM" {
		t.Fatalf("expected 403 USER_HOLDS_CLAIM, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, claimURL, nil, bob)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "CLAIMED_BY_SOMEONE_ELSE" {
		t.Fatalf("expected 403 CLAIMED_BY_SOMEONE_ELSE, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, claimURL, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("release: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, claimURL, nil, alice)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "NOT_YET_CLAIMED" {
		t.Fatalf("expected 409 NOT_YET_CLAIMED, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/episodes/missing/claim", nil, alice)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/episodes/ep-1/claim", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/episodes", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}

	u, err := srv.Engine.UserByUsername(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	_, secret, err := srv.Engine.CreateAPIKey(context.Background(), u.ID, "ci")
	if err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": secret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me with api key: %d %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatal(err)
	}
	if me.User.Username != "bob" || me.Source != "api_key" {
		t.Fatalf("unexpected me %+v", me)
	}
}

func TestTopicsRequireClaim(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")
	topicsURL := srv.URL + "/v1/episodes/ep-1/topics"
	body := map[string]any{"name": "Intro & news", "start": "00:00:00", "subtopics": []string{"weather"}}

	res, data := doJSON(t, client, http.MethodPost, topicsURL, body, alice)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "MUST_CLAIM_FIRST" {
		t.Fatalf("expected 403 MUST_CLAIM_FIRST, got %d %s", res.StatusCode, string(data))
	}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/episodes/ep-1/claim", nil, alice); res.StatusCode != http.StatusCreated {
		t.Fatalf("claim: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, topicsURL, body, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create topic: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, topicsURL, map[string]any{"name": "Main", "start": "10:xx"}, alice)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "MALFORMED_TIMECODE" {
		t.Fatalf("expected 400 MALFORMED_TIMECODE, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, topicsURL, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list topics: %d %s", res.StatusCode, string(data))
	}
	var topics []TopicResponse
	if err := json.Unmarshal(data, &topics); err != nil {
		t.Fatal(err)
	}
	if len(topics) != 1 || topics[0].Name != "Intro & news" || topics[0].StartHMS != "00:00:00" || len(topics[0].Subtopics) != 1 {
		t.Fatalf("unexpected topics %+v", topics)
	}
}

func TestVotesAndFlags(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")
	bob := login(t, srv, "bob")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/episodes/ep-1/vote", map[string]any{"direction": 1}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("vote: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/episodes/ep-1/vote", map[string]any{"direction": 5}, alice)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "INVALID_DIRECTION" {
		t.Fatalf("expected 400 INVALID_DIRECTION, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/episodes/ep-1/flags", map[string]any{"reason": "topics overlap"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("flag: %d %s", res.StatusCode, string(data))
	}
	var flag domain.Flag
	if err := json.Unmarshal(data, &flag); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/flags/"+flag.ID, nil, bob)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "NOT_OWNER" {
		t.Fatalf("expected 403 NOT_OWNER, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/flags/"+flag.ID, nil, alice)
	if res.StatusCode >= 300 {
		t.Fatalf("owner delete: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/episodes/ep-1", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get episode: %d %s", res.StatusCode, string(data))
	}
	var ep EpisodeDetailResponse
	if err := json.Unmarshal(data, &ep); err != nil {
		t.Fatal(err)
	}
	if ep.Votes.Up != 1 || ep.Claim != nil || ep.DurationHMS != "01:00:00" {
		t.Fatalf("unexpected episode %+v", ep)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=vote.cast,flag.created", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var evts paginatedEvents
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatal(err)
	}
	if len(evts.Items) != 2 {
		t.Fatalf("expected 2 events, got %+v", evts.Items)
	}
}

func TestHosts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	tx, err := srv.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, name := range []string{"Zoe", "Adam"} {
		h, err := srv.Engine.Repo.GetOrCreateHostTx(ctx, tx, name)
		if err != nil {
			t.Fatalf("create host: %v", err)
		}
		ids = append(ids, h.ID)
	}
	if err := srv.Engine.Repo.ReplaceEpisodeHostsTx(ctx, tx, "ep-1", ids[:1]); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	alice := login(t, srv, "alice")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/hosts", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list hosts: %d %s", res.StatusCode, string(data))
	}
	var all []domain.Host
	if err := json.Unmarshal(data, &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "Adam" || all[1].Name != "Zoe" {
		t.Fatalf("unexpected hosts %+v", all)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/episodes/ep-1/hosts", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("episode hosts: %d %s", res.StatusCode, string(data))
	}
	var epHosts []domain.Host
	if err := json.Unmarshal(data, &epHosts); err != nil {
		t.Fatal(err)
	}
	if len(epHosts) != 1 || epHosts[0].Name != "Zoe" {
		t.Fatalf("unexpected episode hosts %+v", epHosts)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/episodes/ep-2/hosts", nil, alice)
	if res.StatusCode != http.StatusOK || strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected empty host list, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/episodes/nope/hosts", nil, alice)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "EPISODE_NOT_FOUND" {
		t.Fatalf("expected 404 EPISODE_NOT_FOUND, got %d %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIConcurrentRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	var wg sync.WaitGroup
	bodies := make([][]byte, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i, b := range bodies {
		if !bytes.Contains(b, []byte(`"openapi"`)) || !bytes.Equal(b, bodies[0]) {
			t.Fatalf("response %d differs or is not an OpenAPI document: %.80s", i, string(b))
		}
	}
}

func TestFaultsLogToOwnHandlerLogger(t *testing.T) {
	var first, second bytes.Buffer
	a := routes{logger: slog.New(slog.NewTextHandler(&first, nil))}
	b := routes{logger: slog.New(slog.NewTextHandler(&second, nil))}

	if se := a.handleError(errors.New("disk full")); se.GetStatus() != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", se.GetStatus())
	}
	b.handleError(errors.New("socket closed"))

	if !strings.Contains(first.String(), "disk full") || strings.Contains(first.String(), "socket closed") {
		t.Fatalf("first logger = %q", first.String())
	}
	if !strings.Contains(second.String(), "socket closed") || strings.Contains(second.String(), "disk full") {
		t.Fatalf("second logger = %q", second.String())
	}
	if se := a.handleError(domain.ErrAlreadyClaimed); se.GetStatus() != http.StatusConflict {
		t.Fatalf("expected 409, got %d", se.GetStatus())
	}
}
