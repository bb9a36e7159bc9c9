package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"podnotes/internal/config"
	"podnotes/internal/domain"
)

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	cfgYAML := `claims:
  max_age_seconds: 60
notifications:
  webhooks:
    - url: http://127.0.0.1:1/hook
      events: [claim.dropped]
log:
  level: debug
  format: json
`
	if err := os.WriteFile(config.Path(ws), []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	env, err := Open(context.Background(), Options{Workspace: ws, LogOutput: &logs})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer env.Close()

	if env.Config.MaxAge() != time.Minute {
		t.Fatalf("max age = %v", env.Config.MaxAge())
	}
	if _, err := os.Stat(filepath.Join(ws, ".podnotes", "podnotes.db")); err != nil {
		t.Fatalf("database not created: %v", err)
	}
	p := env.Purger()
	if p.MaxAge != time.Minute || len(p.Notifiers) != 2 {
		t.Fatalf("purger = %+v", p)
	}
	env.Logger.Debug("probe")
	if !bytes.Contains(logs.Bytes(), []byte(`"msg":"probe"`)) {
		t.Fatalf("expected json debug log, got %q", logs.String())
	}
}

func TestOpenDefaultsAndUser(t *testing.T) {
	ctx := context.Background()
	env, err := Open(ctx, Options{Workspace: t.TempDir(), LogLevel: "warn"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer env.Close()
	if len(env.Purger().Notifiers) != 1 {
		t.Fatalf("expected only the log notifier")
	}
	if _, err := env.User(ctx, ""); err == nil {
		t.Fatalf("expected error for empty username")
	}
	if _, err := env.Engine.CreateUser(ctx, domain.User{Username: "carol"}, "tester"); err != nil {
		t.Fatal(err)
	}
	u, err := env.User(ctx, " carol ")
	if err != nil || u.Username != "carol" {
		t.Fatalf("user: %+v %v", u, err)
	}
}
