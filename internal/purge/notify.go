package purge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"podnotes/internal/config"
	"podnotes/internal/events"
)

const defaultWebhookTimeout = 5 * time.Second

// LogNotifier writes dropped claims to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, d ClaimDropped) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "claim dropped",
		"episode", d.EpisodeGUID,
		"user", d.FormerHolder.ID,
		"username", d.FormerHolder.Username,
		"claimed_at", d.Claim.ClaimedAt)
	return nil
}

// WebhookNotifier posts each dropped claim as JSON to the configured hooks
// that subscribe to claim.dropped.
type WebhookNotifier struct {
	Hooks  []config.Webhook
	Client *http.Client
}

type webhookBody struct {
	Type string       `json:"type"`
	Data ClaimDropped `json:"data"`
}

func (n WebhookNotifier) Notify(ctx context.Context, d ClaimDropped) error {
	data, err := json.Marshal(webhookBody{Type: events.ClaimDropped, Data: d})
	if err != nil {
		return err
	}
	var failed []string
	for _, hook := range n.Hooks {
		if strings.TrimSpace(hook.URL) == "" || !newEventFilter(hook.Events).match(events.ClaimDropped) {
			continue
		}
		if err := n.post(ctx, hook, data); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", hook.URL, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("webhook delivery failed: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (n WebhookNotifier) post(ctx context.Context, hook config.Webhook, data []byte) error {
	timeout := defaultWebhookTimeout
	if hook.Timeout.Duration > 0 {
		timeout = hook.Timeout.Duration
	}
	client := n.Client
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Podnotes-Event", events.ClaimDropped)
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if key := strings.TrimSpace(t); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
