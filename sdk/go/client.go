package podnotessdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal podnotes HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Episode struct {
	GUID        string `json:"guid"`
	Number      *int   `json:"episode_number,omitempty"`
	Title       string `json:"title"`
	Duration    int    `json:"duration"`
	DurationHMS string `json:"duration_hms"`
	Claim       *Claim `json:"claim,omitempty"`
}

type Claim struct {
	ID          string `json:"id"`
	EpisodeGUID string `json:"episode_guid"`
	UserID      string `json:"user_id"`
	ClaimedAt   string `json:"claimed_at"`
}

type Subtopic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Topic struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	Start     int        `json:"start"`
	End       *int       `json:"end,omitempty"`
	StartHMS  string     `json:"start_hms"`
	EndHMS    string     `json:"end_hms,omitempty"`
	Ad        bool       `json:"ad"`
	Community bool       `json:"community_contribution"`
	Subtopics []Subtopic `json:"subtopics"`
}

// NewTopic is the payload for CreateTopic; Start and End are HH:MM:SS.
type NewTopic struct {
	Name      string   `json:"name"`
	Start     string   `json:"start"`
	End       string   `json:"end,omitempty"`
	Ad        bool     `json:"ad,omitempty"`
	Community bool     `json:"community_contribution,omitempty"`
	Subtopics []string `json:"subtopics,omitempty"`
}

type Votes struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code,
// e.g. ALREADY_CLAIMED.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the API error code carried by err, or "".
func ErrorCode(err error) string {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Login mints a token through the development login endpoint and uses it
// for subsequent calls.
func (c *Client) Login(ctx context.Context, username string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]string{"username": username}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

func (c *Client) Episode(ctx context.Context, guid string) (Episode, error) {
	var resp Episode
	err := c.do(ctx, http.MethodGet, episodePath(guid, ""), nil, &resp)
	return resp, err
}

// Claim acquires the edit claim on an episode.
func (c *Client) Claim(ctx context.Context, guid string) (Claim, error) {
	var resp Claim
	err := c.do(ctx, http.MethodPost, episodePath(guid, "claim"), nil, &resp)
	return resp, err
}

// Release gives up the caller's claim on an episode.
func (c *Client) Release(ctx context.Context, guid string) error {
	return c.do(ctx, http.MethodDelete, episodePath(guid, "claim"), nil, nil)
}

func (c *Client) Topics(ctx context.Context, guid string) ([]Topic, error) {
	var resp []Topic
	err := c.do(ctx, http.MethodGet, episodePath(guid, "topics"), nil, &resp)
	return resp, err
}

func (c *Client) CreateTopic(ctx context.Context, guid string, t NewTopic) (Topic, error) {
	var resp Topic
	err := c.do(ctx, http.MethodPost, episodePath(guid, "topics"), t, &resp)
	return resp, err
}

// Vote casts 1 or -1 on an episode; 0 withdraws the vote.
func (c *Client) Vote(ctx context.Context, guid string, direction int) (Votes, error) {
	var resp Votes
	err := c.do(ctx, http.MethodPost, episodePath(guid, "vote"), map[string]int{"direction": direction}, &resp)
	return resp, err
}

// EventsPage returns events after cursor.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func episodePath(guid, sub string) string {
	p := "episodes/" + url.PathEscape(guid)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
