package server

import (
	"encoding/json"
	"html"

	"podnotes/internal/domain"
	"podnotes/internal/timecode"
)

// Request payloads

type CreateTopicRequest struct {
	Name      string   `json:"name" minLength:"1"`
	Start     string   `json:"start" doc:"HH:MM:SS" example:"00:07:10"`
	End       *string  `json:"end,omitempty" doc:"HH:MM:SS; filled from the next topic when omitted"`
	Ad        bool     `json:"ad,omitempty"`
	Community bool     `json:"community_contribution,omitempty"`
	Subtopics []string `json:"subtopics,omitempty"`
}

type UpdateTopicRequest struct {
	Name      *string `json:"name,omitempty"`
	Start     *string `json:"start,omitempty"`
	End       *string `json:"end,omitempty"`
	Ad        *bool   `json:"ad,omitempty"`
	Community *bool   `json:"community_contribution,omitempty"`
}

type SubtopicRequest struct {
	Name string `json:"name" minLength:"1"`
}

type VoteRequest struct {
	Direction int `json:"direction" doc:"1 up, -1 down, 0 withdraw"`
}

type FlagRequest struct {
	Reason string `json:"reason"`
}

type DevLoginRequest struct {
	Username string `json:"username"`
}

// Responses

type DevLoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type EpisodeResponse struct {
	GUID        string `json:"guid"`
	Number      *int   `json:"episode_number,omitempty"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	Type        string `json:"type,omitempty"`
	Duration    int    `json:"duration"`
	DurationHMS string `json:"duration_hms"`
	Explicit    bool   `json:"explicit"`
	PublishedAt string `json:"published_at,omitempty" format:"date-time"`
}

type EpisodeDetailResponse struct {
	EpisodeResponse
	Hosts      []string       `json:"hosts"`
	TopicCount int            `json:"topic_count"`
	Claim      *ClaimResponse `json:"claim,omitempty"`
	Votes      VotesResponse  `json:"votes"`
}

type ClaimResponse struct {
	ID          string `json:"id"`
	EpisodeGUID string `json:"episode_guid"`
	UserID      string `json:"user_id"`
	ClaimedAt   string `json:"claimed_at" format:"date-time"`
}

type ReleaseResponse struct {
	EpisodeGUID string `json:"episode_guid"`
	Released    bool   `json:"released"`
}

type VotesResponse struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

type SubtopicResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TopicResponse struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Name      string             `json:"name"`
	Start     int                `json:"start"`
	End       *int               `json:"end,omitempty"`
	StartHMS  string             `json:"start_hms"`
	EndHMS    string             `json:"end_hms,omitempty"`
	Ad        bool               `json:"ad"`
	Community bool               `json:"community_contribution"`
	Subtopics []SubtopicResponse `json:"subtopics"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	User   domain.User     `json:"user"`
	Source string          `json:"source"`
	Claims []ClaimResponse `json:"claims"`
}

// Conversion helpers

func episodeResponse(ep domain.Episode) EpisodeResponse {
	return EpisodeResponse{
		GUID:        ep.GUID,
		Number:      ep.Number,
		Title:       ep.Title,
		Subtitle:    ep.Subtitle,
		Description: ep.Description,
		Image:       ep.Image,
		MediaURL:    ep.MediaURL,
		Type:        ep.Type,
		Duration:    ep.Duration,
		DurationHMS: timecode.Format(ep.Duration),
		Explicit:    ep.Explicit,
		PublishedAt: ep.PublishedAt,
	}
}

func claimResponse(c domain.Claim) ClaimResponse {
	return ClaimResponse(c)
}

// Names are stored HTML-escaped; the API returns them as entered.
func topicResponse(t domain.Topic) TopicResponse {
	resp := TopicResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Name:      html.UnescapeString(t.Name),
		Start:     t.Start,
		End:       t.End,
		StartHMS:  timecode.Format(t.Start),
		Ad:        t.Ad,
		Community: t.Community,
		Subtopics: []SubtopicResponse{},
	}
	if t.End != nil {
		resp.EndHMS = timecode.Format(*t.End)
	}
	for _, st := range t.Subtopics {
		resp.Subtopics = append(resp.Subtopics, subtopicResponse(st))
	}
	return resp
}

func subtopicResponse(st domain.Subtopic) SubtopicResponse {
	return SubtopicResponse{ID: st.ID, Name: html.UnescapeString(st.Name)}
}

func mapTopics(items []domain.Topic) []TopicResponse {
	out := make([]TopicResponse, 0, len(items))
	for _, t := range items {
		out = append(out, topicResponse(t))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.PayloadJSON),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
