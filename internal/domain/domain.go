package domain

type Episode struct {
	GUID        string `json:"guid"`
	Number      *int   `json:"episode_number,omitempty"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	Type        string `json:"type,omitempty"`
	Duration    int    `json:"duration" doc:"Duration in seconds"`
	Explicit    bool   `json:"explicit"`
	PublishedAt string `json:"published_at,omitempty" format:"date-time"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Claim grants its holder exclusive edit rights on one episode.
type Claim struct {
	ID          string `json:"id"`
	EpisodeGUID string `json:"episode_guid"`
	UserID      string `json:"user_id"`
	ClaimedAt   string `json:"claimed_at" format:"date-time"`
}

// Topic is a timestamped segment of an episode. End is exclusive and
// stays nil until the episode's topics are reconciled.
type Topic struct {
	ID          string     `json:"id"`
	EpisodeGUID string     `json:"episode_guid"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Start       int        `json:"start"`
	End         *int       `json:"end,omitempty"`
	Ad          bool       `json:"ad"`
	Community   bool       `json:"community_contribution"`
	Subtopics   []Subtopic `json:"subtopics,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
}

type Subtopic struct {
	ID        string `json:"id"`
	TopicID   string `json:"topic_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Host struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Vote struct {
	EpisodeGUID string `json:"episode_guid"`
	UserID      string `json:"user_id"`
	Positive    bool   `json:"positive"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Flag struct {
	ID          string `json:"id"`
	EpisodeGUID string `json:"episode_guid"`
	UserID      string `json:"user_id"`
	Reason      string `json:"reason"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	PayloadJSON string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// EpisodeGraph is an episode with everything the dataset format carries.
type EpisodeGraph struct {
	Episode Episode
	Hosts   []Host
	Topics  []Topic
	// Authors maps user id to username for topic attribution.
	Authors map[string]string
}
