package engine

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"

	"podnotes/internal/domain"
	"podnotes/internal/events"
)

// TopicInput describes a topic added through the API or CLI.
type TopicInput struct {
	EpisodeGUID string
	UserID      string
	Name        string
	Start       int
	End         *int
	Ad          bool
	Community   bool
	Subtopics   []string
}

// TopicPatch holds the topic fields to change; nil fields are kept.
type TopicPatch struct {
	Name      *string
	Start     *int
	End       *int
	Ad        *bool
	Community *bool
}

func validateTopic(name string, start int, end *int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidTopic)
	}
	if start < 0 {
		return fmt.Errorf("%w: start must not be negative", domain.ErrInvalidTopic)
	}
	if end != nil && *end <= start {
		return fmt.Errorf("%w: end must be after start", domain.ErrInvalidTopic)
	}
	return nil
}

// requireEditTx fails unless userID holds the episode's claim.
func (e Engine) requireEditTx(ctx context.Context, tx *sql.Tx, guid, userID string) error {
	if _, err := e.Repo.GetEpisodeTx(ctx, tx, guid); err != nil {
		return notFound(err, domain.ErrEpisodeNotFound)
	}
	state, err := e.claimStateTx(ctx, tx, guid, "")
	if err != nil {
		return err
	}
	return e.policy().CanEdit(userID, state).Err("edit")
}

func (e Engine) CreateTopic(ctx context.Context, in TopicInput) (domain.Topic, error) {
	if err := validateTopic(in.Name, in.Start, in.End); err != nil {
		return domain.Topic{}, err
	}
	tx, w, err := e.begin(ctx)
	if err != nil {
		return domain.Topic{}, err
	}
	defer tx.Rollback()
	if err := e.requireEditTx(ctx, tx, in.EpisodeGUID, in.UserID); err != nil {
		return domain.Topic{}, err
	}
	now := e.timestamp()
	t := domain.Topic{
		ID:          uuid.NewString(),
		EpisodeGUID: in.EpisodeGUID,
		UserID:      in.UserID,
		Name:        html.EscapeString(in.Name),
		Start:       in.Start,
		End:         in.End,
		Ad:          in.Ad,
		Community:   in.Community,
		CreatedAt:   now,
	}
	for _, name := range in.Subtopics {
		if strings.TrimSpace(name) == "" {
			continue
		}
		t.Subtopics = append(t.Subtopics, domain.Subtopic{
			ID:        uuid.NewString(),
			TopicID:   t.ID,
			UserID:    in.UserID,
			Name:      html.EscapeString(name),
			CreatedAt: now,
		})
	}
	if err := e.Repo.InsertTopicTx(ctx, tx, t); err != nil {
		return domain.Topic{}, fmt.Errorf("insert topic: %w", err)
	}
	if err := w.Append(ctx, tx, events.TopicCreated, "topic", t.ID, in.UserID, events.EventPayload{
		"episode_guid": t.EpisodeGUID,
		"start":        t.Start,
	}); err != nil {
		return domain.Topic{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Topic{}, err
	}
	return t, nil
}

func (e Engine) UpdateTopic(ctx context.Context, id, userID string, p TopicPatch) (domain.Topic, error) {
	tx, w, err := e.begin(ctx)
	if err != nil {
		return domain.Topic{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTopicTx(ctx, tx, id)
	if err != nil {
		return domain.Topic{}, notFound(err, domain.ErrNotFound)
	}
	if err := e.requireEditTx(ctx, tx, t.EpisodeGUID, userID); err != nil {
		return domain.Topic{}, err
	}
	name := html.UnescapeString(t.Name)
	if p.Name != nil {
		name = *p.Name
	}
	if p.Start != nil {
		t.Start = *p.Start
	}
	if p.End != nil {
		t.End = p.End
	}
	if p.Ad != nil {
		t.Ad = *p.Ad
	}
	if p.Community != nil {
		t.Community = *p.Community
	}
	if err := validateTopic(name, t.Start, t.End); err != nil {
		return domain.Topic{}, err
	}
	t.Name = html.EscapeString(name)
	if err := e.Repo.UpdateTopicTx(ctx, tx, t); err != nil {
		return domain.Topic{}, err
	}
	if err := w.Append(ctx, tx, events.TopicUpdated, "topic", t.ID, userID, events.EventPayload{"episode_guid": t.EpisodeGUID}); err != nil {
		return domain.Topic{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Topic{}, err
	}
	return t, nil
}

func (e Engine) DeleteTopic(ctx context.Context, id, userID string) error {
	tx, w, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTopicTx(ctx, tx, id)
	if err != nil {
		return notFound(err, domain.ErrNotFound)
	}
	if err := e.requireEditTx(ctx, tx, t.EpisodeGUID, userID); err != nil {
		return err
	}
	if err := e.Repo.DeleteTopicTx(ctx, tx, id); err != nil {
		return notFound(err, domain.ErrNotFound)
	}
	if err := w.Append(ctx, tx, events.TopicDeleted, "topic", id, userID, events.EventPayload{"episode_guid": t.EpisodeGUID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) AddSubtopic(ctx context.Context, topicID, userID, name string) (domain.Subtopic, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Subtopic{}, fmt.Errorf("%w: subtopic name is required", domain.ErrInvalidTopic)
	}
	tx, w, err := e.begin(ctx)
	if err != nil {
		return domain.Subtopic{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTopicTx(ctx, tx, topicID)
	if err != nil {
		return domain.Subtopic{}, notFound(err, domain.ErrNotFound)
	}
	if err := e.requireEditTx(ctx, tx, t.EpisodeGUID, userID); err != nil {
		return domain.Subtopic{}, err
	}
	st := domain.Subtopic{
		ID:        uuid.NewString(),
		TopicID:   topicID,
		UserID:    userID,
		Name:      html.EscapeString(name),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertSubtopicTx(ctx, tx, st); err != nil {
		return domain.Subtopic{}, err
	}
	if err := w.Append(ctx, tx, events.SubtopicCreated, "subtopic", st.ID, userID, events.EventPayload{"topic_id": topicID}); err != nil {
		return domain.Subtopic{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subtopic{}, err
	}
	return st, nil
}

func (e Engine) DeleteSubtopic(ctx context.Context, id, userID string) error {
	tx, w, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	st, err := e.Repo.GetSubtopicTx(ctx, tx, id)
	if err != nil {
		return notFound(err, domain.ErrNotFound)
	}
	t, err := e.Repo.GetTopicTx(ctx, tx, st.TopicID)
	if err != nil {
		return notFound(err, domain.ErrNotFound)
	}
	if err := e.requireEditTx(ctx, tx, t.EpisodeGUID, userID); err != nil {
		return err
	}
	if err := e.Repo.DeleteSubtopicTx(ctx, tx, id); err != nil {
		return notFound(err, domain.ErrNotFound)
	}
	if err := w.Append(ctx, tx, events.SubtopicDeleted, "subtopic", id, userID, events.EventPayload{"topic_id": st.TopicID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListTopics(ctx context.Context, guid string) ([]domain.Topic, error) {
	if _, err := e.GetEpisode(ctx, guid); err != nil {
		return nil, err
	}
	return e.Repo.ListTopics(ctx, guid)
}
