package repo

import (
	"context"
	"database/sql"

	"podnotes/internal/domain"
)

// InsertTopicTx stores t and its subtopics.
func (r Repo) InsertTopicTx(ctx context.Context, tx *sql.Tx, t domain.Topic) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO topics(id,episode_guid,user_id,name,start_s,end_s,ad,community,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.EpisodeGUID, t.UserID, t.Name, t.Start, nullableIntPtr(t.End), boolInt(t.Ad), boolInt(t.Community), t.CreatedAt)
	if err != nil {
		return err
	}
	for _, st := range t.Subtopics {
		st.TopicID = t.ID
		if err := r.InsertSubtopicTx(ctx, tx, st); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdateTopicTx(ctx context.Context, tx *sql.Tx, t domain.Topic) error {
	res, err := tx.ExecContext(ctx, `UPDATE topics SET name=?,start_s=?,end_s=?,ad=?,community=? WHERE id=?`,
		t.Name, t.Start, nullableIntPtr(t.End), boolInt(t.Ad), boolInt(t.Community), t.ID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r Repo) DeleteTopicTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r Repo) CountTopicsTx(ctx context.Context, tx *sql.Tx, guid string) (int, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `SELECT count(*) FROM topics WHERE episode_guid=?`, guid).Scan(&n)
	return n, err
}

func (r Repo) GetTopicTx(ctx context.Context, tx *sql.Tx, id string) (domain.Topic, error) {
	var t domain.Topic
	var end sql.NullInt64
	var ad, community int
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,episode_guid,user_id,name,start_s,end_s,ad,community,created_at FROM topics WHERE id=?`, id).
		Scan(&t.ID, &t.EpisodeGUID, &t.UserID, &t.Name, &t.Start, &end, &ad, &community, &t.CreatedAt)
	if err != nil {
		return domain.Topic{}, noRows(err)
	}
	t.End = intPtr(end)
	t.Ad = ad != 0
	t.Community = community != 0
	subs, err := r.listSubtopics(ctx, r.on(tx), []string{t.ID})
	if err != nil {
		return domain.Topic{}, err
	}
	t.Subtopics = subs[t.ID]
	return t, nil
}

// ListTopics returns the episode's topics ordered by start, then insertion,
// with subtopics in insertion order.
func (r Repo) ListTopics(ctx context.Context, guid string) ([]domain.Topic, error) {
	return r.ListTopicsTx(ctx, nil, guid)
}

func (r Repo) ListTopicsTx(ctx context.Context, tx *sql.Tx, guid string) ([]domain.Topic, error) {
	q := r.on(tx)
	rows, err := q.QueryContext(ctx, `SELECT id,episode_guid,user_id,name,start_s,end_s,ad,community,created_at FROM topics WHERE episode_guid=? ORDER BY start_s, rowid`, guid)
	if err != nil {
		return nil, err
	}
	var res []domain.Topic
	var ids []string
	for rows.Next() {
		var t domain.Topic
		var end sql.NullInt64
		var ad, community int
		if err := rows.Scan(&t.ID, &t.EpisodeGUID, &t.UserID, &t.Name, &t.Start, &end, &ad, &community, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		t.End = intPtr(end)
		t.Ad = ad != 0
		t.Community = community != 0
		res = append(res, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	subs, err := r.listSubtopics(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Subtopics = subs[res[i].ID]
	}
	return res, nil
}

func (r Repo) listSubtopics(ctx context.Context, q queryer, topicIDs []string) (map[string][]domain.Subtopic, error) {
	out := map[string][]domain.Subtopic{}
	for _, id := range topicIDs {
		rows, err := q.QueryContext(ctx, `SELECT id,topic_id,user_id,name,created_at FROM subtopics WHERE topic_id=? ORDER BY rowid`, id)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var st domain.Subtopic
			if err := rows.Scan(&st.ID, &st.TopicID, &st.UserID, &st.Name, &st.CreatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = append(out[id], st)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r Repo) InsertSubtopicTx(ctx context.Context, tx *sql.Tx, st domain.Subtopic) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO subtopics(id,topic_id,user_id,name,created_at) VALUES (?,?,?,?,?)`,
		st.ID, st.TopicID, st.UserID, st.Name, st.CreatedAt)
	return err
}

func (r Repo) GetSubtopicTx(ctx context.Context, tx *sql.Tx, id string) (domain.Subtopic, error) {
	var st domain.Subtopic
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,topic_id,user_id,name,created_at FROM subtopics WHERE id=?`, id).
		Scan(&st.ID, &st.TopicID, &st.UserID, &st.Name, &st.CreatedAt)
	return st, noRows(err)
}

func (r Repo) DeleteSubtopicTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM subtopics WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// TopicAuthors maps user id to username for every author of the episode's topics.
func (r Repo) TopicAuthors(ctx context.Context, guid string) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT u.id,u.username FROM users u JOIN topics t ON t.user_id=u.id WHERE t.episode_guid=?`, guid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
