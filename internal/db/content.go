package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chatforum/internal/models"
)

// -------- topics

const topicSelect = `SELECT t.id, t.title, t.creator_id, t.created_at, u.username AS creator_username
	FROM topics t JOIN users u ON u.id = t.creator_id`

// CreateTopic inserts a topic and, when firstPost is not empty, its opening
// post in the same transaction.
func (s *Store) CreateTopic(ctx context.Context, creatorID int64, title, firstPost string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ts := now()
	id, err := insertID(ctx, tx, tx.Rebind(`INSERT INTO topics(title, creator_id, created_at) VALUES(?,?,?) RETURNING id`),
		title, creatorID, ts)
	if err != nil {
		return 0, fmt.Errorf("insert topic: %w", err)
	}
	if firstPost != "" {
		_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO posts(content, author_id, topic_id, created_at) VALUES(?,?,?,?)`),
			firstPost, creatorID, id, ts)
		if err != nil {
			return 0, fmt.Errorf("insert first post: %w", err)
		}
	}
	return id, tx.Commit()
}

func (s *Store) Topic(ctx context.Context, id int64) (*models.Topic, error) {
	var t models.Topic
	err := s.db.GetContext(ctx, &t, s.q(topicSelect+` WHERE t.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTopics returns every topic, newest first.
func (s *Store) ListTopics(ctx context.Context) ([]models.Topic, error) {
	topics := []models.Topic{}
	err := s.db.SelectContext(ctx, &topics, topicSelect+` ORDER BY t.created_at DESC, t.id DESC`)
	return topics, err
}

// TopicsAfter returns topics with id greater than lastID in creation order.
func (s *Store) TopicsAfter(ctx context.Context, lastID int64) ([]models.Topic, error) {
	topics := []models.Topic{}
	err := s.db.SelectContext(ctx, &topics, s.q(topicSelect+` WHERE t.id > ? ORDER BY t.created_at, t.id`), lastID)
	return topics, err
}

// -------- posts

const postSelect = `SELECT p.id, p.content, p.author_id, p.topic_id, p.created_at, p.like_count, u.username AS author_username
	FROM posts p JOIN users u ON u.id = p.author_id`

// CreatePost inserts a reply. An unknown topic yields ErrNotFound.
func (s *Store) CreatePost(ctx context.Context, authorID, topicID int64, content string) (int64, error) {
	id, err := insertID(ctx, s.db, s.q(`INSERT INTO posts(content, author_id, topic_id, created_at) VALUES(?,?,?,?) RETURNING id`),
		content, authorID, topicID, now())
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("insert post: %w", err)
	}
	return id, nil
}

func (s *Store) Post(ctx context.Context, id int64) (*models.Post, error) {
	var p models.Post
	err := s.db.GetContext(ctx, &p, s.q(postSelect+` WHERE p.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) PostsByTopic(ctx context.Context, topicID int64) ([]models.Post, error) {
	return s.PostsAfter(ctx, topicID, 0)
}

// PostsAfter returns the topic's posts with id greater than lastID in creation order.
func (s *Store) PostsAfter(ctx context.Context, topicID, lastID int64) ([]models.Post, error) {
	posts := []models.Post{}
	err := s.db.SelectContext(ctx, &posts, s.q(postSelect+` WHERE p.topic_id = ? AND p.id > ? ORDER BY p.created_at, p.id`),
		topicID, lastID)
	return posts, err
}

// LikeCounts maps every post of the topic to its like counter.
func (s *Store) LikeCounts(ctx context.Context, topicID int64) (map[int64]int, error) {
	rows, err := s.db.QueryxContext(ctx, s.q(`SELECT id, like_count FROM posts WHERE topic_id = ?`), topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[int64]int{}
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// -------- likes

// ToggleLike removes the user's like on the post if there is one, otherwise
// adds it. The counter moves in the same transaction as the like row and only
// when the row actually changed, so concurrent toggles cannot drift it.
func (s *Store) ToggleLike(ctx context.Context, userID, postID int64) (liked bool, count int, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM likes WHERE user_id = ? AND post_id = ?`), userID, postID)
	if err != nil {
		return false, 0, fmt.Errorf("delete like: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}

	delta := -1
	if removed == 0 {
		res, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO likes(user_id, post_id, created_at) VALUES(?,?,?)
			ON CONFLICT(user_id, post_id) DO NOTHING`), userID, postID, now())
		if err != nil {
			if isForeignKeyViolation(err) {
				return false, 0, ErrNotFound
			}
			return false, 0, fmt.Errorf("insert like: %w", err)
		}
		var added int64
		added, err = res.RowsAffected()
		if err != nil {
			return false, 0, err
		}
		if added == 0 {
			delta = 0
		} else {
			delta = 1
		}
	}

	if delta != 0 {
		res, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE posts SET like_count = like_count + ? WHERE id = ?`), delta, postID)
		if err != nil {
			return false, 0, fmt.Errorf("update like count: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, 0, ErrNotFound
		}
	}

	err = tx.GetContext(ctx, &count, tx.Rebind(`SELECT like_count FROM posts WHERE id = ?`), postID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, ErrNotFound
	}
	if err != nil {
		return false, 0, err
	}
	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return delta >= 0, count, nil
}

// LikedPosts reports which posts of the topic the user currently likes.
func (s *Store) LikedPosts(ctx context.Context, userID, topicID int64) (map[int64]bool, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, s.q(`SELECT l.post_id FROM likes l JOIN posts p ON p.id = l.post_id
		WHERE l.user_id = ? AND p.topic_id = ?`), userID, topicID)
	if err != nil {
		return nil, err
	}
	liked := make(map[int64]bool, len(ids))
	for _, id := range ids {
		liked[id] = true
	}
	return liked, nil
}

// ReconcileLikeCounts rewrites counters that disagree with the likes table
// and returns how many posts were corrected.
func (s *Store) ReconcileLikeCounts(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET like_count = (SELECT COUNT(*) FROM likes WHERE likes.post_id = posts.id)
		WHERE like_count <> (SELECT COUNT(*) FROM likes WHERE likes.post_id = posts.id)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// -------- chat

const messageSelect = `SELECT m.id, m.content, m.author_id, m.created_at, u.username AS author_username
	FROM chat_messages m JOIN users u ON u.id = m.author_id`

func (s *Store) CreateMessage(ctx context.Context, authorID int64, content string) (int64, error) {
	id, err := insertID(ctx, s.db, s.q(`INSERT INTO chat_messages(content, author_id, created_at) VALUES(?,?,?) RETURNING id`),
		content, authorID, now())
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (s *Store) Messages(ctx context.Context) ([]models.ChatMessage, error) {
	return s.MessagesAfter(ctx, 0)
}

// MessagesAfter returns chat messages with id greater than lastID in creation order.
func (s *Store) MessagesAfter(ctx context.Context, lastID int64) ([]models.ChatMessage, error) {
	msgs := []models.ChatMessage{}
	err := s.db.SelectContext(ctx, &msgs, s.q(messageSelect+` WHERE m.id > ? ORDER BY m.created_at, m.id`), lastID)
	return msgs, err
}
