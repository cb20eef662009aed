package models

import "time"

// TimestampLayout is the fixed format used for timestamps in sync payloads.
const TimestampLayout = "2006-01-02 15:04:05"

type User struct {
	ID             int64     `db:"id"`
	Username       string    `db:"username"`
	DisplayName    string    `db:"display_name"`
	PasswordHash   string    `db:"password_hash"`
	ProfilePicture *string   `db:"profile_picture"`
	CreatedAt      time.Time `db:"created_at"`
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

type Topic struct {
	ID        int64     `db:"id"`
	Title     string    `db:"title"`
	CreatorID int64     `db:"creator_id"`
	CreatedAt time.Time `db:"created_at"`
	Creator   string    `db:"creator_username"`
}

type Post struct {
	ID        int64     `db:"id"`
	Content   string    `db:"content"`
	AuthorID  int64     `db:"author_id"`
	TopicID   int64     `db:"topic_id"`
	CreatedAt time.Time `db:"created_at"`
	Likes     int       `db:"like_count"`
	Author    string    `db:"author_username"`
}

type Like struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	PostID    int64     `db:"post_id"`
	CreatedAt time.Time `db:"created_at"`
}

type ChatMessage struct {
	ID        int64     `db:"id"`
	Content   string    `db:"content"`
	AuthorID  int64     `db:"author_id"`
	CreatedAt time.Time `db:"created_at"`
	Author    string    `db:"author_username"`
}

// Sync records are the flat shapes returned by the polling endpoints.

type MessageRecord struct {
	ID             int64  `json:"id"`
	AuthorUsername string `json:"author_username"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

type TopicRecord struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	CreatorUsername string `json:"creator_username"`
	Timestamp       string `json:"timestamp"`
}

type PostRecord struct {
	ID             int64  `json:"id"`
	Content        string `json:"content"`
	AuthorUsername string `json:"author_username"`
	Timestamp      string `json:"timestamp"`
	Likes          int    `json:"likes"`
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func (m ChatMessage) Record() MessageRecord {
	return MessageRecord{ID: m.ID, AuthorUsername: m.Author, Content: m.Content, Timestamp: FormatTimestamp(m.CreatedAt)}
}

func (t Topic) Record() TopicRecord {
	return TopicRecord{ID: t.ID, Title: t.Title, CreatorUsername: t.Creator, Timestamp: FormatTimestamp(t.CreatedAt)}
}

func (p Post) Record() PostRecord {
	return PostRecord{ID: p.ID, Content: p.Content, AuthorUsername: p.Author, Timestamp: FormatTimestamp(p.CreatedAt), Likes: p.Likes}
}
