package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"chatforum/internal/models"
)

// Store holds every query the forum runs. Queries are written with ? and
// rebound for the connected driver.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func now() time.Time {
	return time.Now().UTC()
}

// insertID runs an INSERT ... RETURNING id statement.
func insertID(ctx context.Context, ext sqlx.QueryerContext, query string, args ...any) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, ext, &id, query, args...)
	return id, err
}

// -------- users

const userColumns = `id, username, display_name, password_hash, profile_picture, created_at`

// CreateUser inserts a user. The username check is exact and case-sensitive.
func (s *Store) CreateUser(ctx context.Context, username, displayName, passwordHash string) (*models.User, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, s.q(`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`), username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, ErrUsernameTaken
	}

	u := &models.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    now(),
	}
	u.ID, err = insertID(ctx, s.db, s.q(`INSERT INTO users(username, display_name, password_hash, created_at)
		VALUES(?,?,?,?) RETURNING id`), u.Username, u.DisplayName, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET password_hash = ? WHERE id = ?`), passwordHash, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// -------- sessions

// FindSession returns the encoded session for token when it has not expired.
func (s *Store) FindSession(ctx context.Context, token string) ([]byte, bool, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, s.q(`SELECT data FROM sessions WHERE token = ? AND expiry > ?`), token, now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) CommitSession(ctx context.Context, token string, data []byte, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO sessions(token, data, expiry) VALUES(?,?,?)
		ON CONFLICT(token) DO UPDATE SET data = excluded.data, expiry = excluded.expiry`), token, data, expiry.UTC())
	return err
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE token = ?`), token)
	return err
}

// DeleteExpiredSessions removes expired rows and reports how many were dropped.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE expiry <= ?`), now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
