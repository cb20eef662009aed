package auth

import (
	"context"
	"encoding/gob"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"

	"chatforum/internal/db"
	"chatforum/internal/models"
)

const sessionKey = "session"

// Session is everything kept server-side for a logged in browser.
type Session struct {
	UserID   int64
	Username string
}

func init() {
	gob.Register(Session{})
}

type Options struct {
	CookieName string
	Lifetime   time.Duration
	Secure     bool
}

// Manager issues and resolves cookie sessions. Session data lives in the
// forum database; the cookie only carries the random token.
type Manager struct {
	sm *scs.SessionManager
}

func NewManager(store *db.Store, opts Options) *Manager {
	sm := scs.New()
	sm.Store = &sqlStore{store: store}
	if opts.Lifetime > 0 {
		sm.Lifetime = opts.Lifetime
	}
	if opts.CookieName != "" {
		sm.Cookie.Name = opts.CookieName
	}
	sm.Cookie.Path = "/"
	sm.Cookie.HttpOnly = true
	sm.Cookie.Secure = opts.Secure
	sm.Cookie.SameSite = http.SameSiteLaxMode
	return &Manager{sm: sm}
}

// LoadAndSave must wrap every handler that reads or writes the session.
func (m *Manager) LoadAndSave(next http.Handler) http.Handler {
	return m.sm.LoadAndSave(next)
}

// Create starts a session for u under a fresh token.
func (m *Manager) Create(ctx context.Context, u *models.User) error {
	if err := m.sm.RenewToken(ctx); err != nil {
		return err
	}
	m.sm.Put(ctx, sessionKey, Session{UserID: u.ID, Username: u.Username})
	return nil
}

func (m *Manager) Destroy(ctx context.Context) error {
	return m.sm.Destroy(ctx)
}

// Current returns the session attached to the request, if any.
func (m *Manager) Current(r *http.Request) (Session, bool) {
	s, ok := m.sm.Get(r.Context(), sessionKey).(Session)
	if !ok || s.UserID == 0 {
		return Session{}, false
	}
	return s, true
}

func (m *Manager) CurrentUserID(r *http.Request) (int64, bool) {
	s, ok := m.Current(r)
	return s.UserID, ok
}

// sqlStore persists scs sessions in the sessions table.
type sqlStore struct {
	store *db.Store
}

func (s *sqlStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *sqlStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *sqlStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

func (s *sqlStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	return s.store.FindSession(ctx, token)
}

func (s *sqlStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	return s.store.CommitSession(ctx, token, b, expiry)
}

func (s *sqlStore) DeleteCtx(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}
