package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"chatforum/internal/db"
	"chatforum/internal/models"
)

// ErrInvalidCredentials is returned for an unknown username and for a wrong
// password alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

type Credentials struct {
	store *db.Store
	cost  int
}

func NewCredentials(store *db.Store, cost int) *Credentials {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Credentials{store: store, cost: cost}
}

// Register stores a new user. A taken username yields db.ErrUsernameTaken.
func (c *Credentials) Register(ctx context.Context, username, password, displayName string) (*models.User, error) {
	hash, err := HashPassword(password, c.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return c.store.CreateUser(ctx, username, displayName, hash)
}

func (c *Credentials) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	u, err := c.store.UserByUsername(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (c *Credentials) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	u, err := c.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(current, u.PasswordHash) {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next, c.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return c.store.UpdatePassword(ctx, userID, hash)
}

type SeedUser struct {
	Username string
	Password string
	Name     string
}

// SeedUsers creates the configured accounts that do not exist yet and
// returns how many were added.
func (c *Credentials) SeedUsers(ctx context.Context, users []SeedUser) (int, error) {
	created := 0
	for _, su := range users {
		_, err := c.Register(ctx, su.Username, su.Password, su.Name)
		if errors.Is(err, db.ErrUsernameTaken) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", su.Username, err)
		}
		created++
	}
	return created, nil
}

// --- password helpers (bcrypt) ---
func HashPassword(pw string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	return string(b), err
}

func CheckPassword(pw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
