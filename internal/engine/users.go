package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"podnotes/internal/domain"
	"podnotes/internal/events"
	"podnotes/internal/repo"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{2,64}$`)

func (e Engine) CreateUser(ctx context.Context, u domain.User, actorID string) (domain.User, error) {
	u.Username = strings.TrimSpace(u.Username)
	if !usernamePattern.MatchString(u.Username) {
		return domain.User{}, fmt.Errorf("%w: username %q must be 2-64 letters, digits, '.', '_' or '-'", domain.ErrInvalidUser, u.Username)
	}
	tx, w, err := e.begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetUserByUsernameTx(ctx, tx, u.Username); err == nil {
		return domain.User{}, domain.ErrUsernameTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = e.timestamp()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := w.Append(ctx, tx, events.UserCreated, "user", u.ID, actorID, events.EventPayload{"username": u.Username}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, id)
	return u, notFound(err, domain.ErrUserNotFound)
}

func (e Engine) UserByUsername(ctx context.Context, username string) (domain.User, error) {
	u, err := e.Repo.GetUserByUsernameTx(ctx, nil, username)
	return u, notFound(err, domain.ErrUserNotFound)
}

// CreateAPIKey issues a new key for the user. The plaintext secret is only
// returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if _, err := e.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "pn_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}
