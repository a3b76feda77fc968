package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pajakflow/tax-docs-service/internal/models"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (s *fakeUserStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = uuid.New()
	s.users[u.Username] = u
	return nil
}

func (s *fakeUserStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeUserStore) TouchLastLogin(_ context.Context, id uuid.UUID) error {
	return nil
}

func TestRegister(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	user, err := svc.Register(ctx, "budi.santoso", "budi@contoh.co.id", "rahasia-sekali", "Budi Santoso")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.True(t, user.IsActive)
	assert.False(t, user.IsAdmin)

	// The stored hash verifies against the password and never equals it.
	assert.NotEqual(t, "rahasia-sekali", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("rahasia-sekali")))
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, "ab", "budi@contoh.co.id", "rahasia-sekali", "")
	assert.ErrorContains(t, err, "username")

	_, err = svc.Register(ctx, "budi!", "budi@contoh.co.id", "rahasia-sekali", "")
	assert.ErrorContains(t, err, "username")

	_, err = svc.Register(ctx, "budi", "not-an-email", "rahasia-sekali", "")
	assert.ErrorContains(t, err, "email")

	_, err = svc.Register(ctx, "budi", "budi@contoh.co.id", "pendek", "")
	assert.ErrorContains(t, err, "password")
}

func TestLogin(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	store := newFakeUserStore()
	svc := NewService(store)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "budi", "budi@contoh.co.id", "rahasia-sekali", "")
	require.NoError(t, err)

	token, user, err := svc.Login(ctx, "budi", "rahasia-sekali")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims.UserID)
}

// Wrong password and unknown user fail identically.
func TestLoginUniformFailure(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	store := newFakeUserStore()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, "budi", "budi@contoh.co.id", "rahasia-sekali", "")
	require.NoError(t, err)

	_, _, errWrongPassword := svc.Login(ctx, "budi", "salah-semua")
	_, _, errUnknownUser := svc.Login(ctx, "siapa", "salah-semua")
	assert.ErrorIs(t, errWrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, errUnknownUser, ErrInvalidCredentials)
}

func TestLoginInactiveAccount(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	store := newFakeUserStore()
	svc := NewService(store)
	ctx := context.Background()

	user, err := svc.Register(ctx, "budi", "budi@contoh.co.id", "rahasia-sekali", "")
	require.NoError(t, err)
	store.users[user.Username].IsActive = false

	_, _, err = svc.Login(ctx, "budi", "rahasia-sekali")
	assert.ErrorIs(t, err, ErrInactiveAccount)
}
