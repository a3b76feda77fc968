package auth

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

// UserStore is the persistence surface the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// Service handles registration and login.
type Service struct {
	store UserStore
}

// NewService wraps the store.
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

var (
	// ErrInvalidCredentials hides whether the username or password failed.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	// ErrInactiveAccount rejects deactivated users.
	ErrInactiveAccount = fmt.Errorf("account is deactivated")

	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// minPasswordLength for registration.
const minPasswordLength = 8

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, email, password, fullName string) (*models.User, error) {
	if !usernameRe.MatchString(username) {
		return nil, fmt.Errorf("username must be 3-32 characters of letters, digits, '_', '.', '-'")
	}
	if !emailRe.MatchString(email) {
		return nil, fmt.Errorf("invalid email address")
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a token. The last-login timestamp is
// updated in the background so a slow write never delays the response.
func (s *Service) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", nil, ErrInactiveAccount
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateToken(&UserIdentity{ID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin})
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.TouchLastLogin(bg, user.ID); err != nil {
			logger.WithComponent("auth").WithError(err).Warn("last-login update failed")
		}
	}()

	return token, user, nil
}
