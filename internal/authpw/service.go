// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"proofdeck/api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("email and password are required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	InsertUser(ctx context.Context, user store.User) (store.User, error)
	SetUserPassword(ctx context.Context, id primitive.ObjectID, passwordHash string) error
}

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUp creates a new user account. If the email belongs to a
// placeholder user created by a reviewer invite, the account is claimed
// by binding the password to the existing user id.
func (s *Service) SignUp(ctx context.Context, email, password string) (store.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrInvalidInput
	}
	if !strings.Contains(email, "@") {
		return store.User{}, ErrInvalidInput
	}
	if len(password) < 8 {
		return store.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil && existing.PasswordHash != "":
		return store.User{}, ErrEmailTaken
	case err == nil:
		// Placeholder user from an invite. Claim it.
		if err := s.store.SetUserPassword(ctx, existing.ID, string(hash)); err != nil {
			return store.User{}, fmt.Errorf("claim invited user: %w", err)
		}
		existing.PasswordHash = string(hash)
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		return store.User{}, fmt.Errorf("look up email: %w", err)
	}

	user, err := s.store.InsertUser(ctx, store.User{
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	// Placeholder users have no password until they sign up.
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
