// Package identity provides user accounts, password hashing, and access tokens.
package identity

import (
	"context"
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/linkvault/linkvault/internal/store"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrUserExists         = errors.New("username or email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters with an uppercase letter and a digit")
)

// UserAuth handles password hashing and verification.
type UserAuth struct {
	cost int // bcrypt cost factor
}

// NewUserAuth creates a new UserAuth with the given bcrypt cost.
// Cost should be at least 10 for production.
func NewUserAuth(cost int) *UserAuth {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &UserAuth{cost: cost}
}

// HashPassword creates a bcrypt hash of the password.
func (a *UserAuth) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks if the password matches the hash.
func (a *UserAuth) VerifyPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// CheckPasswordPolicy enforces the registration password rules:
// minimum 8 characters, at least one uppercase letter and one digit.
func CheckPasswordPolicy(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	var hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}

// Register creates a new user account.
func (a *UserAuth) Register(ctx context.Context, users store.UserStore, username, email, password string) (*store.User, error) {
	if err := CheckPasswordPolicy(password); err != nil {
		return nil, err
	}

	hash, err := a.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &store.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// Authenticate verifies a user's credentials by username or email.
// Returns the user when credentials are valid.
func (a *UserAuth) Authenticate(ctx context.Context, users store.UserStore, usernameOrEmail, password string) (*store.User, error) {
	user, err := users.GetUserByUsername(ctx, usernameOrEmail)
	if errors.Is(err, store.ErrNotFound) {
		user, err = users.GetUserByEmail(ctx, usernameOrEmail)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := a.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}

	return user, nil
}
