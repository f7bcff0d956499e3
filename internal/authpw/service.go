// Package authpw provides email/password accounts that issue bearer tokens.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"nextpage/api/internal/auth"
	"nextpage/api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid sign-up input")
)

const minPasswordLength = 8

// UserStore defines the storage interface for accounts
type UserStore interface {
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
}

// TokenOptions configures the bearer tokens issued on sign-in.
type TokenOptions struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// Service provides email/password authentication
type Service struct {
	store  UserStore
	tokens TokenOptions
	cost   int
	now    func() time.Time
}

func NewService(users UserStore, tokens TokenOptions) *Service {
	return &Service{
		store:  users,
		tokens: tokens,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
}

type SignUpRequest struct {
	Email    string
	Password string
	Nickname string
}

// Session is returned by SignUp and SignIn.
type Session struct {
	User        store.User
	AccessToken string
	ExpiresAt   time.Time
}

// SignUp creates a new account and signs it in. Duplicate emails fail with
// store.ErrEmailTaken.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (Session, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	nickname := strings.TrimSpace(req.Nickname)
	if email == "" || nickname == "" || req.Password == "" {
		return Session{}, fmt.Errorf("%w: email, password, and nickname are required", ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLength {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Email:        email,
		Nickname:     nickname,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	return s.issue(user)
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn verifies the password and returns a fresh access token.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (Session, error) {
	if req.Email == "" || req.Password == "" {
		return Session{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *Service) issue(user store.User) (Session, error) {
	now := s.now().UTC()
	claims := auth.NewClaims(user.ID, user.Nickname, s.tokens.Issuer, s.tokens.TTL, now)
	token, err := auth.IssueToken(s.tokens.Secret, claims)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, AccessToken: token, ExpiresAt: claims.ExpiresAt.Time}, nil
}
