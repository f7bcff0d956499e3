// Package identity turns request credentials into the acting user's nickname.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"nextpage/api/internal/auth"
	"nextpage/api/internal/store"
)

// ErrUnauthenticated is returned when credentials are missing or invalid, or
// name an account that no longer exists.
var ErrUnauthenticated = errors.New("unauthenticated")

// lookupTimeout bounds a shared user lookup, which outlives any single caller.
const lookupTimeout = 5 * time.Second

// Credentials are the caller-supplied proof of identity for one request.
type Credentials struct {
	Token string
}

// UserLookup is the part of the user store the resolver needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
}

type Options struct {
	Secret []byte
	Issuer string
	// Cache is optional.
	Cache  NicknameCache
	Logger *zap.Logger
}

type Resolver struct {
	secret []byte
	issuer string
	users  UserLookup
	cache  NicknameCache
	logger *zap.Logger
	group  singleflight.Group
}

func NewResolver(users UserLookup, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		secret: opts.Secret,
		issuer: opts.Issuer,
		users:  users,
		cache:  opts.Cache,
		logger: logger,
	}
}

// Resolve verifies the bearer token and returns the nickname of the account it
// names. The nickname always comes from the user store, never from the token.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (string, error) {
	token := strings.TrimSpace(creds.Token)
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	claims, err := auth.ParseToken(r.secret, token, r.issuer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	if r.cache != nil {
		nickname, ok, err := r.cache.GetNickname(ctx, userID)
		if err != nil {
			r.logger.Warn("nickname cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		} else if ok {
			return nickname, nil
		}
	}

	// Waiters share one lookup, so it must not inherit the first caller's
	// cancellation. Each caller still gives up on its own context.
	ch := r.group.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.lookup(lookupCtx, userID)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Resolver) lookup(ctx context.Context, userID int64) (string, error) {
	user, err := r.users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown user %d", ErrUnauthenticated, userID)
	}
	if err != nil {
		return "", fmt.Errorf("lookup user %d: %w", userID, err)
	}

	if r.cache != nil {
		if err := r.cache.SetNickname(ctx, userID, user.Nickname); err != nil {
			r.logger.Warn("nickname cache write failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return user.Nickname, nil
}
