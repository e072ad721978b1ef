package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps any Redis transport failure. Consumers fail
// closed on it.
var ErrRedisUnavailable = errors.New("redis unavailable")

// AccessDecoder extracts the jti and expiry of an access token without
// verifying its signature; the token being blacklisted may already be past
// expiry, which a verifying parse would reject.
type AccessDecoder interface {
	DecodeAccessUnverified(token string) (jti string, expiresAt time.Time, err error)
}

// SessionInvalidator is the session-store surface used for bulk revocation.
type SessionInvalidator interface {
	DeleteFamily(ctx context.Context, actorType, familyID, userID string) (int, error)
	DeleteAllForUser(ctx context.Context, actorType, userID string) (int, error)
}

// Service blacklists spent access tokens and bulk-invalidates sessions.
type Service struct {
	redis    redis.UniversalClient
	prefix   string
	decoder  AccessDecoder
	sessions SessionInvalidator
}

// NewService creates a revocation [Service] backed by the given Redis
// client. prefix sets the blacklist key namespace.
func NewService(redisClient redis.UniversalClient, prefix string, decoder AccessDecoder, sessions SessionInvalidator) *Service {
	if prefix == "" {
		prefix = "eb"
	}
	return &Service{
		redis:    redisClient,
		prefix:   prefix,
		decoder:  decoder,
		sessions: sessions,
	}
}

func (s *Service) key(jti string) string {
	return s.prefix + ":" + jti
}

// BlacklistAccess denylists an access token for its remaining lifetime.
// A token at or past its natural expiry is a no-op: it can no longer
// verify, so storing it would only grow the denylist.
func (s *Service) BlacklistAccess(ctx context.Context, accessToken string) error {
	jti, expiresAt, err := s.decoder.DecodeAccessUnverified(accessToken)
	if err != nil {
		return err
	}

	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return nil
	}

	if err := s.redis.Set(ctx, s.key(jti), 1, remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether the access token id has been revoked before
// its natural expiry. Storage errors surface as [ErrRedisUnavailable] so
// the caller can fail closed rather than trust the token.
func (s *Service) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// RevokeFamily invalidates every session descended from one login and
// returns the number of sessions removed.
func (s *Service) RevokeFamily(ctx context.Context, actorType, familyID, userID string) (int, error) {
	return s.sessions.DeleteFamily(ctx, actorType, familyID, userID)
}

// RevokeAllForUser invalidates every live session of a user within an actor
// type and returns the number removed.
func (s *Service) RevokeAllForUser(ctx context.Context, actorType, userID string) (int, error) {
	return s.sessions.DeleteAllForUser(ctx, actorType, userID)
}
