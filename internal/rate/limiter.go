package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// Limiter enforces per-identifier and per-IP login limits and a per-jti
// refresh limit using Redis counters. Counters are partitioned by actor
// type so an admin lockout never throttles a teacher with the same email.
type Limiter struct {
	redis     redis.UniversalClient
	actorType string
	config    Config
}

// New creates a rate [Limiter] for one actor type backed by the given
// Redis client.
func New(redisClient redis.UniversalClient, actorType string, cfg Config) *Limiter {
	return &Limiter{
		redis:     redisClient,
		actorType: actorType,
		config:    cfg,
	}
}

func (l *Limiter) loginUserKey(identifier string) string {
	return "erl:u:" + l.actorType + ":" + identifier
}

func (l *Limiter) loginIPKey(ip string) string {
	return "erl:ip:" + l.actorType + ":" + ip
}

func (l *Limiter) refreshKey(tokenID string) string {
	return "err:" + l.actorType + ":" + tokenID
}

// CheckLogin checks whether the identifier+IP pair is within the login
// attempt budget. Returns [ErrRateLimited] when exhausted.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if err := l.checkCounter(ctx, l.loginUserKey(identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}

	return nil
}

// IncrementLogin records a failed login attempt for the identifier+IP pair.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	count, err := l.incrementWithTTL(ctx, l.loginUserKey(identifier), l.config.LoginCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, l.loginIPKey(ip), l.config.LoginCooldownDuration)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetLogin clears the failed-login counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, identifier, ip string) error {
	keys := []string{l.loginUserKey(identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.loginIPKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// CheckRefresh enforces the refresh limit by incrementing the per-jti
// counter and applying the cooldown TTL.
func (l *Limiter) CheckRefresh(ctx context.Context, tokenID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, l.refreshKey(tokenID), l.config.RefreshCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count > int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
