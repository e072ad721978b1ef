package eduauth

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/saleemjadallah/eduk6-backend-sub000/internal/rate"
	"github.com/saleemjadallah/eduk6-backend-sub000/password"
	"github.com/saleemjadallah/eduk6-backend-sub000/revocation"
	"github.com/saleemjadallah/eduk6-backend-sub000/session"
	"github.com/saleemjadallah/eduk6-backend-sub000/token"
)

// Builder defines a public type used by eduauth APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	actors    []Actor
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithActor registers one actor type with its credential verifier and
// optional claims builder. Call once per actor type.
func (b *Builder) WithActor(a Actor) *Builder {
	b.actors = append(b.actors, a)
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Gateway, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(b.actors) == 0 {
		return nil, errors.New("at least one actor must be registered")
	}

	// -------- ACTOR REGISTRY --------
	actors := make(map[string]*actorRuntime, len(b.actors))
	for _, a := range b.actors {
		if a.Name == "" {
			return nil, errors.New("actor name must not be empty")
		}
		if a.Credentials == nil {
			return nil, errors.New("actor " + a.Name + " has no credential verifier")
		}
		if _, exists := actors[a.Name]; exists {
			return nil, errors.New("actor " + a.Name + " registered twice")
		}
		actors[a.Name] = &actorRuntime{
			actor: a,
			limiter: rate.New(b.redis, a.Name, rate.Config{
				EnableIPThrottle:        cfg.Security.EnableIPThrottle,
				EnableRefreshThrottle:   cfg.Security.EnableRefreshThrottle,
				MaxLoginAttempts:        cfg.Security.MaxLoginAttempts,
				LoginCooldownDuration:   cfg.Security.LoginCooldownDuration,
				MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
				RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
			}),
		}
	}

	// -------- TOKEN CODEC --------
	codec, err := token.NewCodec(token.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		VerifyKeys:    cfg.Token.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	// -------- SESSION STORE --------
	store := session.NewStore(b.redis, cfg.Session.RedisPrefix)

	gateway := &Gateway{
		config:       cloneConfig(cfg),
		redis:        b.redis,
		codec:        codec,
		sessionStore: store,
		actors:       actors,
	}

	gateway.revoker = revocation.NewService(b.redis, cfg.Blacklist.RedisPrefix, codec, store)
	gateway.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	gateway.metrics = NewMetrics(cfg.Metrics)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	gateway.passwordHash = ph

	b.built = true

	return gateway, nil
}
