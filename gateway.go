package eduauth

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saleemjadallah/eduk6-backend-sub000/internal/flows"
	"github.com/saleemjadallah/eduk6-backend-sub000/internal/rate"
	"github.com/saleemjadallah/eduk6-backend-sub000/password"
	"github.com/saleemjadallah/eduk6-backend-sub000/revocation"
	"github.com/saleemjadallah/eduk6-backend-sub000/session"
	"github.com/saleemjadallah/eduk6-backend-sub000/token"
)

// errInvalidCredentials tags credential rejections for audit classification.
// It never escapes the gateway, which collapses it into ErrUnauthorized.
var errInvalidCredentials = errors.New("invalid credentials")

type actorRuntime struct {
	actor   Actor
	limiter *rate.Limiter
}

// Gateway defines a public type used by eduauth APIs.
//
// Gateway instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Gateway struct {
	config       Config
	redis        redis.UniversalClient
	codec        *token.Codec
	sessionStore *session.Store
	revoker      *revocation.Service
	actors       map[string]*actorRuntime
	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Gateway) Close() {
	if g == nil {
		return
	}
	if g.audit != nil {
		g.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Gateway) AuditDropped() uint64 {
	if g == nil || g.audit == nil {
		return 0
	}
	return g.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Gateway) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return g.metrics.Snapshot()
}

// PasswordHasher returns the Argon2id hasher built from Config.Password.
// Credential verifiers use it so hashing parameters stay in one place.
func (g *Gateway) PasswordHasher() *password.Argon2 {
	if g == nil {
		return nil
	}
	return g.passwordHash
}

// ActorTypes returns the registered actor type names in no particular order.
func (g *Gateway) ActorTypes() []string {
	if g == nil {
		return nil
	}
	names := make([]string, 0, len(g.actors))
	for name := range g.actors {
		names = append(names, name)
	}
	return names
}

// Ping reports round-trip latency to the backing store.
func (g *Gateway) Ping(ctx context.Context) (time.Duration, error) {
	if g == nil || g.sessionStore == nil {
		return 0, ErrGatewayNotReady
	}
	return g.sessionStore.Ping(ctx)
}

func (g *Gateway) metricInc(id MetricID) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Inc(id)
}

func (g *Gateway) metricAdd(id MetricID, n int) {
	if g == nil || g.metrics == nil || n <= 0 {
		return
	}
	g.metrics.Add(id, uint64(n))
}

func (g *Gateway) actorRuntime(actorType string) (*actorRuntime, error) {
	rt, ok := g.actors[actorType]
	if !ok {
		return nil, ErrUnknownActor
	}
	return rt, nil
}

func (g *Gateway) issueAccessFor(sess *session.Session) (string, error) {
	access, _, err := g.codec.IssueAccess(sess.UserID, sess.ActorType, sess.Role, sess.ID, sess.Extra)
	return access, err
}

func warnLog(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// collapseAuthErr maps an internal failure onto the public error surface:
// store outages become ErrStoreUnavailable, everything else the generic
// ErrUnauthorized. The underlying error reaches audit sinks only.
func collapseAuthErr(err error) error {
	if errors.Is(err, session.ErrRedisUnavailable) {
		return ErrStoreUnavailable
	}
	return ErrUnauthorized
}

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Gateway) Login(ctx context.Context, actorType, identifier, secret string) (*LoginResult, error) {
	if g == nil || g.codec == nil || g.sessionStore == nil {
		return nil, ErrGatewayNotReady
	}
	rt, err := g.actorRuntime(actorType)
	if err != nil {
		g.emitAudit(ctx, auditEventLoginFailure, false, actorType, "", "", "", err, nil)
		return nil, err
	}

	deps := flows.LoginDeps{
		ActorType:        actorType,
		VerifyCredential: g.credentialFunc(rt),
		IssueRefresh:     g.codec.IssueRefresh,
		IssueAccess:      g.issueAccessFor,
		HashToken:        token.Hash,
		HashBytes:        sha256.Sum256,
		RefreshTTL:       g.config.Token.RefreshTTL,
		ClientIP:         clientIPFromContext(ctx),
		DeviceInfo:       deviceInfoFromContext(ctx),
		SessionStore:     g.sessionStore,
		RateLimiter:      rt.limiter,
		Warn:             warnLog,
	}

	result := flows.RunLogin(ctx, identifier, secret, deps)
	switch result.Failure {
	case flows.LoginFailureNone:
		g.metricInc(MetricSessionCreated)
		g.metricInc(MetricLoginSuccess)
		g.emitAudit(ctx, auditEventLoginSuccess, true, actorType, result.UserID, result.SessionID, result.FamilyID, nil, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
			}
		})
		return &LoginResult{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			Profile: Principal{
				UserID: result.Principal.UserID,
				Role:   result.Principal.Role,
				Claims: result.Principal.Claims,
			},
		}, nil

	case flows.LoginFailureRateLimited:
		if errors.Is(result.Err, rate.ErrRateLimited) {
			g.metricInc(MetricLoginRateLimited)
			g.emitAudit(ctx, auditEventLoginRateLimited, false, actorType, "", "", "", ErrLoginRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": identifier,
				}
			})
			return nil, ErrLoginRateLimited
		}
		g.metricInc(MetricLoginFailure)
		g.emitAudit(ctx, auditEventLoginFailure, false, actorType, "", "", "", ErrStoreUnavailable, nil)
		return nil, ErrStoreUnavailable

	case flows.LoginFailureCredential:
		g.metricInc(MetricLoginFailure)
		g.emitAudit(ctx, auditEventLoginFailure, false, actorType, "", "", "", errInvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
			}
		})
		return nil, ErrUnauthorized

	case flows.LoginFailureSessionSave:
		g.metricInc(MetricLoginFailure)
		g.emitAudit(ctx, auditEventLoginFailure, false, actorType, result.UserID, result.SessionID, result.FamilyID, result.Err, func() map[string]string {
			return map[string]string{
				"reason": "session_save_failed",
			}
		})
		return nil, collapseAuthErr(result.Err)

	default:
		g.metricInc(MetricLoginFailure)
		g.emitAudit(ctx, auditEventLoginFailure, false, actorType, result.UserID, result.SessionID, result.FamilyID, result.Err, func() map[string]string {
			return map[string]string{
				"reason": "token_issue_failed",
			}
		})
		return nil, collapseAuthErr(result.Err)
	}
}

func (g *Gateway) credentialFunc(rt *actorRuntime) func(ctx context.Context, identifier, secret string) (flows.Principal, error) {
	return func(ctx context.Context, identifier, secret string) (flows.Principal, error) {
		principal, err := rt.actor.Credentials.Verify(ctx, identifier, secret)
		if err != nil {
			return flows.Principal{}, err
		}

		claims := principal.Claims
		if rt.actor.Claims != nil {
			built, err := rt.actor.Claims.BuildClaims(ctx, principal)
			if err != nil {
				return flows.Principal{}, err
			}
			claims = built
		}

		return flows.Principal{
			UserID: principal.UserID,
			Role:   principal.Role,
			Claims: claims,
		}, nil
	}
}

// Refresh describes the refresh operation and its observable behavior.
//
// Refresh may return an error when input validation, dependency calls, or security checks fail.
// Refresh does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Gateway) Refresh(ctx context.Context, actorType, refreshToken string) (string, string, error) {
	if g == nil || g.codec == nil || g.sessionStore == nil {
		return "", "", ErrGatewayNotReady
	}
	rt, err := g.actorRuntime(actorType)
	if err != nil {
		g.metricInc(MetricRefreshFailure)
		g.emitAudit(ctx, auditEventRefreshInvalid, false, actorType, "", "", "", err, nil)
		return "", "", ErrUnauthorized
	}

	deps := flows.RefreshDeps{
		ActorType:     actorType,
		VerifyRefresh: g.codec.VerifyRefresh,
		IssueRefresh:  g.codec.IssueRefresh,
		IssueAccess:   g.issueAccessFor,
		HashToken:     token.Hash,
		RefreshTTL:    g.config.Token.RefreshTTL,
		SessionStore:  g.sessionStore,
		Revoker:       g.revoker,
		RateLimiter:   rt.limiter,
		Warn:          warnLog,
	}

	result := flows.RunRefresh(ctx, refreshToken, deps)
	switch result.Failure {
	case flows.RefreshFailureNone:
		g.metricInc(MetricRefreshSuccess)
		g.emitAudit(ctx, auditEventRefreshSuccess, true, actorType, result.UserID, result.SessionID, result.FamilyID, nil, nil)
		return result.AccessToken, result.RefreshToken, nil

	case flows.RefreshFailureDecode:
		g.metricInc(MetricRefreshFailure)
		g.emitAudit(ctx, auditEventRefreshInvalid, false, actorType, "", "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "decode_failed",
			}
		})
		return "", "", ErrUnauthorized

	case flows.RefreshFailureActorMismatch:
		g.metricInc(MetricRefreshFailure)
		g.emitAudit(ctx, auditEventRefreshInvalid, false, actorType, result.UserID, result.SessionID, result.FamilyID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "actor_mismatch",
			}
		})
		return "", "", ErrUnauthorized

	case flows.RefreshFailureRateLimited:
		if errors.Is(result.Err, rate.ErrRateLimited) {
			g.metricInc(MetricRefreshRateLimited)
			g.emitAudit(ctx, auditEventRefreshRateLimited, false, actorType, result.UserID, result.SessionID, result.FamilyID, ErrRefreshRateLimited, nil)
			return "", "", ErrRefreshRateLimited
		}
		g.metricInc(MetricRefreshFailure)
		g.emitAudit(ctx, auditEventRefreshInvalid, false, actorType, result.UserID, result.SessionID, result.FamilyID, ErrStoreUnavailable, nil)
		return "", "", ErrStoreUnavailable

	case flows.RefreshFailureReuse:
		g.metricInc(MetricRefreshReuseDetected)
		g.recordFamilyLockout(ctx, auditEventRefreshReuseDetected, result)
		return "", "", ErrUnauthorized

	case flows.RefreshFailureTampered:
		g.metricInc(MetricRefreshTampered)
		g.recordFamilyLockout(ctx, auditEventRefreshTamperDetected, result)
		return "", "", ErrUnauthorized

	case flows.RefreshFailureStore:
		g.metricInc(MetricRefreshFailure)
		g.emitAudit(ctx, auditEventRefreshInvalid, false, actorType, result.UserID, result.SessionID, result.FamilyID, result.Err, func() map[string]string {
			return map[string]string{
				"reason": "rotate_failed",
			}
		})
		return "", "", collapseAuthErr(result.Err)

	default:
		g.metricInc(MetricRefreshFailure)
		g.emitAudit(ctx, auditEventRefreshInvalid, false, actorType, result.UserID, result.SessionID, result.FamilyID, result.Err, func() map[string]string {
			return map[string]string{
				"reason": "token_issue_failed",
			}
		})
		return "", "", collapseAuthErr(result.Err)
	}
}

func (g *Gateway) recordFamilyLockout(ctx context.Context, eventType string, result flows.RefreshResult) {
	g.metricInc(MetricFamilyRevoked)
	g.metricAdd(MetricSessionInvalidated, result.FamilyRevoked)

	g.emitAudit(ctx, eventType, false, result.ActorType, result.UserID, result.SessionID, result.FamilyID, result.Err, nil)
	g.emitAudit(ctx, auditEventFamilyRevoked, true, result.ActorType, result.UserID, result.SessionID, result.FamilyID, nil, func() map[string]string {
		return map[string]string{
			"sessions_revoked": strconv.Itoa(result.FamilyRevoked),
		}
	})
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Gateway) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if g == nil || g.codec == nil || g.revoker == nil {
		return nil, ErrGatewayNotReady
	}
	if g.metrics != nil && g.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			g.metrics.Observe(MetricValidateLatency, time.Since(start))
		}()
	}

	claims, err := g.codec.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if _, ok := g.actors[claims.ActorType]; !ok {
		return nil, ErrUnauthorized
	}

	blacklisted, err := g.revoker.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if blacklisted {
		// Matches both ErrUnauthorized (caller surface) and
		// ErrAccessRevoked (audit taxonomy).
		return nil, errors.Join(ErrUnauthorized, ErrAccessRevoked)
	}

	return &AuthResult{
		UserID:    claims.Subject,
		ActorType: claims.ActorType,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
		Claims:    claims.Extra,
	}, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Logout may return an error when input validation, dependency calls, or security checks fail.
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Gateway) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if g == nil || g.codec == nil || g.sessionStore == nil {
		return ErrGatewayNotReady
	}

	deps := flows.LogoutDeps{
		VerifyRefresh:   g.codec.VerifyRefresh,
		SessionStore:    g.sessionStore,
		BlacklistAccess: g.revoker.BlacklistAccess,
		Revoker:         g.revoker,
	}

	result := flows.RunLogout(ctx, refreshToken, accessToken, deps)
	if result.SessionDeleted {
		g.metricInc(MetricLogout)
		g.metricInc(MetricSessionInvalidated)
	}
	if result.Blacklisted {
		g.metricInc(MetricAccessBlacklisted)
		g.emitAudit(ctx, auditEventAccessBlacklisted, true, result.ActorType, result.UserID, result.SessionID, "", nil, nil)
	}
	g.emitAudit(ctx, auditEventLogoutSession, result.Err == nil, result.ActorType, result.UserID, result.SessionID, "", result.Err, nil)

	// Logout is idempotent and best-effort: an already-invalid token is a
	// successful logout from the caller's point of view.
	return nil
}

// LogoutAll describes the logoutall operation and its observable behavior.
//
// LogoutAll may return an error when input validation, dependency calls, or security checks fail.
// LogoutAll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Gateway) LogoutAll(ctx context.Context, actorType, userID string) (int, error) {
	if g == nil || g.revoker == nil {
		return 0, ErrGatewayNotReady
	}
	if _, err := g.actorRuntime(actorType); err != nil {
		return 0, err
	}

	count, err := flows.RunLogoutAll(ctx, actorType, userID, flows.LogoutDeps{Revoker: g.revoker})
	if err != nil {
		g.emitAudit(ctx, auditEventLogoutAll, false, actorType, userID, "", "", err, nil)
		if errors.Is(err, session.ErrRedisUnavailable) {
			return 0, ErrStoreUnavailable
		}
		return 0, err
	}

	g.metricInc(MetricLogoutAll)
	g.metricAdd(MetricSessionInvalidated, count)
	g.emitAudit(ctx, auditEventLogoutAll, true, actorType, userID, "", "", nil, func() map[string]string {
		return map[string]string{
			"sessions_revoked": strconv.Itoa(count),
		}
	})
	return count, nil
}

// RevokeFamily describes the revokefamily operation and its observable behavior.
//
// RevokeFamily may return an error when input validation, dependency calls, or security checks fail.
// RevokeFamily does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Gateway) RevokeFamily(ctx context.Context, actorType, familyID, userID string) (int, error) {
	if g == nil || g.revoker == nil {
		return 0, ErrGatewayNotReady
	}
	if _, err := g.actorRuntime(actorType); err != nil {
		return 0, err
	}

	count, err := g.revoker.RevokeFamily(ctx, actorType, familyID, userID)
	if err != nil {
		g.emitAudit(ctx, auditEventFamilyRevoked, false, actorType, userID, "", familyID, err, nil)
		if errors.Is(err, session.ErrRedisUnavailable) {
			return 0, ErrStoreUnavailable
		}
		return 0, err
	}

	g.metricInc(MetricFamilyRevoked)
	g.metricAdd(MetricSessionInvalidated, count)
	g.emitAudit(ctx, auditEventFamilyRevoked, true, actorType, userID, "", familyID, nil, func() map[string]string {
		return map[string]string{
			"sessions_revoked": strconv.Itoa(count),
		}
	})
	return count, nil
}
