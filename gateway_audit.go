package eduauth

import (
	"context"
	"errors"
	"time"

	"github.com/saleemjadallah/eduk6-backend-sub000/internal/rate"
	"github.com/saleemjadallah/eduk6-backend-sub000/session"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshRateLimited    = "refresh_rate_limited"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventRefreshTamperDetected = "refresh_tamper_detected"
	auditEventFamilyRevoked         = "family_revoked"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
	auditEventAccessBlacklisted     = "access_blacklisted"
)

// AuditErrorCode defines a public type used by eduauth APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrRefreshTampered    AuditErrorCode = "refresh_tampered"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrFamilyRevoked      AuditErrorCode = "family_revoked"
	auditErrUnknownActor       AuditErrorCode = "unknown_actor"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (g *Gateway) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	actorType string,
	userID string,
	sessionID string,
	familyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		ActorType: actorType,
		UserID:    userID,
		SessionID: sessionID,
		FamilyID:  familyID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	g.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, errInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited),
		errors.Is(err, rate.ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrExpired):
		return auditErrRefreshReuse
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrHashMismatch),
		errors.Is(err, session.ErrHashMismatch),
		errors.Is(err, session.ErrFamilyMismatch):
		return auditErrRefreshTampered
	case errors.Is(err, ErrFamilyRevoked):
		return auditErrFamilyRevoked
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrUnknownActor):
		return auditErrUnknownActor
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, session.ErrRedisUnavailable),
		errors.Is(err, rate.ErrRedisUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
