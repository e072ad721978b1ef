package flows

import (
	"context"
	"errors"
	"time"

	"github.com/saleemjadallah/eduk6-backend-sub000/session"
	"github.com/saleemjadallah/eduk6-backend-sub000/token"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureActorMismatch
	RefreshFailureRateLimited
	RefreshFailureReuse
	RefreshFailureTampered
	RefreshFailureStore
	RefreshFailureIssueRefresh
	RefreshFailureIssueAccess
)

// RefreshResult carries either the issued token pair or failure metadata.
// FamilyRevoked is the number of sessions removed when reuse or tampering
// forced a family-wide lockout.
type RefreshResult struct {
	Failure       RefreshFailureKind
	Err           error
	ActorType     string
	SessionID     string
	FamilyID      string
	UserID        string
	Session       *session.Session
	AccessToken   string
	RefreshToken  string
	FamilyRevoked int
}

type RefreshSessionStore interface {
	Rotate(
		ctx context.Context,
		actorType, oldID, newID, familyID, userID string,
		providedHash, nextHash [32]byte,
		createdAt, expiresAt int64,
		ttl time.Duration,
	) (*session.Session, error)
}

type FamilyRevoker interface {
	RevokeFamily(ctx context.Context, actorType, familyID, userID string) (int, error)
}

type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, tokenID string) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	ActorType     string
	VerifyRefresh func(string) (*token.RefreshPayload, error)
	IssueRefresh  func(userID, actorType, familyID string) (string, string, string, error)
	IssueAccess   func(*session.Session) (string, error)
	HashToken     func(string) [32]byte
	Now           func() time.Time
	RefreshTTL    time.Duration
	SessionStore  RefreshSessionStore
	Revoker       FamilyRevoker
	RateLimiter   RefreshRateLimiter
	Warn          func(string, ...any)
}

// RunRefresh executes one rotation of a presented refresh token.
//
// A structurally valid token whose jti no longer resolves was either
// consumed by an earlier rotation, revoked, or lost a concurrent race: all
// are treated as reuse and revoke the whole family before failing. A hash
// or family mismatch on a live jti is tampering and gets the same lockout.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	payload, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureDecode,
			Err:       err,
			ActorType: deps.ActorType,
		}
	}
	if payload.ActorType != deps.ActorType {
		return RefreshResult{
			Failure:   RefreshFailureActorMismatch,
			Err:       errors.New("refresh token issued for different actor type"),
			ActorType: deps.ActorType,
			SessionID: payload.TokenID,
			FamilyID:  payload.FamilyID,
			UserID:    payload.UserID,
		}
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, payload.TokenID); err != nil {
			return RefreshResult{
				Failure:   RefreshFailureRateLimited,
				Err:       err,
				ActorType: deps.ActorType,
				SessionID: payload.TokenID,
				FamilyID:  payload.FamilyID,
				UserID:    payload.UserID,
			}
		}
	}

	nextToken, nextID, _, err := deps.IssueRefresh(payload.UserID, deps.ActorType, payload.FamilyID)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureIssueRefresh,
			Err:       err,
			ActorType: deps.ActorType,
			SessionID: payload.TokenID,
			FamilyID:  payload.FamilyID,
			UserID:    payload.UserID,
		}
	}

	now := deps.Now()
	sess, err := deps.SessionStore.Rotate(
		ctx,
		deps.ActorType,
		payload.TokenID,
		nextID,
		payload.FamilyID,
		payload.UserID,
		deps.HashToken(refreshToken),
		deps.HashToken(nextToken),
		now.Unix(),
		now.Add(deps.RefreshTTL).Unix(),
		deps.RefreshTTL,
	)
	if err != nil {
		base := RefreshResult{
			Err:       err,
			ActorType: deps.ActorType,
			SessionID: payload.TokenID,
			FamilyID:  payload.FamilyID,
			UserID:    payload.UserID,
		}
		switch {
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
			base.Failure = RefreshFailureReuse
			base.FamilyRevoked = revokeFamily(ctx, deps, payload)
			return base
		case errors.Is(err, session.ErrHashMismatch), errors.Is(err, session.ErrFamilyMismatch):
			base.Failure = RefreshFailureTampered
			base.FamilyRevoked = revokeFamily(ctx, deps, payload)
			return base
		default:
			base.Failure = RefreshFailureStore
			return base
		}
	}

	access, err := deps.IssueAccess(sess)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureIssueAccess,
			Err:       err,
			ActorType: deps.ActorType,
			SessionID: sess.ID,
			FamilyID:  sess.FamilyID,
			UserID:    sess.UserID,
			Session:   sess,
		}
	}

	return RefreshResult{
		Failure:      RefreshFailureNone,
		ActorType:    deps.ActorType,
		SessionID:    sess.ID,
		FamilyID:     sess.FamilyID,
		UserID:       sess.UserID,
		Session:      sess,
		AccessToken:  access,
		RefreshToken: nextToken,
	}
}

func revokeFamily(ctx context.Context, deps RefreshDeps, payload *token.RefreshPayload) int {
	if deps.Revoker == nil {
		return 0
	}
	count, err := deps.Revoker.RevokeFamily(ctx, deps.ActorType, payload.FamilyID, payload.UserID)
	if err != nil && deps.Warn != nil {
		deps.Warn("eduauth: family revocation failed", "family_id", payload.FamilyID)
	}
	return count
}
