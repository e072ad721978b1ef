package flows

import (
	"context"
	"time"

	"github.com/saleemjadallah/eduk6-backend-sub000/session"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRateLimited
	LoginFailureCredential
	LoginFailureIssueRefresh
	LoginFailureSessionSave
	LoginFailureIssueAccess
)

// Principal is the identity established by a credential verifier. Claims
// are actor-specific access-token claims; the flow treats both as opaque.
type Principal struct {
	UserID string
	Role   string
	Claims map[string]string
}

// LoginResult carries either the issued pair plus the verified principal or
// failure metadata.
type LoginResult struct {
	Failure      LoginFailureKind
	Err          error
	ActorType    string
	UserID       string
	SessionID    string
	FamilyID     string
	Principal    Principal
	Session      *session.Session
	AccessToken  string
	RefreshToken string
}

type LoginSessionStore interface {
	Save(ctx context.Context, sess *session.Session, ttl time.Duration) error
}

type LoginRateLimiter interface {
	CheckLogin(ctx context.Context, identifier, ip string) error
	IncrementLogin(ctx context.Context, identifier, ip string) error
	ResetLogin(ctx context.Context, identifier, ip string) error
}

// LoginDeps captures login flow dependencies. VerifyCredential is the
// injected actor-specific check; the flow never inspects the secret.
type LoginDeps struct {
	ActorType        string
	VerifyCredential func(ctx context.Context, identifier, secret string) (Principal, error)
	IssueRefresh     func(userID, actorType, familyID string) (string, string, string, error)
	IssueAccess      func(*session.Session) (string, error)
	HashToken        func(string) [32]byte
	HashBytes        func([]byte) [32]byte
	Now              func() time.Time
	RefreshTTL       time.Duration
	ClientIP         string
	DeviceInfo       string
	SessionStore     LoginSessionStore
	RateLimiter      LoginRateLimiter
	Warn             func(string, ...any)
}

// RunLogin verifies a credential and establishes a fresh session under a
// brand-new token family. A login never reuses an existing family id.
func RunLogin(ctx context.Context, identifier, secret string, deps LoginDeps) LoginResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckLogin(ctx, identifier, deps.ClientIP); err != nil {
			return LoginResult{
				Failure:   LoginFailureRateLimited,
				Err:       err,
				ActorType: deps.ActorType,
			}
		}
	}

	principal, err := deps.VerifyCredential(ctx, identifier, secret)
	if err != nil {
		if deps.RateLimiter != nil {
			if incErr := deps.RateLimiter.IncrementLogin(ctx, identifier, deps.ClientIP); incErr != nil && deps.Warn != nil {
				deps.Warn("eduauth: login attempt tracking failed")
			}
		}
		return LoginResult{
			Failure:   LoginFailureCredential,
			Err:       err,
			ActorType: deps.ActorType,
		}
	}

	refreshToken, tokenID, familyID, err := deps.IssueRefresh(principal.UserID, deps.ActorType, "")
	if err != nil {
		return LoginResult{
			Failure:   LoginFailureIssueRefresh,
			Err:       err,
			ActorType: deps.ActorType,
			UserID:    principal.UserID,
		}
	}

	now := deps.Now()
	sess := &session.Session{
		ID:          tokenID,
		UserID:      principal.UserID,
		ActorType:   deps.ActorType,
		FamilyID:    familyID,
		Role:        principal.Role,
		Extra:       principal.Claims,
		RefreshHash: deps.HashToken(refreshToken),
		DeviceInfo:  deps.DeviceInfo,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(deps.RefreshTTL).Unix(),
	}
	if deps.ClientIP != "" && deps.HashBytes != nil {
		sess.IPHash = deps.HashBytes([]byte(deps.ClientIP))
	}

	if err := deps.SessionStore.Save(ctx, sess, deps.RefreshTTL); err != nil {
		return LoginResult{
			Failure:   LoginFailureSessionSave,
			Err:       err,
			ActorType: deps.ActorType,
			UserID:    principal.UserID,
			SessionID: tokenID,
			FamilyID:  familyID,
		}
	}

	access, err := deps.IssueAccess(sess)
	if err != nil {
		return LoginResult{
			Failure:   LoginFailureIssueAccess,
			Err:       err,
			ActorType: deps.ActorType,
			UserID:    principal.UserID,
			SessionID: tokenID,
			FamilyID:  familyID,
		}
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.ResetLogin(ctx, identifier, deps.ClientIP); err != nil && deps.Warn != nil {
			deps.Warn("eduauth: login attempt reset failed")
		}
	}

	return LoginResult{
		Failure:      LoginFailureNone,
		ActorType:    deps.ActorType,
		UserID:       principal.UserID,
		SessionID:    tokenID,
		FamilyID:     familyID,
		Principal:    principal,
		Session:      sess,
		AccessToken:  access,
		RefreshToken: refreshToken,
	}
}
