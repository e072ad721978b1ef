package flows

import (
	"context"

	"github.com/saleemjadallah/eduk6-backend-sub000/token"
)

type LogoutSessionStore interface {
	Delete(ctx context.Context, actorType, id string) error
}

type UserRevoker interface {
	RevokeAllForUser(ctx context.Context, actorType, userID string) (int, error)
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	VerifyRefresh   func(string) (*token.RefreshPayload, error)
	SessionStore    LogoutSessionStore
	BlacklistAccess func(ctx context.Context, accessToken string) error
	Revoker         UserRevoker
}

// LogoutResult records what a best-effort logout actually did. Err carries
// the first underlying failure for audit only; callers never surface it.
type LogoutResult struct {
	ActorType      string
	SessionID      string
	UserID         string
	SessionDeleted bool
	Blacklisted    bool
	Err            error
}

// RunLogout destroys the session behind refreshToken and, when an access
// token is supplied, blacklists it for its remaining lifetime. Every step
// is best-effort: an already-invalid token is not an error.
func RunLogout(ctx context.Context, refreshToken, accessToken string, deps LogoutDeps) LogoutResult {
	var result LogoutResult

	if refreshToken != "" {
		payload, err := deps.VerifyRefresh(refreshToken)
		if err == nil {
			result.ActorType = payload.ActorType
			result.SessionID = payload.TokenID
			result.UserID = payload.UserID
			if delErr := deps.SessionStore.Delete(ctx, payload.ActorType, payload.TokenID); delErr != nil {
				result.Err = delErr
			} else {
				result.SessionDeleted = true
			}
		} else if result.Err == nil {
			result.Err = err
		}
	}

	if accessToken != "" && deps.BlacklistAccess != nil {
		if err := deps.BlacklistAccess(ctx, accessToken); err != nil {
			if result.Err == nil {
				result.Err = err
			}
		} else {
			result.Blacklisted = true
		}
	}

	return result
}

// RunLogoutAll invalidates every live session of a user and returns the
// count removed.
func RunLogoutAll(ctx context.Context, actorType, userID string, deps LogoutDeps) (int, error) {
	return deps.Revoker.RevokeAllForUser(ctx, actorType, userID)
}
