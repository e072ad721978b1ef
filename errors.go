package eduauth

import "errors"

var (
	// ErrUnauthorized is the single caller-visible failure for login and
	// refresh. The specific internal kind is recorded in metrics and audit
	// events but never exposed, so callers and attackers see one answer.
	ErrUnauthorized = errors.New("unauthorized: please log in again")
	// ErrStoreUnavailable is surfaced when the backing store cannot be
	// reached. Operations fail closed: availability is sacrificed for the
	// reuse-detection invariant.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrLoginRateLimited is returned when the login attempt budget for an
	// identifier or IP is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when the refresh attempt budget for
	// a token is exhausted.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrUnknownActor is returned when an operation names an actor type
	// that was never registered on the builder.
	ErrUnknownActor = errors.New("unknown actor type")
	// ErrGatewayNotReady is returned when a method is called on a nil or
	// unbuilt gateway.
	ErrGatewayNotReady = errors.New("gateway not initialized")

	// Internal taxonomy. These never escape Login/Refresh, which collapse
	// them into ErrUnauthorized; they are exported for audit sinks and
	// tests that assert on the recorded kind.

	// ErrSessionNotFound marks a structurally valid refresh token with no
	// live session: reuse of a consumed token, revocation, or expiry.
	ErrSessionNotFound = errors.New("session not found or revoked")
	// ErrHashMismatch marks a live session whose stored refresh hash does
	// not match the presented token: tampering.
	ErrHashMismatch = errors.New("refresh token hash mismatch")
	// ErrFamilyRevoked marks a session rejected because its token family
	// was revoked after detected compromise.
	ErrFamilyRevoked = errors.New("token family revoked")
	// ErrTokenInvalid marks a refresh token that failed structural or
	// signature verification.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrAccessRevoked marks an access token that was blacklisted before
	// its natural expiry.
	ErrAccessRevoked = errors.New("access token revoked")
)
