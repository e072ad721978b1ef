package eduauth

import "context"

// Principal is the identity established by a successful credential check.
// Claims carry actor-specific access-token claims (subscription tier,
// organization, ...) that the core treats as opaque strings.
type Principal struct {
	UserID string
	Role   string
	Claims map[string]string
}

// CredentialVerifier is the injected actor-specific credential check:
// password hash comparison, OAuth identity verification, or anything else.
// Implementations must return an error for unknown identifiers that is
// indistinguishable (to callers) from a wrong secret.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, secret string) (Principal, error)
}

// ClaimsBuilder optionally enriches a principal's access-token claims at
// login. A nil builder leaves the verifier's claims untouched.
type ClaimsBuilder interface {
	BuildClaims(ctx context.Context, principal Principal) (map[string]string, error)
}

// Actor describes one actor type served by the gateway. Behavior
// differences between actor types live entirely in the injected verifier
// and claims builder; the session protocol is identical for all.
type Actor struct {
	Name        string
	Credentials CredentialVerifier
	Claims      ClaimsBuilder
}

// LoginResult is returned by [Gateway.Login].
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Profile      Principal
}

// AuthResult is returned by [Gateway.Validate] for a valid, non-revoked
// access token.
type AuthResult struct {
	UserID    string
	ActorType string
	Role      string
	SessionID string
	TokenID   string
	Claims    map[string]string
}

// CredentialVerifierFunc adapts a function to the [CredentialVerifier]
// interface.
type CredentialVerifierFunc func(ctx context.Context, identifier, secret string) (Principal, error)

// Verify implements [CredentialVerifier].
func (f CredentialVerifierFunc) Verify(ctx context.Context, identifier, secret string) (Principal, error) {
	return f(ctx, identifier, secret)
}
