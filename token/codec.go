package token

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWT signature algorithm used by the [Codec].
type SigningMethod string

const (
	// MethodEd25519 signs tokens with EdDSA over Curve25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs tokens with HMAC-SHA256.
	MethodHS256 SigningMethod = "hs256"
)

var (
	// ErrMalformed is returned when a token cannot be parsed at all.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired is returned when a structurally valid token is past its expiry.
	ErrExpired = errors.New("expired token")
	// ErrBadSignature is returned when a token's signature does not verify.
	ErrBadSignature = errors.New("invalid token signature")
)

// Config holds the signing material and TTLs for the [Codec].
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Codec issues and verifies access and refresh tokens. It is stateless and
// safe for concurrent use.
type Codec struct {
	config Config
}

// AccessClaims is the claim set carried by access tokens. Extra holds
// actor-specific claims supplied by the gateway's claims builder.
type AccessClaims struct {
	ActorType string            `json:"act"`
	Role      string            `json:"role,omitempty"`
	SessionID string            `json:"sid"`
	Extra     map[string]string `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set carried by refresh tokens. The registered
// ID claim holds the jti; FamilyID links the token to its rotation lineage.
type RefreshClaims struct {
	ActorType string `json:"act"`
	FamilyID  string `json:"fid"`
	jwt.RegisteredClaims
}

// RefreshPayload is the verified content of a refresh token.
type RefreshPayload struct {
	TokenID   string
	FamilyID  string
	UserID    string
	ActorType string
	ExpiresAt time.Time
}

// NewCodec validates cfg and returns a [Codec].
//
// NewCodec may return an error when input validation fails.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Codec{config: cfg}, nil
}

// Hash returns the one-way hash of a token's secret material. The session
// store persists this hash instead of the raw token.
func Hash(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// IssueAccess mints a short-lived access token for the given principal and
// session. The returned jti identifies the token for blacklisting.
//
// IssueAccess may return an error when signing fails.
func (c *Codec) IssueAccess(userID, actorType, role, sessionID string, extra map[string]string) (string, string, error) {
	now := time.Now()
	jti := uuid.NewString()

	claims := AccessClaims{
		ActorType: actorType,
		Role:      role,
		SessionID: sessionID,
		Extra:     extra,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    c.config.Issuer,
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	signed, err := c.sign(claims)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// IssueRefresh mints a refresh token for userID. An empty familyID starts a
// fresh family (login); a non-empty familyID carries the lineage forward
// (rotation). Returns the token, its jti, and its fid.
//
// IssueRefresh may return an error when signing fails.
func (c *Codec) IssueRefresh(userID, actorType, familyID string) (string, string, string, error) {
	now := time.Now()
	jti := uuid.NewString()
	if familyID == "" {
		familyID = uuid.NewString()
	}

	claims := RefreshClaims{
		ActorType: actorType,
		FamilyID:  familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.RefreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    c.config.Issuer,
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	signed, err := c.sign(claims)
	if err != nil {
		return "", "", "", err
	}
	return signed, jti, familyID, nil
}

// VerifyRefresh checks signature, structure, and expiry of a refresh token
// and returns its payload. Failures are classified as [ErrMalformed],
// [ErrExpired], or [ErrBadSignature].
func (c *Codec) VerifyRefresh(tokenStr string) (*RefreshPayload, error) {
	claims := &RefreshClaims{}
	if err := c.parseInto(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.FamilyID == "" || claims.Subject == "" {
		return nil, ErrMalformed
	}

	payload := &RefreshPayload{
		TokenID:   claims.ID,
		FamilyID:  claims.FamilyID,
		UserID:    claims.Subject,
		ActorType: claims.ActorType,
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time
	}
	return payload, nil
}

// ParseAccess verifies an access token and returns its claims.
func (c *Codec) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parseInto(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// DecodeAccessUnverified extracts the jti and expiry of an access token
// without verifying its signature. Used when blacklisting a token that may
// already be near or past expiry; the caller must not trust any other field.
func (c *Codec) DecodeAccessUnverified(tokenStr string) (string, time.Time, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return "", time.Time{}, ErrMalformed
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return "", time.Time{}, ErrMalformed
	}
	return claims.ID, claims.ExpiresAt.Time, nil
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(c.method(), claims)
	if c.config.KeyID != "" {
		tok.Header["kid"] = c.config.KeyID
	}

	signKey, err := c.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(signKey)
}

func (c *Codec) parseInto(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(c.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := c.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return c.verifyKeyBytes(key)
		}

		if c.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != c.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}

		return c.verifyKey()
	})
	if err != nil {
		return classifyParseError(err)
	}
	if !tok.Valid {
		return ErrBadSignature
	}
	return nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrExpired
	default:
		// Issuer/audience/kid mismatches count as signature-class failures:
		// the token was not issued by this codec's trust configuration.
		return ErrBadSignature
	}
}

func (c *Codec) method() jwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (c *Codec) signKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(c.config.PrivateKey)
	}
}

func (c *Codec) verifyKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return c.config.PrivateKey, nil
	default:
		return parseEdPublicKey(c.config.PublicKey)
	}
}

func (c *Codec) verifyKeyBytes(key []byte) (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
