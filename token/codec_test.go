package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func hs256TestConfig() Config {
	return Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("test-secret-0123456789abcdef0123"),
		Issuer:        "eduauth-test",
	}
}

func newHS256Codec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(hs256TestConfig())
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

func newEd25519Codec(t *testing.T) *Codec {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	codec, err := NewCodec(Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "eduauth-test",
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

func TestNewCodecValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero access TTL", func(c *Config) { c.AccessTTL = 0 }},
		{"zero refresh TTL", func(c *Config) { c.RefreshTTL = 0 }},
		{"excessive leeway", func(c *Config) { c.Leeway = 3 * time.Minute }},
		{"missing hs256 key", func(c *Config) { c.PrivateKey = nil }},
		{"unknown method", func(c *Config) { c.SigningMethod = "rs256" }},
		{"kid absent from verify keys", func(c *Config) {
			c.KeyID = "k2"
			c.VerifyKeys = map[string][]byte{"k1": []byte("irrelevant")}
		}},
	}
	for _, tc := range cases {
		cfg := hs256TestConfig()
		tc.mutate(&cfg)
		if _, err := NewCodec(cfg); err == nil {
			t.Fatalf("%s: expected config error", tc.name)
		}
	}

	if _, err := NewCodec(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
	}); err == nil {
		t.Fatal("expected error for ed25519 without any verify key")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	for _, method := range []string{"hs256", "ed25519"} {
		t.Run(method, func(t *testing.T) {
			var codec *Codec
			if method == "hs256" {
				codec = newHS256Codec(t)
			} else {
				codec = newEd25519Codec(t)
			}

			extra := map[string]string{"school_id": "sch-42"}
			signed, jti, err := codec.IssueAccess("u-1", "student", "student", "sid-1", extra)
			if err != nil {
				t.Fatalf("issue access: %v", err)
			}
			if jti == "" {
				t.Fatal("expected non-empty jti")
			}

			claims, err := codec.ParseAccess(signed)
			if err != nil {
				t.Fatalf("parse access: %v", err)
			}
			if claims.ID != jti || claims.Subject != "u-1" {
				t.Fatalf("identity claims wrong: %+v", claims)
			}
			if claims.ActorType != "student" || claims.SessionID != "sid-1" {
				t.Fatalf("actor claims wrong: %+v", claims)
			}
			if claims.Extra["school_id"] != "sch-42" {
				t.Fatalf("extra claims wrong: %v", claims.Extra)
			}
		})
	}
}

func TestRefreshFamilyLineage(t *testing.T) {
	codec := newHS256Codec(t)

	// Empty familyID starts a fresh family.
	signed, jti, fid, err := codec.IssueRefresh("u-1", "student", "")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if jti == "" || fid == "" {
		t.Fatal("expected non-empty jti and fid")
	}

	payload, err := codec.VerifyRefresh(signed)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if payload.TokenID != jti || payload.FamilyID != fid || payload.UserID != "u-1" || payload.ActorType != "student" {
		t.Fatalf("payload mismatch: %+v", payload)
	}

	// Rotation carries the lineage forward under a new jti.
	child, childJTI, childFID, err := codec.IssueRefresh("u-1", "student", fid)
	if err != nil {
		t.Fatalf("issue child: %v", err)
	}
	if childFID != fid {
		t.Fatalf("child fid: have %q, want %q", childFID, fid)
	}
	if childJTI == jti {
		t.Fatal("child must get a fresh jti")
	}
	if _, err := codec.VerifyRefresh(child); err != nil {
		t.Fatalf("verify child: %v", err)
	}
}

func TestVerifyRefreshFailureClasses(t *testing.T) {
	codec := newHS256Codec(t)

	if _, err := codec.VerifyRefresh("not-a-jwt"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	// Signed by a different key.
	other := hs256TestConfig()
	other.PrivateKey = []byte("another-secret-0123456789abcdef0")
	otherCodec, err := NewCodec(other)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	forged, _, _, err := otherCodec.IssueRefresh("u-1", "student", "")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if _, err := codec.VerifyRefresh(forged); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}

	// Expired.
	short := hs256TestConfig()
	short.RefreshTTL = time.Nanosecond
	shortCodec, err := NewCodec(short)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	stale, _, _, err := shortCodec.IssueRefresh("u-1", "student", "")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := codec.VerifyRefresh(stale); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	// Wrong issuer counts as a trust failure.
	foreign := hs256TestConfig()
	foreign.Issuer = "someone-else"
	foreignCodec, err := NewCodec(foreign)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	offIssuer, _, _, err := foreignCodec.IssueRefresh("u-1", "student", "")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if _, err := codec.VerifyRefresh(offIssuer); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for issuer mismatch, got %v", err)
	}
}

func TestDecodeAccessUnverifiedWorksPastExpiry(t *testing.T) {
	cfg := hs256TestConfig()
	cfg.AccessTTL = time.Nanosecond
	codec, err := NewCodec(cfg)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	signed, jti, err := codec.IssueAccess("u-1", "student", "student", "sid-1", nil)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := codec.ParseAccess(signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired from verified parse, got %v", err)
	}

	gotJTI, exp, err := codec.DecodeAccessUnverified(signed)
	if err != nil {
		t.Fatalf("decode unverified: %v", err)
	}
	if gotJTI != jti {
		t.Fatalf("jti: have %q, want %q", gotJTI, jti)
	}
	if exp.IsZero() || !exp.Before(time.Now()) {
		t.Fatalf("expiry should be in the past, got %v", exp)
	}

	if _, _, err := codec.DecodeAccessUnverified("garbage"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestKeyRotationViaVerifyKeys(t *testing.T) {
	pubOld, privOld, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubNew, privNew, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	oldSigner, err := NewCodec(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    privOld,
		PublicKey:     pubOld,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pubOld},
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	oldToken, _, err := oldSigner.IssueAccess("u-1", "student", "student", "sid-1", nil)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	// The rotated verifier signs with k2 but still accepts k1 tokens.
	rotated, err := NewCodec(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    privNew,
		KeyID:         "k2",
		VerifyKeys: map[string][]byte{
			"k1": pubOld,
			"k2": pubNew,
		},
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	if _, err := rotated.ParseAccess(oldToken); err != nil {
		t.Fatalf("rotated codec should accept old kid: %v", err)
	}

	newToken, _, err := rotated.IssueAccess("u-1", "student", "student", "sid-1", nil)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := rotated.ParseAccess(newToken); err != nil {
		t.Fatalf("rotated codec should accept its own tokens: %v", err)
	}

	// A token without a kid is rejected once a verify key set is configured.
	anonymous, err := NewCodec(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    privOld,
		PublicKey:     pubOld,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	noKid, _, err := anonymous.IssueAccess("u-1", "student", "student", "sid-1", nil)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := rotated.ParseAccess(noKid); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for missing kid, got %v", err)
	}
}

func TestHashIsStableAndDistinct(t *testing.T) {
	a := Hash("token-a")
	if a != Hash("token-a") {
		t.Fatal("hash must be deterministic")
	}
	if a == Hash("token-b") {
		t.Fatal("distinct tokens must not collide")
	}
}
