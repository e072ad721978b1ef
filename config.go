package eduauth

import (
	"errors"
	"time"
)

// Config defines a public type used by eduauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	Blacklist BlacklistConfig
	Security  SecurityConfig
	Password  PasswordConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by eduauth APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte // extra public keys by kid, for rotation
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by eduauth APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	RedisPrefix    string
	MaxSessionSize int
}

// BlacklistConfig defines a public type used by eduauth APIs.
//
// BlacklistConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type BlacklistConfig struct {
	RedisPrefix string
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by eduauth APIs.
//
// SecurityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecurityConfig struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration
}

// PasswordConfig defines a public type used by eduauth APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AuditConfig defines a public type used by eduauth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by eduauth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Callers override what
// they need and pass the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:    "ea",
			MaxSessionSize: 1024,
		},
		Blacklist: BlacklistConfig{
			RedisPrefix: "eb",
		},
		Security: SecurityConfig{
			EnableIPThrottle:        true,
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: 1 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if len(cfg.Token.VerifyKeys) > 0 {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be > AccessTTL")
	}

	if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
		return errors.New("unsupported Token signing method")
	}

	if c.Token.SigningMethod == "ed25519" && len(c.Token.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.Token.SigningMethod == "ed25519" && len(c.Token.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.Token.SigningMethod == "hs256" && len(c.Token.PrivateKey) < 32 {
		return errors.New("hs256 requires PrivateKey of at least 32 bytes")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.MaxSessionSize <= 0 {
		return errors.New("Session MaxSessionSize must be > 0")
	}
	if c.Blacklist.RedisPrefix == "" {
		return errors.New("Blacklist RedisPrefix must not be empty")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("LoginCooldownDuration must be > 0")
	}
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("RefreshCooldownDuration must be > 0 when refresh throttle is enabled")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
