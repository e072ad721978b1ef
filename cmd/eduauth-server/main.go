// Command eduauth-server runs the session gateway as a standalone HTTP
// service backed by Redis.
//
// Configuration comes from the environment (a .env file is loaded when
// present). Users are loaded from a JSON file keyed by actor type; each
// record carries an Argon2id password hash in PHC format plus the role and
// claims stamped into access tokens.
//
// Run:
//
//	EDUAUTH_HS256_SECRET=$(openssl rand -hex 32) \
//	EDUAUTH_SIGNING_METHOD=hs256 \
//	EDUAUTH_USERS_FILE=users.json \
//	go run ./cmd/eduauth-server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	eduauth "github.com/saleemjadallah/eduk6-backend-sub000"
	"github.com/saleemjadallah/eduk6-backend-sub000/httpapi"
	promexport "github.com/saleemjadallah/eduk6-backend-sub000/metrics/export/prometheus"
	"github.com/saleemjadallah/eduk6-backend-sub000/password"
)

type config struct {
	Addr          string        `env:"EDUAUTH_ADDR" envDefault:":8080"`
	RedisAddr     string        `env:"EDUAUTH_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"EDUAUTH_REDIS_PASSWORD"`
	RedisDB       int           `env:"EDUAUTH_REDIS_DB" envDefault:"0"`
	SigningMethod string        `env:"EDUAUTH_SIGNING_METHOD" envDefault:"ed25519"`
	PrivateKey    string        `env:"EDUAUTH_PRIVATE_KEY_FILE"`
	PublicKey     string        `env:"EDUAUTH_PUBLIC_KEY_FILE"`
	HS256Secret   string        `env:"EDUAUTH_HS256_SECRET"`
	AccessTTL     time.Duration `env:"EDUAUTH_ACCESS_TTL" envDefault:"5m"`
	RefreshTTL    time.Duration `env:"EDUAUTH_REFRESH_TTL" envDefault:"168h"`
	Issuer        string        `env:"EDUAUTH_ISSUER" envDefault:"eduauth"`
	Actors        []string      `env:"EDUAUTH_ACTORS" envDefault:"student,teacher,parent,admin"`
	UsersFile     string        `env:"EDUAUTH_USERS_FILE,required"`
	AuditEnabled  bool          `env:"EDUAUTH_AUDIT" envDefault:"true"`
	Metrics       bool          `env:"EDUAUTH_METRICS" envDefault:"true"`
	LogLevel      string        `env:"EDUAUTH_LOG_LEVEL" envDefault:"info"`
}

func main() {
	// Missing .env is fine: plain environment variables still apply.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	users, err := loadUsers(cfg.UsersFile)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	authCfg, err := buildAuthConfig(cfg)
	if err != nil {
		return err
	}

	builder := eduauth.New().
		WithConfig(authCfg).
		WithRedis(rdb).
		WithMetricsEnabled(cfg.Metrics).
		WithLatencyHistograms(cfg.Metrics)
	if cfg.AuditEnabled {
		builder = builder.WithAuditSink(eduauth.NewJSONWriterSink(os.Stdout))
	}

	store := &userStore{users: users}
	for _, actorType := range cfg.Actors {
		actorType = strings.TrimSpace(actorType)
		if actorType == "" {
			continue
		}
		builder = builder.WithActor(eduauth.Actor{
			Name:        actorType,
			Credentials: store.verifierFor(actorType),
		})
	}

	gateway, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer gateway.Close()

	store.hasher = gateway.PasswordHasher()

	if latency, err := gateway.Ping(context.Background()); err != nil {
		logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	} else {
		logger.Info("redis connected", "addr", cfg.RedisAddr, "latency", latency)
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.New(gateway, logger).Routes())
	if cfg.Metrics {
		mux.Handle("GET /metrics", promexport.NewPrometheusExporter(gateway).Handler())
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "actors", cfg.Actors)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return err
		}
	}

	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildAuthConfig(cfg config) (eduauth.Config, error) {
	authCfg := eduauth.DefaultConfig()
	authCfg.Token.AccessTTL = cfg.AccessTTL
	authCfg.Token.RefreshTTL = cfg.RefreshTTL
	authCfg.Token.SigningMethod = cfg.SigningMethod
	authCfg.Token.Issuer = cfg.Issuer

	switch cfg.SigningMethod {
	case "hs256":
		if cfg.HS256Secret == "" {
			return eduauth.Config{}, errors.New("hs256 requires EDUAUTH_HS256_SECRET")
		}
		authCfg.Token.PrivateKey = []byte(cfg.HS256Secret)
	case "ed25519":
		priv, err := os.ReadFile(cfg.PrivateKey)
		if err != nil {
			return eduauth.Config{}, fmt.Errorf("read private key: %w", err)
		}
		pub, err := os.ReadFile(cfg.PublicKey)
		if err != nil {
			return eduauth.Config{}, fmt.Errorf("read public key: %w", err)
		}
		authCfg.Token.PrivateKey = priv
		authCfg.Token.PublicKey = pub
	default:
		return eduauth.Config{}, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	return authCfg, nil
}

// userRecord is one entry in the users file. PasswordHash is Argon2id in
// PHC string format, as produced by the password package.
type userRecord struct {
	UserID       string            `json:"user_id"`
	PasswordHash string            `json:"password_hash"`
	Role         string            `json:"role"`
	Claims       map[string]string `json:"claims,omitempty"`
}

// usersFile maps actor type -> identifier -> record.
type usersFile map[string]map[string]userRecord

func loadUsers(path string) (usersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var users usersFile
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, err
	}
	return users, nil
}

type userStore struct {
	users  usersFile
	hasher *password.Argon2
}

var errBadCredentials = errors.New("bad credentials")

func (s *userStore) verifierFor(actorType string) eduauth.CredentialVerifier {
	return eduauth.CredentialVerifierFunc(func(_ context.Context, identifier, secret string) (eduauth.Principal, error) {
		record, ok := s.users[actorType][identifier]
		if !ok || s.hasher == nil {
			return eduauth.Principal{}, errBadCredentials
		}
		match, err := s.hasher.Verify(secret, record.PasswordHash)
		if err != nil || !match {
			return eduauth.Principal{}, errBadCredentials
		}
		return eduauth.Principal{
			UserID: record.UserID,
			Role:   record.Role,
			Claims: record.Claims,
		}, nil
	})
}
