package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	eduauth "github.com/saleemjadallah/eduk6-backend-sub000"
)

func newTestHandler(t *testing.T) (http.Handler, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := eduauth.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("test-secret-0123456789abcdef0123")
	cfg.Token.AccessTTL = 5 * time.Minute
	cfg.Token.RefreshTTL = time.Hour
	cfg.Security.EnableIPThrottle = false
	cfg.Security.EnableRefreshThrottle = false

	verifier := eduauth.CredentialVerifierFunc(func(_ context.Context, id, secret string) (eduauth.Principal, error) {
		if id == "alice@school.edu" && secret == "correct-horse" {
			return eduauth.Principal{UserID: "u-alice", Role: "student"}, nil
		}
		return eduauth.Principal{}, errors.New("invalid credentials")
	})

	gw, err := eduauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithActor(eduauth.Actor{Name: "student", Credentials: verifier}).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("build gateway: %v", err)
	}

	return New(gw, nil).Routes(), mr, func() {
		gw.Close()
		rdb.Close()
		mr.Close()
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:54321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func loginPair(t *testing.T, h http.Handler) loginResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/student/login", loginRequest{
		Identifier: "alice@school.edu",
		Secret:     "correct-horse",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status: %d, body %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func TestLoginEndpoint(t *testing.T) {
	h, _, done := newTestHandler(t)
	defer done()

	resp := loginPair(t, h)
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected a token pair")
	}
	if resp.UserID != "u-alice" || resp.Role != "student" {
		t.Fatalf("wrong profile: %+v", resp)
	}

	rec := doJSON(t, h, http.MethodPost, "/student/login", loginRequest{
		Identifier: "alice@school.edu",
		Secret:     "wrong",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret status: %d", rec.Code)
	}
	// Every rejection carries the same generic body.
	if !strings.Contains(rec.Body.String(), "please log in again") {
		t.Fatalf("bad secret body: %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/student/login", map[string]string{"identifier": "alice@school.edu"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing secret status: %d", rec.Code)
	}

	// Unregistered actor paths do not exist.
	rec = doJSON(t, h, http.MethodPost, "/parent/login", loginRequest{Identifier: "x", Secret: "y"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown actor status: %d", rec.Code)
	}
}

func TestRefreshEndpointRotatesAndDetectsReplay(t *testing.T) {
	h, _, done := newTestHandler(t)
	defer done()

	pair := loginPair(t, h)

	rec := doJSON(t, h, http.MethodPost, "/student/refresh", refreshRequest{RefreshToken: pair.RefreshToken}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status: %d, body %s", rec.Code, rec.Body.String())
	}
	var rotated refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token must rotate")
	}

	// Replay of the consumed token.
	rec = doJSON(t, h, http.MethodPost, "/student/refresh", refreshRequest{RefreshToken: pair.RefreshToken}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay status: %d", rec.Code)
	}

	// The descendant died with the family.
	rec = doJSON(t, h, http.MethodPost, "/student/refresh", refreshRequest{RefreshToken: rotated.RefreshToken}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("descendant status: %d", rec.Code)
	}
}

func TestLogoutEndpointAlwaysAnswers204(t *testing.T) {
	h, _, done := newTestHandler(t)
	defer done()

	pair := loginPair(t, h)

	rec := doJSON(t, h, http.MethodPost, "/student/logout", logoutRequest{
		RefreshToken: pair.RefreshToken,
		AccessToken:  pair.AccessToken,
	}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status: %d", rec.Code)
	}

	// Repeat logout and garbage tokens answer the same.
	rec = doJSON(t, h, http.MethodPost, "/student/logout", logoutRequest{
		RefreshToken: pair.RefreshToken,
	}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("repeat logout status: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/student/logout", logoutRequest{RefreshToken: "garbage"}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("garbage logout status: %d", rec.Code)
	}

	// The blacklisted access token no longer opens guarded routes.
	rec = doJSON(t, h, http.MethodPost, "/student/logout-all", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("guarded route after logout: %d", rec.Code)
	}
}

func TestLogoutAllEndpointGuarded(t *testing.T) {
	h, _, done := newTestHandler(t)
	defer done()

	// Two live sessions for the same user.
	loginPair(t, h)
	pair := loginPair(t, h)

	// No token, no entry.
	rec := doJSON(t, h, http.MethodPost, "/student/logout-all", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/student/logout-all", nil, map[string]string{
		"Authorization": "Bearer garbage",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/student/logout-all", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout-all status: %d, body %s", rec.Code, rec.Body.String())
	}
	var resp logoutAllResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionsRevoked != 2 {
		t.Fatalf("sessions revoked: have %d, want 2", resp.SessionsRevoked)
	}
}

func TestHealthzReflectsStore(t *testing.T) {
	h, mr, done := newTestHandler(t)
	defer done()

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthz body: %s", rec.Body.String())
	}

	mr.Close()
	rec = doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz status with store down: %d", rec.Code)
	}
}

func TestStoreOutageMapsTo503(t *testing.T) {
	h, mr, done := newTestHandler(t)
	defer done()

	pair := loginPair(t, h)
	mr.Close()

	rec := doJSON(t, h, http.MethodPost, "/student/refresh", refreshRequest{RefreshToken: pair.RefreshToken}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("refresh status with store down: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/student/login", loginRequest{
		Identifier: "alice@school.edu",
		Secret:     "correct-horse",
	}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("login status with store down: %d", rec.Code)
	}
}
