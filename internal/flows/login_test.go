package flows

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/saleemjadallah/eduk6-backend-sub000/session"
)

type fakeSaver struct {
	err  error
	sess *session.Session
}

func (f *fakeSaver) Save(_ context.Context, sess *session.Session, _ time.Duration) error {
	f.sess = sess
	return f.err
}

type fakeLoginLimiter struct {
	checkErr   error
	increments int
	resets     int
}

func (f *fakeLoginLimiter) CheckLogin(context.Context, string, string) error { return f.checkErr }
func (f *fakeLoginLimiter) IncrementLogin(context.Context, string, string) error {
	f.increments++
	return nil
}
func (f *fakeLoginLimiter) ResetLogin(context.Context, string, string) error {
	f.resets++
	return nil
}

func loginTestDeps(store LoginSessionStore) LoginDeps {
	return LoginDeps{
		ActorType: "student",
		VerifyCredential: func(_ context.Context, identifier, secret string) (Principal, error) {
			if identifier == "alice@school.edu" && secret == "correct-horse" {
				return Principal{
					UserID: "u-1",
					Role:   "student",
					Claims: map[string]string{"school_id": "sch-42"},
				}, nil
			}
			return Principal{}, errors.New("invalid credentials")
		},
		IssueRefresh: func(userID, actorType, familyID string) (string, string, string, error) {
			return "refresh-token", "jti-1", "fam-1", nil
		},
		IssueAccess: func(*session.Session) (string, error) {
			return "access-token", nil
		},
		HashToken:    func(s string) [32]byte { return sha256.Sum256([]byte(s)) },
		HashBytes:    sha256.Sum256,
		RefreshTTL:   time.Hour,
		SessionStore: store,
	}
}

func TestRunLoginSuccessPopulatesSession(t *testing.T) {
	store := &fakeSaver{}
	deps := loginTestDeps(store)
	deps.ClientIP = "203.0.113.7"
	deps.DeviceInfo = "test-agent"

	result := RunLogin(context.Background(), "alice@school.edu", "correct-horse", deps)
	if result.Failure != LoginFailureNone {
		t.Fatalf("failure: have %d, want none (%v)", result.Failure, result.Err)
	}
	if result.AccessToken != "access-token" || result.RefreshToken != "refresh-token" {
		t.Fatalf("wrong pair: %+v", result)
	}
	if result.FamilyID != "fam-1" || result.UserID != "u-1" {
		t.Fatalf("wrong identity: %+v", result)
	}

	sess := store.sess
	if sess == nil {
		t.Fatal("session was not saved")
	}
	if sess.ID != "jti-1" || sess.FamilyID != "fam-1" || sess.ActorType != "student" {
		t.Fatalf("session lineage wrong: %+v", sess)
	}
	if sess.RefreshHash != sha256.Sum256([]byte("refresh-token")) {
		t.Fatal("stored hash does not cover the refresh token")
	}
	if sess.IPHash != sha256.Sum256([]byte("203.0.113.7")) {
		t.Fatal("stored ip hash wrong")
	}
	if sess.DeviceInfo != "test-agent" {
		t.Fatalf("device info: %q", sess.DeviceInfo)
	}
	if sess.Extra["school_id"] != "sch-42" {
		t.Fatalf("principal claims not carried: %v", sess.Extra)
	}
}

func TestRunLoginBadCredentialIncrementsCounter(t *testing.T) {
	store := &fakeSaver{}
	limiter := &fakeLoginLimiter{}
	deps := loginTestDeps(store)
	deps.RateLimiter = limiter

	result := RunLogin(context.Background(), "alice@school.edu", "wrong", deps)
	if result.Failure != LoginFailureCredential {
		t.Fatalf("expected credential failure, got %+v", result)
	}
	if limiter.increments != 1 {
		t.Fatalf("expected one attempt increment, got %d", limiter.increments)
	}
	if store.sess != nil {
		t.Fatal("failed login must not create a session")
	}
}

func TestRunLoginRateLimitedSkipsVerification(t *testing.T) {
	limitErr := errors.New("cooldown active")
	var verified bool
	deps := loginTestDeps(&fakeSaver{})
	deps.RateLimiter = &fakeLoginLimiter{checkErr: limitErr}
	deps.VerifyCredential = func(context.Context, string, string) (Principal, error) {
		verified = true
		return Principal{}, nil
	}

	result := RunLogin(context.Background(), "alice@school.edu", "correct-horse", deps)
	if result.Failure != LoginFailureRateLimited || !errors.Is(result.Err, limitErr) {
		t.Fatalf("expected rate-limit failure, got %+v", result)
	}
	if verified {
		t.Fatal("rate-limited login must not run the credential check")
	}
}

func TestRunLoginSuccessResetsCounter(t *testing.T) {
	limiter := &fakeLoginLimiter{}
	deps := loginTestDeps(&fakeSaver{})
	deps.RateLimiter = limiter

	result := RunLogin(context.Background(), "alice@school.edu", "correct-horse", deps)
	if result.Failure != LoginFailureNone {
		t.Fatalf("login failed: %+v", result)
	}
	if limiter.resets != 1 {
		t.Fatalf("expected one attempt reset, got %d", limiter.resets)
	}
}

func TestRunLoginSessionSaveFailure(t *testing.T) {
	store := &fakeSaver{err: session.ErrRedisUnavailable}
	result := RunLogin(context.Background(), "alice@school.edu", "correct-horse", loginTestDeps(store))
	if result.Failure != LoginFailureSessionSave || !errors.Is(result.Err, session.ErrRedisUnavailable) {
		t.Fatalf("expected save failure, got %+v", result)
	}
}
