package internaldefs

import (
	eduauth "github.com/saleemjadallah/eduk6-backend-sub000"
)

// CounterDef defines a public type used by eduauth APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   eduauth.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by eduauth APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   eduauth.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the session gateway.
var CounterDefs = []CounterDef{
	{ID: eduauth.MetricLoginSuccess, Name: "eduauth_login_success_total", Help: "Successful login attempts."},
	{ID: eduauth.MetricLoginFailure, Name: "eduauth_login_failure_total", Help: "Failed login attempts."},
	{ID: eduauth.MetricLoginRateLimited, Name: "eduauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: eduauth.MetricRefreshSuccess, Name: "eduauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: eduauth.MetricRefreshFailure, Name: "eduauth_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: eduauth.MetricRefreshReuseDetected, Name: "eduauth_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: eduauth.MetricRefreshTampered, Name: "eduauth_refresh_tampered_total", Help: "Refresh tokens rejected for hash or family mismatch."},
	{ID: eduauth.MetricRefreshRateLimited, Name: "eduauth_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: eduauth.MetricSessionCreated, Name: "eduauth_session_created_total", Help: "Created sessions."},
	{ID: eduauth.MetricSessionInvalidated, Name: "eduauth_session_invalidated_total", Help: "Invalidated sessions."},
	{ID: eduauth.MetricFamilyRevoked, Name: "eduauth_family_revoked_total", Help: "Token family revocations."},
	{ID: eduauth.MetricLogout, Name: "eduauth_logout_total", Help: "Single-session logout operations."},
	{ID: eduauth.MetricLogoutAll, Name: "eduauth_logout_all_total", Help: "Logout-all operations."},
	{ID: eduauth.MetricAccessBlacklisted, Name: "eduauth_access_blacklisted_total", Help: "Access tokens blacklisted before natural expiry."},
}

// HistogramDefs is an exported constant or variable used by the session gateway.
var HistogramDefs = []HistogramDef{
	{ID: eduauth.MetricValidateLatency, Name: "eduauth_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the session gateway.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the session gateway.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
