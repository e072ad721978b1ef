package eduauth

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledByDefault(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricLoginSuccess)
	m.Add(MetricSessionInvalidated, 5)
	if m.Value(MetricLoginSuccess) != 0 || m.Value(MetricSessionInvalidated) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	if m.Enabled() || m.LatencyEnabled() {
		t.Fatal("expected disabled flags")
	}
}

func TestMetricsCountersAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Add(MetricSessionInvalidated, 4)
	m.Observe(MetricValidateLatency, 3*time.Millisecond)
	m.Observe(MetricValidateLatency, 70*time.Millisecond)
	m.Observe(MetricValidateLatency, 2*time.Second)

	if m.Value(MetricLoginSuccess) != 2 {
		t.Fatalf("login success: have %d, want 2", m.Value(MetricLoginSuccess))
	}

	snap := m.Snapshot()
	if snap.Counters[MetricSessionInvalidated] != 4 {
		t.Fatalf("invalidated: have %d, want 4", snap.Counters[MetricSessionInvalidated])
	}
	buckets := snap.Histograms[MetricValidateLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("bucket count: have %d, want %d", len(buckets), histBucketCount)
	}
	if buckets[0] != 1 || buckets[4] != 1 || buckets[7] != 1 {
		t.Fatalf("observations landed in wrong buckets: %v", buckets)
	}
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	const workers = 8
	const perWorker = 1000
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRefreshSuccess); got != workers*perWorker {
		t.Fatalf("lost increments: have %d, want %d", got, workers*perWorker)
	}
}

func TestGatewayMetricsReflectOutcomes(t *testing.T) {
	gw, _, done := newTestGateway(t, func(b *Builder) {
		b.WithMetricsEnabled(true)
	})
	defer done()
	ctx := context.Background()

	login, err := gw.Login(ctx, "student", "alice@school.edu", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := gw.Login(ctx, "student", "alice@school.edu", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
	if _, _, err := gw.Refresh(ctx, "student", login.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// Replay triggers reuse detection and family revocation.
	if _, _, err := gw.Refresh(ctx, "student", login.RefreshToken); err == nil {
		t.Fatal("expected replay rejection")
	}

	snap := gw.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricLoginSuccess:         1,
		MetricLoginFailure:         1,
		MetricSessionCreated:       1,
		MetricRefreshSuccess:       1,
		MetricRefreshReuseDetected: 1,
		MetricFamilyRevoked:        1,
		MetricSessionInvalidated:   1,
	}
	for id, n := range want {
		if snap.Counters[id] != n {
			t.Fatalf("counter %d: have %d, want %d", id, snap.Counters[id], n)
		}
	}
}
