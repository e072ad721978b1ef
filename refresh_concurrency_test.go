package eduauth

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	gw, _, done := newTestGateway(t, nil)
	defer done()

	login, err := gw.Login(context.Background(), "student", "alice@school.edu", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := gw.Refresh(context.Background(), "student", login.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	fail := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if errors.Is(err, ErrUnauthorized) {
			fail++
			continue
		}
		t.Fatalf("unexpected refresh error: %v", err)
	}

	if success != 1 {
		t.Fatalf("expected exactly one refresh success, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d refresh failures, got %d", n-1, fail)
	}
}
