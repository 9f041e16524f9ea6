package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Ident-Gate/Identgate/internal/domain/ratelimit"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	r := NewRateLimiter()
	cfg := ratelimit.Config{Rate: 10, Burst: 5, Period: time.Second}
	key := ratelimit.FormatKey(ratelimit.KeyTypeIP, "10.0.0.1")

	for i := 0; i < 5; i++ {
		res, err := r.Allow(context.Background(), key, cfg)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied within burst", i)
		}
	}
}

func TestRateLimiterExhaustion(t *testing.T) {
	r := NewRateLimiter()
	cfg := ratelimit.Config{Rate: 2, Burst: 2, Period: time.Hour}
	key := ratelimit.FormatKey(ratelimit.KeyTypeIP, "10.0.0.2")

	for i := 0; i < 2; i++ {
		res, err := r.Allow(context.Background(), key, cfg)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied within burst", i)
		}
	}

	res, err := r.Allow(context.Background(), key, cfg)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if res.Allowed {
		t.Error("request allowed past burst")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", res.RetryAfter)
	}
}

func TestRateLimiterDeniesExactlyAtBurstBoundary(t *testing.T) {
	r := NewRateLimiter()
	cfg := ratelimit.Config{Rate: 5, Burst: 5, Period: time.Hour}
	key := ratelimit.FormatKey(ratelimit.KeyTypeIP, "10.0.0.9")

	allowed := 0
	for i := 0; i < 10; i++ {
		res, err := r.Allow(context.Background(), key, cfg)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if res.Allowed {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed = %d back-to-back requests, want exactly burst (5)", allowed)
	}
}

func TestRateLimiterKeyIsolation(t *testing.T) {
	r := NewRateLimiter()
	cfg := ratelimit.Config{Rate: 1, Burst: 1, Period: time.Hour}

	keyA := ratelimit.FormatKey(ratelimit.KeyTypeIP, "10.0.0.3")
	keyB := ratelimit.FormatKey(ratelimit.KeyTypeSubject, "usr_a1b2c3d4")

	if res, _ := r.Allow(context.Background(), keyA, cfg); !res.Allowed {
		t.Fatal("first request on keyA denied")
	}
	if res, _ := r.Allow(context.Background(), keyA, cfg); res.Allowed {
		t.Error("second request on keyA allowed")
	}
	if res, _ := r.Allow(context.Background(), keyB, cfg); !res.Allowed {
		t.Error("keyB throttled by keyA's usage")
	}
}

func TestRateLimiterDefaultsZeroRateAndBurst(t *testing.T) {
	r := NewRateLimiter()
	res, err := r.Allow(context.Background(), "k", ratelimit.Config{Period: time.Second})
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !res.Allowed {
		t.Error("first request with zeroed config denied")
	}
}

func TestRateLimiterConcurrentAccess(t *testing.T) {
	r := NewRateLimiter()
	cfg := ratelimit.Config{Rate: 100, Burst: 100, Period: time.Second}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				res, err := r.Allow(context.Background(), "shared", cfg)
				if err != nil {
					t.Errorf("Allow failed: %v", err)
					return
				}
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// 200 requests against a burst of 100: some must pass, some must not.
	if allowed == 0 || allowed == 200 {
		t.Errorf("allowed = %d, want partial acceptance", allowed)
	}
}

func TestRateLimiterCleanupRemovesIdleKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRateLimiterWithConfig(10*time.Millisecond, 20*time.Millisecond)
	cfg := ratelimit.Config{Rate: 1, Burst: 1, Period: time.Millisecond}

	if _, err := r.Allow(context.Background(), "idle-key", cfg); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if r.Size() != 1 {
		t.Fatalf("size = %d, want 1", r.Size())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartCleanup(ctx)

	deadline := time.Now().Add(time.Second)
	for r.Size() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Size() != 0 {
		t.Errorf("size = %d after cleanup window, want 0", r.Size())
	}

	r.Stop()
	r.Stop() // second call must be safe
}
