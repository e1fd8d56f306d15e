package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestAcquireRequest_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()

	first := l.AcquireRequest("p1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireRequest("p1", now)
	if second.Allowed {
		t.Fatalf("second should be denied")
	}
	if second.RetryAfter != 1 {
		t.Fatalf("retry_after=%d", second.RetryAfter)
	}

	other := l.AcquireRequest("p2", now)
	if !other.Allowed {
		t.Fatalf("other principal should not share the cap")
	}

	first.Permit.Release()
	first.Permit.Release()
	third := l.AcquireRequest("p1", now)
	if !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
}

func TestAcquireRequest_TokenBucketRefills(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Now()

	for i := 0; i < 2; i++ {
		if d := l.AcquireRequest("p1", now); !d.Allowed {
			t.Fatalf("request %d denied inside burst", i)
		}
	}
	denied := l.AcquireRequest("p1", now)
	if denied.Allowed {
		t.Fatalf("request beyond burst allowed")
	}
	if denied.RetryAfter < 1 {
		t.Fatalf("retry_after=%d", denied.RetryAfter)
	}

	if d := l.AcquireRequest("p1", now.Add(1100*time.Millisecond)); !d.Allowed {
		t.Fatalf("request after refill denied")
	}
}

func TestLimiter_BoundsEntries(t *testing.T) {
	l := New(Config{MaxEntries: 2, EntryTTL: time.Minute})
	now := time.Now()
	l.AcquireRequest("a", now)
	l.AcquireRequest("b", now)
	l.AcquireRequest("c", now.Add(2*time.Minute))
	if n := l.Len(); n > 2 {
		t.Fatalf("tracked=%d, want <= 2", n)
	}
}

func TestPrincipalKeys(t *testing.T) {
	k := PrincipalKeyFromAPIKey("secret")
	if !strings.HasPrefix(k, "k_") || strings.Contains(k, "secret") || len(k) != 34 {
		t.Fatalf("api key principal=%q", k)
	}
	ip := PrincipalKeyFromIP("203.0.113.7")
	if !strings.HasPrefix(ip, "ip_") || strings.Contains(ip, "203.0.113.7") {
		t.Fatalf("ip principal=%q", ip)
	}
	if PrincipalKeyFromIP("203.0.113.7") != ip {
		t.Fatalf("ip principal not stable")
	}
}

func TestAcquireRequest_DeniedByConcurrencyDoesNotSpendToken(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2, MaxConcurrentRequests: 1})
	now := time.Now()

	held := l.AcquireRequest("p1", now)
	if !held.Allowed {
		t.Fatalf("first request denied")
	}
	if d := l.AcquireRequest("p1", now); d.Allowed {
		t.Fatalf("second request should hit the concurrency cap")
	}
	held.Permit.Release()

	// The refunded token leaves one in the bucket.
	if d := l.AcquireRequest("p1", now); !d.Allowed {
		t.Fatalf("request after release denied; concurrency denial spent a token")
	}
}

func TestLimiter_EvictsLeastRecentlySeen(t *testing.T) {
	l := New(Config{MaxEntries: 2, EntryTTL: time.Hour, RPS: 1, Burst: 1})
	now := time.Now()

	l.AcquireRequest("old", now)
	l.AcquireRequest("new", now.Add(100*time.Millisecond))
	l.AcquireRequest("newest", now.Add(200*time.Millisecond))
	if n := l.Len(); n != 2 {
		t.Fatalf("tracked=%d, want 2", n)
	}

	// "new" survived eviction with its bucket still spent.
	if d := l.AcquireRequest("new", now.Add(200*time.Millisecond)); d.Allowed {
		t.Fatalf("new should still be limited")
	}
}

func TestDecision_UnlimitedConfigAlwaysAllows(t *testing.T) {
	l := New(Config{})
	now := time.Now()
	for i := 0; i < 100; i++ {
		d := l.AcquireRequest("", now)
		if !d.Allowed || d.Permit == nil {
			t.Fatalf("request %d denied with limits off", i)
		}
		d.Permit.Release()
	}
}
