package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/capsulemarket/capsule/internal/domain"
)

func TestVerify(t *testing.T) {
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("platform") != "instagram" {
			t.Errorf("platform = %q", r.URL.Query().Get("platform"))
		}
		switch r.URL.Query().Get("username") {
		case "alice_ig":
			w.Write([]byte(`{"valid": true}`))
		default:
			w.Write([]byte(`{"valid": false}`))
		}
	}))
	defer upstream.Close()

	c := New(upstream.URL, zerolog.Nop())
	ctx := context.Background()

	valid, err := c.Verify(ctx, domain.PlatformInstagram, "alice_ig")
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("alice_ig should verify")
	}

	valid, err = c.Verify(ctx, domain.PlatformInstagram, "not_alice")
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Error("not_alice should not verify")
	}
}

func TestVerifyCachesVerdicts(t *testing.T) {
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"valid": true}`))
	}))
	defer upstream.Close()

	c := New(upstream.URL, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Verify(ctx, domain.PlatformTikTok, "bob_tt"); err != nil {
			t.Fatal(err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("upstream hits = %d, want 1 (cached)", got)
	}

	// A different handle misses the cache.
	if _, err := c.Verify(ctx, domain.PlatformTikTok, "carol_tt"); err != nil {
		t.Fatal(err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("upstream hits = %d, want 2", got)
	}
}

func TestVerifyBreakerOpensOnFailures(t *testing.T) {
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	c := New(upstream.URL, zerolog.Nop())
	ctx := context.Background()

	// Three consecutive failures trip the breaker.
	for i := 0; i < 3; i++ {
		if _, err := c.Verify(ctx, domain.PlatformYouTube, "dave_yt"); err == nil {
			t.Fatal("expected upstream error")
		}
	}
	tripped := hits.Load()

	// Further calls fail fast without reaching the upstream.
	if _, err := c.Verify(ctx, domain.PlatformYouTube, "dave_yt"); err == nil {
		t.Fatal("expected breaker-open error")
	}
	if got := hits.Load(); got != tripped {
		t.Errorf("upstream hits after trip = %d, want %d", got, tripped)
	}
}

func TestVerifyBadStatusIsError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	c := New(upstream.URL, zerolog.Nop())
	if _, err := c.Verify(context.Background(), domain.PlatformWeb, "any"); err == nil {
		t.Fatal("non-200 upstream should be an error, not a verdict")
	}
}
