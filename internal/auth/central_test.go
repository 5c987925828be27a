package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newCentralServer(t *testing.T, valid bool, userID uuid.UUID, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/verify-token" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid":        valid,
			"user_id":      userID.String(),
			"tag":          "alice#0420",
			"display_name": "Alice",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCentralVerify_Success(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	var calls atomic.Int64
	srv := newCentralServer(t, true, userID, &calls)

	v := NewCentralVerifier(srv.URL, 5*time.Minute)
	identity, err := v.Verify(context.Background(), "central-token")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.UserID != userID {
		t.Errorf("UserID = %v, want %v", identity.UserID, userID)
	}
	if identity.Tag != "alice#0420" {
		t.Errorf("Tag = %q, want alice#0420", identity.Tag)
	}
}

func TestCentralVerify_CachesPositiveResults(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	srv := newCentralServer(t, true, uuid.New(), &calls)

	v := NewCentralVerifier(srv.URL, 5*time.Minute)
	for range 3 {
		if _, err := v.Verify(context.Background(), "same-token"); err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("HTTP calls = %d, want 1 (cached)", got)
	}

	// A different token misses the cache.
	if _, err := v.Verify(context.Background(), "other-token"); err != nil {
		t.Fatalf("Verify(other) error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("HTTP calls = %d, want 2", got)
	}
}

func TestCentralVerify_Rejected(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	srv := newCentralServer(t, false, uuid.New(), &calls)

	v := NewCentralVerifier(srv.URL, 5*time.Minute)
	if _, err := v.Verify(context.Background(), "bad-token"); !errors.Is(err, ErrCentralRejected) {
		t.Fatalf("Verify() error = %v, want ErrCentralRejected", err)
	}

	// Rejections are not cached; each attempt re-asks the service.
	_, _ = v.Verify(context.Background(), "bad-token")
	if got := calls.Load(); got != 2 {
		t.Errorf("HTTP calls = %d, want 2 (negative results uncached)", got)
	}
}

func TestCentralVerify_ExpiredCacheEntryRefetches(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	srv := newCentralServer(t, true, uuid.New(), &calls)

	v := NewCentralVerifier(srv.URL, time.Nanosecond)
	if _, err := v.Verify(context.Background(), "tok"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := v.Verify(context.Background(), "tok"); err != nil {
		t.Fatalf("second Verify() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("HTTP calls = %d, want 2 after TTL expiry", got)
	}
}
