package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCentralRejected is returned when the central service answers but reports the token invalid.
var ErrCentralRejected = errors.New("central service rejected token")

// CentralIdentity is the profile resolved by the central verify endpoint for a central-issued token. Tag is the
// "username#discriminator" pair.
type CentralIdentity struct {
	UserID      uuid.UUID
	Tag         string
	DisplayName string
	AvatarURL   string
}

// CentralVerifier validates bearer tokens against a central account service. Positive results are cached in memory
// keyed by the raw token string, so repeated requests with the same token cost one HTTP round trip per TTL window.
// Negative results are never cached: a token rejected once may become valid (e.g. clock skew) and re-verifying is
// cheap relative to the failure path.
type CentralVerifier struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]centralCacheEntry
}

type centralCacheEntry struct {
	identity CentralIdentity
	expires  time.Time
}

// NewCentralVerifier creates a verifier for the central service at baseURL. ttl bounds how long a positive
// verification is trusted without re-checking.
func NewCentralVerifier(baseURL string, ttl time.Duration) *CentralVerifier {
	return &CentralVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     ttl,
		cache:   make(map[string]centralCacheEntry),
	}
}

// centralVerifyResponse is the wire shape of the central service's verify endpoint.
type centralVerifyResponse struct {
	Valid       bool   `json:"valid"`
	UserID      string `json:"user_id"`
	Tag         string `json:"tag"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Verify resolves the token to a central identity, consulting the cache first. Returns ErrCentralRejected when the
// service answers with valid=false.
func (v *CentralVerifier) Verify(ctx context.Context, token string) (*CentralIdentity, error) {
	now := time.Now()

	v.mu.Lock()
	if entry, ok := v.cache[token]; ok {
		if now.Before(entry.expires) {
			identity := entry.identity
			v.mu.Unlock()
			return &identity, nil
		}
		delete(v.cache, token)
	}
	v.mu.Unlock()

	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/api/verify-token", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("central verify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("central verify returned status %d", resp.StatusCode)
	}

	var body centralVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if !body.Valid {
		return nil, ErrCentralRejected
	}

	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse central user ID: %w", err)
	}

	identity := CentralIdentity{
		UserID:      userID,
		Tag:         body.Tag,
		DisplayName: body.DisplayName,
		AvatarURL:   body.AvatarURL,
	}

	v.mu.Lock()
	v.cache[token] = centralCacheEntry{identity: identity, expires: now.Add(v.ttl)}
	v.mu.Unlock()

	return &identity, nil
}
