package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/readstate"
)

// fakeReadStateRepo implements readstate.Repository in memory, keyed by channel ID.
type fakeReadStateRepo struct {
	states map[uuid.UUID]*readstate.ReadState
}

func newFakeReadStateRepo() *fakeReadStateRepo {
	return &fakeReadStateRepo{states: make(map[uuid.UUID]*readstate.ReadState)}
}

func (r *fakeReadStateRepo) Get(_ context.Context, _, channelID uuid.UUID) (*readstate.ReadState, error) {
	s, ok := r.states[channelID]
	if !ok {
		return nil, readstate.ErrNotFound
	}
	return s, nil
}

func (r *fakeReadStateRepo) ListForUser(context.Context, uuid.UUID) ([]readstate.ReadState, error) {
	out := make([]readstate.ReadState, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, *s)
	}
	return out, nil
}

func (r *fakeReadStateRepo) IncrementMention(_ context.Context, userID, channelID uuid.UUID) error {
	s, ok := r.states[channelID]
	if !ok {
		s = &readstate.ReadState{UserID: userID, ChannelID: channelID}
		r.states[channelID] = s
	}
	s.MentionCount++
	return nil
}

func (r *fakeReadStateRepo) MarkRead(_ context.Context, userID, channelID, lastReadMessageID uuid.UUID) (*readstate.ReadState, error) {
	s := &readstate.ReadState{
		UserID:            userID,
		ChannelID:         channelID,
		LastReadMessageID: &lastReadMessageID,
	}
	r.states[channelID] = s
	return s, nil
}

func testReadStateApp(userID uuid.UUID, repo readstate.Repository) *fiber.App {
	handler := NewReadStateHandler(repo, zerolog.Nop())

	app := fiber.New()
	app.Use(fakeAuth(userID))
	app.Put("/channels/:channelID/read", handler.MarkRead)
	app.Get("/read-states", handler.List)
	return app
}

func TestMarkRead_ResetsMentionCount(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	channelID := uuid.New()
	repo := newFakeReadStateRepo()
	if err := repo.IncrementMention(context.Background(), userID, channelID); err != nil {
		t.Fatalf("IncrementMention() error = %v", err)
	}

	app := testReadStateApp(userID, repo)
	messageID := uuid.New()

	body := `{"message_id":"` + messageID.String() + `"}`
	req := httptest.NewRequest(http.MethodPut, "/channels/"+channelID.String()+"/read", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := doReq(t, app, req)

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	var wrapped struct {
		Data models.ReadState `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if wrapped.Data.MentionCount != 0 {
		t.Errorf("MentionCount = %d, want 0", wrapped.Data.MentionCount)
	}
	if wrapped.Data.LastReadMessageID == nil || *wrapped.Data.LastReadMessageID != messageID.String() {
		t.Errorf("LastReadMessageID = %v, want %s", wrapped.Data.LastReadMessageID, messageID)
	}
}

func TestMarkRead_InvalidInputs(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	app := testReadStateApp(userID, newFakeReadStateRepo())

	// Bad channel ID in the path.
	req := httptest.NewRequest(http.MethodPut, "/channels/not-a-uuid/read", strings.NewReader(`{"message_id":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	if resp := doReq(t, app, req); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("bad channel: status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}

	// Bad message ID in the body.
	req = httptest.NewRequest(http.MethodPut, "/channels/"+uuid.NewString()+"/read", strings.NewReader(`{"message_id":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	if resp := doReq(t, app, req); resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("bad message: status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}

func TestListReadStates(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	repo := newFakeReadStateRepo()
	for range 3 {
		if _, err := repo.MarkRead(context.Background(), userID, uuid.New(), uuid.New()); err != nil {
			t.Fatalf("MarkRead() error = %v", err)
		}
	}

	app := testReadStateApp(userID, repo)
	req := httptest.NewRequest(http.MethodGet, "/read-states", nil)
	resp := doReq(t, app, req)

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	var wrapped struct {
		Data []models.ReadState `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(wrapped.Data) != 3 {
		t.Errorf("len(Data) = %d, want 3", len(wrapped.Data))
	}
}

func TestListReadStates_Unauthenticated(t *testing.T) {
	t.Parallel()
	app := testReadStateApp(uuid.Nil, newFakeReadStateRepo())

	req := httptest.NewRequest(http.MethodGet, "/read-states", nil)
	if resp := doReq(t, app, req); resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}
