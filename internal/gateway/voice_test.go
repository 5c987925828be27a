package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/voice"
)

// newVoiceTestHub builds a hub with a real voice manager on the stub engine and no resolver/channel repo, so
// permission and channel-type checks are skipped and the command plumbing itself is under test.
func newVoiceTestHub(t *testing.T) *Hub {
	t.Helper()
	_, rdb := newTestRedis(t)
	cfg := testConfig()
	sessions := NewSessionStore(rdb, cfg.GatewaySessionTTL, cfg.GatewayReplayBufferSize)
	vm := voice.NewManager(voice.NewStubMediaEngine(), 1, 10, zerolog.Nop())
	return NewHub(rdb, cfg, sessions, nil, nil, nil, nil, nil, nil, nil, nil, vm, nil, nil, nil, zerolog.Nop())
}

// newVoiceTestClient registers an identified client with a buffered send channel and no underlying connection.
func newVoiceTestClient(hub *Hub, sessionID string) *Client {
	c := &Client{
		hub:        hub,
		send:       make(chan []byte, 256),
		voiceQueue: make(chan json.RawMessage, voiceQueueSize),
		done:       make(chan struct{}),
		log:        zerolog.Nop(),
	}
	c.mu.Lock()
	c.userID = uuid.New()
	c.sessionID = sessionID
	c.identified = true
	c.mu.Unlock()

	hub.mu.Lock()
	hub.clients[sessionID] = c
	hub.userSessions[c.userID] = map[string]*Client{sessionID: c}
	hub.mu.Unlock()
	return c
}

// nextFrame pops one dispatch frame off the client's send buffer.
func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case msg := <-c.send:
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func voiceCommand(t *testing.T, cmd models.VoiceCommandData) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return raw
}

func TestHandleVoiceCommandJoin(t *testing.T) {
	t.Parallel()
	hub := newVoiceTestHub(t)
	c := newVoiceTestClient(hub, "sess-1")
	channelID := uuid.New()

	hub.handleVoiceCommand(c, voiceCommand(t, models.VoiceCommandData{
		Cmd:       models.VoiceCmdJoin,
		ChannelID: channelID.String(),
	}))

	caps := nextFrame(t, c)
	if caps.Type == nil || *caps.Type != events.VoiceRouterCapabilities {
		t.Fatalf("first frame = %v, want VOICE_ROUTER_CAPABILITIES", caps.Type)
	}
	created := nextFrame(t, c)
	if created.Type == nil || *created.Type != events.VoiceTransportCreated {
		t.Fatalf("second frame = %v, want VOICE_TRANSPORT_CREATED", created.Type)
	}

	var transports models.VoiceTransportCreatedData
	if err := json.Unmarshal(created.Data, &transports); err != nil {
		t.Fatalf("unmarshal transports: %v", err)
	}
	if transports.Send.ID == "" || transports.Recv.ID == "" {
		t.Error("transport IDs missing from VOICE_TRANSPORT_CREATED")
	}

	if _, ok := hub.voice.State(c.UserID()); !ok {
		t.Error("voice manager has no state for joined user")
	}
}

func TestHandleVoiceCommandProduceFansOut(t *testing.T) {
	t.Parallel()
	hub := newVoiceTestHub(t)
	alice := newVoiceTestClient(hub, "sess-a")
	bob := newVoiceTestClient(hub, "sess-b")
	channelID := uuid.New()

	join := models.VoiceCommandData{Cmd: models.VoiceCmdJoin, ChannelID: channelID.String()}
	hub.handleVoiceCommand(alice, voiceCommand(t, join))
	hub.handleVoiceCommand(bob, voiceCommand(t, join))

	nextFrame(t, alice) // capabilities
	created := nextFrame(t, alice)
	var transports models.VoiceTransportCreatedData
	if err := json.Unmarshal(created.Data, &transports); err != nil {
		t.Fatalf("unmarshal transports: %v", err)
	}
	nextFrame(t, bob) // capabilities
	nextFrame(t, bob) // transports

	hub.handleVoiceCommand(alice, voiceCommand(t, models.VoiceCommandData{
		Cmd:         models.VoiceCmdProduce,
		TransportID: transports.Send.ID,
		Kind:        "audio",
	}))

	produced := nextFrame(t, alice)
	if produced.Type == nil || *produced.Type != events.VoiceProduced {
		t.Fatalf("frame = %v, want VOICE_PRODUCED", produced.Type)
	}

	// Bob's session receives the paused consumer offer directly.
	offer := nextFrame(t, bob)
	if offer.Type == nil || *offer.Type != events.VoiceNewConsumer {
		t.Fatalf("frame = %v, want VOICE_NEW_CONSUMER", offer.Type)
	}
	var consumer models.VoiceNewConsumerData
	if err := json.Unmarshal(offer.Data, &consumer); err != nil {
		t.Fatalf("unmarshal consumer: %v", err)
	}
	if consumer.UserID != alice.UserID().String() {
		t.Errorf("consumer.UserID = %q, want alice %q", consumer.UserID, alice.UserID())
	}

	// Bob resumes the consumer without error (no VOICE_ERROR frame follows).
	hub.handleVoiceCommand(bob, voiceCommand(t, models.VoiceCommandData{
		Cmd:        models.VoiceCmdConsumerResume,
		ConsumerID: consumer.ConsumerID,
	}))
	select {
	case msg := <-bob.send:
		t.Fatalf("unexpected frame after consumer_resume: %s", msg)
	default:
	}
}

func TestHandleVoiceCommandErrors(t *testing.T) {
	t.Parallel()
	hub := newVoiceTestHub(t)
	c := newVoiceTestClient(hub, "sess-1")

	// Unknown command.
	hub.handleVoiceCommand(c, voiceCommand(t, models.VoiceCommandData{Cmd: "warp"}))
	frame := nextFrame(t, c)
	if frame.Type == nil || *frame.Type != events.VoiceError {
		t.Fatalf("frame = %v, want VOICE_ERROR", frame.Type)
	}

	// Leaving without being in a channel surfaces the 8xxx taxonomy code.
	hub.handleVoiceCommand(c, voiceCommand(t, models.VoiceCommandData{Cmd: models.VoiceCmdLeave}))
	frame = nextFrame(t, c)
	if frame.Type == nil || *frame.Type != events.VoiceError {
		t.Fatalf("frame = %v, want VOICE_ERROR", frame.Type)
	}
	var verr models.VoiceErrorData
	if err := json.Unmarshal(frame.Data, &verr); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if verr.Code < 8000 || verr.Code > 8003 {
		t.Errorf("error code = %d, want 8000-8003", verr.Code)
	}
}

func TestVoiceTeardownOnSessionClose(t *testing.T) {
	t.Parallel()
	hub := newVoiceTestHub(t)
	c := newVoiceTestClient(hub, "sess-1")
	channelID := uuid.New()

	hub.handleVoiceCommand(c, voiceCommand(t, models.VoiceCommandData{
		Cmd:       models.VoiceCmdJoin,
		ChannelID: channelID.String(),
	}))
	if _, ok := hub.voice.State(c.UserID()); !ok {
		t.Fatal("join did not record voice state")
	}

	// A different session of the same user disconnecting must not destroy the voice state.
	hub.teardownVoiceForSession(t.Context(), c.UserID(), "sess-other")
	if _, ok := hub.voice.State(c.UserID()); !ok {
		t.Fatal("voice state lost to a non-owning session")
	}

	// The owning session's disconnect tears it down immediately.
	hub.teardownVoiceForSession(t.Context(), c.UserID(), "sess-1")
	if _, ok := hub.voice.State(c.UserID()); ok {
		t.Error("voice state survived owning session teardown")
	}
}
