package voice

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// recordingEngine wraps the stub engine and counts lifecycle calls so tests can assert teardown is exact.
type recordingEngine struct {
	*StubMediaEngine

	canConsume bool

	routersClosed    int
	transportsClosed int
	producersClosed  int
	consumersClosed  int
	producerPaused   int
	producerResumed  int
	consumerResumed  int
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{StubMediaEngine: NewStubMediaEngine(), canConsume: true}
}

func (e *recordingEngine) CloseRouter(ctx context.Context, id string)    { e.routersClosed++ }
func (e *recordingEngine) CloseTransport(ctx context.Context, id string) { e.transportsClosed++ }
func (e *recordingEngine) CloseProducer(ctx context.Context, id string)  { e.producersClosed++ }
func (e *recordingEngine) CloseConsumer(ctx context.Context, id string)  { e.consumersClosed++ }

func (e *recordingEngine) PauseProducer(ctx context.Context, id string) error {
	e.producerPaused++
	return nil
}

func (e *recordingEngine) ResumeProducer(ctx context.Context, id string) error {
	e.producerResumed++
	return nil
}

func (e *recordingEngine) ResumeConsumer(ctx context.Context, id string) error {
	e.consumerResumed++
	return nil
}

func (e *recordingEngine) CanConsume(ctx context.Context, routerID, producerID string, caps json.RawMessage) bool {
	return e.canConsume
}

func newTestManager(engine MediaEngine, maxParticipants int) *Manager {
	return NewManager(engine, 2, maxParticipants, zerolog.Nop())
}

var testCaps = json.RawMessage(`{"codecs":["opus"]}`)

func TestJoinCreatesRouterAndTransports(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(newRecordingEngine(), 10)

	userID := uuid.New()
	channelID := uuid.New()

	res, err := m.Join(ctx, "sess-1", userID, channelID, testCaps)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if len(res.RouterCapabilities) == 0 {
		t.Error("Join() returned empty router capabilities")
	}
	if res.Send.ID == "" || res.Recv.ID == "" {
		t.Error("Join() returned empty transport IDs")
	}
	if res.Send.ID == res.Recv.ID {
		t.Error("send and recv transports share an ID")
	}
	if res.State.ChannelID != channelID {
		t.Errorf("State.ChannelID = %v, want %v", res.State.ChannelID, channelID)
	}
	if res.Rejoined {
		t.Error("first join reported Rejoined")
	}
	if got := m.ParticipantCount(channelID); got != 1 {
		t.Errorf("ParticipantCount() = %d, want 1", got)
	}
}

func TestJoinSameChannelIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(newRecordingEngine(), 10)

	userID := uuid.New()
	channelID := uuid.New()

	first, err := m.Join(ctx, "sess-1", userID, channelID, testCaps)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	second, err := m.Join(ctx, "sess-1", userID, channelID, testCaps)
	if err != nil {
		t.Fatalf("second Join() error = %v", err)
	}
	if !second.Rejoined {
		t.Error("second join did not report Rejoined")
	}
	if second.Send.ID != first.Send.ID || second.Recv.ID != first.Recv.ID {
		t.Error("double join minted new transports")
	}
	if got := m.ParticipantCount(channelID); got != 1 {
		t.Errorf("ParticipantCount() = %d, want 1", got)
	}
}

func TestJoinSwitchesChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := newRecordingEngine()
	m := newTestManager(engine, 10)

	userID := uuid.New()
	chanA := uuid.New()
	chanB := uuid.New()

	if _, err := m.Join(ctx, "sess-1", userID, chanA, testCaps); err != nil {
		t.Fatalf("Join(A) error = %v", err)
	}
	res, err := m.Join(ctx, "sess-1", userID, chanB, testCaps)
	if err != nil {
		t.Fatalf("Join(B) error = %v", err)
	}
	if res.PreviousChannelID == nil || *res.PreviousChannelID != chanA {
		t.Errorf("PreviousChannelID = %v, want %v", res.PreviousChannelID, chanA)
	}
	if got := m.ParticipantCount(chanA); got != 0 {
		t.Errorf("ParticipantCount(A) = %d, want 0", got)
	}
	if got := m.ParticipantCount(chanB); got != 1 {
		t.Errorf("ParticipantCount(B) = %d, want 1", got)
	}
	// Channel A's router became empty and must have been destroyed.
	if engine.routersClosed != 1 {
		t.Errorf("routersClosed = %d, want 1", engine.routersClosed)
	}
}

func TestJoinChannelFull(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(newRecordingEngine(), 1)

	channelID := uuid.New()
	if _, err := m.Join(ctx, "sess-1", uuid.New(), channelID, testCaps); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if _, err := m.Join(ctx, "sess-2", uuid.New(), channelID, testCaps); err != ErrChannelFull {
		t.Errorf("Join() error = %v, want ErrChannelFull", err)
	}
}

func TestProduceFansOutToOtherParticipants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(newRecordingEngine(), 10)

	channelID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	aliceJoin, err := m.Join(ctx, "sess-a", alice, channelID, testCaps)
	if err != nil {
		t.Fatalf("Join(alice) error = %v", err)
	}
	if _, err := m.Join(ctx, "sess-b", bob, channelID, testCaps); err != nil {
		t.Fatalf("Join(bob) error = %v", err)
	}

	res, err := m.Produce(ctx, alice, aliceJoin.Send.ID, KindAudio, json.RawMessage(`{}`), SourceMic)
	if err != nil {
		t.Fatalf("Produce() error = %v", err)
	}
	if len(res.Offers) != 1 {
		t.Fatalf("len(Offers) = %d, want 1", len(res.Offers))
	}
	offer := res.Offers[0]
	if offer.TargetUserID != bob {
		t.Errorf("offer.TargetUserID = %v, want %v", offer.TargetUserID, bob)
	}
	if offer.ProducerUser != alice {
		t.Errorf("offer.ProducerUser = %v, want %v", offer.ProducerUser, alice)
	}
	if offer.Kind != KindAudio || offer.Source != SourceMic {
		t.Errorf("offer kind/source = %v/%v, want audio/mic", offer.Kind, offer.Source)
	}

	// The consumer starts paused; the recipient resumes it.
	if err := m.ResumeConsumer(ctx, bob, offer.ConsumerID); err != nil {
		t.Errorf("ResumeConsumer() error = %v", err)
	}
	// Resuming someone else's consumer is rejected.
	if err := m.ResumeConsumer(ctx, alice, offer.ConsumerID); err != ErrConsumerNotFound {
		t.Errorf("ResumeConsumer(wrong user) error = %v, want ErrConsumerNotFound", err)
	}
}

func TestJoinOffersExistingProducers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(newRecordingEngine(), 10)

	channelID := uuid.New()
	alice := uuid.New()

	aliceJoin, err := m.Join(ctx, "sess-a", alice, channelID, testCaps)
	if err != nil {
		t.Fatalf("Join(alice) error = %v", err)
	}
	if _, err := m.Produce(ctx, alice, aliceJoin.Send.ID, KindVideo, json.RawMessage(`{}`), SourceCamera); err != nil {
		t.Fatalf("Produce() error = %v", err)
	}

	bobJoin, err := m.Join(ctx, "sess-b", uuid.New(), channelID, testCaps)
	if err != nil {
		t.Fatalf("Join(bob) error = %v", err)
	}
	if len(bobJoin.Consumers) != 1 {
		t.Fatalf("len(Consumers) = %d, want 1", len(bobJoin.Consumers))
	}
	if bobJoin.Consumers[0].Source != SourceCamera {
		t.Errorf("Consumers[0].Source = %v, want camera", bobJoin.Consumers[0].Source)
	}
}

func TestProduceRejectsWrongTransport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(newRecordingEngine(), 10)

	userID := uuid.New()
	res, err := m.Join(ctx, "sess-1", userID, uuid.New(), testCaps)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	// The recv transport cannot be produced on.
	if _, err := m.Produce(ctx, userID, res.Recv.ID, KindAudio, nil, SourceMic); err != ErrTransportNotFound {
		t.Errorf("Produce(recv transport) error = %v, want ErrTransportNotFound", err)
	}
	// A user outside any channel cannot produce.
	if _, err := m.Produce(ctx, uuid.New(), res.Send.ID, KindAudio, nil, SourceMic); err != ErrNotInChannel {
		t.Errorf("Produce(non-participant) error = %v, want ErrNotInChannel", err)
	}
}

func TestCanConsumeFalseSkipsOffers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := newRecordingEngine()
	engine.canConsume = false
	m := newTestManager(engine, 10)

	channelID := uuid.New()
	alice := uuid.New()

	aliceJoin, err := m.Join(ctx, "sess-a", alice, channelID, testCaps)
	if err != nil {
		t.Fatalf("Join(alice) error = %v", err)
	}
	if _, err := m.Join(ctx, "sess-b", uuid.New(), channelID, testCaps); err != nil {
		t.Fatalf("Join(bob) error = %v", err)
	}

	res, err := m.Produce(ctx, alice, aliceJoin.Send.ID, KindAudio, nil, SourceMic)
	if err != nil {
		t.Fatalf("Produce() error = %v", err)
	}
	if len(res.Offers) != 0 {
		t.Errorf("len(Offers) = %d, want 0 when CanConsume is false", len(res.Offers))
	}
}

func TestStopProduceClosesDependentConsumers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := newRecordingEngine()
	m := newTestManager(engine, 10)

	channelID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	aliceJoin, _ := m.Join(ctx, "sess-a", alice, channelID, testCaps)
	if _, err := m.Join(ctx, "sess-b", bob, channelID, testCaps); err != nil {
		t.Fatalf("Join(bob) error = %v", err)
	}

	prodRes, err := m.Produce(ctx, alice, aliceJoin.Send.ID, KindAudio, nil, SourceMic)
	if err != nil {
		t.Fatalf("Produce() error = %v", err)
	}

	closed, err := m.StopProduce(ctx, alice, prodRes.ProducerID)
	if err != nil {
		t.Fatalf("StopProduce() error = %v", err)
	}
	if closed.ChannelID != channelID {
		t.Errorf("ChannelID = %v, want %v", closed.ChannelID, channelID)
	}
	if engine.producersClosed != 1 {
		t.Errorf("producersClosed = %d, want 1", engine.producersClosed)
	}
	if engine.consumersClosed != 1 {
		t.Errorf("consumersClosed = %d, want 1", engine.consumersClosed)
	}
	// Bob's consumer is gone from the index.
	if err := m.ResumeConsumer(ctx, bob, prodRes.Offers[0].ConsumerID); err != ErrConsumerNotFound {
		t.Errorf("ResumeConsumer(closed) error = %v, want ErrConsumerNotFound", err)
	}
	// Stopping again reports the producer unknown.
	if _, err := m.StopProduce(ctx, alice, prodRes.ProducerID); err != ErrProducerNotFound {
		t.Errorf("StopProduce(again) error = %v, want ErrProducerNotFound", err)
	}
}

func TestSetMutePausesAudioProducers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := newRecordingEngine()
	m := newTestManager(engine, 10)

	userID := uuid.New()
	res, _ := m.Join(ctx, "sess-1", userID, uuid.New(), testCaps)
	if _, err := m.Produce(ctx, userID, res.Send.ID, KindAudio, nil, SourceMic); err != nil {
		t.Fatalf("Produce(audio) error = %v", err)
	}
	if _, err := m.Produce(ctx, userID, res.Send.ID, KindVideo, nil, SourceCamera); err != nil {
		t.Fatalf("Produce(video) error = %v", err)
	}

	muted := true
	state, err := m.SetMute(ctx, userID, &muted, nil)
	if err != nil {
		t.Fatalf("SetMute() error = %v", err)
	}
	if !state.SelfMute {
		t.Error("state.SelfMute = false after mute")
	}
	// Only the audio producer pauses.
	if engine.producerPaused != 1 {
		t.Errorf("producerPaused = %d, want 1", engine.producerPaused)
	}

	// A new audio producer created while muted starts paused.
	if _, err := m.Produce(ctx, userID, res.Send.ID, KindAudio, nil, SourceMic); err != nil {
		t.Fatalf("Produce(audio while muted) error = %v", err)
	}
	if engine.producerPaused != 2 {
		t.Errorf("producerPaused = %d, want 2", engine.producerPaused)
	}

	unmuted := false
	if _, err := m.SetMute(ctx, userID, &unmuted, nil); err != nil {
		t.Fatalf("SetMute(false) error = %v", err)
	}
	if engine.producerResumed != 2 {
		t.Errorf("producerResumed = %d, want 2", engine.producerResumed)
	}

	// Deafen toggles independently of mute.
	deaf := true
	state, err = m.SetMute(ctx, userID, nil, &deaf)
	if err != nil {
		t.Fatalf("SetMute(deaf) error = %v", err)
	}
	if state.SelfMute || !state.SelfDeaf {
		t.Errorf("state = %+v, want unmuted and deafened", state)
	}
}

func TestLeaveTearsDownEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := newRecordingEngine()
	m := newTestManager(engine, 10)

	channelID := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	aliceJoin, _ := m.Join(ctx, "sess-a", alice, channelID, testCaps)
	bobJoin, _ := m.Join(ctx, "sess-b", bob, channelID, testCaps)

	prodRes, err := m.Produce(ctx, alice, aliceJoin.Send.ID, KindAudio, nil, SourceMic)
	if err != nil {
		t.Fatalf("Produce() error = %v", err)
	}
	if _, err := m.Produce(ctx, bob, bobJoin.Send.ID, KindAudio, nil, SourceMic); err != nil {
		t.Fatalf("Produce(bob) error = %v", err)
	}

	res, err := m.Leave(ctx, alice)
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if res.ChannelID != channelID {
		t.Errorf("ChannelID = %v, want %v", res.ChannelID, channelID)
	}
	if len(res.ClosedProducers) != 1 || res.ClosedProducers[0] != prodRes.ProducerID {
		t.Errorf("ClosedProducers = %v, want [%s]", res.ClosedProducers, prodRes.ProducerID)
	}
	// Alice's producer, her consumer of Bob's track, and Bob's consumer of hers are all closed; both her
	// transports are closed; the router stays up for Bob.
	if engine.producersClosed != 1 {
		t.Errorf("producersClosed = %d, want 1", engine.producersClosed)
	}
	if engine.consumersClosed != 2 {
		t.Errorf("consumersClosed = %d, want 2", engine.consumersClosed)
	}
	if engine.transportsClosed != 2 {
		t.Errorf("transportsClosed = %d, want 2", engine.transportsClosed)
	}
	if engine.routersClosed != 0 {
		t.Errorf("routersClosed = %d, want 0 while bob remains", engine.routersClosed)
	}
	if _, ok := m.State(alice); ok {
		t.Error("State(alice) still present after leave")
	}

	// Last participant out destroys the router.
	if _, err := m.Leave(ctx, bob); err != nil {
		t.Fatalf("Leave(bob) error = %v", err)
	}
	if engine.routersClosed != 1 {
		t.Errorf("routersClosed = %d, want 1", engine.routersClosed)
	}
	if _, err := m.Leave(ctx, bob); err != ErrNotInChannel {
		t.Errorf("Leave(again) error = %v, want ErrNotInChannel", err)
	}
}

func TestLeaveSessionOnlyTearsDownOwningSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(newRecordingEngine(), 10)

	userID := uuid.New()
	channelID := uuid.New()
	if _, err := m.Join(ctx, "sess-1", userID, channelID, testCaps); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	if _, left := m.LeaveSession(ctx, userID, "sess-2"); left {
		t.Error("LeaveSession with a different session ID tore down voice state")
	}
	if _, ok := m.State(userID); !ok {
		t.Fatal("voice state lost")
	}
	if _, left := m.LeaveSession(ctx, userID, "sess-1"); !left {
		t.Error("LeaveSession with the owning session ID did not tear down")
	}
}

func TestRemoveUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(newRecordingEngine(), 10)

	userID := uuid.New()
	channelID := uuid.New()
	if _, err := m.Join(ctx, "sess-1", userID, channelID, testCaps); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	res, removed := m.RemoveUser(ctx, userID)
	if !removed {
		t.Fatal("RemoveUser() did not remove")
	}
	if res.ChannelID != channelID {
		t.Errorf("ChannelID = %v, want %v", res.ChannelID, channelID)
	}
	if _, removed := m.RemoveUser(ctx, userID); removed {
		t.Error("second RemoveUser() reported removal")
	}
}

func TestStatesSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newTestManager(newRecordingEngine(), 10)

	if got := m.States(); len(got) != 0 {
		t.Errorf("States() = %v, want empty", got)
	}

	channelID := uuid.New()
	if _, err := m.Join(ctx, "sess-1", uuid.New(), channelID, testCaps); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if _, err := m.Join(ctx, "sess-2", uuid.New(), channelID, testCaps); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	states := m.States()
	if len(states) != 2 {
		t.Fatalf("len(States()) = %d, want 2", len(states))
	}
	for _, s := range states {
		if s.ChannelID != channelID {
			t.Errorf("state.ChannelID = %v, want %v", s.ChannelID, channelID)
		}
	}
}

func TestWorkerPoolRoundRobin(t *testing.T) {
	t.Parallel()
	p := newWorkerPool(2)
	if got := []int{p.assign(), p.assign(), p.assign()}; got[0] != 0 || got[1] != 1 || got[2] != 0 {
		t.Errorf("assign sequence = %v, want [0 1 0]", got)
	}

	// Zero means auto-size; at least one worker always exists.
	if newWorkerPool(0).size() < 1 {
		t.Error("auto-sized pool has no workers")
	}
}

func TestHandleWorkerDeath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(newRecordingEngine(), 1, 10, zerolog.Nop())

	// With a single worker, every router lands on worker 0.
	chanA := uuid.New()
	chanB := uuid.New()
	alice := uuid.New()
	bob := uuid.New()
	if _, err := m.Join(ctx, "sess-a", alice, chanA, testCaps); err != nil {
		t.Fatalf("Join(alice) error = %v", err)
	}
	if _, err := m.Join(ctx, "sess-b", bob, chanB, testCaps); err != nil {
		t.Fatalf("Join(bob) error = %v", err)
	}

	affected := m.HandleWorkerDeath(ctx, 0, 7)
	if len(affected) != 2 {
		t.Fatalf("len(affected) = %d, want 2", len(affected))
	}
	if _, ok := m.State(alice); ok {
		t.Error("alice still has voice state after worker death")
	}
	if got := m.ParticipantCount(chanA); got != 0 {
		t.Errorf("ParticipantCount(A) = %d, want 0", got)
	}

	// Rejoining rebuilds lazily on the replacement worker.
	if _, err := m.Join(ctx, "sess-a", alice, chanA, testCaps); err != nil {
		t.Fatalf("rejoin after worker death error = %v", err)
	}
}
