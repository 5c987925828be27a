package voice

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ecto-chat/ecto-server/internal/models"
)

// workerPool assigns routers to media workers round-robin. Workers are separate OS processes in a production
// engine; here the pool only tracks assignment so the control plane behaves the same regardless of backend.
type workerPool struct {
	mu   sync.Mutex
	ids  []int
	next int
}

// newWorkerPool sizes the pool from the configured count. A count of zero means auto: half the CPUs, rounded up,
// never fewer than one.
func newWorkerPool(count int) *workerPool {
	if count <= 0 {
		count = (runtime.NumCPU() + 1) / 2
		if count < 1 {
			count = 1
		}
	}
	ids := make([]int, count)
	for i := range ids {
		ids[i] = i
	}
	return &workerPool{ids: ids}
}

// assign returns the next worker ID in round-robin order.
func (p *workerPool) assign() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.ids[p.next%len(p.ids)]
	p.next++
	return id
}

// replace swaps a dead worker's ID for a fresh one so future routers land on the replacement, not the corpse.
func (p *workerPool) replace(deadID, newID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, id := range p.ids {
		if id == deadID {
			p.ids[i] = newID
		}
	}
}

func (p *workerPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// participant is one user's full voice footprint in a single channel: their session, both transports, everything
// they produce and everything they consume.
type participant struct {
	userID    uuid.UUID
	sessionID string
	channelID uuid.UUID
	send      *Transport
	recv      *Transport
	// rtpCapabilities are the client's declared receive capabilities, checked via engine.CanConsume before each
	// consumer is created for this participant.
	rtpCapabilities json.RawMessage
	producers       map[string]*Producer
	consumers       map[string]*Consumer
	state           State
}

// routerState pairs a Router with the set of participants currently attached to it.
type routerState struct {
	router Router
	users  map[uuid.UUID]*participant
}

// Manager owns all in-memory voice coordination state: one router per active voice channel, per-user transports,
// producers, consumers, and the lookup indices that keep teardown exact. All state is ephemeral; on process
// restart clients rejoin and everything is rebuilt. Methods are safe for concurrent use — callers from different
// sessions run in parallel, while the gateway serialises commands from a single session through its own FIFO.
type Manager struct {
	mu              sync.Mutex
	engine          MediaEngine
	workers         *workerPool
	maxParticipants int
	log             zerolog.Logger

	routers      map[uuid.UUID]*routerState // channelID -> router
	participants map[uuid.UUID]*participant // userID -> participant (a user is in at most one voice channel)

	// Flat indices so transport/producer/consumer IDs arriving from clients resolve in O(1) and never leak after
	// teardown. Every entry here is also reachable through a participant; the two views are pruned together.
	transportIndex map[string]*Transport
	producerIndex  map[string]*Producer
	consumerIndex  map[string]*Consumer
}

// NewManager creates a voice manager backed by the given media engine. workerCount <= 0 sizes the worker pool
// automatically from the CPU count.
func NewManager(engine MediaEngine, workerCount, maxParticipants int, logger zerolog.Logger) *Manager {
	return &Manager{
		engine:          engine,
		workers:         newWorkerPool(workerCount),
		maxParticipants: maxParticipants,
		log:             logger.With().Str("component", "voice").Logger(),
		routers:         make(map[uuid.UUID]*routerState),
		participants:    make(map[uuid.UUID]*participant),
		transportIndex:  make(map[string]*Transport),
		producerIndex:   make(map[string]*Producer),
		consumerIndex:   make(map[string]*Consumer),
	}
}

// WorkerCount returns the size of the media worker pool.
func (m *Manager) WorkerCount() int { return m.workers.size() }

// TransportInfo is one created transport's ID plus the engine's connection parameters (ICE/DTLS) for the client.
type TransportInfo struct {
	ID         string          `json:"id"`
	Direction  string          `json:"direction"`
	Parameters json.RawMessage `json:"parameters"`
}

// ConsumerOffer describes a consumer created server-side that the target user must resume. TargetUserID and
// TargetSessionID name the recipient; the remaining fields are the voice.new_consumer payload.
type ConsumerOffer struct {
	TargetUserID    uuid.UUID
	TargetSessionID string
	ConsumerID      string
	ProducerID      string
	ProducerUser    uuid.UUID
	Kind            Kind
	Source          Source
	RTPParameters   json.RawMessage
}

// JoinResult is everything the gateway pushes back to a joining session, in order: router capabilities, the two
// transports, then one new_consumer offer per existing producer in the channel.
type JoinResult struct {
	ChannelID          uuid.UUID
	RouterCapabilities json.RawMessage
	Send               TransportInfo
	Recv               TransportInfo
	Consumers          []ConsumerOffer
	State              State
	// PreviousChannelID is set when the join implicitly left another channel first; the gateway broadcasts the
	// removal for that channel before the new state.
	PreviousChannelID *uuid.UUID
	// Rejoined is true when the user was already in this channel: the same transports are returned and no state
	// changed (double-join is a no-op).
	Rejoined bool
}

// LeaveResult reports what a leave tore down so the gateway can fan out producer_closed and the state removal.
type LeaveResult struct {
	ChannelID uuid.UUID
	// ClosedProducers lists the leaver's producer IDs; every remaining participant that consumed them has had the
	// matching consumer closed already.
	ClosedProducers []string
}

// Join puts userID into channelID's voice session. The caller has already verified CONNECT_VOICE and that the
// channel is voice-typed. Joining while in another channel leaves that one first; joining the current channel
// again is a no-op returning the existing transports.
func (m *Manager) Join(ctx context.Context, sessionID string, userID, channelID uuid.UUID, rtpCapabilities json.RawMessage) (*JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prevChannel *uuid.UUID
	if p, ok := m.participants[userID]; ok {
		if p.channelID == channelID {
			rs := m.routers[channelID]
			if rs == nil {
				return nil, ErrRouterUnavailable
			}
			return &JoinResult{
				ChannelID:          channelID,
				RouterCapabilities: rs.router.Capabilities,
				Send:               transportInfo(p.send),
				Recv:               transportInfo(p.recv),
				State:              p.state,
				Rejoined:           true,
			}, nil
		}
		prev := p.channelID
		prevChannel = &prev
		m.teardownParticipant(ctx, p)
	}

	rs, ok := m.routers[channelID]
	if ok && len(rs.users) >= m.maxParticipants {
		return nil, ErrChannelFull
	}
	if !ok {
		workerID := m.workers.assign()
		engineID, caps, err := m.engine.CreateRouter(ctx, workerID)
		if err != nil {
			return nil, ErrRouterUnavailable
		}
		rs = &routerState{
			router: Router{ChannelID: channelID, EngineID: engineID, WorkerID: workerID, Capabilities: caps},
			users:  make(map[uuid.UUID]*participant),
		}
		m.routers[channelID] = rs
		m.log.Debug().Stringer("channel_id", channelID).Int("worker_id", workerID).Msg("Voice router created")
	}

	send, err := m.createTransport(ctx, rs, userID, DirectionSend)
	if err != nil {
		m.closeRouterIfEmpty(ctx, rs)
		return nil, err
	}
	recv, err := m.createTransport(ctx, rs, userID, DirectionRecv)
	if err != nil {
		m.engine.CloseTransport(ctx, send.transport.EngineID)
		delete(m.transportIndex, send.transport.ID)
		m.closeRouterIfEmpty(ctx, rs)
		return nil, err
	}

	p := &participant{
		userID:          userID,
		sessionID:       sessionID,
		channelID:       channelID,
		send:            send.transport,
		recv:            recv.transport,
		rtpCapabilities: rtpCapabilities,
		producers:       make(map[string]*Producer),
		consumers:       make(map[string]*Consumer),
		state:           State{UserID: userID, ChannelID: channelID},
	}
	rs.users[userID] = p
	m.participants[userID] = p

	// Offer every existing producer in the channel to the newcomer, skipping silently where the router cannot
	// forward the codec to this client's declared capabilities.
	var offers []ConsumerOffer
	for _, other := range rs.users {
		if other.userID == userID {
			continue
		}
		for _, prod := range other.producers {
			offer, cErr := m.createConsumer(ctx, rs, p, prod)
			if cErr != nil || offer == nil {
				continue
			}
			offers = append(offers, *offer)
		}
	}

	return &JoinResult{
		ChannelID:          channelID,
		RouterCapabilities: rs.router.Capabilities,
		Send:               send.info,
		Recv:               recv.info,
		Consumers:          offers,
		State:              p.state,
		PreviousChannelID:  prevChannel,
	}, nil
}

type createdTransport struct {
	transport *Transport
	info      TransportInfo
}

// transportInfo builds the client-facing TransportInfo from a previously created Transport.
func transportInfo(t *Transport) TransportInfo {
	return TransportInfo{ID: t.ID, Direction: string(t.Direction)}
}

func (m *Manager) createTransport(ctx context.Context, rs *routerState, userID uuid.UUID, dir TransportDirection) (createdTransport, error) {
	engineID, params, err := m.engine.CreateWebRtcTransport(ctx, rs.router.EngineID)
	if err != nil {
		return createdTransport{}, ErrRouterUnavailable
	}
	t := &Transport{
		ID:        uuid.NewString(),
		ChannelID: rs.router.ChannelID,
		UserID:    userID,
		Direction: dir,
		EngineID:  engineID,
	}
	m.transportIndex[t.ID] = t
	return createdTransport{
		transport: t,
		info:      TransportInfo{ID: t.ID, Direction: string(dir), Parameters: params},
	}, nil
}

// createConsumer creates a paused consumer for prod on target's recv transport, or nil when the router cannot
// forward the producer to target's capabilities. Caller holds m.mu.
func (m *Manager) createConsumer(ctx context.Context, rs *routerState, target *participant, prod *Producer) (*ConsumerOffer, error) {
	if !m.engine.CanConsume(ctx, rs.router.EngineID, prod.EngineID, target.rtpCapabilities) {
		return nil, nil
	}
	engineID, rtpParams, err := m.engine.Consume(ctx, target.recv.EngineID, prod.EngineID)
	if err != nil {
		m.log.Warn().Err(err).Stringer("user_id", target.userID).Msg("Failed to create consumer")
		return nil, err
	}
	c := &Consumer{
		ID:          uuid.NewString(),
		TransportID: target.recv.ID,
		ProducerID:  prod.ID,
		ChannelID:   rs.router.ChannelID,
		UserID:      target.userID,
		Kind:        prod.Kind,
		Paused:      true,
		EngineID:    engineID,
	}
	target.consumers[c.ID] = c
	m.consumerIndex[c.ID] = c
	return &ConsumerOffer{
		TargetUserID:    target.userID,
		TargetSessionID: target.sessionID,
		ConsumerID:      c.ID,
		ProducerID:      prod.ID,
		ProducerUser:    prod.UserID,
		Kind:            prod.Kind,
		Source:          prod.Source,
		RTPParameters:   rtpParams,
	}, nil
}

// ConnectTransport finalises DTLS for one of the user's own transports.
func (m *Manager) ConnectTransport(ctx context.Context, userID uuid.UUID, transportID string, dtlsParameters json.RawMessage) error {
	m.mu.Lock()
	t, ok := m.transportIndex[transportID]
	if !ok || t.UserID != userID {
		m.mu.Unlock()
		return ErrTransportNotFound
	}
	engineID := t.EngineID
	m.mu.Unlock()

	return m.engine.ConnectTransport(ctx, engineID, dtlsParameters)
}

// ProduceResult is the new producer plus the consumer offers created for every other participant in the channel.
type ProduceResult struct {
	ProducerID string
	ChannelID  uuid.UUID
	Offers     []ConsumerOffer
}

// Produce starts a new media track from the user's send transport and creates a paused consumer for every other
// participant whose capabilities the router can serve.
func (m *Manager) Produce(ctx context.Context, userID uuid.UUID, transportID string, kind Kind, rtpParameters json.RawMessage, source Source) (*ProduceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[userID]
	if !ok {
		return nil, ErrNotInChannel
	}
	if p.send == nil || p.send.ID != transportID {
		return nil, ErrTransportNotFound
	}
	rs := m.routers[p.channelID]
	if rs == nil {
		return nil, ErrRouterUnavailable
	}

	engineID, err := m.engine.Produce(ctx, p.send.EngineID, kind, rtpParameters)
	if err != nil {
		return nil, ErrRouterUnavailable
	}
	if source == "" {
		source = SourceMic
	}
	prod := &Producer{
		ID:          uuid.NewString(),
		TransportID: p.send.ID,
		ChannelID:   p.channelID,
		UserID:      userID,
		Kind:        kind,
		Source:      source,
		EngineID:    engineID,
	}
	p.producers[prod.ID] = prod
	m.producerIndex[prod.ID] = prod

	// Self-mute applies to new audio producers immediately so unmuting later resumes them all uniformly.
	if p.state.SelfMute && kind == KindAudio {
		if pErr := m.engine.PauseProducer(ctx, engineID); pErr == nil {
			prod.Paused = true
		}
	}

	var offers []ConsumerOffer
	for _, other := range rs.users {
		if other.userID == userID {
			continue
		}
		offer, cErr := m.createConsumer(ctx, rs, other, prod)
		if cErr != nil || offer == nil {
			continue
		}
		offers = append(offers, *offer)
	}

	return &ProduceResult{ProducerID: prod.ID, ChannelID: p.channelID, Offers: offers}, nil
}

// ProducerClosedResult names the closed producer and the channel whose remaining participants should learn of it.
type ProducerClosedResult struct {
	ProducerID string
	ChannelID  uuid.UUID
}

// StopProduce closes one of the user's producers and every consumer attached to it.
func (m *Manager) StopProduce(ctx context.Context, userID uuid.UUID, producerID string) (*ProducerClosedResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prod, ok := m.producerIndex[producerID]
	if !ok || prod.UserID != userID {
		return nil, ErrProducerNotFound
	}
	m.closeProducerLocked(ctx, prod)
	return &ProducerClosedResult{ProducerID: producerID, ChannelID: prod.ChannelID}, nil
}

// closeProducerLocked closes a producer, its dependent consumers on every participant, and prunes all indices.
// Caller holds m.mu.
func (m *Manager) closeProducerLocked(ctx context.Context, prod *Producer) {
	if rs := m.routers[prod.ChannelID]; rs != nil {
		for _, other := range rs.users {
			for id, c := range other.consumers {
				if c.ProducerID == prod.ID {
					m.engine.CloseConsumer(ctx, c.EngineID)
					delete(other.consumers, id)
					delete(m.consumerIndex, id)
				}
			}
		}
	}
	m.engine.CloseProducer(ctx, prod.EngineID)
	if p := m.participants[prod.UserID]; p != nil {
		delete(p.producers, prod.ID)
	}
	delete(m.producerIndex, prod.ID)
}

// PauseProducer pauses one of the user's own producers.
func (m *Manager) PauseProducer(ctx context.Context, userID uuid.UUID, producerID string) error {
	m.mu.Lock()
	prod, ok := m.producerIndex[producerID]
	if !ok || prod.UserID != userID {
		m.mu.Unlock()
		return ErrProducerNotFound
	}
	engineID := prod.EngineID
	prod.Paused = true
	m.mu.Unlock()

	return m.engine.PauseProducer(ctx, engineID)
}

// ResumeProducer resumes one of the user's own producers.
func (m *Manager) ResumeProducer(ctx context.Context, userID uuid.UUID, producerID string) error {
	m.mu.Lock()
	prod, ok := m.producerIndex[producerID]
	if !ok || prod.UserID != userID {
		m.mu.Unlock()
		return ErrProducerNotFound
	}
	engineID := prod.EngineID
	prod.Paused = false
	m.mu.Unlock()

	return m.engine.ResumeProducer(ctx, engineID)
}

// ResumeConsumer unpauses a consumer the user owns, signalling the client is ready to receive it.
func (m *Manager) ResumeConsumer(ctx context.Context, userID uuid.UUID, consumerID string) error {
	m.mu.Lock()
	c, ok := m.consumerIndex[consumerID]
	if !ok || c.UserID != userID {
		m.mu.Unlock()
		return ErrConsumerNotFound
	}
	engineID := c.EngineID
	c.Paused = false
	m.mu.Unlock()

	return m.engine.ResumeConsumer(ctx, engineID)
}

// SetConsumerLayers adjusts simulcast layer preference for a consumer the user owns.
func (m *Manager) SetConsumerLayers(ctx context.Context, userID uuid.UUID, consumerID string, spatial, temporal *int) error {
	m.mu.Lock()
	c, ok := m.consumerIndex[consumerID]
	if !ok || c.UserID != userID {
		m.mu.Unlock()
		return ErrConsumerNotFound
	}
	engineID := c.EngineID
	m.mu.Unlock()

	return m.engine.SetConsumerLayers(ctx, engineID, spatial, temporal)
}

// SetMute updates the user's self-mute/self-deafen flags. Muting pauses every audio producer the user holds;
// unmuting resumes them. Nil flags leave the current value unchanged.
func (m *Manager) SetMute(ctx context.Context, userID uuid.UUID, selfMute, selfDeaf *bool) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[userID]
	if !ok {
		return nil, ErrNotInChannel
	}

	if selfMute != nil && *selfMute != p.state.SelfMute {
		p.state.SelfMute = *selfMute
		for _, prod := range p.producers {
			if prod.Kind != KindAudio {
				continue
			}
			if *selfMute {
				if err := m.engine.PauseProducer(ctx, prod.EngineID); err == nil {
					prod.Paused = true
				}
			} else {
				if err := m.engine.ResumeProducer(ctx, prod.EngineID); err == nil {
					prod.Paused = false
				}
			}
		}
	}
	if selfDeaf != nil {
		p.state.SelfDeaf = *selfDeaf
	}

	state := p.state
	return &state, nil
}

// Leave removes the user from their current voice channel, tearing down everything they own.
func (m *Manager) Leave(ctx context.Context, userID uuid.UUID) (*LeaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[userID]
	if !ok {
		return nil, ErrNotInChannel
	}
	return m.teardownParticipant(ctx, p), nil
}

// LeaveSession tears down the user's voice state only if it was established by the given gateway session. A
// disconnecting session must not destroy voice state a newer session of the same user now owns.
func (m *Manager) LeaveSession(ctx context.Context, userID uuid.UUID, sessionID string) (*LeaveResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[userID]
	if !ok || p.sessionID != sessionID {
		return nil, false
	}
	return m.teardownParticipant(ctx, p), true
}

// RemoveUser unconditionally tears down the user's voice state. Used by the kick/ban cascade.
func (m *Manager) RemoveUser(ctx context.Context, userID uuid.UUID) (*LeaveResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[userID]
	if !ok {
		return nil, false
	}
	return m.teardownParticipant(ctx, p), true
}

// teardownParticipant closes everything p owns (producers and their remote consumers, p's own consumers, both
// transports), prunes every index, and destroys the router if p was the last participant. Caller holds m.mu.
func (m *Manager) teardownParticipant(ctx context.Context, p *participant) *LeaveResult {
	result := &LeaveResult{ChannelID: p.channelID}

	for id, prod := range p.producers {
		result.ClosedProducers = append(result.ClosedProducers, id)
		m.closeProducerLocked(ctx, prod)
	}
	for id, c := range p.consumers {
		m.engine.CloseConsumer(ctx, c.EngineID)
		delete(m.consumerIndex, id)
	}
	p.consumers = make(map[string]*Consumer)

	if p.send != nil {
		m.engine.CloseTransport(ctx, p.send.EngineID)
		delete(m.transportIndex, p.send.ID)
	}
	if p.recv != nil {
		m.engine.CloseTransport(ctx, p.recv.EngineID)
		delete(m.transportIndex, p.recv.ID)
	}

	delete(m.participants, p.userID)
	if rs := m.routers[p.channelID]; rs != nil {
		delete(rs.users, p.userID)
		m.closeRouterIfEmpty(ctx, rs)
	}

	m.log.Debug().Stringer("user_id", p.userID).Stringer("channel_id", p.channelID).Msg("Voice participant torn down")
	return result
}

// closeRouterIfEmpty destroys a router with no remaining participants. Caller holds m.mu.
func (m *Manager) closeRouterIfEmpty(ctx context.Context, rs *routerState) {
	if len(rs.users) > 0 {
		return
	}
	m.engine.CloseRouter(ctx, rs.router.EngineID)
	delete(m.routers, rs.router.ChannelID)
	m.log.Debug().Stringer("channel_id", rs.router.ChannelID).Msg("Voice router closed")
}

// HandleWorkerDeath drops every router assigned to the dead worker and replaces the worker in the pool. The
// routers' participants are torn down without engine close calls for the router itself (the worker is gone);
// affected users must rejoin. Returns the user IDs whose voice state was lost so the gateway can broadcast
// removals.
func (m *Manager) HandleWorkerDeath(ctx context.Context, deadWorkerID, replacementID int) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers.replace(deadWorkerID, replacementID)

	var affected []uuid.UUID
	for channelID, rs := range m.routers {
		if rs.router.WorkerID != deadWorkerID {
			continue
		}
		for userID, p := range rs.users {
			affected = append(affected, userID)
			for id := range p.producers {
				delete(m.producerIndex, id)
			}
			for id := range p.consumers {
				delete(m.consumerIndex, id)
			}
			if p.send != nil {
				delete(m.transportIndex, p.send.ID)
			}
			if p.recv != nil {
				delete(m.transportIndex, p.recv.ID)
			}
			delete(m.participants, userID)
		}
		delete(m.routers, channelID)
		m.log.Warn().Stringer("channel_id", channelID).Int("worker_id", deadWorkerID).
			Msg("Voice router lost to dead worker")
	}
	return affected
}

// State returns the user's current voice state, if any.
func (m *Manager) State(userID uuid.UUID) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[userID]
	if !ok {
		return State{}, false
	}
	return p.state, true
}

// States returns a snapshot of every user's voice state, for the READY payload.
func (m *Manager) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, p.state)
	}
	return out
}

// ParticipantCount returns how many users are in the channel's voice session.
func (m *Manager) ParticipantCount(channelID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.routers[channelID]
	if rs == nil {
		return 0
	}
	return len(rs.users)
}

// Shutdown tears down every participant and router. Called once during process shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		m.teardownParticipant(ctx, p)
	}
}

// ToModel converts a voice state to its wire representation.
func (s State) ToModel() models.VoiceState {
	return models.VoiceState{
		UserID:     s.UserID.String(),
		ChannelID:  s.ChannelID.String(),
		SelfMute:   s.SelfMute,
		SelfDeaf:   s.SelfDeaf,
		ServerMute: s.ServerMute,
		ServerDeaf: s.ServerDeaf,
	}
}
