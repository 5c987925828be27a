package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ecto-chat/ecto-server/internal/events"
	"github.com/ecto-chat/ecto-server/internal/models"
	"github.com/ecto-chat/ecto-server/internal/permissions"

	"github.com/ecto-chat/ecto-server/internal/auth"
	"github.com/ecto-chat/ecto-server/internal/channel"
	"github.com/ecto-chat/ecto-server/internal/config"
	"github.com/ecto-chat/ecto-server/internal/member"
	"github.com/ecto-chat/ecto-server/internal/onboarding"
	"github.com/ecto-chat/ecto-server/internal/permission"
	"github.com/ecto-chat/ecto-server/internal/presence"
	"github.com/ecto-chat/ecto-server/internal/readstate"
	"github.com/ecto-chat/ecto-server/internal/role"
	servercfg "github.com/ecto-chat/ecto-server/internal/server"
	"github.com/ecto-chat/ecto-server/internal/user"
	"github.com/ecto-chat/ecto-server/internal/voice"
)

// Hub is the central WebSocket connection registry and event distributor. It manages client connections, subscribes to
// gateway events via Valkey pub/sub, and dispatches events to connected clients with permission filtering.
type Hub struct {
	// clients is keyed by session ID rather than user ID so a single user can hold more than one concurrent gateway
	// connection (e.g. desktop + mobile); userSessions is the secondary userID -> sessionID index used for
	// presence bookkeeping and fan-out-to-user (the kick/ban cascade closes every session a user holds).
	clients        map[string]*Client
	userSessions   map[uuid.UUID]map[string]*Client
	mu             sync.RWMutex
	rdb            *redis.Client
	cfg            *config.Config
	sessions       *SessionStore
	resolver       *permission.Resolver
	users          user.Repository
	server         servercfg.Repository
	channels       channel.Repository
	roles          role.Repository
	members        member.Repository
	presence       *presence.Store
	readStates     readstate.Repository
	voice          *voice.Manager
	publisher      *Publisher
	onboardingRepo onboarding.Repository
	documentStore  *onboarding.DocumentStore
	central        *auth.CentralVerifier
	log            zerolog.Logger
}

// NewHub creates a new gateway hub.
func NewHub(
	rdb *redis.Client,
	cfg *config.Config,
	sessions *SessionStore,
	resolver *permission.Resolver,
	users user.Repository,
	server servercfg.Repository,
	channels channel.Repository,
	roles role.Repository,
	members member.Repository,
	presenceStore *presence.Store,
	readStates readstate.Repository,
	voiceManager *voice.Manager,
	publisher *Publisher,
	onboardingRepo onboarding.Repository,
	documentStore *onboarding.DocumentStore,
	logger zerolog.Logger,
) *Hub {
	var central *auth.CentralVerifier
	if cfg.CentralURL != "" {
		central = auth.NewCentralVerifier(cfg.CentralURL, 5*time.Minute)
	}

	return &Hub{
		clients:        make(map[string]*Client),
		userSessions:   make(map[uuid.UUID]map[string]*Client),
		rdb:            rdb,
		cfg:            cfg,
		sessions:       sessions,
		resolver:       resolver,
		users:          users,
		server:         server,
		channels:       channels,
		roles:          roles,
		members:        members,
		presence:       presenceStore,
		readStates:     readStates,
		voice:          voiceManager,
		publisher:      publisher,
		onboardingRepo: onboardingRepo,
		documentStore:  documentStore,
		central:        central,
		log:            logger.With().Str("component", "gateway").Logger(),
	}
}

// Run subscribes to the gateway events pub/sub channel and dispatches events to connected clients. It blocks until the
// context is cancelled or the subscription fails.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.rdb.Subscribe(ctx, eventsChannel)
	defer func() { _ = sub.Close() }()

	h.log.Info().Msg("Gateway hub subscribed to event channel")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.handlePubSubEvent(ctx, msg.Payload)
		}
	}
}

// ServeWebSocket initialises a new client for an upgraded WebSocket connection. It sends the Hello frame and starts
// the client's read and write pumps.
func (h *Hub) ServeWebSocket(conn *websocket.Conn) {
	h.serve(conn, false)
}

// ServeNotifyWebSocket initialises a lightweight notify-socket client. It shares the hello/identify/heartbeat
// handshake with the main gateway but receives only debounced NOTIFY events and an empty READY snapshot.
func (h *Hub) ServeNotifyWebSocket(conn *websocket.Conn) {
	h.serve(conn, true)
}

func (h *Hub) serve(conn *websocket.Conn, notify bool) {
	client := newClient(h, conn, h.log)
	client.notify = notify

	hello, err := NewHelloFrame(h.cfg.GatewayHeartbeatIntervalMS)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build Hello frame")
		_ = conn.Close()
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		h.log.Debug().Err(err).Msg("Failed to send Hello frame")
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.voicePump()
	client.readPump()
}

// register adds an authenticated client to the Hub, keyed by its session ID. Unlike a single-session registry, a
// second connection from the same user does not displace the first: both sessions stay live and receive dispatch
// independently until each disconnects or is force-closed (see CloseSessionsForUser).
func (h *Hub) register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= h.cfg.GatewayMaxConnections {
		return ErrMaxConnections
	}

	userID := client.UserID()
	sessionID := client.SessionID()

	h.clients[sessionID] = client
	if h.userSessions[userID] == nil {
		h.userSessions[userID] = make(map[string]*Client)
	}
	h.userSessions[userID][sessionID] = client

	h.log.Debug().Stringer("user_id", userID).Str("session_id", sessionID).Int("total", len(h.clients)).
		Msg("Client registered")
	return nil
}

// unregister removes a client from the Hub and persists its session for future resume.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()

	userID := client.UserID()
	sessionID := client.SessionID()
	current, ok := h.clients[sessionID]
	if !ok || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, sessionID)

	remaining := 0
	if sessions := h.userSessions[userID]; sessions != nil {
		delete(sessions, sessionID)
		remaining = len(sessions)
		if remaining == 0 {
			delete(h.userSessions, userID)
		}
	}
	h.mu.Unlock()

	client.closeSend()

	if client.IsIdentified() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.sessions.Save(ctx, sessionID, userID, client.currentSeq()); err != nil {
			h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to save session on disconnect")
		}

		// Voice state owned by this session is torn down immediately; only presence gets a reconnect grace window.
		h.teardownVoiceForSession(ctx, userID, sessionID)

		// Only go offline once every session for this user has disconnected.
		if h.presence != nil && remaining == 0 {
			go h.delayedOffline(userID)
		}
	}

	h.log.Debug().Stringer("user_id", userID).Str("session_id", sessionID).Msg("Client unregistered")
}

// CloseSessionsForUser forcibly closes every active gateway session held by userID with the given WebSocket close
// code and reason, removing them from the registry immediately rather than waiting for each client's read loop to
// unwind. Used by the kick/ban cascade, which must sever every one of the target's devices at once.
func (h *Hub) CloseSessionsForUser(userID uuid.UUID, code int, reason string) {
	h.mu.Lock()
	sessions := h.userSessions[userID]
	targets := make([]*Client, 0, len(sessions))
	for sessionID, c := range sessions {
		targets = append(targets, c)
		delete(h.clients, sessionID)
	}
	delete(h.userSessions, userID)
	h.mu.Unlock()

	for _, c := range targets {
		c.closeWithCode(code, reason)
		c.closeSend()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.teardownVoiceForUser(ctx, userID)
}

// delayedOffline waits for the configured offline grace period then publishes an offline presence event if the user
// has not reconnected on any session. The delay is controlled by GatewayOfflineDelayMS in the server configuration.
func (h *Hub) delayedOffline(userID uuid.UUID) {
	time.Sleep(time.Duration(h.cfg.GatewayOfflineDelayMS) * time.Millisecond)

	h.mu.RLock()
	reconnected := len(h.userSessions[userID]) > 0
	h.mu.RUnlock()

	if reconnected {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.presence.Delete(ctx, userID); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to delete presence on delayed offline")
	}
	h.publishPresence(ctx, userID, presence.StatusOffline)
}

// authenticateToken resolves a bearer token to a user ID: server-issued JWT first, then the central verifier when
// one is configured. The central verifier caches its own positive results. A JWT carrying a tv claim must match
// the member row's current token_version — bumping the column severs every outstanding session token.
func (h *Hub) authenticateToken(ctx context.Context, token string) (uuid.UUID, error) {
	claims, err := auth.ValidateAccessToken(token, h.cfg.JWTSecret, h.cfg.ServerURL)
	if err == nil {
		userID, pErr := uuid.Parse(claims.Subject)
		if pErr != nil {
			return uuid.Nil, pErr
		}
		if claims.TokenVersion != nil && h.members != nil {
			current, vErr := h.members.TokenVersion(ctx, userID)
			if vErr != nil || current != *claims.TokenVersion {
				return uuid.Nil, fmt.Errorf("token version mismatch")
			}
		}
		return userID, nil
	}
	if h.central != nil {
		if identity, cErr := h.central.Verify(ctx, token); cErr == nil {
			return identity.UserID, nil
		}
	}
	return uuid.Nil, err
}

// handleIdentify authenticates a client using a bearer token, assembles the READY payload, and registers the client.
func (h *Hub) handleIdentify(client *Client, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID, err := h.authenticateToken(ctx, token)
	if err != nil {
		h.log.Debug().Err(err).Msg("Identify token validation failed")
		client.closeWithCode(CloseAuthFailed, "invalid token")
		return
	}

	// Notify sockets get an empty snapshot: they exist for background alerts, not for rendering state.
	readyData := &models.ReadyData{}
	if !client.notify {
		readyData, err = h.assembleReady(ctx, userID)
		if err != nil {
			h.log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to assemble READY payload")
			client.closeWithCode(CloseUnknownError, "internal error")
			return
		}
	}

	sessionID := NewSessionID()
	readyData.SessionID = sessionID

	client.mu.Lock()
	client.userID = userID
	client.sessionID = sessionID
	client.identified = true
	client.mu.Unlock()

	if err := h.register(client); err != nil {
		h.log.Warn().Err(err).Msg("Failed to register client")
		client.closeWithCode(CloseUnknownError, "registration failed")
		return
	}

	readyPayload, err := json.Marshal(readyData)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal READY payload")
		return
	}

	seq := client.nextSeq()
	frame, err := NewDispatchFrame(seq, events.Ready, readyPayload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build READY frame")
		return
	}
	client.enqueue(frame)

	// A background notify socket does not mark its user online.
	if h.presence != nil && !client.notify {
		if pErr := h.presence.Set(ctx, userID, presence.StatusOnline); pErr != nil {
			h.log.Warn().Err(pErr).Stringer("user_id", userID).Msg("Failed to set initial presence")
		} else {
			h.publishPresence(ctx, userID, presence.StatusOnline)
		}
	}

	h.log.Info().Stringer("user_id", userID).Str("session_id", sessionID).Bool("notify", client.notify).
		Msg("Client identified")
}

// handleResume restores a client's session from Valkey and replays missed events.
func (h *Hub) handleResume(client *Client, data models.ResumeData) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tokenUserID, err := h.authenticateToken(ctx, data.Token)
	if err != nil {
		h.log.Debug().Err(err).Msg("Resume token validation failed")
		client.closeWithCode(CloseAuthFailed, "invalid token")
		return
	}

	session, err := h.sessions.Load(ctx, data.SessionID)
	if err != nil {
		h.log.Debug().Err(err).Str("session_id", data.SessionID).Msg("Session not found for resume")
		if frame, fErr := NewInvalidSessionFrame(false); fErr == nil {
			client.enqueue(frame)
		}
		return
	}

	if session.UserID != tokenUserID {
		h.log.Debug().Msg("Resume user ID does not match token")
		if frame, fErr := NewInvalidSessionFrame(false); fErr == nil {
			client.enqueue(frame)
		}
		return
	}

	if data.Seq > session.LastSeq {
		h.log.Debug().Int64("client_seq", data.Seq).Int64("server_seq", session.LastSeq).
			Msg("Resume sequence ahead of server")
		if frame, fErr := NewInvalidSessionFrame(false); fErr == nil {
			client.enqueue(frame)
		}
		return
	}

	// Replay missed events.
	missed, err := h.sessions.Replay(ctx, data.SessionID, data.Seq)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to load replay buffer")
		if frame, fErr := NewInvalidSessionFrame(false); fErr == nil {
			client.enqueue(frame)
		}
		return
	}

	client.mu.Lock()
	client.userID = tokenUserID
	client.sessionID = data.SessionID
	client.seq.Store(session.LastSeq)
	client.identified = true
	client.mu.Unlock()

	if err := h.register(client); err != nil {
		h.log.Warn().Err(err).Msg("Failed to register resumed client")
		client.closeWithCode(CloseUnknownError, "registration failed")
		return
	}

	// Clean up the persisted session now that the client is back.
	if err := h.sessions.Delete(ctx, data.SessionID); err != nil {
		h.log.Warn().Err(err).Msg("Failed to delete session after resume")
	}

	// Send missed events.
	for _, payload := range missed {
		client.enqueue(payload)
	}

	// Send RESUMED dispatch.
	seq := client.nextSeq()
	resumedData, _ := json.Marshal(struct{}{})
	frame, err := NewDispatchFrame(seq, events.Resumed, resumedData)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build RESUMED frame")
		return
	}
	client.enqueue(frame)

	if h.presence != nil {
		status, gErr := h.presence.Get(ctx, tokenUserID)
		if gErr != nil {
			h.log.Warn().Err(gErr).Stringer("user_id", tokenUserID).Msg("Failed to get presence on resume")
		}
		if status == presence.StatusOffline {
			if pErr := h.presence.Set(ctx, tokenUserID, presence.StatusOnline); pErr != nil {
				h.log.Warn().Err(pErr).Stringer("user_id", tokenUserID).Msg("Failed to restore presence on resume")
			} else {
				h.publishPresence(ctx, tokenUserID, presence.StatusOnline)
			}
		} else {
			_ = h.presence.Refresh(ctx, tokenUserID)
		}
	}

	h.log.Info().Stringer("user_id", tokenUserID).Str("session_id", data.SessionID).
		Int("replayed", len(missed)).Msg("Client resumed")
}

// handlePresenceUpdate processes a client's opcode 3 presence update. It validates the status, stores it in Valkey,
// and publishes a PRESENCE_UPDATE dispatch. Invisible status is stored truthfully but broadcast as offline.
func (h *Hub) handlePresenceUpdate(client *Client, status string) {
	if h.presence == nil {
		return
	}

	userID := client.UserID()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.presence.Set(ctx, userID, status); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to set presence")
		return
	}

	broadcastStatus := status
	if status == presence.StatusInvisible {
		broadcastStatus = presence.StatusOffline
	}
	h.publishPresence(ctx, userID, broadcastStatus)
}

// publishPresence publishes a PRESENCE_UPDATE dispatch event to the gateway events channel.
func (h *Hub) publishPresence(ctx context.Context, userID uuid.UUID, status string) {
	if h.publisher == nil {
		return
	}
	data := models.PresenceUpdateData{
		UserID: userID.String(),
		Status: status,
	}
	if err := h.publisher.Publish(ctx, events.PresenceUpdate, data); err != nil {
		h.log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to publish presence update")
	}
}

// refreshPresence extends the TTL of the user's presence key without changing the stored status.
func (h *Hub) refreshPresence(ctx context.Context, userID uuid.UUID) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Refresh(ctx, userID); err != nil {
		h.log.Debug().Err(err).Stringer("user_id", userID).Msg("Failed to refresh presence TTL")
	}
}

// ephemeralEvent returns true for dispatch event types that should be sent without a sequence number and not stored in
// the replay buffer.
func ephemeralEvent(eventType events.DispatchEvent) bool {
	return eventType == events.TypingStart || eventType == events.TypingStop
}

// serverBroadcastEvent returns true for event types whose payload carries a channel_id but which address the whole
// server rather than that channel's subscribers (voice presence is visible in the channel list for everyone).
func serverBroadcastEvent(eventType events.DispatchEvent) bool {
	return eventType == events.VoiceStateUpdate || eventType == events.VoiceProducerClosed
}

// notifyDebounce is the minimum interval between NOTIFY events for one channel on one notify socket.
const notifyDebounce = 2 * time.Second

// sendNotify pushes a debounced NOTIFY event to a notify-socket client.
func (h *Hub) sendNotify(c *Client, channelID uuid.UUID, notifyType string) {
	if !c.shouldNotify(channelID, notifyDebounce) {
		return
	}
	raw, err := json.Marshal(models.NotifyData{
		ChannelID: channelID.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      notifyType,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal notify payload")
		return
	}
	frame, err := NewEphemeralDispatchFrame(events.Notify, raw)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build notify frame")
		return
	}
	c.enqueue(frame)
}

// channelScoped extracts the channel_id from an event payload for permission filtering.
type channelScoped struct {
	ChannelID string `json:"channel_id"`
}

// handlePubSubEvent processes a single event from the Valkey pub/sub channel and dispatches it to connected clients.
func (h *Hub) handlePubSubEvent(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		h.log.Warn().Err(err).Msg("Invalid gateway event envelope")
		return
	}

	if env.SessionClose != nil {
		userID, err := uuid.Parse(env.SessionClose.UserID)
		if err != nil {
			h.log.Warn().Err(err).Msg("Invalid user_id in session close command")
			return
		}
		h.CloseSessionsForUser(userID, env.SessionClose.Code, env.SessionClose.Reason)
		return
	}

	eventType := events.DispatchEvent(env.Type)

	// Re-marshal the data field to json.RawMessage for the frame constructor.
	rawData, err := json.Marshal(env.Data)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to re-marshal event data")
		return
	}

	// Check if this is a channel-scoped event.
	var scoped channelScoped
	_ = json.Unmarshal(rawData, &scoped)

	var channelID uuid.UUID
	var hasChannelID bool
	if scoped.ChannelID != "" {
		if parsed, pErr := uuid.Parse(scoped.ChannelID); pErr == nil {
			channelID = parsed
			hasChannelID = true
		}
	}
	// Voice presence events carry a channel_id but address the whole server, not that channel's subscribers.
	isChannelScoped := hasChannelID && !serverBroadcastEvent(eventType)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	notifyTargets := make([]*Client, 0)
	for _, c := range h.clients {
		if !c.IsIdentified() {
			continue
		}
		if c.notify {
			notifyTargets = append(notifyTargets, c)
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 && len(notifyTargets) == 0 {
		return
	}

	// User-targeted events (mentions, DM fan-out) bypass channel-permission filtering entirely and go only to
	// sessions belonging to the named recipient.
	if env.TargetUserID != "" {
		targetUser, pErr := uuid.Parse(env.TargetUserID)
		if pErr != nil {
			h.log.Warn().Err(pErr).Msg("Invalid target_user_id in gateway event")
			return
		}
		filtered := make([]*Client, 0, len(targets))
		for _, c := range targets {
			if c.UserID() == targetUser {
				filtered = append(filtered, c)
			}
		}
		targets = filtered

		// Mention alerts are the one user-targeted event the notify socket relays.
		if eventType == events.MentionCreate && hasChannelID {
			for _, c := range notifyTargets {
				if c.UserID() == targetUser {
					h.sendNotify(c, channelID, "mention")
				}
			}
		}
		if len(targets) == 0 {
			return
		}
	} else if isChannelScoped {
		// Notify sockets carry no subscriptions; new-message activity is permission-filtered and debounced.
		if eventType == events.MessageCreate {
			for _, c := range notifyTargets {
				if h.resolver != nil {
					ok, pErr := h.resolver.HasPermission(ctx, c.UserID(), channelID, permissions.ViewChannels)
					if pErr != nil || !ok {
						continue
					}
				}
				h.sendNotify(c, channelID, "message")
			}
		}

		// Channel-scoped dispatch goes to sessions that subscribed to the channel and still hold ViewChannels on
		// it; subscription is checked first because it is a cheap in-memory lookup.
		permitted := make([]*Client, 0, len(targets))
		for _, c := range targets {
			if !c.isSubscribed(channelID) {
				continue
			}
			if h.resolver != nil {
				ok, pErr := h.resolver.HasPermission(ctx, c.UserID(), channelID, permissions.ViewChannels)
				if pErr != nil {
					h.log.Warn().Err(pErr).Stringer("user_id", c.UserID()).Msg("Permission check failed during dispatch")
					continue
				}
				if !ok {
					continue
				}
			}
			permitted = append(permitted, c)
		}
		targets = permitted
	}

	if len(targets) == 0 {
		return
	}

	// Ephemeral events (e.g. TYPING_START) are sent without a sequence number and are not stored in the replay buffer.
	if ephemeralEvent(eventType) {
		frame, fErr := NewEphemeralDispatchFrame(eventType, rawData)
		if fErr != nil {
			h.log.Warn().Err(fErr).Msg("Failed to build ephemeral dispatch frame")
			return
		}
		for _, c := range targets {
			c.enqueue(frame)
		}
		return
	}

	// Build and send a sequenced dispatch frame per client and append to the replay buffer.
	for _, c := range targets {
		seq := c.nextSeq()
		frame, fErr := NewDispatchFrame(seq, eventType, rawData)
		if fErr != nil {
			h.log.Warn().Err(fErr).Msg("Failed to build dispatch frame")
			continue
		}

		c.enqueue(frame)

		// Append to the replay buffer (best-effort). The session ID is only available for identified clients.
		if sid := c.SessionID(); sid != "" {
			if rErr := h.sessions.AppendReplay(ctx, sid, seq, frame); rErr != nil {
				h.log.Warn().Err(rErr).Str("session_id", sid).Msg("Failed to append to replay buffer")
			}
		}
	}
}

// assembleReady queries the database for all state needed by a newly connected client.
func (h *Hub) assembleReady(ctx context.Context, userID uuid.UUID) (*models.ReadyData, error) {
	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	srv, err := h.server.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get server config: %w", err)
	}

	chs, err := h.channels.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	rs, err := h.roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	ms, err := h.members.List(ctx, nil, 1000)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	var presences []models.PresenceState
	if h.presence != nil {
		memberIDs := make([]uuid.UUID, len(ms))
		for i := range ms {
			memberIDs[i] = ms[i].UserID
		}
		presences, err = h.presence.GetMany(ctx, memberIDs)
		if err != nil {
			return nil, fmt.Errorf("get presences: %w", err)
		}
	}

	var readStates []models.ReadState
	if h.readStates != nil {
		rows, rErr := h.readStates.ListForUser(ctx, userID)
		if rErr != nil {
			return nil, fmt.Errorf("list read states: %w", rErr)
		}
		readStates = make([]models.ReadState, len(rows))
		for i := range rows {
			readStates[i] = rows[i].ToModel()
		}
	}

	var voiceStates []models.VoiceState
	if h.voice != nil {
		for _, s := range h.voice.States() {
			voiceStates = append(voiceStates, s.ToModel())
		}
	}

	var onboardingCfg *models.OnboardingConfig
	if h.onboardingRepo != nil {
		cfg, oErr := h.onboardingRepo.Get(ctx)
		if oErr != nil {
			h.log.Warn().Err(oErr).Msg("Failed to load onboarding config for READY payload")
		} else {
			var docs []models.OnboardingDocument
			if h.documentStore != nil {
				docs = h.documentStore.ToModels()
			}
			m := cfg.ToModel(docs)
			onboardingCfg = &m
		}
	}

	return &models.ReadyData{
		User:        u.ToModel(),
		Server:      srv.ToModel(),
		Channels:    channelSliceToModels(chs),
		Roles:       roleSliceToModels(rs),
		Members:     memberSliceToModels(ms),
		Presences:   presences,
		ReadStates:  readStates,
		VoiceStates: voiceStates,
		Onboarding:  onboardingCfg,
	}, nil
}

// Shutdown gracefully closes all active connections. It sends a Reconnect frame to each client, cleans up presence
// keys, and closes the underlying WebSocket with a Going Away status.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for userID := range h.userSessions {
			_ = h.presence.Delete(ctx, userID)
		}
	}

	reconnect, _ := NewReconnectFrame()
	for sessionID, client := range h.clients {
		if reconnect != nil {
			client.enqueue(reconnect)
		}
		client.closeSend()
		_ = client.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait),
		)
		_ = client.conn.Close()
		delete(h.clients, sessionID)
	}
	h.userSessions = make(map[uuid.UUID]map[string]*Client)
	h.log.Info().Msg("Gateway hub shut down")
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Slice conversion helpers that delegate to each domain type's ToModel() method.

func channelSliceToModels(chs []channel.Channel) []models.Channel {
	result := make([]models.Channel, len(chs))
	for i := range chs {
		result[i] = chs[i].ToModel()
	}
	return result
}

func roleSliceToModels(rs []role.Role) []models.Role {
	result := make([]models.Role, len(rs))
	for i := range rs {
		result[i] = rs[i].ToModel()
	}
	return result
}

func memberSliceToModels(ms []member.MemberWithProfile) []models.Member {
	result := make([]models.Member, len(ms))
	for i := range ms {
		result[i] = ms[i].ToModel()
	}
	return result
}
