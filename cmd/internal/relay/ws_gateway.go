package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "courier/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "courier.relay.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the WebSocket entrypoint for the Courier relay.
//
// It enforces origin policy, subprotocol selection, rate limits, heartbeats,
// and owns the connection lifecycle: presence registration (only on an
// explicit register event), pending-queue drain on register, and cleanup of
// presence and broadcast-group subscriptions on transport close.
type Gateway struct {
	log *slog.Logger

	presence *Presence
	hub      *Hub
	router   *Router
	signaler *Signaler
	verifier IdentityVerifier
	metrics  *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// GatewayDeps bundles the gateway's collaborators.
type GatewayDeps struct {
	Presence *Presence
	Hub      *Hub
	Router   *Router
	Signaler *Signaler
	Verifier IdentityVerifier
	Metrics  *Metrics
}

// NewGateway constructs a gateway with secure defaults.
// Verifier defaults to InsecureVerifier (dev); Metrics may be nil.
func NewGateway(log *slog.Logger, deps GatewayDeps) (*Gateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Presence == nil || deps.Hub == nil || deps.Router == nil || deps.Signaler == nil {
		return nil, errors.New("relay: missing gateway dependency")
	}
	if deps.Verifier == nil {
		deps.Verifier = InsecureVerifier{}
	}

	g := &Gateway{
		log:      log,
		presence: deps.Presence,
		hub:      deps.Hub,
		router:   deps.Router,
		signaler: deps.Signaler,
		verifier: deps.Verifier,
		metrics:  deps.Metrics,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("COURIER_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("COURIER_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("COURIER_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("COURIER_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("COURIER_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("COURIER_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("COURIER_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("COURIER_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("COURIER_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("COURIER_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the relay loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}
	client := NewClient(sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.metrics.connOpened()

	var (
		closeOnce sync.Once
		identity  string // set by a successful register
	)
	joined := newJoinedSet()

	// shutdown is idempotent. It does NOT close client.Send.
	// Cleanup order matters: leave broadcast groups and drop the presence
	// binding before signalling client goroutines, so a concurrent broadcast
	// or route never targets a half-dead connection.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			joined.LeaveAll(sessionID)

			g.presence.Unregister(sessionID)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			g.metrics.connClosed()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeRegister:
			id, err := g.onRegister(ctx, client, env)
			if err != nil {
				g.trySendError(ctx, client, "register_failed", err.Error())
				continue readLoop
			}
			identity = id

		case v1.TypeMessagePrivate:
			if err := g.onPrivateMessage(ctx, client, identity, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypeRoomCreate:
			if err := g.onRoomCreate(ctx, identity, env); err != nil {
				g.trySendError(ctx, client, "room_create_failed", err.Error())
				continue readLoop
			}

		case v1.TypeRoomJoin:
			grp, err := g.onRoomJoin(client, identity, env)
			if err != nil {
				g.trySendError(ctx, client, "room_join_failed", err.Error())
				continue readLoop
			}
			joined.Track(sessionID, grp)

		case v1.TypeMessageRoom:
			if err := g.onRoomMessage(ctx, sessionID, identity, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypePendingRemove:
			if err := g.onPendingRemove(ctx, identity, env); err != nil {
				g.trySendError(ctx, client, "pending_remove_failed", err.Error())
				continue readLoop
			}

		case v1.TypeCallOffer, v1.TypeCallAnswer, v1.TypeCallICE,
			v1.TypeCallAccept, v1.TypeCallReject, v1.TypeCallHangup:
			if err := g.onCallSignal(identity, env); err != nil {
				g.trySendError(ctx, client, "signal_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

// onRegister binds the claimed identity to this connection and drains the
// identity's pending queue. Registration is last-writer-wins: a previous
// connection holding the identity is displaced and torn down without
// notification.
func (g *Gateway) onRegister(ctx context.Context, client *Client, env v1.Envelope) (string, error) {
	var p v1.RegisterPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	identity := strings.TrimSpace(p.Identity)
	if err := g.verifier.Verify(ctx, identity, p.Token); err != nil {
		g.log.Info("ws.register.denied", "identity", identity, "err", err)
		return "", errors.New("identity verification failed")
	}

	if displaced := g.presence.Register(identity, client); displaced != nil {
		displaced.Close()
	}

	// Drain exactly once, immediately after the binding goes live.
	msgs, err := g.router.DrainPending(ctx, identity)
	if err != nil {
		// The binding stands; the backlog stays queued for the next drain.
		g.log.Warn("ws.register.drain.fail", "identity", identity, "err", err)
		msgs = nil
	}

	ack := newEnvelope(v1.TypeRegisterAck, v1.RegisterAckPayload{
		SessionID: client.SessionID,
		Identity:  identity,
		Pending:   len(msgs),
	}, time.Now().UTC())
	if !g.enqueue(ctx, client, ack) {
		// The binding above must not outlive the failed ack, or the registry
		// keeps routing to a connection that rejects its own sends.
		// Unregister is session-owned, so a racing re-register is untouched.
		g.presence.Unregister(client.SessionID)
		g.restorePending(ctx, identity, msgs)
		return "", errors.New("backpressure: register.ack")
	}

	for i, m := range msgs {
		penv := newEnvelope(v1.TypeMessagePending, messagePayload(m), m.Timestamp)
		if !g.enqueue(ctx, client, penv) {
			g.restorePending(ctx, identity, msgs[i:])
			break
		}
	}

	return identity, nil
}

func (g *Gateway) restorePending(ctx context.Context, identity string, msgs []Message) {
	if len(msgs) == 0 {
		return
	}

	// The usual reason to restore is the peer dropping mid-register, and by
	// then shutdown has canceled the connection context. The store write must
	// outlive it or the drained messages are lost. The router bounds the call
	// with its own store timeout.
	rctx := context.WithoutCancel(ctx)
	if err := g.router.RestorePending(rctx, identity, msgs); err != nil {
		g.log.Error("ws.pending.restore.fail", "identity", identity, "count", len(msgs), "err", err)
	}
}

func (g *Gateway) onPrivateMessage(ctx context.Context, client *Client, identity string, env v1.Envelope, now time.Time) error {
	if identity == "" {
		return errors.New("register first")
	}

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := p.ValidatePrivate(); err != nil {
		return err
	}
	if p.From != "" && p.From != identity {
		return errors.New("from does not match registered identity")
	}
	if len([]rune(p.Text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}

	_, err := g.router.RoutePrivate(ctx, Message{
		ID:        p.ID,
		From:      identity,
		To:        strings.TrimSpace(p.To),
		Text:      p.Text,
		Timestamp: ts,
	})
	_ = client // delivery acks are client-side; the router outcome is logged
	return err
}

func (g *Gateway) onRoomCreate(ctx context.Context, identity string, env v1.Envelope) error {
	if identity == "" {
		return errors.New("register first")
	}

	var p v1.RoomCreatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	_, err := g.router.CreateRoom(ctx, identity, strings.TrimSpace(p.Room), strings.TrimSpace(p.RoomID), p.Participants)
	return err
}

// onRoomJoin subscribes the connection to the room's broadcast group.
// Subscription is independent of persisted participation and of presence:
// it does not require registration and is not restored on reconnect.
func (g *Gateway) onRoomJoin(client *Client, identity string, env v1.Envelope) (*Group, error) {
	var p v1.RoomJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	grp := g.hub.GetOrCreateGroup(strings.TrimSpace(p.RoomID))
	grp.Join(client)
	g.log.Info("ws.room.join", "room", p.Room, "room_id", grp.ID, "identity", identity, "session_id", client.SessionID)
	return grp, nil
}

func (g *Gateway) onRoomMessage(ctx context.Context, sessionID, identity string, env v1.Envelope, now time.Time) error {
	if identity == "" {
		return errors.New("register first")
	}

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := p.ValidateRoom(); err != nil {
		return err
	}
	if p.From != "" && p.From != identity {
		return errors.New("from does not match registered identity")
	}
	if len([]rune(p.Text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}

	return g.router.RouteRoom(ctx, sessionID, Message{
		ID:        p.ID,
		From:      identity,
		Room:      strings.TrimSpace(p.Room),
		RoomID:    strings.TrimSpace(p.RoomID),
		Text:      p.Text,
		Timestamp: ts,
	})
}

func (g *Gateway) onPendingRemove(ctx context.Context, identity string, env v1.Envelope) error {
	if identity == "" {
		return errors.New("register first")
	}

	var p v1.PendingRemovePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Identity != identity {
		return errors.New("identity does not match registered identity")
	}

	return g.router.RemovePending(ctx, identity, p.ConversationKey)
}

// onCallSignal validates and forwards one signaling hop. An offline target
// is not an error: the signal is dropped and the caller's client handles the
// timeout, per the stateless-coordinator contract.
func (g *Gateway) onCallSignal(identity string, env v1.Envelope) error {
	if identity == "" {
		return errors.New("register first")
	}

	switch env.Type {
	case v1.TypeCallOffer:
		var p v1.CallOfferPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		g.signaler.ForwardOffer(strings.TrimSpace(p.To), identity, p.Offer, p.CallType)

	case v1.TypeCallAnswer:
		var p v1.CallAnswerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		g.signaler.ForwardAnswer(strings.TrimSpace(p.To), p.Answer)

	case v1.TypeCallICE:
		var p v1.CallICEPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		g.signaler.ForwardICECandidate(strings.TrimSpace(p.To), p.Candidate)

	case v1.TypeCallAccept, v1.TypeCallReject, v1.TypeCallHangup:
		var p v1.CallControlPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		to := strings.TrimSpace(p.To)
		switch env.Type {
		case v1.TypeCallAccept:
			g.signaler.ForwardCallAccepted(to)
		case v1.TypeCallReject:
			g.signaler.ForwardCallRejected(to)
		default:
			g.signaler.ForwardHangup(to)
		}
	}

	return nil
}

// ---- joined-group tracking ----

// joinedSet tracks the broadcast groups one connection has joined. The read
// loop records joins while shutdown, which may run on the writer or heartbeat
// goroutine, tears them all down; access is mutex-guarded. After LeaveAll, a
// racing Track leaves the group immediately instead of recording it, so a
// join that loses the race never leaks membership.
type joinedSet struct {
	mu     sync.Mutex
	closed bool
	groups map[string]*Group
}

func newJoinedSet() *joinedSet {
	return &joinedSet{groups: make(map[string]*Group)}
}

// Track records a joined group, or undoes the join when teardown already ran.
func (j *joinedSet) Track(sessionID string, grp *Group) {
	if grp == nil {
		return
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		grp.Leave(sessionID)
		return
	}
	j.groups[grp.ID] = grp
	j.mu.Unlock()
}

// LeaveAll removes sessionID from every tracked group. Idempotent; later
// Track calls fall through to an immediate leave.
func (j *joinedSet) LeaveAll(sessionID string) {
	j.mu.Lock()
	groups := j.groups
	j.groups = nil
	j.closed = true
	j.mu.Unlock()

	for _, grp := range groups {
		grp.Leave(sessionID)
	}
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
