// Package main provides a CI-friendly WebSocket smoke test for the Courier relay.
//
// It validates:
//   - handshake + subprotocol selection
//   - register -> register.ack session establishment
//   - private message delivery to an online peer
//   - offline queueing: message to an absent identity arrives as
//     message.pending when that identity registers
//   - call offer forwarding between online peers
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "courier/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "courier.relay.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	identity  string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello courier 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	run := fmt.Sprintf("%d", time.Now().UnixNano())
	idA := "smoke-a-" + run
	idB := "smoke-b-" + run
	idC := "smoke-c-" + run

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustRegister(root, a, idA, 0, *timeout)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)
	mustRegister(root, b, idB, 0, *timeout)

	if *verbose {
		fmt.Printf("registered: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	// Online path: A -> B arrives as message.private, nothing queued.
	mustSendPrivate(root, a, idB, *text, *timeout)
	mustAssertPrivate(root, b, idA, idB, *text, *timeout)

	// Offline path: C is not connected yet; the message must queue.
	offlineText := *text + " (queued)"
	mustSendPrivate(root, a, idC, offlineText, *timeout)

	// Give the relay a moment to persist before C shows up.
	time.Sleep(250 * time.Millisecond)

	c := mustConnect(root, "C", *wsURL, *origin, *timeout)
	defer closeWS(c.conn)
	pending := mustRegister(root, c, idC, 1, *timeout)
	if pending != 1 {
		fatalf("register.ack pending: got=%d want=1", pending)
	}
	mustAssertPending(root, c, idA, idC, offlineText, *timeout)

	// A second registration drains nothing: the queue was consumed.
	c2 := mustConnect(root, "C2", *wsURL, *origin, *timeout)
	defer closeWS(c2.conn)
	if got := mustRegister(root, c2, idC, 0, *timeout); got != 0 {
		fatalf("second drain not empty: pending=%d", got)
	}

	// Signaling path: offer from A must surface at B with A's identity.
	mustSendOffer(root, a, idB, *timeout)
	mustAssertOffer(root, b, idA, *timeout)

	fmt.Printf("OK: A=%s B=%s C=%s\n", a.sessionID, b.sessionID, c.sessionID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustRegister binds identity on the connection and returns the pending count
// reported by register.ack. Token comes from COURIER_TOKEN; empty is fine
// against a server without HMAC policy.
func mustRegister(parent context.Context, c *smokeClient, identity string, wantMinPending int, stepTimeout time.Duration) int {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeRegister,
		ID:   fmt.Sprintf("%s-register", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.RegisterPayload{
			Identity: identity,
			Token:    os.Getenv("COURIER_TOKEN"),
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeRegisterAck, stepTimeout, nil)

	var p v1.RegisterAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal register.ack payload (%s): %v", c.name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("register.ack missing sessionId (%s)", c.name)
	}
	if p.Identity != identity {
		fatalf("register.ack identity mismatch (%s): got=%q want=%q", c.name, p.Identity, identity)
	}
	if p.Pending < wantMinPending {
		fatalf("register.ack pending (%s): got=%d want>=%d", c.name, p.Pending, wantMinPending)
	}

	c.sessionID = p.SessionID
	c.identity = identity
	return p.Pending
}

func mustSendPrivate(parent context.Context, c *smokeClient, to, text string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeMessagePrivate,
		ID:   fmt.Sprintf("%s-send-%d", c.name, time.Now().UnixNano()),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.MessagePayload{
			ID:   fmt.Sprintf("%s-msg-%d", c.name, time.Now().UnixNano()),
			From: c.identity,
			To:   to,
			Text: text,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustAssertPrivate(parent context.Context, c *smokeClient, from, to, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessagePrivate, stepTimeout, nil)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message.private payload (%s): %v", c.name, err)
	}
	if p.From != from {
		fatalf("private from mismatch (%s): got=%q want=%q", c.name, p.From, from)
	}
	if p.To != to {
		fatalf("private to mismatch (%s): got=%q want=%q", c.name, p.To, to)
	}
	if p.Text != text {
		fatalf("private text mismatch (%s): got=%q want=%q", c.name, p.Text, text)
	}
	if strings.TrimSpace(p.ConversationKey) == "" {
		fatalf("private missing conversationKey (%s)", c.name)
	}
}

func mustAssertPending(parent context.Context, c *smokeClient, from, to, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessagePending, stepTimeout, nil)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message.pending payload (%s): %v", c.name, err)
	}
	if p.From != from || p.To != to || p.Text != text {
		fatalf("pending mismatch (%s): from=%q to=%q text=%q", c.name, p.From, p.To, p.Text)
	}
}

func mustSendOffer(parent context.Context, c *smokeClient, to string, stepTimeout time.Duration) {
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0 smoke"}`)
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeCallOffer,
		ID:   fmt.Sprintf("%s-offer", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.CallOfferPayload{
			To:       to,
			Offer:    offer,
			CallType: "video",
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustAssertOffer(parent context.Context, c *smokeClient, from string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeCallOffer, stepTimeout, nil)

	var p v1.CallOfferPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal call.offer payload (%s): %v", c.name, err)
	}
	if p.From != from {
		fatalf("offer from mismatch (%s): got=%q want=%q", c.name, p.From, from)
	}
	if len(p.Offer) == 0 {
		fatalf("offer missing sdp payload (%s)", c.name)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
