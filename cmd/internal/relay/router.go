package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "courier/shared/contracts/relay/v1"

	"github.com/google/uuid"
)

// Router accepts inbound messages, persists them, updates caches, and fans
// them out to live recipients, queuing copies for everyone else.
//
// Failure model: an archive failure fails the single request (the message is
// not silently lost, the caller is told). A cache failure is degraded-but-
// non-fatal; the cached window is invalidated so it never presents a hole.
// Every external-store call runs under its own bounded timeout and no lock
// is held across any of them.
type Router struct {
	log *slog.Logger

	presence *Presence
	hub      *Hub
	pending  *PendingStore
	cache    *ConversationCache
	archive  Archive
	rooms    RoomDirectory
	metrics  *Metrics

	storeTimeout time.Duration
}

// RouterDeps bundles the router's collaborators.
type RouterDeps struct {
	Presence *Presence
	Hub      *Hub
	Pending  *PendingStore
	Cache    *ConversationCache
	Archive  Archive
	Rooms    RoomDirectory
	Metrics  *Metrics
}

// NewRouter constructs a Router. Metrics may be nil.
func NewRouter(log *slog.Logger, deps RouterDeps, storeTimeout time.Duration) (*Router, error) {
	if deps.Presence == nil || deps.Hub == nil || deps.Pending == nil ||
		deps.Cache == nil || deps.Archive == nil || deps.Rooms == nil {
		return nil, errors.New("relay: missing router dependency")
	}
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Router{
		log:          log,
		presence:     deps.Presence,
		hub:          deps.Hub,
		pending:      deps.Pending,
		cache:        deps.Cache,
		archive:      deps.Archive,
		rooms:        deps.Rooms,
		metrics:      deps.Metrics,
		storeTimeout: storeTimeout,
	}, nil
}

func (r *Router) storeCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.storeTimeout)
}

// RoutePrivate persists and routes a one-to-one message.
// Exactly one delivery path executes: direct delivery to the recipient's live
// connection, or one enqueue into their pending queue, never both and never
// neither. The returned bool reports whether direct delivery happened.
func (r *Router) RoutePrivate(ctx context.Context, msg Message) (bool, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Room, msg.RoomID = "", ""
	msg.ConversationKey = PrivateConversationKey(msg.From, msg.To)

	if err := r.persist(ctx, msg); err != nil {
		r.metrics.routed("private", OutcomeFailed)
		return false, err
	}

	env := newEnvelope(v1.TypeMessagePrivate, messagePayload(msg), msg.Timestamp)

	if c := r.presence.Lookup(msg.To); c != nil {
		if c.TryEnqueue(env) {
			r.metrics.routed("private", OutcomeDelivered)
			r.log.Info("route.private.delivered", "from", msg.From, "to", msg.To, "msg_id", msg.ID)
			return true, nil
		}
		// Recipient is shutting down or backpressured: fall through to the
		// queue so exactly one path still executes.
		r.log.Warn("route.private.backpressure", "to", msg.To, "msg_id", msg.ID)
	}

	if err := r.enqueuePending(ctx, msg.To, msg); err != nil {
		r.metrics.routed("private", OutcomeFailed)
		return false, err
	}

	r.metrics.routed("private", OutcomeQueued)
	r.log.Info("route.private.queued", "from", msg.From, "to", msg.To, "msg_id", msg.ID)
	return false, nil
}

// RouteRoom persists a room message, queues copies for offline persisted
// participants, and broadcasts once to the room's live group, excluding the
// sender's own connection (senders render optimistically client-side).
//
// A room with no persisted participant record is degraded-but-non-fatal:
// the broadcast still proceeds, there is just nobody to enumerate for
// offline queuing.
func (r *Router) RouteRoom(ctx context.Context, senderSession string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.To = ""
	msg.ConversationKey = RoomConversationKey(msg.Room, msg.RoomID)

	if err := r.persist(ctx, msg); err != nil {
		r.metrics.routed("room", OutcomeFailed)
		return err
	}

	r.queueForOfflineParticipants(ctx, msg, msg.From)

	env := newEnvelope(v1.TypeMessageRoom, messagePayload(msg), msg.Timestamp)
	r.hub.GetOrCreateGroup(msg.RoomID).Broadcast(env, senderSession)

	r.metrics.routed("room", OutcomeBroadcast)
	r.log.Info("route.room.broadcast", "room_id", msg.RoomID, "from", msg.From, "msg_id", msg.ID)
	return nil
}

// CreateRoom upserts the room record, appends a room reference to every
// participant's profile, then pushes a synthetic system message through the
// same persist+cache path as a normal room message and broadcasts it to the
// room's broadcast group (nobody is excluded). Offline participants get the
// system message queued like any other room message.
func (r *Router) CreateRoom(ctx context.Context, creator, name, roomID string, participants []string) (Message, error) {
	dctx, cancel := r.storeCtx(ctx)
	err := r.rooms.UpsertRoom(dctx, Room{RoomID: roomID, Name: name, Participants: participants})
	cancel()
	if err != nil {
		r.metrics.storeFailed("directory")
		return Message{}, fmt.Errorf("upsert room: %w", err)
	}

	for _, identity := range participants {
		uctx, cancel := r.storeCtx(ctx)
		err := r.rooms.AppendUserRoom(uctx, identity, name, roomID)
		cancel()
		if err != nil {
			// A missing profile ref degrades the participant's room list,
			// not the room itself.
			r.metrics.storeFailed("directory")
			r.log.Warn("room.create.user_ref.fail", "identity", identity, "room_id", roomID, "err", err)
		}
	}

	now := time.Now().UTC()
	msg := Message{
		ID:              uuid.NewString(),
		From:            SystemIdentity,
		Room:            name,
		RoomID:          roomID,
		ConversationKey: RoomConversationKey(name, roomID),
		Text:            fmt.Sprintf("%s created by %s", name, creator),
		Timestamp:       now,
	}

	if err := r.persist(ctx, msg); err != nil {
		r.metrics.routed("system", OutcomeFailed)
		return Message{}, err
	}

	r.queueForOfflineParticipants(ctx, msg, creator)

	env := newEnvelope(v1.TypeMessageRoom, messagePayload(msg), now)
	r.hub.GetOrCreateGroup(roomID).Broadcast(env, "")

	r.metrics.routed("system", OutcomeBroadcast)
	r.log.Info("room.created", "room_id", roomID, "name", name, "creator", creator, "participants", len(participants))
	return msg, nil
}

// DrainPending returns and removes identity's queued messages, in enqueue order.
func (r *Router) DrainPending(ctx context.Context, identity string) ([]Message, error) {
	dctx, cancel := r.storeCtx(ctx)
	defer cancel()

	msgs, err := r.pending.Drain(dctx, identity)
	if err != nil {
		r.metrics.storeFailed("pending")
		return nil, err
	}
	r.metrics.pendingDrained(len(msgs))
	return msgs, nil
}

// RestorePending re-queues messages that were drained but not delivered.
func (r *Router) RestorePending(ctx context.Context, identity string, msgs []Message) error {
	rctx, cancel := r.storeCtx(ctx)
	defer cancel()

	if err := r.pending.Restore(rctx, identity, msgs); err != nil {
		r.metrics.storeFailed("pending")
		return err
	}
	return nil
}

// RemovePending clears identity's queued messages for one conversation.
func (r *Router) RemovePending(ctx context.Context, identity, conversationKey string) error {
	rctx, cancel := r.storeCtx(ctx)
	defer cancel()

	if err := r.pending.Remove(rctx, identity, conversationKey); err != nil {
		r.metrics.storeFailed("pending")
		return err
	}
	return nil
}

// persist writes msg to the archive, then updates the conversation cache.
// Archive failure fails the request; cache failure only invalidates the
// cached window so it stays a true suffix of the archive.
func (r *Router) persist(ctx context.Context, msg Message) error {
	actx, cancel := r.storeCtx(ctx)
	err := r.archive.Append(actx, msg)
	cancel()
	if err != nil {
		r.metrics.storeFailed("archive")
		return fmt.Errorf("archive append: %w", err)
	}

	cctx, cancel := r.storeCtx(ctx)
	err = r.cache.Append(cctx, msg.ConversationKey, msg)
	cancel()
	if err != nil {
		r.metrics.storeFailed("cache")
		r.log.Warn("cache.append.fail", "key", msg.ConversationKey, "err", err)

		ictx, cancel := r.storeCtx(ctx)
		if ierr := r.cache.Invalidate(ictx, msg.ConversationKey); ierr != nil {
			r.log.Warn("cache.invalidate.fail", "key", msg.ConversationKey, "err", ierr)
		}
		cancel()
	}
	return nil
}

// queueForOfflineParticipants enqueues a copy of msg for every persisted
// participant without a live connection, except the sender. Directory or
// queue failures are logged and skipped; the broadcast path must not be
// blocked by one participant's store trouble.
func (r *Router) queueForOfflineParticipants(ctx context.Context, msg Message, sender string) {
	pctx, cancel := r.storeCtx(ctx)
	participants, err := r.rooms.Participants(pctx, msg.RoomID)
	cancel()
	if err != nil {
		r.metrics.storeFailed("directory")
		r.log.Warn("room.participants.fail", "room_id", msg.RoomID, "err", err)
		return
	}
	if len(participants) == 0 {
		return
	}

	for _, identity := range participants {
		if identity == sender {
			continue
		}
		if r.presence.Lookup(identity) != nil {
			continue
		}
		if err := r.enqueuePending(ctx, identity, msg); err != nil {
			r.log.Warn("room.pending.fail", "identity", identity, "room_id", msg.RoomID, "err", err)
		}
	}
}

func (r *Router) enqueuePending(ctx context.Context, identity string, msg Message) error {
	qctx, cancel := r.storeCtx(ctx)
	defer cancel()

	if err := r.pending.Enqueue(qctx, identity, msg); err != nil {
		r.metrics.storeFailed("pending")
		return fmt.Errorf("enqueue pending for %s: %w", identity, err)
	}
	r.metrics.pendingEnqueued()
	return nil
}
