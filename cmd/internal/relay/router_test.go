package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	v1 "courier/shared/contracts/relay/v1"
)

type routerFixture struct {
	presence *Presence
	hub      *Hub
	pending  *PendingStore
	cache    *ConversationCache
	archive  *MemoryArchive
	rooms    *MemoryRoomDirectory
	router   *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	log := testLogger()
	f := &routerFixture{
		presence: NewPresence(log),
		hub:      NewHub(log),
		pending:  NewPendingStore(log, NewMemoryListStore()),
		cache:    NewConversationCache(log, NewMemoryListStore()),
		archive:  NewMemoryArchive(),
		rooms:    NewMemoryRoomDirectory(),
	}

	r, err := NewRouter(log, RouterDeps{
		Presence: f.presence,
		Hub:      f.hub,
		Pending:  f.pending,
		Cache:    f.cache,
		Archive:  f.archive,
		Rooms:    f.rooms,
	}, time.Second)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	f.router = r
	return f
}

func recvMessage(t *testing.T, c *Client, wantType string) v1.MessagePayload {
	t.Helper()

	select {
	case env := <-c.Send:
		if env.Type != wantType {
			t.Fatalf("envelope type=%q want=%q", env.Type, wantType)
		}
		var p v1.MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		return p
	case <-time.After(time.Second):
		t.Fatalf("no envelope received (want %q)", wantType)
		return v1.MessagePayload{}
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case env := <-c.Send:
		t.Fatalf("unexpected envelope: type=%q", env.Type)
	default:
	}
}

func TestRoutePrivateDeliversDirectWithoutQueueing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	bob := NewClient("sess-bob", 8)
	f.presence.Register("bob", bob)

	delivered, err := f.router.RoutePrivate(ctx, Message{ID: "m1", From: "alice", To: "bob", Text: "hi"})
	if err != nil {
		t.Fatalf("RoutePrivate: %v", err)
	}
	if !delivered {
		t.Fatalf("delivered=false want true")
	}

	p := recvMessage(t, bob, v1.TypeMessagePrivate)
	if p.From != "alice" || p.To != "bob" || p.Text != "hi" {
		t.Fatalf("payload=%+v", p)
	}
	if p.ConversationKey != "chat:alice:bob" {
		t.Fatalf("conversationKey=%q want chat:alice:bob", p.ConversationKey)
	}

	// Nothing queued for an online recipient.
	queued, err := f.pending.Drain(ctx, "bob")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("pending len=%d want 0", len(queued))
	}
}

func TestRoutePrivateQueuesForOfflineRecipient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	delivered, err := f.router.RoutePrivate(ctx, Message{ID: "m1", From: "alice", To: "bob", Text: "hi"})
	if err != nil {
		t.Fatalf("RoutePrivate: %v", err)
	}
	if delivered {
		t.Fatalf("delivered=true for offline recipient")
	}

	queued, err := f.router.DrainPending(ctx, "bob")
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != "m1" {
		t.Fatalf("queued=%v want [m1]", queued)
	}

	// The drain consumed the queue: no re-delivery on the next drain.
	again, err := f.router.DrainPending(ctx, "bob")
	if err != nil {
		t.Fatalf("second DrainPending: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second drain len=%d want 0", len(again))
	}
}

func TestRoutePrivateBackpressureFallsBackToQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	// Queue of one, already full: the recipient is online but saturated.
	bob := NewClient("sess-bob", 1)
	bob.Send <- v1.Envelope{V: v1.Version, Type: v1.TypeError}
	f.presence.Register("bob", bob)

	delivered, err := f.router.RoutePrivate(ctx, Message{ID: "m1", From: "alice", To: "bob", Text: "hi"})
	if err != nil {
		t.Fatalf("RoutePrivate: %v", err)
	}
	if delivered {
		t.Fatalf("delivered=true despite full queue")
	}

	queued, err := f.router.DrainPending(ctx, "bob")
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("queued len=%d want 1 (exactly one path)", len(queued))
	}
}

func TestRoutePrivateCachesUnderSortedKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	// Messages in both directions land under the same key.
	if _, err := f.router.RoutePrivate(ctx, Message{ID: "m1", From: "bob", To: "alice", Text: "a"}); err != nil {
		t.Fatalf("RoutePrivate: %v", err)
	}
	if _, err := f.router.RoutePrivate(ctx, Message{ID: "m2", From: "alice", To: "bob", Text: "b"}); err != nil {
		t.Fatalf("RoutePrivate: %v", err)
	}

	cached, err := f.cache.Recent(ctx, "chat:alice:bob")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(cached) != 2 || cached[0].ID != "m1" || cached[1].ID != "m2" {
		t.Fatalf("cached=%v want [m1 m2]", cached)
	}
}

func TestRouteRoomExcludesSenderSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	sender := NewClient("sess-a", 8)
	other := NewClient("sess-b", 8)
	grp := f.hub.GetOrCreateGroup("room-1")
	grp.Join(sender)
	grp.Join(other)

	err := f.router.RouteRoom(ctx, "sess-a", Message{
		ID: "m1", From: "alice", Room: "general", RoomID: "room-1", Text: "hi room",
	})
	if err != nil {
		t.Fatalf("RouteRoom: %v", err)
	}

	p := recvMessage(t, other, v1.TypeMessageRoom)
	if p.RoomID != "room-1" || p.Text != "hi room" {
		t.Fatalf("payload=%+v", p)
	}
	if p.ConversationKey != "general:room-1" {
		t.Fatalf("conversationKey=%q want general:room-1", p.ConversationKey)
	}

	assertNoMessage(t, sender)
}

func TestRouteRoomQueuesForOfflineParticipants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	if err := f.rooms.UpsertRoom(ctx, Room{
		RoomID:       "room-1",
		Name:         "general",
		Participants: []string{"alice", "bob", "carol"},
	}); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}

	// bob online and subscribed; carol recorded but offline.
	bob := NewClient("sess-bob", 8)
	f.presence.Register("bob", bob)
	f.hub.GetOrCreateGroup("room-1").Join(bob)

	err := f.router.RouteRoom(ctx, "sess-alice", Message{
		ID: "m1", From: "alice", Room: "general", RoomID: "room-1", Text: "hi",
	})
	if err != nil {
		t.Fatalf("RouteRoom: %v", err)
	}

	recvMessage(t, bob, v1.TypeMessageRoom)

	carolQueue, err := f.router.DrainPending(ctx, "carol")
	if err != nil {
		t.Fatalf("DrainPending carol: %v", err)
	}
	if len(carolQueue) != 1 || carolQueue[0].ID != "m1" {
		t.Fatalf("carol queue=%v want [m1]", carolQueue)
	}

	// Neither the sender nor the online participant got a queued copy.
	for _, identity := range []string{"alice", "bob"} {
		q, err := f.router.DrainPending(ctx, identity)
		if err != nil {
			t.Fatalf("DrainPending %s: %v", identity, err)
		}
		if len(q) != 0 {
			t.Fatalf("%s queue len=%d want 0", identity, len(q))
		}
	}
}

func TestRouteRoomNoParticipantRecordStillBroadcasts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	member := NewClient("sess-b", 8)
	f.hub.GetOrCreateGroup("room-x").Join(member)

	err := f.router.RouteRoom(ctx, "sess-a", Message{
		ID: "m1", From: "alice", Room: "adhoc", RoomID: "room-x", Text: "hi",
	})
	if err != nil {
		t.Fatalf("RouteRoom: %v", err)
	}

	recvMessage(t, member, v1.TypeMessageRoom)
}

func TestCreateRoomBroadcastsSystemMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	// alice online in the room, carol offline but a participant.
	alice := NewClient("sess-alice", 8)
	f.presence.Register("alice", alice)
	f.hub.GetOrCreateGroup("room-1").Join(alice)

	msg, err := f.router.CreateRoom(ctx, "alice", "general", "room-1", []string{"alice", "bob", "carol"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if msg.From != SystemIdentity {
		t.Fatalf("system message from=%q want %q", msg.From, SystemIdentity)
	}
	if msg.Text != "general created by alice" {
		t.Fatalf("system message text=%q", msg.Text)
	}

	// Broadcast reaches the creator too (nobody excluded).
	p := recvMessage(t, alice, v1.TypeMessageRoom)
	if p.From != SystemIdentity {
		t.Fatalf("broadcast from=%q want system", p.From)
	}

	// Offline participant gets it queued; the creator does not.
	carolQueue, err := f.router.DrainPending(ctx, "carol")
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if len(carolQueue) != 1 || carolQueue[0].From != SystemIdentity {
		t.Fatalf("carol queue=%v want one system message", carolQueue)
	}
	aliceQueue, err := f.router.DrainPending(ctx, "alice")
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if len(aliceQueue) != 0 {
		t.Fatalf("alice queue len=%d want 0", len(aliceQueue))
	}

	// Room record and profile refs persisted.
	participants, err := f.rooms.Participants(ctx, "room-1")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(participants) != 3 {
		t.Fatalf("participants=%v want 3 entries", participants)
	}
	if refs := f.rooms.UserRooms("bob"); len(refs) != 1 || refs[0] != "general:room-1" {
		t.Fatalf("bob refs=%v want [general:room-1]", refs)
	}

	// System message landed in the cache under the room key.
	cached, err := f.cache.Recent(ctx, "general:room-1")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(cached) != 1 || cached[0].From != SystemIdentity {
		t.Fatalf("cached=%v want one system message", cached)
	}
}

func TestCreateRoomIsIdempotentUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	if _, err := f.router.CreateRoom(ctx, "alice", "general", "room-1", []string{"alice", "bob"}); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := f.router.CreateRoom(ctx, "alice", "general", "room-1", []string{"alice", "bob", "carol"}); err != nil {
		t.Fatalf("second CreateRoom: %v", err)
	}

	participants, err := f.rooms.Participants(ctx, "room-1")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(participants) != 3 {
		t.Fatalf("participants=%v want replaced set of 3", participants)
	}

	// Profile refs stay deduplicated.
	if refs := f.rooms.UserRooms("alice"); len(refs) != 1 {
		t.Fatalf("alice refs=%v want exactly one", refs)
	}
}

func TestRemovePendingKeepsOtherConversations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newRouterFixture(t)

	if _, err := f.router.RoutePrivate(ctx, Message{ID: "m1", From: "alice", To: "bob", Text: "a"}); err != nil {
		t.Fatalf("RoutePrivate: %v", err)
	}
	if _, err := f.router.RoutePrivate(ctx, Message{ID: "m2", From: "carol", To: "bob", Text: "b"}); err != nil {
		t.Fatalf("RoutePrivate: %v", err)
	}

	if err := f.router.RemovePending(ctx, "bob", "chat:alice:bob"); err != nil {
		t.Fatalf("RemovePending: %v", err)
	}

	queued, err := f.router.DrainPending(ctx, "bob")
	if err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != "m2" {
		t.Fatalf("queued=%v want [m2]", queued)
	}
}
