package relay

import (
	"context"
	"errors"
	"sync"
)

// MemoryRoomDirectory is a dev/test fallback when the database is not configured.
type MemoryRoomDirectory struct {
	mu        sync.Mutex
	rooms     map[string]Room
	userRooms map[string][]string // identity -> "name:roomId" refs
}

// NewMemoryRoomDirectory constructs an in-memory RoomDirectory implementation.
func NewMemoryRoomDirectory() *MemoryRoomDirectory {
	return &MemoryRoomDirectory{
		rooms:     make(map[string]Room),
		userRooms: make(map[string][]string),
	}
}

// UpsertRoom creates or replaces the room record.
func (d *MemoryRoomDirectory) UpsertRoom(ctx context.Context, room Room) error {
	if room.RoomID == "" {
		return errors.New("missing roomId")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	room.Participants = append([]string(nil), room.Participants...)
	d.rooms[room.RoomID] = room
	d.mu.Unlock()
	return nil
}

// Participants returns the persisted participant set, or (nil, nil) when no
// record exists.
func (d *MemoryRoomDirectory) Participants(ctx context.Context, roomID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), room.Participants...), nil
}

// AppendUserRoom appends a room reference to identity's profile (deduplicated).
func (d *MemoryRoomDirectory) AppendUserRoom(ctx context.Context, identity, roomName, roomID string) error {
	if identity == "" || roomID == "" {
		return errors.New("missing identity or roomId")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ref := roomName + ":" + roomID

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.userRooms[identity] {
		if r == ref {
			return nil
		}
	}
	d.userRooms[identity] = append(d.userRooms[identity], ref)
	return nil
}

// UserRooms returns identity's room references (test helper).
func (d *MemoryRoomDirectory) UserRooms(identity string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.userRooms[identity]...)
}
