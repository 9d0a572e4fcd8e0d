package relay

import "context"

// Room is the persisted room record.
type Room struct {
	RoomID       string
	Name         string
	Participants []string
}

// RoomDirectory is the durable account/room collaborator: room records,
// their participant lists, and the per-user room references shown in a
// user's profile.
//
// Participants returning (nil, nil) is a valid, non-error outcome meaning
// "no persisted record"; callers treat it as degraded-but-non-fatal.
type RoomDirectory interface {
	UpsertRoom(ctx context.Context, room Room) error
	Participants(ctx context.Context, roomID string) ([]string, error)
	AppendUserRoom(ctx context.Context, identity, roomName, roomID string) error
}
