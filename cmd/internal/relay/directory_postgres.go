package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRoomDirectory is a RoomDirectory backed by PostgreSQL.
//
// Schema (managed externally):
//
//	rooms(room_id PK, name)
//	room_participants(room_id, identity) UNIQUE(room_id, identity)
//	user_rooms(identity, room_name, room_id) UNIQUE(identity, room_id)
//
// The pool is owned by the caller.
type PostgresRoomDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresDirectoryOption configures PostgresRoomDirectory behavior.
type PostgresDirectoryOption func(*PostgresRoomDirectory) error

// WithDirectorySchema sets the DB schema used by the directory (default: "courier").
func WithDirectorySchema(schema string) PostgresDirectoryOption {
	return func(d *PostgresRoomDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("relay: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("relay: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresRoomDirectory constructs a directory backed by PostgreSQL.
func NewPostgresRoomDirectory(pool *pgxpool.Pool, opts ...PostgresDirectoryOption) (*PostgresRoomDirectory, error) {
	d := &PostgresRoomDirectory{
		pool:   pool,
		schema: "courier",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("relay: nil pool")
	}
	return d, nil
}

// UpsertRoom creates or replaces the room record and its participant list
// in one transaction.
func (d *PostgresRoomDirectory) UpsertRoom(ctx context.Context, room Room) error {
	if d == nil || d.pool == nil {
		return errors.New("relay: nil directory")
	}
	if strings.TrimSpace(room.RoomID) == "" {
		return errors.New("missing roomId")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rooms := pgIdent(d.schema, "rooms")
	participants := pgIdent(d.schema, "room_participants")

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+rooms+` (room_id, name) VALUES ($1, $2)
		 ON CONFLICT (room_id) DO UPDATE SET name = EXCLUDED.name`,
		room.RoomID, room.Name,
	); err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+participants+` WHERE room_id = $1`,
		room.RoomID,
	); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}

	for _, identity := range room.Participants {
		identity = strings.TrimSpace(identity)
		if identity == "" {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+participants+` (room_id, identity) VALUES ($1, $2)
			 ON CONFLICT (room_id, identity) DO NOTHING`,
			room.RoomID, identity,
		); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Participants returns the persisted participant set for roomID.
// A room with no record yields (nil, nil).
func (d *PostgresRoomDirectory) Participants(ctx context.Context, roomID string) ([]string, error) {
	if d == nil || d.pool == nil {
		return nil, errors.New("relay: nil directory")
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rooms := pgIdent(d.schema, "rooms")
	participants := pgIdent(d.schema, "room_participants")

	var one int
	err := d.pool.QueryRow(ctx,
		`SELECT 1 FROM `+rooms+` WHERE room_id = $1`,
		roomID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := d.pool.Query(ctx,
		`SELECT identity FROM `+participants+` WHERE room_id = $1 ORDER BY identity`,
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0, 8)
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendUserRoom appends a room reference to identity's profile record.
func (d *PostgresRoomDirectory) AppendUserRoom(ctx context.Context, identity, roomName, roomID string) error {
	if d == nil || d.pool == nil {
		return errors.New("relay: nil directory")
	}
	identity = strings.TrimSpace(identity)
	roomID = strings.TrimSpace(roomID)
	if identity == "" || roomID == "" {
		return errors.New("missing identity or roomId")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	userRooms := pgIdent(d.schema, "user_rooms")

	if _, err := d.pool.Exec(ctx,
		`INSERT INTO `+userRooms+` (identity, room_name, room_id) VALUES ($1, $2, $3)
		 ON CONFLICT (identity, room_id) DO NOTHING`,
		identity, roomName, roomID,
	); err != nil {
		return fmt.Errorf("append user room: %w", err)
	}
	return nil
}
