package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresArchive is an Archive backed by PostgreSQL.
//
// Ownership model:
// - PostgresArchive does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Schema (managed externally):
//
//	messages(conversation_key, msg_id, sender, recipient, room_name, room_id, text, ts)
//	UNIQUE (conversation_key, msg_id)
type PostgresArchive struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresArchiveOption configures PostgresArchive behavior.
type PostgresArchiveOption func(*PostgresArchive) error

// WithArchiveSchema sets the DB schema used by this store (default: "courier").
// The schema name is validated and safely quoted in queries.
func WithArchiveSchema(schema string) PostgresArchiveOption {
	return func(a *PostgresArchive) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("relay: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("relay: invalid schema identifier")
		}
		a.schema = schema
		return nil
	}
}

// NewPostgresArchive constructs a Postgres-backed Archive.
func NewPostgresArchive(pool *pgxpool.Pool, opts ...PostgresArchiveOption) (*PostgresArchive, error) {
	a := &PostgresArchive{
		pool:   pool,
		schema: "courier",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.pool == nil {
		return nil, errors.New("relay: nil pool")
	}
	return a, nil
}

// Close is a no-op because the pool is owned by the caller.
func (a *PostgresArchive) Close() error { return nil }

// Append persists msg. Duplicate (conversation_key, msg_id) pairs are a
// silent no-op, which keeps redelivery after a reconnect idempotent.
func (a *PostgresArchive) Append(ctx context.Context, msg Message) error {
	if a == nil || a.pool == nil {
		return errors.New("relay: nil archive")
	}
	if msg.ConversationKey == "" || msg.ID == "" {
		return errors.New("invalid message: missing conversationKey or id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	messages := pgIdent(a.schema, "messages")

	if _, err := a.pool.Exec(ctx,
		`INSERT INTO `+messages+` (
		     conversation_key, msg_id, sender, recipient, room_name, room_id, text, ts
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		   ON CONFLICT (conversation_key, msg_id) DO NOTHING`,
		msg.ConversationKey, msg.ID, msg.From, msg.To, msg.Room, msg.RoomID, msg.Text, ts,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// HistoryBefore returns up to limit messages older than before, oldest first.
func (a *PostgresArchive) HistoryBefore(ctx context.Context, conversationKey string, before time.Time, limit int) ([]Message, error) {
	if a == nil || a.pool == nil {
		return nil, errors.New("relay: nil archive")
	}
	if conversationKey == "" {
		return nil, errors.New("missing conversationKey")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages := pgIdent(a.schema, "messages")

	// Newest-first window under the cursor, reversed to oldest-first below.
	rows, err := a.pool.Query(ctx,
		`SELECT conversation_key, msg_id, sender, recipient, room_name, room_id, text, ts
		   FROM `+messages+`
		  WHERE conversation_key = $1 AND ts < $2
		  ORDER BY ts DESC
		  LIMIT $3`,
		conversationKey, before, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	newestFirst := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ConversationKey,
			&m.ID,
			&m.From,
			&m.To,
			&m.Room,
			&m.RoomID,
			&m.Text,
			&m.Timestamp,
		); err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		out = append(out, newestFirst[i])
	}
	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
