package relay

import (
	"encoding/json"
	"time"

	v1 "courier/shared/contracts/relay/v1"
)

// newEnvelope wraps payload into a versioned wire envelope.
func newEnvelope(typ string, payload interface{}, ts time.Time) v1.Envelope {
	b, _ := json.Marshal(payload)
	id, _ := NewEnvelopeID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: b,
	}
}

// messagePayload converts a domain message to its wire form.
func messagePayload(msg Message) v1.MessagePayload {
	return v1.MessagePayload{
		ID:              msg.ID,
		From:            msg.From,
		To:              msg.To,
		Room:            msg.Room,
		RoomID:          msg.RoomID,
		ConversationKey: msg.ConversationKey,
		Text:            msg.Text,
		Timestamp:       msg.Timestamp,
	}
}
