// Package v1 defines the Courier Relay Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeRegister binds a logical identity to the current connection (client -> server).
	TypeRegister = "register"
	// TypeRegisterAck confirms the binding and reports drained pending count (server -> client).
	TypeRegisterAck = "register.ack"

	// TypeMessagePrivate carries a one-to-one message (both directions).
	TypeMessagePrivate = "message.private"
	// TypeMessageRoom carries a room message (both directions).
	TypeMessageRoom = "message.room"
	// TypeMessagePending delivers a message that was queued while the identity was offline (server -> client).
	TypeMessagePending = "message.pending"

	// TypeRoomCreate creates a room record and announces it (client -> server).
	TypeRoomCreate = "room.create"
	// TypeRoomJoin subscribes the connection to a room's broadcast group (client -> server).
	TypeRoomJoin = "room.join"

	// TypePendingRemove clears queued messages for one conversation (client -> server).
	TypePendingRemove = "pending.remove"

	// Call signaling kinds. Each is a pure relay hop between two identities.
	TypeCallOffer  = "call.offer"
	TypeCallAnswer = "call.answer"
	TypeCallICE    = "call.ice"
	TypeCallAccept = "call.accept"
	TypeCallReject = "call.reject"
	TypeCallHangup = "call.hangup"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeRegister,
		TypeRegisterAck,
		TypeMessagePrivate,
		TypeMessageRoom,
		TypeMessagePending,
		TypeRoomCreate,
		TypeRoomJoin,
		TypePendingRemove,
		TypeCallOffer,
		TypeCallAnswer,
		TypeCallICE,
		TypeCallAccept,
		TypeCallReject,
		TypeCallHangup,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Session payloads ----

// RegisterPayload binds an identity to the connection.
// Token is required only when the server enforces registration tokens.
type RegisterPayload struct {
	Identity string `json:"identity"`
	Token    string `json:"token,omitempty"`
}

// Validate checks required fields.
func (p RegisterPayload) Validate() error {
	if strings.TrimSpace(p.Identity) == "" {
		return errors.New("missing field: identity")
	}
	return nil
}

// RegisterAckPayload confirms registration.
// Pending is the number of queued messages delivered right after the ack.
type RegisterAckPayload struct {
	SessionID string `json:"session_id"`
	Identity  string `json:"identity"`
	Pending   int    `json:"pending"`
}

// ---- Message payloads ----

// MessagePayload is the wire form of a relayed message. It is used for
// message.private, message.room and message.pending in both directions.
type MessagePayload struct {
	ID              string    `json:"id"`
	From            string    `json:"from"`
	To              string    `json:"to,omitempty"`
	Room            string    `json:"room,omitempty"`
	RoomID          string    `json:"roomId,omitempty"`
	ConversationKey string    `json:"conversationKey,omitempty"`
	Text            string    `json:"text"`
	Timestamp       time.Time `json:"timestamp"`
}

// ValidatePrivate checks the fields required for a one-to-one message.
func (p MessagePayload) ValidatePrivate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("missing field: id")
	}
	if strings.TrimSpace(p.To) == "" {
		return errors.New("missing field: to")
	}
	if strings.TrimSpace(p.Text) == "" {
		return errors.New("missing field: text")
	}
	return nil
}

// ValidateRoom checks the fields required for a room message.
func (p MessagePayload) ValidateRoom() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("missing field: id")
	}
	if strings.TrimSpace(p.Room) == "" {
		return errors.New("missing field: room")
	}
	if strings.TrimSpace(p.RoomID) == "" {
		return errors.New("missing field: roomId")
	}
	if strings.TrimSpace(p.Text) == "" {
		return errors.New("missing field: text")
	}
	return nil
}

// RoomCreatePayload upserts a room record and its participant list.
type RoomCreatePayload struct {
	Room         string   `json:"room"`
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
}

// Validate checks required fields.
func (p RoomCreatePayload) Validate() error {
	if strings.TrimSpace(p.Room) == "" {
		return errors.New("missing field: room")
	}
	if strings.TrimSpace(p.RoomID) == "" {
		return errors.New("missing field: roomId")
	}
	return nil
}

// RoomJoinPayload subscribes the connection to a room's broadcast group.
type RoomJoinPayload struct {
	Room   string `json:"room"`
	RoomID string `json:"roomId"`
}

// Validate checks required fields.
func (p RoomJoinPayload) Validate() error {
	if strings.TrimSpace(p.RoomID) == "" {
		return errors.New("missing field: roomId")
	}
	return nil
}

// PendingRemovePayload clears queued messages matching one conversation key.
type PendingRemovePayload struct {
	Identity        string `json:"identity"`
	ConversationKey string `json:"conversationKey"`
}

// Validate checks required fields.
func (p PendingRemovePayload) Validate() error {
	if strings.TrimSpace(p.Identity) == "" {
		return errors.New("missing field: identity")
	}
	if strings.TrimSpace(p.ConversationKey) == "" {
		return errors.New("missing field: conversationKey")
	}
	return nil
}

// ---- Call signaling payloads ----
//
// The envelope type is the union tag; each kind has its own payload struct
// with explicit required fields. The server validates the fields and relays
// the opaque SDP/ICE bodies untouched. No call state is kept server-side.

// CallOfferPayload starts a call attempt toward To.
// Inbound it carries the target; outbound To is cleared and From identifies the caller.
type CallOfferPayload struct {
	To       string          `json:"to,omitempty"`
	From     string          `json:"from,omitempty"`
	Offer    json.RawMessage `json:"offer"`
	CallType string          `json:"callType"`
}

// Validate checks the fields required on the inbound leg.
func (p CallOfferPayload) Validate() error {
	if strings.TrimSpace(p.To) == "" {
		return errors.New("missing field: to")
	}
	if len(p.Offer) == 0 {
		return errors.New("missing field: offer")
	}
	return nil
}

// CallAnswerPayload answers a previously received offer.
type CallAnswerPayload struct {
	To     string          `json:"to,omitempty"`
	Answer json.RawMessage `json:"answer"`
}

// Validate checks the fields required on the inbound leg.
func (p CallAnswerPayload) Validate() error {
	if strings.TrimSpace(p.To) == "" {
		return errors.New("missing field: to")
	}
	if len(p.Answer) == 0 {
		return errors.New("missing field: answer")
	}
	return nil
}

// CallICEPayload relays one ICE candidate (either direction of the handshake).
type CallICEPayload struct {
	To        string          `json:"to,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

// Validate checks the fields required on the inbound leg.
func (p CallICEPayload) Validate() error {
	if strings.TrimSpace(p.To) == "" {
		return errors.New("missing field: to")
	}
	if len(p.Candidate) == 0 {
		return errors.New("missing field: candidate")
	}
	return nil
}

// CallControlPayload is shared by call.accept, call.reject and call.hangup:
// a bare notification aimed at To with no body.
type CallControlPayload struct {
	To string `json:"to,omitempty"`
}

// Validate checks the fields required on the inbound leg.
func (p CallControlPayload) Validate() error {
	if strings.TrimSpace(p.To) == "" {
		return errors.New("missing field: to")
	}
	return nil
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
