package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	v1 "courier/shared/contracts/relay/v1"
)

// Signaler relays the WebRTC call handshake between two named identities.
//
// It is deliberately stateless: every signaling message carries its target
// identity, so the only lookup needed is the presence registry. Correctness
// of the handshake (offer -> answer -> ICE -> accept/reject -> hangup) is the
// clients' responsibility; the server never validates protocol order and
// never queues a signal for an offline peer; a call cannot be "pending".
// When the target is offline the signal is silently dropped and the caller's
// client detects the timeout on its own.
type Signaler struct {
	log      *slog.Logger
	presence *Presence
	metrics  *Metrics
}

// NewSignaler constructs a Signaler. Metrics may be nil.
func NewSignaler(log *slog.Logger, presence *Presence, metrics *Metrics) *Signaler {
	return &Signaler{log: log, presence: presence, metrics: metrics}
}

// ForwardOffer delivers a call offer to callee, identifying the caller.
// It reports whether the target had a live connection.
func (s *Signaler) ForwardOffer(to, from string, offer json.RawMessage, callType string) bool {
	return s.forward(v1.TypeCallOffer, to, v1.CallOfferPayload{
		From:     from,
		Offer:    offer,
		CallType: callType,
	})
}

// ForwardAnswer delivers an SDP answer to the caller.
func (s *Signaler) ForwardAnswer(to string, answer json.RawMessage) bool {
	return s.forward(v1.TypeCallAnswer, to, v1.CallAnswerPayload{Answer: answer})
}

// ForwardICECandidate relays one ICE candidate (either direction).
func (s *Signaler) ForwardICECandidate(to string, candidate json.RawMessage) bool {
	return s.forward(v1.TypeCallICE, to, v1.CallICEPayload{Candidate: candidate})
}

// ForwardCallAccepted notifies the caller that the callee picked up.
func (s *Signaler) ForwardCallAccepted(to string) bool {
	return s.forward(v1.TypeCallAccept, to, v1.CallControlPayload{})
}

// ForwardCallRejected notifies the caller that the callee declined.
func (s *Signaler) ForwardCallRejected(to string) bool {
	return s.forward(v1.TypeCallReject, to, v1.CallControlPayload{})
}

// ForwardHangup notifies the peer that the call ended.
func (s *Signaler) ForwardHangup(to string) bool {
	return s.forward(v1.TypeCallHangup, to, v1.CallControlPayload{})
}

func (s *Signaler) forward(kind, to string, payload interface{}) bool {
	c := s.presence.Lookup(to)
	if c == nil {
		s.metrics.signaled(kind, OutcomeDropped)
		s.log.Debug("signal.drop.offline", "kind", kind, "to", to)
		return false
	}

	env := newEnvelope(kind, payload, time.Now().UTC())
	if !c.TryEnqueue(env) {
		s.metrics.signaled(kind, OutcomeDropped)
		s.log.Warn("signal.drop.backpressure", "kind", kind, "to", to)
		return false
	}

	s.metrics.signaled(kind, OutcomeDelivered)
	return true
}
