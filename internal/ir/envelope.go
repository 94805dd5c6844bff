package ir

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/tandem/internal/vclock"
)

// MessageType distinguishes envelope payloads.
type MessageType string

const (
	// TypeOperation carries a single Operation.
	TypeOperation MessageType = "operation"
	// TypeSyncRequest asks the peer for operations the sender has not seen.
	TypeSyncRequest MessageType = "sync_request"
	// TypeSyncResponse answers a SyncRequest.
	TypeSyncResponse MessageType = "sync_response"
	// TypeHeartbeat is a transport-level ping or pong.
	TypeHeartbeat MessageType = "heartbeat"
)

// Envelope is the transport-agnostic wire message.
type Envelope struct {
	ID         string          `json:"id"`
	Type       MessageType     `json:"type"`
	DocID      string          `json:"doc_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SenderSite string          `json:"sender_site"`
}

// SyncRequest carries the requester's clock for one document.
type SyncRequest struct {
	DocID string       `json:"doc_id"`
	Clock vclock.Clock `json:"clock"`
}

// SyncResponse carries exactly log.OperationsSince(request.Clock).
type SyncResponse struct {
	DocID      string      `json:"doc_id"`
	Operations []Operation `json:"operations"`
}

// Heartbeat is a ping (Pong == false) or its echo (Pong == true).
// SentAt is the pinger's wall clock in unix milliseconds.
type Heartbeat struct {
	SentAt int64 `json:"sent_at"`
	Pong   bool  `json:"pong"`
}

// NewEnvelope marshals payload into a new envelope.
func NewEnvelope(id string, typ MessageType, docID, sender string, payload any) (Envelope, error) {
	env := Envelope{
		ID:         id,
		Type:       typ,
		DocID:      docID,
		SenderSite: sender,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope %s: empty payload", e.Type, e.ID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s envelope %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// Operation decodes an operation envelope and validates it.
func (e Envelope) Operation() (Operation, error) {
	if e.Type != TypeOperation {
		return Operation{}, fmt.Errorf("envelope %s: type %s is not %s", e.ID, e.Type, TypeOperation)
	}
	var op Operation
	if err := e.Decode(&op); err != nil {
		return Operation{}, err
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Validate checks the envelope header.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeOperation, TypeSyncRequest, TypeSyncResponse:
		if e.DocID == "" {
			return fmt.Errorf("envelope %s: %s requires doc_id", e.ID, e.Type)
		}
	case TypeHeartbeat:
	default:
		return fmt.Errorf("envelope %s: unknown type %q", e.ID, e.Type)
	}
	return nil
}

// Encode marshals an envelope for a text frame.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses and validates a text frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
