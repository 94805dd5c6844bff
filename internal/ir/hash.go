package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/tandem/internal/vclock"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainDocument  = "tandem/document/v1"
	DomainOperation = "tandem/operation/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentDigest fingerprints a replica's converged state. Two replicas
// that applied the same operation set report the same digest.
func DocumentDigest(content string, clock vclock.Clock, messages []Message) (string, error) {
	transcript := make([]any, len(messages))
	for i, m := range messages {
		transcript[i] = m.OpID
	}
	canonical, err := MarshalCanonical(map[string]any{
		"clock":      clock,
		"content":    content,
		"transcript": transcript,
	})
	if err != nil {
		return "", fmt.Errorf("DocumentDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// OperationDigest fingerprints an operation's content, independent of its
// JSON field order on the wire.
func OperationDigest(op Operation) (string, error) {
	obj := map[string]any{
		"id":        op.ID,
		"kind":      string(op.Kind),
		"origin":    op.Origin,
		"counter":   op.Counter,
		"clock":     op.Clock,
		"timestamp": op.Timestamp,
		"position":  op.Position,
		"length":    op.Length,
		"content":   op.Content,
		"payload":   op.Payload,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("OperationDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}
