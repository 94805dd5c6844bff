package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/vclock"
)

func TestDocumentDigestDeterminism(t *testing.T) {
	clock := vclock.Clock{"A": 1, "B": 2}
	msgs := []Message{{OpID: "A-1", Site: "A", Payload: "hi"}}

	d1, err := DocumentDigest("hello", clock, msgs)
	require.NoError(t, err)
	d2, err := DocumentDigest("hello", vclock.Clock{"B": 2, "A": 1}, msgs)
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "map order must not matter")
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestDocumentDigestChangesWithInput(t *testing.T) {
	base, err := DocumentDigest("hello", vclock.Clock{"A": 1}, nil)
	require.NoError(t, err)

	otherContent, err := DocumentDigest("hellO", vclock.Clock{"A": 1}, nil)
	require.NoError(t, err)
	otherClock, err := DocumentDigest("hello", vclock.Clock{"A": 2}, nil)
	require.NoError(t, err)
	otherTranscript, err := DocumentDigest("hello", vclock.Clock{"A": 1}, []Message{{OpID: "A-1"}})
	require.NoError(t, err)

	assert.NotEqual(t, base, otherContent)
	assert.NotEqual(t, base, otherClock)
	assert.NotEqual(t, base, otherTranscript)
}

func TestOperationDigest(t *testing.T) {
	op := Operation{
		Intent:    Insert(0, "foo"),
		ID:        "A-1",
		Origin:    "A",
		Counter:   1,
		Clock:     vclock.Clock{"A": 1},
		Timestamp: 100,
	}
	d1, err := OperationDigest(op)
	require.NoError(t, err)

	op2 := op
	op2.Content = "bar"
	d2, err := OperationDigest(op2)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, hashWithDomain(DomainDocument, data), hashWithDomain(DomainOperation, data))
}
