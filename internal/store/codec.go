package store

import (
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/ir"
)

// encMode uses Core Deterministic Encoding: the same snapshot always
// produces the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeSnapshot serializes snap as zstd-compressed CBOR.
func EncodeSnapshot(snap crdt.Snapshot) ([]byte, error) {
	raw, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", snap.DocID, err)
	}
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(data []byte) (crdt.Snapshot, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("decompress snapshot: %w", err)
	}
	var snap crdt.Snapshot
	if err := decMode.Unmarshal(raw, &snap); err != nil {
		return crdt.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Summary describes a stored snapshot without decoding it.
type Summary struct {
	DocID   string `json:"doc_id"`
	Version int    `json:"version"`
	Clock   string `json:"clock"`
	Content string `json:"content"`
	Digest  string `json:"digest"`
	TakenAt int64  `json:"taken_at"`
}

// record is the column set shared by every backend.
type record struct {
	Summary
	State []byte
}

func newRecord(snap crdt.Snapshot) (record, error) {
	state, err := EncodeSnapshot(snap)
	if err != nil {
		return record{}, err
	}
	clock, err := ir.MarshalCanonical(snap.Clock)
	if err != nil {
		return record{}, fmt.Errorf("encode clock %s: %w", snap.DocID, err)
	}
	digest, err := ir.DocumentDigest(snap.Content, snap.Clock, transcript(snap.Operations))
	if err != nil {
		return record{}, fmt.Errorf("digest %s: %w", snap.DocID, err)
	}
	return record{
		Summary: Summary{
			DocID:   snap.DocID,
			Version: snap.Version,
			Clock:   string(clock),
			Content: snap.Content,
			Digest:  digest,
			TakenAt: snap.TakenAt,
		},
		State: state,
	}, nil
}

// transcript rebuilds the ordered message list of a snapshot's log so the
// stored digest matches the live document's.
func transcript(ops []ir.Operation) []ir.Message {
	var msgs []ir.Operation
	for _, op := range ops {
		if op.Kind == ir.KindAddMessage {
			msgs = append(msgs, op)
		}
	}
	slices.SortFunc(msgs, func(a, b ir.Operation) int {
		return a.Priority().Compare(b.Priority())
	})
	out := make([]ir.Message, len(msgs))
	for i, op := range msgs {
		out[i] = ir.Message{OpID: op.ID, Site: op.Origin, Payload: op.Payload, Timestamp: op.Timestamp}
	}
	return out
}
