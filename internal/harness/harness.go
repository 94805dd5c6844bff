package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/tandem/internal/crdt"
	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/testutil"
)

// Option configures a run.
type Option func(*Harness)

// WithLogger logs every trace event at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

type linkKey struct {
	from, to string
}

// Harness is the simulation engine. It owns one crdt.Document per site and
// one FIFO of encoded envelopes per directed link.
type Harness struct {
	scenario *Scenario
	docID    string

	clock *testutil.DeterministicClock
	ids   *engine.SequenceGenerator

	docs   map[string]*crdt.Document
	links  map[linkKey][][]byte
	events map[string]map[string]int

	result *Result
	seq    int64
	logger *slog.Logger
}

// observed collects what a step produced for its expect clause.
type observed struct {
	outcomes []string
	codes    []string
}

// Run executes a scenario and returns the result.
//
// Each run starts from empty replicas, a fresh deterministic clock and a
// fresh envelope ID sequence, so repeated runs produce identical traces.
// Failed expectations and assertions are reported in the result; the
// returned error is reserved for faults of the harness itself.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := newHarness(scenario, opts...)

	for i, step := range scenario.Steps {
		if err := h.execute(i+1, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Kind(), err)
		}
	}
	if err := h.finish(); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func newHarness(scenario *Scenario, opts ...Option) *Harness {
	docID := scenario.DocID
	if docID == "" {
		docID = DefaultDocID
	}

	h := &Harness{
		scenario: scenario,
		docID:    docID,
		clock:    testutil.NewDeterministicClock(),
		ids:      engine.NewSequenceGenerator("env"),
		docs:     make(map[string]*crdt.Document, len(scenario.Sites)),
		links:    make(map[linkKey][][]byte),
		events:   make(map[string]map[string]int, len(scenario.Sites)),
		result:   NewResult(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	docOpts := []crdt.Option{crdt.WithNow(h.clock.Now)}
	if scenario.PendingCapacity > 0 {
		docOpts = append(docOpts, crdt.WithPendingCapacity(scenario.PendingCapacity))
	}
	for _, site := range scenario.Sites {
		h.docs[site] = crdt.New(docID, site, docOpts...)
		h.events[site] = make(map[string]int)
	}
	return h
}

func (h *Harness) execute(step int, s Step) error {
	var (
		obs observed
		err error
	)
	switch s.Kind() {
	case StepInsert, StepDelete, StepMessage:
		err = h.local(step, s, &obs)
	case StepDeliver:
		err = h.deliver(step, *s.Deliver, &obs)
	case StepDrop:
		err = h.drop(step, *s.Drop)
	case StepSync:
		_, err = h.sync(step, s.Sync.From, s.Sync.To, &obs)
	case StepSyncAll:
		err = h.syncAll(step, &obs)
	default:
		err = fmt.Errorf("step has no single action")
	}
	if err != nil {
		return err
	}
	h.check(step, s.Expect, obs)
	return nil
}

// local applies an edit at its site and queues it on every outgoing link.
func (h *Harness) local(step int, s Step, obs *observed) error {
	intent, _ := s.Intent()
	if s.At != 0 {
		h.clock.Set(s.At - 1)
	}

	op, err := h.docs[s.Site].ApplyLocal(intent)
	h.collect(s.Site)

	ev := TraceEvent{Step: step, Type: TraceLocal, Site: s.Site, Intent: intent.String()}
	if err != nil {
		code, cerr := errorCode(err)
		if cerr != nil {
			return cerr
		}
		ev.Error = code
		obs.codes = append(obs.codes, code)
		h.trace(ev)
		return nil
	}

	ev.OpID = op.ID
	h.trace(ev)
	return h.broadcast(s.Site, op)
}

func (h *Harness) broadcast(from string, op ir.Operation) error {
	for _, peer := range h.scenario.Sites {
		if peer == from {
			continue
		}
		env, err := ir.NewEnvelope(h.ids.Generate(), ir.TypeOperation, h.docID, from, op)
		if err != nil {
			return err
		}
		frame, err := ir.Encode(env)
		if err != nil {
			return err
		}
		key := linkKey{from: from, to: peer}
		h.links[key] = append(h.links[key], frame)
	}
	return nil
}

// deliver hands queued envelopes to the receiving site in send order.
func (h *Harness) deliver(step int, link Link, obs *observed) error {
	key := linkKey{from: link.From, to: link.To}
	var keep [][]byte
	matched := false
	for _, frame := range h.links[key] {
		op, err := decodeOperation(frame)
		if err != nil {
			return err
		}
		if link.Op != "" && op.ID != link.Op {
			keep = append(keep, frame)
			continue
		}
		matched = true
		if err := h.apply(step, TraceDeliver, link.From, link.To, op, obs); err != nil {
			return err
		}
	}
	h.links[key] = keep

	if link.Op != "" && !matched {
		return fmt.Errorf("no queued operation %s on %s -> %s", link.Op, link.From, link.To)
	}
	return nil
}

// drop discards queued envelopes without delivering them.
func (h *Harness) drop(step int, link Link) error {
	key := linkKey{from: link.From, to: link.To}
	var keep [][]byte
	matched := false
	for _, frame := range h.links[key] {
		op, err := decodeOperation(frame)
		if err != nil {
			return err
		}
		if link.Op != "" && op.ID != link.Op {
			keep = append(keep, frame)
			continue
		}
		matched = true
		h.trace(TraceEvent{Step: step, Type: TraceDrop, Site: link.To, From: link.From, OpID: op.ID})
	}
	h.links[key] = keep

	if link.Op != "" && !matched {
		return fmt.Errorf("no queued operation %s on %s -> %s", link.Op, link.From, link.To)
	}
	return nil
}

// sync runs one request/response exchange: to sends its clock, from
// answers with every applied operation the clock does not cover. Both
// messages pass through the wire codec. Returns the number of operations
// to applied.
func (h *Harness) sync(step int, from, to string, obs *observed) (int, error) {
	request := ir.SyncRequest{DocID: h.docID, Clock: h.docs[to].Clock()}
	var got ir.SyncRequest
	if err := h.roundTrip(ir.TypeSyncRequest, to, request, &got); err != nil {
		return 0, err
	}

	response := ir.SyncResponse{DocID: h.docID, Operations: h.docs[from].OperationsSince(got.Clock)}
	var answer ir.SyncResponse
	if err := h.roundTrip(ir.TypeSyncResponse, from, response, &answer); err != nil {
		return 0, err
	}

	applied := 0
	for _, op := range answer.Operations {
		n := len(obs.outcomes)
		if err := h.apply(step, TraceSync, from, to, op, obs); err != nil {
			return applied, err
		}
		if obs.outcomes[n] == crdt.Applied.String() {
			applied++
		}
	}
	return applied, nil
}

// syncAll repeats pairwise sync rounds until a round applies nothing.
func (h *Harness) syncAll(step int, obs *observed) error {
	for {
		progress := 0
		for _, to := range h.scenario.Sites {
			for _, from := range h.scenario.Sites {
				if from == to {
					continue
				}
				n, err := h.sync(step, from, to, obs)
				if err != nil {
					return err
				}
				progress += n
			}
		}
		if progress == 0 {
			return nil
		}
	}
}

func (h *Harness) roundTrip(typ ir.MessageType, sender string, payload, out any) error {
	env, err := ir.NewEnvelope(h.ids.Generate(), typ, h.docID, sender, payload)
	if err != nil {
		return err
	}
	frame, err := ir.Encode(env)
	if err != nil {
		return err
	}
	decoded, err := ir.DecodeEnvelope(frame)
	if err != nil {
		return err
	}
	return decoded.Decode(out)
}

func (h *Harness) apply(step int, typ, from, to string, op ir.Operation, obs *observed) error {
	outcome, err := h.docs[to].ApplyRemote(op)
	h.collect(to)

	ev := TraceEvent{Step: step, Type: typ, Site: to, From: from, OpID: op.ID, Outcome: outcome.String()}
	obs.outcomes = append(obs.outcomes, ev.Outcome)
	if err != nil {
		code, cerr := errorCode(err)
		if cerr != nil {
			return cerr
		}
		ev.Error = code
		obs.codes = append(obs.codes, code)
	}
	h.trace(ev)
	return nil
}

// check compares what a step produced against its expect clause.
func (h *Harness) check(step int, expect *ExpectClause, obs observed) {
	want := ""
	if expect != nil {
		want = expect.Error
	}
	found := false
	for _, code := range obs.codes {
		if code == want {
			found = true
			continue
		}
		h.result.AddError(fmt.Sprintf("step %d: unexpected error %s", step, code))
	}
	if expect == nil {
		return
	}

	if want != "" && !found {
		h.result.AddError(fmt.Sprintf("step %d: expected error %s, got none", step, want))
	}
	if expect.Outcome == "" {
		return
	}
	if len(obs.outcomes) == 0 {
		h.result.AddError(fmt.Sprintf("step %d: expected outcome %s, nothing was delivered", step, expect.Outcome))
	}
	for _, outcome := range obs.outcomes {
		if outcome != expect.Outcome {
			h.result.AddError(fmt.Sprintf("step %d: expected outcome %s, got %s", step, expect.Outcome, outcome))
		}
	}
}

func (h *Harness) collect(site string) {
	for _, ev := range h.docs[site].Drain() {
		h.events[site][string(ev.Kind)]++
	}
}

func (h *Harness) trace(ev TraceEvent) {
	h.seq++
	ev.Seq = h.seq
	ev.Content = h.docs[ev.Site].Content()
	h.result.AddTrace(ev)
	h.logger.Debug("trace",
		"seq", ev.Seq,
		"step", ev.Step,
		"type", ev.Type,
		"site", ev.Site,
		"op_id", ev.OpID,
		"outcome", ev.Outcome,
		"error", ev.Error,
	)
}

// finish records the final state of every site.
func (h *Harness) finish() error {
	for _, site := range h.scenario.Sites {
		doc := h.docs[site]
		digest, err := doc.Digest()
		if err != nil {
			return fmt.Errorf("digest %s: %w", site, err)
		}
		messages := make([]string, 0, len(doc.Messages()))
		for _, m := range doc.Messages() {
			messages = append(messages, m.Payload)
		}
		h.result.Sites[site] = SiteState{
			Content:  doc.Content(),
			Clock:    doc.Clock(),
			Digest:   digest,
			Pending:  doc.PendingCount(),
			Messages: messages,
			Events:   h.events[site],
		}
	}
	return nil
}

func decodeOperation(frame []byte) (ir.Operation, error) {
	env, err := ir.DecodeEnvelope(frame)
	if err != nil {
		return ir.Operation{}, err
	}
	return env.Operation()
}

// errorCode extracts the code of a SyncError. Any other error is a fault.
func errorCode(err error) (string, error) {
	var se *ir.SyncError
	if errors.As(err, &se) {
		return string(se.Code), nil
	}
	return "", err
}
