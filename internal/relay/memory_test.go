package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/transport"
)

const waitTimeout = 3 * time.Second

var (
	_ engine.Bus = (*MemoryBus)(nil)
	_ engine.Bus = (*RedisBus)(nil)
)

func envelope(t *testing.T, id string) ir.Envelope {
	t.Helper()
	op := ir.Operation{
		Intent:  ir.Insert(0, "x"),
		ID:      "A-1",
		Origin:  "A",
		Counter: 1,
		Clock:   map[string]uint64{"A": 1},
	}
	env, err := ir.NewEnvelope(id, ir.TypeOperation, "doc", "A", op)
	require.NoError(t, err)
	return env
}

func TestMemoryBus_FansOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	first, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, bus.Subscribers())

	require.NoError(t, bus.Publish(ctx, envelope(t, "e1")))
	assert.Equal(t, "e1", (<-first).ID)
	assert.Equal(t, "e1", (<-second).ID)
}

func TestMemoryBus_SubscriptionEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewMemoryBus()
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("subscription not closed")
	}
	assert.Eventually(t, func() bool { return bus.Subscribers() == 0 }, waitTimeout, time.Millisecond)
	assert.NoError(t, bus.Publish(context.Background(), envelope(t, "e2")))
}

func TestMemoryBus_LaggingSubscriberDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	bus.buffer = 1
	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, envelope(t, "kept")))
	require.NoError(t, bus.Publish(ctx, envelope(t, "dropped")))
	assert.Equal(t, "kept", (<-ch).ID)
	assert.Empty(t, ch)
}

func sessionConfig(id string) transport.Config {
	return transport.Config{
		ID:                id,
		HeartbeatInterval: time.Hour,
		BackoffBase:       time.Millisecond,
		BackoffMax:        10 * time.Millisecond,
	}
}

// TestMemoryBus_BridgesRelayInstances runs two relay servers that share a
// bus; clients of different servers still converge.
func TestMemoryBus_BridgesRelayInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	var listeners []*transport.PipeListener
	for _, site := range []string{"R1", "R2"} {
		r := engine.NewCoordinator(site, engine.WithRelay(true), engine.WithBus(bus))
		t.Cleanup(r.Close)
		go func() { _ = r.Run(ctx) }()

		l := transport.NewPipeListener()
		go func() { _ = r.Serve(ctx, l, sessionConfig(site)) }()
		listeners = append(listeners, l)
	}
	assert.Eventually(t, func() bool { return bus.Subscribers() == 2 }, waitTimeout, time.Millisecond)

	var clients []*engine.Coordinator
	for i, site := range []string{"A", "B"} {
		c := engine.NewCoordinator(site)
		t.Cleanup(c.Close)
		require.NoError(t, c.RegisterDocument(ctx, "doc"))
		s, err := c.ConnectPeer(ctx, listeners[i], sessionConfig(site+"-up"))
		require.NoError(t, err)
		assert.Eventually(t, func() bool { return s.Phase() == transport.Connected }, waitTimeout, time.Millisecond)
		clients = append(clients, c)
	}

	// Let both relays register the document through the clients' resync.
	time.Sleep(20 * time.Millisecond)

	_, err := clients[0].Edit(ctx, "doc", ir.Insert(0, "bridged"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		content, err := clients[1].Content(ctx, "doc")
		return err == nil && content == "bridged"
	}, waitTimeout, 2*time.Millisecond)

	_, err = clients[1].Edit(ctx, "doc", ir.Insert(7, "!"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		content, err := clients[0].Content(ctx, "doc")
		return err == nil && content == "bridged!"
	}, waitTimeout, 2*time.Millisecond)
}
