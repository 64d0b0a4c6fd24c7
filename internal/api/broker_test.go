package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	rid := "r1"
	ch := b.Subscribe(rid)

	evt := SSEEvent{Type: "test.event", RunID: rid, Data: map[string]any{"x": 1}}
	b.Publish(rid, evt)

	select {
	case got := <-ch:
		assert.Equal(t, evt.Type, got.Type)
		assert.Equal(t, 1, got.Data["x"])
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(rid, ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	// a second unsubscribe is a no-op
	b.Unsubscribe(rid, ch)
}

func TestPublishRunReachesBothTopics(t *testing.T) {
	b := NewBroker()
	one := b.Subscribe("r9")
	all := b.Subscribe(AllRuns)
	defer b.Unsubscribe("r9", one)
	defer b.Unsubscribe(AllRuns, all)

	publishRun(b, "r9", "plan.started", nil)
	for _, ch := range []chan SSEEvent{one, all} {
		select {
		case got := <-ch:
			assert.Equal(t, "r9", got.RunID)
			assert.Equal(t, "plan.started", got.Type)
		case <-time.After(200 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://" + mr.Addr())
	require.NoError(t, err)
	defer b.Close()

	ch := b.Subscribe("r1")
	b.Publish("r1", SSEEvent{Type: "plan.optimized", RunID: "r1", Data: map[string]any{"profit": 12.5}})

	select {
	case got := <-ch:
		assert.Equal(t, "plan.optimized", got.Type)
		assert.Equal(t, 12.5, got.Data["profit"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}

	b.Unsubscribe("r1", ch)
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	_, err = NewRedisBroker("not a url")
	assert.Error(t, err)
}
