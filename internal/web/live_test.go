package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveBroadcaster_ReplaysLastToNewSubscriber(t *testing.T) {
	b := NewLiveBroadcaster()
	b.Publish(LiveUpdate{Kind: KindStage, Stage: "INIT"})
	b.Publish(LiveUpdate{Kind: KindStage, Stage: "RUNNING"})

	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	got := <-ch
	assert.Equal(t, "RUNNING", got.Stage)
}

func TestLiveBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewLiveBroadcaster()
	id, ch := b.Subscribe(1)

	b.Publish(LiveUpdate{Kind: KindFused, Time: "a"})
	b.Publish(LiveUpdate{Kind: KindFused, Time: "b"})

	assert.Equal(t, "a", (<-ch).Time)
	select {
	case u := <-ch:
		t.Fatalf("unexpected second update %+v", u)
	default:
	}

	b.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "channel closed after unsubscribe")
}

func TestLiveBroadcaster_Close(t *testing.T) {
	b := NewLiveBroadcaster()
	_, ch := b.Subscribe(1)
	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	id, late := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
	b.Unsubscribe(id)
	require.NotPanics(t, func() { b.Publish(LiveUpdate{Kind: KindStage}) })
}
