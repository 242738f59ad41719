package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/transmute/internal/models"
)

func event(id string, seq int, state models.State) models.Event {
	return models.Event{RequestID: id, Sequence: seq, State: state}
}

func TestHubReplaysAndStreams(t *testing.T) {
	hub, err := NewHub(4)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, _, ok := hub.Subscribe("r1")
	assert.False(t, ok)

	require.NoError(t, hub.Emit(ctx, event("r1", 1, models.StateParsing)))
	past, live, unsubscribe, ok := hub.Subscribe("r1")
	require.True(t, ok)
	defer unsubscribe()
	assert.Len(t, past, 1)
	assert.Equal(t, 1, hub.Active())

	require.NoError(t, hub.Emit(ctx, event("r1", 2, models.StateIntentExtraction)))
	require.NoError(t, hub.Emit(ctx, event("r1", 3, models.StateAborted)))

	var got []int
	for ev := range live {
		got = append(got, ev.Sequence)
	}
	assert.Equal(t, []int{2, 3}, got)
	assert.Equal(t, 0, hub.Active())

	// Late subscribers get the full history and a closed channel.
	past, live, _, ok = hub.Subscribe("r1")
	require.True(t, ok)
	assert.Len(t, past, 3)
	_, open := <-live
	assert.False(t, open)
}

func TestHubTrackAndUnsubscribe(t *testing.T) {
	hub, err := NewHub(4)
	require.NoError(t, err)

	hub.Track("r2")
	past, live, unsubscribe, ok := hub.Subscribe("r2")
	require.True(t, ok)
	assert.Empty(t, past)

	unsubscribe()
	unsubscribe()
	_, open := <-live
	assert.False(t, open)

	require.NoError(t, hub.Emit(context.Background(), event("r2", 1, models.StateParsing)))
}

func TestHubEvictionClosesSubscribers(t *testing.T) {
	hub, err := NewHub(1)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, hub.Emit(ctx, event("old", 1, models.StateParsing)))
	_, live, unsubscribe, ok := hub.Subscribe("old")
	require.True(t, ok)
	defer unsubscribe()

	require.NoError(t, hub.Emit(ctx, event("new", 1, models.StateParsing)))
	_, open := <-live
	assert.False(t, open)

	_, _, _, ok = hub.Subscribe("old")
	assert.False(t, ok)
}
