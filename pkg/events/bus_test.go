package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earchibald/komorebi-sub001/pkg/models"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(models.ChunkEvent{Type: models.EventChunkCreated, ChunkID: "c1"})

	select {
	case evt := <-sub.C:
		assert.Equal(t, models.EventChunkCreated, evt.Type)
		assert.Equal(t, "c1", evt.ChunkID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe()
	assert.Equal(t, 1, bus.SubscriberCount())

	sub.Unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestBus_OverflowDropsOldestKeepsNewest(t *testing.T) {
	bus := NewBus(1)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(models.ChunkEvent{Type: models.EventChunkCreated, ChunkID: "stale"})
	bus.Publish(models.ChunkEvent{Type: models.EventChunkUpdated, ChunkID: "fresh"})

	select {
	case got := <-sub.C:
		assert.Equal(t, models.EventChunkUpdated, got.Type)
		assert.Equal(t, "fresh", got.ChunkID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_SustainedOverflowEventuallyDeliversDroppedMarker(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	sawMarker := make(chan models.EventsDroppedPayload, 1)
	go func() {
		for evt := range sub.C {
			if evt.Type == models.EventEventsDropped {
				payload, ok := evt.Payload.(models.EventsDroppedPayload)
				require.True(t, ok)
				sawMarker <- payload
				return
			}
		}
	}()

	for i := 0; i < 500; i++ {
		bus.Publish(models.ChunkEvent{Type: models.EventChunkUpdated, ChunkID: fmt.Sprintf("c%d", i)})
	}

	select {
	case payload := <-sawMarker:
		assert.GreaterOrEqual(t, payload.DroppedCount, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dropped marker")
	}
}

func TestBus_NoSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus(0)
	bus.Publish(models.ChunkEvent{Type: models.EventChunkCreated})
}
