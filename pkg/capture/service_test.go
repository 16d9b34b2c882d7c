package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earchibald/komorebi-sub001/pkg/events"
	"github.com/earchibald/komorebi-sub001/pkg/models"
	"github.com/earchibald/komorebi-sub001/pkg/storage"
)

type fakeEnqueuer struct {
	enqueued []string
	failWith error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, chunkID string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.enqueued = append(f.enqueued, chunkID)
	return nil
}

func TestCapture_PersistsPublishesAndEnqueues(t *testing.T) {
	repo := storage.NewMemoryRepository()
	bus := events.NewBus(events.DefaultBufferSize)
	sub := bus.Subscribe()
	q := &fakeEnqueuer{}
	svc := New(repo, bus, q, 0)

	chunk, err := svc.Capture(context.Background(), models.ChunkDraft{Content: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, models.ChunkStatusInbox, chunk.Status)
	assert.Equal(t, []string{chunk.ID}, q.enqueued)

	evt := <-sub.C
	assert.Equal(t, models.EventChunkCreated, evt.Type)
	assert.Equal(t, chunk.ID, evt.ChunkID)
}

func TestCapture_RejectsEmptyContent(t *testing.T) {
	repo := storage.NewMemoryRepository()
	bus := events.NewBus(events.DefaultBufferSize)
	svc := New(repo, bus, &fakeEnqueuer{}, 0)

	_, err := svc.Capture(context.Background(), models.ChunkDraft{Content: ""})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestCapture_RejectsOversizedContent(t *testing.T) {
	repo := storage.NewMemoryRepository()
	bus := events.NewBus(events.DefaultBufferSize)
	svc := New(repo, bus, &fakeEnqueuer{}, 10)

	_, err := svc.Capture(context.Background(), models.ChunkDraft{Content: "this is far too long"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContentTooLarge)
}

func TestCapture_QueueFullSurfacesAsRetryableError(t *testing.T) {
	repo := storage.NewMemoryRepository()
	bus := events.NewBus(events.DefaultBufferSize)
	queueFull := errors.New("queue: full")
	q := &fakeEnqueuer{failWith: queueFull}
	svc := New(repo, bus, q, 0)

	chunk, err := svc.Capture(context.Background(), models.ChunkDraft{Content: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, queueFull)
	assert.Nil(t, chunk)
	assert.Empty(t, q.enqueued)

	// The chunk was syntactically valid, so it is still persisted at inbox
	// even though the caller sees the backpressure error.
	all, total, listErr := repo.ListChunks(context.Background(), models.ChunkFilter{}, 10, 0)
	require.NoError(t, listErr)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.ChunkStatusInbox, all[0].Status)
}
