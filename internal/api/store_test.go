package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agoralabs/agora-crawler/internal/engine"
)

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := JobRecord{ID: "job-1", Submitted: time.Unix(100, 0)}
	require.NoError(t, store.Create(rec, cancel))
	require.Error(t, store.Create(rec, cancel), "duplicate IDs rejected")

	got, err := store.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, StateQueued, got.State)

	started := time.Unix(101, 0)
	require.NoError(t, store.MarkRunning("job-1", started))
	got, err = store.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, StateRunning, got.State)
	require.Equal(t, started, *got.Started)

	report := &engine.Report{Status: engine.StatusCompleted}
	finished := time.Unix(102, 0)
	require.NoError(t, store.Finish("job-1", StateCompleted, report, "", finished))
	got, err = store.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, got.State)
	require.True(t, got.State.Terminal())
	require.Equal(t, report, got.Report)
	require.Equal(t, finished, *got.Finished)

	select {
	case <-ctx.Done():
		t.Fatal("finish must not invoke the cancel func")
	default:
	}
}

func TestStoreCancelInvokesFunc(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, store.Create(JobRecord{ID: "job-2"}, cancel))
	require.NoError(t, store.MarkRunning("job-2", time.Now()))

	rec, err := store.Cancel("job-2")
	require.NoError(t, err)
	require.Equal(t, StateRunning, rec.State)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel func not invoked")
	}
}

func TestStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewStore()
	_, err := store.Get("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	_, err = store.Cancel("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, store.MarkRunning("missing", time.Now()), ErrJobNotFound)
	require.ErrorIs(t, store.Finish("missing", StateFailed, nil, "x", time.Now()), ErrJobNotFound)
}
