package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/angelasoler/hypertube/storage/localdb"
)

func testConfig() Config {
	return Config{
		NumWorkers:          1,
		PollInterval:        5 * time.Millisecond,
		DefaultTTL:          time.Hour,
		ExpirySweepInterval: 5 * time.Millisecond,
		MaxFailures:         3,
	}
}

func TestManagerProcessesEnqueuedMessage(t *testing.T) {
	require := require.New(t)

	db, cleanup := localdb.Fixture()
	defer cleanup()

	store := NewStore(db)
	m := NewManager(testConfig(), tally.NoopScope, store)
	defer m.Close()

	processed := make(chan string, 1)
	require.NoError(m.Register(DownloadQueue, func(ctx context.Context, payload string) error {
		processed <- payload
		return nil
	}))

	require.NoError(m.EnqueueDownload("job-1", 5))

	select {
	case payload := <-processed:
		require.Equal("job-1", payload)
	case <-time.After(time.Second):
		t.Fatal("message was not processed in time")
	}

	time.Sleep(20 * time.Millisecond)
	inFlight, err := store.ListInFlight(DownloadQueue)
	require.NoError(err)
	require.Empty(inFlight)
}

func TestManagerMarksHandlerErrorAsFailed(t *testing.T) {
	require := require.New(t)

	db, cleanup := localdb.Fixture()
	defer cleanup()

	store := NewStore(db)
	m := NewManager(testConfig(), tally.NoopScope, store)
	defer m.Close()

	var once sync.Once
	done := make(chan struct{})
	require.NoError(m.Register(ConversionQueue, func(ctx context.Context, payload string) error {
		once.Do(func() { close(done) })
		return errors.New("transcode failed")
	}))

	require.NoError(m.EnqueueConversion("job-1", 5))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message was not processed in time")
	}

	time.Sleep(20 * time.Millisecond)
	inFlight, err := store.ListInFlight(ConversionQueue)
	require.NoError(err)
	require.Empty(inFlight)
}

func TestManagerRegisterRecoversInFlightMessages(t *testing.T) {
	require := require.New(t)

	db, cleanup := localdb.Fixture()
	defer cleanup()

	store := NewStore(db)
	now := time.Now()

	require.NoError(store.Enqueue(&Message{
		ID: "orphaned", Queue: DownloadQueue, Payload: "job-1", Priority: 5, ExpiresAt: now.Add(time.Hour),
	}))
	_, err := store.Dequeue(DownloadQueue, now)
	require.NoError(err)

	m := NewManager(testConfig(), tally.NoopScope, store)
	defer m.Close()

	processed := make(chan string, 1)
	require.NoError(m.Register(DownloadQueue, func(ctx context.Context, payload string) error {
		processed <- payload
		return nil
	}))

	select {
	case payload := <-processed:
		require.Equal("job-1", payload)
	case <-time.After(time.Second):
		t.Fatal("orphaned message was not recovered")
	}
}

func TestManagerRegisterFailsOrphanedMessageBeyondMaxFailures(t *testing.T) {
	require := require.New(t)

	db, cleanup := localdb.Fixture()
	defer cleanup()

	store := NewStore(db)
	now := time.Now()

	require.NoError(store.Enqueue(&Message{
		ID: "orphaned", Queue: DownloadQueue, Payload: "job-1", Priority: 5, ExpiresAt: now.Add(time.Hour),
	}))
	_, err := store.Dequeue(DownloadQueue, now)
	require.NoError(err)
	require.NoError(store.MarkFailed("orphaned", "attempt 1"))
	require.NoError(store.Requeue("orphaned"))
	_, err = store.Dequeue(DownloadQueue, now)
	require.NoError(err)
	require.NoError(store.MarkFailed("orphaned", "attempt 2"))
	require.NoError(store.Requeue("orphaned"))
	_, err = store.Dequeue(DownloadQueue, now)
	require.NoError(err)
	require.NoError(store.MarkFailed("orphaned", "attempt 3"))
	require.NoError(store.Requeue("orphaned"))
	_, err = store.Dequeue(DownloadQueue, now)
	require.NoError(err)
	// Now at 3 failures and PROCESSING -- simulate a crash here.

	cfg := testConfig()
	cfg.MaxFailures = 3
	m := NewManager(cfg, tally.NoopScope, store)
	defer m.Close()

	require.NoError(m.Register(DownloadQueue, func(ctx context.Context, payload string) error {
		t.Fatal("handler should not run for a message beyond max failures")
		return nil
	}))

	time.Sleep(20 * time.Millisecond)

	_, err = store.Dequeue(DownloadQueue, now)
	require.Equal(ErrEmpty, err)
}

func TestManagerClosePreventsFurtherRegistration(t *testing.T) {
	require := require.New(t)

	db, cleanup := localdb.Fixture()
	defer cleanup()

	store := NewStore(db)
	m := NewManager(testConfig(), tally.NoopScope, store)
	m.Close()

	err := m.Register(DownloadQueue, func(ctx context.Context, payload string) error { return nil })
	require.Error(err)
}

func TestManagerExpirySweepExpiresStaleMessages(t *testing.T) {
	require := require.New(t)

	db, cleanup := localdb.Fixture()
	defer cleanup()

	store := NewStore(db)
	require.NoError(store.Enqueue(&Message{
		ID: "stale", Queue: DownloadQueue, Payload: "job-1", Priority: 5,
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	m := NewManager(testConfig(), tally.NoopScope, store)
	defer m.Close()

	require.NoError(m.Register(DownloadQueue, func(ctx context.Context, payload string) error {
		t.Fatal("handler should not run for an expired message")
		return nil
	}))

	time.Sleep(50 * time.Millisecond)

	_, err := store.Dequeue(DownloadQueue, time.Now())
	require.Equal(ErrEmpty, err)
}
