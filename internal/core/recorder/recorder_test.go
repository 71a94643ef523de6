package recorder

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

func openMem(t *testing.T, topics ...string) *Recorder {
	t.Helper()
	r, err := Open(config.RecorderConfig{Enabled: true, InMemory: true, Topics: topics})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRecorder_ReplayInCounterOrder(t *testing.T) {
	r := openMem(t)
	sendTime := time.Unix(1700000000, 42)
	for _, c := range []uint64{3, 1, 2} {
		require.NoError(t, r.Record(&types.Sample{Publisher: 7, TopicName: "T", Counter: c, SendTime: sendTime, Payload: []byte{byte(c)}}))
	}
	require.NoError(t, r.Record(&types.Sample{Publisher: 7, TopicName: "T2", Counter: 1, Payload: []byte("other")}))

	var counters []uint64
	require.NoError(t, r.Replay("T", func(s *types.Sample) bool {
		counters = append(counters, s.Counter)
		assert.Equal(t, []byte{byte(s.Counter)}, s.Payload)
		assert.Equal(t, types.EntityID(7), s.Publisher)
		assert.True(t, sendTime.Equal(s.SendTime))
		return true
	}))
	assert.Equal(t, []uint64{1, 2, 3}, counters)

	n, err := r.Count("T2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 4, r.Written())
}

func TestRecorder_ReplayStopsEarly(t *testing.T) {
	r := openMem(t)
	for c := uint64(1); c <= 5; c++ {
		require.NoError(t, r.Record(&types.Sample{Publisher: 1, TopicName: "T", Counter: c}))
	}
	seen := 0
	require.NoError(t, r.Replay("T", func(*types.Sample) bool {
		seen++
		return seen < 2
	}))
	assert.Equal(t, 2, seen)
}

func TestRecorder_TopicFilter(t *testing.T) {
	r := openMem(t, "keep")
	r.Observe(&types.Sample{Publisher: 1, TopicName: "keep", Counter: 1})
	r.Observe(&types.Sample{Publisher: 1, TopicName: "skip", Counter: 1})
	require.NoError(t, r.Flush())

	n, _ := r.Count("keep")
	assert.Equal(t, 1, n)
	n, _ = r.Count("skip")
	assert.Equal(t, 0, n)
	assert.False(t, r.Records("skip"))
}

func TestRecorder_InvalidTopic(t *testing.T) {
	r := openMem(t)
	assert.ErrorIs(t, r.Record(&types.Sample{TopicName: ""}), ErrInvalidTopic)
	assert.ErrorIs(t, r.Record(&types.Sample{TopicName: "a\x00b"}), ErrInvalidTopic)
}

func TestRecorder_Persistent(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(config.RecorderConfig{Enabled: true, Path: dir})
	require.NoError(t, err)
	require.NoError(t, r.Record(&types.Sample{Publisher: 1, TopicName: "T", Counter: 9, Payload: []byte("x")}))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Record(&types.Sample{TopicName: "T"}), ErrClosed)

	r, err = Open(config.RecorderConfig{Enabled: true, Path: dir})
	require.NoError(t, err)
	defer r.Close()
	n, err := r.Count("T")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorder_ObserveDoesNotBlockOnSlowWriter(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	cfg := config.RecorderConfig{Enabled: true, InMemory: true, QueueSize: 4}
	r := newRecorder(db, cfg, func([]entry) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	r.Observe(&types.Sample{Publisher: 1, TopicName: "T", Counter: 0})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not pick up the first sample")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for c := uint64(1); c <= 50; c++ {
			r.Observe(&types.Sample{Publisher: 1, TopicName: "T", Counter: c, Payload: []byte("x")})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked behind a stalled writer")
	}
	assert.GreaterOrEqual(t, r.Dropped(), uint64(46))

	close(release)
	require.NoError(t, r.Close())
	assert.Equal(t, uint64(51), r.Written()+r.Dropped())
	assert.Zero(t, r.Failed())
}

func TestRecorder_FlushWaitsForQueued(t *testing.T) {
	r := openMem(t)
	for c := uint64(1); c <= 3; c++ {
		r.Observe(&types.Sample{Publisher: 2, TopicName: "T", Counter: c})
	}
	require.NoError(t, r.Flush())
	n, err := r.Count("T")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 3, r.Written())
}

func TestRecorder_CloseWritesQueued(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(config.RecorderConfig{Enabled: true, Path: dir})
	require.NoError(t, err)
	for c := uint64(1); c <= 5; c++ {
		r.Observe(&types.Sample{Publisher: 3, TopicName: "T", Counter: c})
	}
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Flush(), ErrClosed)
	r.Observe(&types.Sample{Publisher: 3, TopicName: "T", Counter: 6})

	r, err = Open(config.RecorderConfig{Enabled: true, Path: dir})
	require.NoError(t, err)
	defer r.Close()
	n, err := r.Count("T")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRecorder_OpenRequiresPath(t *testing.T) {
	_, err := Open(config.RecorderConfig{Enabled: true})
	assert.Error(t, err)
}

func TestModule_DisabledProvidesNil(t *testing.T) {
	var r *Recorder
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		Module,
		fx.Populate(&r),
	)
	app.RequireStart().RequireStop()
	assert.Nil(t, r)
}
