package registration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

type call struct {
	kind  string
	id    types.EntityID
	topic string
}

type fakeApplier struct {
	mu    sync.Mutex
	calls []call
}

func (a *fakeApplier) ApplyPublisherRegistration(pub types.PublisherConnectionParameters) {
	a.record(call{"register", pub.EntityID(), pub.TopicName()})
}

func (a *fakeApplier) ApplyPublisherUnregistration(id types.EntityID, topic string) {
	a.record(call{"unregister", id, topic})
}

func (a *fakeApplier) ExpirePublisher(id types.EntityID, topic string) {
	a.record(call{"expire", id, topic})
}

func (a *fakeApplier) record(c call) {
	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()
}

func (a *fakeApplier) snapshot() []call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]call(nil), a.calls...)
}

func pubRecord(cmd types.CmdType, id types.EntityID, topic string) *types.Registration {
	return &types.Registration{
		Cmd:        cmd,
		Identifier: types.TopicID{TopicName: topic, EntityID: id, HostName: "h"},
		Topic:      types.TopicRecord{Name: topic, Layers: types.NewActiveLayers(types.LayerUDP)},
	}
}

func TestReceiver_DispatchesPublisherRecords(t *testing.T) {
	app := &fakeApplier{}
	r := NewReceiver(app, ReceiverOptions{Timeout: time.Minute, MaxTracked: 16})
	defer r.Close()

	require.NoError(t, r.HandleBuffer(Marshal(pubRecord(types.CmdRegPublisher, 5, "T"))))
	require.NoError(t, r.HandleBuffer(Marshal(pubRecord(types.CmdRegSubscriber, 6, "T"))))
	assert.Equal(t, 1, r.Tracked())
	require.NoError(t, r.HandleBuffer(Marshal(pubRecord(types.CmdUnregPublisher, 5, "T"))))
	assert.Equal(t, 0, r.Tracked())

	assert.Equal(t, []call{{"register", 5, "T"}, {"unregister", 5, "T"}}, app.snapshot())
	received, malformed := r.Stats()
	assert.EqualValues(t, 3, received)
	assert.EqualValues(t, 0, malformed)
}

func TestReceiver_DropsMalformed(t *testing.T) {
	app := &fakeApplier{}
	r := NewReceiver(app, ReceiverOptions{Timeout: time.Minute, MaxTracked: 16, MaxRecordSize: 64})
	defer r.Close()

	assert.ErrorIs(t, r.HandleBuffer([]byte{0xff}), ErrMalformed)
	assert.ErrorIs(t, r.HandleBuffer(make([]byte, 65)), ErrMalformed)
	r.Apply(pubRecord(types.CmdRegPublisher, 0, "T"))
	r.Apply(pubRecord(types.CmdRegPublisher, 5, ""))

	assert.Empty(t, app.snapshot())
	_, malformed := r.Stats()
	assert.EqualValues(t, 4, malformed)
}

func TestReceiver_ExpiresSilentPublishers(t *testing.T) {
	app := &fakeApplier{}
	r := NewReceiver(app, ReceiverOptions{Timeout: 50 * time.Millisecond, MaxTracked: 16})
	require.NoError(t, r.Start(context.Background()))
	defer r.Close()

	r.Apply(pubRecord(types.CmdRegPublisher, 5, "T"))
	require.Eventually(t, func() bool {
		calls := app.snapshot()
		return len(calls) == 2 && calls[1] == call{"expire", 5, "T"}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, r.Tracked())
}

func TestReceiver_UnregisterDoesNotExpire(t *testing.T) {
	app := &fakeApplier{}
	r := NewReceiver(app, ReceiverOptions{Timeout: 30 * time.Millisecond, MaxTracked: 16})
	require.NoError(t, r.Start(context.Background()))
	defer r.Close()

	r.Apply(pubRecord(types.CmdRegPublisher, 5, "T"))
	r.Apply(pubRecord(types.CmdUnregPublisher, 5, "T"))
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, []call{{"register", 5, "T"}, {"unregister", 5, "T"}}, app.snapshot())
}

func TestReceiver_CapacityEvictionExpires(t *testing.T) {
	app := &fakeApplier{}
	r := NewReceiver(app, ReceiverOptions{Timeout: time.Minute, MaxTracked: 1})
	require.NoError(t, r.Start(context.Background()))
	defer r.Close()

	r.Apply(pubRecord(types.CmdRegPublisher, 5, "A"))
	r.Apply(pubRecord(types.CmdRegPublisher, 6, "B"))
	require.Eventually(t, func() bool {
		for _, c := range app.snapshot() {
			if c == (call{"expire", 5, "A"}) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestReceiver_CloseWithoutStart(t *testing.T) {
	r := NewReceiver(&fakeApplier{}, ReceiverOptions{Timeout: time.Minute, MaxTracked: 1})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
