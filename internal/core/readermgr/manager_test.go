package readermgr

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pbus/config"
	transportif "github.com/dep2p/go-p2pbus/pkg/interfaces/transport"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

// ============================================================================
//                              测试替身
// ============================================================================

type fakeLayer struct {
	typ       types.LayerType
	syncEvent bool
	failAdd   bool

	mu      sync.Mutex
	tokens  map[*fakeToken]struct{}
	added   int
	updates int
}

func newFakeLayer(t types.LayerType, syncEvent bool) *fakeLayer {
	return &fakeLayer{typ: t, syncEvent: syncEvent, tokens: make(map[*fakeToken]struct{})}
}

func (l *fakeLayer) Type() types.LayerType { return l.typ }
func (l *fakeLayer) Usable() bool          { return true }
func (l *fakeLayer) Err() error            { return nil }
func (l *fakeLayer) Start(context.Context) error { return nil }
func (l *fakeLayer) Close() error                { return nil }

func (l *fakeLayer) AcceptsConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters) bool {
	return transportif.BothActive(l.typ, pub, sub)
}

func (l *fakeLayer) AddConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters, cb transportif.Callbacks) (transportif.ConnectionToken, error) {
	if l.failAdd {
		return nil, errors.New("add failed")
	}
	tok := &fakeToken{layer: l, pub: pub, cb: cb}
	l.mu.Lock()
	l.tokens[tok] = struct{}{}
	l.added++
	l.mu.Unlock()
	if l.syncEvent {
		tok.connect()
	}
	return tok, nil
}

func (l *fakeLayer) open() []*fakeToken {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*fakeToken, 0, len(l.tokens))
	for tok := range l.tokens {
		out = append(out, tok)
	}
	return out
}

func (l *fakeLayer) deliver(s *types.Sample) {
	for _, tok := range l.open() {
		if tok.pub.EntityID() == s.Publisher {
			tok.cb.OnData(s)
		}
	}
}

type fakeToken struct {
	layer     *fakeLayer
	pub       types.PublisherConnectionParameters
	cb        transportif.Callbacks
	connected bool
}

func (t *fakeToken) connect() {
	t.connected = true
	t.cb.OnConnectionChanged(types.ConnectionEvent{Publisher: t.pub, Layer: t.layer.typ, Connected: true})
}

func (t *fakeToken) Layer() types.LayerType     { return t.layer.typ }
func (t *fakeToken) Publisher() types.EntityID { return t.pub.EntityID() }

func (t *fakeToken) Update(pub types.PublisherConnectionParameters) error {
	t.layer.mu.Lock()
	t.layer.updates++
	t.layer.mu.Unlock()
	t.pub = pub
	return nil
}

func (t *fakeToken) Close() error {
	t.layer.mu.Lock()
	_, ok := t.layer.tokens[t]
	delete(t.layer.tokens, t)
	t.layer.mu.Unlock()
	if !ok {
		return transportif.ErrUnknownToken
	}
	if t.connected {
		t.cb.OnConnectionChanged(types.ConnectionEvent{Publisher: t.pub, Layer: t.layer.typ, Connected: false})
	}
	return nil
}

type recordingSink struct {
	mu       sync.Mutex
	samples  []*types.Sample
	events   []types.ConnectionEvent
	updates  int
	removed  []types.EntityID
}

func (s *recordingSink) OnData(smp *types.Sample) {
	s.mu.Lock()
	s.samples = append(s.samples, smp)
	s.mu.Unlock()
}

func (s *recordingSink) OnConnectionChanged(ev types.ConnectionEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) OnPublisherUpdate(types.PublisherConnectionParameters) {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
}

func (s *recordingSink) OnPublisherRemoved(id types.EntityID) {
	s.mu.Lock()
	s.removed = append(s.removed, id)
	s.mu.Unlock()
}

func (s *recordingSink) Snapshot() types.SubscriberSnapshot {
	return types.SubscriberSnapshot{}
}

func (s *recordingSink) connectedCount() (up, down int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Connected {
			up++
		} else {
			down++
		}
	}
	return
}

func subParams(topic string, id types.EntityID, layers ...types.LayerType) types.SubscriberConnectionParameters {
	return types.NewSubscriberConnectionParameters(
		types.TopicID{TopicName: topic, EntityID: id, HostName: "h"},
		types.DataTypeInfo{}, types.NewActiveLayers(layers...), "h")
}

func pubParams(topic string, id types.EntityID, clock uint64, layers ...types.LayerType) types.PublisherConnectionParameters {
	return types.NewPublisherConnectionParameters(
		types.TopicID{TopicName: topic, EntityID: id, HostName: "h"},
		types.DataTypeInfo{}, types.NewActiveLayers(layers...), types.LayerParameters{}, clock)
}

// ============================================================================
//                              测试
// ============================================================================

func TestManager_SubscribeReceiveUnregister(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	m := New([]transportif.Layer{udpL}, DefaultOptions())
	sink := &recordingSink{}

	h, err := m.AddSubscription(subParams("T", 1, types.LayerUDP), sink)
	require.NoError(t, err)
	st, err := m.State(h)
	require.NoError(t, err)
	assert.Equal(t, types.StatePending, st)

	m.ApplyPublisherRegistration(pubParams("T", 100, 1, types.LayerUDP))
	ps, err := m.PairState(h, 100)
	require.NoError(t, err)
	assert.Equal(t, types.StateEstablished, ps)

	udpL.deliver(&types.Sample{Publisher: 100, TopicName: "T", Counter: 1, Payload: []byte("hello")})
	require.Len(t, sink.samples, 1)
	assert.Equal(t, []byte("hello"), sink.samples[0].Payload)

	m.ApplyPublisherUnregistration(100, "T")
	ps, err = m.PairState(h, 100)
	require.NoError(t, err)
	assert.Equal(t, types.StateDisconnected, ps)
	assert.Equal(t, []types.EntityID{100}, sink.removed)
	up, down := sink.connectedCount()
	assert.Equal(t, 1, up)
	assert.Equal(t, 1, down)
	assert.Empty(t, udpL.open())

	// 已注销的发布者不会复活
	m.ApplyPublisherRegistration(pubParams("T", 100, 2, types.LayerUDP))
	assert.Empty(t, udpL.open())
}

func TestManager_EstablishingUntilLayerConfirms(t *testing.T) {
	shmL := newFakeLayer(types.LayerSHM, false)
	m := New([]transportif.Layer{shmL}, DefaultOptions())
	sink := &recordingSink{}

	h, err := m.AddSubscription(subParams("T", 1, types.LayerSHM), sink)
	require.NoError(t, err)
	m.ApplyPublisherRegistration(pubParams("T", 7, 0, types.LayerSHM))

	ps, _ := m.PairState(h, 7)
	assert.Equal(t, types.StateEstablishing, ps)

	toks := shmL.open()
	require.Len(t, toks, 1)
	toks[0].connect()
	ps, _ = m.PairState(h, 7)
	assert.Equal(t, types.StateEstablished, ps)
	st, _ := m.State(h)
	assert.Equal(t, types.StateEstablished, st)
}

func TestManager_RepeatedRegistrationIsIdempotent(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	m := New([]transportif.Layer{udpL}, DefaultOptions())
	sink := &recordingSink{}
	_, err := m.AddSubscription(subParams("T", 1, types.LayerUDP), sink)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		m.ApplyPublisherRegistration(pubParams("T", 9, uint64(i), types.LayerUDP))
	}
	assert.Equal(t, 1, udpL.added)
	assert.Equal(t, 0, udpL.updates)
	assert.Equal(t, 5, sink.updates)
}

func TestManager_UpdateOnChangedParameters(t *testing.T) {
	shmL := newFakeLayer(types.LayerSHM, true)
	m := New([]transportif.Layer{shmL}, DefaultOptions())
	_, err := m.AddSubscription(subParams("T", 1, types.LayerSHM), &recordingSink{})
	require.NoError(t, err)

	id := types.TopicID{TopicName: "T", EntityID: 9, HostName: "h"}
	a := types.NewPublisherConnectionParameters(id, types.DataTypeInfo{}, types.NewActiveLayers(types.LayerSHM),
		types.LayerParameters{SHM: types.SHMParameters{Domain: "h", MemoryFiles: []string{"a"}}}, 0)
	b := types.NewPublisherConnectionParameters(id, types.DataTypeInfo{}, types.NewActiveLayers(types.LayerSHM),
		types.LayerParameters{SHM: types.SHMParameters{Domain: "h", MemoryFiles: []string{"b"}}}, 1)

	m.ApplyPublisherRegistration(a)
	m.ApplyPublisherRegistration(b)
	assert.Equal(t, 1, shmL.added)
	assert.Equal(t, 1, shmL.updates)
	toks := shmL.open()
	require.Len(t, toks, 1)
	assert.Equal(t, []string{"b"}, toks[0].pub.LayerParameters().SHM.MemoryFiles)
}

func TestManager_PrioritySelection(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	shmL := newFakeLayer(types.LayerSHM, true)
	tcpL := newFakeLayer(types.LayerTCP, true)
	m := New([]transportif.Layer{udpL, shmL, tcpL}, DefaultOptions())
	h, err := m.AddSubscription(subParams("T", 1, types.LayerUDP, types.LayerSHM, types.LayerTCP), &recordingSink{})
	require.NoError(t, err)

	m.ApplyPublisherRegistration(pubParams("T", 5, 0, types.LayerUDP, types.LayerTCP))
	got, err := m.ConnectedLayers(h, 5)
	require.NoError(t, err)
	assert.Equal(t, types.NewActiveLayers(types.LayerUDP), got)

	// 发布者新增 SHM 后升级到更高优先级层
	m.ApplyPublisherRegistration(pubParams("T", 5, 1, types.LayerUDP, types.LayerSHM, types.LayerTCP))
	got, _ = m.ConnectedLayers(h, 5)
	assert.Equal(t, types.NewActiveLayers(types.LayerSHM), got)
	assert.Empty(t, udpL.open())
}

func TestManager_PriorityFallsBackWhenAddFails(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	shmL := newFakeLayer(types.LayerSHM, true)
	shmL.failAdd = true
	m := New([]transportif.Layer{udpL, shmL}, DefaultOptions())
	h, err := m.AddSubscription(subParams("T", 1, types.LayerUDP, types.LayerSHM), &recordingSink{})
	require.NoError(t, err)

	m.ApplyPublisherRegistration(pubParams("T", 5, 0, types.LayerUDP, types.LayerSHM))
	got, _ := m.ConnectedLayers(h, 5)
	assert.Equal(t, types.NewActiveLayers(types.LayerUDP), got)
}

func TestManager_SelectAll(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	shmL := newFakeLayer(types.LayerSHM, true)
	opts := DefaultOptions()
	opts.Selection = SelectAll
	m := New([]transportif.Layer{udpL, shmL}, opts)
	sink := &recordingSink{}
	h, err := m.AddSubscription(subParams("T", 1, types.LayerUDP, types.LayerSHM), sink)
	require.NoError(t, err)

	m.ApplyPublisherRegistration(pubParams("T", 5, 0, types.LayerUDP, types.LayerSHM))
	got, _ := m.ConnectedLayers(h, 5)
	assert.Equal(t, types.NewActiveLayers(types.LayerUDP, types.LayerSHM), got)

	require.NoError(t, m.RemoveSubscription(h))
	up, down := sink.connectedCount()
	assert.Equal(t, 2, up)
	assert.Equal(t, 2, down)
	assert.Empty(t, udpL.open())
	assert.Empty(t, shmL.open())
}

func TestManager_NoCommonLayerStaysPending(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	m := New([]transportif.Layer{udpL}, DefaultOptions())
	h, err := m.AddSubscription(subParams("T", 1, types.LayerUDP), &recordingSink{})
	require.NoError(t, err)

	m.ApplyPublisherRegistration(pubParams("T", 5, 0, types.LayerTCP))
	ps, _ := m.PairState(h, 5)
	assert.Equal(t, types.StatePending, ps)
	assert.Equal(t, 0, udpL.added)
}

func TestManager_LayerWithdrawnReleasesPublisherState(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	m := New([]transportif.Layer{udpL}, DefaultOptions())
	sink := &recordingSink{}
	h, err := m.AddSubscription(subParams("T", 1, types.LayerUDP), sink)
	require.NoError(t, err)

	m.ApplyPublisherRegistration(pubParams("T", 5, 0, types.LayerUDP))
	ps, _ := m.PairState(h, 5)
	require.Equal(t, types.StateEstablished, ps)

	m.ApplyPublisherRegistration(pubParams("T", 5, 1, types.LayerTCP))
	assert.Empty(t, udpL.open())
	assert.Equal(t, []types.EntityID{5}, sink.removed)
	up, down := sink.connectedCount()
	assert.Equal(t, 1, up)
	assert.Equal(t, 1, down)

	// 再次宣告可用层后重新连接
	m.ApplyPublisherRegistration(pubParams("T", 5, 2, types.LayerUDP))
	ps, _ = m.PairState(h, 5)
	assert.Equal(t, types.StateEstablished, ps)
}

func TestManager_ConcurrentUnregistrationWins(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	m := New([]transportif.Layer{udpL}, DefaultOptions())
	h, err := m.AddSubscription(subParams("T", 1, types.LayerUDP), &recordingSink{})
	require.NoError(t, err)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := types.EntityID(1000 + i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.ApplyPublisherRegistration(pubParams("T", id, 0, types.LayerUDP))
		}()
		go func() {
			defer wg.Done()
			m.ApplyPublisherUnregistration(id, "T")
		}()
	}
	wg.Wait()

	assert.Empty(t, udpL.open())
	for i := 0; i < n; i++ {
		ps, err := m.PairState(h, types.EntityID(1000+i))
		require.NoError(t, err)
		assert.Equal(t, types.StateDisconnected, ps)
	}
}

func TestManager_LateSubscriptionMatchesKnownPublisher(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	m := New([]transportif.Layer{udpL}, DefaultOptions())
	m.ApplyPublisherRegistration(pubParams("T", 5, 0, types.LayerUDP))

	h, err := m.AddSubscription(subParams("T", 1, types.LayerUDP), &recordingSink{})
	require.NoError(t, err)
	ps, _ := m.PairState(h, 5)
	assert.Equal(t, types.StateEstablished, ps)
}

func TestManager_IndependentSubscriptionsSameTopic(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	m := New([]transportif.Layer{udpL}, DefaultOptions())
	a, b := &recordingSink{}, &recordingSink{}
	ha, err := m.AddSubscription(subParams("T", 1, types.LayerUDP), a)
	require.NoError(t, err)
	_, err = m.AddSubscription(subParams("T", 2, types.LayerUDP), b)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Subscriptions())

	m.ApplyPublisherRegistration(pubParams("T", 5, 0, types.LayerUDP))
	assert.Len(t, udpL.open(), 2)

	require.NoError(t, m.RemoveSubscription(ha))
	assert.Len(t, udpL.open(), 1)
	udpL.deliver(&types.Sample{Publisher: 5, Counter: 1})
	assert.Len(t, a.samples, 0)
	assert.Len(t, b.samples, 1)
}

func TestManager_UnknownHandle(t *testing.T) {
	m := New(nil, DefaultOptions())
	h := SubscriptionHandle{EntityID: 42, TopicName: "nope"}

	assert.ErrorIs(t, m.RemoveSubscription(h), ErrUnknownSubscription)
	_, err := m.State(h)
	assert.ErrorIs(t, err, ErrUnknownSubscription)
}

func TestManager_InvalidSubscription(t *testing.T) {
	m := New(nil, DefaultOptions())
	_, err := m.AddSubscription(subParams("", 1, types.LayerUDP), &recordingSink{})
	assert.Error(t, err)
}

func TestManager_Close(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	m := New([]transportif.Layer{udpL}, DefaultOptions())
	_, err := m.AddSubscription(subParams("T", 1, types.LayerUDP), &recordingSink{})
	require.NoError(t, err)
	m.ApplyPublisherRegistration(pubParams("T", 5, 0, types.LayerUDP))

	require.NoError(t, m.Close())
	assert.Empty(t, udpL.open())
	assert.Equal(t, 0, m.Subscriptions())

	_, err = m.AddSubscription(subParams("T", 2, types.LayerUDP), &recordingSink{})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Subscriber.LayerSelection = config.LayerSelectionAll
	cfg.Subscriber.LayerPriority = []string{"tcp"}
	cfg.Registration.TombstoneCapacity = 8

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, SelectAll, opts.Selection)
	assert.Equal(t, []types.LayerType{types.LayerTCP, types.LayerUDP, types.LayerSHM}, opts.Priority)
	assert.Equal(t, 8, opts.TombstoneCapacity)
	assert.Equal(t, DefaultOptions(), OptionsFromConfig(nil))
}

func TestManager_ExpiredPublisherCanReturn(t *testing.T) {
	udpL := newFakeLayer(types.LayerUDP, true)
	m := New([]transportif.Layer{udpL}, DefaultOptions())
	sink := &recordingSink{}
	h, err := m.AddSubscription(subParams("T", 1, types.LayerUDP), sink)
	require.NoError(t, err)

	m.ApplyPublisherRegistration(pubParams("T", 5, 0, types.LayerUDP))
	m.ExpirePublisher(5, "T")
	ps, _ := m.PairState(h, 5)
	assert.Equal(t, types.StatePending, ps)
	assert.Equal(t, []types.EntityID{5}, sink.removed)

	m.ApplyPublisherRegistration(pubParams("T", 5, 1, types.LayerUDP))
	ps, _ = m.PairState(h, 5)
	assert.Equal(t, types.StateEstablished, ps)
}
