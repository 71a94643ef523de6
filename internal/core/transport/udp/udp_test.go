package udp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/core/transport/frame"
	"github.com/dep2p/go-p2pbus/pkg/interfaces/transport"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

// fakeConn 记录组播加入/离开，数据报通过 inject 注入
type fakeConn struct {
	mu     sync.Mutex
	joins  map[string]int
	leaves map[string]int
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		joins:  make(map[string]int),
		leaves: make(map[string]int),
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Join(g net.IP) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins[g.String()]++
	return nil
}

func (c *fakeConn) Leave(g net.IP) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves[g.String()]++
	return nil
}

func (c *fakeConn) counts(g net.IP) (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joins[g.String()], c.leaves[g.String()]
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case d := <-c.in:
		return copy(b, d), &net.UDPAddr{}, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func testConfig(t *testing.T) Config {
	cfg, err := ConfigFromUnified(config.NewConfig())
	require.NoError(t, err)
	return cfg
}

func pubParams(topic string, id types.EntityID, layers ...types.LayerType) types.PublisherConnectionParameters {
	return types.NewPublisherConnectionParameters(
		types.TopicID{TopicName: topic, EntityID: id, HostName: "h"},
		types.DataTypeInfo{Name: "raw"}, types.NewActiveLayers(layers...), types.LayerParameters{}, 0)
}

func subParams(topic string, id types.EntityID, layers ...types.LayerType) types.SubscriberConnectionParameters {
	return types.NewSubscriberConnectionParameters(
		types.TopicID{TopicName: topic, EntityID: id, HostName: "h"},
		types.DataTypeInfo{Name: "raw"}, types.NewActiveLayers(layers...), "h")
}

func TestGroupForTopic(t *testing.T) {
	base := net.ParseIP("239.0.0.1")
	mask := net.ParseIP("0.0.0.255")

	g1 := GroupForTopic("T", base, mask)
	assert.Equal(t, g1, GroupForTopic("T", base, mask))
	assert.True(t, g1.IsMulticast())
	assert.Equal(t, net.IP{239, 0, 0}, g1[:3])

	// 零掩码时所有主题映射到基地址
	zero := net.ParseIP("0.0.0.0")
	assert.Equal(t, base.To4(), GroupForTopic("anything", base, zero))
}

func TestAcceptsConnection(t *testing.T) {
	l := newLayer(testConfig(t), newFakeConn(), nil, nil)

	assert.True(t, l.AcceptsConnection(pubParams("T", 1, types.LayerUDP), subParams("T", 2, types.LayerUDP, types.LayerTCP)))
	assert.False(t, l.AcceptsConnection(pubParams("T", 1, types.LayerUDP), subParams("T", 2, types.LayerSHM, types.LayerTCP)))

	broken := newLayer(testConfig(t), nil, assert.AnError, nil)
	assert.False(t, broken.Usable())
	assert.Equal(t, assert.AnError, broken.Err())
	assert.False(t, broken.AcceptsConnection(pubParams("T", 1, types.LayerUDP), subParams("T", 2, types.LayerUDP)))

	_, err := broken.AddConnection(pubParams("T", 1, types.LayerUDP), subParams("T", 2, types.LayerUDP), transport.Callbacks{})
	assert.ErrorIs(t, err, transport.ErrLayerUnusable)
}

func TestReferenceCountedGroup(t *testing.T) {
	conn := newFakeConn()
	l := newLayer(testConfig(t), conn, nil, nil)
	group := l.cfg.GroupForTopic("T")

	pub := pubParams("T", 1, types.LayerUDP)
	t1, err := l.AddConnection(pub, subParams("T", 10, types.LayerUDP), transport.Callbacks{})
	require.NoError(t, err)
	t2, err := l.AddConnection(pub, subParams("T", 11, types.LayerUDP), transport.Callbacks{})
	require.NoError(t, err)

	joins, leaves := conn.counts(group)
	assert.Equal(t, 1, joins)
	assert.Equal(t, 0, leaves)
	assert.Equal(t, 2, l.groups.count(group))

	require.NoError(t, t1.Close())
	_, leaves = conn.counts(group)
	assert.Equal(t, 0, leaves)

	require.NoError(t, t2.Close())
	_, leaves = conn.counts(group)
	assert.Equal(t, 1, leaves)

	assert.ErrorIs(t, t2.Close(), transport.ErrUnknownToken)
}

func TestConnectionEventsAndDispatch(t *testing.T) {
	conn := newFakeConn()
	l := newLayer(testConfig(t), conn, nil, nil)

	var mu sync.Mutex
	var events []types.ConnectionEvent
	samples := make(chan *types.Sample, 4)
	cb := transport.Callbacks{
		OnData: func(s *types.Sample) { samples <- s },
		OnConnectionChanged: func(ev types.ConnectionEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	}

	pub := pubParams("T", 7, types.LayerUDP)
	tok, err := l.AddConnection(pub, subParams("T", 8, types.LayerUDP), cb)
	require.NoError(t, err)
	assert.Equal(t, types.LayerUDP, tok.Layer())
	assert.Equal(t, types.EntityID(7), tok.Publisher())

	require.NoError(t, l.Start(context.Background()))
	defer l.Close()

	other, err := frame.Encode(&frame.Frame{Publisher: 99, Topic: "U", Counter: 1, Payload: []byte("x")})
	require.NoError(t, err)
	mine, err := frame.Encode(&frame.Frame{Publisher: 7, Topic: "T", Counter: 5, SendTime: time.Now(), Payload: []byte("y")})
	require.NoError(t, err)

	conn.in <- []byte("garbage")
	conn.in <- other
	conn.in <- mine

	select {
	case s := <-samples:
		assert.Equal(t, uint64(5), s.Counter)
		assert.Equal(t, []byte("y"), s.Payload)
		assert.Equal(t, types.LayerUDP, s.Layer)
	case <-time.After(2 * time.Second):
		t.Fatal("sample not delivered")
	}

	require.NoError(t, tok.Close())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.True(t, events[0].Connected)
	assert.False(t, events[1].Connected)
	assert.Equal(t, types.EntityID(7), events[1].Publisher.EntityID())
}

func TestCloseReleasesTokens(t *testing.T) {
	conn := newFakeConn()
	l := newLayer(testConfig(t), conn, nil, nil)
	require.NoError(t, l.Start(context.Background()))

	disconnected := 0
	cb := transport.Callbacks{OnConnectionChanged: func(ev types.ConnectionEvent) {
		if !ev.Connected {
			disconnected++
		}
	}}
	tok, err := l.AddConnection(pubParams("T", 1, types.LayerUDP), subParams("T", 2, types.LayerUDP), cb)
	require.NoError(t, err)

	require.NoError(t, l.Close())
	assert.Equal(t, 1, disconnected)
	assert.ErrorIs(t, tok.Close(), transport.ErrUnknownToken)

	_, err = l.AddConnection(pubParams("T", 1, types.LayerUDP), subParams("T", 2, types.LayerUDP), cb)
	assert.ErrorIs(t, err, transport.ErrLayerClosed)
}

func TestTokenUpdate(t *testing.T) {
	l := newLayer(testConfig(t), newFakeConn(), nil, nil)
	tok, err := l.AddConnection(pubParams("T", 1, types.LayerUDP), subParams("T", 2, types.LayerUDP), transport.Callbacks{})
	require.NoError(t, err)

	assert.NoError(t, tok.Update(pubParams("T", 1, types.LayerUDP, types.LayerTCP)))
	assert.ErrorIs(t, tok.Update(pubParams("T", 3, types.LayerUDP)), transport.ErrUnknownToken)
}
