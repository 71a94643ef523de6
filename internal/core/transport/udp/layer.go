package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-p2pbus/internal/core/metrics"
	"github.com/dep2p/go-p2pbus/internal/core/transport/demux"
	"github.com/dep2p/go-p2pbus/internal/core/transport/frame"
	"github.com/dep2p/go-p2pbus/internal/util/logger"
	"github.com/dep2p/go-p2pbus/internal/util/mcast"
	"github.com/dep2p/go-p2pbus/pkg/interfaces/transport"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

var log = logger.Logger("transport.udp")

// packetConn 层使用的套接字能力
type packetConn interface {
	groupJoiner
	ReadFrom(b []byte) (int, net.Addr, error)
	Close() error
}

// Layer UDP 组播传输层
type Layer struct {
	cfg       Config
	conn      packetConn
	err       error
	groups    *groupTracker
	demux     *demux.Registry
	collector *metrics.Collector
	throttle  *logger.Throttled

	mu     sync.Mutex
	tokens map[*token]struct{}
	closed bool

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ transport.Layer = (*Layer)(nil)

// New 创建 UDP 层并绑定套接字
//
// 绑定失败时层不可用，Err 返回原因，不返回错误。
func New(cfg Config, collector *metrics.Collector) *Layer {
	conn, err := mcast.Listen(context.Background(), mcast.Options{
		Port:          cfg.Port,
		Interface:     cfg.Interface,
		Loopback:      cfg.Loopback,
		TTL:           cfg.TTL,
		ReceiveBuffer: cfg.ReceiveBuffer,
	})
	if err != nil {
		log.Warn("udp layer unusable", "port", cfg.Port, "err", err)
		return newLayer(cfg, nil, err, collector)
	}
	return newLayer(cfg, conn, nil, collector)
}

func newLayer(cfg Config, conn packetConn, err error, collector *metrics.Collector) *Layer {
	l := &Layer{
		cfg:       cfg,
		conn:      conn,
		err:       err,
		demux:     demux.New(),
		collector: collector,
		throttle:  logger.NewThrottled(log, time.Second, 5),
		tokens:    make(map[*token]struct{}),
		done:      make(chan struct{}),
	}
	if conn != nil {
		l.groups = newGroupTracker(conn)
	}
	return l
}

// Type 返回 LayerUDP
func (l *Layer) Type() types.LayerType { return types.LayerUDP }

// Usable 套接字是否绑定成功
func (l *Layer) Usable() bool { return l.err == nil }

// Err 返回初始化错误
func (l *Layer) Err() error { return l.err }

// AcceptsConnection 双方都启用 UDP 且本层可用
func (l *Layer) AcceptsConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters) bool {
	return l.Usable() && transport.BothActive(types.LayerUDP, pub, sub)
}

// AddConnection 加入主题组播组并登记回调
func (l *Layer) AddConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters, cb transport.Callbacks) (transport.ConnectionToken, error) {
	if !l.Usable() {
		return nil, transport.ErrLayerUnusable
	}
	if !l.AcceptsConnection(pub, sub) {
		return nil, transport.ErrNotAccepted
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, transport.ErrLayerClosed
	}
	group := l.cfg.GroupForTopic(pub.TopicName())
	if err := l.groups.acquire(group); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	t := &token{layer: l, group: group, cb: cb}
	t.pub.Store(&pub)
	t.id, _ = l.demux.Add(pub.EntityID(), cb)
	l.tokens[t] = struct{}{}
	l.mu.Unlock()

	log.Debug("connection added", "topic", pub.TopicName(), "publisher", pub.EntityID(), "group", group)
	if cb.OnConnectionChanged != nil {
		cb.OnConnectionChanged(types.ConnectionEvent{Publisher: pub, Layer: types.LayerUDP, Connected: true})
	}
	return t, nil
}

// Start 启动接收协程
func (l *Layer) Start(ctx context.Context) error {
	if !l.Usable() || !l.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, l.cancel = context.WithCancel(ctx)
	go l.readLoop(ctx)
	return nil
}

// Close 停止接收协程，释放全部令牌
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	tokens := make([]*token, 0, len(l.tokens))
	for t := range l.tokens {
		tokens = append(tokens, t)
	}
	l.mu.Unlock()

	var err error
	for _, t := range tokens {
		err = multierr.Append(err, t.Close())
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.conn != nil {
		err = multierr.Append(err, l.conn.Close())
	}
	if l.started.Load() {
		<-l.done
	}
	return err
}

func (l *Layer) readLoop(ctx context.Context) {
	defer close(l.done)
	buf := make([]byte, l.cfg.MaxDatagramSize)
	if len(buf) == 0 {
		buf = make([]byte, 65507)
	}
	for {
		n, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.throttle.Warn("udp read failed", "err", err)
			continue
		}
		l.handleDatagram(buf[:n])
	}
}

// handleDatagram 解帧并按发布者分发；未知发布者的数据报被忽略
func (l *Layer) handleDatagram(b []byte) {
	f, _, err := frame.Decode(b)
	if err != nil {
		l.collector.ObserveDecodeFailure("udp")
		l.throttle.Warn("dropping malformed datagram", "len", len(b), "err", err)
		return
	}
	l.demux.Dispatch(f.Sample(types.LayerUDP))
}

func (l *Layer) release(t *token) (bool, error) {
	l.mu.Lock()
	if _, ok := l.tokens[t]; !ok {
		l.mu.Unlock()
		return false, nil
	}
	delete(l.tokens, t)
	l.mu.Unlock()

	l.demux.Remove(t.Publisher(), t.id)
	return true, l.groups.release(t.group)
}

// ============================================================================
//                              token
// ============================================================================

type token struct {
	layer *Layer
	id    uint64
	group net.IP
	cb    transport.Callbacks
	pub   atomic.Pointer[types.PublisherConnectionParameters]
}

func (t *token) Layer() types.LayerType { return types.LayerUDP }

func (t *token) Publisher() types.EntityID { return t.pub.Load().EntityID() }

// Update 组播地址只由主题名决定，只记录新参数
func (t *token) Update(pub types.PublisherConnectionParameters) error {
	if pub.EntityID() != t.Publisher() {
		return transport.ErrUnknownToken
	}
	t.pub.Store(&pub)
	return nil
}

func (t *token) Close() error {
	ok, err := t.layer.release(t)
	if !ok {
		return transport.ErrUnknownToken
	}
	if t.cb.OnConnectionChanged != nil {
		t.cb.OnConnectionChanged(types.ConnectionEvent{Publisher: *t.pub.Load(), Layer: types.LayerUDP, Connected: false})
	}
	return err
}
