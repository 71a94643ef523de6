package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/core/metrics"
	"github.com/dep2p/go-p2pbus/internal/core/transport/demux"
	"github.com/dep2p/go-p2pbus/internal/core/transport/frame"
	"github.com/dep2p/go-p2pbus/internal/util/logger"
	"github.com/dep2p/go-p2pbus/pkg/interfaces/transport"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

var log = logger.Logger("transport.tcp")

// Config TCP 层配置
type Config struct {
	DialTimeout       time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
	MaxFrameSize      int
	KeepAliveInterval time.Duration
}

// ConfigFromUnified 从统一配置创建 TCP 层配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	c := cfg.Transport.TCP
	return Config{
		DialTimeout:       c.DialTimeout.Duration(),
		ReconnectMin:      c.ReconnectMin.Duration(),
		ReconnectMax:      c.ReconnectMax.Duration(),
		MaxFrameSize:      c.MaxFrameSize,
		KeepAliveInterval: c.KeepAliveInterval.Duration(),
	}
}

// Endpoint 返回发布者 TCP 端点，未声明端口时返回空串
//
// 注册记录未给出监听地址时使用发布者的主机名。
func Endpoint(pub types.PublisherConnectionParameters) string {
	p := pub.LayerParameters().TCP
	if p.Port <= 0 || p.Port > 65535 {
		return ""
	}
	host := p.Host
	if host == "" {
		host = pub.TopicID().HostName
	}
	if host == "" {
		return ""
	}
	return net.JoinHostPort(host, strconv.Itoa(p.Port))
}

// Layer TCP 传输层
type Layer struct {
	cfg       Config
	pool      *sessionPool
	demux     *demux.Registry
	collector *metrics.Collector
	throttle  *logger.Throttled

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	links  map[types.EntityID]*link
	closed bool
}

var _ transport.Layer = (*Layer)(nil)

// New 创建 TCP 层
func New(cfg Config, collector *metrics.Collector) *Layer {
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
	return newLayer(cfg, dial, collector)
}

func newLayer(cfg Config, dial dialFunc, collector *metrics.Collector) *Layer {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 100 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Layer{
		cfg:       cfg,
		pool:      newSessionPool(dial, yamuxConfig(cfg.KeepAliveInterval)),
		demux:     demux.New(),
		collector: collector,
		throttle:  logger.NewThrottled(log, time.Second, 5),
		ctx:       ctx,
		cancel:    cancel,
		links:     make(map[types.EntityID]*link),
	}
}

// Type 返回 LayerTCP
func (l *Layer) Type() types.LayerType { return types.LayerTCP }

// Usable TCP 层没有本地初始化步骤，总是可用
func (l *Layer) Usable() bool { return true }

// Err 总是 nil
func (l *Layer) Err() error { return nil }

// AcceptsConnection 双方启用 TCP 且发布者声明了端点
func (l *Layer) AcceptsConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters) bool {
	return transport.BothActive(types.LayerTCP, pub, sub) && Endpoint(pub) != ""
}

// AddConnection 登记回调，必要时为该发布者启动订阅流
func (l *Layer) AddConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters, cb transport.Callbacks) (transport.ConnectionToken, error) {
	if !l.AcceptsConnection(pub, sub) {
		return nil, transport.ErrNotAccepted
	}

	t := &token{layer: l, cb: cb}
	t.pub.Store(&pub)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, transport.ErrLayerClosed
	}
	k, ok := l.links[pub.EntityID()]
	if !ok {
		k = newLink(l, pub)
		l.links[pub.EntityID()] = k
	}
	k.tokens[t] = struct{}{}
	t.link = k
	t.id, _ = l.demux.Add(pub.EntityID(), cb)
	if k.connected {
		t.markConnected(true)
	}
	l.mu.Unlock()

	if !ok {
		go k.run()
	}
	return t, nil
}

// Start TCP 层的读协程随连接创建，无需启动
func (l *Layer) Start(context.Context) error { return nil }

// Close 停止全部订阅流并关闭会话
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	var tokens []*token
	links := make([]*link, 0, len(l.links))
	for _, k := range l.links {
		links = append(links, k)
		for t := range k.tokens {
			tokens = append(tokens, t)
		}
	}
	l.mu.Unlock()

	l.cancel()
	for _, k := range links {
		k.stop()
	}
	var err error
	for _, t := range tokens {
		err = multierr.Append(err, t.Close())
	}
	l.pool.closeAll()
	return err
}

func (l *Layer) release(t *token) bool {
	l.mu.Lock()
	k := t.link
	if k == nil {
		l.mu.Unlock()
		return false
	}
	if _, ok := k.tokens[t]; !ok {
		l.mu.Unlock()
		return false
	}
	delete(k.tokens, t)
	last := len(k.tokens) == 0
	if last && l.links[k.pub] == k {
		delete(l.links, k.pub)
	}
	l.mu.Unlock()

	l.demux.Remove(k.pub, t.id)
	if last {
		k.stop()
	}
	return true
}

// setLinkConnected 更新链路状态并通知其全部令牌
//
// 在 Layer.mu 内通知，保证新加入的令牌与链路状态一致。
func (l *Layer) setLinkConnected(k *link, connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.connected = connected
	for t := range k.tokens {
		t.markConnected(connected)
	}
}

// ============================================================================
//                              link - 单个发布者的订阅流
// ============================================================================

type link struct {
	layer  *Layer
	pub    types.EntityID
	topic  string
	tokens map[*token]struct{} // 受 Layer.mu 保护

	connected bool // 受 Layer.mu 保护

	endpoint atomic.Pointer[string]
	retarget chan struct{}

	streamMu sync.Mutex
	stream   io.Closer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newLink(l *Layer, pub types.PublisherConnectionParameters) *link {
	ctx, cancel := context.WithCancel(l.ctx)
	k := &link{
		layer:    l,
		pub:      pub.EntityID(),
		topic:    pub.TopicName(),
		tokens:   make(map[*token]struct{}),
		retarget: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	ep := Endpoint(pub)
	k.endpoint.Store(&ep)
	return k
}

func (k *link) run() {
	defer close(k.done)
	backoff := k.layer.cfg.ReconnectMin
	for k.ctx.Err() == nil {
		ep := *k.endpoint.Load()
		established, err := k.serve(ep)
		k.layer.setLinkConnected(k, false)
		if k.ctx.Err() != nil {
			return
		}
		if established {
			backoff = k.layer.cfg.ReconnectMin
		}
		log.Debug("subscription stream ended", "publisher", k.pub, "endpoint", ep, "err", err, "retry", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-k.ctx.Done():
			timer.Stop()
			return
		case <-k.retarget:
			timer.Stop()
			backoff = k.layer.cfg.ReconnectMin
		case <-timer.C:
			backoff *= 2
			if backoff > k.layer.cfg.ReconnectMax {
				backoff = k.layer.cfg.ReconnectMax
			}
		}
	}
}

// serve 建立一次订阅流并持续读取，返回是否曾建立成功
func (k *link) serve(ep string) (bool, error) {
	ctx, cancel := context.WithTimeout(k.ctx, k.layer.cfg.DialTimeout)
	ref, err := k.layer.pool.acquire(ctx, ep)
	cancel()
	if err != nil {
		return false, err
	}
	defer k.layer.pool.release(ref)

	stream, err := ref.sess.OpenStream()
	if err != nil {
		return false, err
	}
	if !k.setStream(stream) {
		_ = stream.Close()
		return false, k.ctx.Err()
	}
	defer k.setStream(nil)
	defer stream.Close()

	if err := frame.WriteTo(stream, &frame.Frame{Publisher: k.pub, Topic: k.topic}); err != nil {
		return false, err
	}
	ack, err := frame.ReadFrom(stream, k.layer.cfg.MaxFrameSize)
	if err != nil {
		return false, err
	}
	if ack.Publisher != k.pub || ack.Counter != 0 {
		return false, errUnexpectedAck
	}

	k.layer.setLinkConnected(k, true)
	for {
		f, err := frame.ReadFrom(stream, k.layer.cfg.MaxFrameSize)
		if err != nil {
			if errors.Is(err, frame.ErrChecksum) || errors.Is(err, frame.ErrBadMagic) ||
				errors.Is(err, frame.ErrUnsupportedVersion) || errors.Is(err, frame.ErrTooLarge) {
				k.layer.collector.ObserveDecodeFailure("tcp")
				k.layer.throttle.Warn("malformed frame on tcp stream", "publisher", k.pub, "err", err)
			}
			return true, err
		}
		if f.Publisher != k.pub {
			k.layer.collector.ObserveDecodeFailure("tcp")
			continue
		}
		k.layer.demux.Dispatch(f.Sample(types.LayerTCP))
	}
}

var errUnexpectedAck = errors.New("tcp: unexpected subscription ack")

// setStream 记录当前流以便 stop/retarget 打断阻塞读；链路已停止时返回 false
func (k *link) setStream(s io.Closer) bool {
	k.streamMu.Lock()
	defer k.streamMu.Unlock()
	if s != nil && k.ctx.Err() != nil {
		return false
	}
	k.stream = s
	return true
}

func (k *link) interrupt() {
	k.streamMu.Lock()
	defer k.streamMu.Unlock()
	if k.stream != nil {
		_ = k.stream.Close()
	}
}

// update 发布者端点变化时切换到新端点
func (k *link) update(pub types.PublisherConnectionParameters) {
	ep := Endpoint(pub)
	if ep == *k.endpoint.Load() {
		return
	}
	k.endpoint.Store(&ep)
	select {
	case k.retarget <- struct{}{}:
	default:
	}
	k.interrupt()
}

// stop 停止读协程并等待其退出
func (k *link) stop() {
	k.cancel()
	k.interrupt()
	<-k.done
}

// ============================================================================
//                              token
// ============================================================================

type token struct {
	layer *Layer
	id    uint64
	link  *link
	cb    transport.Callbacks
	pub   atomic.Pointer[types.PublisherConnectionParameters]

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (t *token) Layer() types.LayerType { return types.LayerTCP }

func (t *token) Publisher() types.EntityID { return t.pub.Load().EntityID() }

// Update 发布者更换端点时重连
func (t *token) Update(pub types.PublisherConnectionParameters) error {
	if pub.EntityID() != t.Publisher() {
		return transport.ErrUnknownToken
	}
	t.pub.Store(&pub)
	t.link.update(pub)
	return nil
}

func (t *token) markConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.connected == connected {
		return
	}
	t.connected = connected
	if t.cb.OnConnectionChanged != nil {
		t.cb.OnConnectionChanged(types.ConnectionEvent{Publisher: *t.pub.Load(), Layer: types.LayerTCP, Connected: connected})
	}
}

func (t *token) Close() error {
	if !t.layer.release(t) {
		return transport.ErrUnknownToken
	}
	t.mu.Lock()
	t.closed = true
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	if wasConnected && t.cb.OnConnectionChanged != nil {
		t.cb.OnConnectionChanged(types.ConnectionEvent{Publisher: *t.pub.Load(), Layer: types.LayerTCP, Connected: false})
	}
	return nil
}
