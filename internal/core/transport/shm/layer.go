package shm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
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

var log = logger.Logger("transport.shm")

// Config SHM 层配置
type Config struct {
	Directory    string
	Domain       string
	PollInterval time.Duration
}

// ConfigFromUnified 从统一配置创建 SHM 层配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return Config{
		Directory:    cfg.Transport.SHM.Directory,
		Domain:       cfg.ResolvedSHMDomain(),
		PollInterval: cfg.Transport.SHM.PollInterval.Duration(),
	}
}

// Layer 共享内存传输层
type Layer struct {
	cfg       Config
	err       error
	demux     *demux.Registry
	collector *metrics.Collector
	throttle  *logger.Throttled

	mu      sync.Mutex
	watches map[types.EntityID]*watch
	closed  bool

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ transport.Layer = (*Layer)(nil)

// New 创建 SHM 层
//
// 段目录不可访问或平台不支持内存映射时层不可用。
func New(cfg Config, collector *metrics.Collector) *Layer {
	l := &Layer{
		cfg:       cfg,
		demux:     demux.New(),
		collector: collector,
		throttle:  logger.NewThrottled(log, time.Second, 5),
		watches:   make(map[types.EntityID]*watch),
		done:      make(chan struct{}),
	}
	if l.cfg.PollInterval <= 0 {
		l.cfg.PollInterval = time.Millisecond
	}
	switch {
	case !supported:
		l.err = errUnsupportedPlatform
	default:
		if st, err := os.Stat(cfg.Directory); err != nil {
			l.err = fmt.Errorf("shm: segment directory: %w", err)
		} else if !st.IsDir() {
			l.err = fmt.Errorf("shm: %s is not a directory", cfg.Directory)
		}
	}
	if l.err != nil {
		log.Warn("shm layer unusable", "dir", cfg.Directory, "err", l.err)
	}
	return l
}

var errUnsupportedPlatform = errors.New("shm: unsupported platform")

// Type 返回 LayerSHM
func (l *Layer) Type() types.LayerType { return types.LayerSHM }

// Usable 是否可用
func (l *Layer) Usable() bool { return l.err == nil }

// Err 返回初始化错误
func (l *Layer) Err() error { return l.err }

// Domain 本层的共享内存传输域
func (l *Layer) Domain() string { return l.cfg.Domain }

// AcceptsConnection 双方启用 SHM、处于同一传输域且发布者声明了段文件
func (l *Layer) AcceptsConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters) bool {
	if !l.Usable() || !transport.BothActive(types.LayerSHM, pub, sub) {
		return false
	}
	p := pub.LayerParameters().SHM
	return p.Domain != "" && p.Domain == sub.SHMDomain() && len(p.MemoryFiles) > 0
}

// AddConnection 登记段监视，段可读后异步触发 connected
func (l *Layer) AddConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters, cb transport.Callbacks) (transport.ConnectionToken, error) {
	if !l.Usable() {
		return nil, transport.ErrLayerUnusable
	}
	if !l.AcceptsConnection(pub, sub) {
		return nil, transport.ErrNotAccepted
	}
	files := pub.LayerParameters().SHM.MemoryFiles
	for _, name := range files {
		if _, err := segmentPath(l.cfg.Directory, name); err != nil {
			return nil, err
		}
	}

	t := &token{layer: l, cb: cb}
	t.pub.Store(&pub)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, transport.ErrLayerClosed
	}
	w, ok := l.watches[pub.EntityID()]
	if !ok {
		w = newWatch(l.cfg.Directory, files)
		l.watches[pub.EntityID()] = w
	}
	w.tokens[t] = struct{}{}
	t.watch = w
	t.id, _ = l.demux.Add(pub.EntityID(), cb)

	log.Debug("connection pending", "topic", pub.TopicName(), "publisher", pub.EntityID(), "files", files)
	return t, nil
}

// Start 启动轮询协程
func (l *Layer) Start(ctx context.Context) error {
	if !l.Usable() || !l.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, l.cancel = context.WithCancel(ctx)
	go l.pollLoop(ctx)
	return nil
}

// Close 停止轮询协程并释放全部令牌
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	var tokens []*token
	for _, w := range l.watches {
		for t := range w.tokens {
			tokens = append(tokens, t)
		}
	}
	l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	if l.started.Load() {
		<-l.done
	}
	var err error
	for _, t := range tokens {
		err = multierr.Append(err, t.Close())
	}
	return err
}

func (l *Layer) pollLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.pollOnce()
		}
	}
}

// pollOnce 打开待建立的段、通知 connected、分发新帧
func (l *Layer) pollOnce() {
	l.mu.Lock()
	watches := make([]*watch, 0, len(l.watches))
	for _, w := range l.watches {
		watches = append(watches, w)
	}
	l.mu.Unlock()

	for _, w := range watches {
		if w.open() {
			l.mu.Lock()
			tokens := make([]*token, 0, len(w.tokens))
			for t := range w.tokens {
				tokens = append(tokens, t)
			}
			l.mu.Unlock()
			for _, t := range tokens {
				t.markConnected()
			}
		}
		for _, f := range w.poll(l) {
			l.demux.Dispatch(f.Sample(types.LayerSHM))
		}
	}
}

func (l *Layer) decodeFailure(path string, err error) {
	l.collector.ObserveDecodeFailure("shm")
	l.throttle.Warn("dropping malformed shm frame", "segment", path, "err", err)
}

func (l *Layer) release(t *token) (bool, error) {
	l.mu.Lock()
	w := t.watch
	if w == nil {
		l.mu.Unlock()
		return false, nil
	}
	if _, ok := w.tokens[t]; !ok {
		l.mu.Unlock()
		return false, nil
	}
	delete(w.tokens, t)
	var drop *watch
	if len(w.tokens) == 0 {
		delete(l.watches, t.Publisher())
		drop = w
	}
	l.mu.Unlock()

	l.demux.Remove(t.Publisher(), t.id)
	if drop != nil {
		return true, drop.close()
	}
	return true, nil
}

func (l *Layer) update(t *token, files []string) error {
	for _, name := range files {
		if _, err := segmentPath(l.cfg.Directory, name); err != nil {
			return err
		}
	}
	l.mu.Lock()
	w := t.watch
	l.mu.Unlock()
	if w == nil {
		return transport.ErrUnknownToken
	}
	if w.setFiles(files) {
		log.Debug("segment files changed", "publisher", t.Publisher(), "files", files)
	}
	return nil
}

// ============================================================================
//                              watch - 单个发布者的段集合
// ============================================================================

type watch struct {
	dir    string
	tokens map[*token]struct{} // 受 Layer.mu 保护

	mu      sync.Mutex
	files   []string
	readers map[string]*segmentReader
	dead    bool
}

func newWatch(dir string, files []string) *watch {
	return &watch{
		dir:     dir,
		tokens:  make(map[*token]struct{}),
		files:   slices.Clone(files),
		readers: make(map[string]*segmentReader),
	}
}

// open 尝试打开尚未打开的段，返回是否有段可读
func (w *watch) open() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return false
	}
	for _, name := range w.files {
		if _, ok := w.readers[name]; ok {
			continue
		}
		path, err := segmentPath(w.dir, name)
		if err != nil {
			continue
		}
		r, err := openSegment(path)
		if err != nil {
			continue
		}
		w.readers[name] = r
	}
	return len(w.readers) > 0
}

func (w *watch) poll(l *Layer) []*frame.Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*frame.Frame
	for _, r := range w.readers {
		f, err := r.poll()
		if err != nil {
			l.decodeFailure(r.path, err)
			continue
		}
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// setFiles 替换段文件列表，关闭不再使用的段
func (w *watch) setFiles(files []string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slices.Equal(w.files, files) {
		return false
	}
	keep := make(map[string]bool, len(files))
	for _, n := range files {
		keep[n] = true
	}
	for name, r := range w.readers {
		if !keep[name] {
			_ = r.close()
			delete(w.readers, name)
		}
	}
	w.files = slices.Clone(files)
	return true
}

func (w *watch) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dead = true
	var err error
	for name, r := range w.readers {
		err = multierr.Append(err, r.close())
		delete(w.readers, name)
	}
	return err
}

// ============================================================================
//                              token
// ============================================================================

type token struct {
	layer *Layer
	id    uint64
	watch *watch
	cb    transport.Callbacks
	pub   atomic.Pointer[types.PublisherConnectionParameters]

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (t *token) Layer() types.LayerType { return types.LayerSHM }

func (t *token) Publisher() types.EntityID { return t.pub.Load().EntityID() }

// Update 发布者更换段文件（例如重启后）时切换监视的段
func (t *token) Update(pub types.PublisherConnectionParameters) error {
	if pub.EntityID() != t.Publisher() {
		return transport.ErrUnknownToken
	}
	t.pub.Store(&pub)
	return t.layer.update(t, pub.LayerParameters().SHM.MemoryFiles)
}

func (t *token) markConnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.connected {
		return
	}
	t.connected = true
	if t.cb.OnConnectionChanged != nil {
		t.cb.OnConnectionChanged(types.ConnectionEvent{Publisher: *t.pub.Load(), Layer: types.LayerSHM, Connected: true})
	}
}

func (t *token) Close() error {
	ok, err := t.layer.release(t)
	if !ok {
		return transport.ErrUnknownToken
	}
	t.mu.Lock()
	t.closed = true
	wasConnected := t.connected
	t.mu.Unlock()

	if wasConnected && t.cb.OnConnectionChanged != nil {
		t.cb.OnConnectionChanged(types.ConnectionEvent{Publisher: *t.pub.Load(), Layer: types.LayerSHM, Connected: false})
	}
	return err
}
