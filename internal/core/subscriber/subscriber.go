package subscriber

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-p2pbus/internal/core/integrity"
	"github.com/dep2p/go-p2pbus/internal/core/metrics"
	"github.com/dep2p/go-p2pbus/internal/core/readermgr"
	"github.com/dep2p/go-p2pbus/internal/util/logger"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

var log = logger.Logger("subscriber")

// ReceiveCallback 样本回调
type ReceiveCallback func(s *types.Sample)

// Registrar 读端管理器中订阅者需要的部分
type Registrar interface {
	AddSubscription(params types.SubscriberConnectionParameters, sink readermgr.Sink) (readermgr.SubscriptionHandle, error)
	RemoveSubscription(h readermgr.SubscriptionHandle) error
}

// publisherState 单个发布者的连接与完整性状态
type publisherState struct {
	params    types.PublisherConnectionParameters
	layers    types.ActiveLayers
	connected bool

	counters      *integrity.CounterCache
	drops         *integrity.MessageDropCalculator
	reportedDrops uint64
}

// Subscriber 订阅数据路径
type Subscriber struct {
	params types.SubscriberConnectionParameters
	opts   Options
	clock  clock.Clock
	reg    Registrar
	handle readermgr.SubscriptionHandle

	callback  atomic.Pointer[ReceiveCallback]
	observers atomic.Pointer[[]ReceiveCallback]
	obsMu     sync.Mutex

	// mu 保护连接表、统计与事件通道
	mu          sync.Mutex
	pubs        map[types.EntityID]*publisherState
	connections int
	freq        *metrics.ResettableFrequencyCalculator
	latency     metrics.StatisticsCalculator
	bytes       metrics.RateMeter
	received    uint64
	duplicates  uint64
	reordered   uint64
	totalDrops  uint64
	events      chan Event
	closed      bool

	slotMu  sync.Mutex
	slot    []byte
	hasSlot bool
	notify  chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	eventWarn *logger.Throttled
	dupWarn   *logger.Throttled
}

// New 创建订阅者并登记到读端管理器
//
// 已知的匹配发布者可能在 New 返回前即已连接。
func New(reg Registrar, params types.SubscriberConnectionParameters, opts Options) (*Subscriber, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	s := &Subscriber{
		params:    params,
		opts:      opts,
		clock:     opts.Clock,
		reg:       reg,
		pubs:      make(map[types.EntityID]*publisherState),
		freq:      metrics.NewResettableFrequencyCalculator(opts.FrequencyWindow, opts.FrequencyResetFactor),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		eventWarn: logger.NewThrottled(log, time.Second, 1),
		dupWarn:   logger.NewThrottled(log, time.Second, 1),
	}
	if opts.EventBuffer > 0 {
		s.events = make(chan Event, opts.EventBuffer)
	}
	for _, fn := range opts.Observers {
		s.AddObserver(fn)
	}

	h, err := reg.AddSubscription(params, s)
	if err != nil {
		return nil, err
	}
	s.handle = h
	log.Debug("subscriber created", "topic", params.TopicName(), "id", params.EntityID(), "layers", params.Layers())
	return s, nil
}

// Handle 返回订阅句柄
func (s *Subscriber) Handle() readermgr.SubscriptionHandle {
	return s.handle
}

// TopicID 返回订阅者标识
func (s *Subscriber) TopicID() types.TopicID {
	return s.params.TopicID()
}

// ============================================================================
//                              应用接口
// ============================================================================

// SetReceiveCallback 设置样本回调，原回调被原子替换
//
// 设置回调后样本不再写入 Read 的单槽缓冲。
func (s *Subscriber) SetReceiveCallback(cb ReceiveCallback) {
	if cb == nil {
		s.callback.Store(nil)
		return
	}
	s.callback.Store(&cb)
}

// RemoveReceiveCallback 清除样本回调
func (s *Subscriber) RemoveReceiveCallback() {
	s.callback.Store(nil)
}

// AddObserver 追加样本观察者
//
// 观察者在回调之前看到每个已接受的样本，不影响回调与 Read。
func (s *Subscriber) AddObserver(fn ReceiveCallback) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	var next []ReceiveCallback
	if cur := s.observers.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, fn)
	s.observers.Store(&next)
}

// Read 读取最新样本
//
// 槽中已有数据时立即返回并清空槽。timeout < 0 一直等待，timeout == 0 立即返回。
// 订阅关闭后返回 false。
func (s *Subscriber) Read(timeout time.Duration) ([]byte, bool) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := s.clock.Timer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		if b, ok := s.take(); ok {
			return b, true
		}
		if timeout == 0 {
			return nil, false
		}
		select {
		case <-s.notify:
		case <-expired:
			return s.take()
		case <-s.done:
			return nil, false
		}
	}
}

func (s *Subscriber) take() ([]byte, bool) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	if !s.hasSlot {
		return nil, false
	}
	b := s.slot
	s.slot, s.hasSlot = nil, false
	return b, true
}

func (s *Subscriber) store(b []byte) {
	s.slotMu.Lock()
	s.slot, s.hasSlot = b, true
	s.slotMu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Events 返回事件通道，Close 后关闭
//
// EventBuffer 为 0 时返回 nil。消费过慢时事件被丢弃。
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// IsPublished 是否至少有一个发布者已连通
func (s *Subscriber) IsPublished() bool {
	return s.PublisherCount() > 0
}

// PublisherCount 已连通的发布者数量
func (s *Subscriber) PublisherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Snapshot 返回统计快照
func (s *Subscriber) Snapshot() types.SubscriberSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	snap := types.SubscriberSnapshot{
		TopicID:    s.params.TopicID(),
		DataType:   s.params.DataType(),
		Layers:     s.params.Layers(),
		Frequency:  s.freq.Frequency(now),
		Received:   s.received,
		Bytes:      s.bytes.Total(),
		ByteRate:   s.bytes.Rate(now),
		Duplicates: s.duplicates,
		Reordered:  s.reordered,
		Drops:      s.totalDrops,
		Latency:    s.latency.Snapshot(),
	}
	host := s.params.TopicID().HostName
	for _, ps := range s.pubs {
		if !ps.connected {
			continue
		}
		if ps.params.TopicID().IsLocalTo(host) {
			snap.ConnectionsLocal++
		} else {
			snap.ConnectionsExternal++
		}
	}
	return snap
}

// Close 移除订阅
//
// 返回时不会再有回调被调用。不得在接收回调内调用。
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.reg.RemoveSubscription(s.handle)
		snap := s.Snapshot()

		s.mu.Lock()
		s.closed = true
		if s.events != nil {
			close(s.events)
		}
		s.mu.Unlock()
		close(s.done)

		if s.opts.OnClose != nil {
			s.opts.OnClose(snap)
		}
		log.Debug("subscriber closed", "topic", s.params.TopicName(), "id", s.params.EntityID(), "received", snap.Received)
	})
	return s.closeErr
}

// ============================================================================
//                              readermgr.Sink
// ============================================================================

// OnData 处理一个已解帧的样本
func (s *Subscriber) OnData(smp *types.Sample) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ps := s.publisher(smp.Publisher, nil)
	if ps.counters.HasCounter(smp.Counter) == integrity.PresenceTrue {
		s.duplicates++
		s.mu.Unlock()
		s.opts.Collector.ObserveDuplicate(smp.TopicName)
		s.dupWarn.Debug("duplicate sample discarded", "topic", smp.TopicName, "publisher", smp.Publisher, "counter", smp.Counter, "layer", smp.Layer)
		return
	}

	reordered := !ps.counters.IsMonotonic(smp.Counter)
	ps.counters.SetCounter(smp.Counter)
	if reordered {
		s.reordered++
		ps.drops.MarkReceived()
	} else {
		ps.drops.RegisterReceivedMessage(smp.Counter)
	}
	newDrops := s.collectDrops(ps, now)

	var latency time.Duration
	if !smp.SendTime.IsZero() {
		latency = now.Sub(smp.SendTime)
		s.latency.Add(float64(latency) / float64(time.Microsecond))
	}
	s.freq.AddTick(now)
	s.bytes.Add(len(smp.Payload), now)
	s.received++
	s.mu.Unlock()

	if reordered {
		s.opts.Collector.ObserveReordered(smp.TopicName)
	}
	if newDrops > 0 {
		s.opts.Collector.AddDrops(smp.TopicName, newDrops)
	}
	s.opts.Collector.ObserveSample(smp.TopicName, smp.Layer.String(), latency)

	if obs := s.observers.Load(); obs != nil {
		for _, fn := range *obs {
			fn(smp)
		}
	}
	if cb := s.callback.Load(); cb != nil {
		(*cb)(smp)
		return
	}
	s.store(smp.Payload)
}

// OnConnectionChanged 聚合层级连接事件
func (s *Subscriber) OnConnectionChanged(ev types.ConnectionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ps := s.publisher(ev.Publisher.EntityID(), &ev.Publisher)
	if ev.Connected {
		ps.layers = ps.layers.With(ev.Layer)
	} else {
		ps.layers = ps.layers.Without(ev.Layer)
	}

	switch {
	case !ps.connected && !ps.layers.IsEmpty():
		ps.connected = true
		s.connections++
		s.emit(EventNewConnection, ps, 0)
		log.Info("publisher connected", "topic", s.params.TopicName(), "publisher", ps.params.TopicID(), "layer", ev.Layer)
	case ps.connected && ps.layers.IsEmpty():
		ps.connected = false
		s.connections--
		s.emit(EventRemovedConnection, ps, 0)
		log.Info("publisher disconnected", "topic", s.params.TopicName(), "publisher", ps.params.TopicID(), "layer", ev.Layer)
	}
	s.opts.Collector.SetPublishers(s.params.TopicName(), s.connections)
}

// OnPublisherUpdate 应用发布者心跳计数
func (s *Subscriber) OnPublisherUpdate(pub types.PublisherConnectionParameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ps := s.publisher(pub.EntityID(), &pub)
	ps.params = pub
	ps.drops.ApplyReceivedPublisherUpdate(pub.DataClock())
	if n := s.collectDrops(ps, s.clock.Now()); n > 0 {
		s.opts.Collector.AddDrops(s.params.TopicName(), n)
	}
}

// OnPublisherRemoved 丢弃发布者状态
func (s *Subscriber) OnPublisherRemoved(id types.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.pubs[id]
	if !ok {
		return
	}
	delete(s.pubs, id)
	if ps.connected && !s.closed {
		s.connections--
		s.emit(EventRemovedConnection, ps, 0)
		s.opts.Collector.SetPublishers(s.params.TopicName(), s.connections)
	}
}

// publisher 查找或创建发布者状态，调用方持有 s.mu
func (s *Subscriber) publisher(id types.EntityID, params *types.PublisherConnectionParameters) *publisherState {
	ps, ok := s.pubs[id]
	if !ok {
		ps = &publisherState{
			counters: integrity.NewCounterCache(s.opts.CounterWindow),
			drops:    integrity.NewMessageDropCalculator(),
		}
		if params != nil {
			ps.params = *params
		} else {
			ps.params = types.NewPublisherConnectionParameters(
				types.TopicID{TopicName: s.params.TopicName(), EntityID: id}, types.DataTypeInfo{}, 0, types.LayerParameters{}, 0)
		}
		s.pubs[id] = ps
	}
	return ps
}

// collectDrops 读取丢包摘要并在有新增时发出事件，调用方持有 s.mu
func (s *Subscriber) collectDrops(ps *publisherState, now time.Time) uint64 {
	sum := ps.drops.GetSummary()
	if !sum.NewDrops || sum.TotalDrops <= ps.reportedDrops {
		return 0
	}
	delta := sum.TotalDrops - ps.reportedDrops
	ps.reportedDrops = sum.TotalDrops
	s.totalDrops += delta
	s.emitAt(EventDropped, ps, delta, now)
	return delta
}

func (s *Subscriber) emit(t EventType, ps *publisherState, drops uint64) {
	s.emitAt(t, ps, drops, s.clock.Now())
}

// emitAt 非阻塞投递事件，调用方持有 s.mu
func (s *Subscriber) emitAt(t EventType, ps *publisherState, drops uint64, now time.Time) {
	if s.events == nil || s.closed {
		return
	}
	ev := Event{
		Type:      t,
		Publisher: ps.params.TopicID(),
		Layers:    ps.params.Layers(),
		DataType:  ps.params.DataType(),
		Drops:     drops,
		Time:      now,
	}
	select {
	case s.events <- ev:
	default:
		s.eventWarn.Warn("event buffer full, event discarded", "topic", s.params.TopicName(), "event", t)
	}
}
