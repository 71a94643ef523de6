package readermgr

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	"github.com/dep2p/go-p2pbus/internal/util/logger"
	"github.com/dep2p/go-p2pbus/pkg/interfaces/transport"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

var log = logger.Logger("readermgr")

// Manager 读端管理器
type Manager struct {
	opts   Options
	layers []transport.Layer

	mu     sync.RWMutex
	topics map[string][]*subscription
	known  map[string]map[types.EntityID]types.PublisherConnectionParameters
	closed bool

	tombstones *lru.Cache[types.EntityID, struct{}]
}

// subscription 一个本地订阅
type subscription struct {
	handle SubscriptionHandle
	params types.SubscriberConnectionParameters
	sink   Sink

	mu      sync.Mutex
	removed bool
	pubs    map[types.EntityID]*publisherLink
}

// publisherLink 订阅到单个发布者的连接集合
//
// tokens 受 subscription.mu 保护；state 与 connected 由传输层回调原子更新。
type publisherLink struct {
	params    types.PublisherConnectionParameters
	tokens    map[types.LayerType]transport.ConnectionToken
	state     atomic.Int32
	connected atomic.Int32
}

func (k *publisherLink) pairState() types.PairState {
	return types.PairState(k.state.Load())
}

// New 创建管理器
func New(layers []transport.Layer, opts Options) *Manager {
	if opts.TombstoneCapacity <= 0 {
		opts.TombstoneCapacity = DefaultOptions().TombstoneCapacity
	}
	if len(opts.Priority) == 0 {
		opts.Priority = DefaultOptions().Priority
	}
	tombstones, _ := lru.New[types.EntityID, struct{}](opts.TombstoneCapacity)
	return &Manager{
		opts:       opts,
		layers:     layers,
		topics:     make(map[string][]*subscription),
		known:      make(map[string]map[types.EntityID]types.PublisherConnectionParameters),
		tombstones: tombstones,
	}
}

// ============================================================================
//                              订阅管理
// ============================================================================

// AddSubscription 记录订阅
//
// 同一主题多次调用得到相互独立的订阅。已知的匹配发布者立即参与协商。
func (m *Manager) AddSubscription(params types.SubscriberConnectionParameters, sink Sink) (SubscriptionHandle, error) {
	if err := params.Validate(); err != nil {
		return SubscriptionHandle{}, err
	}
	sub := &subscription{
		handle: SubscriptionHandle{EntityID: params.EntityID(), TopicName: params.TopicName()},
		params: params,
		sink:   sink,
		pubs:   make(map[types.EntityID]*publisherLink),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return SubscriptionHandle{}, ErrManagerClosed
	}
	m.topics[sub.handle.TopicName] = append(m.topics[sub.handle.TopicName], sub)
	known := make([]types.PublisherConnectionParameters, 0, len(m.known[sub.handle.TopicName]))
	for _, p := range m.known[sub.handle.TopicName] {
		known = append(known, p)
	}
	m.mu.Unlock()

	log.Debug("subscription added", "handle", sub.handle, "layers", params.Layers(), "known_publishers", len(known))
	for _, p := range known {
		m.applyToSubscription(sub, p)
	}
	return sub.handle, nil
}

// RemoveSubscription 移除订阅并同步释放其全部令牌
func (m *Manager) RemoveSubscription(h SubscriptionHandle) error {
	m.mu.Lock()
	sub := m.detach(h)
	m.mu.Unlock()
	if sub == nil {
		log.Error("remove of unknown subscription", "handle", h)
		return ErrUnknownSubscription
	}

	sub.mu.Lock()
	sub.removed = true
	links := sub.pubs
	sub.pubs = nil
	sub.mu.Unlock()

	var err error
	for _, k := range links {
		err = multierr.Append(err, closeLink(k))
	}
	log.Debug("subscription removed", "handle", h, "publishers", len(links))
	return err
}

// detach 从主题表摘除订阅，调用方持有 m.mu
func (m *Manager) detach(h SubscriptionHandle) *subscription {
	subs := m.topics[h.TopicName]
	for i, s := range subs {
		if s.handle.EntityID != h.EntityID {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(m.topics, h.TopicName)
		} else {
			m.topics[h.TopicName] = subs
		}
		return s
	}
	return nil
}

// ============================================================================
//                              注册驱动
// ============================================================================

// ApplyPublisherRegistration 处理发布者注册记录
//
// 未知主题的记录直接忽略；已注销的 EntityID 不会复活。
func (m *Manager) ApplyPublisherRegistration(pub types.PublisherConnectionParameters) {
	if pub.EntityID().IsZero() || pub.TopicName() == "" {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.tombstones.Contains(pub.EntityID()) {
		m.mu.Unlock()
		log.Debug("ignoring registration of unregistered publisher", "publisher", pub.EntityID(), "topic", pub.TopicName())
		return
	}
	byID, ok := m.known[pub.TopicName()]
	if !ok {
		byID = make(map[types.EntityID]types.PublisherConnectionParameters)
		m.known[pub.TopicName()] = byID
	}
	byID[pub.EntityID()] = pub
	subs := append([]*subscription(nil), m.topics[pub.TopicName()]...)
	m.mu.Unlock()

	for _, sub := range subs {
		m.applyToSubscription(sub, pub)
	}
}

// ApplyPublisherUnregistration 释放该发布者在全部订阅上的令牌并记住其 EntityID
//
// topic 为空时扫描所有主题。
func (m *Manager) ApplyPublisherUnregistration(pub types.EntityID, topic string) {
	if pub.IsZero() {
		return
	}
	m.mu.Lock()
	m.tombstones.Add(pub, struct{}{})
	m.mu.Unlock()
	m.removePublisher(pub, topic)
}

// ExpirePublisher 注册记录超时，释放连接但不记住 EntityID
//
// 同一发布者之后再次注册时重新建立连接。
func (m *Manager) ExpirePublisher(pub types.EntityID, topic string) {
	if pub.IsZero() {
		return
	}
	m.removePublisher(pub, topic)
}

func (m *Manager) removePublisher(pub types.EntityID, topic string) {

	m.mu.Lock()
	var subs []*subscription
	if topic != "" {
		delete(m.known[topic], pub)
		if len(m.known[topic]) == 0 {
			delete(m.known, topic)
		}
		subs = append(subs, m.topics[topic]...)
	} else {
		for name, byID := range m.known {
			delete(byID, pub)
			if len(byID) == 0 {
				delete(m.known, name)
			}
		}
		for _, s := range m.topics {
			subs = append(subs, s...)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		k, ok := sub.pubs[pub]
		if ok {
			delete(sub.pubs, pub)
		}
		removed := sub.removed
		sub.mu.Unlock()
		if !ok || removed {
			continue
		}
		if err := closeLink(k); err != nil {
			log.Warn("release publisher connections", "handle", sub.handle, "publisher", pub, "err", err)
		}
		sub.sink.OnPublisherRemoved(pub)
		log.Debug("publisher disconnected", "handle", sub.handle, "publisher", pub)
	}
}

// applyToSubscription 在一个订阅上协商发布者的连接
func (m *Manager) applyToSubscription(sub *subscription, pub types.PublisherConnectionParameters) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	// 注销可能在快照订阅列表之后到达，此时不再建立连接
	if sub.removed || m.tombstones.Contains(pub.EntityID()) {
		return
	}

	k, existed := sub.pubs[pub.EntityID()]
	if !existed {
		k = &publisherLink{params: pub, tokens: make(map[types.LayerType]transport.ConnectionToken)}
		k.state.Store(int32(types.StatePending))
	}
	paramsChanged := existed && !k.params.SameLayerParameters(pub)
	k.params = pub

	accepting := make(map[types.LayerType]transport.Layer, len(m.layers))
	for _, l := range m.layers {
		if l.AcceptsConnection(pub, sub.params) {
			accepting[l.Type()] = l
		}
	}

	switch m.opts.Selection {
	case SelectAll:
		for _, t := range types.AllLayers {
			if l, ok := accepting[t]; ok {
				m.ensureToken(sub, k, l, paramsChanged)
			}
		}
	default:
		var chosen types.LayerType
		for _, t := range m.opts.Priority {
			l, ok := accepting[t]
			if !ok {
				continue
			}
			if m.ensureToken(sub, k, l, paramsChanged) {
				chosen = t
				break
			}
		}
		for t := range accepting {
			if t != chosen {
				delete(accepting, t)
			}
		}
	}

	// 释放不再被接受（或未被选中）的层
	for t, tok := range k.tokens {
		if _, keep := accepting[t]; keep {
			continue
		}
		delete(k.tokens, t)
		if err := tok.Close(); err != nil {
			log.Warn("release connection", "handle", sub.handle, "publisher", pub.EntityID(), "layer", t, "err", err)
		}
	}

	if len(k.tokens) == 0 {
		if existed {
			delete(sub.pubs, pub.EntityID())
			sub.sink.OnPublisherRemoved(pub.EntityID())
			log.Debug("no mutually supported layer left", "handle", sub.handle, "publisher", pub.EntityID())
		}
		return
	}
	if !existed {
		sub.pubs[pub.EntityID()] = k
	}
	sub.sink.OnPublisherUpdate(pub)
}

// ensureToken 保证链路在该层有令牌，返回是否成功
func (m *Manager) ensureToken(sub *subscription, k *publisherLink, l transport.Layer, paramsChanged bool) bool {
	if tok, ok := k.tokens[l.Type()]; ok {
		if paramsChanged {
			if err := tok.Update(k.params); err != nil {
				log.Warn("update connection", "handle", sub.handle, "publisher", k.params.EntityID(), "layer", l.Type(), "err", err)
			}
		}
		return true
	}

	tok, err := l.AddConnection(k.params, sub.params, transport.Callbacks{
		OnData: sub.sink.OnData,
		OnConnectionChanged: func(ev types.ConnectionEvent) {
			k.onConnectionChanged(ev)
			sub.sink.OnConnectionChanged(ev)
		},
	})
	if err != nil {
		log.Warn("add connection failed", "handle", sub.handle, "publisher", k.params.EntityID(), "layer", l.Type(), "err", err)
		return false
	}
	k.tokens[l.Type()] = tok
	k.state.CompareAndSwap(int32(types.StatePending), int32(types.StateEstablishing))
	log.Debug("connection opened", "handle", sub.handle, "publisher", k.params.EntityID(), "layer", l.Type())
	return true
}

func (k *publisherLink) onConnectionChanged(ev types.ConnectionEvent) {
	if ev.Connected {
		k.connected.Add(1)
		k.state.CompareAndSwap(int32(types.StateEstablishing), int32(types.StateEstablished))
		k.state.CompareAndSwap(int32(types.StatePending), int32(types.StateEstablished))
		return
	}
	if k.connected.Add(-1) <= 0 {
		k.state.CompareAndSwap(int32(types.StateEstablished), int32(types.StateEstablishing))
	}
}

// closeLink 释放链路全部令牌并标记 DISCONNECTED
func closeLink(k *publisherLink) error {
	var err error
	for t, tok := range k.tokens {
		err = multierr.Append(err, tok.Close())
		delete(k.tokens, t)
	}
	k.state.Store(int32(types.StateDisconnected))
	return err
}

// ============================================================================
//                              查询
// ============================================================================

func (m *Manager) lookup(h SubscriptionHandle) *subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.topics[h.TopicName] {
		if s.handle.EntityID == h.EntityID {
			return s
		}
	}
	return nil
}

// State 返回订阅的总体状态
//
// 没有任何发布者链路时为 PENDING；任一链路已建立时为 ESTABLISHED；否则为 ESTABLISHING。
func (m *Manager) State(h SubscriptionHandle) (types.PairState, error) {
	sub := m.lookup(h)
	if sub == nil {
		return 0, ErrUnknownSubscription
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.pubs) == 0 {
		return types.StatePending, nil
	}
	for _, k := range sub.pubs {
		if k.pairState() == types.StateEstablished {
			return types.StateEstablished, nil
		}
	}
	return types.StateEstablishing, nil
}

// PairState 返回（订阅, 发布者）配对状态
func (m *Manager) PairState(h SubscriptionHandle, pub types.EntityID) (types.PairState, error) {
	sub := m.lookup(h)
	if sub == nil {
		return 0, ErrUnknownSubscription
	}
	sub.mu.Lock()
	k, ok := sub.pubs[pub]
	sub.mu.Unlock()
	switch {
	case ok:
		return k.pairState(), nil
	case m.tombstones.Contains(pub):
		return types.StateDisconnected, nil
	default:
		return types.StatePending, nil
	}
}

// ConnectedLayers 返回订阅到某发布者当前打开的层
func (m *Manager) ConnectedLayers(h SubscriptionHandle, pub types.EntityID) (types.ActiveLayers, error) {
	sub := m.lookup(h)
	if sub == nil {
		return 0, ErrUnknownSubscription
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	var a types.ActiveLayers
	if k, ok := sub.pubs[pub]; ok {
		for t := range k.tokens {
			a = a.With(t)
		}
	}
	return a, nil
}

// Subscriptions 返回订阅总数
func (m *Manager) Subscriptions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, subs := range m.topics {
		n += len(subs)
	}
	return n
}

// Snapshots 返回全部订阅的统计快照
func (m *Manager) Snapshots() []types.SubscriberSnapshot {
	m.mu.RLock()
	sinks := make([]Sink, 0, len(m.topics))
	for _, subs := range m.topics {
		for _, s := range subs {
			sinks = append(sinks, s.sink)
		}
	}
	m.mu.RUnlock()

	out := make([]types.SubscriberSnapshot, 0, len(sinks))
	for _, s := range sinks {
		out = append(out, s.Snapshot())
	}
	return out
}

// Close 移除全部订阅，此后新的订阅与注册被拒绝
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var handles []SubscriptionHandle
	for _, subs := range m.topics {
		for _, s := range subs {
			handles = append(handles, s.handle)
		}
	}
	m.mu.Unlock()

	var err error
	for _, h := range handles {
		err = multierr.Append(err, m.RemoveSubscription(h))
	}
	return err
}
