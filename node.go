package p2pbus

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/core/metrics"
	"github.com/dep2p/go-p2pbus/internal/core/readermgr"
	"github.com/dep2p/go-p2pbus/internal/core/recorder"
	"github.com/dep2p/go-p2pbus/internal/core/registration"
	"github.com/dep2p/go-p2pbus/internal/core/subscriber"
	"github.com/dep2p/go-p2pbus/internal/core/transport"
	"github.com/dep2p/go-p2pbus/internal/util/logger"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

var log = logger.Logger("p2pbus")

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 10 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateRunning 运行中
	StateRunning

	// StateClosed 已关闭
	StateClosed
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node 订阅端节点
//
// 持有各传输层、读端管理器与注册层，是创建订阅者的入口。
type Node struct {
	app *fx.App

	config    *config.Config
	layers    *transport.Set
	manager   *readermgr.Manager
	receiver  *registration.Receiver
	provider  *registration.Provider
	recorder  *recorder.Recorder
	collector *metrics.Collector

	regTransport registration.Transport

	mu    sync.Mutex
	state NodeState
	subs  map[types.EntityID]*subscriber.Subscriber
}

// New 创建节点但不启动
//
// 创建后即可订阅；在 Start 之前不会收到注册记录，也不会收到数据。
func New(_ context.Context, opts ...Option) (*Node, error) {
	o := newOptions()
	if err := o.apply(opts...); err != nil {
		return nil, fmt.Errorf("apply options: %w", err)
	}

	n := &Node{
		subs: make(map[types.EntityID]*subscriber.Subscriber),
	}
	app, err := buildFxApp(o, n)
	if err != nil {
		return nil, err
	}
	n.app = app

	for _, l := range n.layers.All() {
		if !l.Usable() {
			log.Warn("传输层不可用", "layer", l.Type(), "err", l.Err())
		}
	}
	log.Debug("节点已创建", "host", n.config.ResolvedHostName(), "layers", n.layers.Usable())
	return n, nil
}

// Start 创建并启动节点
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	n, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		_ = n.Close()
		return nil, err
	}
	return n, nil
}

// Start 启动传输层工作协程与注册层收发
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateClosed:
		return ErrNodeClosed
	case StateRunning:
		return ErrAlreadyStarted
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := n.app.Start(startCtx); err != nil {
		log.Error("节点启动失败", "err", err)
		return fmt.Errorf("start fx app: %w", err)
	}
	n.state = StateRunning
	log.Info("节点已启动", "host", n.config.ResolvedHostName(), "layers", n.layers.Usable())
	return nil
}

// Close 关闭全部订阅者并释放资源
//
// 订阅者按各自的 Close 流程发出注销记录，之后停止 Fx 应用。节点关闭后不可再启动。
func (n *Node) Close() error {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return nil
	}
	running := n.state == StateRunning
	subs := make([]*subscriber.Subscriber, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	var err error
	for _, s := range subs {
		err = multierr.Append(err, s.Close())
	}

	n.mu.Lock()
	n.state = StateClosed
	n.mu.Unlock()

	if running {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		err = multierr.Append(err, n.app.Stop(ctx))
	} else {
		// 未启动时 OnStop 不会执行，由节点释放构造阶段打开的资源
		err = multierr.Append(err, n.manager.Close())
		err = multierr.Append(err, n.receiver.Close())
		err = multierr.Append(err, n.layers.Close())
		if n.regTransport != nil {
			err = multierr.Append(err, n.regTransport.Close())
		}
		if n.recorder != nil {
			err = multierr.Append(err, n.recorder.Close())
		}
	}
	log.Info("节点已关闭", "subscribers", len(subs))
	return err
}

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Config 返回生效配置的副本
func (n *Node) Config() *config.Config {
	return n.config.Clone()
}

// ════════════════════════════════════════════════════════════════════════════
//                              订阅
// ════════════════════════════════════════════════════════════════════════════

// Subscribe 创建主题订阅者
//
// 已知的同名发布者立即开始配对；新的发布者在其注册记录到达后配对。
func (n *Node) Subscribe(topic string, opts ...SubscribeOption) (*Subscriber, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	so := subscribeOptions{
		layers:      n.config.Subscriber.ActiveLayers(),
		eventBuffer: n.config.Subscriber.EventBuffer,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&so); err != nil {
			return nil, err
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosed {
		return nil, ErrNodeClosed
	}

	id := types.TopicID{
		TopicName: topic,
		EntityID:  types.NewEntityID(),
		ProcessID: int32(os.Getpid()),
		HostName:  n.config.ResolvedHostName(),
	}
	params := types.NewSubscriberConnectionParameters(id, so.dataType, so.layers, n.config.ResolvedSHMDomain())

	sopts := subscriber.OptionsFromConfig(n.config.Subscriber)
	sopts.EventBuffer = so.eventBuffer
	sopts.Collector = n.collector
	sopts.OnClose = n.onSubscriberClosed
	if n.recorder != nil && n.recorder.Records(topic) {
		sopts.Observers = append(sopts.Observers, n.recorder.Observe)
	}

	s, err := subscriber.New(n.manager, params, sopts)
	if err != nil {
		return nil, fmt.Errorf("subscribe %q: %w", topic, err)
	}
	n.subs[id.EntityID] = s
	log.Info("已订阅主题", "topic", topic, "id", id.EntityID, "layers", so.layers)
	return s, nil
}

// onSubscriberClosed 订阅者关闭后发出注销记录并移出节点
func (n *Node) onSubscriberClosed(snap types.SubscriberSnapshot) {
	n.mu.Lock()
	delete(n.subs, snap.TopicID.EntityID)
	n.mu.Unlock()

	if err := n.provider.Unregister(snap); err != nil {
		log.Warn("发送注销记录失败", "topic", snap.TopicID.TopicName, "err", err)
	}
}

// Subscribers 返回当前订阅者数量
func (n *Node) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// owns 检查订阅者是否由本节点创建且尚未关闭
func (n *Node) owns(s *Subscriber) bool {
	if s == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subs[s.TopicID().EntityID] == s
}

// SubscriptionState 返回订阅的整体配对状态
func (n *Node) SubscriptionState(s *Subscriber) (PairState, error) {
	if !n.owns(s) {
		return 0, ErrNotOwnSubscriber
	}
	return n.manager.State(s.Handle())
}

// PublisherState 返回订阅与指定发布者的配对状态
func (n *Node) PublisherState(s *Subscriber, pub types.EntityID) (PairState, error) {
	if !n.owns(s) {
		return 0, ErrNotOwnSubscriber
	}
	return n.manager.PairState(s.Handle(), pub)
}

// ConnectedLayers 返回订阅与指定发布者之间已连通的层
func (n *Node) ConnectedLayers(s *Subscriber, pub types.EntityID) (types.ActiveLayers, error) {
	if !n.owns(s) {
		return 0, ErrNotOwnSubscriber
	}
	return n.manager.ConnectedLayers(s.Handle(), pub)
}

// Snapshots 返回全部订阅者的统计快照
func (n *Node) Snapshots() []SubscriberSnapshot {
	return n.manager.Snapshots()
}

// ════════════════════════════════════════════════════════════════════════════
//                              注册记录
// ════════════════════════════════════════════════════════════════════════════

// ApplyRegistration 直接应用一条注册记录
//
// 用于由其他通道（如进程内发布者）获得注册记录的场景，
// 与从组播收到的记录走同一条软状态路径。
func (n *Node) ApplyRegistration(reg *Registration) {
	if reg == nil {
		return
	}
	n.receiver.Apply(reg)
}

// HandleRegistrationBuffer 解码并应用一条序列化的注册记录
func (n *Node) HandleRegistrationBuffer(b []byte) error {
	return n.receiver.HandleBuffer(b)
}

// RegistrationStats 返回已接收与解码失败的注册记录数
func (n *Node) RegistrationStats() (received, malformed uint64) {
	return n.receiver.Stats()
}

// ════════════════════════════════════════════════════════════════════════════
//                              录制回放
// ════════════════════════════════════════════════════════════════════════════

// Replay 按发布者序号顺序回放已录制的样本，fn 返回 false 时停止
//
// 回放前等待已接受样本写入完成。
func (n *Node) Replay(topic string, fn func(*Sample) bool) error {
	if n.recorder == nil {
		return ErrRecorderDisabled
	}
	if err := n.recorder.Flush(); err != nil {
		return err
	}
	return n.recorder.Replay(topic, fn)
}
