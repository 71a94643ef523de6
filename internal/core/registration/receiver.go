package registration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dep2p/go-p2pbus/internal/core/metrics"
	"github.com/dep2p/go-p2pbus/internal/util/logger"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

var log = logger.Logger("registration")

// Applier 接收发布者注册变化的一方（读端管理器）
type Applier interface {
	ApplyPublisherRegistration(pub types.PublisherConnectionParameters)
	ApplyPublisherUnregistration(pub types.EntityID, topic string)
	ExpirePublisher(pub types.EntityID, topic string)
}

// ReceiverOptions 接收端选项
type ReceiverOptions struct {
	// Timeout 发布者记录的存活时间
	Timeout time.Duration

	// MaxTracked 软状态跟踪的最大发布者数
	MaxTracked int

	// MaxRecordSize 超过该长度的缓冲直接丢弃，0 表示不限制
	MaxRecordSize int

	// Collector 指标收集器，可为 nil
	Collector *metrics.Collector
}

// tracked 软状态表中的一个发布者
type tracked struct {
	topic   string
	removed atomic.Bool
}

type expiredPublisher struct {
	id    types.EntityID
	topic string
}

// Receiver 注册记录接收端
type Receiver struct {
	apply Applier
	opts  ReceiverOptions

	live *expirable.LRU[types.EntityID, *tracked]

	mu      sync.Mutex
	pending []expiredPublisher
	notify  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	received  atomic.Uint64
	malformed atomic.Uint64
	warn      *logger.Throttled
}

// NewReceiver 创建接收端
func NewReceiver(apply Applier, opts ReceiverOptions) *Receiver {
	r := &Receiver{
		apply:  apply,
		opts:   opts,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		warn:   logger.NewThrottled(log, time.Second, 3),
	}
	r.live = expirable.NewLRU[types.EntityID, *tracked](opts.MaxTracked, r.onEvict, opts.Timeout)
	return r
}

// onEvict 在 LRU 内部锁下调用，只排队
func (r *Receiver) onEvict(id types.EntityID, t *tracked) {
	if t.removed.Load() {
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, expiredPublisher{id: id, topic: t.topic})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start 启动超时处理协程
func (r *Receiver) Start(ctx context.Context) error {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		go r.expireLoop(ctx)
	})
	return nil
}

func (r *Receiver) expireLoop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.notify:
		}
		r.mu.Lock()
		batch := r.pending
		r.pending = nil
		r.mu.Unlock()
		for _, e := range batch {
			log.Info("publisher registration expired", "publisher", e.id, "topic", e.topic)
			r.apply.ExpirePublisher(e.id, e.topic)
		}
	}
}

// Close 停止超时处理
func (r *Receiver) Close() error {
	r.stopOnce.Do(func() {
		// 未启动时直接标记结束
		r.startOnce.Do(func() { close(r.done) })
		if r.cancel != nil {
			r.cancel()
		}
		<-r.done
	})
	return nil
}

// HandleBuffer 解码并应用一条注册记录
func (r *Receiver) HandleBuffer(b []byte) error {
	if r.opts.MaxRecordSize > 0 && len(b) > r.opts.MaxRecordSize {
		r.dropMalformed(fmt.Errorf("%w: %d bytes exceeds limit", ErrMalformed, len(b)))
		return ErrMalformed
	}
	reg, err := Unmarshal(b)
	if err != nil {
		r.dropMalformed(err)
		return err
	}
	r.Apply(reg)
	return nil
}

func (r *Receiver) dropMalformed(err error) {
	r.malformed.Add(1)
	r.opts.Collector.ObserveDecodeFailure("registration")
	r.warn.Warn("dropping malformed registration", "err", err)
}

// Apply 应用一条已解码的注册记录
//
// 只有发布者记录影响连接；其余命令仅计数。
func (r *Receiver) Apply(reg *types.Registration) {
	r.received.Add(1)
	switch reg.Cmd {
	case types.CmdRegPublisher:
		pub, err := reg.PublisherParameters()
		if err != nil {
			r.dropMalformed(err)
			return
		}
		if prev, ok := r.live.Peek(pub.EntityID()); ok && prev.topic == pub.TopicName() {
			r.live.Add(pub.EntityID(), prev)
		} else {
			r.live.Add(pub.EntityID(), &tracked{topic: pub.TopicName()})
		}
		r.apply.ApplyPublisherRegistration(pub)
	case types.CmdUnregPublisher:
		id := reg.Identifier.EntityID
		if id.IsZero() {
			r.dropMalformed(fmt.Errorf("%w: %v", ErrMalformed, types.ErrZeroEntityID))
			return
		}
		if t, ok := r.live.Peek(id); ok {
			t.removed.Store(true)
			r.live.Remove(id)
		}
		log.Debug("publisher unregistered", "publisher", id, "topic", reg.TopicName())
		r.apply.ApplyPublisherUnregistration(id, reg.TopicName())
	default:
		log.Debug("ignoring registration", "cmd", reg.Cmd, "topic", reg.TopicName())
	}
}

// Tracked 返回软状态中的发布者数量
func (r *Receiver) Tracked() int {
	return r.live.Len()
}

// Stats 返回已处理与已丢弃的记录数
func (r *Receiver) Stats() (received, malformed uint64) {
	return r.received.Load(), r.malformed.Load()
}
