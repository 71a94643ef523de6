package registration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

// Transport 注册记录的发送通道
type Transport interface {
	Send(b []byte) error
	Close() error
}

// Listener 能够接收注册记录的 Transport
type Listener interface {
	// Serve 阻塞读取记录并交给 handler，Transport 关闭后返回
	Serve(handler func([]byte)) error
}

// SnapshotSource 提供当前全部订阅的快照
type SnapshotSource interface {
	Snapshots() []types.SubscriberSnapshot
}

// ProviderOptions 发送端选项
type ProviderOptions struct {
	// Interval 发送周期
	Interval time.Duration

	// Process 附加在每条记录上的进程信息
	Process types.ProcessRecord
}

// Provider 周期性发送订阅者注册记录
type Provider struct {
	src  SnapshotSource
	tr   Transport
	opts ProviderOptions

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	sent atomic.Uint64
}

// NewProvider 创建发送端，tr 为 nil 时不发送任何记录
func NewProvider(src SnapshotSource, tr Transport, opts ProviderOptions) *Provider {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Provider{src: src, tr: tr, opts: opts, done: make(chan struct{})}
}

// Start 启动周期发送
func (p *Provider) Start(ctx context.Context) error {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.loop(ctx)
	})
	return nil
}

func (p *Provider) loop(ctx context.Context) {
	defer close(p.done)
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.SendNow(); err != nil {
				log.Debug("send subscriber registrations", "err", err)
			}
		}
	}
}

// SendNow 立即发送全部订阅者注册记录
func (p *Provider) SendNow() error {
	if p.tr == nil {
		return nil
	}
	var err error
	for _, snap := range p.src.Snapshots() {
		err = multierr.Append(err, p.send(snap.Registration()))
	}
	return err
}

// Unregister 发送订阅者注销记录
func (p *Provider) Unregister(snap types.SubscriberSnapshot) error {
	if p.tr == nil {
		return nil
	}
	reg := snap.Registration()
	reg.Cmd = types.CmdUnregSubscriber
	return p.send(reg)
}

func (p *Provider) send(reg *types.Registration) error {
	reg.Process = p.opts.Process
	if err := p.tr.Send(Marshal(reg)); err != nil {
		return err
	}
	p.sent.Add(1)
	return nil
}

// Sent 返回已发送的记录数
func (p *Provider) Sent() uint64 {
	return p.sent.Load()
}

// Close 停止周期发送
func (p *Provider) Close() error {
	p.stopOnce.Do(func() {
		p.startOnce.Do(func() { close(p.done) })
		if p.cancel != nil {
			p.cancel()
		}
		<-p.done
	})
	return nil
}
