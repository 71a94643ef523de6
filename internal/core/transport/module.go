package transport

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/core/metrics"
	"github.com/dep2p/go-p2pbus/internal/core/transport/shm"
	"github.com/dep2p/go-p2pbus/internal/core/transport/tcp"
	"github.com/dep2p/go-p2pbus/internal/core/transport/udp"
	"github.com/dep2p/go-p2pbus/internal/util/logger"
	transportif "github.com/dep2p/go-p2pbus/pkg/interfaces/transport"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

var log = logger.Logger("transport")

// Set 传输层集合
type Set struct {
	layers []transportif.Layer

	closeOnce sync.Once
	closeErr  error
}

// NewSet 由给定实例组成集合，按 LayerType 排序
func NewSet(layers ...transportif.Layer) *Set {
	s := &Set{}
	for _, t := range types.AllLayers {
		for _, l := range layers {
			if l != nil && l.Type() == t {
				s.layers = append(s.layers, l)
				break
			}
		}
	}
	return s
}

// NewSetFromConfig 按配置创建各层
func NewSetFromConfig(cfg *config.Config, collector *metrics.Collector) (*Set, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	var layers []transportif.Layer
	if cfg.Transport.EnableUDP {
		ucfg, err := udp.ConfigFromUnified(cfg)
		if err != nil {
			return nil, err
		}
		layers = append(layers, udp.New(ucfg, collector))
	}
	if cfg.Transport.EnableSHM {
		layers = append(layers, shm.New(shm.ConfigFromUnified(cfg), collector))
	}
	if cfg.Transport.EnableTCP {
		layers = append(layers, tcp.New(tcp.ConfigFromUnified(cfg), collector))
	}
	return NewSet(layers...), nil
}

// All 返回全部层（含不可用的层）
func (s *Set) All() []transportif.Layer {
	return s.layers
}

// Get 按类型查找层
func (s *Set) Get(t types.LayerType) (transportif.Layer, bool) {
	for _, l := range s.layers {
		if l.Type() == t {
			return l, true
		}
	}
	return nil, false
}

// Usable 返回可用层的掩码
func (s *Set) Usable() types.ActiveLayers {
	var a types.ActiveLayers
	for _, l := range s.layers {
		if l.Usable() {
			a = a.With(l.Type())
		}
	}
	return a
}

// Start 并行启动各层
func (s *Set) Start(ctx context.Context) error {
	if s.Usable().IsEmpty() && len(s.layers) > 0 {
		log.Warn("no usable transport layer")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.layers {
		l := l
		g.Go(func() error { return l.Start(gctx) })
	}
	return g.Wait()
}

// Close 并行关闭各层
func (s *Set) Close() error {
	s.closeOnce.Do(func() {
		var mu sync.Mutex
		var g errgroup.Group
		for _, l := range s.layers {
			l := l
			g.Go(func() error {
				if err := l.Close(); err != nil {
					mu.Lock()
					s.closeErr = multierr.Append(s.closeErr, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	})
	return s.closeErr
}

// ============================================================================
//                              Fx 模块
// ============================================================================

// Params 传输层依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config     `optional:"true"`
	Collector  *metrics.Collector `optional:"true"`
}

// Module 返回传输层的 Fx 模块
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(func(p Params) (*Set, error) {
			return NewSetFromConfig(p.UnifiedCfg, p.Collector)
		}),
		fx.Invoke(registerLifecycle),
	)
}

// ModuleWithLayers 以调用方给定的层实例代替配置创建的层
func ModuleWithLayers(layers ...transportif.Layer) fx.Option {
	return fx.Module("transport",
		fx.Provide(func() *Set { return NewSet(layers...) }),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, s *Set) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// 工作协程的生命周期不跟随启动上下文
			return s.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
}
