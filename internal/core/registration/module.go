package registration

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/core/metrics"
	"github.com/dep2p/go-p2pbus/internal/core/readermgr"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

// OverrideName 由调用方提供 Transport 时使用的 fx 名称
const OverrideName = "registration_transport"

// TransportParams Transport 依赖参数
type TransportParams struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Override   Transport      `name:"registration_transport" optional:"true"`
}

// NewTransportFromParams 返回调用方提供的 Transport，否则按配置创建组播通道
//
// 注册层关闭且无外部通道时返回 nil。
func NewTransportFromParams(p TransportParams) (Transport, error) {
	if p.Override != nil {
		return p.Override, nil
	}
	cfg := config.DefaultRegistrationConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Registration
	}
	if !cfg.Enabled {
		return nil, nil
	}
	t, err := ListenMulticast(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Params 接收端与发送端依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config     `optional:"true"`
	Manager    *readermgr.Manager
	Transport  Transport          `optional:"true"`
	Collector  *metrics.Collector `optional:"true"`
}

// NewReceiverFromParams 创建接收端
func NewReceiverFromParams(p Params) *Receiver {
	cfg := config.DefaultRegistrationConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Registration
	}
	return NewReceiver(p.Manager, ReceiverOptions{
		Timeout:       cfg.Timeout.Duration(),
		MaxTracked:    cfg.MaxTrackedPublishers,
		MaxRecordSize: cfg.MaxRecordSize,
		Collector:     p.Collector,
	})
}

// NewProviderFromParams 创建发送端
func NewProviderFromParams(p Params) *Provider {
	cfg := config.DefaultRegistrationConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Registration
	}
	return NewProvider(p.Manager, p.Transport, ProviderOptions{
		Interval: cfg.RefreshInterval.Duration(),
		Process:  CurrentProcess(),
	})
}

// CurrentProcess 返回本进程的进程记录
func CurrentProcess() types.ProcessRecord {
	name := filepath.Base(os.Args[0])
	return types.ProcessRecord{UnitName: name, ProcessName: name}
}

// Module 是注册层的 Fx 模块
var Module = fx.Module("registration",
	fx.Provide(
		NewTransportFromParams,
		NewReceiverFromParams,
		NewProviderFromParams,
	),
	fx.Invoke(registerLifecycle),
)

type lifecycleParams struct {
	fx.In

	LC        fx.Lifecycle
	Receiver  *Receiver
	Provider  *Provider
	Transport Transport `optional:"true"`
}

func registerLifecycle(p lifecycleParams) {
	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx := context.Background()
			_ = p.Receiver.Start(ctx)
			if l, ok := p.Transport.(Listener); ok {
				go func() {
					if err := l.Serve(func(b []byte) { _ = p.Receiver.HandleBuffer(b) }); err != nil {
						log.Warn("registration listener stopped", "err", err)
					}
				}()
			}
			return p.Provider.Start(ctx)
		},
		OnStop: func(context.Context) error {
			_ = p.Provider.Close()
			var err error
			if p.Transport != nil {
				err = p.Transport.Close()
			}
			_ = p.Receiver.Close()
			return err
		},
	})
}
