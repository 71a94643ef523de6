package readermgr

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/core/transport"
)

// OptionsFromConfig 由统一配置构造管理器选项
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	if cfg.Subscriber.LayerSelection == config.LayerSelectionAll {
		opts.Selection = SelectAll
	}
	opts.Priority = cfg.Subscriber.Priority()
	if cfg.Registration.TombstoneCapacity > 0 {
		opts.TombstoneCapacity = cfg.Registration.TombstoneCapacity
	}
	return opts
}

// Params 管理器依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Layers     *transport.Set
}

// Module 是读端管理器的 Fx 模块
var Module = fx.Module("readermgr",
	fx.Provide(func(p Params) *Manager {
		return New(p.Layers.All(), OptionsFromConfig(p.UnifiedCfg))
	}),
	fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return m.Close()
			},
		})
	}),
)
