package recorder

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-p2pbus/config"
)

// Params 录制器依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// NewFromParams 按配置打开录制器，未启用时返回 nil
func NewFromParams(lc fx.Lifecycle, p Params) (*Recorder, error) {
	if p.UnifiedCfg == nil || !p.UnifiedCfg.Recorder.Enabled {
		return nil, nil
	}
	r, err := Open(p.UnifiedCfg.Recorder)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return r.Close()
		},
	})
	return r, nil
}

// Module 是录制器的 Fx 模块
var Module = fx.Module("recorder",
	fx.Provide(NewFromParams),
)
