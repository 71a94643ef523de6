package p2pbus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/core/metrics"
	"github.com/dep2p/go-p2pbus/internal/core/readermgr"
	"github.com/dep2p/go-p2pbus/internal/core/recorder"
	"github.com/dep2p/go-p2pbus/internal/core/registration"
	"github.com/dep2p/go-p2pbus/internal/core/transport"
)

// ════════════════════════════════════════════════════════════════════════════
//                              Fx 应用构建
// ════════════════════════════════════════════════════════════════════════════

// buildFxApp 按选项组装 Fx 应用
//
// 模块顺序即启动顺序：指标 → 传输层 → 读端管理器 → 注册层 → 录制器。
// 停止时按相反顺序执行 OnStop。
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	modules := []fx.Option{
		fx.Supply(o.config),
		metrics.Module,
	}

	if o.registerer != nil {
		reg := o.registerer
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
	}

	if len(o.layers) > 0 {
		modules = append(modules, transport.ModuleWithLayers(o.layers...))
	} else {
		modules = append(modules, transport.Module())
	}

	if o.regTransport != nil {
		t := o.regTransport
		modules = append(modules, fx.Provide(fx.Annotated{
			Name:   registration.OverrideName,
			Target: func() registration.Transport { return t },
		}))
	}

	modules = append(modules,
		readermgr.Module,
		registration.Module,
		recorder.Module,
	)
	modules = append(modules, o.fxOptions...)
	modules = append(modules,
		fx.Invoke(injectNodeComponents(node)),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return app, nil
}

// nodeInjectParams 注入节点的组件
type nodeInjectParams struct {
	fx.In

	Config    *config.Config
	Layers    *transport.Set
	Manager   *readermgr.Manager
	Receiver  *registration.Receiver
	Provider  *registration.Provider
	Recorder  *recorder.Recorder     `optional:"true"`
	Collector *metrics.Collector     `optional:"true"`
	Transport registration.Transport `optional:"true"`
}

// injectNodeComponents 将 Fx 构造的组件注入节点
func injectNodeComponents(node *Node) interface{} {
	return func(p nodeInjectParams) {
		node.config = p.Config
		node.layers = p.Layers
		node.manager = p.Manager
		node.receiver = p.Receiver
		node.provider = p.Provider

		// 可选组件，未启用时为 nil
		node.recorder = p.Recorder
		node.collector = p.Collector
		node.regTransport = p.Transport
	}
}
