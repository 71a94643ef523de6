package p2pbus

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-p2pbus/config"
	transportif "github.com/dep2p/go-p2pbus/pkg/interfaces/transport"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              节点选项
// ════════════════════════════════════════════════════════════════════════════

// Option 节点配置选项
type Option func(*options) error

type options struct {
	config *config.Config

	layers       []transportif.Layer
	regTransport RegistrationTransport
	registerer   prometheus.Registerer
	fxOptions    []fx.Option
}

func newOptions() *options {
	return &options{config: config.NewConfig()}
}

func (o *options) apply(opts ...Option) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return err
		}
	}
	return o.config.Validate()
}

// WithConfig 使用完整配置替换当前配置
//
// 应放在其他选项之前，后续选项在其副本上修改。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		o.config = cfg.Clone()
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithPreset 应用预设配置（local / network / tcp-only）
func WithPreset(name string) Option {
	return func(o *options) error {
		return config.ApplyPreset(o.config, name)
	}
}

// WithHostName 设置本机主机名
func WithHostName(name string) Option {
	return func(o *options) error {
		o.config.HostName = name
		return nil
	}
}

// WithEnabledLayers 只启用指定名称的传输层（udp / shm / tcp）
func WithEnabledLayers(names ...string) Option {
	return func(o *options) error {
		layers, err := config.ParseLayers(names)
		if err != nil {
			return err
		}
		o.config.Transport.EnableUDP = layers.Has(types.LayerUDP)
		o.config.Transport.EnableSHM = layers.Has(types.LayerSHM)
		o.config.Transport.EnableTCP = layers.Has(types.LayerTCP)
		return nil
	}
}

// WithTransportLayers 使用给定的层实例代替按配置创建的层
func WithTransportLayers(layers ...transportif.Layer) Option {
	return func(o *options) error {
		o.layers = append(o.layers, layers...)
		return nil
	}
}

// WithRegistration 开关注册层的组播收发
func WithRegistration(enabled bool) Option {
	return func(o *options) error {
		o.config.Registration.Enabled = enabled
		return nil
	}
}

// WithRegistrationTransport 使用给定通道收发注册记录
func WithRegistrationTransport(t RegistrationTransport) Option {
	return func(o *options) error {
		if t == nil {
			return errors.New("registration transport is nil")
		}
		o.regTransport = t
		return nil
	}
}

// WithMetrics 启用 Prometheus 指标并注册到 reg，reg 为 nil 时使用私有注册表
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.config.Metrics.Enabled = true
		o.registerer = reg
		return nil
	}
}

// WithRecorder 将指定主题的样本录制到 path，path 为空时使用内存存储
func WithRecorder(path string, topics ...string) Option {
	return func(o *options) error {
		o.config.Recorder.Enabled = true
		o.config.Recorder.Path = path
		o.config.Recorder.InMemory = path == ""
		o.config.Recorder.Topics = append([]string(nil), topics...)
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              订阅选项
// ════════════════════════════════════════════════════════════════════════════

// SubscribeOption 订阅选项
type SubscribeOption func(*subscribeOptions) error

type subscribeOptions struct {
	dataType    types.DataTypeInfo
	layers      types.ActiveLayers
	eventBuffer int
}

// WithDataType 声明订阅的数据类型
func WithDataType(dt DataTypeInfo) SubscribeOption {
	return func(o *subscribeOptions) error {
		o.dataType = dt
		return nil
	}
}

// WithSubscriberLayers 限定本订阅使用的传输层
func WithSubscriberLayers(names ...string) SubscribeOption {
	return func(o *subscribeOptions) error {
		layers, err := config.ParseLayers(names)
		if err != nil {
			return err
		}
		if layers.IsEmpty() {
			return errors.New("no subscriber layers given")
		}
		o.layers = layers
		return nil
	}
}

// WithEventBuffer 设置事件通道缓冲，0 表示不产生事件
func WithEventBuffer(n int) SubscribeOption {
	return func(o *subscribeOptions) error {
		if n < 0 {
			return errors.New("event buffer must not be negative")
		}
		o.eventBuffer = n
		return nil
	}
}
