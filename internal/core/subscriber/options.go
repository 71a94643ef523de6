package subscriber

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/core/metrics"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

// Options 订阅者选项
type Options struct {
	// CounterWindow 序号缓存窗口
	CounterWindow int

	// FrequencyWindow 频率计算窗口
	FrequencyWindow time.Duration

	// FrequencyResetFactor 沉默归零倍数
	FrequencyResetFactor float64

	// EventBuffer 事件通道缓冲，0 表示不产生事件
	EventBuffer int

	// Clock 时钟，测试中替换为 clock.Mock
	Clock clock.Clock

	// Collector 指标收集器，可为 nil
	Collector *metrics.Collector

	// Observers 登记前安装的样本观察者，能看到配对后的第一个样本
	Observers []ReceiveCallback

	// OnClose 订阅关闭后以最终快照回调，供注册层发出注销记录
	OnClose func(types.SubscriberSnapshot)
}

// DefaultOptions 返回默认选项
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultSubscriberConfig())
}

// OptionsFromConfig 由订阅者配置构造选项
func OptionsFromConfig(cfg config.SubscriberConfig) Options {
	return Options{
		CounterWindow:        cfg.CounterWindow,
		FrequencyWindow:      cfg.FrequencyWindow.Duration(),
		FrequencyResetFactor: cfg.FrequencyResetFactor,
		EventBuffer:          cfg.EventBuffer,
		Clock:                clock.New(),
	}
}
