package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

// 层选择策略
const (
	// LayerSelectionPriority 每个发布者只打开优先级最高的可用层
	LayerSelectionPriority = "priority"
	// LayerSelectionAll 打开所有可用层，跨层重复由序号缓存剔除
	LayerSelectionAll = "all"
)

// SubscriberConfig 订阅者数据路径配置
type SubscriberConfig struct {
	// Layers 订阅者默认启用的传输层
	Layers []string `json:"layers"`

	// LayerSelection 层选择策略（priority / all）
	LayerSelection string `json:"layer_selection"`

	// LayerPriority 层优先级，靠前者优先
	LayerPriority []string `json:"layer_priority"`

	// CounterWindow 重复检测窗口大小
	CounterWindow int `json:"counter_window"`

	// FrequencyWindow 频率计算窗口
	FrequencyWindow Duration `json:"frequency_window"`

	// FrequencyResetFactor 沉默超过预期间隔的倍数后频率归零
	FrequencyResetFactor float64 `json:"frequency_reset_factor"`

	// EventBuffer 连接事件通道缓冲
	EventBuffer int `json:"event_buffer"`
}

// DefaultSubscriberConfig 返回默认订阅者配置
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		Layers:               []string{"udp", "shm", "tcp"},
		LayerSelection:       LayerSelectionPriority,
		LayerPriority:        []string{"shm", "udp", "tcp"},
		CounterWindow:        1024,
		FrequencyWindow:      Duration(time.Second),
		FrequencyResetFactor: 5,
		EventBuffer:          64,
	}
}

// Validate 验证订阅者配置
func (c SubscriberConfig) Validate() error {
	if _, err := ParseLayers(c.Layers); err != nil {
		return err
	}
	if _, err := ParseLayerOrder(c.LayerPriority); err != nil {
		return err
	}
	switch c.LayerSelection {
	case LayerSelectionPriority, LayerSelectionAll:
	default:
		return fmt.Errorf("unknown layer selection %q", c.LayerSelection)
	}
	if c.CounterWindow <= 0 {
		return errors.New("counter window must be positive")
	}
	if c.FrequencyWindow <= 0 || c.FrequencyResetFactor <= 0 {
		return errors.New("frequency window and reset factor must be positive")
	}
	if c.EventBuffer < 0 {
		return errors.New("event buffer must not be negative")
	}
	return nil
}

// ActiveLayers 返回订阅者默认启用层的位掩码
func (c SubscriberConfig) ActiveLayers() types.ActiveLayers {
	layers, _ := ParseLayers(c.Layers)
	return layers
}

// Priority 返回层优先级顺序
func (c SubscriberConfig) Priority() []types.LayerType {
	order, err := ParseLayerOrder(c.LayerPriority)
	if err != nil || len(order) == 0 {
		return []types.LayerType{types.LayerSHM, types.LayerUDP, types.LayerTCP}
	}
	return order
}

// ParseLayers 解析层名称列表为位掩码
func ParseLayers(names []string) (types.ActiveLayers, error) {
	var a types.ActiveLayers
	for _, n := range names {
		l, ok := types.ParseLayerType(n)
		if !ok {
			return 0, fmt.Errorf("unknown layer %q", n)
		}
		a = a.With(l)
	}
	return a, nil
}

// ParseLayerOrder 解析层优先级列表，未列出的层按枚举顺序追加
func ParseLayerOrder(names []string) ([]types.LayerType, error) {
	var seen types.ActiveLayers
	order := make([]types.LayerType, 0, len(types.AllLayers))
	for _, n := range names {
		l, ok := types.ParseLayerType(n)
		if !ok {
			return nil, fmt.Errorf("unknown layer %q", n)
		}
		if seen.Has(l) {
			return nil, fmt.Errorf("duplicate layer %q in priority", n)
		}
		seen = seen.With(l)
		order = append(order, l)
	}
	for _, l := range types.AllLayers {
		if !seen.Has(l) {
			order = append(order, l)
		}
	}
	return order, nil
}
