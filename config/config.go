// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，提供 DefaultXxxConfig 与 Validate
//   - 支持从 JSON 加载和保存配置
//   - 支持预设配置（local/network）
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Transport.EnableTCP = false
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
//
//	// 从文件加载
//	cfg, err := config.LoadFile("p2pbus.json")
package config

import (
	"errors"
	"fmt"
	"os"
)

// Config 是 p2pbus 的完整配置结构
//
// 配置按照功能模块组织：
//   - Transport: 传输层（UDP 组播 / 共享内存 / TCP）
//   - Registration: 注册广播与软状态超时
//   - Subscriber: 订阅者数据路径
//   - Recorder: 样本录制
//   - Metrics: Prometheus 指标
type Config struct {
	// HostName 本机主机名，为空时使用 os.Hostname()
	HostName string `json:"host_name,omitempty"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Registration 注册层配置
	Registration RegistrationConfig `json:"registration"`

	// Subscriber 订阅者配置
	Subscriber SubscriberConfig `json:"subscriber"`

	// Recorder 录制配置
	Recorder RecorderConfig `json:"recorder"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Transport:    DefaultTransportConfig(),
		Registration: DefaultRegistrationConfig(),
		Subscriber:   DefaultSubscriberConfig(),
		Recorder:     DefaultRecorderConfig(),
		Metrics:      DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.Registration.Validate(); err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if err := c.Subscriber.Validate(); err != nil {
		return fmt.Errorf("subscriber: %w", err)
	}
	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	return c.Metrics.Validate()
}

// ResolvedHostName 返回生效的主机名
func (c *Config) ResolvedHostName() string {
	if c.HostName != "" {
		return c.HostName
	}
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}

// ResolvedSHMDomain 返回生效的共享内存传输域，默认与主机名相同
func (c *Config) ResolvedSHMDomain() string {
	if c.Transport.SHM.Domain != "" {
		return c.Transport.SHM.Domain
	}
	return c.ResolvedHostName()
}
