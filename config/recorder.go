package config

import "errors"

// RecorderConfig 样本录制配置
type RecorderConfig struct {
	// Enabled 是否启用录制
	Enabled bool `json:"enabled"`

	// Path 数据目录
	Path string `json:"path,omitempty"`

	// InMemory 仅内存模式（测试用）
	InMemory bool `json:"in_memory,omitempty"`

	// Topics 录制的主题，为空表示全部
	Topics []string `json:"topics,omitempty"`

	// QueueSize 待写入样本队列长度，队列满时丢弃新样本
	QueueSize int `json:"queue_size,omitempty"`
}

// DefaultRecorderConfig 返回默认录制配置
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		QueueSize: 1024,
	}
}

// Validate 验证录制配置
func (c RecorderConfig) Validate() error {
	if c.Enabled && !c.InMemory && c.Path == "" {
		return errors.New("recorder path is required unless in_memory is set")
	}
	if c.QueueSize < 0 {
		return errors.New("recorder queue_size must not be negative")
	}
	return nil
}

// Records 检查主题是否需要录制
func (c RecorderConfig) Records(topic string) bool {
	if len(c.Topics) == 0 {
		return true
	}
	for _, t := range c.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否启用指标收集
	Enabled bool `json:"enabled"`

	// Namespace 指标命名空间
	Namespace string `json:"namespace"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "p2pbus",
	}
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	if c.Enabled && c.Namespace == "" {
		return errors.New("metrics namespace is required")
	}
	return nil
}
