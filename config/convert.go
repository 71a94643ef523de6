package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值，解析后执行 Validate。
//
// 示例 JSON:
//
//	{
//	  "transport": {"enable_tcp": false, "udp": {"port": 15002}},
//	  "subscriber": {"layer_selection": "all"}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从 JSON 文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return FromJSON(data)
}

// ToJSON 将配置序列化为带缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Clone 返回配置的深拷贝
func (c *Config) Clone() *Config {
	out := *c
	out.Subscriber.Layers = append([]string(nil), c.Subscriber.Layers...)
	out.Subscriber.LayerPriority = append([]string(nil), c.Subscriber.LayerPriority...)
	out.Recorder.Topics = append([]string(nil), c.Recorder.Topics...)
	return &out
}

// ApplyPreset 应用预设配置
//
// 支持的预设：
//   - "local": 仅本机通信，组播 TTL 为 0，优先共享内存
//   - "network": 跨主机通信，关闭共享内存以外的本机限制
//   - "tcp-only": 只使用 TCP 层，适用于不支持组播的网络
func ApplyPreset(cfg *Config, presetName string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	switch presetName {
	case "local":
		cfg.Transport.UDP.TTL = 0
		cfg.Transport.UDP.Loopback = true
		cfg.Transport.EnableSHM = true
		cfg.Subscriber.LayerPriority = []string{"shm", "udp", "tcp"}
	case "network":
		cfg.Transport.UDP.TTL = 8
		cfg.Subscriber.LayerPriority = []string{"shm", "udp", "tcp"}
	case "tcp-only":
		cfg.Transport.EnableUDP = false
		cfg.Transport.EnableSHM = false
		cfg.Transport.EnableTCP = true
		cfg.Subscriber.Layers = []string{"tcp"}
	case "":
	default:
		return fmt.Errorf("unknown preset: %s", presetName)
	}
	return nil
}
