package config

import (
	"errors"
	"net"
	"time"
)

// RegistrationConfig 注册层配置
//
// 注册记录周期性重发（软状态），错过注销的接收方通过超时收敛。
type RegistrationConfig struct {
	// Enabled 是否启用内置的 UDP 注册收发
	Enabled bool `json:"enabled"`

	// Group 注册组播地址
	Group string `json:"group"`

	// Port 注册端口
	Port int `json:"port"`

	// Interface 组播网卡名
	Interface string `json:"interface,omitempty"`

	// RefreshInterval 订阅者注册记录的发送周期
	RefreshInterval Duration `json:"refresh_interval"`

	// Timeout 发布者注册未刷新超过该时长视为注销
	Timeout Duration `json:"timeout"`

	// TombstoneCapacity 已注销实体的记忆容量
	TombstoneCapacity int `json:"tombstone_capacity"`

	// MaxRecordSize 单条注册记录最大长度
	MaxRecordSize int `json:"max_record_size"`

	// MaxTrackedPublishers 软状态跟踪的最大发布者数
	MaxTrackedPublishers int `json:"max_tracked_publishers"`
}

// DefaultRegistrationConfig 返回默认注册层配置
func DefaultRegistrationConfig() RegistrationConfig {
	return RegistrationConfig{
		Enabled:              true,
		Group:                "239.0.0.1",
		Port:                 14000,
		RefreshInterval:      Duration(time.Second),
		Timeout:              Duration(5 * time.Second),
		TombstoneCapacity:    4096,
		MaxRecordSize:        65507,
		MaxTrackedPublishers: 16384,
	}
}

// Validate 验证注册层配置
func (c RegistrationConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if ip := net.ParseIP(c.Group).To4(); ip == nil || !ip.IsMulticast() {
		return errors.New("registration group must be an IPv4 multicast address")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("registration port out of range")
	}
	if c.RefreshInterval <= 0 {
		return errors.New("registration refresh interval must be positive")
	}
	if c.Timeout < c.RefreshInterval {
		return errors.New("registration timeout must not be shorter than the refresh interval")
	}
	if c.TombstoneCapacity <= 0 || c.MaxTrackedPublishers <= 0 {
		return errors.New("registration capacities must be positive")
	}
	return nil
}
