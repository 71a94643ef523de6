package config

import (
	"errors"
	"net"
	"time"
)

// TransportConfig 传输层配置
//
// 三种传输层构成封闭集合：
//   - UDP: 组播数据报，组地址由主题名哈希到固定地址段
//   - SHM: 共享内存段文件，仅限同一传输域
//   - TCP: 流式连接，经 yamux 多路复用
type TransportConfig struct {
	// UDP 配置
	EnableUDP bool      `json:"enable_udp"`
	UDP       UDPConfig `json:"udp,omitempty"`

	// SHM 配置
	EnableSHM bool      `json:"enable_shm"`
	SHM       SHMConfig `json:"shm,omitempty"`

	// TCP 配置
	EnableTCP bool      `json:"enable_tcp"`
	TCP       TCPConfig `json:"tcp,omitempty"`
}

// UDPConfig UDP 组播层配置
type UDPConfig struct {
	// GroupBase 组播地址段起始地址
	GroupBase string `json:"group_base"`

	// GroupMask 组播地址段掩码，主机位决定地址段大小
	GroupMask string `json:"group_mask"`

	// Port 数据端口
	Port int `json:"port"`

	// Interface 组播网卡名，为空时由系统选择
	Interface string `json:"interface,omitempty"`

	// TTL 组播 TTL
	TTL int `json:"ttl"`

	// Loopback 是否接收本机发送的组播
	Loopback bool `json:"loopback"`

	// ReceiveBuffer 套接字接收缓冲区（字节），0 表示系统默认
	ReceiveBuffer int `json:"receive_buffer,omitempty"`

	// MaxDatagramSize 最大数据报长度
	MaxDatagramSize int `json:"max_datagram_size"`
}

// SHMConfig 共享内存层配置
type SHMConfig struct {
	// Directory 段文件目录
	Directory string `json:"directory"`

	// Domain 共享内存传输域，为空时使用主机名
	Domain string `json:"domain,omitempty"`

	// PollInterval 读端轮询间隔
	PollInterval Duration `json:"poll_interval"`

	// SegmentSize 写端默认段大小
	SegmentSize int `json:"segment_size"`
}

// TCPConfig TCP 层配置
type TCPConfig struct {
	// DialTimeout 拨号超时
	DialTimeout Duration `json:"dial_timeout"`

	// ReconnectMin 重连最小退避
	ReconnectMin Duration `json:"reconnect_min"`

	// ReconnectMax 重连最大退避
	ReconnectMax Duration `json:"reconnect_max"`

	// MaxFrameSize 最大帧长度
	MaxFrameSize int `json:"max_frame_size"`

	// KeepAliveInterval yamux 心跳间隔
	KeepAliveInterval Duration `json:"keep_alive_interval"`
}

// DefaultTransportConfig 返回默认传输层配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		EnableUDP: true,
		UDP: UDPConfig{
			GroupBase:       "239.0.0.1",
			GroupMask:       "0.0.0.255",
			Port:            14002,
			TTL:             2,
			Loopback:        true,
			ReceiveBuffer:   1 << 20,
			MaxDatagramSize: 65507,
		},
		EnableSHM: true,
		SHM: SHMConfig{
			Directory:    "/dev/shm",
			PollInterval: Duration(time.Millisecond),
			SegmentSize:  4 << 20,
		},
		EnableTCP: true,
		TCP: TCPConfig{
			DialTimeout:       Duration(5 * time.Second),
			ReconnectMin:      Duration(100 * time.Millisecond),
			ReconnectMax:      Duration(5 * time.Second),
			MaxFrameSize:      64 << 20,
			KeepAliveInterval: Duration(30 * time.Second),
		},
	}
}

// Validate 验证传输层配置
func (c TransportConfig) Validate() error {
	if c.EnableUDP {
		if err := c.UDP.Validate(); err != nil {
			return err
		}
	}
	if c.EnableSHM {
		if err := c.SHM.Validate(); err != nil {
			return err
		}
	}
	if c.EnableTCP {
		if err := c.TCP.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate 验证 UDP 配置
func (c UDPConfig) Validate() error {
	base := net.ParseIP(c.GroupBase).To4()
	if base == nil || !base.IsMulticast() {
		return errors.New("udp group base must be an IPv4 multicast address")
	}
	if net.ParseIP(c.GroupMask).To4() == nil {
		return errors.New("udp group mask must be an IPv4 mask")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("udp port out of range")
	}
	if c.TTL < 0 || c.TTL > 255 {
		return errors.New("udp ttl out of range")
	}
	if c.MaxDatagramSize <= 0 || c.MaxDatagramSize > 65507 {
		return errors.New("udp max datagram size out of range")
	}
	return nil
}

// Validate 验证 SHM 配置
func (c SHMConfig) Validate() error {
	if c.Directory == "" {
		return errors.New("shm directory is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("shm poll interval must be positive")
	}
	if c.SegmentSize < 4096 {
		return errors.New("shm segment size must be at least 4096")
	}
	return nil
}

// Validate 验证 TCP 配置
func (c TCPConfig) Validate() error {
	if c.DialTimeout <= 0 {
		return errors.New("tcp dial timeout must be positive")
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return errors.New("tcp reconnect backoff must satisfy 0 < min <= max")
	}
	if c.MaxFrameSize <= 0 {
		return errors.New("tcp max frame size must be positive")
	}
	return nil
}
