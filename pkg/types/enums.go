package types

import "strings"

// ============================================================================
//                              LayerType - 传输层类型
// ============================================================================

// LayerType 传输层类型（封闭集合）
type LayerType uint8

const (
	// LayerNone 无
	LayerNone LayerType = iota
	// LayerUDP UDP 组播/广播数据报
	LayerUDP
	// LayerSHM 共享内存
	LayerSHM
	// LayerTCP TCP 流
	LayerTCP
)

// AllLayers 全部传输层，按枚举顺序
var AllLayers = []LayerType{LayerUDP, LayerSHM, LayerTCP}

// String 返回传输层名称
func (l LayerType) String() string {
	switch l {
	case LayerUDP:
		return "udp"
	case LayerSHM:
		return "shm"
	case LayerTCP:
		return "tcp"
	default:
		return "none"
	}
}

// ParseLayerType 解析传输层名称
func ParseLayerType(s string) (LayerType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "udp":
		return LayerUDP, true
	case "shm":
		return LayerSHM, true
	case "tcp":
		return LayerTCP, true
	default:
		return LayerNone, false
	}
}

// bit 返回该层在位掩码中的位
func (l LayerType) bit() ActiveLayers {
	if l == LayerNone {
		return 0
	}
	return 1 << (l - 1)
}

// ============================================================================
//                              ActiveLayers - 启用层位掩码
// ============================================================================

// ActiveLayers 启用传输层的位掩码
//
// 同时出现在发布者注册与订阅者配置中，取交集（不是并集）决定可用层。
type ActiveLayers uint8

// NewActiveLayers 从层列表构造位掩码
func NewActiveLayers(layers ...LayerType) ActiveLayers {
	var a ActiveLayers
	for _, l := range layers {
		a |= l.bit()
	}
	return a
}

// Has 检查是否包含指定层
func (a ActiveLayers) Has(l LayerType) bool {
	return l != LayerNone && a&l.bit() != 0
}

// With 返回加入指定层后的位掩码
func (a ActiveLayers) With(l LayerType) ActiveLayers {
	return a | l.bit()
}

// Without 返回移除指定层后的位掩码
func (a ActiveLayers) Without(l LayerType) ActiveLayers {
	return a &^ l.bit()
}

// Intersect 返回交集
func (a ActiveLayers) Intersect(b ActiveLayers) ActiveLayers {
	return a & b
}

// IsEmpty 检查是否为空
func (a ActiveLayers) IsEmpty() bool {
	return a&NewActiveLayers(AllLayers...) == 0
}

// Layers 返回包含的层列表
func (a ActiveLayers) Layers() []LayerType {
	out := make([]LayerType, 0, len(AllLayers))
	for _, l := range AllLayers {
		if a.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

// String 返回形如 "udp|shm" 的表示
func (a ActiveLayers) String() string {
	layers := a.Layers()
	if len(layers) == 0 {
		return "none"
	}
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.String()
	}
	return strings.Join(names, "|")
}

// ============================================================================
//                              CmdType - 注册命令
// ============================================================================

// CmdType 注册记录的命令类型
//
// {register, unregister} × {process, publisher, subscriber, server, client}
type CmdType uint8

const (
	// CmdNone 无效命令
	CmdNone CmdType = iota
	// CmdRegProcess 注册进程
	CmdRegProcess
	// CmdUnregProcess 注销进程
	CmdUnregProcess
	// CmdRegPublisher 注册发布者
	CmdRegPublisher
	// CmdUnregPublisher 注销发布者
	CmdUnregPublisher
	// CmdRegSubscriber 注册订阅者
	CmdRegSubscriber
	// CmdUnregSubscriber 注销订阅者
	CmdUnregSubscriber
	// CmdRegServer 注册服务端
	CmdRegServer
	// CmdUnregServer 注销服务端
	CmdUnregServer
	// CmdRegClient 注册客户端
	CmdRegClient
	// CmdUnregClient 注销客户端
	CmdUnregClient

	cmdMax
)

// IsValid 检查命令是否在已知范围内
func (c CmdType) IsValid() bool {
	return c > CmdNone && c < cmdMax
}

// IsRegister 是否为注册命令（否则为注销）
func (c CmdType) IsRegister() bool {
	return c.IsValid() && c%2 == 1
}

// String 返回命令名称
func (c CmdType) String() string {
	switch c {
	case CmdRegProcess:
		return "reg_process"
	case CmdUnregProcess:
		return "unreg_process"
	case CmdRegPublisher:
		return "reg_publisher"
	case CmdUnregPublisher:
		return "unreg_publisher"
	case CmdRegSubscriber:
		return "reg_subscriber"
	case CmdUnregSubscriber:
		return "unreg_subscriber"
	case CmdRegServer:
		return "reg_server"
	case CmdUnregServer:
		return "unreg_server"
	case CmdRegClient:
		return "reg_client"
	case CmdUnregClient:
		return "unreg_client"
	default:
		return "none"
	}
}

// ============================================================================
//                              PairState - 订阅/发布者配对状态
// ============================================================================

// PairState （订阅, 发布者）配对的连接状态
//
// PENDING → ESTABLISHING → ESTABLISHED → DISCONNECTED
type PairState uint8

const (
	// StatePending 已订阅，尚未看到匹配的注册
	StatePending PairState = iota
	// StateEstablishing 已创建连接令牌，等待传输层确认
	StateEstablishing
	// StateEstablished 传输层已连接
	StateEstablished
	// StateDisconnected 该配对已终止
	StateDisconnected
)

// String 返回状态名称
func (s PairState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateEstablishing:
		return "ESTABLISHING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}
