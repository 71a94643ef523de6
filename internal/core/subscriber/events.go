package subscriber

import (
	"time"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

// EventType 订阅事件类型
type EventType int

const (
	// EventNewConnection 发布者首次连通
	EventNewConnection EventType = iota
	// EventRemovedConnection 发布者的全部连接已移除
	EventRemovedConnection
	// EventDropped 检测到新的丢包
	EventDropped
)

// String 返回事件类型名称
func (t EventType) String() string {
	switch t {
	case EventNewConnection:
		return "new_connection"
	case EventRemovedConnection:
		return "removed_connection"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event 订阅事件
type Event struct {
	// Type 事件类型
	Type EventType

	// Publisher 发布者标识
	Publisher types.TopicID

	// Layers 发布者启用的传输层
	Layers types.ActiveLayers

	// DataType 发布者数据类型
	DataType types.DataTypeInfo

	// Drops 本次新增丢包数（仅 EventDropped）
	Drops uint64

	// Time 事件时间
	Time time.Time
}
