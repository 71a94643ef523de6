package types

import "time"

// ============================================================================
//                              Sample - 数据样本
// ============================================================================

// Sample 传输层解码后的一条应用载荷
//
// 传输层只负责解帧与校验和检查，重复/乱序/丢包判定由订阅者数据路径完成。
type Sample struct {
	// Publisher 发布者实体 ID
	Publisher EntityID

	// TopicName 主题名
	TopicName string

	// Counter 发布者消息序号
	Counter uint64

	// SendTime 发布者发送时间
	SendTime time.Time

	// Payload 载荷
	Payload []byte

	// Layer 接收该样本的传输层
	Layer LayerType
}

// ============================================================================
//                              ConnectionEvent - 层级连接事件
// ============================================================================

// ConnectionEvent 单个（发布者, 传输层）配对的连接变化
type ConnectionEvent struct {
	// Publisher 发布者参数
	Publisher PublisherConnectionParameters

	// Layer 传输层
	Layer LayerType

	// Connected true 表示已连接，false 表示已移除
	Connected bool
}
