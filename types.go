package p2pbus

import (
	"github.com/dep2p/go-p2pbus/internal/core/registration"
	"github.com/dep2p/go-p2pbus/internal/core/subscriber"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// Subscriber 订阅者
	Subscriber = subscriber.Subscriber

	// ReceiveCallback 接收回调
	ReceiveCallback = subscriber.ReceiveCallback

	// Event 订阅者连接事件
	Event = subscriber.Event

	// EventType 事件类型
	EventType = subscriber.EventType

	// Sample 已解帧的样本
	Sample = types.Sample

	// DataTypeInfo 数据类型描述
	DataTypeInfo = types.DataTypeInfo

	// Registration 注册记录
	Registration = types.Registration

	// SubscriberSnapshot 订阅者统计快照
	SubscriberSnapshot = types.SubscriberSnapshot

	// PairState 配对连接状态
	PairState = types.PairState

	// RegistrationTransport 注册记录的收发通道
	//
	// 同时实现 Serve(func([]byte)) error 的通道会被用来接收记录。
	RegistrationTransport = registration.Transport
)

// 事件类型
const (
	EventNewConnection     = subscriber.EventNewConnection
	EventRemovedConnection = subscriber.EventRemovedConnection
	EventDropped           = subscriber.EventDropped
)
