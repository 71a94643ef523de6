package types

// LatencyStats 延迟统计（微秒）
type LatencyStats struct {
	Count    uint64
	Mean     float64
	Min      float64
	Max      float64
	Variance float64
}

// SubscriberSnapshot 订阅者统计快照
//
// 由注册层嵌入下一次发出的订阅者注册记录。
type SubscriberSnapshot struct {
	// TopicID 订阅者标识
	TopicID TopicID

	// DataType 数据类型
	DataType DataTypeInfo

	// Layers 订阅者启用的传输层
	Layers ActiveLayers

	// Frequency 接收频率（Hz）
	Frequency float64

	// Received 已投递样本数
	Received uint64

	// Bytes 已投递载荷字节数
	Bytes uint64

	// ByteRate 最近 60 秒的平均载荷速率（字节/秒）
	ByteRate float64

	// Duplicates 丢弃的重复样本数
	Duplicates uint64

	// Reordered 乱序到达样本数
	Reordered uint64

	// Drops 丢包总数（已确认 + 推测）
	Drops uint64

	// Latency 延迟统计
	Latency LatencyStats

	// ConnectionsLocal 本机发布者连接数
	ConnectionsLocal int32

	// ConnectionsExternal 外部主机发布者连接数
	ConnectionsExternal int32
}

// Registration 将快照转换为订阅者注册记录
func (s SubscriberSnapshot) Registration() *Registration {
	return &Registration{
		Cmd:        CmdRegSubscriber,
		Identifier: s.TopicID,
		Topic: TopicRecord{
			Name:                s.TopicID.TopicName,
			DataType:            s.DataType,
			Layers:              s.Layers,
			DataClock:           s.Received,
			DataFrequency:       int64(s.Frequency * 1000),
			ConnectionsLocal:    s.ConnectionsLocal,
			ConnectionsExternal: s.ConnectionsExternal,
			MessageDrops:        s.Drops,
			LatencyUs:           s.Latency.Mean,
		},
	}
}
