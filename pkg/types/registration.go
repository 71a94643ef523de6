package types

// ============================================================================
//                              Registration - 注册记录
// ============================================================================

// TopicRecord 注册记录中的主题部分
type TopicRecord struct {
	// Name 主题名
	Name string

	// DataType 数据类型
	DataType DataTypeInfo

	// Layers 启用的传输层
	Layers ActiveLayers

	// Params 各层参数
	Params LayerParameters

	// DataClock 已发送/已接收消息计数
	DataClock uint64

	// DataFrequency 消息频率（mHz）
	DataFrequency int64

	// ConnectionsLocal 本机连接数
	ConnectionsLocal int32

	// ConnectionsExternal 外部主机连接数
	ConnectionsExternal int32

	// MessageDrops 丢包计数
	MessageDrops uint64

	// LatencyUs 平均延迟（微秒）
	LatencyUs float64
}

// ProcessRecord 注册记录中的进程部分
type ProcessRecord struct {
	// UnitName 单元名
	UnitName string

	// ProcessName 进程名
	ProcessName string
}

// Registration 周期性广播的注册记录（软状态）
type Registration struct {
	// Cmd 命令类型
	Cmd CmdType

	// Identifier 实体标识（进程记录的 TopicName 为空）
	Identifier TopicID

	// Topic 主题信息（发布者/订阅者记录）
	Topic TopicRecord

	// Process 进程信息
	Process ProcessRecord
}

// IsPublisher 是否为发布者注册/注销
func (r *Registration) IsPublisher() bool {
	return r.Cmd == CmdRegPublisher || r.Cmd == CmdUnregPublisher
}

// TopicName 主题名
func (r *Registration) TopicName() string {
	return r.Identifier.TopicName
}

// PublisherParameters 从发布者注册记录构造只读参数视图
func (r *Registration) PublisherParameters() (PublisherConnectionParameters, error) {
	if !r.IsPublisher() {
		return PublisherConnectionParameters{}, ErrNotPublisherRecord
	}
	if r.Identifier.TopicName == "" {
		return PublisherConnectionParameters{}, ErrEmptyTopicName
	}
	if r.Identifier.EntityID.IsZero() {
		return PublisherConnectionParameters{}, ErrZeroEntityID
	}
	return NewPublisherConnectionParameters(r.Identifier, r.Topic.DataType, r.Topic.Layers, r.Topic.Params, r.Topic.DataClock), nil
}
