package types

import (
	"bytes"
	"slices"
)

// ============================================================================
//                              层参数
// ============================================================================

// DataTypeInfo 数据类型描述
type DataTypeInfo struct {
	// Name 类型名称
	Name string

	// Encoding 编码方式（如 "proto"、"raw"）
	Encoding string

	// Descriptor 类型描述符
	Descriptor []byte
}

// Equal 比较两个类型描述
func (d DataTypeInfo) Equal(o DataTypeInfo) bool {
	return d.Name == o.Name && d.Encoding == o.Encoding && bytes.Equal(d.Descriptor, o.Descriptor)
}

func (d DataTypeInfo) clone() DataTypeInfo {
	d.Descriptor = bytes.Clone(d.Descriptor)
	return d
}

// SHMParameters 共享内存层参数
type SHMParameters struct {
	// Domain 共享内存传输域，只有同域的两端才能配对
	Domain string

	// MemoryFiles 发布者写入的段文件名
	MemoryFiles []string
}

// TCPParameters TCP 层参数
type TCPParameters struct {
	// Host 发布者监听地址，为空时使用注册记录的主机名
	Host string

	// Port 发布者监听端口
	Port int
}

// LayerParameters 各层参数
type LayerParameters struct {
	SHM SHMParameters
	TCP TCPParameters
}

// Equal 比较层参数
func (p LayerParameters) Equal(o LayerParameters) bool {
	return p.SHM.Domain == o.SHM.Domain &&
		slices.Equal(p.SHM.MemoryFiles, o.SHM.MemoryFiles) &&
		p.TCP == o.TCP
}

// Clone 深拷贝
func (p LayerParameters) Clone() LayerParameters {
	p.SHM.MemoryFiles = slices.Clone(p.SHM.MemoryFiles)
	return p
}

// ============================================================================
//                              PublisherConnectionParameters
// ============================================================================

// PublisherConnectionParameters 发布者一侧的只读连接参数视图
//
// 由注册记录构造，之后不再修改；新的注册记录生成新的视图整体替换旧值。
type PublisherConnectionParameters struct {
	topicID   TopicID
	dataType  DataTypeInfo
	layers    ActiveLayers
	params    LayerParameters
	dataClock uint64
}

// NewPublisherConnectionParameters 构造发布者参数视图
func NewPublisherConnectionParameters(id TopicID, dataType DataTypeInfo, layers ActiveLayers, params LayerParameters, dataClock uint64) PublisherConnectionParameters {
	return PublisherConnectionParameters{
		topicID:   id,
		dataType:  dataType.clone(),
		layers:    layers,
		params:    params.Clone(),
		dataClock: dataClock,
	}
}

// TopicID 发布者标识
func (p PublisherConnectionParameters) TopicID() TopicID { return p.topicID }

// TopicName 主题名
func (p PublisherConnectionParameters) TopicName() string { return p.topicID.TopicName }

// EntityID 发布者实体 ID
func (p PublisherConnectionParameters) EntityID() EntityID { return p.topicID.EntityID }

// DataType 数据类型描述（副本）
func (p PublisherConnectionParameters) DataType() DataTypeInfo { return p.dataType.clone() }

// Layers 发布者启用的传输层
func (p PublisherConnectionParameters) Layers() ActiveLayers { return p.layers }

// LayerParameters 各层参数（副本）
func (p PublisherConnectionParameters) LayerParameters() LayerParameters { return p.params.Clone() }

// DataClock 发布者最近发送的消息计数（心跳携带）
func (p PublisherConnectionParameters) DataClock() uint64 { return p.dataClock }

// SameLayerParameters 检查两次注册的层配置是否相同
func (p PublisherConnectionParameters) SameLayerParameters(o PublisherConnectionParameters) bool {
	return p.layers == o.layers && p.params.Equal(o.params)
}

// ============================================================================
//                              SubscriberConnectionParameters
// ============================================================================

// SubscriberConnectionParameters 订阅者一侧的只读连接参数视图
type SubscriberConnectionParameters struct {
	topicID   TopicID
	dataType  DataTypeInfo
	layers    ActiveLayers
	shmDomain string
}

// NewSubscriberConnectionParameters 构造订阅者参数视图
func NewSubscriberConnectionParameters(id TopicID, dataType DataTypeInfo, layers ActiveLayers, shmDomain string) SubscriberConnectionParameters {
	return SubscriberConnectionParameters{
		topicID:   id,
		dataType:  dataType.clone(),
		layers:    layers,
		shmDomain: shmDomain,
	}
}

// TopicID 订阅者标识
func (s SubscriberConnectionParameters) TopicID() TopicID { return s.topicID }

// TopicName 主题名
func (s SubscriberConnectionParameters) TopicName() string { return s.topicID.TopicName }

// EntityID 订阅者实体 ID
func (s SubscriberConnectionParameters) EntityID() EntityID { return s.topicID.EntityID }

// DataType 数据类型描述（副本）
func (s SubscriberConnectionParameters) DataType() DataTypeInfo { return s.dataType.clone() }

// Layers 订阅者启用的传输层
func (s SubscriberConnectionParameters) Layers() ActiveLayers { return s.layers }

// SHMDomain 共享内存传输域
func (s SubscriberConnectionParameters) SHMDomain() string { return s.shmDomain }

// Validate 校验订阅参数
func (s SubscriberConnectionParameters) Validate() error {
	if s.topicID.TopicName == "" {
		return ErrEmptyTopicName
	}
	if s.topicID.EntityID.IsZero() {
		return ErrZeroEntityID
	}
	return nil
}
