// Package types 定义 p2pbus 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 p2pbus 内部包。
// 所有类型都是值类型，用于在各模块间传递数据。
//
// # 文件组织
//
// 基础类型:
//   - ids.go        - EntityID, TopicID
//   - enums.go      - LayerType, ActiveLayers, CmdType, PairState
//   - errors.go     - 公共错误定义
//
// 连接类型:
//   - params.go     - PublisherConnectionParameters, SubscriberConnectionParameters
//   - events.go     - Sample, ConnectionEvent
//
// 注册类型:
//   - registration.go - Registration 注册记录
//   - stats.go        - SubscriberSnapshot, LatencyStats
//
// 参数视图（*ConnectionParameters）构造后只读，新的注册记录整体替换旧视图，
// 不在原地修改字段。
package types
