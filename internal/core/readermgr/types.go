package readermgr

import (
	"fmt"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

// SubscriptionHandle 订阅句柄
type SubscriptionHandle struct {
	EntityID  types.EntityID
	TopicName string
}

// String 返回可读形式
func (h SubscriptionHandle) String() string {
	return fmt.Sprintf("%s#%s", h.TopicName, h.EntityID)
}

// Sink 订阅者数据路径需要实现的回调
//
// OnData 与 OnConnectionChanged 在传输层工作协程中调用；
// OnPublisherUpdate 与 OnPublisherRemoved 在注册记录的投递协程中调用。
// 实现不得回调 Manager 的任何方法。
type Sink interface {
	// OnData 已解帧的样本
	OnData(s *types.Sample)

	// OnConnectionChanged 单个（发布者, 层）配对的连接变化
	OnConnectionChanged(ev types.ConnectionEvent)

	// OnPublisherUpdate 收到匹配发布者的注册记录（携带心跳计数）
	OnPublisherUpdate(pub types.PublisherConnectionParameters)

	// OnPublisherRemoved 发布者注销，其连接已全部释放
	OnPublisherRemoved(pub types.EntityID)

	// Snapshot 订阅统计快照
	Snapshot() types.SubscriberSnapshot
}

// Selection 层选择策略
type Selection int

const (
	// SelectPriority 每个发布者只打开优先级最高的可接受层
	SelectPriority Selection = iota
	// SelectAll 打开全部可接受层
	SelectAll
)

// String 返回策略名
func (s Selection) String() string {
	if s == SelectAll {
		return "all"
	}
	return "priority"
}

// Options 管理器选项
type Options struct {
	// Selection 层选择策略
	Selection Selection

	// Priority 层优先级，靠前者优先
	Priority []types.LayerType

	// TombstoneCapacity 已注销发布者的记忆容量
	TombstoneCapacity int
}

// DefaultOptions 返回默认选项
func DefaultOptions() Options {
	return Options{
		Selection:         SelectPriority,
		Priority:          []types.LayerType{types.LayerSHM, types.LayerUDP, types.LayerTCP},
		TombstoneCapacity: 4096,
	}
}
