package types

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// ============================================================================
//                              EntityID - 实体标识
// ============================================================================

// EntityID 进程内唯一的实体标识
//
// 标识一个发布者或订阅者实例。由单调时钟派生，进程生命周期内不会重复。
type EntityID uint64

// String 返回十进制字符串表示
func (id EntityID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// IsZero 检查是否为零值
func (id EntityID) IsZero() bool {
	return id == 0
}

var (
	// processEpoch 进程启动时的挂钟时间，作为单调时钟的基准
	processEpoch = time.Now()
	// lastEntityID 最近一次分配的实体 ID
	lastEntityID atomic.Uint64
)

// NewEntityID 分配新的实体 ID
//
// 值 = 进程启动时刻（UnixNano）+ 单调时钟经过时间。
// 并发调用时保证严格递增。
func NewEntityID() EntityID {
	candidate := uint64(processEpoch.UnixNano()) + uint64(time.Since(processEpoch))
	for {
		last := lastEntityID.Load()
		next := candidate
		if next <= last {
			next = last + 1
		}
		if lastEntityID.CompareAndSwap(last, next) {
			return EntityID(next)
		}
	}
}

// ============================================================================
//                              TopicID - 主题实体标识
// ============================================================================

// TopicID 唯一标识一个发布者/订阅者实例
//
// 创建后不可变。同名主题在进程重启后 EntityID 不同，因此 TopicID 也不同。
type TopicID struct {
	// TopicName 主题名称
	TopicName string

	// EntityID 实体 ID
	EntityID EntityID

	// ProcessID 进程 ID
	ProcessID int32

	// HostName 主机名
	HostName string
}

// String 返回可读表示
func (t TopicID) String() string {
	return fmt.Sprintf("%s@%s/%d#%s", t.TopicName, t.HostName, t.ProcessID, t.EntityID)
}

// IsLocalTo 检查是否与指定主机位于同一主机
func (t TopicID) IsLocalTo(hostName string) bool {
	return t.HostName == hostName
}
