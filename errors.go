package p2pbus

import "errors"

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 订阅相关错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrEmptyTopic 主题名为空
	ErrEmptyTopic = errors.New("topic name is empty")

	// ErrNotOwnSubscriber 订阅者不属于本节点
	ErrNotOwnSubscriber = errors.New("subscriber does not belong to this node")

	// ErrRecorderDisabled 未启用录制
	ErrRecorderDisabled = errors.New("recorder disabled")
)
