package types

import "errors"

// 公共错误定义
var (
	// ErrEmptyTopicName 主题名为空
	ErrEmptyTopicName = errors.New("types: empty topic name")

	// ErrZeroEntityID 实体 ID 为零
	ErrZeroEntityID = errors.New("types: zero entity id")

	// ErrNotPublisherRecord 不是发布者注册记录
	ErrNotPublisherRecord = errors.New("types: not a publisher registration")
)
