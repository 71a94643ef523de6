// Package transport 定义传输层实例接口
//
// 传输层是封闭集合 {UDP, SHM, TCP}，每种一个实例。实例负责：
//   - 判断某个（发布者, 订阅者）配对能否在本层建立连接
//   - 建立连接并返回 ConnectionToken，令牌关闭时撤销全部建立动作
//   - 在本层的工作协程中按发布者 EntityID 分发已解帧的样本
package transport

import (
	"context"
	"errors"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrUnknownToken 令牌不属于本层或已被释放
	ErrUnknownToken = errors.New("transport: unknown connection token")

	// ErrLayerUnusable 传输层初始化失败，不能建立连接
	ErrLayerUnusable = errors.New("transport: layer unusable")

	// ErrLayerClosed 传输层已关闭
	ErrLayerClosed = errors.New("transport: layer closed")

	// ErrNotAccepted 配对不满足本层的连接条件
	ErrNotAccepted = errors.New("transport: connection not accepted by layer")
)

// ============================================================================
//                              Callbacks
// ============================================================================

// Callbacks 连接回调
//
// 两个回调都在传输层的工作协程中同步调用，不得长时间阻塞。
type Callbacks struct {
	// OnData 每个解帧、校验通过的样本调用一次
	OnData func(*types.Sample)

	// OnConnectionChanged 本（发布者, 层）配对连接建立时调用一次，移除时调用一次
	OnConnectionChanged func(types.ConnectionEvent)
}

// ============================================================================
//                              Layer 接口
// ============================================================================

// Layer 传输层实例
type Layer interface {
	// Type 返回层类型
	Type() types.LayerType

	// Usable 初始化是否成功
	Usable() bool

	// Err 返回初始化失败的原因，可用时返回 nil
	Err() error

	// AcceptsConnection 纯判断，无副作用
	//
	// 双方都启用本层且满足层特有前置条件时返回 true；不可用的层总是返回 false。
	AcceptsConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters) bool

	// AddConnection 建立连接
	//
	// 返回的令牌由调用方独占，Close 后撤销本次建立的全部资源。
	AddConnection(pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters, cb Callbacks) (ConnectionToken, error)

	// Start 启动工作协程
	Start(ctx context.Context) error

	// Close 停止工作协程，返回后不会再有任何回调
	Close() error
}

// ConnectionToken 一个（发布者, 订阅者, 层）三元组的连接资源
//
// 令牌不可复制，只能转移。Close 同步摘除接收回调并在需要时离开组播组。
type ConnectionToken interface {
	// Layer 返回所属层
	Layer() types.LayerType

	// Publisher 返回发布者实体 ID
	Publisher() types.EntityID

	// Update 发布者参数变化时原地更新连接
	Update(pub types.PublisherConnectionParameters) error

	// Close 释放连接，重复调用返回 ErrUnknownToken
	Close() error
}

// BothActive 双方的层掩码是否都包含 layer
func BothActive(layer types.LayerType, pub types.PublisherConnectionParameters, sub types.SubscriberConnectionParameters) bool {
	return pub.Layers().Intersect(sub.Layers()).Has(layer)
}
