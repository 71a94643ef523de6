// Package readermgr 实现读端管理器
//
// Manager 持有本地订阅到传输层连接的权威映射，由外部持续到达的注册/注销记录驱动：
//   - AddSubscription 记录订阅（PENDING），并立即与已知发布者匹配
//   - ApplyPublisherRegistration 按主题名精确匹配，逐层询问 AcceptsConnection，
//     按层选择策略打开连接；已有连接的层参数变化时通过令牌原地更新
//   - ApplyPublisherUnregistration 释放该发布者在所有订阅上的令牌
//   - RemoveSubscription 同步释放订阅拥有的全部令牌
//
// 每个（订阅, 发布者）配对的状态机：
//
//	PENDING → ESTABLISHING → ESTABLISHED → DISCONNECTED
//
// 锁粒度：主题表一把读写锁，每个订阅一把互斥锁；不存在跨订阅的全局锁。
// 连接令牌只由 Manager 持有，订阅者数据路径只通过 Sink 接收数据与事件。
package readermgr
