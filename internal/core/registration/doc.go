// Package registration 实现软状态注册层
//
// 注册记录以 protobuf 线格式编码，周期性广播：
//
//   - Receiver 解码记录并驱动读端管理器；发布者记录在 Timeout 内未刷新时
//     合成一次超时移除（不留墓碑，发布者重新出现时可重连）
//   - Provider 周期性把订阅者快照编码为 RegSubscriber 记录交给 Transport，
//     订阅移除时发送 UnregSubscriber
//   - MulticastTransport 是基于 UDP 组播的默认 Transport
//
// 解码失败的记录被丢弃、计数并限速记录日志，不影响其他流量。
package registration
