// Package subscriber 实现面向应用的订阅数据路径
//
// Subscriber 实现 readermgr.Sink，由读端管理器驱动：
//
//   - 传输层工作协程调用 OnData，样本依次经过序号缓存（重复/乱序）、
//     丢包估算、频率与延迟统计，最后交给回调或单槽缓冲
//   - 层级连接事件按发布者聚合，发布者的层集合由空变为非空时
//     发出一次 NewConnection，回到空时发出一次 RemovedConnection
//   - Snapshot 供注册层嵌入下一次订阅者注册记录
//
// 回调在传输层工作协程中执行，不得阻塞，也不得在回调内调用 Close。
package subscriber
