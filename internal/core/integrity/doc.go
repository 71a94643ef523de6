// Package integrity 实现流数据完整性跟踪器
//
// 包含两个按发布者连接维护的跟踪器：
//   - CounterCache：三窗口滑动位图，检测重复与乱序投递，内存上界 O(WindowSize)
//   - MessageDropCalculator：基于序号与发布者心跳估算丢包
//
// 两者都不是并发安全的，由订阅者数据路径在其连接锁内调用。
//
// # 架构定位
//
// Tier: Core Layer Level 0（无依赖）
//
// 依赖关系：
//   - 依赖：无
//   - 被依赖：subscriber
package integrity
