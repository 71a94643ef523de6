// Package metrics 提供订阅数据路径的速率与统计估算
//
// 包含：
//   - FrequencyCalculator：基于时间窗口的消息频率估算，O(1) 内存
//   - ResettableFrequencyCalculator：数据流沉默超过预期间隔的 resetFactor 倍后自动归零
//   - StatisticsCalculator：流式均值/方差/极值（Welford 算法）
//   - RateMeter：60 秒滑动窗口的字节速率
//   - Collector：Prometheus 指标（样本、重复、乱序、丢包、解码失败、连接数）
//
// # 快速开始
//
//	freq := metrics.NewResettableFrequencyCalculator(time.Second, 5)
//	freq.AddTick(time.Now())
//	hz := freq.Frequency(time.Now())
//
//	var lat metrics.StatisticsCalculator
//	lat.Add(125.0)
//	snap := lat.Snapshot()
//
// # 并发安全
//
// 估算器本身不是并发安全的，由调用方在连接锁内使用。
// Collector 的所有方法并发安全，且允许 nil 接收者（未启用指标时）。
package metrics
