// Package udp 实现 UDP 组播传输层
//
// 主题名经 murmur3 哈希映射到固定组播地址段内的一个组地址，
// 不同主题可能落到同一地址，因此加入/离开操作系统组播组按地址做引用计数。
//
// 每个层实例只有一个套接字和一个接收协程；收到的数据报解帧后按发布者
// EntityID 分发。UDP 层无需握手，AddConnection 返回前即触发 connected。
package udp
