// Package shm 实现共享内存传输层
//
// 发布者把每帧写入一个内存映射的段文件，段头使用序号锁（seqlock）：
// 写入前序号置为奇数，写完置为偶数；读端在序号变化且为偶数时复制数据，
// 复制后再次确认序号未变，否则丢弃本次读取。段只保存最新一帧。
//
// 段布局（小端）：
//
//	0   magic    uint32 "P2SM"
//	4   version  uint32
//	8   capacity uint64 数据区大小
//	16  seq      uint64
//	24  length   uint64 当前帧长度
//	64  data     [capacity]byte
//
// 只有双方处于同一共享内存传输域时才会在本层建立连接。段文件尚未出现时
// 连接处于建立中状态，读端协程每个轮询周期重试打开，打开成功后触发 connected。
package shm
