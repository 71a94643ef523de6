// Package tcp 实现 TCP 流传输层
//
// 到同一发布者端点（host:port）的所有连接共享一个 yamux 会话，会话按引用计数关闭。
// 每个发布者一条订阅流：订阅端在流上发送订阅请求帧（序号 0），发布端回应确认帧后
// 连续推送数据帧。确认到达之前连接处于建立中状态。
//
// 流断开后按指数退避重连，重连成功再次触发 connected。
package tcp
