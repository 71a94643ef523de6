// Package p2pbus 提供发布/订阅消息中间件的订阅端
//
// 发布者周期性广播注册记录（软状态），订阅端据此为每个匹配的发布者
// 在 UDP 组播、共享内存、TCP 三种传输层上建立连接，并对到达的样本做
// 去重、丢包统计、延迟与频率统计后投递给用户回调。
//
// # 快速开始
//
//	node, err := p2pbus.Start(ctx, p2pbus.WithPreset("local"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	sub, err := node.Subscribe("camera/front", p2pbus.WithEventBuffer(16))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sub.SetReceiveCallback(func(s *p2pbus.Sample) {
//	    fmt.Println(s.Counter, len(s.Payload))
//	})
//
// # 组件
//
//	┌──────────────────────────────────────────────────────────┐
//	│  Node            p2pbus.New() / p2pbus.Start()           │
//	├──────────────────────────────────────────────────────────┤
//	│  Subscriber      去重 / 丢包 / 延迟 / 频率 / 事件         │
//	├──────────────────────────────────────────────────────────┤
//	│  readermgr       订阅与发布者配对、层选择、连接令牌        │
//	│  registration    注册记录编解码、软状态超时、周期上报      │
//	├──────────────────────────────────────────────────────────┤
//	│  transport       UDP 组播 │ 共享内存 │ TCP (yamux)        │
//	└──────────────────────────────────────────────────────────┘
//
// 回调在传输层的工作协程中同步执行，不得在回调中关闭自身所属的订阅者。
package p2pbus
