// Package transport 组装传输层实例
//
// 传输层是封闭集合 {UDP, SHM, TCP}，每种最多一个实例，由配置开关决定是否创建。
// 初始化失败的层保留在集合中但不可用，协商时被跳过。
//
// # Fx 模块集成
//
//	app := fx.New(
//	    transport.Module(),
//	    fx.Invoke(func(set *transport.Set) {
//	        for _, l := range set.All() { ... }
//	    }),
//	)
package transport
