package udp

import (
	"net"
	"sync"
)

// groupJoiner 操作系统组播组的加入/离开
type groupJoiner interface {
	Join(group net.IP) error
	Leave(group net.IP) error
}

// groupTracker 按地址引用计数的组播组跟踪器
//
// 多个主题可能映射到同一地址，只在计数 0→1 时加入、1→0 时离开。
// 使用独立的锁，不与任何订阅锁嵌套。
type groupTracker struct {
	mu     sync.Mutex
	refs   map[string]int
	joiner groupJoiner
}

func newGroupTracker(j groupJoiner) *groupTracker {
	return &groupTracker{refs: make(map[string]int), joiner: j}
}

// acquire 增加引用，首次引用时加入组播组
func (g *groupTracker) acquire(group net.IP) error {
	key := group.String()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refs[key] == 0 {
		if err := g.joiner.Join(group); err != nil {
			return err
		}
	}
	g.refs[key]++
	return nil
}

// release 减少引用，最后一个引用释放时离开组播组
func (g *groupTracker) release(group net.IP) error {
	key := group.String()

	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.refs[key]
	if !ok {
		return nil
	}
	if n > 1 {
		g.refs[key] = n - 1
		return nil
	}
	delete(g.refs, key)
	return g.joiner.Leave(group)
}

// count 返回地址当前的引用数
func (g *groupTracker) count(group net.IP) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refs[group.String()]
}
