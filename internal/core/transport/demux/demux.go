// Package demux 按发布者 EntityID 分发传输层收到的样本
//
// 同一进程可能为不同主题运行多个发布者，组播地址也可能被多个主题共享，
// 因此接收路径以发布者 EntityID 而不是主题名作为分发键。
package demux

import (
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-p2pbus/pkg/interfaces/transport"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

// Registry 发布者 → 回调集合
//
// 外层锁只保护发布者表；每个发布者有独立的读写锁，分发时持读锁调用回调，
// Remove 持写锁摘除回调，因此 Remove 返回后该回调不会再被调用。
// 回调内部不得移除自身所在的连接。
type Registry struct {
	mu     sync.RWMutex
	pubs   map[types.EntityID]*entry
	nextID atomic.Uint64
}

type entry struct {
	mu   sync.RWMutex
	subs map[uint64]transport.Callbacks
}

// New 创建分发表
func New() *Registry {
	return &Registry{pubs: make(map[types.EntityID]*entry)}
}

// Add 登记回调，返回用于 Remove 的 ID；first 表示该发布者此前没有任何回调
func (r *Registry) Add(pub types.EntityID, cb transport.Callbacks) (id uint64, first bool) {
	id = r.nextID.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pubs[pub]
	if !ok {
		e = &entry{subs: make(map[uint64]transport.Callbacks)}
		r.pubs[pub] = e
	}
	e.mu.Lock()
	e.subs[id] = cb
	e.mu.Unlock()
	return id, !ok
}

// Remove 摘除回调
//
// 返回被摘除的回调；last 表示该发布者已没有回调。
func (r *Registry) Remove(pub types.EntityID, id uint64) (cb transport.Callbacks, ok bool, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.pubs[pub]
	if !found {
		return transport.Callbacks{}, false, false
	}
	e.mu.Lock()
	cb, ok = e.subs[id]
	delete(e.subs, id)
	last = len(e.subs) == 0
	e.mu.Unlock()
	if last {
		delete(r.pubs, pub)
	}
	return cb, ok, last
}

// Dispatch 将样本交给该发布者的所有回调，返回是否有接收者
func (r *Registry) Dispatch(s *types.Sample) bool {
	r.mu.RLock()
	e, ok := r.pubs[s.Publisher]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, cb := range e.subs {
		if cb.OnData != nil {
			cb.OnData(s)
		}
	}
	return len(e.subs) > 0
}

// Has 该发布者是否有回调
func (r *Registry) Has(pub types.EntityID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pubs[pub]
	return ok
}

// Publishers 返回当前有回调的发布者数
func (r *Registry) Publishers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pubs)
}

// Drain 摘除全部回调并返回，用于层关闭时逐个通知断开
func (r *Registry) Drain() []transport.Callbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []transport.Callbacks
	for pub, e := range r.pubs {
		e.mu.Lock()
		for _, cb := range e.subs {
			out = append(out, cb)
		}
		e.subs = nil
		e.mu.Unlock()
		delete(r.pubs, pub)
	}
	return out
}
