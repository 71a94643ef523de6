package tcp

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
)

// yamuxConfig 返回 yamux 配置
func yamuxConfig(keepAlive time.Duration) *yamux.Config {
	cfg := &yamux.Config{
		AcceptBacklog:          256,
		EnableKeepAlive:        keepAlive > 0,
		KeepAliveInterval:      keepAlive,
		ConnectionWriteTimeout: 10 * time.Second,
		MaxStreamWindowSize:    256 * 1024,
		StreamOpenTimeout:      75 * time.Second,
		StreamCloseTimeout:     5 * time.Minute,
		LogOutput:              io.Discard,
	}
	if !cfg.EnableKeepAlive {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	return cfg
}

type dialFunc func(ctx context.Context, addr string) (net.Conn, error)

// sessionPool 按端点共享的客户端 yamux 会话
type sessionPool struct {
	dial dialFunc
	ycfg *yamux.Config

	mu       sync.Mutex
	sessions map[string]*sessionRef
}

type sessionRef struct {
	addr string
	sess *yamux.Session
	refs int
}

func newSessionPool(dial dialFunc, ycfg *yamux.Config) *sessionPool {
	return &sessionPool{dial: dial, ycfg: ycfg, sessions: make(map[string]*sessionRef)}
}

// acquire 获取端点会话，没有可用会话时拨号
func (p *sessionPool) acquire(ctx context.Context, addr string) (*sessionRef, error) {
	p.mu.Lock()
	if ref, ok := p.sessions[addr]; ok && !ref.sess.IsClosed() {
		ref.refs++
		p.mu.Unlock()
		return ref, nil
	}
	p.mu.Unlock()

	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	sess, err := yamux.Client(conn, p.ycfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ref, ok := p.sessions[addr]; ok && !ref.sess.IsClosed() {
		// 并发拨号，使用先建立的会话
		_ = sess.Close()
		ref.refs++
		return ref, nil
	}
	ref := &sessionRef{addr: addr, sess: sess, refs: 1}
	p.sessions[addr] = ref
	return ref, nil
}

// release 释放引用，最后一个引用关闭会话
func (p *sessionPool) release(ref *sessionRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref.refs--
	if ref.refs > 0 {
		return
	}
	if p.sessions[ref.addr] == ref {
		delete(p.sessions, ref.addr)
	}
	_ = ref.sess.Close()
}

// size 当前会话数
func (p *sessionPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// closeAll 关闭全部会话
func (p *sessionPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, ref := range p.sessions {
		_ = ref.sess.Close()
		delete(p.sessions, addr)
	}
}
