package tcp

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"go.uber.org/multierr"

	"github.com/dep2p/go-p2pbus/internal/core/transport/frame"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

const writeTimeout = 5 * time.Second

// Server 发布端：接受订阅流并推送帧
type Server struct {
	ln           net.Listener
	ycfg         *yamux.Config
	maxFrameSize int

	mu       sync.Mutex
	pubs     map[types.EntityID]*publication
	sessions map[*yamux.Session]struct{}
	closed   bool

	wg sync.WaitGroup
}

type publication struct {
	topic string

	mu      sync.Mutex
	streams map[net.Conn]struct{}
}

// Listen 在 addr 上监听订阅连接
func Listen(addr string, maxFrameSize int) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:           ln,
		ycfg:         yamuxConfig(30 * time.Second),
		maxFrameSize: maxFrameSize,
		pubs:         make(map[types.EntityID]*publication),
		sessions:     make(map[*yamux.Session]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr 监听地址
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Port 监听端口
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Register 声明一个发布者，此后其订阅请求会被接受
func (s *Server) Register(pub types.EntityID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pubs[pub]; !ok {
		s.pubs[pub] = &publication{topic: topic, streams: make(map[net.Conn]struct{})}
	}
}

// Unregister 撤销发布者并关闭其全部订阅流
func (s *Server) Unregister(pub types.EntityID) {
	s.mu.Lock()
	p, ok := s.pubs[pub]
	delete(s.pubs, pub)
	s.mu.Unlock()
	if ok {
		p.closeAll()
	}
}

// Subscribers 返回发布者当前的订阅流数
func (s *Server) Subscribers(pub types.EntityID) int {
	s.mu.Lock()
	p, ok := s.pubs[pub]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

// Publish 向 f.Publisher 的全部订阅流写入一帧，写失败的流被移除
func (s *Server) Publish(f *frame.Frame) error {
	s.mu.Lock()
	p, ok := s.pubs[f.Publisher]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	b, err := frame.Encode(f)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	deadline := time.Now().Add(writeTimeout)
	for st := range p.streams {
		_ = st.SetWriteDeadline(deadline)
		if _, err := st.Write(b); err != nil {
			_ = st.Close()
			delete(p.streams, st)
		}
	}
	return nil
}

// Close 停止监听并关闭全部会话
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.ln.Close()
	for sess := range s.sessions {
		err = multierr.Append(err, sess.Close())
	}
	pubs := s.pubs
	s.pubs = make(map[types.EntityID]*publication)
	s.mu.Unlock()

	for _, p := range pubs {
		p.closeAll()
	}
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		sess, err := yamux.Server(conn, s.ycfg)
		if err != nil {
			_ = conn.Close()
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = sess.Close()
			return
		}
		s.sessions[sess] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.serveSession(sess)
	}
}

func (s *Server) serveSession(sess *yamux.Session) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		_ = sess.Close()
	}()
	for {
		st, err := sess.AcceptStream()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStream(st)
		}()
	}
}

// handleStream 读取订阅请求，发布者已声明且主题一致时回应确认
func (s *Server) handleStream(st *yamux.Stream) {
	_ = st.SetReadDeadline(time.Now().Add(10 * time.Second))
	req, err := frame.ReadFrom(st, s.maxFrameSize)
	if err != nil {
		_ = st.Close()
		return
	}
	_ = st.SetReadDeadline(time.Time{})

	s.mu.Lock()
	p, ok := s.pubs[req.Publisher]
	s.mu.Unlock()
	if !ok || p.topic != req.Topic {
		log.Debug("rejecting subscription stream", "publisher", req.Publisher, "topic", req.Topic)
		_ = st.Close()
		return
	}

	p.mu.Lock()
	if err := frame.WriteTo(st, &frame.Frame{Publisher: req.Publisher, Topic: req.Topic}); err != nil {
		p.mu.Unlock()
		_ = st.Close()
		return
	}
	p.streams[st] = struct{}{}
	p.mu.Unlock()

	// 订阅端只在关闭时发送数据；读到 EOF 即移除该流
	_, _ = io.Copy(io.Discard, st)
	p.remove(st)
}

func (p *publication) remove(st net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.streams[st]; ok {
		_ = st.Close()
		delete(p.streams, st)
	}
}

func (p *publication) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for st := range p.streams {
		_ = st.Close()
		delete(p.streams, st)
	}
}
