package udp

import (
	"context"
	"net"

	"github.com/dep2p/go-p2pbus/internal/core/transport/frame"
	"github.com/dep2p/go-p2pbus/internal/util/mcast"
)

// Sender 发布端：把帧发送到主题对应的组播地址
type Sender struct {
	cfg  Config
	conn *mcast.Conn
	buf  []byte
}

// NewSender 创建发送端，使用临时端口
func NewSender(cfg Config) (*Sender, error) {
	conn, err := mcast.Listen(context.Background(), mcast.Options{
		Interface: cfg.Interface,
		Loopback:  cfg.Loopback,
		TTL:       cfg.TTL,
	})
	if err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg, conn: conn}, nil
}

// Send 编码并发送一帧，非并发安全
func (s *Sender) Send(f *frame.Frame) error {
	b, err := frame.Append(s.buf[:0], f)
	if err != nil {
		return err
	}
	s.buf = b
	if len(b) > s.cfg.MaxDatagramSize && s.cfg.MaxDatagramSize > 0 {
		return frame.ErrTooLarge
	}
	addr := &net.UDPAddr{IP: s.cfg.GroupForTopic(f.Topic), Port: s.cfg.Port}
	_, err = s.conn.WriteTo(b, addr)
	return err
}

// Close 关闭发送端
func (s *Sender) Close() error {
	return s.conn.Close()
}
