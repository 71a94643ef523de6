package registration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/util/mcast"
)

// ErrRecordTooLarge 记录超过单个数据报的长度
var ErrRecordTooLarge = errors.New("registration: record too large")

// MulticastTransport 基于 UDP 组播的注册通道
type MulticastTransport struct {
	conn    *mcast.Conn
	group   *net.UDPAddr
	maxSize int

	closeOnce sync.Once
	closeErr  error
}

// ListenMulticast 绑定注册端口并加入注册组
func ListenMulticast(ctx context.Context, cfg config.RegistrationConfig) (*MulticastTransport, error) {
	group := net.ParseIP(cfg.Group)
	if !mcast.IsMulticast(group) {
		return nil, fmt.Errorf("registration: group %q: %w", cfg.Group, mcast.ErrNotMulticast)
	}
	conn, err := mcast.Listen(ctx, mcast.Options{
		Port:      cfg.Port,
		Interface: cfg.Interface,
		Loopback:  true,
		TTL:       2,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Join(group); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("registration: join %s: %w", group, err)
	}
	return &MulticastTransport{
		conn:    conn,
		group:   &net.UDPAddr{IP: group, Port: cfg.Port},
		maxSize: cfg.MaxRecordSize,
	}, nil
}

// Send 发送一条记录到注册组
func (t *MulticastTransport) Send(b []byte) error {
	if t.maxSize > 0 && len(b) > t.maxSize {
		return ErrRecordTooLarge
	}
	_, err := t.conn.WriteTo(b, t.group)
	return err
}

// Serve 读取注册数据报直到关闭
//
// handler 返回后缓冲区即被复用。
func (t *MulticastTransport) Serve(handler func([]byte)) error {
	buf := make([]byte, 64<<10)
	for {
		n, _, err := t.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		handler(buf[:n])
	}
}

// LocalAddr 返回绑定地址
func (t *MulticastTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close 离开注册组并关闭套接字
func (t *MulticastTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.conn.Leave(t.group.IP)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
