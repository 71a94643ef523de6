// Package mcast 提供 IPv4 组播套接字工具
//
// 同一主机上的多个进程需要绑定同一组播端口，因此监听时开启端口复用。
package mcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/ipv4"
)

// ErrNotMulticast 地址不是 IPv4 组播地址
var ErrNotMulticast = errors.New("mcast: not an IPv4 multicast address")

// Options 组播监听选项
type Options struct {
	// Port 绑定端口
	Port int
	// Interface 网卡名，为空时由系统选择
	Interface string
	// Loopback 是否接收本机发出的组播
	Loopback bool
	// TTL 发送 TTL
	TTL int
	// ReceiveBuffer 接收缓冲区字节数，0 表示系统默认
	ReceiveBuffer int
}

// Conn 是加入了若干组播组的 UDP 套接字
type Conn struct {
	udp   *net.UDPConn
	pc    *ipv4.PacketConn
	iface *net.Interface
}

// Listen 在 0.0.0.0:port 上打开可复用的 UDP 套接字
func Listen(ctx context.Context, opts Options) (*Conn, error) {
	var iface *net.Interface
	if opts.Interface != "" {
		ifi, err := net.InterfaceByName(opts.Interface)
		if err != nil {
			return nil, fmt.Errorf("mcast: interface %q: %w", opts.Interface, err)
		}
		iface = ifi
	}

	lc := net.ListenConfig{Control: reuseControl}
	pconn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("mcast: listen: %w", err)
	}
	udp := pconn.(*net.UDPConn)
	if opts.ReceiveBuffer > 0 {
		_ = udp.SetReadBuffer(opts.ReceiveBuffer)
	}

	pc := ipv4.NewPacketConn(udp)
	_ = pc.SetMulticastLoopback(opts.Loopback)
	if opts.TTL > 0 {
		_ = pc.SetMulticastTTL(opts.TTL)
	}
	if iface != nil {
		_ = pc.SetMulticastInterface(iface)
	}
	return &Conn{udp: udp, pc: pc, iface: iface}, nil
}

// Join 加入组播组
func (c *Conn) Join(group net.IP) error {
	if !IsMulticast(group) {
		return ErrNotMulticast
	}
	return c.pc.JoinGroup(c.iface, &net.UDPAddr{IP: group})
}

// Leave 离开组播组
func (c *Conn) Leave(group net.IP) error {
	if !IsMulticast(group) {
		return ErrNotMulticast
	}
	return c.pc.LeaveGroup(c.iface, &net.UDPAddr{IP: group})
}

// ReadFrom 读取一个数据报
func (c *Conn) ReadFrom(b []byte) (int, net.Addr, error) {
	return c.udp.ReadFrom(b)
}

// WriteTo 发送一个数据报
func (c *Conn) WriteTo(b []byte, addr net.Addr) (int, error) {
	return c.udp.WriteTo(b, addr)
}

// LocalAddr 返回本地地址
func (c *Conn) LocalAddr() net.Addr {
	return c.udp.LocalAddr()
}

// Close 关闭套接字
func (c *Conn) Close() error {
	return c.udp.Close()
}

// IsMulticast 判断是否为 IPv4 组播地址
func IsMulticast(ip net.IP) bool {
	v4 := ip.To4()
	return v4 != nil && v4.IsMulticast()
}
