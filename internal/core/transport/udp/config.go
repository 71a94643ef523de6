package udp

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/spaolacci/murmur3"

	"github.com/dep2p/go-p2pbus/config"
)

// Config UDP 层配置
type Config struct {
	GroupBase       net.IP
	GroupMask       net.IP
	Port            int
	Interface       string
	TTL             int
	Loopback        bool
	ReceiveBuffer   int
	MaxDatagramSize int
}

// ConfigFromUnified 从统一配置创建 UDP 层配置
func ConfigFromUnified(cfg *config.Config) (Config, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	u := cfg.Transport.UDP
	base := net.ParseIP(u.GroupBase).To4()
	mask := net.ParseIP(u.GroupMask).To4()
	if base == nil || mask == nil {
		return Config{}, fmt.Errorf("udp: invalid group base %q or mask %q", u.GroupBase, u.GroupMask)
	}
	return Config{
		GroupBase:       base,
		GroupMask:       mask,
		Port:            u.Port,
		Interface:       u.Interface,
		TTL:             u.TTL,
		Loopback:        u.Loopback,
		ReceiveBuffer:   u.ReceiveBuffer,
		MaxDatagramSize: u.MaxDatagramSize,
	}, nil
}

// GroupForTopic 返回主题对应的组播地址
//
// mask 中置位的比特由主题名哈希填充，其余比特取自 base。
// 同一主题名在所有进程中得到相同的地址。
func GroupForTopic(topic string, base, mask net.IP) net.IP {
	b := binary.BigEndian.Uint32(base.To4())
	m := binary.BigEndian.Uint32(mask.To4())
	h := murmur3.Sum32([]byte(topic))

	out := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(out, (b&^m)|(h&m))
	return out
}

// GroupForTopic 返回本层配置下主题对应的组播地址
func (c Config) GroupForTopic(topic string) net.IP {
	return GroupForTopic(topic, c.GroupBase, c.GroupMask)
}
