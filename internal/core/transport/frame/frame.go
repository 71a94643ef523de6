// Package frame 实现样本帧编解码
//
// 帧格式（小端）：
//
//	magic    uint32  "P2PB"
//	version  uint8
//	flags    uint8
//	topicLen uint16
//	entity   uint64  发布者 EntityID
//	counter  uint64  发布者消息序号
//	sendTime int64   发送时间（Unix 纳秒）
//	length   uint32  载荷长度
//	topic    [topicLen]byte
//	payload  [length]byte
//	checksum uint64  xxhash64(以上全部字节)
//
// 三种传输层共用同一帧格式：UDP 一个数据报一帧，SHM 段内一帧，TCP 流上连续帧。
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

const (
	// Magic 帧魔数
	Magic uint32 = 0x50325042
	// Version 当前帧版本
	Version uint8 = 1

	// HeaderSize 固定头长度
	HeaderSize = 36
	// TrailerSize 校验和长度
	TrailerSize = 8
	// MaxTopicLen 主题名最大长度
	MaxTopicLen = 1<<16 - 1
)

var (
	// ErrShortBuffer 缓冲区不足一帧
	ErrShortBuffer = errors.New("frame: short buffer")
	// ErrBadMagic 魔数不匹配
	ErrBadMagic = errors.New("frame: bad magic")
	// ErrUnsupportedVersion 不支持的版本
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	// ErrChecksum 校验和不匹配
	ErrChecksum = errors.New("frame: checksum mismatch")
	// ErrTooLarge 帧超过允许的最大长度
	ErrTooLarge = errors.New("frame: frame too large")
	// ErrTopicTooLong 主题名过长
	ErrTopicTooLong = errors.New("frame: topic name too long")
)

// Frame 一帧样本
type Frame struct {
	Publisher types.EntityID
	Topic     string
	Counter   uint64
	SendTime  time.Time
	Payload   []byte
}

// Len 返回编码后的总长度
func (f *Frame) Len() int {
	return HeaderSize + len(f.Topic) + len(f.Payload) + TrailerSize
}

// Sample 转换为传输层样本
func (f *Frame) Sample(layer types.LayerType) *types.Sample {
	return &types.Sample{
		Publisher: f.Publisher,
		TopicName: f.Topic,
		Counter:   f.Counter,
		SendTime:  f.SendTime,
		Payload:   f.Payload,
		Layer:     layer,
	}
}

// Append 将帧编码追加到 dst
func Append(dst []byte, f *Frame) ([]byte, error) {
	if len(f.Topic) > MaxTopicLen {
		return dst, ErrTopicTooLong
	}
	start := len(dst)
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], Magic)
	hdr[4] = Version
	hdr[5] = 0
	binary.LittleEndian.PutUint16(hdr[6:], uint16(len(f.Topic)))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(f.Publisher))
	binary.LittleEndian.PutUint64(hdr[16:], f.Counter)
	binary.LittleEndian.PutUint64(hdr[24:], uint64(unixNano(f.SendTime)))
	binary.LittleEndian.PutUint32(hdr[32:], uint32(len(f.Payload)))

	dst = append(dst, hdr[:]...)
	dst = append(dst, f.Topic...)
	dst = append(dst, f.Payload...)
	return binary.LittleEndian.AppendUint64(dst, xxhash.Sum64(dst[start:])), nil
}

// Encode 编码为新的字节切片
func Encode(f *Frame) ([]byte, error) {
	return Append(make([]byte, 0, f.Len()), f)
}

// Decode 解码一帧，返回帧与其占用的字节数
//
// 载荷被复制，调用方可以复用 b。
func Decode(b []byte) (*Frame, int, error) {
	topicLen, payloadLen, err := parseHeader(b)
	if err != nil {
		return nil, 0, err
	}
	total := HeaderSize + topicLen + payloadLen + TrailerSize
	if len(b) < total {
		return nil, 0, ErrShortBuffer
	}
	body := b[:total-TrailerSize]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(b[total-TrailerSize:]) {
		return nil, 0, ErrChecksum
	}

	f := &Frame{
		Publisher: types.EntityID(binary.LittleEndian.Uint64(b[8:])),
		Counter:   binary.LittleEndian.Uint64(b[16:]),
		SendTime:  time.Unix(0, int64(binary.LittleEndian.Uint64(b[24:]))),
		Topic:     string(b[HeaderSize : HeaderSize+topicLen]),
		Payload:   append([]byte(nil), b[HeaderSize+topicLen:total-TrailerSize]...),
	}
	return f, total, nil
}

// ReadFrom 从流中读取一帧，maxSize 限制整帧长度
func ReadFrom(r io.Reader, maxSize int) (*Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	topicLen, payloadLen, err := parseHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	total := HeaderSize + topicLen + payloadLen + TrailerSize
	if maxSize > 0 && total > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, total, maxSize)
	}
	buf := make([]byte, total)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		return nil, err
	}
	f, _, err := Decode(buf)
	return f, err
}

// WriteTo 将一帧写入流
func WriteTo(w io.Writer, f *Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func parseHeader(b []byte) (topicLen, payloadLen int, err error) {
	if len(b) < HeaderSize {
		return 0, 0, ErrShortBuffer
	}
	if binary.LittleEndian.Uint32(b[0:]) != Magic {
		return 0, 0, ErrBadMagic
	}
	if b[4] != Version {
		return 0, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[4])
	}
	return int(binary.LittleEndian.Uint16(b[6:])), int(binary.LittleEndian.Uint32(b[32:])), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
