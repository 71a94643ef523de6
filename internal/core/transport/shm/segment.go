package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/dep2p/go-p2pbus/internal/core/transport/frame"
)

const (
	segmentMagic   uint32 = 0x4d533250
	segmentVersion uint32 = 1
	headerSize            = 64

	offCapacity = 8
	offSeq      = 16
	offLength   = 24

	// FilePrefix 段文件名前缀
	FilePrefix = "p2pbus_"
)

var (
	// ErrBadSegment 段文件格式错误
	ErrBadSegment = errors.New("shm: bad segment")
	// ErrFrameTooLarge 帧超过段容量
	ErrFrameTooLarge = errors.New("shm: frame exceeds segment capacity")
	// ErrInvalidName 段文件名非法
	ErrInvalidName = errors.New("shm: invalid segment name")
)

func seqPtr(data []byte) *uint64 {
	return (*uint64)(unsafe.Pointer(&data[offSeq]))
}

func lengthPtr(data []byte) *uint64 {
	return (*uint64)(unsafe.Pointer(&data[offLength]))
}

// segmentPath 解析段文件路径，名称不得包含目录
func segmentPath(dir, name string) (string, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(dir, name), nil
}

// ============================================================================
//                              Writer - 发布端
// ============================================================================

// Writer 发布端段写入器，非并发安全
type Writer struct {
	name string
	path string
	data []byte
	buf  []byte
}

// CreateWriter 在 dir 下创建容量为 capacity 的新段
func CreateWriter(dir string, capacity int) (*Writer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("shm: invalid capacity %d", capacity)
	}
	name := FilePrefix + uuid.NewString()
	path, err := segmentPath(dir, name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create segment: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(headerSize + capacity)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("shm: size segment: %w", err)
	}
	data, err := mapFile(f, headerSize+capacity, true)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	binary.LittleEndian.PutUint32(data[0:], segmentMagic)
	binary.LittleEndian.PutUint32(data[4:], segmentVersion)
	binary.LittleEndian.PutUint64(data[offCapacity:], uint64(capacity))
	return &Writer{name: name, path: path, data: data}, nil
}

// Name 段文件名，放入发布者注册记录
func (w *Writer) Name() string { return w.name }

// Path 段文件完整路径
func (w *Writer) Path() string { return w.path }

// Write 写入一帧，覆盖上一帧
func (w *Writer) Write(f *frame.Frame) error {
	b, err := frame.Append(w.buf[:0], f)
	if err != nil {
		return err
	}
	w.buf = b
	if len(b) > len(w.data)-headerSize {
		return ErrFrameTooLarge
	}

	seq := seqPtr(w.data)
	s := atomic.LoadUint64(seq)
	atomic.StoreUint64(seq, s+1)
	copy(w.data[headerSize:], b)
	atomic.StoreUint64(lengthPtr(w.data), uint64(len(b)))
	atomic.StoreUint64(seq, s+2)
	return nil
}

// Close 解除映射并删除段文件
func (w *Writer) Close() error {
	err := unmap(w.data)
	w.data = nil
	if rmErr := os.Remove(w.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

// ============================================================================
//                              segmentReader - 订阅端
// ============================================================================

type segmentReader struct {
	path    string
	data    []byte
	lastSeq uint64
	scratch []byte
}

func openSegment(path string) (*segmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < headerSize {
		return nil, ErrBadSegment
	}
	data, err := mapFile(f, int(st.Size()), false)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(data[0:]) != segmentMagic ||
		binary.LittleEndian.Uint32(data[4:]) != segmentVersion ||
		binary.LittleEndian.Uint64(data[offCapacity:]) > uint64(len(data)-headerSize) {
		_ = unmap(data)
		return nil, ErrBadSegment
	}
	// 打开时已存在的帧视为新数据
	return &segmentReader{path: path, data: data}, nil
}

// poll 读取自上次以来的新帧；没有新帧或读到撕裂数据时返回 nil
func (r *segmentReader) poll() (*frame.Frame, error) {
	seq := seqPtr(r.data)
	s1 := atomic.LoadUint64(seq)
	if s1 == r.lastSeq || s1&1 == 1 {
		return nil, nil
	}
	n := atomic.LoadUint64(lengthPtr(r.data))
	if n > uint64(len(r.data)-headerSize) {
		return nil, ErrBadSegment
	}
	r.scratch = append(r.scratch[:0], r.data[headerSize:headerSize+int(n)]...)
	if atomic.LoadUint64(seq) != s1 {
		return nil, nil
	}
	r.lastSeq = s1
	f, _, err := frame.Decode(r.scratch)
	return f, err
}

func (r *segmentReader) close() error {
	err := unmap(r.data)
	r.data = nil
	return err
}
