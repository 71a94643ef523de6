// Package recorder 把订阅者接受的样本持久化到 BadgerDB
//
// 键格式: s/{topic}\x00{counter:8}{publisher:8}（大端）
// 值格式: 带校验和的样本帧
//
// 同一主题的样本按发布者序号有序存放，Replay 按序号顺序回放。
package recorder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-p2pbus/config"
	"github.com/dep2p/go-p2pbus/internal/core/transport/frame"
	"github.com/dep2p/go-p2pbus/internal/util/logger"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

var log = logger.Logger("recorder")

var (
	// ErrClosed 录制器已关闭
	ErrClosed = errors.New("recorder: closed")

	// ErrInvalidTopic 主题名不能作为键
	ErrInvalidTopic = errors.New("recorder: invalid topic name")
)

const (
	samplePrefix = "s/"

	// maxBatch 单个 WriteBatch 的最大样本数
	maxBatch = 256
)

// Recorder 样本录制器
//
// Observe 只在调用方协程上编码样本并放入有界队列，写入由后台协程
// 以 WriteBatch 批量完成；队列满时样本被丢弃并计入 Dropped。
type Recorder struct {
	db  *badger.DB
	cfg config.RecorderConfig

	mu     sync.RWMutex
	closed bool

	queue  chan entry
	stop   chan struct{}
	done   chan struct{}
	commit func([]entry) error

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	warn    *logger.Throttled
}

// entry 待写入的一条记录；flushed 非空时为 Flush 标记
type entry struct {
	key     []byte
	val     []byte
	flushed chan struct{}
}

// Open 打开录制器并启动写入协程
func Open(cfg config.RecorderConfig) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithLogger(badgerLogger{})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %q: %w", cfg.Path, err)
	}
	log.Info("recorder opened", "path", cfg.Path, "in_memory", cfg.InMemory, "queue", cfg.QueueSize)
	return newRecorder(db, cfg, nil), nil
}

func newRecorder(db *badger.DB, cfg config.RecorderConfig, commit func([]entry) error) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.DefaultRecorderConfig().QueueSize
	}
	r := &Recorder{
		db:    db,
		cfg:   cfg,
		queue: make(chan entry, cfg.QueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		warn:  logger.NewThrottled(log, time.Second, 1),
	}
	r.commit = commit
	if r.commit == nil {
		r.commit = r.writeBatch
	}
	go r.run()
	return r
}

// Records 主题是否需要录制
func (r *Recorder) Records(topic string) bool {
	return r.cfg.Records(topic)
}

// Record 同步持久化一个样本
func (r *Recorder) Record(s *types.Sample) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	e, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(e.key, e.val)
	}); err != nil {
		return err
	}
	r.written.Add(1)
	return nil
}

// Observe 作为订阅者观察者使用，不阻塞调用方
//
// 样本在返回前完成编码，调用方之后可以复用其缓冲区。
func (r *Recorder) Observe(s *types.Sample) {
	if !r.cfg.Records(s.TopicName) {
		return
	}
	e, err := encode(s)
	if err != nil {
		r.warn.Warn("encode sample", "topic", s.TopicName, "counter", s.Counter, "err", err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
		r.warn.Warn("record queue full, sample dropped", "topic", s.TopicName, "counter", s.Counter)
	}
}

// Flush 等待此前 Observe 入队的样本全部写入
func (r *Recorder) Flush() error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	flushed := make(chan struct{})
	r.queue <- entry{flushed: flushed}
	r.mu.RUnlock()

	<-flushed
	return nil
}

// run 批量写入队列中的记录，停止时写完剩余记录
func (r *Recorder) run() {
	defer close(r.done)
	batch := make([]entry, 0, maxBatch)
	for {
		select {
		case e := <-r.queue:
			batch = r.drain(append(batch[:0], e), maxBatch)
			r.write(batch)
		case <-r.stop:
			for {
				batch = r.drain(batch[:0], maxBatch)
				if len(batch) == 0 {
					return
				}
				r.write(batch)
			}
		}
	}
}

func (r *Recorder) drain(batch []entry, limit int) []entry {
	for len(batch) < limit {
		select {
		case e := <-r.queue:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) write(batch []entry) {
	data := make([]entry, 0, len(batch))
	for _, e := range batch {
		if e.flushed == nil {
			data = append(data, e)
		}
	}
	if len(data) > 0 {
		if err := r.commit(data); err != nil {
			r.failed.Add(uint64(len(data)))
			r.warn.Warn("write batch", "samples", len(data), "err", err)
		} else {
			r.written.Add(uint64(len(data)))
		}
	}
	for _, e := range batch {
		if e.flushed != nil {
			close(e.flushed)
		}
	}
}

func (r *Recorder) writeBatch(entries []entry) error {
	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		if err := wb.Set(e.key, e.val); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func encode(s *types.Sample) (entry, error) {
	key, err := sampleKey(s.TopicName, s.Counter, s.Publisher)
	if err != nil {
		return entry{}, err
	}
	val, err := frame.Encode(&frame.Frame{
		Publisher: s.Publisher,
		Topic:     s.TopicName,
		Counter:   s.Counter,
		SendTime:  s.SendTime,
		Payload:   s.Payload,
	})
	if err != nil {
		return entry{}, err
	}
	return entry{key: key, val: val}, nil
}

// Replay 按序号顺序回放主题的样本，fn 返回 false 时停止
func (r *Recorder) Replay(topic string, fn func(*types.Sample) bool) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	prefix, err := topicPrefix(topic)
	if err != nil {
		return err
	}
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var f *frame.Frame
			err := it.Item().Value(func(v []byte) error {
				var derr error
				f, _, derr = frame.Decode(v)
				return derr
			})
			if err != nil {
				return fmt.Errorf("recorder: decode %x: %w", it.Item().Key(), err)
			}
			if !fn(f.Sample(types.LayerNone)) {
				return nil
			}
		}
		return nil
	})
}

// Count 返回主题已录制的样本数
func (r *Recorder) Count(topic string) (int, error) {
	n := 0
	err := r.Replay(topic, func(*types.Sample) bool {
		n++
		return true
	})
	return n, err
}

// Written 返回本次打开后写入的样本数
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// Dropped 返回因队列已满未录制的样本数
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Failed 返回写入失败的样本数
func (r *Recorder) Failed() uint64 {
	return r.failed.Load()
}

// Close 写完已入队的样本后关闭录制器
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	<-r.done
	log.Info("recorder closed", "written", r.written.Load(), "dropped", r.dropped.Load(), "failed", r.failed.Load())
	return r.db.Close()
}

func topicPrefix(topic string) ([]byte, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	for i := 0; i < len(topic); i++ {
		if topic[i] == 0 {
			return nil, ErrInvalidTopic
		}
	}
	b := make([]byte, 0, len(samplePrefix)+len(topic)+1)
	b = append(b, samplePrefix...)
	b = append(b, topic...)
	return append(b, 0), nil
}

func sampleKey(topic string, counter uint64, pub types.EntityID) ([]byte, error) {
	b, err := topicPrefix(topic)
	if err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint64(b, counter)
	return binary.BigEndian.AppendUint64(b, uint64(pub)), nil
}

// badgerLogger 把 badger 的日志转到 recorder 子系统
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Error(fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warn(fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debug(fmt.Sprintf(format, args...))
}

func (badgerLogger) Debugf(string, ...interface{}) {}
