package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttled 是限速的日志输出器
//
// 用于数据热路径上可能被外部输入放大的告警（解码失败、事件溢出等）。
// 超出速率的日志被丢弃并计数，下一条放行的日志携带 suppressed 属性。
type Throttled struct {
	log        *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottled 创建限速输出器，每 every 放行一条，允许 burst 条突发
func NewThrottled(log *slog.Logger, every time.Duration, burst int) *Throttled {
	return &Throttled{
		log:     log,
		limiter: rate.NewLimiter(rate.Every(every), burst),
	}
}

// Warn 限速输出 Warn 日志，返回是否实际输出
func (t *Throttled) Warn(msg string, args ...any) bool {
	return t.emit(slog.LevelWarn, msg, args)
}

// Debug 限速输出 Debug 日志
func (t *Throttled) Debug(msg string, args ...any) bool {
	return t.emit(slog.LevelDebug, msg, args)
}

// Suppressed 返回当前累计被丢弃的条数
func (t *Throttled) Suppressed() uint64 {
	return t.suppressed.Load()
}

func (t *Throttled) emit(level slog.Level, msg string, args []any) bool {
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return false
	}
	if n := t.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	t.log.Log(context.Background(), level, msg, args...)
	return true
}
