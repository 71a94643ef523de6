// Package logger 提供 p2pbus 的统一日志系统
//
// 基于标准库 log/slog，支持：
//   - 按子系统配置日志级别
//   - 环境变量配置（P2PBUS_LOG_LEVEL, P2PBUS_LOG_FORMAT, P2PBUS_LOG_ADD_SOURCE）
//   - 热路径上的限速日志（Throttled）
//
// 使用示例:
//
//	var log = logger.Logger("transport.udp")
//
//	log.Info("joined group", "group", addr, "topic", topic)
//
// 环境变量配置:
//
//	# 默认 info，readermgr 为 debug
//	P2PBUS_LOG_LEVEL=readermgr=debug,info
//
//	# 使用 JSON 格式输出
//	P2PBUS_LOG_FORMAT=json
package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	loggers  sync.Map // map[string]*slog.Logger
	handlers sync.Map // map[string]*subsystemHandler

	globalOutput   io.Writer = os.Stderr
	globalOutputMu sync.RWMutex
)

// Logger 获取指定子系统的 Logger
//
// 同一子系统多次调用返回相同实例。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	h := newHandler(subsystem, cfg.LevelForSubsystem(subsystem), cfg)
	actual, loaded := loggers.LoadOrStore(subsystem, slog.New(h))
	if !loaded {
		handlers.Store(subsystem, h)
	}
	return actual.(*slog.Logger)
}

// GlobalLogger 返回不属于特定子系统的 Logger
func GlobalLogger() *slog.Logger {
	return Logger("p2pbus")
}

// SetLevel 运行时调整子系统的日志级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).SetLevel(level)
	}
}

// SetGlobalLevel 调整所有已创建子系统的日志级别
func SetGlobalLevel(level slog.Level) {
	handlers.Range(func(_, value any) bool {
		value.(*subsystemHandler).SetLevel(level)
		return true
	})
}

// SetOutput 设置全局日志输出目标
//
// 已创建的 Logger 同样会切换到新的输出。
func SetOutput(w io.Writer) {
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}

// Discard 返回丢弃所有日志的 Logger（用于测试）
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// dynamicWriter 每次写入时查找 globalOutput
type dynamicWriter struct{}

func (dynamicWriter) Write(p []byte) (int, error) {
	globalOutputMu.RLock()
	w := globalOutput
	globalOutputMu.RUnlock()
	return w.Write(p)
}
