package main

import (
	"os"
	"strings"

	"github.com/dep2p/go-p2pbus/config"
)

// ============================================================================
//                              环境变量覆盖（CLI 专用）
// ============================================================================

// 环境变量名
const (
	envHostName     = "P2PBUS_HOST_NAME"
	envRegistration = "P2PBUS_REGISTRATION"
	envSHMDir       = "P2PBUS_SHM_DIR"
	envLayers       = "P2PBUS_LAYERS"
)

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envHostName); v != "" {
		cfg.HostName = v
	}
	if v := os.Getenv(envRegistration); v != "" {
		cfg.Registration.Enabled = parseBool(v)
	}
	if v := os.Getenv(envSHMDir); v != "" {
		cfg.Transport.SHM.Directory = v
	}
	if v := os.Getenv(envLayers); v != "" {
		cfg.Subscriber.Layers = splitAndTrim(v, ",")
	}
}

// ============================================================================
//                              辅助函数
// ============================================================================

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
