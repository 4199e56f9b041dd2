package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/bufcache/internal/policy"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述进程级参数：监听端口、日志与后备文件根目录。
type GlobalConfig struct {
	ListenPort     int      `mapstructure:"ListenPort"`
	LogLevel       string   `mapstructure:"LogLevel"`
	LogFilePath    string   `mapstructure:"LogFilePath"`
	LogMaxSize     int      `mapstructure:"LogMaxSize"`
	LogMaxBackups  int      `mapstructure:"LogMaxBackups"`
	LogCompress    bool     `mapstructure:"LogCompress"`
	StoragePath    string   `mapstructure:"StoragePath"`
	RequestTimeout Duration `mapstructure:"RequestTimeout"`
}

// CacheConfig 对应 [Cache] 表，决定块缓存的容量与淘汰策略。
type CacheConfig struct {
	Policy policy.Policy `mapstructure:"Policy"`
	// PolicyFile 指向旧版策略文件，设置后覆盖 Policy。
	PolicyFile      string `mapstructure:"PolicyFile"`
	Entries         int    `mapstructure:"Entries"`
	ChunkSize       int    `mapstructure:"ChunkSize"`
	MaxRetries      int    `mapstructure:"MaxRetries"`
	StrictWriteBack bool   `mapstructure:"StrictWriteBack"`
}

// SizeBytes 返回缓存占用的内存总量。
func (c CacheConfig) SizeBytes() int64 {
	return int64(c.Entries) * int64(c.ChunkSize)
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:"Cache"`
}
