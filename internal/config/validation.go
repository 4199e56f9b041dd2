package config

import (
	"errors"

	"github.com/sirupsen/logrus"
)

const (
	maxChunkSize = 1 << 20
	// maxCacheBytes 限制 Entries*ChunkSize 的总内存占用（16 GiB）。
	maxCacheBytes = 16 << 30
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.RequestTimeout.DurationValue() <= 0 {
		return newFieldError("Global.RequestTimeout", "必须大于 0")
	}

	cache := c.Cache
	if !cache.Policy.Valid() {
		return newFieldError(cacheField("Policy"), "仅支持 disabled|random|lru 或 0|1|2")
	}
	if cache.Entries <= 0 {
		return newFieldError(cacheField("Entries"), "必须大于 0")
	}
	if cache.ChunkSize <= 0 || cache.ChunkSize > maxChunkSize {
		return newFieldError(cacheField("ChunkSize"), "必须在 1-1048576")
	}
	if int64(cache.Entries) > maxCacheBytes/int64(cache.ChunkSize) {
		return newFieldError(cacheField("Entries"), "Entries*ChunkSize 不能超过 16 GiB")
	}
	if cache.MaxRetries < 0 {
		return newFieldError(cacheField("MaxRetries"), "不能为负数")
	}
	return nil
}
