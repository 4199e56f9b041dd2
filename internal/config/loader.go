package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/bufcache/internal/chunk"
	"github.com/any-hub/bufcache/internal/policy"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), policyDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	if err := applyPolicyFile(&cfg.Cache, filepath.Dir(path)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("RequestTimeout", "30s")

	v.SetDefault("Cache.Policy", "lru")
	v.SetDefault("Cache.PolicyFile", "")
	v.SetDefault("Cache.Entries", 1280)
	v.SetDefault("Cache.ChunkSize", chunk.DefaultSize)
	v.SetDefault("Cache.MaxRetries", 2)
	v.SetDefault("Cache.StrictWriteBack", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.RequestTimeout.DurationValue() == 0 {
		g.RequestTimeout = Duration(30 * time.Second)
	}
}

// applyPolicyFile 读取旧版策略文件覆盖 Cache.Policy；相对路径以配置文件所在目录为基准。
func applyPolicyFile(c *CacheConfig, baseDir string) error {
	file := strings.TrimSpace(c.PolicyFile)
	if file == "" {
		return nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(baseDir, file)
	}
	p, err := policy.LoadFile(file)
	if err != nil {
		return newFieldError(cacheField("PolicyFile"), err.Error())
	}
	c.PolicyFile = file
	c.Policy = p
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// policyDecodeHook 允许 Policy 写成名称（"lru"）或数字（2）。
func policyDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(policy.Policy(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return policy.Parse(v)
		case int:
			return policyFromInt(int64(v))
		case int64:
			return policyFromInt(v)
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("%w: %v", policy.ErrUnknownPolicy, v)
			}
			return policyFromInt(int64(v))
		case policy.Policy:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Policy 类型: %T", v)
		}
	}
}

func policyFromInt(n int64) (policy.Policy, error) {
	if n < 0 {
		return policy.Disabled, fmt.Errorf("%w: %d", policy.ErrUnknownPolicy, n)
	}
	return policy.FromUint(uint64(n))
}
