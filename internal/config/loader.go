package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Skolinspektionen 公开资料的默认出站参数，可被配置文件覆盖。
var (
	defaultAllowedDomains = []string{
		"skolinspektionen.se",
		"www.skolinspektionen.se",
	}

	defaultAllowedCategories = []string{
		"skolenkaten",
		"tillstand",
		"tillsyn",
		"tillsyn/viten",
		"tillsyn/tui",
		"tillsyn/planerad_tillsyn",
		"ombedomning",
		"publications",
	}

	defaultAllowedContentTypes = []string{
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/octet-stream",
		"text/html",
		"text/plain",
	}
)

const defaultMaxFileSize = 100 * 1024 * 1024

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
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySafetyDefaults(&cfg.Safety)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absData, err := filepath.Abs(cfg.Global.DataDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析数据目录: %w", err)
	}
	cfg.Global.DataDir = absData

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5400)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("DataDir", "./data")
	v.SetDefault("CacheTTL", "24h")
	v.SetDefault("MemoryCacheItems", 50)
	v.SetDefault("BaseURL", "https://www.skolinspektionen.se")
	v.SetDefault("UserAgent", "skoldata/0.1 (+https://github.com/skoldata/skoldata)")
	v.SetDefault("FetchTimeout", "60s")
	v.SetDefault("RequestsPerSecond", 2.0)
	v.SetDefault("RequestBurst", 2)
	v.SetDefault("MaxConcurrentPerDomain", 2)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5400
	}
	if g.CacheTTL.DurationValue() == 0 {
		g.CacheTTL = Duration(24 * time.Hour)
	}
	if g.MemoryCacheItems == 0 {
		g.MemoryCacheItems = 50
	}
	if g.FetchTimeout.DurationValue() == 0 {
		g.FetchTimeout = Duration(60 * time.Second)
	}
	if g.RequestsPerSecond == 0 {
		g.RequestsPerSecond = 2.0
	}
	if g.RequestBurst == 0 {
		g.RequestBurst = 2
	}
	if g.MaxConcurrentPerDomain == 0 {
		g.MaxConcurrentPerDomain = 2
	}
}

func applySafetyDefaults(s *SafetyConfig) {
	if len(s.AllowedDomains) == 0 {
		s.AllowedDomains = append([]string(nil), defaultAllowedDomains...)
	}
	if len(s.AllowedCategories) == 0 {
		s.AllowedCategories = append([]string(nil), defaultAllowedCategories...)
	}
	if len(s.AllowedContentTypes) == 0 {
		s.AllowedContentTypes = append([]string(nil), defaultAllowedContentTypes...)
	}
	if s.MaxFileSize == 0 {
		s.MaxFileSize = defaultMaxFileSize
	}
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
