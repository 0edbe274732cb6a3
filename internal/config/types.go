package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
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

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，缓存与抓取流程共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	DataDir          string   `mapstructure:"DataDir"`
	CacheTTL         Duration `mapstructure:"CacheTTL"`
	MemoryCacheItems int      `mapstructure:"MemoryCacheItems"`

	BaseURL      string   `mapstructure:"BaseURL"`
	UserAgent    string   `mapstructure:"UserAgent"`
	FetchTimeout Duration `mapstructure:"FetchTimeout"`

	RequestsPerSecond      float64 `mapstructure:"RequestsPerSecond"`
	RequestBurst           int     `mapstructure:"RequestBurst"`
	MaxConcurrentPerDomain int     `mapstructure:"MaxConcurrentPerDomain"`
}

// SafetyConfig 收敛所有出站安全参数，进程启动后只读。
type SafetyConfig struct {
	AllowedDomains      []string `mapstructure:"AllowedDomains"`
	AllowedCategories   []string `mapstructure:"AllowedCategories"`
	AllowedContentTypes []string `mapstructure:"AllowedContentTypes"`
	MaxFileSize         int64    `mapstructure:"MaxFileSize"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Safety SafetyConfig `mapstructure:"Safety"`
}

// DownloadDir 返回抓取文件的落盘根目录。
func (c *Config) DownloadDir() string {
	return filepath.Join(c.Global.DataDir, "downloads")
}

// CacheDir 返回磁盘缓存条目的存放目录。
func (c *Config) CacheDir() string {
	return filepath.Join(c.Global.DataDir, "cache")
}

// ManifestPath 返回下载清单的固定位置，位于下载根目录内。
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DownloadDir(), "manifest.json")
}
