package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := writeConfig(t, `
DataDir = "./testdata-tmp"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CacheTTL.DurationValue() != 24*time.Hour {
		t.Fatalf("CacheTTL 应该自动填充默认值, got %v", cfg.Global.CacheTTL.DurationValue())
	}
	if cfg.Global.MemoryCacheItems != 50 {
		t.Fatalf("MemoryCacheItems 默认值应为 50, got %d", cfg.Global.MemoryCacheItems)
	}
	if !filepath.IsAbs(cfg.Global.DataDir) {
		t.Fatalf("DataDir 应该被解析为绝对路径: %s", cfg.Global.DataDir)
	}
	if len(cfg.Safety.AllowedDomains) == 0 {
		t.Fatalf("AllowedDomains 应该填充默认域名")
	}
	if cfg.Safety.MaxFileSize != 100*1024*1024 {
		t.Fatalf("MaxFileSize 默认值应为 100MB, got %d", cfg.Safety.MaxFileSize)
	}
}

func TestLoadParsesDurationsAndOverrides(t *testing.T) {
	cfgPath := writeConfig(t, `
DataDir = "/tmp/skoldata-test"
CacheTTL = "2h"
FetchTimeout = 30
MemoryCacheItems = 10

[Safety]
AllowedDomains = ["example.org"]
MaxFileSize = 1024
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CacheTTL.DurationValue() != 2*time.Hour {
		t.Fatalf("CacheTTL 应为 2h, got %v", cfg.Global.CacheTTL.DurationValue())
	}
	if cfg.Global.FetchTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("纯数字秒值应被解析, got %v", cfg.Global.FetchTimeout.DurationValue())
	}
	if len(cfg.Safety.AllowedDomains) != 1 || cfg.Safety.AllowedDomains[0] != "example.org" {
		t.Fatalf("AllowedDomains 覆盖失败: %v", cfg.Safety.AllowedDomains)
	}
	if cfg.Safety.MaxFileSize != 1024 {
		t.Fatalf("MaxFileSize 覆盖失败: %d", cfg.Safety.MaxFileSize)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("缺失的配置文件应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRejectsBadBaseURL(t *testing.T) {
	testCases := []struct {
		name    string
		baseURL string
	}{
		{"empty", ""},
		{"ftp scheme", "ftp://example.org"},
		{"missing host", "https://"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.BaseURL = tc.baseURL
			if err := cfg.Validate(); err == nil {
				t.Fatalf("非法 BaseURL 应当报错: %q", tc.baseURL)
			}
		})
	}
}

func TestValidateRejectsBadSafetyEntries(t *testing.T) {
	cfg := validConfig()
	cfg.Safety.AllowedDomains = []string{"https://bad"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("带协议头的域名应当报错")
	}

	cfg = validConfig()
	cfg.Safety.AllowedCategories = []string{"../escape"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("包含 .. 的分类应当报错")
	}

	cfg = validConfig()
	cfg.Safety.MaxFileSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("MaxFileSize 为 0 应当报错")
	}
}

func TestFieldErrorIncludesPath(t *testing.T) {
	cfg := validConfig()
	cfg.Safety.AllowedDomains = nil
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("空 AllowedDomains 应当报错")
	}
	fieldErr, ok := err.(FieldError)
	if !ok {
		t.Fatalf("预期 FieldError, got %T", err)
	}
	if fieldErr.Field != "Safety.AllowedDomains" {
		t.Fatalf("字段路径不符: %s", fieldErr.Field)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := validConfig()
	cfg.Global.DataDir = "/srv/skoldata"

	if got := cfg.DownloadDir(); got != filepath.Join("/srv/skoldata", "downloads") {
		t.Fatalf("DownloadDir 不符: %s", got)
	}
	if got := cfg.ManifestPath(); got != filepath.Join("/srv/skoldata", "downloads", "manifest.json") {
		t.Fatalf("ManifestPath 不符: %s", got)
	}
}

// writeConfig 将 TOML 内容写入临时文件，返回文件路径。
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

// validConfig 返回一份通过校验的最小配置，测试按需修改字段。
func validConfig() *Config {
	cfg := &Config{
		Global: GlobalConfig{
			ListenPort:             5400,
			LogLevel:               "info",
			DataDir:                "/tmp/skoldata-test",
			CacheTTL:               Duration(24 * time.Hour),
			MemoryCacheItems:       50,
			BaseURL:                "https://www.skolinspektionen.se",
			UserAgent:              "skoldata-test/1.0",
			FetchTimeout:           Duration(60 * time.Second),
			RequestsPerSecond:      2,
			RequestBurst:           2,
			MaxConcurrentPerDomain: 2,
		},
	}
	applySafetyDefaults(&cfg.Safety)
	return cfg
}
