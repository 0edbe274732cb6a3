package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
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
	if g.DataDir == "" {
		return newFieldError("Global.DataDir", "不能为空")
	}
	if g.CacheTTL.DurationValue() <= 0 {
		return newFieldError("Global.CacheTTL", "必须大于 0")
	}
	if g.MemoryCacheItems <= 0 {
		return newFieldError("Global.MemoryCacheItems", "必须大于 0")
	}
	if g.UserAgent == "" {
		return newFieldError("Global.UserAgent", "不能为空")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}
	if g.RequestsPerSecond <= 0 {
		return newFieldError("Global.RequestsPerSecond", "必须大于 0")
	}
	if g.RequestBurst < 1 {
		return newFieldError("Global.RequestBurst", "至少为 1")
	}
	if g.MaxConcurrentPerDomain < 1 {
		return newFieldError("Global.MaxConcurrentPerDomain", "至少为 1")
	}
	if err := validateBaseURL(g.BaseURL); err != nil {
		return fmt.Errorf("Global.BaseURL: %w", err)
	}

	s := c.Safety
	if len(s.AllowedDomains) == 0 {
		return newFieldError(safetyField("AllowedDomains"), "至少需要一个允许的域名")
	}
	for _, domain := range s.AllowedDomains {
		if err := validateAllowedDomain(domain); err != nil {
			return fmt.Errorf("%s: %w", safetyField("AllowedDomains"), err)
		}
	}
	if len(s.AllowedCategories) == 0 {
		return newFieldError(safetyField("AllowedCategories"), "至少需要一个允许的分类")
	}
	for _, category := range s.AllowedCategories {
		if err := validateAllowedCategory(category); err != nil {
			return fmt.Errorf("%s: %w", safetyField("AllowedCategories"), err)
		}
	}
	if len(s.AllowedContentTypes) == 0 {
		return newFieldError(safetyField("AllowedContentTypes"), "至少需要一个允许的 Content-Type")
	}
	if s.MaxFileSize <= 0 {
		return newFieldError(safetyField("MaxFileSize"), "必须大于 0")
	}

	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("缺少基础地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，地址: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("基础地址缺少 Host: %s", raw)
	}
	return nil
}

func validateAllowedDomain(domain string) error {
	if domain == "" {
		return errors.New("域名不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("域名不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("域名不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("域名不应包含协议头")
	}
	return nil
}

func validateAllowedCategory(category string) error {
	if category == "" {
		return errors.New("分类不能为空")
	}
	if strings.Contains(category, "..") {
		return errors.New("分类不允许包含 ..")
	}
	if strings.HasPrefix(category, "/") || strings.HasSuffix(category, "/") {
		return errors.New("分类不允许以 / 开头或结尾")
	}
	return nil
}
