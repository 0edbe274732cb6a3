// Package safety 收敛全部出站安全校验：URL/SSRF、分类、文件名、
// 路径限制与 Content-Type/大小检查。任何网络或文件系统副作用之前
// 都必须经过这里。
package safety

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/skoldata/skoldata/internal/config"
)

// Validator 持有进程生命周期内只读的允许清单与上限。
type Validator struct {
	baseURL             *url.URL
	allowedDomains      []string
	allowedCategories   map[string]struct{}
	allowedContentTypes map[string]struct{}
	maxFileSize         int64
}

// NewValidator 由配置构建 Validator；baseURL 用于解析相对地址。
func NewValidator(baseURL string, cfg config.SafetyConfig) (*Validator, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s): %s", baseURL)
	}

	categories := make(map[string]struct{}, len(cfg.AllowedCategories))
	for _, c := range cfg.AllowedCategories {
		categories[c] = struct{}{}
	}
	contentTypes := make(map[string]struct{}, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		contentTypes[strings.ToLower(ct)] = struct{}{}
	}

	return &Validator{
		baseURL:             base,
		allowedDomains:      append([]string(nil), cfg.AllowedDomains...),
		allowedCategories:   categories,
		allowedContentTypes: contentTypes,
		maxFileSize:         cfg.MaxFileSize,
	}, nil
}

// MaxFileSize 返回允许的最大文件字节数。
func (v *Validator) MaxFileSize() int64 {
	return v.maxFileSize
}

// ValidateURL 将相对地址解析到 base 之上，并执行 SSRF 防护：
// 仅允许 http(s)、拒绝回环/链路本地/私网地址、要求命中域名白名单
// （含子域）。返回规范化后的绝对 URL。
func (v *Validator) ValidateURL(raw string) (string, error) {
	full := raw
	if !strings.HasPrefix(raw, "http") {
		rel, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid url %q: %w", raw, err)
		}
		full = v.baseURL.ResolveReference(rel).String()
	}

	parsed, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", full, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid url scheme: %s", parsed.Scheme)
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return "", fmt.Errorf("url missing host: %s", full)
	}
	if err := rejectPrivateHost(hostname); err != nil {
		return "", err
	}

	if !v.domainAllowed(hostname) {
		return "", fmt.Errorf("domain not allowed: %s", hostname)
	}

	return full, nil
}

// rejectPrivateHost 拦截回环、未指定、链路本地（含云厂商 metadata 端点
// 169.254.0.0/16）与 RFC1918 私网地址。
func rejectPrivateHost(hostname string) error {
	switch hostname {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return fmt.Errorf("private host not allowed: %s", hostname)
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() || ip.IsUnspecified() {
		return fmt.Errorf("loopback address blocked: %s", hostname)
	}
	if ip.IsLinkLocalUnicast() {
		return fmt.Errorf("link-local address blocked: %s", hostname)
	}
	if ip.IsPrivate() {
		return fmt.Errorf("private address blocked: %s", hostname)
	}
	return nil
}

func (v *Validator) domainAllowed(hostname string) bool {
	for _, domain := range v.allowedDomains {
		if hostname == domain || strings.HasSuffix(hostname, "."+domain) {
			return true
		}
	}
	return false
}

// ValidateCategory 校验下载分类；清洗后必须精确命中白名单，
// 顺带封死经由分类的路径穿越。
func (v *Validator) ValidateCategory(category string) (string, error) {
	clean := strings.Trim(strings.ReplaceAll(category, "..", ""), "/")
	if _, ok := v.allowedCategories[clean]; !ok {
		return "", fmt.Errorf("invalid category: %s", category)
	}
	return clean, nil
}

// ValidateContentType 校验响应的 Content-Type（忽略参数）。
// 空值放行——部分服务器不返回该头。
func (v *Validator) ValidateContentType(contentType string) error {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if mediaType == "" {
		return nil
	}
	if _, ok := v.allowedContentTypes[mediaType]; !ok {
		return fmt.Errorf("blocked content-type: %s", mediaType)
	}
	return nil
}

// CheckSize 校验声明或实际的字节数不超过上限。
func (v *Validator) CheckSize(size int64) error {
	if size > v.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (cap %d)", size, v.maxFileSize)
	}
	return nil
}
