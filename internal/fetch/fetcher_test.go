package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/skoldata/skoldata/internal/config"
	"github.com/skoldata/skoldata/internal/manifest"
	"github.com/skoldata/skoldata/internal/ratelimit"
	"github.com/skoldata/skoldata/internal/safety"
)

// rewriteTransport 把白名单域名的请求改写到本地测试服务器。
// 校验器会拒绝回环地址，测试里只能让域名校验先通过、再改写目标。
type rewriteTransport struct {
	target string
	base   http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	clone.URL.Host = t.target
	return t.base.RoundTrip(clone)
}

type testEnv struct {
	fetcher  *Fetcher
	manifest *manifest.Manifest
	dir      string
	heads    *atomic.Int64
	gets     *atomic.Int64
}

func newTestEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()

	heads := &atomic.Int64{}
	gets := &atomic.Int64{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			heads.Add(1)
		case http.MethodGet:
			gets.Add(1)
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	validator, err := safety.NewValidator("https://www.skolinspektionen.se", config.SafetyConfig{
		AllowedDomains:      []string{"skolinspektionen.se", "www.skolinspektionen.se"},
		AllowedCategories:   []string{"skolenkaten", "tillstand"},
		AllowedContentTypes: []string{"application/vnd.ms-excel", "application/pdf"},
		MaxFileSize:         1024,
	})
	if err != nil {
		t.Fatalf("创建校验器失败: %v", err)
	}

	serverURL, _ := url.Parse(server.URL)
	client := &http.Client{
		Transport: &rewriteTransport{target: serverURL.Host, base: http.DefaultTransport},
	}

	dir := t.TempDir()
	m, err := manifest.Load(filepath.Join(dir, "manifest.json"), nil)
	if err != nil {
		t.Fatalf("加载清单失败: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.PanicLevel)

	fetcher, err := NewFetcher(FetcherOptions{
		Client:      client,
		Validator:   validator,
		Limiter:     ratelimit.NewDomainLimiter(ratelimit.Options{RequestsPerSecond: 1000, Burst: 1000, MaxConcurrent: 8}),
		Manifest:    m,
		Logger:      logger,
		DownloadDir: filepath.Join(dir, "downloads"),
		UserAgent:   "skoldata-test/0",
	})
	if err != nil {
		t.Fatalf("创建下载器失败: %v", err)
	}

	return &testEnv{fetcher: fetcher, manifest: m, dir: dir, heads: heads, gets: gets}
}

func serveFile(content string, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("ETag", `"v1"`)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(content))
	}
}

func TestDownloadSuccess(t *testing.T) {
	env := newTestEnv(t, serveFile("cell data", "application/vnd.ms-excel"))

	result, err := env.fetcher.Download(context.Background(), "/statistik/data.xlsx", "skolenkaten", false)
	if err != nil {
		t.Fatalf("下载失败: %v", err)
	}
	if result.FromCache {
		t.Fatalf("首次下载不应命中清单")
	}

	data, err := os.ReadFile(result.LocalPath)
	if err != nil {
		t.Fatalf("读落盘文件失败: %v", err)
	}
	if string(data) != "cell data" {
		t.Fatalf("落盘内容不符: %q", data)
	}

	sum := sha256.Sum256([]byte("cell data"))
	if result.ContentHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("内容哈希不符: %s", result.ContentHash)
	}

	entry, ok := env.manifest.Lookup("https://www.skolinspektionen.se/statistik/data.xlsx")
	if !ok {
		t.Fatalf("成功下载应记入清单")
	}
	if entry.Size != int64(len("cell data")) {
		t.Fatalf("清单大小不符: %d", entry.Size)
	}
}

func TestDownloadSecondCallHitsManifest(t *testing.T) {
	env := newTestEnv(t, serveFile("cell data", "application/vnd.ms-excel"))

	if _, err := env.fetcher.Download(context.Background(), "/statistik/data.xlsx", "skolenkaten", false); err != nil {
		t.Fatalf("首次下载失败: %v", err)
	}
	getsAfterFirst := env.gets.Load()

	result, err := env.fetcher.Download(context.Background(), "/statistik/data.xlsx", "skolenkaten", false)
	if err != nil {
		t.Fatalf("二次下载失败: %v", err)
	}
	if !result.FromCache {
		t.Fatalf("源站未变化时应命中清单")
	}
	if env.gets.Load() != getsAfterFirst {
		t.Fatalf("清单命中不应触发 GET")
	}
}

func TestForceSkipsConditionalCheck(t *testing.T) {
	env := newTestEnv(t, serveFile("cell data", "application/vnd.ms-excel"))

	result, err := env.fetcher.Download(context.Background(), "/statistik/data.xlsx", "skolenkaten", true)
	if err != nil {
		t.Fatalf("强制下载失败: %v", err)
	}
	if result.FromCache {
		t.Fatalf("force 下载不应命中清单")
	}
	if env.heads.Load() != 0 {
		t.Fatalf("force 下载不应发送 HEAD")
	}
}

func TestDownloadRejectsDisallowedURL(t *testing.T) {
	env := newTestEnv(t, serveFile("x", "application/pdf"))

	_, err := env.fetcher.Download(context.Background(), "http://169.254.169.254/meta", "skolenkaten", false)
	if err == nil {
		t.Fatalf("私网地址应被拒绝")
	}
	if !IsValidationRejected(err) {
		t.Fatalf("错误类别应为校验拒绝: %v", err)
	}
	if env.gets.Load() != 0 || env.heads.Load() != 0 {
		t.Fatalf("被拒绝的 URL 不应有任何出站请求")
	}
}

func TestDownloadRejectsUnknownCategory(t *testing.T) {
	env := newTestEnv(t, serveFile("x", "application/pdf"))

	_, err := env.fetcher.Download(context.Background(), "/statistik/data.xlsx", "unknown", false)
	if !IsValidationRejected(err) {
		t.Fatalf("未知分类应被校验拒绝: %v", err)
	}
}

func TestDownloadRejectsBlockedContentType(t *testing.T) {
	env := newTestEnv(t, serveFile("#!/bin/sh", "application/x-sh"))

	_, err := env.fetcher.Download(context.Background(), "/statistik/run.sh", "skolenkaten", true)
	if !IsValidationRejected(err) {
		t.Fatalf("黑名单 Content-Type 应被拒绝: %v", err)
	}
	if env.manifest.Len() != 0 {
		t.Fatalf("被拒绝的下载不应写入清单")
	}

	entries, _ := filepath.Glob(filepath.Join(env.dir, "downloads", "skolenkaten", "*"))
	if len(entries) != 0 {
		t.Fatalf("被拒绝的下载不应落盘: %v", entries)
	}
}

func TestDownloadRejectsOversizedDeclaredLength(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", "999999")
		w.WriteHeader(http.StatusOK)
	})

	_, err := env.fetcher.Download(context.Background(), "/statistik/big.pdf", "skolenkaten", false)
	if !IsValidationRejected(err) {
		t.Fatalf("HEAD 声明超限应被拒绝: %v", err)
	}
	if env.gets.Load() != 0 {
		t.Fatalf("HEAD 声明超限时不应发起 GET")
	}
}

func TestDownloadRejectsOversizedBody(t *testing.T) {
	big := strings.Repeat("a", 2048)
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		if r.Method == http.MethodHead {
			// 不声明长度，迫使大小检查落到响应体阶段。
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(big))
	})

	_, err := env.fetcher.Download(context.Background(), "/statistik/big.pdf", "skolenkaten", true)
	if !IsValidationRejected(err) {
		t.Fatalf("超限响应体应被拒绝: %v", err)
	}
	if env.manifest.Len() != 0 {
		t.Fatalf("超限下载不应写入清单")
	}
	entries, _ := filepath.Glob(filepath.Join(env.dir, "downloads", "skolenkaten", "*"))
	if len(entries) != 0 {
		t.Fatalf("超限下载不应残留文件: %v", entries)
	}
}

func TestDownloadAbortsWhenHeadReportsAbsent(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := env.fetcher.Download(context.Background(), "/statistik/gone.xlsx", "skolenkaten", false)
	if !IsTransientNetwork(err) {
		t.Fatalf("HEAD 未命中应归类为临时故障: %v", err)
	}
	if env.gets.Load() != 0 {
		t.Fatalf("HEAD 未命中时不应发起 GET")
	}
}

func TestDownloadNotFoundIsTransient(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := env.fetcher.Download(context.Background(), "/statistik/missing.xlsx", "skolenkaten", true)
	if !IsTransientNetwork(err) {
		t.Fatalf("404 应归类为临时故障: %v", err)
	}
}

func TestStatsAggregatesByCategory(t *testing.T) {
	env := newTestEnv(t, serveFile("cell data", "application/vnd.ms-excel"))

	if _, err := env.fetcher.Download(context.Background(), "/statistik/a.xlsx", "skolenkaten", true); err != nil {
		t.Fatalf("下载 a 失败: %v", err)
	}
	if _, err := env.fetcher.Download(context.Background(), "/statistik/b.xlsx", "tillstand", true); err != nil {
		t.Fatalf("下载 b 失败: %v", err)
	}

	stats := env.fetcher.Stats()
	if stats.TotalFiles != 2 {
		t.Fatalf("总文件数不符: %d", stats.TotalFiles)
	}
	if stats.ByCategory["skolenkaten"].Count != 1 || stats.ByCategory["tillstand"].Count != 1 {
		t.Fatalf("分类统计不符: %+v", stats.ByCategory)
	}
	if stats.TotalSizeBytes != 2*int64(len("cell data")) {
		t.Fatalf("总大小不符: %d", stats.TotalSizeBytes)
	}
	if stats.LastUpdated == "" {
		t.Fatalf("LastUpdated 不应为空")
	}
}

func TestDiscoverStopsAtFirstMatchingPattern(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		// 仅固定的 viten 文件存在。
		if strings.HasSuffix(r.URL.Path, "viten-historik.xlsx") {
			w.Header().Set("Content-Type", "application/vnd.ms-excel")
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})

	found, err := env.fetcher.DiscoverTillsyn(context.Background())
	if err != nil {
		t.Fatalf("探测失败: %v", err)
	}
	if len(found["viten"]) != 1 {
		t.Fatalf("应发现 viten 文件: %+v", found)
	}
	if len(found["tui"]) != 0 || len(found["planerad_tillsyn"]) != 0 {
		t.Fatalf("不存在的文件不应被发现: %+v", found)
	}
}
