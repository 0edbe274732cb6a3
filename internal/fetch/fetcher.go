// Package fetch 实现面向源站的受控下载：安全校验、按域限速、
// 条件重取与原子落盘，是数据获取链路的核心。
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/skoldata/skoldata/internal/logging"
	"github.com/skoldata/skoldata/internal/manifest"
	"github.com/skoldata/skoldata/internal/metrics"
	"github.com/skoldata/skoldata/internal/ratelimit"
	"github.com/skoldata/skoldata/internal/safety"
)

// Fetcher 将校验、限速、清单与 HTTP 客户端组合成下载流水线。
type Fetcher struct {
	client      *http.Client
	validator   *safety.Validator
	limiter     *ratelimit.DomainLimiter
	manifest    *manifest.Manifest
	recorder    *metrics.Recorder
	logger      *logrus.Logger
	downloadDir string
	userAgent   string
}

// FetcherOptions 聚合 Fetcher 的全部依赖。
type FetcherOptions struct {
	Client      *http.Client
	Validator   *safety.Validator
	Limiter     *ratelimit.DomainLimiter
	Manifest    *manifest.Manifest
	Recorder    *metrics.Recorder
	Logger      *logrus.Logger
	DownloadDir string
	UserAgent   string
}

// NewFetcher 创建下载器。
func NewFetcher(opts FetcherOptions) (*Fetcher, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("fetcher requires http client")
	}
	if opts.Validator == nil {
		return nil, fmt.Errorf("fetcher requires validator")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("fetcher requires rate limiter")
	}
	if opts.Manifest == nil {
		return nil, fmt.Errorf("fetcher requires manifest")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Fetcher{
		client:      opts.Client,
		validator:   opts.Validator,
		limiter:     opts.Limiter,
		manifest:    opts.Manifest,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		downloadDir: opts.DownloadDir,
		userAgent:   opts.UserAgent,
	}, nil
}

// Result 描述一次成功下载（或清单命中）的产物。
type Result struct {
	LocalPath   string
	ContentHash string
	Size        int64
	FromCache   bool
}

// Download 下载 rawURL 指向的文件到 category 目录。
// 完整链路：URL/分类校验 → 路径限制 → HEAD 条件判断 →
// 限速 GET → Content-Type/大小校验 → 原子落盘 → 记入清单。
// force 为 true 时跳过条件判断，强制重新下载。
func (f *Fetcher) Download(ctx context.Context, rawURL, category string, force bool) (*Result, error) {
	fullURL, err := f.validator.ValidateURL(rawURL)
	if err != nil {
		f.recorder.Download("rejected")
		return nil, newError(KindValidationRejected, rawURL, err)
	}

	cleanCategory, err := f.validator.ValidateCategory(category)
	if err != nil {
		f.recorder.Download("rejected")
		return nil, newError(KindValidationRejected, fullURL, err)
	}

	parsed, err := url.Parse(fullURL)
	if err != nil {
		f.recorder.Download("rejected")
		return nil, newError(KindValidationRejected, fullURL, err)
	}
	filename := safety.SanitizeFilename(path.Base(parsed.Path))
	localPath, err := safety.ConfinePath(f.downloadDir, cleanCategory, filename)
	if err != nil {
		f.recorder.Download("rejected")
		return nil, newError(KindValidationRejected, fullURL, err)
	}

	domain := parsed.Hostname()
	fields := logging.FetchFields(fullURL, cleanCategory, force)

	if !force {
		head, err := f.probe(ctx, fullURL, domain)
		if err != nil {
			return nil, err
		}
		if head == nil {
			f.logger.WithFields(fields).Debug("源站未报告文件存在")
			f.recorder.Download("failed")
			return nil, newError(KindTransientNetwork, fullURL,
				fmt.Errorf("resource not reported by origin"))
		}
		if head.size > 0 {
			if err := f.validator.CheckSize(head.size); err != nil {
				f.recorder.Download("rejected")
				return nil, newError(KindValidationRejected, fullURL, err)
			}
		}
		if !f.manifest.NeedsRefetch(fullURL, head.etag, head.lastModified, head.size) {
			entry, _ := f.manifest.Lookup(fullURL)
			f.logger.WithFields(fields).Debug("清单命中，跳过下载")
			f.recorder.Download("cached")
			return &Result{
				LocalPath:   entry.LocalPath,
				ContentHash: entry.ContentHash,
				Size:        entry.Size,
				FromCache:   true,
			}, nil
		}
	}

	result, err := f.fetchBody(ctx, fullURL, domain, localPath)
	if err != nil {
		f.logger.WithFields(fields).WithError(err).Warn("下载失败")
		return nil, err
	}

	f.logger.WithFields(fields).WithField("size", result.Size).Info("下载完成")
	f.recorder.Download("success")
	f.recorder.DownloadBytes(result.Size)
	return result, nil
}

// hostOf 提取 URL 的主机名，供按域限速使用。
func (f *Fetcher) hostOf(fullURL string) string {
	parsed, err := url.Parse(fullURL)
	if err != nil {
		return fullURL
	}
	return parsed.Hostname()
}

// ClearManifest 清空下载清单，返回清除的记录数。
// 已落盘的文件保持不动，下次下载会重新记录。
func (f *Fetcher) ClearManifest() (int, error) {
	return f.manifest.Clear()
}

// headInfo 是 HEAD 探测得到的条件重取要素。
type headInfo struct {
	etag         string
	lastModified string
	size         int64
}

// probe 发送限速 HEAD 请求。源站返回非 2xx 时返回 nil，
// 表示文件不存在或源站不支持 HEAD。
func (f *Fetcher) probe(ctx context.Context, fullURL, domain string) (*headInfo, error) {
	release, err := f.limiter.Acquire(ctx, domain)
	if err != nil {
		return nil, newError(KindTransientNetwork, fullURL, err)
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, fullURL, nil)
	if err != nil {
		return nil, newError(KindValidationRejected, fullURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, newError(KindTransientNetwork, fullURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if !statusOK(resp.StatusCode) {
		return nil, nil
	}

	return &headInfo{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		size:         resp.ContentLength,
	}, nil
}

// fetchBody 执行限速 GET，校验响应并原子落盘，成功后记入清单。
func (f *Fetcher) fetchBody(ctx context.Context, fullURL, domain, localPath string) (*Result, error) {
	release, err := f.limiter.Acquire(ctx, domain)
	if err != nil {
		return nil, newError(KindTransientNetwork, fullURL, err)
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, newError(KindValidationRejected, fullURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.recorder.Download("failed")
		return nil, newError(KindTransientNetwork, fullURL, err)
	}
	defer resp.Body.Close()

	if !statusOK(resp.StatusCode) {
		f.recorder.Download("failed")
		return nil, newError(KindTransientNetwork, fullURL,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := f.validator.ValidateContentType(resp.Header.Get("Content-Type")); err != nil {
		f.recorder.Download("rejected")
		return nil, newError(KindValidationRejected, fullURL, err)
	}
	if resp.ContentLength > 0 {
		if err := f.validator.CheckSize(resp.ContentLength); err != nil {
			f.recorder.Download("rejected")
			return nil, newError(KindValidationRejected, fullURL, err)
		}
	}

	size, hash, err := f.writeAtomic(localPath, resp.Body)
	if err != nil {
		if IsValidationRejected(err) {
			f.recorder.Download("rejected")
		} else {
			f.recorder.Download("failed")
		}
		return nil, err
	}

	err = f.manifest.RecordSuccess(fullURL, manifest.Entry{
		LocalPath:    localPath,
		ContentHash:  hash,
		Size:         size,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	})
	if err != nil {
		return nil, newError(KindCorruptEntry, fullURL, err)
	}

	return &Result{LocalPath: localPath, ContentHash: hash, Size: size}, nil
}

// writeAtomic 将 body 写入临时文件并 rename 到 localPath，
// 写入过程中同步计算 sha256，超出大小上限立即中止。
func (f *Fetcher) writeAtomic(localPath string, body io.Reader) (int64, string, error) {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", newError(KindCorruptEntry, localPath, err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, "", newError(KindCorruptEntry, localPath, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	hasher := sha256.New()
	// 多读一字节以区分“恰好等于上限”与“超出上限”。
	limited := io.LimitReader(body, f.validator.MaxFileSize()+1)
	size, err := io.Copy(io.MultiWriter(tmp, hasher), limited)
	if err != nil {
		cleanup()
		return 0, "", newError(KindTransientNetwork, localPath, err)
	}
	if size > f.validator.MaxFileSize() {
		cleanup()
		return 0, "", newError(KindValidationRejected, localPath,
			fmt.Errorf("body exceeds size cap %d", f.validator.MaxFileSize()))
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, "", newError(KindCorruptEntry, localPath, err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return 0, "", newError(KindCorruptEntry, localPath, err)
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}
