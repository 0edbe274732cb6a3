// Package manifest 维护下载清单：记录每个已下载 URL 的本地路径、
// 内容哈希与源站校验头，供条件重取判断文件是否需要重新下载。
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry 是清单中单个 URL 的记录。
type Entry struct {
	LocalPath    string `json:"local_path"`
	ContentHash  string `json:"content_hash"`
	Size         int64  `json:"size"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	DownloadedAt string `json:"downloaded_at"`
}

// fileFormat 是清单的落盘形态。
type fileFormat struct {
	LastUpdated string           `json:"last_updated"`
	Files       map[string]Entry `json:"files"`
}

// Manifest 在内存中持有清单全量，每次变更后整体落盘。
type Manifest struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	logger  *logrus.Logger
	now     func() time.Time
}

// Load 从 path 读取清单。文件缺失视为空清单；文件损坏时丢弃
// 旧内容并告警——清单只是优化手段，丢失的代价仅是一次重下载。
func Load(path string, logger *logrus.Logger) (*Manifest, error) {
	m := &Manifest{
		path:    path,
		entries: make(map[string]Entry),
		logger:  logger,
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"action": "manifest_corrupt",
				"path":   path,
			}).Warn("清单文件损坏，按空清单处理")
		}
		return m, nil
	}
	if ff.Files != nil {
		m.entries = ff.Files
	}
	return m, nil
}

// Lookup 返回 url 对应的记录。
func (m *Manifest) Lookup(url string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[url]
	return e, ok
}

// Len 返回清单中的记录数。
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries 返回清单快照，供统计使用。
func (m *Manifest) Entries() map[string]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string]Entry, len(m.entries))
	for k, v := range m.entries {
		snapshot[k] = v
	}
	return snapshot
}

// RecordSuccess 写入或覆盖 url 的记录并立即落盘。
// 进程随时可能被打断，推迟落盘会让清单与磁盘内容脱节。
func (m *Manifest) RecordSuccess(url string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.DownloadedAt == "" {
		e.DownloadedAt = m.now().UTC().Format(time.RFC3339)
	}
	m.entries[url] = e
	return m.persistLocked()
}

// NeedsRefetch 判断 url 是否需要重新下载：无记录、本地文件缺失、
// 或源站返回的 ETag/Last-Modified/大小与记录不一致时为 true。
// 源站未提供的校验头不参与比较。
func (m *Manifest) NeedsRefetch(url, etag, lastModified string, size int64) bool {
	m.mu.Lock()
	e, ok := m.entries[url]
	m.mu.Unlock()

	if !ok {
		return true
	}
	if _, err := os.Stat(e.LocalPath); err != nil {
		return true
	}
	if etag != "" && etag != e.ETag {
		return true
	}
	if lastModified != "" && lastModified != e.LastModified {
		return true
	}
	if size > 0 && size != e.Size {
		return true
	}
	return false
}

// Clear 清空清单并落盘，返回清除的记录数。
func (m *Manifest) Clear() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	m.entries = make(map[string]Entry)
	return n, m.persistLocked()
}

// persistLocked 以临时文件 + rename 原子落盘；调用方须持锁。
func (m *Manifest) persistLocked() error {
	ff := fileFormat{
		LastUpdated: m.now().UTC().Format(time.RFC3339),
		Files:       m.entries,
	}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
