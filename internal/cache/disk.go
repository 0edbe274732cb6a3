package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiskStore 将每个键持久化为一个 JSON 文件，文件名取键的 sha256 前 16 个
// 十六进制字符。写入经由 store 级互斥锁串行化并通过临时文件 + rename 保证
// 原子性；不同键的读取互不阻塞。损坏条目按缺席处理并顺手删除。
type DiskStore[V any] struct {
	dir     string
	writeMu sync.Mutex
	now     func() time.Time
}

// diskEntry 是磁盘条目的线格式，时间戳为 epoch 秒。
type diskEntry[V any] struct {
	Key       string  `json:"key"`
	Value     V       `json:"value"`
	CreatedAt float64 `json:"created_at"`
	ExpiresAt float64 `json:"expires_at"`
}

// NewDiskStore 以 dir 为根目录构建磁盘缓存，目录不存在时自动创建。
func NewDiskStore[V any](dir string) (*DiskStore[V], error) {
	if dir == "" {
		return nil, errors.New("cache dir required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &DiskStore[V]{
		dir: abs,
		now: time.Now,
	}, nil
}

// Dir 返回缓存根目录的绝对路径。
func (s *DiskStore[V]) Dir() string {
	return s.dir
}

// Get 读取未过期的缓存值。文件缺失、内容损坏或已过期均返回 ErrNotFound，
// 后两种情况会先删除对应文件。
func (s *DiskStore[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	path := s.entryPath(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, ErrNotFound
		}
		// 无法读取按损坏处理。
		_ = os.Remove(path)
		return zero, ErrNotFound
	}

	var entry diskEntry[V]
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = os.Remove(path)
		return zero, ErrNotFound
	}

	if epochSeconds(s.now()) > entry.ExpiresAt {
		_ = os.Remove(path)
		return zero, ErrNotFound
	}

	return entry.Value, nil
}

// Set 写入键值。同键并发写由 writeMu 串行化，可观察值总是最后完成的那次写。
func (s *DiskStore[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	entry := diskEntry[V]{
		Key:       key,
		Value:     value,
		CreatedAt: epochSeconds(now),
		ExpiresAt: epochSeconds(now.Add(ttl)),
	}
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(s.dir, ".entry-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(raw)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}

	if err := os.Rename(tempName, s.entryPath(key)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// Delete 删除键对应的文件，返回文件是否存在。
func (s *DiskStore[V]) Delete(ctx context.Context, key string) bool {
	if ctx.Err() != nil {
		return false
	}
	err := os.Remove(s.entryPath(key))
	return err == nil
}

// Clear 删除全部条目文件并返回删除数量。
func (s *DiskStore[V]) Clear(ctx context.Context) int {
	count := 0
	for _, path := range s.entryFiles() {
		if ctx.Err() != nil {
			return count
		}
		if os.Remove(path) == nil {
			count++
		}
	}
	return count
}

// SweepExpired 删除已过期及无法解析的条目文件，返回删除数量。
func (s *DiskStore[V]) SweepExpired(ctx context.Context) int {
	now := epochSeconds(s.now())
	count := 0
	for _, path := range s.entryFiles() {
		if ctx.Err() != nil {
			return count
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			if os.Remove(path) == nil {
				count++
			}
			continue
		}

		var entry diskEntry[V]
		if err := json.Unmarshal(raw, &entry); err != nil || now > entry.ExpiresAt {
			if os.Remove(path) == nil {
				count++
			}
		}
	}
	return count
}

// DiskEntryStats 描述单个磁盘条目的观测信息。
type DiskEntryStats struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DiskStats 汇总磁盘层的条目数与占用字节。
type DiskStats struct {
	Size       int              `json:"size"`
	TotalBytes int64            `json:"total_bytes"`
	Dir        string           `json:"cache_dir"`
	Entries    []DiskEntryStats `json:"entries"`
}

// Stats 枚举全部条目文件并累计大小；无法解析的文件仅计入字节数。
func (s *DiskStore[V]) Stats(ctx context.Context) (DiskStats, error) {
	stats := DiskStats{Dir: s.dir}
	for _, path := range s.entryFiles() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		stats.TotalBytes += info.Size()

		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry diskEntry[V]
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		stats.Size++
		stats.Entries = append(stats.Entries, DiskEntryStats{
			Key:       entry.Key,
			SizeBytes: info.Size(),
			ExpiresAt: fromEpochSeconds(entry.ExpiresAt),
		})
	}
	return stats, nil
}

// entryPath 由键的 sha256 截断哈希推导文件路径；截断到 64 bit 后碰撞
// 概率在本场景可忽略。
func (s *DiskStore[V]) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])[:16]+".json")
}

func (s *DiskStore[V]) entryFiles() []string {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil
	}
	return paths
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpochSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
