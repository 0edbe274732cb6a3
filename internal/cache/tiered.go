package cache

import (
	"context"
	"time"

	"github.com/skoldata/skoldata/internal/metrics"
)

// TieredCache 组合内存与磁盘两级缓存：读时先内存后磁盘并回填（promotion），
// 写时默认双写。两级之间没有跨层事务——两层都只是缓存，最坏结果是某层
// 缺失一份可重建的数据。
type TieredCache[V any] struct {
	memory     *MemoryStore[V]
	disk       *DiskStore[V]
	defaultTTL time.Duration
	recorder   *metrics.Recorder
}

// TieredOptions 控制 TieredCache 的默认 TTL 与指标埋点。
type TieredOptions struct {
	DefaultTTL time.Duration
	Recorder   *metrics.Recorder
}

// NewTieredCache 组装两级缓存；DefaultTTL 非正时回退到 24h。
func NewTieredCache[V any](memory *MemoryStore[V], disk *DiskStore[V], opts TieredOptions) *TieredCache[V] {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TieredCache[V]{
		memory:     memory,
		disk:       disk,
		defaultTTL: ttl,
		recorder:   opts.Recorder,
	}
}

// Get 先查内存，未命中再查磁盘；磁盘命中时以默认 TTL 回填内存。
// 回填刻意不继承磁盘条目的剩余 TTL（见 DESIGN.md 的取舍记录）。
func (t *TieredCache[V]) Get(ctx context.Context, key string) (V, error) {
	if value, ok := t.memory.Get(key); ok {
		t.recorder.CacheHit("memory")
		return value, nil
	}

	value, err := t.disk.Get(ctx, key)
	if err != nil {
		var zero V
		if err == ErrNotFound {
			t.recorder.CacheMiss()
		}
		return zero, err
	}

	t.memory.Set(key, value, t.defaultTTL)
	t.recorder.CacheHit("disk")
	return value, nil
}

// SetOptions 控制单次写入的 TTL 与层级；TTL 为零时使用默认值，
// MemoryOnly 适合体积大或短命的值。
type SetOptions struct {
	TTL        time.Duration
	MemoryOnly bool
}

// Set 总是写内存；除非 MemoryOnly，同一 TTL 也写入磁盘。
func (t *TieredCache[V]) Set(ctx context.Context, key string, value V, opts SetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = t.defaultTTL
	}

	t.memory.Set(key, value, ttl)
	if opts.MemoryOnly {
		return nil
	}
	return t.disk.Set(ctx, key, value, ttl)
}

// Delete 从两级删除，任一层存在即视为删除成功。
func (t *TieredCache[V]) Delete(ctx context.Context, key string) bool {
	memoryDeleted := t.memory.Delete(key)
	diskDeleted := t.disk.Delete(ctx, key)
	return memoryDeleted || diskDeleted
}

// TierCounts 表示对两级分别生效的条目数。
type TierCounts struct {
	Memory int `json:"memory"`
	Disk   int `json:"disk"`
}

// Clear 清空两级缓存并返回各层清除数量。
func (t *TieredCache[V]) Clear(ctx context.Context) TierCounts {
	return TierCounts{
		Memory: t.memory.Clear(),
		Disk:   t.disk.Clear(ctx),
	}
}

// SweepExpired 清除两级中的过期条目并返回各层数量。
func (t *TieredCache[V]) SweepExpired(ctx context.Context) TierCounts {
	return TierCounts{
		Memory: t.memory.SweepExpired(),
		Disk:   t.disk.SweepExpired(ctx),
	}
}

// Stats 汇总两级缓存的快照。
type Stats struct {
	Memory MemoryStats `json:"memory"`
	Disk   DiskStats   `json:"disk"`
}

// Stats 返回两级缓存的统计信息；磁盘层枚举出错时返回已收集的部分。
func (t *TieredCache[V]) Stats(ctx context.Context) (Stats, error) {
	diskStats, err := t.disk.Stats(ctx)
	return Stats{
		Memory: t.memory.Stats(),
		Disk:   diskStats,
	}, err
}
