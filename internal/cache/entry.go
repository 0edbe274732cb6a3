// Package cache 实现两级缓存：内存 LRU 层与按键落盘的磁盘层，
// 以及在其上组合读穿/双写语义的 TieredCache。
package cache

import (
	"errors"
	"time"
)

// ErrNotFound 表示缓存不存在；过期与损坏条目同样以缺席呈现。
var ErrNotFound = errors.New("cache entry not found")

// Entry 持有缓存值及其元数据，生命周期归属创建它的存储层。
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	TTL       time.Duration
	Hits      int64
}

// ExpiresAt 返回条目的过期时刻。
func (e *Entry[V]) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired 以惰性方式判定过期：仅在访问时求值，不依赖后台清理。
func (e *Entry[V]) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Age 返回条目自创建以来经过的时间。
func (e *Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// EntryStats 描述单个条目的观测信息，用于 stats 输出。
type EntryStats struct {
	Key        string    `json:"key"`
	Hits       int64     `json:"hits"`
	AgeSeconds float64   `json:"age_seconds"`
	ExpiresAt  time.Time `json:"expires_at"`
}
