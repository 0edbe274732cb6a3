// Package metrics 聚合 Prometheus 指标，供缓存与抓取流程埋点。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 持有全部业务指标；nil Recorder 上的方法均为 no-op，方便测试省略埋点。
type Recorder struct {
	cacheHits     *prometheus.CounterVec
	cacheMisses   prometheus.Counter
	downloads     *prometheus.CounterVec
	downloadBytes prometheus.Counter
	limiterWait   prometheus.Histogram
}

// NewRecorder 注册所有指标到 reg 并返回 Recorder。
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skoldata",
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skoldata",
			Name:      "cache_misses_total",
			Help:      "Cache lookups that missed every tier.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skoldata",
			Name:      "downloads_total",
			Help:      "Download attempts by outcome.",
		}, []string{"result"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skoldata",
			Name:      "download_bytes_total",
			Help:      "Bytes persisted from successful downloads.",
		}),
		limiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "skoldata",
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time spent waiting for per-domain rate limit capacity.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	reg.MustRegister(r.cacheHits, r.cacheMisses, r.downloads, r.downloadBytes, r.limiterWait)
	return r
}

// CacheHit 记录一次指定层级的缓存命中。
func (r *Recorder) CacheHit(tier string) {
	if r == nil {
		return
	}
	r.cacheHits.WithLabelValues(tier).Inc()
}

// CacheMiss 记录一次两级均未命中的查找。
func (r *Recorder) CacheMiss() {
	if r == nil {
		return
	}
	r.cacheMisses.Inc()
}

// Download 按结果维度记录一次下载尝试。
func (r *Recorder) Download(result string) {
	if r == nil {
		return
	}
	r.downloads.WithLabelValues(result).Inc()
}

// DownloadBytes 累加成功落盘的字节数。
func (r *Recorder) DownloadBytes(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.downloadBytes.Add(float64(n))
}

// LimiterWait 记录一次限流等待耗时（秒）。
func (r *Recorder) LimiterWait(seconds float64) {
	if r == nil || seconds < 0 {
		return
	}
	r.limiterWait.Observe(seconds)
}

// Handler 返回暴露 reg 内容的 HTTP handler，挂载到诊断路由。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
