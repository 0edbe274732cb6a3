package fetch

import "path/filepath"

// CategoryStats 是单个分类下已下载文件的汇总。
type CategoryStats struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// DownloadStats 汇总下载清单，供状态接口对外展示。
type DownloadStats struct {
	TotalFiles     int                      `json:"total_files"`
	TotalSizeBytes int64                    `json:"total_size_bytes"`
	ByCategory     map[string]CategoryStats `json:"by_category"`
	LastUpdated    string                   `json:"last_updated,omitempty"`
}

// Stats 按清单快照计算下载统计。分类取本地路径的父目录名。
func (f *Fetcher) Stats() DownloadStats {
	stats := DownloadStats{
		ByCategory: make(map[string]CategoryStats),
	}

	for _, entry := range f.manifest.Entries() {
		category := filepath.Base(filepath.Dir(entry.LocalPath))

		cs := stats.ByCategory[category]
		cs.Count++
		cs.Size += entry.Size
		stats.ByCategory[category] = cs

		stats.TotalFiles++
		stats.TotalSizeBytes += entry.Size

		if entry.DownloadedAt > stats.LastUpdated {
			stats.LastUpdated = entry.DownloadedAt
		}
	}
	return stats
}
