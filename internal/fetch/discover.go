package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// 源站没有文件列表接口，可用文件靠已知路径模式逐一探测。
const (
	skolenkatenBasePath = "/globalassets/02-beslut-rapporter-stat/statistik/statistik-skolenkaten/"
	tillstandBasePath   = "/globalassets/02-beslut-rapporter-stat/statistik/statistik-tillstand/"

	vitenPath           = "/globalassets/02-beslut-rapporter-stat/statistik/statistik-viten/viten-historik.xlsx"
	planeradTillsynBase = "/globalassets/02-beslut-rapporter-stat/statistik/planerad-tillsyn/"
	tuiBase             = "/globalassets/02-beslut-rapporter-stat/statistik/rt-individ/"

	skolenkatenFirstYear = 2015
	tillstandFirstYear   = 2018
	tillsynFirstYear     = 2020
	lastYear             = 2025
)

// skolenkatenRespondentTypes 是学校问卷的全部受访者群体。
var skolenkatenRespondentTypes = []string{
	"elever-grundskola-ak-5",
	"elever-grundskola-ak-8",
	"elever-gymnasieskola-ar-2",
	"larare-grundskola-ak-1-9",
	"larare-gymnasieskola",
	"vardnadshavare-forskoleklass",
	"vardnadshavare-grundskola-ak-1-9",
	"vardnadshavare-anpassad-grundskola",
	"pedagogisk-personal-forskola",
	"vardnadshavare-forskola",
}

// politeDelay 是批量下载中相邻文件之间的礼貌间隔。
const politeDelay = 500 * time.Millisecond

// exists 发送限速 HEAD 判断 url 是否存在；任何失败都按不存在处理，
// 探测阶段的误报只会损失一个候选模式。
func (f *Fetcher) exists(ctx context.Context, rawURL string) bool {
	fullURL, err := f.validator.ValidateURL(rawURL)
	if err != nil {
		return false
	}
	head, err := f.probe(ctx, fullURL, f.hostOf(fullURL))
	if err != nil {
		return false
	}
	return head != nil
}

// DiscoverSkolenkaten 按年份与受访者群体探测学校问卷文件。
// 每个组合尝试多种命名模式，命中第一个即停。
func (f *Fetcher) DiscoverSkolenkaten(ctx context.Context) ([]string, error) {
	var discovered []string

	for year := skolenkatenFirstYear; year <= lastYear; year++ {
		for _, respType := range skolenkatenRespondentTypes {
			patterns := []string{
				fmt.Sprintf("%s%d/%s.xlsx", skolenkatenBasePath, year, respType),
				fmt.Sprintf("%s%d/%s-vt%d.xlsx", skolenkatenBasePath, year, respType, year),
				fmt.Sprintf("%s%d/%s-ht%d.xlsx", skolenkatenBasePath, year, respType, year),
				fmt.Sprintf("%s%d/vt-%d/%s.xlsx", skolenkatenBasePath, year, year, respType),
				fmt.Sprintf("%s%d/ht-%d/%s.xlsx", skolenkatenBasePath, year, year, respType),
			}
			for _, pattern := range patterns {
				if err := ctx.Err(); err != nil {
					return discovered, err
				}
				if f.exists(ctx, pattern) {
					discovered = append(discovered, pattern)
					break
				}
			}
		}
	}
	return discovered, nil
}

// DiscoverTillstand 探测办学许可决定的统计文件。
func (f *Fetcher) DiscoverTillstand(ctx context.Context) ([]string, error) {
	var discovered []string

	for year := tillstandFirstYear; year <= lastYear; year++ {
		nextShort := (year + 2) % 100
		patterns := []string{
			fmt.Sprintf("%s%d-skolstart-%d-%02d/tillstandsbeslut-%d.xlsx",
				tillstandBasePath, year, year+1, nextShort, year),
			fmt.Sprintf("%s%d-skolstart-%d-%02d/tillstandsbeslut-%d-publicering.xlsx",
				tillstandBasePath, year, year+1, nextShort, year),
			fmt.Sprintf("%s%d/tillstandsbeslut-%d.xlsx", tillstandBasePath, year, year),
		}
		for _, pattern := range patterns {
			if err := ctx.Err(); err != nil {
				return discovered, err
			}
			if f.exists(ctx, pattern) {
				discovered = append(discovered, pattern)
				break
			}
		}
	}
	return discovered, nil
}

// DiscoverTillsyn 探测监察统计文件，按子类分组返回。
func (f *Fetcher) DiscoverTillsyn(ctx context.Context) (map[string][]string, error) {
	discovered := map[string][]string{
		"viten":            nil,
		"tui":              nil,
		"planerad_tillsyn": nil,
	}

	if f.exists(ctx, vitenPath) {
		discovered["viten"] = append(discovered["viten"], vitenPath)
	}

	for year := tillsynFirstYear; year <= lastYear; year++ {
		patterns := []string{
			fmt.Sprintf("%s%d/rt-individ-%d.xlsx", tuiBase, year, year),
			fmt.Sprintf("%s%d/statistik-riktad-tillsyn-individ-%d.xlsx", tuiBase, year, year),
			fmt.Sprintf("%srt-%d-individ/statistik-riktad-tillsyn-individ-%d.xlsx", tuiBase, year, year),
		}
		for _, pattern := range patterns {
			if err := ctx.Err(); err != nil {
				return discovered, err
			}
			if f.exists(ctx, pattern) {
				discovered["tui"] = append(discovered["tui"], pattern)
				break
			}
		}
	}

	for year := tillsynFirstYear; year <= lastYear; year++ {
		patterns := []string{
			fmt.Sprintf("%s%d/planerad-tillsyn-%d.xlsx", planeradTillsynBase, year, year),
			fmt.Sprintf("%spt-%d/statistik-planerad-tillsyn-%d.xlsx", planeradTillsynBase, year, year),
			fmt.Sprintf("%s%d/arsstatistik-%d.xlsx", planeradTillsynBase, year, year),
		}
		for _, pattern := range patterns {
			if err := ctx.Err(); err != nil {
				return discovered, err
			}
			if f.exists(ctx, pattern) {
				discovered["planerad_tillsyn"] = append(discovered["planerad_tillsyn"], pattern)
				break
			}
		}
	}

	return discovered, nil
}

// FetchAllSkolenkaten 探测并下载全部学校问卷文件，返回本地路径。
// 单个文件失败不中断整批，只记日志。
func (f *Fetcher) FetchAllSkolenkaten(ctx context.Context, force bool) ([]string, error) {
	urls, err := f.DiscoverSkolenkaten(ctx)
	if err != nil {
		return nil, err
	}
	f.logger.WithField("count", len(urls)).Info("发现学校问卷文件")
	return f.downloadBatch(ctx, urls, "skolenkaten", force)
}

// FetchAllTillstand 探测并下载全部办学许可统计文件。
func (f *Fetcher) FetchAllTillstand(ctx context.Context, force bool) ([]string, error) {
	urls, err := f.DiscoverTillstand(ctx)
	if err != nil {
		return nil, err
	}
	f.logger.WithField("count", len(urls)).Info("发现办学许可文件")
	return f.downloadBatch(ctx, urls, "tillstand", force)
}

// FetchAllTillsyn 探测并下载全部监察统计文件，按子类分组返回。
func (f *Fetcher) FetchAllTillsyn(ctx context.Context, force bool) (map[string][]string, error) {
	urls, err := f.DiscoverTillsyn(ctx)
	if err != nil {
		return nil, err
	}

	downloaded := make(map[string][]string, len(urls))
	for sub, urlList := range urls {
		f.logger.WithField("count", len(urlList)).WithField("category", sub).Info("发现监察文件")
		paths, err := f.downloadBatch(ctx, urlList, "tillsyn/"+sub, force)
		if err != nil {
			return downloaded, err
		}
		downloaded[sub] = paths
	}
	return downloaded, nil
}

// downloadBatch 逐个下载 urls，文件之间保持礼貌间隔。
func (f *Fetcher) downloadBatch(ctx context.Context, urls []string, category string, force bool) ([]string, error) {
	var paths []string
	for _, u := range urls {
		result, err := f.Download(ctx, u, category, force)
		if err != nil {
			if ctx.Err() != nil {
				return paths, ctx.Err()
			}
			continue
		}
		paths = append(paths, result.LocalPath)

		select {
		case <-time.After(politeDelay):
		case <-ctx.Done():
			return paths, ctx.Err()
		}
	}
	return paths, nil
}

// statusOK 判断状态码是否为 2xx。
func statusOK(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
