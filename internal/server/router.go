// Package server 提供管理面 HTTP 接口：健康检查、缓存与下载
// 管理端点以及 Prometheus 指标導出。
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/skoldata/skoldata/internal/cache"
	"github.com/skoldata/skoldata/internal/fetch"
	"github.com/skoldata/skoldata/internal/version"
)

// CacheAdmin 是缓存管理端点依赖的最小接口，便于测试注入假实现。
type CacheAdmin interface {
	Clear(ctx context.Context) cache.TierCounts
	SweepExpired(ctx context.Context) cache.TierCounts
	Stats(ctx context.Context) (cache.Stats, error)
}

// DownloadAdmin 是下载管理端点依赖的最小接口。
type DownloadAdmin interface {
	Stats() fetch.DownloadStats
	FetchAllSkolenkaten(ctx context.Context, force bool) ([]string, error)
	FetchAllTillstand(ctx context.Context, force bool) ([]string, error)
	FetchAllTillsyn(ctx context.Context, force bool) (map[string][]string, error)
	ClearManifest() (int, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger         *logrus.Logger
	Cache          CacheAdmin
	Downloads      DownloadAdmin
	MetricsHandler http.Handler
	ListenPort     int
}

const contextKeyRequestID = "_skoldata_request_id"

// NewApp builds a Fiber application with request-ID middleware and the
// management endpoints.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache admin is required")
	}
	if opts.Downloads == nil {
		return nil, errors.New("download admin is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	registerHealthRoutes(app)
	registerCacheRoutes(app, opts)
	registerDownloadRoutes(app, opts)

	if opts.MetricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.MetricsHandler))
	}

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，写入响应头便于日志串联。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func registerHealthRoutes(app *fiber.App) {
	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})
}

func registerCacheRoutes(app *fiber.App, opts AppOptions) {
	app.Get("/-/cache/stats", func(c fiber.Ctx) error {
		stats, err := opts.Cache.Stats(c.Context())
		if err != nil {
			opts.Logger.WithError(err).Warn("读取缓存统计失败")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "cache_stats_failed",
			})
		}
		return c.JSON(stats)
	})

	app.Post("/-/cache/clear", func(c fiber.Ctx) error {
		counts := opts.Cache.Clear(c.Context())
		opts.Logger.WithFields(logrus.Fields{
			"action": "cache_clear",
			"memory": counts.Memory,
			"disk":   counts.Disk,
		}).Info("缓存已清空")
		return c.JSON(counts)
	})

	app.Post("/-/cache/sweep", func(c fiber.Ctx) error {
		counts := opts.Cache.SweepExpired(c.Context())
		return c.JSON(counts)
	})
}

func registerDownloadRoutes(app *fiber.App, opts AppOptions) {
	app.Get("/-/downloads/stats", func(c fiber.Ctx) error {
		return c.JSON(opts.Downloads.Stats())
	})

	app.Post("/-/downloads/manifest/clear", func(c fiber.Ctx) error {
		n, err := opts.Downloads.ClearManifest()
		if err != nil {
			opts.Logger.WithError(err).Warn("清空下载清单失败")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "manifest_clear_failed",
			})
		}
		return c.JSON(fiber.Map{"cleared": n})
	})

	// 同步接口会逐个探测源站，耗时以分钟计，调用方需自行设置超时。
	app.Post("/-/downloads/sync/:family", func(c fiber.Ctx) error {
		family := c.Params("family")
		force := c.Query("force") == "true" || c.Query("force") == "1"

		var (
			count int
			err   error
		)
		switch family {
		case "skolenkaten":
			var paths []string
			paths, err = opts.Downloads.FetchAllSkolenkaten(c.Context(), force)
			count = len(paths)
		case "tillstand":
			var paths []string
			paths, err = opts.Downloads.FetchAllTillstand(c.Context(), force)
			count = len(paths)
		case "tillsyn":
			var grouped map[string][]string
			grouped, err = opts.Downloads.FetchAllTillsyn(c.Context(), force)
			for _, paths := range grouped {
				count += len(paths)
			}
		default:
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "unknown_family",
			})
		}

		if err != nil {
			opts.Logger.WithError(err).WithField("family", family).Warn("同步失败")
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":  "sync_failed",
				"family": family,
			})
		}
		return c.JSON(fiber.Map{
			"family":     family,
			"downloaded": count,
		})
	})
}
