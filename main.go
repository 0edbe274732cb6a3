package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/skoldata/skoldata/internal/cache"
	"github.com/skoldata/skoldata/internal/config"
	"github.com/skoldata/skoldata/internal/fetch"
	"github.com/skoldata/skoldata/internal/logging"
	"github.com/skoldata/skoldata/internal/manifest"
	"github.com/skoldata/skoldata/internal/metrics"
	"github.com/skoldata/skoldata/internal/ratelimit"
	"github.com/skoldata/skoldata/internal/safety"
	"github.com/skoldata/skoldata/internal/server"
	"github.com/skoldata/skoldata/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	syncFamily  string
	forceSync   bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["domains"] = len(cfg.Safety.AllowedDomains)
		fields["categories"] = len(cfg.Safety.AllowedCategories)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	validator, err := safety.NewValidator(cfg.Global.BaseURL, cfg.Safety)
	if err != nil {
		fmt.Fprintf(stdErr, "构建安全校验器失败: %v\n", err)
		return 1
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	m, err := manifest.Load(cfg.ManifestPath(), logger)
	if err != nil {
		fmt.Fprintf(stdErr, "加载下载清单失败: %v\n", err)
		return 1
	}

	limiter := ratelimit.NewDomainLimiter(ratelimit.Options{
		RequestsPerSecond: cfg.Global.RequestsPerSecond,
		Burst:             cfg.Global.RequestBurst,
		MaxConcurrent:     cfg.Global.MaxConcurrentPerDomain,
		Recorder:          recorder,
	})

	fetcher, err := fetch.NewFetcher(fetch.FetcherOptions{
		Client:      fetch.NewUpstreamClient(cfg, validator),
		Validator:   validator,
		Limiter:     limiter,
		Manifest:    m,
		Recorder:    recorder,
		Logger:      logger,
		DownloadDir: cfg.DownloadDir(),
		UserAgent:   cfg.Global.UserAgent,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建下载器失败: %v\n", err)
		return 1
	}

	if opts.syncFamily != "" {
		return runSync(fetcher, logger, opts.syncFamily, opts.forceSync)
	}

	// 启动顺序：配置 → 校验器 → 清单/限速 → 两级缓存 → Fiber server，
	// 管理接口与下载链路共享同一批实例。
	diskStore, err := cache.NewDiskStore[[]byte](cfg.CacheDir())
	if err != nil {
		fmt.Fprintf(stdErr, "初始化磁盘缓存失败: %v\n", err)
		return 1
	}
	memoryStore := cache.NewMemoryStore[[]byte](cfg.Global.MemoryCacheItems)
	tiered := cache.NewTieredCache(memoryStore, diskStore, cache.TieredOptions{
		DefaultTTL: cfg.Global.CacheTTL.DurationValue(),
		Recorder:   recorder,
	})

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["base_url"] = cfg.Global.BaseURL
	fields["manifest_entries"] = m.Len()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, tiered, fetcher, registry, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// runSync 以一次性任务模式批量下载指定数据族后退出。
func runSync(fetcher *fetch.Fetcher, logger *logrus.Logger, family string, force bool) int {
	ctx := context.Background()
	jobID := uuid.NewString()

	families := []string{family}
	if family == "all" {
		families = []string{"skolenkaten", "tillstand", "tillsyn"}
	}

	for _, fam := range families {
		var (
			count int
			err   error
		)
		switch fam {
		case "skolenkaten":
			var paths []string
			paths, err = fetcher.FetchAllSkolenkaten(ctx, force)
			count = len(paths)
		case "tillstand":
			var paths []string
			paths, err = fetcher.FetchAllTillstand(ctx, force)
			count = len(paths)
		case "tillsyn":
			var grouped map[string][]string
			grouped, err = fetcher.FetchAllTillsyn(ctx, force)
			for _, paths := range grouped {
				count += len(paths)
			}
		default:
			fmt.Fprintf(stdErr, "未知数据族: %s\n", fam)
			return 2
		}

		if err != nil {
			fmt.Fprintf(stdErr, "同步 %s 失败: %v\n", fam, err)
			return 1
		}
		logger.WithFields(logrus.Fields{
			"action":     "sync",
			"job_id":     jobID,
			"family":     fam,
			"downloaded": count,
		}).Info("同步完成")
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("skoldata", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		syncFamily string
		forceSync  bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SKOLDATA_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&syncFamily, "sync", "", "批量下载指定数据族后退出（skolenkaten/tillstand/tillsyn/all）")
	fs.BoolVar(&forceSync, "force", false, "同步时跳过条件判断强制重新下载")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SKOLDATA_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		syncFamily:  syncFamily,
		forceSync:   forceSync,
	}, nil
}

func startHTTPServer(cfg *config.Config, tiered *cache.TieredCache[[]byte], fetcher *fetch.Fetcher, registry *prometheus.Registry, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:         logger,
		Cache:          tiered,
		Downloads:      fetcher,
		MetricsHandler: metrics.Handler(registry),
		ListenPort:     port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
