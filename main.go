package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bufcache/internal/backing"
	"github.com/any-hub/bufcache/internal/cache"
	"github.com/any-hub/bufcache/internal/config"
	"github.com/any-hub/bufcache/internal/logging"
	"github.com/any-hub/bufcache/internal/proxy"
	"github.com/any-hub/bufcache/internal/server"
	"github.com/any-hub/bufcache/internal/server/routes"
	"github.com/any-hub/bufcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

const configEnv = "BUFCACHE_CONFIG"

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
		fields := cacheFields(logging.BaseFields("check_config", opts.configPath), cfg)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 后备存储 → 缓存引擎 → 句柄表 → Fiber server。
	app, files, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	fields := cacheFields(logging.BaseFields("startup", opts.configPath), cfg)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := 0
	if err := serve(ctx, app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		code = 1
	}
	if err := files.CloseAll(); err != nil {
		logger.WithField("action", "shutdown").WithError(err).Error("关闭句柄时回写失败")
		code = 1
	}
	return code
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("bufcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 BUFCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnv)
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
	}, nil
}

// engineOptions 把 [Cache] 配置翻译为缓存引擎参数。
func engineOptions(cfg *config.Config, logger *logrus.Logger) cache.Options {
	opts := cache.DefaultOptions()
	opts.Capacity = cfg.Cache.Entries
	opts.ChunkSize = cfg.Cache.ChunkSize
	opts.Policy = cfg.Cache.Policy
	opts.MaxRetries = cfg.Cache.MaxRetries
	opts.StrictWriteBack = cfg.Cache.StrictWriteBack
	opts.Logger = logger
	return opts
}

// buildApp 组装完整的服务栈，返回的 Manager 由调用方在退出时关闭。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, *proxy.Manager, error) {
	store, err := backing.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化存储目录失败: %w", err)
	}
	engine, err := cache.New(engineOptions(cfg, logger))
	if err != nil {
		return nil, nil, fmt.Errorf("初始化缓存失败: %w", err)
	}
	files := proxy.NewManager(engine, store, logger)

	app, err := server.NewApp(server.AppOptions{
		Logger:         logger,
		Files:          proxy.NewHandler(files, logger),
		ListenPort:     cfg.Global.ListenPort,
		RequestTimeout: cfg.Global.RequestTimeout.DurationValue(),
	})
	if err != nil {
		return nil, nil, err
	}
	routes.RegisterCacheRoutes(app, files)
	server.RegisterFallback(app, logger)
	return app, files, nil
}

// serve 监听端口直到 ctx 被取消，然后优雅关闭。
func serve(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("收到退出信号")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func cacheFields(fields logrus.Fields, cfg *config.Config) logrus.Fields {
	fields["policy"] = cfg.Cache.Policy.String()
	fields["entries"] = cfg.Cache.Entries
	fields["chunk_size"] = cfg.Cache.ChunkSize
	fields["cache_bytes"] = cfg.Cache.SizeBytes()
	fields["strict_write_back"] = cfg.Cache.StrictWriteBack
	return fields
}
