// Command extractbridged hosts the plugin registries as a long-running process:
// it registers the built-in plugins, loads the plugin manifest, reports health
// and publishes registry events until it is told to stop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"ExtractBridge/internal/config"
	"ExtractBridge/internal/events"
	"ExtractBridge/internal/health"
	"ExtractBridge/internal/hosting"
	"ExtractBridge/internal/observability/metrics"
	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/bridge/interp/python"
	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/extractors/docconv"
	"ExtractBridge/pkg/extractors/plaintext"
	"ExtractBridge/pkg/logger"
	"ExtractBridge/pkg/ocr/tesseract"
	"ExtractBridge/pkg/plugin"
)

const version = "0.1.0"

// CLI defines the command-line interface for extractbridged.
var CLI struct {
	Config string `name:"config" short:"c" help:"Path to the YAML configuration file" type:"path" env:"EXTRACTBRIDGE_CONFIG"`

	Serve   ServeCmd   `cmd:"" help:"Load plugins and serve until interrupted"`
	Health  HealthCmd  `cmd:"" help:"Load plugins and print the registry health as JSON"`
	Extract ExtractCmd `cmd:"" help:"Extract one file through the loaded plugins"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// app is everything a command needs after startup.
type app struct {
	cfg     *config.Config
	regs    *plugin.Registries
	manager *plugin.Manager
	hosts   *hosting.Hosts
	events  *events.Dispatcher
	metrics *metrics.Collector
	log     *slog.Logger
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	rt := &app{cfg: cfg, metrics: metrics.NewCollector(), log: logger.Named("extractbridged")}

	exec := bridge.NewExecutor(cfg.Executor.MaxBlocking)
	bridge.SetDefaultExecutor(exec)

	sinks, err := eventSinks(ctx, cfg.Events)
	if err != nil {
		return nil, err
	}
	regOpts := []plugin.RegistryOption{plugin.WithCallObserver(rt.metrics.Observe)}
	if len(sinks) > 0 {
		rt.events = events.NewDispatcher(sinks)
		regOpts = append(regOpts, plugin.WithObserver(rt.events.Observer()))
	}
	rt.regs = plugin.NewRegistries(regOpts...)

	if err := registerBuiltins(rt.regs, cfg, exec); err != nil {
		rt.close()
		return nil, err
	}

	if cfg.Plugins.Manifest == "" {
		return rt, nil
	}
	manifest, err := plugin.LoadManifest(cfg.Plugins.Manifest)
	if err != nil {
		rt.close()
		return nil, err
	}
	if !cfg.Python.Enabled {
		for name, pc := range manifest.Plugins {
			if pc.Enabled && pc.Kind == plugin.KindPython {
				rt.log.Warn("python 未启用，跳过插件", slog.String("plugin", name))
				pc.Enabled = false
				manifest.Plugins[name] = pc
			}
		}
	}
	rt.hosts = hosting.New(hosting.Config{
		Python: python.Config{
			Executable: cfg.Python.Executable,
			WorkingDir: cfg.Python.WorkingDir,
			Path:       cfg.Python.Path,
		},
		PluginDir: manifest.PluginDir,
		Executor:  exec,
	})
	rt.manager, err = plugin.NewManager(manifest, rt.regs, rt.hosts.Options()...)
	if err != nil {
		rt.close()
		return nil, err
	}
	if err := rt.manager.LoadAll(ctx); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

// eventSinks opens every configured event destination.
func eventSinks(ctx context.Context, cfg config.EventsConfig) (events.Fanout, error) {
	var sinks events.Fanout
	if cfg.AMQP.URL != "" {
		pub, err := events.NewAMQPPublisher(events.AMQPConfig{URL: cfg.AMQP.URL, Queue: cfg.AMQP.Queue, Durable: true})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pub)
	}
	if cfg.MySQL.DSN != "" {
		audit, err := events.NewMySQLSink(ctx, events.MySQLConfig{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, audit)
	}
	return sinks, nil
}

func registerBuiltins(regs *plugin.Registries, cfg *config.Config, exec *bridge.Executor) error {
	var builtins []plugin.Plugin
	if cfg.Tesseract.Enabled {
		builtins = append(builtins, tesseract.New(
			tesseract.WithLanguages(cfg.Tesseract.Languages...),
			tesseract.WithPriority(cfg.Tesseract.Priority),
			tesseract.WithExecutor(exec)))
	}
	if cfg.Docconv.Enabled {
		builtins = append(builtins, docconv.New(
			docconv.WithReadability(cfg.Docconv.Readability),
			docconv.WithExecutor(exec)))
	}
	if cfg.Plaintext.Enabled {
		builtins = append(builtins, plaintext.New())
	}
	for _, p := range builtins {
		if _, err := regs.Register(p); err != nil {
			return fmt.Errorf("注册内置插件 %s 失败: %w", p.Name(), err)
		}
	}
	return nil
}

// close unloads manifest plugins, clears the registries and releases hosts,
// in that order.
func (rt *app) close() {
	if rt.manager != nil {
		if err := rt.manager.UnloadAll(); err != nil {
			rt.log.Warn("卸载插件失败", slog.Any("error", err))
		}
	}
	if rt.regs != nil {
		if err := rt.regs.ClearAll(); err != nil {
			rt.log.Warn("清空注册表失败", slog.Any("error", err))
		}
	}
	if rt.hosts != nil {
		if err := rt.hosts.Close(); err != nil {
			rt.log.Warn("关闭插件宿主失败", slog.Any("error", err))
		}
	}
	if rt.events != nil {
		if err := rt.events.Close(); err != nil {
			rt.log.Warn("关闭事件发布失败", slog.Any("error", err))
		}
	}
	_ = logger.Sync()
}

// ServeCmd runs the daemon.
type ServeCmd struct{}

func (c *ServeCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	health.ValidateAtStartup(rt.regs)

	if addr := rt.cfg.Health.Redis.Address; addr != "" {
		rc := rt.cfg.Health.Redis
		reporter, err := health.NewRedisReporter(ctx, health.RedisConfig{
			Address:  rc.Address,
			Password: rc.Password,
			DB:       rc.DB,
			Key:      rc.Key,
			Interval: rc.Interval,
			TTL:      rc.TTL,
		}, rt.regs)
		if err != nil {
			return err
		}
		defer reporter.Close()
		go func() {
			if err := reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.log.Warn("健康上报已停止", slog.Any("error", err))
			}
		}()
	}

	if addr := rt.cfg.Metrics.Address; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr, rt.metrics, rt.regs); err != nil && !errors.Is(err, context.Canceled) {
				rt.log.Error("指标服务异常退出", slog.String("address", addr), slog.Any("error", err))
			}
		}()
	}

	rt.log.Info("extractbridged 已启动", slog.String("version", version))
	<-ctx.Done()
	rt.log.Info("收到退出信号，正在卸载插件")
	return nil
}

// HealthCmd prints the registry health after loading.
type HealthCmd struct{}

func (c *HealthCmd) Run(kctx *kong.Context) error {
	rt, err := setup(context.Background())
	if err != nil {
		return err
	}
	defer rt.close()
	report := health.ValidateAtStartup(rt.regs)
	enc := json.NewEncoder(kctx.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// ExtractCmd extracts one file and prints the result as JSON.
type ExtractCmd struct {
	Path     string `arg:"" help:"File to extract" type:"existingfile"`
	MimeType string `name:"mime-type" short:"m" help:"MIME type, guessed from the extension when empty"`
	Config   string `name:"extraction-config" help:"Extraction config as JSON"`
}

func (c *ExtractCmd) Run(kctx *kong.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var extractionCfg *extraction.Config
	if c.Config != "" {
		var err error
		if extractionCfg, err = extraction.DecodeConfig([]byte(c.Config)); err != nil {
			return fmt.Errorf("解析提取配置失败: %w", err)
		}
	}

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.regs.ExtractFile(ctx, c.Path, c.MimeType, extractionCfg)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(kctx.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(kctx *kong.Context) error {
	_, err := fmt.Fprintf(kctx.Stdout, "extractbridged %s\n", version)
	return err
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("extractbridged"),
		kong.Description("Plugin bridge for document extraction"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
