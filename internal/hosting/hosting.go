// Package hosting 把清单中的 python 与 script 条目实例化为插件。
package hosting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/bridge/interp"
	"ExtractBridge/pkg/bridge/interp/python"
	"ExtractBridge/pkg/bridge/script"
	"ExtractBridge/pkg/logger"
	"ExtractBridge/pkg/plugin"
)

// Config 描述宿主资源。
type Config struct {
	Python    python.Config
	PluginDir string
	Executor  *bridge.Executor
}

// Hosts 持有 Python 宿主进程和脚本事件循环。Python 进程在第一个 python
// 条目出现时才启动。
type Hosts struct {
	cfg Config

	mu     sync.Mutex
	python *python.Host
	loops  []*script.Loop
	closed bool
	log    *slog.Logger
}

// New 创建宿主集合。
func New(cfg Config) *Hosts {
	if cfg.Executor == nil {
		cfg.Executor = bridge.DefaultExecutor()
	}
	return &Hosts{cfg: cfg, log: logger.Named("hosting")}
}

// Options 返回为 plugin.Manager 注册 python 与 script 工厂的选项。
func (h *Hosts) Options() []plugin.Option {
	return []plugin.Option{
		plugin.WithFactory(plugin.KindPython, plugin.FactoryFunc(h.BuildPython)),
		plugin.WithFactory(plugin.KindScript, plugin.FactoryFunc(h.BuildScript)),
	}
}

func (h *Hosts) pythonHost(ctx context.Context) (*python.Host, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, xerrors.New(xerrors.CodeBridgeClosed, "hosts closed")
	}
	if h.python != nil {
		return h.python, nil
	}
	host, err := python.Start(ctx, h.cfg.Python)
	if err != nil {
		return nil, fmt.Errorf("启动 Python 宿主失败: %w", err)
	}
	h.python = host
	return host, nil
}

// BuildPython 在 Python 宿主中实例化 module.class，kwargs 取自 options。
// Path 不为空时先加入 sys.path。
func (h *Hosts) BuildPython(ctx context.Context, name string, cfg plugin.PluginConfig) (plugin.Plugin, error) {
	if cfg.Module == "" || cfg.Class == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "python plugin needs module and class", xerrors.WithPlugin(name))
	}
	host, err := h.pythonHost(ctx)
	if err != nil {
		return nil, err
	}
	if dir := cfg.ResolvePath(h.cfg.PluginDir); dir != "" {
		if err := host.AddPath(ctx, dir); err != nil {
			return nil, err
		}
	}
	obj, err := host.Instantiate(ctx, cfg.Module, cfg.Class, cfg.Options)
	if err != nil {
		return nil, err
	}
	p, err := newInterpPlugin(ctx, host, obj, cfg.Capability, interp.WithExecutor(h.cfg.Executor))
	if err != nil {
		_ = host.Release(ctx, obj)
		return nil, err
	}
	return withOverrides(p, name, cfg), nil
}

func newInterpPlugin(ctx context.Context, in interp.Interpreter, obj interp.Object, capability plugin.Capability, opts ...interp.Option) (plugin.Plugin, error) {
	capability, err := plugin.ParseCapability(string(capability))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "resolve capability")
	}
	switch capability {
	case plugin.CapabilityDocumentExtractor:
		return interp.NewExtractor(ctx, in, obj, opts...)
	case plugin.CapabilityOcrBackend:
		return interp.NewOcrBackend(ctx, in, obj, opts...)
	case plugin.CapabilityPostProcessor:
		return interp.NewPostProcessor(ctx, in, obj, opts...)
	case plugin.CapabilityValidator:
		return interp.NewValidator(ctx, in, obj, opts...)
	}
	return nil, xerrors.New(xerrors.CodeInvalidArgument, "unhandled capability "+string(capability))
}

// BuildScript 在独立的事件循环中执行 path 指向的脚本，取出 export 导出的
// 对象。构造函数以 options 为唯一参数。
func (h *Hosts) BuildScript(ctx context.Context, name string, cfg plugin.PluginConfig) (plugin.Plugin, error) {
	path := cfg.ResolvePath(h.cfg.PluginDir)
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "script plugin needs a path", xerrors.WithPlugin(name))
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取脚本 %s 失败: %w", filepath.Base(path), err)
	}

	loop := script.NewLoop()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		loop.Close()
		return nil, xerrors.New(xerrors.CodeBridgeClosed, "hosts closed")
	}
	h.loops = append(h.loops, loop)
	h.mu.Unlock()

	var args []any
	if cfg.Options != nil {
		args = append(args, cfg.Options)
	}
	obj, err := script.LoadScript(ctx, loop, string(src), cfg.Export, args...)
	if err != nil {
		return nil, err
	}
	p, err := newScriptPlugin(ctx, obj, cfg.Capability)
	if err != nil {
		return nil, err
	}
	return withOverrides(p, name, cfg), nil
}

func newScriptPlugin(ctx context.Context, obj *script.Value, capability plugin.Capability) (plugin.Plugin, error) {
	capability, err := plugin.ParseCapability(string(capability))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "resolve capability")
	}
	switch capability {
	case plugin.CapabilityDocumentExtractor:
		return script.NewExtractor(ctx, obj)
	case plugin.CapabilityOcrBackend:
		return script.NewOcrBackend(ctx, obj)
	case plugin.CapabilityPostProcessor:
		return script.NewPostProcessor(ctx, obj)
	case plugin.CapabilityValidator:
		return script.NewValidator(ctx, obj)
	}
	return nil, xerrors.New(xerrors.CodeInvalidArgument, "unhandled capability "+string(capability))
}

// Close 关闭所有事件循环和 Python 宿主。应在插件卸载之后调用。
func (h *Hosts) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, loop := range h.loops {
		loop.Close()
	}
	h.loops = nil
	var errs []error
	if h.python != nil {
		errs = append(errs, h.python.Close())
		h.python = nil
	}
	h.log.Debug("宿主资源已释放")
	return errors.Join(errs...)
}
