// Package python hosts plugin objects inside a long-lived python3 process.
// The process runs an embedded host script and speaks newline-delimited JSON
// over stdin/stdout; one request is in flight at a time, which makes the
// request channel the interpreter's global lock.
package python

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/bridge/interp"
	"ExtractBridge/pkg/logger"
)

//go:embed host.py
var hostScript string

// Config 描述 Python 宿主进程的启动参数。
type Config struct {
	// Executable 默认为 python3。
	Executable string
	// WorkingDir 为空时继承当前目录。
	WorkingDir string
	// Path 追加到 PYTHONPATH，供插件模块导入。
	Path []string
	Env  []string
}

// Host 是一个常驻的 Python 解释器进程。
type Host struct {
	cfg    Config
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *bytes.Buffer

	lock   *interp.GlobalLock
	dead   atomic.Bool
	closed atomic.Bool
	once   sync.Once
	exited chan struct{}
	log    *slog.Logger
}

// Start 启动宿主进程并等待握手完成。
func Start(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Executable == "" {
		cfg.Executable = "python3"
	}
	cmd := exec.Command(cfg.Executable, "-u", "-c", hostScript)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	cmd.Env = append(os.Environ(), cfg.Env...)
	if len(cfg.Path) > 0 {
		paths := append([]string{}, cfg.Path...)
		if existing := os.Getenv("PYTHONPATH"); existing != "" {
			paths = append(paths, existing)
		}
		cmd.Env = append(cmd.Env, "PYTHONPATH="+strings.Join(paths, string(filepath.ListSeparator)))
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 stdin 管道失败: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("创建 stdout 管道失败: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = &lockedWriter{w: stderr}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动 Python 进程失败: %w", err)
	}

	h := &Host{
		cfg:    cfg,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 1<<16),
		stderr: stderr,
		lock:   interp.NewGlobalLock(),
		exited: make(chan struct{}),
		log:    logger.Named("python").With(slog.String("executable", cfg.Executable)),
	}
	go func() {
		_ = cmd.Wait()
		h.dead.Store(true)
		close(h.exited)
	}()

	s, err := h.Acquire(ctx)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	_, err = s.(*session).rpc(request{Op: "ping"})
	s.Release()
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	h.log.Info("Python 宿主进程已启动", slog.Int("pid", cmd.Process.Pid))
	return h, nil
}

// Instantiate 导入 module 并以 kwargs 构造 class 的实例。
func (h *Host) Instantiate(ctx context.Context, module, class string, kwargs map[string]any) (interp.Object, error) {
	s, err := h.Acquire(ctx)
	if err != nil {
		return interp.Object{}, err
	}
	defer s.Release()
	args, err := encodeValue(kwargs)
	if err != nil {
		return interp.Object{}, err
	}
	raw, err := s.(*session).rpc(request{Op: "instantiate", Module: module, Class: class, Kwargs: args})
	if err != nil {
		return interp.Object{}, err
	}
	obj, ok := raw.(interp.Object)
	if !ok {
		return interp.Object{}, xerrors.New(xerrors.CodeDeserialization, fmt.Sprintf("instantiate %s.%s returned %T", module, class, raw))
	}
	return obj, nil
}

// AddPath 把 dir 插入宿主进程的 sys.path 头部，已存在时忽略。
func (h *Host) AddPath(ctx context.Context, dir string) error {
	s, err := h.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release()
	_, err = s.(*session).rpc(request{Op: "add_path", Name: dir})
	return err
}

// Release 丢弃宿主端对 obj 的引用。
func (h *Host) Release(ctx context.Context, obj interp.Object) error {
	s, err := h.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.Release()
	_, err = s.(*session).rpc(request{Op: "release", Object: obj.ID})
	return err
}

// Acquire implements interp.Interpreter.
func (h *Host) Acquire(ctx context.Context) (interp.Session, error) {
	if h.closed.Load() {
		return nil, xerrors.New(xerrors.CodeBridgeClosed, "python host closed")
	}
	if err := h.lock.Lock(ctx); err != nil {
		return nil, err
	}
	return &session{h: h}, nil
}

// Close 关闭 stdin 让宿主脚本自然退出，超时后强制结束进程。
func (h *Host) Close() error {
	h.once.Do(func() {
		h.closed.Store(true)
		_ = h.stdin.Close()
		select {
		case <-h.exited:
		case <-time.After(3 * time.Second):
			_ = h.cmd.Process.Kill()
			<-h.exited
		}
		h.log.Info("Python 宿主进程已退出")
	})
	return nil
}

type request struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Module string `json:"module,omitempty"`
	Class  string `json:"class,omitempty"`
	Kwargs any    `json:"kwargs,omitempty"`
	Object string `json:"object,omitempty"`
	Name   string `json:"name,omitempty"`
	Args   []any  `json:"args,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *interp.Exception
}

type wireError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

func (r *response) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *wireError      `json:"error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.ID, r.Result = wire.ID, wire.Result
	if wire.Error != nil {
		r.Error = &interp.Exception{Type: wire.Error.Type, Message: wire.Error.Message, Traceback: wire.Error.Traceback}
	}
	return nil
}

type session struct {
	h        *Host
	released bool
}

func (s *session) HasAttr(obj interp.Object, name string) (bool, error) {
	raw, err := s.rpc(request{Op: "hasattr", Object: obj.ID, Name: name})
	if err != nil {
		return false, err
	}
	ok, _ := raw.(bool)
	return ok, nil
}

func (s *session) Call(obj interp.Object, method string, args ...any) (any, error) {
	encoded := make([]any, len(args))
	for i, arg := range args {
		v, err := encodeValue(arg)
		if err != nil {
			return nil, err
		}
		encoded[i] = v
	}
	return s.rpc(request{Op: "call", Object: obj.ID, Name: method, Args: encoded})
}

func (s *session) Release() {
	if s.released {
		return
	}
	s.released = true
	s.h.lock.Unlock()
}

// rpc 发送一个请求并读取对应响应。调用方必须持有全局锁。
func (s *session) rpc(req request) (any, error) {
	if s.released {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "session used after release")
	}
	h := s.h
	if h.dead.Load() {
		return nil, h.deathError(nil)
	}
	req.ID = uuid.NewString()
	line, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, "encode python request")
	}
	if _, err := h.stdin.Write(append(line, '\n')); err != nil {
		return nil, h.deathError(err)
	}
	out, err := h.stdout.ReadBytes('\n')
	if err != nil {
		return nil, h.deathError(err)
	}
	var resp response
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDeserialization, err, "decode python response")
	}
	if resp.ID != req.ID {
		h.dead.Store(true)
		return nil, xerrors.New(xerrors.CodeForeignPanic, fmt.Sprintf("python response id mismatch: want %s got %s", req.ID, resp.ID))
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(resp.Result, &value); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDeserialization, err, "decode python result")
	}
	return decodeValue(value)
}

func (h *Host) deathError(cause error) error {
	h.dead.Store(true)
	msg := "python host exited"
	if tail := strings.TrimSpace(h.stderrTail()); tail != "" {
		msg += ": " + tail
	}
	if cause == nil {
		return xerrors.New(xerrors.CodeForeignPanic, msg)
	}
	return xerrors.Wrap(xerrors.CodeForeignPanic, cause, msg)
}

func (h *Host) stderrTail() string {
	lw, ok := h.cmd.Stderr.(*lockedWriter)
	if !ok {
		return ""
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	s := h.stderr.String()
	if len(s) > 512 {
		s = s[len(s)-512:]
	}
	return s
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// encodeValue 将 []byte 和 interp.Object 转换为宿主脚本识别的标记对象。
func encodeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return val, nil
	case []byte:
		return map[string]any{"__bytes__": base64.StdEncoding.EncodeToString(val)}, nil
	case interp.Object:
		return map[string]any{"__object__": val.ID}, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			enc, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			enc, err := encodeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, fmt.Sprintf("encode %T for python", v))
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeEncoding, err, fmt.Sprintf("encode %T for python", v))
	}
	return encodeValue(generic)
}

func decodeValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if b, ok := val["__bytes__"].(string); ok {
				data, err := base64.StdEncoding.DecodeString(b)
				if err != nil {
					return nil, xerrors.Wrap(xerrors.CodeDeserialization, err, "decode python bytes")
				}
				return data, nil
			}
			if id, ok := val["__object__"].(string); ok {
				return interp.Object{ID: id}, nil
			}
		}
		for k, item := range val {
			dec, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			val[k] = dec
		}
		return val, nil
	case []any:
		for i, item := range val {
			dec, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			val[i] = dec
		}
		return val, nil
	}
	return v, nil
}

var _ interp.Interpreter = (*Host)(nil)
