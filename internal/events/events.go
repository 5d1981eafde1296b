// Package events 把注册表变更转发到外部消息系统。
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ExtractBridge/pkg/logger"
	"ExtractBridge/pkg/plugin"
)

// Sink 接收注册表事件。
type Sink interface {
	Publish(ctx context.Context, ev plugin.Event) error
	Close() error
}

// Dispatcher 在后台协程中把事件交给 Sink，注册表的调用方不会被阻塞。
// 缓冲区满时丢弃事件并记录警告。
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	ch      chan plugin.Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	log     *slog.Logger
}

// DispatcherOption 自定义 Dispatcher。
type DispatcherOption func(*Dispatcher)

// WithBuffer 设置事件缓冲区大小。
func WithBuffer(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.ch = make(chan plugin.Event, size)
		}
	}
}

// WithPublishTimeout 限制单次发布的耗时。
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher 启动转发协程。
func NewDispatcher(sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		timeout: 5 * time.Second,
		ch:      make(chan plugin.Event, 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     logger.Named("events"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	go d.run()
	return d
}

// Observer 返回可传给 plugin.WithObserver 的回调。
func (d *Dispatcher) Observer() func(plugin.Event) {
	return func(ev plugin.Event) {
		select {
		case <-d.done:
			return
		default:
		}
		select {
		case d.ch <- ev:
		default:
			d.log.Warn("事件缓冲区已满，丢弃事件",
				slog.String("kind", string(ev.Kind)),
				slog.String("plugin", ev.Plugin))
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case ev := <-d.ch:
			d.publish(ev)
		case <-d.done:
			// 退出前把缓冲区中剩余的事件发完。
			for {
				select {
				case ev := <-d.ch:
					d.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) publish(ev plugin.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.Publish(ctx, ev); err != nil {
		d.log.Warn("发布注册表事件失败",
			slog.String("kind", string(ev.Kind)),
			slog.String("capability", string(ev.Capability)),
			slog.String("plugin", ev.Plugin),
			slog.Any("error", err))
	}
}

// Close 停止转发，等待缓冲区中的事件发完后关闭 Sink。之后到达的事件会被忽略。
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		<-d.stopped
		err = d.sink.Close()
	})
	return err
}
