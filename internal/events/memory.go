package events

import (
	"context"
	"errors"
	"sync"

	"ExtractBridge/pkg/plugin"
)

// MemorySink 把事件保存在内存中，主要用于测试。
type MemorySink struct {
	mu     sync.Mutex
	events []plugin.Event
	notify chan struct{}
	closed bool
}

// NewMemorySink 创建一个内存 Sink。
func NewMemorySink() *MemorySink {
	return &MemorySink{notify: make(chan struct{}, 1)}
}

// Publish 记录事件。
func (s *MemorySink) Publish(ctx context.Context, ev plugin.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink 已关闭")
	}
	s.events = append(s.events, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Events 返回已记录事件的副本。
func (s *MemorySink) Events() []plugin.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]plugin.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Wait 阻塞直到至少记录了 n 个事件或 ctx 结束。
func (s *MemorySink) Wait(ctx context.Context, n int) error {
	for {
		s.mu.Lock()
		count := len(s.events)
		s.mu.Unlock()
		if count >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}
	}
}

// Close 标记 Sink 已关闭。
func (s *MemorySink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
