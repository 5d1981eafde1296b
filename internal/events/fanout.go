package events

import (
	"context"
	"errors"

	"ExtractBridge/pkg/plugin"
)

// Fanout 把同一个事件交给多个 Sink。某个 Sink 失败不影响其余 Sink。
type Fanout []Sink

// Publish 依次发布并合并所有错误。
func (f Fanout) Publish(ctx context.Context, ev plugin.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有 Sink。
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
