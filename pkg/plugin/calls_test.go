package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	xerrors "ExtractBridge/internal/errors"
)

type statLog struct {
	mu    sync.Mutex
	stats []CallStat
}

func (l *statLog) observe(s CallStat) {
	l.mu.Lock()
	l.stats = append(l.stats, s)
	l.mu.Unlock()
}

func TestCallObserverSeesEveryInvocation(t *testing.T) {
	log := &statLog{}
	regs := NewRegistries(WithCallObserver(log.observe))
	rec := &recorder{}
	_ = regs.Extractors.Register(newExtractor("text", 0, "text/plain"))
	_ = regs.Processors.Register(&fakeProcessor{Identity: Identity{PluginName: "tag"}, rec: rec})
	_ = regs.Validators.Register(&fakeValidator{Identity: Identity{PluginName: "strict"}, rec: rec, err: errors.New("too short")})

	if _, err := regs.ExtractBytes(context.Background(), []byte("hi"), "text/plain", nil); err == nil {
		t.Fatal("expected validation failure")
	}
	want := []struct {
		plugin, outcome string
	}{
		{"text", OutcomeOK},
		{"tag", OutcomeOK},
		{"strict", OutcomeRejected},
	}
	if len(log.stats) != len(want) {
		t.Fatalf("expected %d stats, got %+v", len(want), log.stats)
	}
	for i, w := range want {
		if log.stats[i].Plugin != w.plugin || log.stats[i].Outcome() != w.outcome {
			t.Fatalf("stat %d: got %s/%s, want %s/%s", i, log.stats[i].Plugin, log.stats[i].Outcome(), w.plugin, w.outcome)
		}
	}
}

func TestCallStatOutcome(t *testing.T) {
	bridgeErr := xerrors.New(xerrors.CodeForeignPanic, "boom")
	cases := []struct {
		stat CallStat
		want string
	}{
		{CallStat{Capability: CapabilityPostProcessor}, OutcomeOK},
		{CallStat{Capability: CapabilityPostProcessor, Err: errors.New("x")}, OutcomeError},
		{CallStat{Capability: CapabilityValidator, Err: errors.New("x")}, OutcomeRejected},
		{CallStat{Capability: CapabilityValidator, Err: bridgeErr}, OutcomeError},
		{CallStat{Capability: CapabilityValidator, Err: context.Canceled}, OutcomeError},
		{CallStat{Capability: CapabilityValidator, Err: &ValidationFailure{Message: "no"}}, OutcomeRejected},
	}
	for i, c := range cases {
		if got := c.stat.Outcome(); got != c.want {
			t.Fatalf("case %d: got %s, want %s", i, got, c.want)
		}
	}
}
