package health

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/plugin"
)

type stubExtractor struct{ plugin.Identity }

func (stubExtractor) ExtractBytes(context.Context, []byte, string, *extraction.Config) (*extraction.Result, error) {
	return &extraction.Result{}, nil
}
func (stubExtractor) SupportedMimeTypes() []string { return []string{"text/plain"} }
func (stubExtractor) Priority() int                { return 0 }

func TestValidateAtStartupWarnsOnEmptyRegistries(t *testing.T) {
	t.Setenv("TESSDATA_PREFIX", "")
	regs := plugin.NewRegistries()
	rep := ValidateAtStartup(regs)
	if rep.Healthy {
		t.Fatalf("empty registries must not be healthy")
	}
	if len(rep.Warnings) != 2 {
		t.Fatalf("expected OCR and extractor warnings, got %v", rep.Warnings)
	}

	if err := regs.Extractors.Register(stubExtractor{plugin.Identity{PluginName: "stub"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	rep = ValidateAtStartup(regs)
	if !rep.Healthy || rep.ExtractorCount != 1 || len(rep.Warnings) != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if regs.Extractors.Len() != 1 {
		t.Fatalf("diagnostics must not mutate registries")
	}
}

func TestCheckEnvironment(t *testing.T) {
	lookup := func(v string) func(string) (string, bool) {
		return func(string) (string, bool) { return v, true }
	}
	if w := checkEnvironment(func(string) (string, bool) { return "", false }); w != nil {
		t.Fatalf("unset prefix should not warn, got %v", w)
	}
	if w := checkEnvironment(lookup("/definitely/not/here")); len(w) != 1 {
		t.Fatalf("expected warning for missing dir, got %v", w)
	}
	dir := t.TempDir()
	if w := checkEnvironment(lookup(dir)); len(w) != 1 || !strings.Contains(w[0], "traineddata") {
		t.Fatalf("expected warning for empty tessdata dir, got %v", w)
	}
	if err := os.WriteFile(filepath.Join(dir, "eng.traineddata"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if w := checkEnvironment(lookup(dir)); w != nil {
		t.Fatalf("expected no warning, got %v", w)
	}
}

type fakeRedis struct {
	mu   sync.Mutex
	sets map[string]string
	ttl  time.Duration
	err  error
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	if f.sets == nil {
		f.sets = make(map[string]string)
	}
	f.sets[key] = string(value.([]byte))
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.sets[key]
	return v, ok
}

func TestRedisReporterWritesSnapshot(t *testing.T) {
	regs := plugin.NewRegistries()
	_ = regs.Extractors.Register(stubExtractor{plugin.Identity{PluginName: "stub"}})
	client := &fakeRedis{}
	r := newReporter(client, RedisConfig{Key: "node-a", Interval: time.Minute}, regs)

	if err := r.Report(context.Background()); err != nil {
		t.Fatalf("report: %v", err)
	}
	raw, ok := client.get("node-a")
	if !ok {
		t.Fatalf("snapshot not written")
	}
	var got struct {
		Extractors []string  `json:"extractors"`
		ReportedAt time.Time `json:"reported_at"`
	}
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(got.Extractors) != 1 || got.Extractors[0] != "stub" || got.ReportedAt.IsZero() {
		t.Fatalf("unexpected snapshot %s", raw)
	}
	if client.ttl != 3*time.Minute {
		t.Fatalf("expected ttl of three intervals, got %v", client.ttl)
	}
}

func TestRedisReporterRunStopsOnCancel(t *testing.T) {
	client := &fakeRedis{err: errors.New("connection refused")}
	r := newReporter(client, RedisConfig{Interval: 10 * time.Millisecond}, plugin.NewRegistries())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewRedisReporterRequiresAddress(t *testing.T) {
	if _, err := NewRedisReporter(context.Background(), RedisConfig{}, plugin.NewRegistries()); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
