// Package metrics 统计插件调用并以 Prometheus 文本格式暴露。
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ExtractBridge/pkg/plugin"
)

type callKey struct {
	capability string
	plugin     string
	outcome    string
}

type latencyKey struct {
	capability string
	plugin     string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Collector 累计插件调用次数与耗时。零值不可用，请使用 NewCollector。
type Collector struct {
	mu      sync.Mutex
	calls   map[callKey]uint64
	latency map[latencyKey]*histogram
}

// NewCollector 创建空的统计器。
func NewCollector() *Collector {
	return &Collector{
		calls:   make(map[callKey]uint64),
		latency: make(map[latencyKey]*histogram),
	}
}

// Observe 记录一次插件调用，可直接作为 plugin.WithCallObserver 的参数。
func (c *Collector) Observe(stat plugin.CallStat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[callKey{capability: string(stat.Capability), plugin: stat.Plugin, outcome: stat.Outcome()}]++

	key := latencyKey{capability: string(stat.Capability), plugin: stat.Plugin}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(stat.Duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// observe 累加所有上界不小于 value 的桶，超出最后一个桶的值只计入 +Inf。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// Handler 输出调用统计，regs 不为空时附带各注册表的插件数量。
func (c *Collector) Handler(regs *plugin.Registries) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.render(regs))
	})
}

func (c *Collector) render(regs *plugin.Registries) string {
	type callMetric struct {
		callKey
		value uint64
	}
	type latencyMetric struct {
		latencyKey
		hist histogram
	}

	c.mu.Lock()
	calls := make([]callMetric, 0, len(c.calls))
	for key, value := range c.calls {
		calls = append(calls, callMetric{callKey: key, value: value})
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{latencyKey: key, hist: histogram{
			buckets: append([]float64(nil), hist.buckets...),
			counts:  append([]uint64(nil), hist.counts...),
			sum:     hist.sum,
			count:   hist.count,
		}})
	}
	c.mu.Unlock()

	sort.Slice(calls, func(i, j int) bool {
		a, b := calls[i], calls[j]
		if a.capability != b.capability {
			return a.capability < b.capability
		}
		if a.plugin != b.plugin {
			return a.plugin < b.plugin
		}
		return a.outcome < b.outcome
	})
	sort.Slice(lats, func(i, j int) bool {
		if lats[i].capability != lats[j].capability {
			return lats[i].capability < lats[j].capability
		}
		return lats[i].plugin < lats[j].plugin
	})

	var b strings.Builder
	b.Grow(1024)

	if regs != nil {
		h := regs.Health()
		b.WriteString("# HELP extractbridge_registered_plugins Number of plugins in each registry.\n")
		b.WriteString("# TYPE extractbridge_registered_plugins gauge\n")
		for _, g := range []struct {
			capability plugin.Capability
			count      int
		}{
			{plugin.CapabilityDocumentExtractor, h.ExtractorCount},
			{plugin.CapabilityOcrBackend, h.OcrBackendCount},
			{plugin.CapabilityPostProcessor, h.PostProcessorCount},
			{plugin.CapabilityValidator, h.ValidatorCount},
		} {
			fmt.Fprintf(&b, "extractbridge_registered_plugins{capability=\"%s\"} %d\n", g.capability, g.count)
		}
	}

	b.WriteString("# HELP extractbridge_plugin_calls_total Plugin invocations made by the extraction pipeline.\n")
	b.WriteString("# TYPE extractbridge_plugin_calls_total counter\n")
	for _, m := range calls {
		fmt.Fprintf(&b, "extractbridge_plugin_calls_total{capability=\"%s\",plugin=\"%s\",outcome=\"%s\"} %d\n",
			escape(m.capability), escape(m.plugin), escape(m.outcome), m.value)
	}

	b.WriteString("# HELP extractbridge_plugin_call_duration_seconds Plugin invocation duration in seconds.\n")
	b.WriteString("# TYPE extractbridge_plugin_call_duration_seconds histogram\n")
	for _, m := range lats {
		labels := fmt.Sprintf("capability=\"%s\",plugin=\"%s\"", escape(m.capability), escape(m.plugin))
		for idx, bound := range m.hist.buckets {
			fmt.Fprintf(&b, "extractbridge_plugin_call_duration_seconds_bucket{%s,le=\"%s\"} %d\n", labels, formatFloat(bound), m.hist.counts[idx])
		}
		fmt.Fprintf(&b, "extractbridge_plugin_call_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, m.hist.count)
		fmt.Fprintf(&b, "extractbridge_plugin_call_duration_seconds_sum{%s} %s\n", labels, formatFloat(m.hist.sum))
		fmt.Fprintf(&b, "extractbridge_plugin_call_duration_seconds_count{%s} %d\n", labels, m.hist.count)
	}
	return b.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// HealthHandler 以 JSON 输出注册表健康状态。存在被污染的注册表时返回 503。
func HealthHandler(regs *plugin.Registries) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := regs.Health()
		w.Header().Set("Content-Type", "application/json")
		if len(status.PoisonedRegistries) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}

// Router 挂载 /metrics 和 /healthz。
func Router(c *Collector, regs *plugin.Registries) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", c.Handler(regs))
	r.Method(http.MethodGet, "/healthz", HealthHandler(regs))
	return r
}

// StartServer 在 addr 上暴露 /metrics 和 /healthz，直到 ctx 结束。
func StartServer(ctx context.Context, addr string, c *Collector, regs *plugin.Registries) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	srv := &http.Server{Addr: addr, Handler: Router(c, regs), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
