package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/plugin"
)

type upper struct{ plugin.Identity }

func (upper) ExtractBytes(_ context.Context, content []byte, mimeType string, _ *extraction.Config) (*extraction.Result, error) {
	return &extraction.Result{Content: strings.ToUpper(string(content)), MimeType: mimeType}, nil
}
func (upper) SupportedMimeTypes() []string { return []string{"text/plain"} }
func (upper) Priority() int                { return 0 }

func TestCollectorCountsPipelineCalls(t *testing.T) {
	c := NewCollector()
	regs := plugin.NewRegistries(plugin.WithCallObserver(c.Observe))
	if err := regs.Extractors.Register(upper{plugin.Identity{PluginName: "upper"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for range 3 {
		if _, err := regs.ExtractBytes(context.Background(), []byte("a"), "text/plain", nil); err != nil {
			t.Fatalf("extract: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	c.Handler(regs).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`extractbridge_registered_plugins{capability="document_extractor"} 1`,
		`extractbridge_plugin_calls_total{capability="document_extractor",plugin="upper",outcome="ok"} 3`,
		`extractbridge_plugin_call_duration_seconds_count{capability="document_extractor",plugin="upper"} 3`,
		`extractbridge_plugin_call_duration_seconds_bucket{capability="document_extractor",plugin="upper",le="+Inf"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestHistogramBuckets(t *testing.T) {
	c := NewCollector()
	c.Observe(plugin.CallStat{Capability: plugin.CapabilityValidator, Plugin: "v", Duration: 2 * time.Millisecond, Err: errors.New("too short")})
	c.Observe(plugin.CallStat{Capability: plugin.CapabilityValidator, Plugin: "v", Duration: 20 * time.Second})

	body := c.render(nil)
	for _, want := range []string{
		`extractbridge_plugin_calls_total{capability="validator",plugin="v",outcome="rejected"} 1`,
		`extractbridge_plugin_calls_total{capability="validator",plugin="v",outcome="ok"} 1`,
		`extractbridge_plugin_call_duration_seconds_bucket{capability="validator",plugin="v",le="0.001"} 0`,
		`extractbridge_plugin_call_duration_seconds_bucket{capability="validator",plugin="v",le="0.005"} 1`,
		`extractbridge_plugin_call_duration_seconds_bucket{capability="validator",plugin="v",le="10"} 1`,
		`extractbridge_plugin_call_duration_seconds_bucket{capability="validator",plugin="v",le="+Inf"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "registered_plugins") {
		t.Fatal("registry gauges need registries")
	}
}

func TestHealthHandlerReportsRegistries(t *testing.T) {
	regs := plugin.NewRegistries()
	rec := httptest.NewRecorder()
	HealthHandler(regs).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"extractor_count":0`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRouterServesOnlyGet(t *testing.T) {
	h := Router(NewCollector(), plugin.NewRegistries())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "extractbridge_plugin_calls_total") {
		t.Fatalf("unexpected /metrics response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", rec.Code)
	}
}

func TestStartServerRequiresAddress(t *testing.T) {
	if err := StartServer(context.Background(), "", NewCollector(), plugin.NewRegistries()); err == nil {
		t.Fatal("expected error for empty address")
	}
}
