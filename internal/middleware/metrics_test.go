package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if m.httpRequestDuration == nil {
		t.Error("httpRequestDuration is nil")
	}
	if m.httpRequestsTotal == nil {
		t.Error("httpRequestsTotal is nil")
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	err := m.Register(reg)
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	// Record a request to create metrics entries
	m.ObserveHTTPRequest("POST", "/track/start", "202", 0.01, 128, 64)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range metrics {
		found[mf.GetName()] = true
	}

	for _, name := range []string{
		MetricHTTPRequestDuration,
		MetricHTTPRequestsTotal,
		MetricHTTPRequestSizeBytes,
		MetricHTTPResponseSizeBytes,
	} {
		if !found[name] {
			t.Errorf("metric %s not found in registry", name)
		}
	}
}

func TestMetrics_RegisterTwiceFails(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected error on duplicate registration")
	}
}

func TestMetrics_ObserveHTTPRequest(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	m.ObserveHTTPRequest("POST", "/track/conversion", "202", 0.05, 256, 32)
	m.ObserveHTTPRequest("POST", "/track/conversion", "202", 0.07, 256, 32)
	m.ObserveHTTPRequest("GET", "/analytics/comprehensive", "200", 0.01, 0, 2048)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}

	var requestsTotal *dto.MetricFamily
	for _, mf := range metrics {
		if mf.GetName() == MetricHTTPRequestsTotal {
			requestsTotal = mf
		}
	}
	if requestsTotal == nil {
		t.Fatalf("metric %s not found", MetricHTTPRequestsTotal)
	}

	for _, metric := range requestsTotal.GetMetric() {
		labels := map[string]string{}
		for _, lp := range metric.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		switch labels["path"] {
		case "/track/conversion":
			if metric.GetCounter().GetValue() != 2 {
				t.Errorf("expected 2 conversion requests, got %v", metric.GetCounter().GetValue())
			}
		case "/analytics/comprehensive":
			if metric.GetCounter().GetValue() != 1 {
				t.Errorf("expected 1 analytics request, got %v", metric.GetCounter().GetValue())
			}
		}
	}
}

func TestMetrics_Collectors(t *testing.T) {
	m := NewMetrics()
	if got := len(m.Collectors()); got != 4 {
		t.Errorf("expected 4 collectors, got %d", got)
	}
}
