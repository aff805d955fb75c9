package consult

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

	collectors := m.Collectors()
	if len(collectors) != 3 {
		t.Errorf("expected 3 collectors, got %d", len(collectors))
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}

	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestMetrics_IncEventsTracked(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}

	m.IncEventsTracked("face_analysis")
	m.IncEventsTracked("face_analysis")
	m.IncEventsTracked("conversion")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}

	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == MetricEventsTracked {
			family = f
		}
	}
	if family == nil {
		t.Fatalf("metric %s not found", MetricEventsTracked)
	}

	counts := make(map[string]float64)
	for _, metric := range family.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "type" {
				counts[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}

	if counts["face_analysis"] != 2 {
		t.Errorf("expected 2 face_analysis events, got %v", counts["face_analysis"])
	}
	if counts["conversion"] != 1 {
		t.Errorf("expected 1 conversion event, got %v", counts["conversion"])
	}
}
