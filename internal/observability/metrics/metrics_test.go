package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == name {
			return fam
		}
	}
	return nil
}

func TestObserveJobCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTriageMetrics(reg)

	m.ObserveJob("processed")
	m.ObserveJob("processed")
	m.ObserveJob("discarded")

	fam := gather(t, reg, "lanebird_triage_jobs_total")
	if fam == nil {
		t.Fatal("jobs_total not registered")
	}
	total := 0.0
	for _, metric := range fam.GetMetric() {
		total += metric.GetCounter().GetValue()
	}
	if total != 3 {
		t.Fatalf("expected 3 observations, got %f", total)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *TriageMetrics
	m.ObserveJob("processed")
	m.ObserveOracleCall("gemini", "ok", 0.5)
	m.ObserveGatekeeper("domain")
	m.ObserveDeadLetter()
	m.ObserveDraftEnqueued()
	m.ObservePassDuration(1.0)
}

func TestOracleLatencyRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTriageMetrics(reg)

	m.ObserveOracleCall("gemini", "ok", 1.25)

	fam := gather(t, reg, "lanebird_triage_oracle_latency_seconds")
	if fam == nil {
		t.Fatal("oracle_latency not registered")
	}
	if fam.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatal("expected one latency sample")
	}
}
