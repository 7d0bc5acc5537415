package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestNew_RegistersAllCollectorsWithoutPanicking(t *testing.T) {
	m := New()
	if m.Registry == nil {
		t.Fatal("expected a non-nil registry")
	}
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"geoloc_reports_ingested_total",
		"geoloc_reports_rejected_total",
		"geoloc_worker_batches_total",
		"geoloc_worker_batch_errors_total",
		"geoloc_report_queue_depth",
		"geoloc_inference_latency_seconds",
		"geoloc_inference_outcomes_total",
		"geoloc_cache_result_total",
		"geoloc_partitions_created_total",
		"geoloc_partitions_dropped_total",
	} {
		if !names[want] {
			t.Errorf("expected registered collector %q", want)
		}
	}
}

func TestNew_CountersStartAtZero(t *testing.T) {
	m := New()
	m.ReportsIngested.WithLabelValues("report").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}
	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "geoloc_reports_ingested_total" {
			found = f
		}
	}
	if found == nil {
		t.Fatal("expected geoloc_reports_ingested_total to be registered")
	}
	if len(found.Metric) != 1 || found.Metric[0].Counter.GetValue() != 1 {
		t.Fatalf("expected a single counter at value 1, got %+v", found.Metric)
	}
}
