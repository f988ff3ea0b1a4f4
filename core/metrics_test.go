package core

import "testing"

func TestOperationMetrics_NormalizesNames(t *testing.T) {
	total, duration := OperationMetrics(" Fetch-Component Token ")
	if total != "wxopen.fetch_component_token.total" || duration != "wxopen.fetch_component_token.duration_ms" {
		t.Fatalf("unexpected metric names %q %q", total, duration)
	}
	if total, _ := OperationMetrics(""); total != "wxopen.unknown.total" {
		t.Fatalf("expected blank operation to map to unknown, got %q", total)
	}
}
