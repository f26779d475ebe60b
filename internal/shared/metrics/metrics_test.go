package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestHistogramRendersCumulativeBuckets(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	var buf bytes.Buffer
	writeHistogram(&buf, "x", "x", h.Snapshot())
	out := buf.String()
	for _, want := range []string{
		`x_bucket{le="10"} 1`,
		`x_bucket{le="100"} 2`,
		`x_bucket{le="+Inf"} 3`,
		"x_sum 555",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderIncludesIngestCounters(t *testing.T) {
	IncIngest("document", "degraded")
	ObserveSweep(1, 2, 3)
	AddSweepResolvedCascades(2)

	out := Render()
	for _, want := range []string{
		`ingest_total{kind="document",status="degraded"}`,
		"sweep_runs_total",
		"sweep_backfilled_total",
		"sweep_resolved_cascades_total",
		"ingest_duration_ms_bucket",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
