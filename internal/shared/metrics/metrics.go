package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	ingestResults = newCounterVec()

	sweepRunsTotal          atomic.Uint64
	sweepRepairedBlobsTotal atomic.Uint64
	sweepMarkedFailedTotal  atomic.Uint64
	sweepBackfilledTotal    atomic.Uint64
	sweepResolvedTotal      atomic.Uint64

	schemaRepairsTotal atomic.Uint64

	ingestDuration = newHistogram([]float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000})
)

// IncIngest counts one finished ingestion by kind (document|annotation) and
// status (completed|degraded|failed).
func IncIngest(kind, status string) {
	ingestResults.Inc(fmt.Sprintf(`kind=%q,status=%q`, kind, status))
}

// ObserveIngestDurationMs records an ingestion duration in milliseconds.
func ObserveIngestDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	ingestDuration.Observe(value)
}

// ObserveSweep records one consistency sweep run.
func ObserveSweep(repairedBlobs, markedFailed, backfilled int) {
	sweepRunsTotal.Add(1)
	sweepRepairedBlobsTotal.Add(uint64(repairedBlobs))
	sweepMarkedFailedTotal.Add(uint64(markedFailed))
	sweepBackfilledTotal.Add(uint64(backfilled))
}

// AddSweepResolvedCascades counts annotations deleted because their paper was.
func AddSweepResolvedCascades(n int) {
	if n > 0 {
		sweepResolvedTotal.Add(uint64(n))
	}
}

// IncSchemaRepairs counts columns added by the schema reconciler.
func IncSchemaRepairs(n int) {
	if n > 0 {
		schemaRepairsTotal.Add(uint64(n))
	}
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounterVec(&buf, "ingest_total", "Finished ingestions by kind and status", ingestResults.Snapshot())
	writeHistogram(&buf, "ingest_duration_ms", "Ingestion duration in milliseconds", ingestDuration.Snapshot())
	writeCounter(&buf, "sweep_runs_total", "Consistency sweeps run", sweepRunsTotal.Load())
	writeCounter(&buf, "sweep_repaired_blobs_total", "Records created for orphan blobs", sweepRepairedBlobsTotal.Load())
	writeCounter(&buf, "sweep_marked_failed_total", "Records marked failed for missing blobs", sweepMarkedFailedTotal.Load())
	writeCounter(&buf, "sweep_backfilled_total", "Records backfilled by the sweep", sweepBackfilledTotal.Load())
	writeCounter(&buf, "sweep_resolved_cascades_total", "Annotations deleted after their paper", sweepResolvedTotal.Load())
	writeCounter(&buf, "schema_columns_added_total", "Columns added by the schema reconciler", schemaRepairsTotal.Load())
	return buf.String()
}

type counterVec struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newCounterVec() *counterVec {
	return &counterVec{values: map[string]uint64{}}
}

func (v *counterVec) Inc(labels string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[labels]++
}

func (v *counterVec) Snapshot() map[string]uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]uint64, len(v.values))
	for k, n := range v.values {
		out[k] = n
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe counts value in the first bucket whose bound holds it; cumulative
// totals are computed when rendering.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeCounterVec(buf *bytes.Buffer, name, help string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	labels := make([]string, 0, len(values))
	for l := range values {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Fprintf(buf, "%s{%s} %d\n", name, l, values[l])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
