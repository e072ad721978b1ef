package prometheus

import (
	"fmt"
	"net/http"
	"strings"

	eduauth "github.com/saleemjadallah/eduk6-backend-sub000"
	"github.com/saleemjadallah/eduk6-backend-sub000/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() eduauth.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders gateway metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from the given [eduauth.Gateway].
func NewPrometheusExporter(gateway *eduauth.Gateway) *PrometheusExporter {
	return &PrometheusExporter{source: gateway}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from a
// custom metrics source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
// Metrics disabled in config render as the empty string.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}
	writeCounter(&b, "eduauth_audit_dropped_total", "Dropped audit events due to dispatcher backpressure.", dropped)

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, escapeHelp(help))
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %d\n", name, value)
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, escapeHelp(help))
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	for i, le := range internaldefs.HistogramBounds {
		fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}

	fmt.Fprintf(b, "%s_count %d\n", name, cumulative[len(cumulative)-1])
	// Sum is not tracked in core snapshots; keep a stable field for scrapers.
	fmt.Fprintf(b, "%s_sum 0\n", name)
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	return strings.ReplaceAll(help, "\n", "\\n")
}
