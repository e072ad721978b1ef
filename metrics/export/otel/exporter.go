package otel

import (
	"context"
	"errors"
	"fmt"

	eduauth "github.com/saleemjadallah/eduk6-backend-sub000"
	"github.com/saleemjadallah/eduk6-backend-sub000/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() eduauth.MetricsSnapshot
	AuditDropped() uint64
}

type boundCounter struct {
	id  eduauth.MetricID
	ins metric.Int64ObservableCounter
}

type boundHistogram struct {
	id      eduauth.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter mirrors the gateway's in-process counters and histograms
// into OTel observable instruments. All observations are taken from one
// snapshot per collection, so exported values stay mutually consistent.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []boundCounter
	histograms   []boundHistogram
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers gateway metrics on the given meter.
func NewOTelExporter(meter metric.Meter, gateway *eduauth.Gateway) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, gateway)
}

// NewOTelExporterFromSource is the testable variant taking any snapshot
// source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}

	var observables []metric.Observable
	var err error
	if observables, err = e.bindCounters(meter, observables); err != nil {
		return nil, err
	}
	if observables, err = e.bindHistograms(meter, observables); err != nil {
		return nil, err
	}

	e.auditDropped, err = meter.Int64ObservableCounter(
		"eduauth_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, e.auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	return e, nil
}

func (e *OTelExporter) bindCounters(meter metric.Meter, observables []metric.Observable) ([]metric.Observable, error) {
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, boundCounter{id: def.ID, ins: ins})
		observables = append(observables, ins)
	}
	return observables, nil
}

func (e *OTelExporter) bindHistograms(meter metric.Meter, observables []metric.Observable) ([]metric.Observable, error) {
	for _, def := range internaldefs.HistogramDefs {
		h := boundHistogram{id: def.ID}
		for i := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + internaldefs.HistogramBoundSuffix[i]
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}

		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s_count: %w", def.Name, err)
		}
		h.count = count
		observables = append(observables, count)
		e.histograms = append(e.histograms, h)
	}
	return observables, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		observer.ObserveInt64(c.ins, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, v := range cumulative {
			observer.ObserveInt64(h.buckets[i], int64(v))
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
