// Package observe holds the OpenTelemetry metric instruments recorded by the
// decode driver and consumers, and the SDK provider setup used by the CLI.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/zsiec/framepump"

// Metrics holds the instruments shared by every decoder in the process.
// The OTel types handle their own synchronisation.
type Metrics struct {
	// FramesDecoded counts units published by the driver. Attribute:
	//   attribute.String("media_type", ...)
	FramesDecoded metric.Int64Counter

	// GrabDuration tracks the latency of one engine Grab call.
	GrabDuration metric.Float64Histogram

	// PoolStalls counts driver iterations that found no free buffer.
	PoolStalls metric.Int64Counter

	// FramesConsumed counts frames handed to consumers. Attribute:
	//   attribute.String("media_type", ...)
	FramesConsumed metric.Int64Counter

	// NormalizeErrors counts buffers the normalizer rejected.
	NormalizeErrors metric.Int64Counter
}

// grabBuckets are histogram boundaries in seconds for per-frame decode time.
var grabBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesDecoded, err = m.Int64Counter("framepump.frames.decoded",
		metric.WithDescription("Decoded units published to the frame pool."),
	); err != nil {
		return nil, err
	}
	if met.GrabDuration, err = m.Float64Histogram("framepump.grab.duration",
		metric.WithDescription("Latency of one decode engine grab."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(grabBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PoolStalls, err = m.Int64Counter("framepump.pool.stalls",
		metric.WithDescription("Driver iterations that found the free pool empty."),
	); err != nil {
		return nil, err
	}
	if met.FramesConsumed, err = m.Int64Counter("framepump.frames.consumed",
		metric.WithDescription("Normalized frames returned to consumers."),
	); err != nil {
		return nil, err
	}
	if met.NormalizeErrors, err = m.Int64Counter("framepump.normalize.errors",
		metric.WithDescription("Native buffers the normalizer rejected."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// MediaTypeAttr is the attribute set used for per-media-type counters.
func MediaTypeAttr(mt string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("media_type", mt))
}
