// Package metrics counts payment flow events and times its operations.
// NoopRecorder is the default; NewPrometheusRecorder exports through
// the default Prometheus registry.
package metrics

import "time"

// Recorder receives event counts and operation timings from the
// payment handler.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
