// Package metrics decouples the import pipeline from any metrics vendor.
// The pipeline calls the helpers below; where the numbers go is decided by
// the wired Backend. The default backend drops everything, so code can emit
// metrics unconditionally.
package metrics

// Labels attaches dimensions to a metric sample.
type Labels map[string]string

// Backend receives metric samples. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}

var current Backend = nopBackend{}

// SetBackend wires the process-wide backend. Call it once during startup,
// before ingestion begins; it is not synchronized against the helpers.
func SetBackend(b Backend) {
	if b == nil {
		current = nopBackend{}
		return
	}
	current = b
}

// Metric names emitted by the pipeline.
const (
	MetricEntities         = "osm_entities_total"
	MetricDispatchDuration = "osm_dispatch_duration_seconds"
	MetricBatches          = "osm_batches_total"
)

// CountEntity counts one entity operation, e.g. kind="node", op="add".
func CountEntity(kind, op string) {
	current.IncCounter(MetricEntities, 1, Labels{"kind": kind, "op": op})
}

// ObserveDispatchSeconds records how long one entity operation took end to
// end, including middle cache and all output sinks.
func ObserveDispatchSeconds(kind, op string, seconds float64) {
	current.ObserveHistogram(MetricDispatchDuration, seconds, Labels{"kind": kind, "op": op})
}

// CountBatch counts one pipeline flush cycle.
func CountBatch() {
	current.IncCounter(MetricBatches, 1, nil)
}
