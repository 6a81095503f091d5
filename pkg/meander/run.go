// Package meander implements the autoregressive inference pipeline for the
// river-centerline migration model: a sequence network whose prior outputs
// are dimensionality-reduced and re-injected as inputs for later steps,
// with per-step saliency capture and a write-once run cache keyed by the
// requested (year, quarter).
package meander

import (
	"github.com/riverinsight/riverd/pkg/timeindex"
)

// Model geometry. The network consumes a sliding window of WindowSteps
// rows, each InputWidth wide, and emits TargetWidth predicted centerline
// distances per step.
const (
	WindowSteps  = 4
	InputWidth   = 6
	TargetWidth  = 6
	ReducedWidth = 3
)

// TargetColumns names the predicted distance channels in output order.
var TargetColumns = []string{"c1_dist", "c2_dist", "c3_dist", "c4_dist", "c7_dist", "c8_dist"}

// ForecastRun is the complete result of one autoregressive run: the ordered
// per-step predictions (still in scaled model space) paired 1:1 with the
// saliency tensors captured during the same forward passes. Runs are
// immutable once produced.
type ForecastRun struct {
	Key          string                `json:"key"`
	Indices      []timeindex.TimeIndex `json:"indices"`
	Predictions  [][]float64           `json:"predictions"`  // steps x TargetWidth
	Attributions [][][]float64         `json:"attributions"` // steps x WindowSteps x InputWidth
}

// Steps returns the number of forecast steps in the run.
func (r *ForecastRun) Steps() int {
	return len(r.Predictions)
}

// Prefix returns a view over the first n steps. The backing arrays are
// shared; callers must treat the result as read-only, same as the run
// itself. n beyond the run length returns the run unchanged.
func (r *ForecastRun) Prefix(n int) *ForecastRun {
	if n >= r.Steps() {
		return r
	}
	return &ForecastRun{
		Key:          r.Key,
		Indices:      r.Indices[:n],
		Predictions:  r.Predictions[:n],
		Attributions: r.Attributions[:n],
	}
}
