package meander

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/riverinsight/riverd/pkg/features"
	"github.com/riverinsight/riverd/pkg/pca"
	"github.com/riverinsight/riverd/pkg/timeindex"
)

// stepPhase classifies one step of the autoregressive loop. The first four
// steps each have a hand-specified window schedule while the seed history
// drains out of the sliding window; from step 4 on the window is built
// entirely from re-encoded predictions.
type stepPhase int

const (
	phaseBootstrap0 stepPhase = iota
	phaseBootstrap1
	phaseBootstrap2
	phaseBootstrap3
	phaseSteadyState
)

// phaseFor resolves the phase for a 0-indexed step.
func phaseFor(t int) stepPhase {
	switch t {
	case 0:
		return phaseBootstrap0
	case 1:
		return phaseBootstrap1
	case 2:
		return phaseBootstrap2
	case 3:
		return phaseBootstrap3
	default:
		return phaseSteadyState
	}
}

// Driver advances the autoregressive loop one step at a time. It owns the
// read-only seed window (the last WindowSteps real observations before the
// epoch) and assembles each step's model input from seed rows and
// re-encoded prior predictions.
type Driver struct {
	model      Model
	reducer    *pca.Projection
	seed       [][]float64 // WindowSteps x InputWidth, never mutated
	yearScaler *features.Scaler
	obs        Observer
}

// NewDriver validates the seed window and reducer geometry and builds a
// Driver. obs may be nil.
func NewDriver(model Model, reducer *pca.Projection, seed [][]float64, yearScaler *features.Scaler, obs Observer) (*Driver, error) {
	if model == nil {
		return nil, fmt.Errorf("driver: nil model")
	}
	if reducer.InputDim() != TargetWidth || reducer.OutputDim() != ReducedWidth {
		return nil, fmt.Errorf("driver: reducer maps %d->%d, want %d->%d",
			reducer.InputDim(), reducer.OutputDim(), TargetWidth, ReducedWidth)
	}
	if len(seed) != WindowSteps {
		return nil, fmt.Errorf("driver: seed window has %d rows, want %d", len(seed), WindowSteps)
	}
	owned := make([][]float64, WindowSteps)
	for i, row := range seed {
		if len(row) != InputWidth {
			return nil, fmt.Errorf("driver: seed row %d has width %d, want %d", i, len(row), InputWidth)
		}
		owned[i] = append([]float64(nil), row...)
	}
	return &Driver{
		model:      model,
		reducer:    reducer,
		seed:       owned,
		yearScaler: yearScaler,
		obs:        obs,
	}, nil
}

// Run executes the full autoregressive loop for the given forecast indices
// (oldest first) and returns the completed run. Steps are strictly
// sequential: step t's input depends on step t-1's output. Any forward
// failure aborts the whole run; the caller must not cache a partial result.
func (d *Driver) Run(ctx context.Context, key string, indices []timeindex.TimeIndex) (*ForecastRun, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("driver: no forecast steps requested")
	}

	timeRows := features.TimeFeatureMatrix(indices, d.yearScaler)

	preds := make([][]float64, 0, len(indices))
	attrs := make([][][]float64, 0, len(indices))

	for t := range indices {
		window, err := d.buildWindow(t, preds, timeRows)
		if err != nil {
			return nil, &ComputationError{Step: t, Err: err}
		}

		start := time.Now()
		pred, attr, err := d.model.Forward(ctx, window)
		if d.obs != nil {
			d.obs.ObserveForward(time.Since(start).Seconds())
		}
		if err != nil {
			return nil, &ComputationError{Step: t, Err: err}
		}
		if err := checkOutputs(pred, attr); err != nil {
			return nil, &ComputationError{Step: t, Err: err}
		}

		preds = append(preds, append([]float64(nil), pred...))
		attrs = append(attrs, attr)
	}

	return &ForecastRun{
		Key:          key,
		Indices:      append([]timeindex.TimeIndex(nil), indices...),
		Predictions:  preds,
		Attributions: attrs,
	}, nil
}

// buildWindow assembles the WindowSteps x InputWidth model input for step t.
// The boundary schedule for steps 0..3 is fixed and hand-specified: the
// seed rows drain out one per step while re-encoded predictions fill in
// from the bottom. From step 4 onward all four rows come from predictions
// t-4..t-1 paired with the feature rows for steps t-3..t.
func (d *Driver) buildWindow(t int, preds, timeRows [][]float64) ([][]float64, error) {
	var window [][]float64
	var err error

	switch phaseFor(t) {
	case phaseBootstrap0:
		// Copy so a model cannot corrupt the seed for later runs.
		window = make([][]float64, WindowSteps)
		for i, row := range d.seed {
			window[i] = append([]float64(nil), row...)
		}

	case phaseBootstrap1:
		window, err = d.appendReencoded(d.seed[1:4], preds[0:1], timeRows[0:1])

	case phaseBootstrap2:
		window, err = d.appendReencoded(d.seed[2:4], preds[0:2], timeRows[0:2])

	case phaseBootstrap3:
		window, err = d.appendReencoded(d.seed[3:4], preds[0:3], timeRows[0:3])

	case phaseSteadyState:
		window, err = d.appendReencoded(nil, preds[t-4:t], timeRows[t-3:t+1])
	}
	if err != nil {
		return nil, err
	}

	if len(window) != WindowSteps {
		return nil, fmt.Errorf("window has %d rows, want %d", len(window), WindowSteps)
	}
	return window, nil
}

// appendReencoded builds a window from raw seed rows followed by re-encoded
// predictions. Each prediction is reduced to ReducedWidth components and
// concatenated with its paired temporal feature row, reconstructing an
// InputWidth-wide row of the kind the network was trained on.
func (d *Driver) appendReencoded(raw, preds, timeRows [][]float64) ([][]float64, error) {
	if len(preds) != len(timeRows) {
		return nil, fmt.Errorf("re-encode: %d predictions but %d feature rows", len(preds), len(timeRows))
	}

	reduced, err := d.reducer.Reduce(preds)
	if err != nil {
		return nil, fmt.Errorf("re-encode: %w", err)
	}

	window := make([][]float64, 0, WindowSteps)
	// Raw seed rows are copied so a model writing to its input window
	// cannot corrupt the seed for later steps or runs.
	for _, r := range raw {
		window = append(window, append([]float64(nil), r...))
	}
	for i := range reduced {
		row := make([]float64, 0, InputWidth)
		row = append(row, reduced[i]...)
		row = append(row, timeRows[i]...)
		if len(row) != InputWidth {
			return nil, fmt.Errorf("re-encode: row has width %d, want %d", len(row), InputWidth)
		}
		window = append(window, row)
	}
	return window, nil
}

// checkOutputs rejects malformed or non-finite model outputs so a silently
// corrupted run can never be cached.
func checkOutputs(pred []float64, attr [][]float64) error {
	if len(pred) != TargetWidth {
		return fmt.Errorf("prediction has %d values, want %d", len(pred), TargetWidth)
	}
	for i, v := range pred {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("prediction channel %d is not finite", i)
		}
	}
	if len(attr) != WindowSteps {
		return fmt.Errorf("attribution has %d rows, want %d", len(attr), WindowSteps)
	}
	for i, row := range attr {
		if len(row) != InputWidth {
			return fmt.Errorf("attribution row %d has width %d, want %d", i, len(row), InputWidth)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("attribution element (%d,%d) is not finite", i, j)
			}
		}
	}
	return nil
}
