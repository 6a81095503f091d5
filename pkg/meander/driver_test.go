package meander

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/riverinsight/riverd/pkg/features"
	"github.com/riverinsight/riverd/pkg/pca"
	"github.com/riverinsight/riverd/pkg/timeindex"
)

var testEpoch = timeindex.TimeIndex{Year: 2024, Quarter: 4}

// stubModel records every window it is shown and answers with a fixed
// function of the window. failAt >= 0 makes the forward pass at that call
// index fail.
type stubModel struct {
	windows [][][]float64
	predict func(window [][]float64) []float64
	failAt  int
}

func newStubModel(predict func([][]float64) []float64) *stubModel {
	return &stubModel{predict: predict, failAt: -1}
}

func (m *stubModel) Name() string { return "stub" }

func (m *stubModel) Forward(_ context.Context, window [][]float64) ([]float64, [][]float64, error) {
	copied := make([][]float64, len(window))
	for i, row := range window {
		copied[i] = append([]float64(nil), row...)
	}
	m.windows = append(m.windows, copied)

	if m.failAt >= 0 && len(m.windows)-1 == m.failAt {
		return nil, nil, fmt.Errorf("stub failure")
	}

	attr := make([][]float64, WindowSteps)
	for i := range attr {
		attr[i] = make([]float64, InputWidth)
		for j := range attr[i] {
			attr[i][j] = float64(len(m.windows))
		}
	}
	return m.predict(window), attr, nil
}

func (m *stubModel) calls() int { return len(m.windows) }

func constantPrediction(pred []float64) func([][]float64) []float64 {
	return func([][]float64) []float64 {
		return append([]float64(nil), pred...)
	}
}

// identityReducer projects a 6-vector onto its first 3 coordinates.
func identityReducer(t *testing.T) *pca.Projection {
	t.Helper()
	p, err := pca.New(make([]float64, TargetWidth), [][]float64{
		{1, 0, 0, 0, 0, 0},
		{0, 1, 0, 0, 0, 0},
		{0, 0, 1, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("pca.New() error = %v", err)
	}
	return p
}

func testSeed() [][]float64 {
	return [][]float64{
		{1, 2, 3, 0.1, 0.2, 0.3},
		{4, 5, 6, 0.4, 0.5, 0.6},
		{7, 8, 9, 0.7, 0.8, 0.9},
		{10, 11, 12, 1.0, 1.1, 1.2},
	}
}

func testYearScaler() *features.Scaler {
	return &features.Scaler{Mean: []float64{2020}, Scale: []float64{10}}
}

func newTestDriver(t *testing.T, model Model) *Driver {
	t.Helper()
	d, err := NewDriver(model, identityReducer(t), testSeed(), testYearScaler(), nil)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	return d
}

func TestNewDriver_Validation(t *testing.T) {
	model := newStubModel(constantPrediction([]float64{1, 2, 3, 4, 5, 6}))
	reducer := identityReducer(t)

	tests := []struct {
		name  string
		model Model
		seed  [][]float64
	}{
		{"nil model", nil, testSeed()},
		{"short seed", model, testSeed()[:3]},
		{"narrow seed row", model, [][]float64{
			{1, 2, 3, 4, 5, 6},
			{1, 2, 3, 4, 5},
			{1, 2, 3, 4, 5, 6},
			{1, 2, 3, 4, 5, 6},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDriver(tt.model, reducer, tt.seed, testYearScaler(), nil); err == nil {
				t.Error("NewDriver() error = nil, want error")
			}
		})
	}
}

// TestDriver_WindowSchedule pins the exact window presented to the model at
// every step of the bootstrap and steady-state phases. With a constant
// prediction the re-encoded rows are fully predictable: the first three
// prediction values followed by that step's temporal features.
func TestDriver_WindowSchedule(t *testing.T) {
	pred := []float64{10, 20, 30, 40, 50, 60}
	model := newStubModel(constantPrediction(pred))
	d := newTestDriver(t, model)

	indices := timeindex.Sequence(testEpoch, 6)
	run, err := d.Run(context.Background(), "2026_2", indices)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if run.Steps() != 6 {
		t.Fatalf("Steps() = %d, want 6", run.Steps())
	}
	if model.calls() != 6 {
		t.Fatalf("model called %d times, want 6", model.calls())
	}

	seed := testSeed()
	feats := features.TimeFeatureMatrix(indices, testYearScaler())
	// Re-encoded row for the prediction of step k paired with feature row i.
	reenc := func(i int) []float64 {
		row := []float64{pred[0], pred[1], pred[2]}
		return append(row, feats[i]...)
	}

	want := [][][]float64{
		{seed[0], seed[1], seed[2], seed[3]},
		{seed[1], seed[2], seed[3], reenc(0)},
		{seed[2], seed[3], reenc(0), reenc(1)},
		{seed[3], reenc(0), reenc(1), reenc(2)},
		{reenc(1), reenc(2), reenc(3), reenc(4)},
		{reenc(2), reenc(3), reenc(4), reenc(5)},
	}

	for step, wantWindow := range want {
		got := model.windows[step]
		if len(got) != WindowSteps {
			t.Fatalf("step %d: window has %d rows, want %d", step, len(got), WindowSteps)
		}
		for i := range got {
			if len(got[i]) != InputWidth {
				t.Fatalf("step %d row %d: width %d, want %d", step, i, len(got[i]), InputWidth)
			}
		}
		if !reflect.DeepEqual(got, wantWindow) {
			t.Errorf("step %d window = %v, want %v", step, got, wantWindow)
		}
	}
}

// Steady-state check beyond the drain-out boundary: at step t the window is
// the re-encodings of predictions t-4..t-1 paired with feature rows t-3..t.
func TestDriver_SteadyStatePairing(t *testing.T) {
	// Prediction varies per call so the window rows identify their source
	// step: pred of step k carries k+1 in channel 0.
	calls := 0
	model := newStubModel(nil)
	model.predict = func([][]float64) []float64 {
		calls++
		return []float64{float64(calls), 0, 0, 0, 0, 0}
	}
	d := newTestDriver(t, model)

	indices := timeindex.Sequence(testEpoch, 8)
	if _, err := d.Run(context.Background(), "2026_4", indices); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	feats := features.TimeFeatureMatrix(indices, testYearScaler())
	for step := 4; step < 8; step++ {
		window := model.windows[step]
		for i := 0; i < WindowSteps; i++ {
			srcStep := step - 4 + i
			if got, want := window[i][0], float64(srcStep+1); got != want {
				t.Errorf("step %d row %d: prediction channel = %v, want %v (step %d output)", step, i, got, want, srcStep)
			}
			featRow := feats[step-3+i]
			if !reflect.DeepEqual(window[i][3:], featRow) {
				t.Errorf("step %d row %d: features = %v, want row %d = %v", step, i, window[i][3:], step-3+i, featRow)
			}
		}
	}
}

func TestDriver_Determinism(t *testing.T) {
	indices := timeindex.Sequence(testEpoch, 5)
	predict := func(window [][]float64) []float64 {
		out := make([]float64, TargetWidth)
		for _, row := range window {
			for j, v := range row {
				out[j] += v
			}
		}
		return out
	}

	runA, err := newTestDriver(t, newStubModel(predict)).Run(context.Background(), "2026_1", indices)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	runB, err := newTestDriver(t, newStubModel(predict)).Run(context.Background(), "2026_1", indices)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if !reflect.DeepEqual(runA, runB) {
		t.Error("identical inputs produced different runs")
	}
}

// TestDriver_HandComputedRun asserts the first two predictions of a
// window-sum stub exactly, computed by hand from the seed, the stub rule
// and the re-encoding definition.
func TestDriver_HandComputedRun(t *testing.T) {
	// pred[j] = sum of all window elements + j
	model := newStubModel(func(window [][]float64) []float64 {
		var sum float64
		for _, row := range window {
			for _, v := range row {
				sum += v
			}
		}
		out := make([]float64, TargetWidth)
		for j := range out {
			out[j] = sum + float64(j)
		}
		return out
	})
	d := newTestDriver(t, model)

	indices := timeindex.Sequence(testEpoch, 2)
	run, err := d.Run(context.Background(), "2025_2", indices)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	seed := testSeed()
	var seedSum float64
	for _, row := range seed {
		for _, v := range row {
			seedSum += v
		}
	}

	// Step 0: window is the raw seed.
	for j := 0; j < TargetWidth; j++ {
		if got, want := run.Predictions[0][j], seedSum+float64(j); math.Abs(got-want) > 1e-12 {
			t.Errorf("step 0 channel %d = %v, want %v", j, got, want)
		}
	}

	// Step 1: seed rows 1..3 plus the re-encoding of step 0's prediction,
	// which is its first three values (identity reducer) plus the feature
	// row of the first forecast quarter.
	var tailSum float64
	for _, row := range seed[1:] {
		for _, v := range row {
			tailSum += v
		}
	}
	p0 := run.Predictions[0]
	feat0 := features.TimeFeatures(indices[0], testYearScaler())
	windowSum := tailSum + p0[0] + p0[1] + p0[2] + feat0.QuarterSin + feat0.QuarterCos + feat0.YearScaled
	for j := 0; j < TargetWidth; j++ {
		if got, want := run.Predictions[1][j], windowSum+float64(j); math.Abs(got-want) > 1e-9 {
			t.Errorf("step 1 channel %d = %v, want %v", j, got, want)
		}
	}
}

func TestDriver_AttributionPairing(t *testing.T) {
	model := newStubModel(constantPrediction([]float64{1, 2, 3, 4, 5, 6}))
	d := newTestDriver(t, model)

	run, err := d.Run(context.Background(), "2025_3", timeindex.Sequence(testEpoch, 3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(run.Attributions) != run.Steps() {
		t.Fatalf("attributions = %d, want %d", len(run.Attributions), run.Steps())
	}
	// The stub stamps each attribution with its 1-based call index.
	for step, attr := range run.Attributions {
		if got, want := attr[0][0], float64(step+1); got != want {
			t.Errorf("step %d attribution stamp = %v, want %v", step, got, want)
		}
	}
}

func TestDriver_FailureAbortsRun(t *testing.T) {
	model := newStubModel(constantPrediction([]float64{1, 2, 3, 4, 5, 6}))
	model.failAt = 3
	d := newTestDriver(t, model)

	run, err := d.Run(context.Background(), "2026_1", timeindex.Sequence(testEpoch, 5))
	if run != nil {
		t.Fatal("Run() returned a partial run after a step failure")
	}

	var cerr *ComputationError
	if !errors.As(err, &cerr) {
		t.Fatalf("Run() error = %T, want *ComputationError", err)
	}
	if cerr.Step != 3 {
		t.Errorf("ComputationError.Step = %d, want 3", cerr.Step)
	}
}

func TestDriver_RejectsNonFiniteOutput(t *testing.T) {
	tests := []struct {
		name string
		pred []float64
	}{
		{"nan", []float64{1, math.NaN(), 3, 4, 5, 6}},
		{"inf", []float64{1, 2, math.Inf(1), 4, 5, 6}},
		{"short", []float64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDriver(t, newStubModel(constantPrediction(tt.pred)))

			_, err := d.Run(context.Background(), "2025_1", timeindex.Sequence(testEpoch, 1))
			var cerr *ComputationError
			if !errors.As(err, &cerr) {
				t.Fatalf("Run() error = %v, want *ComputationError", err)
			}
		})
	}
}

func TestDriver_SeedNotMutatedByModel(t *testing.T) {
	// The prediction depends on the window contents and the model then
	// scribbles over its input, so any aliasing of the seed into a window
	// at any bootstrap step shows up as diverging predictions.
	scribble := func(window [][]float64) []float64 {
		pred := make([]float64, TargetWidth)
		for j := range pred {
			sum := 0.0
			for _, row := range window {
				sum += row[j%len(row)]
			}
			pred[j] = sum + float64(j)
		}
		for _, row := range window {
			for j := range row {
				row[j] = -999
			}
		}
		return pred
	}

	for _, steps := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("%d steps", steps), func(t *testing.T) {
			model := newStubModel(scribble)
			d := newTestDriver(t, model)

			first, err := d.Run(context.Background(), "run", timeindex.Sequence(testEpoch, steps))
			if err != nil {
				t.Fatalf("first Run() error = %v", err)
			}
			second, err := d.Run(context.Background(), "run", timeindex.Sequence(testEpoch, steps))
			if err != nil {
				t.Fatalf("second Run() error = %v", err)
			}

			if !reflect.DeepEqual(first.Predictions, second.Predictions) {
				t.Errorf("runs diverged: seed window was mutated by the model\nfirst:  %v\nsecond: %v",
					first.Predictions, second.Predictions)
			}
			if !reflect.DeepEqual(d.seed, testSeed()) {
				t.Errorf("driver seed corrupted: got %v", d.seed)
			}
		})
	}
}
