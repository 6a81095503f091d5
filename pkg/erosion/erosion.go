// Package erosion predicts riverbank widths at the monitored river points
// from a quarter's temporal encoding and meteorological inputs, and derives
// a feature-sensitivity matrix by nudging each raw input upward.
package erosion

import (
	"fmt"

	"github.com/riverinsight/riverd/pkg/features"
	"github.com/riverinsight/riverd/pkg/nn"
	"github.com/riverinsight/riverd/pkg/timeindex"
)

// PointCount is the number of monitored river points the network predicts.
const PointCount = 25

// FeatureCount is the width of the network's input row.
const FeatureCount = 7

// PointNames returns the output labels in network order.
func PointNames() []string {
	names := make([]string, PointCount)
	for i := range names {
		names[i] = fmt.Sprintf("Point_%d", i+1)
	}
	return names
}

// SensitivityFeatures names the raw inputs nudged by the sensitivity
// matrix, in column order.
var SensitivityFeatures = []string{"year", "quarter", "rainfall", "temperature"}

// Deltas are the upward nudges applied per raw feature.
type Deltas struct {
	Year        int
	Quarter     int
	Rainfall    float64
	Temperature float64
}

// DefaultDeltas mirror the magnitudes the sensitivity analysis was tuned
// with.
func DefaultDeltas() Deltas {
	return Deltas{Year: 1, Quarter: 1, Rainfall: 0.05, Temperature: 1.0}
}

// Prediction is the width forecast for one quarter.
type Prediction struct {
	Year        int                `json:"year"`
	Quarter     int                `json:"quarter"`
	Rainfall    float64            `json:"rainfall"`
	Temperature float64            `json:"temperature"`
	Widths      map[string]float64 `json:"widths"`
}

// Sensitivity holds the delta-width matrix: Matrix[i][j] is the change of
// point i+1's width when feature j is nudged up by its delta.
type Sensitivity struct {
	Year     int         `json:"year"`
	Quarter  int         `json:"quarter"`
	Points   []string    `json:"points"`
	Features []string    `json:"features"`
	Matrix   [][]float64 `json:"matrix"`
}

// Predictor wraps the pre-fit width network with its input and output
// scalers. Read-only after construction.
type Predictor struct {
	net          *nn.Network
	scalers      features.ErosionScalers
	targetScaler *features.Scaler
}

// NewPredictor validates the network geometry against the feature row and
// point count.
func NewPredictor(net *nn.Network, scalers features.ErosionScalers, targetScaler *features.Scaler) (*Predictor, error) {
	if got := net.InputDim(); got != FeatureCount {
		return nil, fmt.Errorf("erosion network input width %d, want %d", got, FeatureCount)
	}
	if got := net.OutputDim(); got != PointCount {
		return nil, fmt.Errorf("erosion network output width %d, want %d", got, PointCount)
	}
	if err := targetScaler.Validate(PointCount); err != nil {
		return nil, fmt.Errorf("erosion target scaler: %w", err)
	}
	for name, sc := range map[string]*features.Scaler{
		"year": scalers.Year, "rainfall": scalers.Rainfall, "temperature": scalers.Temperature,
	} {
		if err := sc.Validate(1); err != nil {
			return nil, fmt.Errorf("erosion %s scaler: %w", name, err)
		}
	}
	return &Predictor{net: net, scalers: scalers, targetScaler: targetScaler}, nil
}

// widths runs one forward pass and inverse-scales the outputs to meters.
func (p *Predictor) widths(idx timeindex.TimeIndex, rainfall, temperature float64) ([]float64, error) {
	row := features.ErosionRow(idx, rainfall, temperature, p.scalers)
	raw, err := p.net.Forward(row)
	if err != nil {
		return nil, err
	}
	return p.targetScaler.Inverse(raw)
}

// Predict returns the width forecast for all monitored points.
func (p *Predictor) Predict(idx timeindex.TimeIndex, rainfall, temperature float64) (Prediction, error) {
	w, err := p.widths(idx, rainfall, temperature)
	if err != nil {
		return Prediction{}, err
	}

	out := make(map[string]float64, PointCount)
	for i, name := range PointNames() {
		out[name] = w[i]
	}
	return Prediction{
		Year:        idx.Year,
		Quarter:     idx.Quarter,
		Rainfall:    rainfall,
		Temperature: temperature,
		Widths:      out,
	}, nil
}

// Sensitivity nudges each raw feature upward by its delta and reports the
// resulting width change per point. The quarter nudge wraps cyclically
// within the year.
func (p *Predictor) Sensitivity(idx timeindex.TimeIndex, rainfall, temperature float64, d Deltas) (Sensitivity, error) {
	base, err := p.widths(idx, rainfall, temperature)
	if err != nil {
		return Sensitivity{}, err
	}

	nudgedQuarter := timeindex.TimeIndex{
		Year:    idx.Year,
		Quarter: (idx.Quarter-1+d.Quarter)%4 + 1,
	}

	variants := make([][]float64, 0, len(SensitivityFeatures))
	for _, v := range []struct {
		idx         timeindex.TimeIndex
		rainfall    float64
		temperature float64
	}{
		{timeindex.TimeIndex{Year: idx.Year + d.Year, Quarter: idx.Quarter}, rainfall, temperature},
		{nudgedQuarter, rainfall, temperature},
		{idx, rainfall + d.Rainfall, temperature},
		{idx, rainfall, temperature + d.Temperature},
	} {
		w, err := p.widths(v.idx, v.rainfall, v.temperature)
		if err != nil {
			return Sensitivity{}, err
		}
		variants = append(variants, w)
	}

	matrix := make([][]float64, PointCount)
	for i := range matrix {
		matrix[i] = make([]float64, len(variants))
		for j, w := range variants {
			matrix[i][j] = w[i] - base[i]
		}
	}

	return Sensitivity{
		Year:     idx.Year,
		Quarter:  idx.Quarter,
		Points:   PointNames(),
		Features: append([]string(nil), SensitivityFeatures...),
		Matrix:   matrix,
	}, nil
}
