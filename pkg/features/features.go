// Package features builds the numeric feature rows consumed by the
// prediction networks. All transforms here wrap pre-fit parameters loaded
// from the artifact bundle; nothing is fit at request time, and every
// function is a pure, deterministic function of its inputs so repeated
// calls yield bit-identical rows.
package features

import (
	"fmt"
	"math"

	"github.com/riverinsight/riverd/pkg/timeindex"
)

// Scaler is a pre-fit affine transform with StandardScaler semantics:
// transform(x) = (x - mean) / scale, applied column-wise.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Validate checks the scaler parameters for the expected width.
func (s *Scaler) Validate(width int) error {
	if len(s.Mean) != width || len(s.Scale) != width {
		return fmt.Errorf("scaler: expected %d columns, got mean=%d scale=%d", width, len(s.Mean), len(s.Scale))
	}
	for i, sc := range s.Scale {
		if sc == 0 {
			return fmt.Errorf("scaler: zero scale at column %d", i)
		}
	}
	return nil
}

// Transform maps a row from original units into scaled model space.
func (s *Scaler) Transform(row []float64) ([]float64, error) {
	if len(row) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: row has %d columns, want %d", len(row), len(s.Mean))
	}
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}

// Inverse maps a row from scaled model space back to original units.
func (s *Scaler) Inverse(row []float64) ([]float64, error) {
	if len(row) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: row has %d columns, want %d", len(row), len(s.Mean))
	}
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = v*s.Scale[i] + s.Mean[i]
	}
	return out, nil
}

// TransformScalar scales a single value through a one-column scaler.
func (s *Scaler) TransformScalar(v float64) float64 {
	return (v - s.Mean[0]) / s.Scale[0]
}

// FeatureRow is the temporal encoding of one quarter: cyclic quarter
// components plus the scaled year.
type FeatureRow struct {
	QuarterSin float64
	QuarterCos float64
	YearScaled float64
}

// Values returns the row as a slice in model column order.
func (f FeatureRow) Values() []float64 {
	return []float64{f.QuarterSin, f.QuarterCos, f.YearScaled}
}

// TimeFeatures encodes one time index. The year scaler is the pre-fit
// single-column scaler from the artifact bundle.
func TimeFeatures(idx timeindex.TimeIndex, yearScaler *Scaler) FeatureRow {
	return FeatureRow{
		QuarterSin: math.Sin(2 * math.Pi * float64(idx.Quarter) / 4),
		QuarterCos: math.Cos(2 * math.Pi * float64(idx.Quarter) / 4),
		YearScaled: yearScaler.TransformScalar(float64(idx.Year)),
	}
}

// TimeFeatureMatrix encodes a sequence of indices, one row per index.
func TimeFeatureMatrix(indices []timeindex.TimeIndex, yearScaler *Scaler) [][]float64 {
	rows := make([][]float64, len(indices))
	for i, idx := range indices {
		rows[i] = TimeFeatures(idx, yearScaler).Values()
	}
	return rows
}

// ErosionScalers bundles the pre-fit single-column scalers used by the
// riverbank-erosion feature row.
type ErosionScalers struct {
	Year        *Scaler
	Rainfall    *Scaler
	Temperature *Scaler
}

// ErosionRow builds the input row for the erosion network:
// quarter_sin, quarter_cos, year_scaled, year_scaled_amplified,
// year_quarter_interaction, rainfall_scaled, temperature_scaled.
func ErosionRow(idx timeindex.TimeIndex, rainfall, temperature float64, sc ErosionScalers) []float64 {
	qSin := math.Sin(2 * math.Pi * float64(idx.Quarter) / 4)
	qCos := math.Cos(2 * math.Pi * float64(idx.Quarter) / 4)
	yearScaled := sc.Year.TransformScalar(float64(idx.Year))
	amplified := yearScaled * 10
	return []float64{
		qSin,
		qCos,
		yearScaled,
		amplified,
		amplified * (qSin + qCos),
		sc.Rainfall.TransformScalar(rainfall),
		sc.Temperature.TransformScalar(temperature),
	}
}
