package meander

import (
	"fmt"
	"math"

	"github.com/riverinsight/riverd/pkg/features"
)

// DeltaMode selects the baseline a row's values are reported against.
// The delta modes report the unsigned magnitude of movement, |value -
// baseline|, not a signed displacement: callers learn how far a channel
// moved, not in which direction.
type DeltaMode string

const (
	// DeltaNone reports absolute physical values.
	DeltaNone DeltaMode = "none"
	// DeltaInitial reports the magnitude of movement relative to the
	// last observed historical row.
	DeltaInitial DeltaMode = "initial"
	// DeltaPrevious reports the magnitude of movement relative to the
	// immediately preceding step (the historical row for step 0).
	DeltaPrevious DeltaMode = "previous"
)

// ParseDeltaMode validates a mode string, defaulting empty to DeltaNone.
func ParseDeltaMode(s string) (DeltaMode, error) {
	switch DeltaMode(s) {
	case "":
		return DeltaNone, nil
	case DeltaNone, DeltaInitial, DeltaPrevious:
		return DeltaMode(s), nil
	}
	return "", fmt.Errorf("%w: unknown delta mode %q", ErrInvalidInput, s)
}

// Row is one user-facing forecast record: the six predicted centerline
// distances in meters plus the three derived bend magnitudes.
type Row struct {
	Year    int     `json:"year"`
	Quarter int     `json:"quarter"`
	C1Dist  float64 `json:"c1_dist"`
	C2Dist  float64 `json:"c2_dist"`
	C3Dist  float64 `json:"c3_dist"`
	C4Dist  float64 `json:"c4_dist"`
	C7Dist  float64 `json:"c7_dist"`
	C8Dist  float64 `json:"c8_dist"`
	Bend1   float64 `json:"bend_1"`
	Bend2   float64 `json:"bend_2"`
	Bend3   float64 `json:"bend_3"`
}

// bendPairs are the fixed channel pairs the bend magnitudes derive from:
// each bend is the absolute gap between its two control-point distances.
var bendPairs = [3][2]int{{0, 1}, {2, 3}, {4, 5}}

// Converter turns raw network outputs into physical-unit rows. The target
// scaler recovers original sensor units; the pixel and ground-sample
// constants convert those to meters.
type Converter struct {
	TargetScaler         *features.Scaler
	PixelsPerUnit        float64 // sensor units per pixel, 12 for the trained model
	GroundSampleDistance float64 // meters per pixel, 7.5 for the source imagery
}

// NewConverter validates the conversion parameters.
func NewConverter(targetScaler *features.Scaler, pixelsPerUnit, gsd float64) (*Converter, error) {
	if err := targetScaler.Validate(TargetWidth); err != nil {
		return nil, err
	}
	if pixelsPerUnit <= 0 || gsd <= 0 {
		return nil, fmt.Errorf("conversion constants must be positive, got ppu=%v gsd=%v", pixelsPerUnit, gsd)
	}
	return &Converter{
		TargetScaler:         targetScaler,
		PixelsPerUnit:        pixelsPerUnit,
		GroundSampleDistance: gsd,
	}, nil
}

// ToMeters inverse-scales one raw prediction vector and converts it to
// meters.
func (c *Converter) ToMeters(scaled []float64) ([]float64, error) {
	units, err := c.TargetScaler.Inverse(scaled)
	if err != nil {
		return nil, err
	}
	for i := range units {
		units[i] = units[i] / c.PixelsPerUnit * c.GroundSampleDistance
	}
	return units, nil
}

// ToScaled is the inverse of ToMeters, mapping physical meters back into
// scaled model space.
func (c *Converter) ToScaled(meters []float64) ([]float64, error) {
	units := make([]float64, len(meters))
	for i, v := range meters {
		units[i] = v * c.PixelsPerUnit / c.GroundSampleDistance
	}
	return c.TargetScaler.Transform(units)
}

// Rows converts a run into user-facing records. baseline is the last
// observed historical row in meters; DeltaInitial reports each step against
// it, DeltaPrevious against the preceding step (baseline for step 0). Delta
// values are unsigned magnitudes, see DeltaMode. Rounding to 4 decimals
// happens once, after all arithmetic.
func (c *Converter) Rows(run *ForecastRun, mode DeltaMode, baseline []float64) ([]Row, error) {
	if mode != DeltaNone {
		if len(baseline) != TargetWidth {
			return nil, fmt.Errorf("baseline has %d values, want %d", len(baseline), TargetWidth)
		}
	}

	// Physical distances plus bends per step, unrounded.
	values := make([][]float64, run.Steps())
	for t, pred := range run.Predictions {
		meters, err := c.ToMeters(pred)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", t, err)
		}
		values[t] = withBends(meters)
	}

	var base []float64
	if mode != DeltaNone {
		base = withBends(append([]float64(nil), baseline...))
	}

	rows := make([]Row, run.Steps())
	for t := range values {
		v := values[t]
		switch mode {
		case DeltaInitial:
			v = absDiff(v, base)
		case DeltaPrevious:
			prev := base
			if t > 0 {
				prev = values[t-1]
			}
			v = absDiff(v, prev)
		}

		idx := run.Indices[t]
		rows[t] = Row{
			Year:    idx.Year,
			Quarter: idx.Quarter,
			C1Dist:  round4(v[0]),
			C2Dist:  round4(v[1]),
			C3Dist:  round4(v[2]),
			C4Dist:  round4(v[3]),
			C7Dist:  round4(v[4]),
			C8Dist:  round4(v[5]),
			Bend1:   round4(v[6]),
			Bend2:   round4(v[7]),
			Bend3:   round4(v[8]),
		}
	}
	return rows, nil
}

// withBends appends the three bend magnitudes to a six-distance row.
func withBends(meters []float64) []float64 {
	out := append(meters, 0, 0, 0)
	for i, pair := range bendPairs {
		out[TargetWidth+i] = math.Abs(meters[pair[0]] - meters[pair[1]])
	}
	return out
}

func absDiff(v, base []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = math.Abs(v[i] - base[i])
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
