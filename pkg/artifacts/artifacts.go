// Package artifacts loads the pre-fit numeric artifact bundle the service
// runs on: scalers, the linear projection, network weights, the seed
// window and the recorded historical rows. Everything is plain JSON; no
// trained model binaries are read or written.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/riverinsight/riverd/pkg/features"
	"github.com/riverinsight/riverd/pkg/meander"
	"github.com/riverinsight/riverd/pkg/nn"
	"github.com/riverinsight/riverd/pkg/pca"
)

// Bundle file names inside the artifacts directory.
const (
	MeanderFile    = "meander.json"
	HistoricalFile = "historical.json"
	ErosionFile    = "erosion.json"
)

// scalerSpec is the serialized form of a pre-fit affine scaler.
type scalerSpec struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s scalerSpec) scaler() *features.Scaler {
	return &features.Scaler{Mean: s.Mean, Scale: s.Scale}
}

type meanderSpec struct {
	YearScaler   scalerSpec `json:"year_scaler"`
	TargetScaler scalerSpec `json:"target_scaler"`
	PCA          struct {
		Mean       []float64   `json:"mean"`
		Components [][]float64 `json:"components"`
	} `json:"pca"`
	Weights nn.Weights  `json:"weights"`
	Seed    [][]float64 `json:"seed"`
}

type historicalSpec struct {
	Baseline []float64     `json:"baseline"`
	Rows     []meander.Row `json:"rows"`
}

type erosionSpec struct {
	YearScaler        scalerSpec `json:"year_scaler"`
	RainfallScaler    scalerSpec `json:"rainfall_scaler"`
	TemperatureScaler scalerSpec `json:"temperature_scaler"`
	TargetScaler      scalerSpec `json:"target_scaler"`
	Weights           nn.Weights `json:"weights"`
}

// Bundle is the fully validated artifact set.
type Bundle struct {
	// Meander migration pipeline.
	YearScaler     *features.Scaler
	TargetScaler   *features.Scaler
	Projection     *pca.Projection
	MeanderNetwork *nn.Network
	Seed           [][]float64

	// Historical record and the epoch baseline row in meters.
	Historical map[string]meander.Row
	Baseline   []float64

	// Riverbank erosion pipeline.
	ErosionScalers      features.ErosionScalers
	ErosionTargetScaler *features.Scaler
	ErosionNetwork      *nn.Network
}

// Load reads and validates the bundle from dir. All three files are
// required; shape errors surface here rather than at request time.
func Load(dir string) (*Bundle, error) {
	var m meanderSpec
	if err := readJSON(filepath.Join(dir, MeanderFile), &m); err != nil {
		return nil, err
	}
	var h historicalSpec
	if err := readJSON(filepath.Join(dir, HistoricalFile), &h); err != nil {
		return nil, err
	}
	var e erosionSpec
	if err := readJSON(filepath.Join(dir, ErosionFile), &e); err != nil {
		return nil, err
	}

	b := &Bundle{
		YearScaler:   m.YearScaler.scaler(),
		TargetScaler: m.TargetScaler.scaler(),
		Seed:         m.Seed,
		Baseline:     h.Baseline,
		ErosionScalers: features.ErosionScalers{
			Year:        e.YearScaler.scaler(),
			Rainfall:    e.RainfallScaler.scaler(),
			Temperature: e.TemperatureScaler.scaler(),
		},
		ErosionTargetScaler: e.TargetScaler.scaler(),
	}

	if err := b.YearScaler.Validate(1); err != nil {
		return nil, fmt.Errorf("%s: year scaler: %w", MeanderFile, err)
	}
	if err := b.TargetScaler.Validate(meander.TargetWidth); err != nil {
		return nil, fmt.Errorf("%s: target scaler: %w", MeanderFile, err)
	}

	projection, err := pca.New(m.PCA.Mean, m.PCA.Components)
	if err != nil {
		return nil, fmt.Errorf("%s: pca: %w", MeanderFile, err)
	}
	if projection.InputDim() != meander.TargetWidth || projection.OutputDim() != meander.ReducedWidth {
		return nil, fmt.Errorf("%s: pca maps %d->%d, want %d->%d", MeanderFile,
			projection.InputDim(), projection.OutputDim(), meander.TargetWidth, meander.ReducedWidth)
	}
	b.Projection = projection

	net, err := nn.New(m.Weights)
	if err != nil {
		return nil, fmt.Errorf("%s: weights: %w", MeanderFile, err)
	}
	b.MeanderNetwork = net

	if len(b.Seed) != meander.WindowSteps {
		return nil, fmt.Errorf("%s: seed has %d rows, want %d", MeanderFile, len(b.Seed), meander.WindowSteps)
	}
	for i, row := range b.Seed {
		if len(row) != meander.InputWidth {
			return nil, fmt.Errorf("%s: seed row %d has width %d, want %d", MeanderFile, i, len(row), meander.InputWidth)
		}
	}

	if len(h.Baseline) != meander.TargetWidth {
		return nil, fmt.Errorf("%s: baseline has %d values, want %d", HistoricalFile, len(h.Baseline), meander.TargetWidth)
	}
	b.Historical = make(map[string]meander.Row, len(h.Rows))
	for i, row := range h.Rows {
		if row.Quarter < 1 || row.Quarter > 4 {
			return nil, fmt.Errorf("%s: row %d has quarter %d", HistoricalFile, i, row.Quarter)
		}
		b.Historical[fmt.Sprintf("%d_%d", row.Year, row.Quarter)] = row
	}

	for name, sc := range map[string]*features.Scaler{
		"year":        b.ErosionScalers.Year,
		"rainfall":    b.ErosionScalers.Rainfall,
		"temperature": b.ErosionScalers.Temperature,
	} {
		if err := sc.Validate(1); err != nil {
			return nil, fmt.Errorf("%s: %s scaler: %w", ErosionFile, name, err)
		}
	}
	erosionNet, err := nn.New(e.Weights)
	if err != nil {
		return nil, fmt.Errorf("%s: weights: %w", ErosionFile, err)
	}
	b.ErosionNetwork = erosionNet
	if err := b.ErosionTargetScaler.Validate(erosionNet.OutputDim()); err != nil {
		return nil, fmt.Errorf("%s: target scaler: %w", ErosionFile, err)
	}

	return b, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
