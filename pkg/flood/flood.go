// Package flood implements the water-area forecaster behind the flood-risk
// endpoint. The model combines a linear trend with momentum detection and
// month-of-year seasonal patterns learned from the historical series, and
// grades each prediction against a flood threshold derived from the
// historical distribution.
package flood

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrUntrained is returned when a prediction is requested before Train.
	ErrUntrained = errors.New("flood model not trained")

	// ErrInvalidDate marks a prediction date outside the usable range.
	ErrInvalidDate = errors.New("invalid prediction date")
)

// Risk levels and their advisory messages, graded against the flood
// threshold: below 80% of it is low, below it moderate, at or above high.
const (
	RiskLow      = "Low Risk"
	RiskModerate = "Moderate Risk"
	RiskHigh     = "High Risk"
)

var riskAlerts = map[string][]string{
	RiskLow:      {"No flood warning", "Continue normal activities"},
	RiskModerate: {"Flood risk moderate", "Be cautious", "Monitor water levels"},
	RiskHigh:     {"Flood warning issued", "Evacuate if necessary", "Seek higher ground"},
}

// Observation is one day of the historical hydrological series.
type Observation struct {
	Date        time.Time
	WaterArea   float64 // km²
	Rainfall    float64 // mm
	Temperature float64 // °C
	Humidity    float64 // %
	WindSpeed   float64 // km/h
}

// Interval bounds a prediction's uncertainty.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ChartPoint is one point of the year-to-date chart series.
type ChartPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Prediction is the full flood-risk payload for one date.
type Prediction struct {
	Date               string       `json:"date"`
	WaterArea          float64      `json:"predicted_water_area_km2"`
	RiskLevel          string       `json:"risk_level"`
	Alerts             []string     `json:"alerts"`
	Threshold          float64      `json:"flood_threshold_km2"`
	Interval           Interval     `json:"prediction_interval"`
	Temperature        float64      `json:"predicted_temperature"`
	Humidity           float64      `json:"predicted_humidity"`
	Rainfall           float64      `json:"predicted_rainfall"`
	WindSpeed          float64      `json:"predicted_wind_speed"`
	ChartData          []ChartPoint `json:"chart_data"`
	ExplainableFactors []string     `json:"explainable_factors"`
}

// seasonalPattern summarizes the observations of one calendar month.
type seasonalPattern struct {
	mean   float64
	min    float64
	max    float64
	count  int
	stddev float64
}

// monthlyMeans holds per-month averages of a covariate series.
type monthlyMeans [13]float64

// Forecaster is the trained flood model. Train must complete before
// Predict; after that the model is read-only and safe for concurrent use.
type Forecaster struct {
	trained bool

	lastDate  time.Time
	lastValue float64

	trend    float64 // km² per day
	momentum float64 // change in trend

	seasonal       map[time.Month]*seasonalPattern
	residualStdDev float64
	threshold      float64

	temperature monthlyMeans
	humidity    monthlyMeans
	rainfall    monthlyMeans
	windSpeed   monthlyMeans
}

// New creates an untrained forecaster. thresholdOverride > 0 fixes the
// flood threshold; 0 derives it from the 95th percentile of the training
// series.
func New(thresholdOverride float64) *Forecaster {
	return &Forecaster{
		seasonal:  make(map[time.Month]*seasonalPattern),
		threshold: thresholdOverride,
	}
}

// Threshold returns the flood threshold in effect.
func (f *Forecaster) Threshold() float64 { return f.threshold }

// Train learns seasonal patterns, the recent trend and the covariate
// monthly averages from the historical series. The series must be
// chronologically ordered with at least two observations.
func (f *Forecaster) Train(history []Observation) error {
	if len(history) < 2 {
		return fmt.Errorf("need at least 2 observations, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if !history[i].Date.After(history[i-1].Date) {
			return fmt.Errorf("history not chronological at index %d", i)
		}
	}

	monthValues := make(map[time.Month][]float64)
	values := make([]float64, len(history))
	covSums := make(map[time.Month][5]float64)
	covCounts := make(map[time.Month]int)

	for i, obs := range history {
		values[i] = obs.WaterArea
		m := obs.Date.Month()
		monthValues[m] = append(monthValues[m], obs.WaterArea)
		s := covSums[m]
		s[0] += obs.Temperature
		s[1] += obs.Humidity
		s[2] += obs.Rainfall
		s[3] += obs.WindSpeed
		covSums[m] = s
		covCounts[m]++
	}

	for m, vals := range monthValues {
		if len(vals) >= 2 {
			f.seasonal[m] = summarize(vals)
		}
	}
	for m, s := range covSums {
		n := float64(covCounts[m])
		f.temperature[m] = s[0] / n
		f.humidity[m] = s[1] / n
		f.rainfall[m] = s[2] / n
		f.windSpeed[m] = s[3] / n
	}

	f.trend = detectTrend(values)
	f.momentum = detectMomentum(values)

	// Forecast uncertainty: average in-month spread across the learned
	// patterns, falling back to the spread of the whole series.
	var total float64
	var count int
	for _, p := range f.seasonal {
		if p.stddev > 0 {
			total += p.stddev
			count++
		}
	}
	if count > 0 {
		f.residualStdDev = total / float64(count)
	} else if p := summarize(values); p != nil {
		f.residualStdDev = p.stddev
	}

	if f.threshold <= 0 {
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		f.threshold = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	}

	last := history[len(history)-1]
	f.lastDate = last.Date
	f.lastValue = last.WaterArea
	f.trained = true
	return nil
}

// Predict forecasts the water area for a date and grades its flood risk.
// The date must not precede the first training observation's year; dates
// inside the training range are answered from the same model.
func (f *Forecaster) Predict(date time.Time) (Prediction, error) {
	if !f.trained {
		return Prediction{}, ErrUntrained
	}
	if date.IsZero() {
		return Prediction{}, fmt.Errorf("%w: zero date", ErrInvalidDate)
	}

	value := f.valueAt(date)
	risk := f.riskFor(value)

	z95 := 1.645
	pred := Prediction{
		Date:        date.Format("2006-01-02"),
		WaterArea:   round2(value),
		RiskLevel:   risk,
		Alerts:      riskAlerts[risk],
		Threshold:   round2(f.threshold),
		Temperature: round2(f.temperature[date.Month()]),
		Humidity:    round2(f.humidity[date.Month()]),
		Rainfall:    round2(f.rainfall[date.Month()]),
		WindSpeed:   round2(f.windSpeed[date.Month()]),
		Interval: Interval{
			Lower: round2(math.Max(0, value-z95*f.residualStdDev)),
			Upper: round2(value + z95*f.residualStdDev),
		},
		ChartData: f.chartSeries(date),
		ExplainableFactors: []string{
			"month-of-year seasonal water-area pattern",
			"recent trend and momentum of the observed series",
		},
	}
	return pred, nil
}

// valueAt extrapolates the water area to a date, blending the trend and
// the seasonal pattern with the adaptive weights of the base model.
func (f *Forecaster) valueAt(date time.Time) float64 {
	days := date.Sub(f.lastDate).Hours() / 24

	base := f.lastValue + f.trend*days + 0.5*f.momentum*days*days/30.0

	pattern, ok := f.seasonal[date.Month()]
	if !ok {
		return math.Max(0, base)
	}

	seasonalValue := pattern.mean
	if f.momentum > 0 && pattern.max > pattern.mean {
		seasonalValue = 0.7*pattern.mean + 0.3*pattern.max
	}

	// Trust the seasonal pattern more the further it diverges from the
	// extrapolated base: a large divergence means a real recurring event.
	ratio := seasonalValue / (base + 1.0)
	var value float64
	switch {
	case ratio > 1.5:
		value = 0.2*base + 0.8*seasonalValue
	case ratio > 1.2:
		value = 0.3*base + 0.7*seasonalValue
	case ratio < 0.8:
		value = 0.4*base + 0.6*seasonalValue
	default:
		value = 0.5*base + 0.5*seasonalValue
	}
	return math.Max(0, value)
}

func (f *Forecaster) riskFor(value float64) string {
	switch {
	case value < 0.8*f.threshold:
		return RiskLow
	case value < f.threshold:
		return RiskModerate
	default:
		return RiskHigh
	}
}

// chartSeries builds the first-of-month predicted values from the start of
// the date's year up to and including the date itself.
func (f *Forecaster) chartSeries(date time.Time) []ChartPoint {
	var points []ChartPoint
	cursor := time.Date(date.Year(), time.January, 1, 0, 0, 0, 0, date.Location())
	for !cursor.After(date) {
		points = append(points, ChartPoint{
			Date:  cursor.Format("2006-01-02"),
			Value: round2(f.valueAt(cursor)),
		})
		cursor = cursor.AddDate(0, 1, 0)
	}
	if len(points) == 0 || points[len(points)-1].Date != date.Format("2006-01-02") {
		points = append(points, ChartPoint{
			Date:  date.Format("2006-01-02"),
			Value: round2(f.valueAt(date)),
		})
	}
	return points
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func summarize(values []float64) *seasonalPattern {
	if len(values) == 0 {
		return nil
	}
	min, max := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	var stddev float64
	if len(values) > 1 {
		stddev = math.Sqrt(variance / float64(len(values)-1))
	}
	return &seasonalPattern{mean: mean, min: min, max: max, count: len(values), stddev: stddev}
}

// detectTrend fits a least-squares slope over the trailing window of the
// series, in value units per observation.
func detectTrend(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	windowSize := 30
	if len(values) < windowSize {
		windowSize = len(values)
	}
	window := values[len(values)-windowSize:]

	xs := make([]float64, len(window))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, window, nil, false)
	if math.IsNaN(slope) {
		return 0
	}
	return slope
}

// detectMomentum approximates the second derivative by comparing the
// trailing trend against the older half's trend.
func detectMomentum(values []float64) float64 {
	if len(values) < 6 {
		return 0
	}
	mid := len(values) / 2
	return detectTrend(values[mid:]) - detectTrend(values[:mid])
}
