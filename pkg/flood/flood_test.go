package flood

import (
	"errors"
	"math"
	"testing"
	"time"
)

// constantHistory builds a daily series with a fixed water area starting
// 2023-01-01.
func constantHistory(days int, value float64) []Observation {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]Observation, days)
	for i := range obs {
		obs[i] = Observation{
			Date:        start.AddDate(0, 0, i),
			WaterArea:   value,
			Rainfall:    float64(5 + i%10),
			Temperature: 27,
			Humidity:    80,
			WindSpeed:   12,
		}
	}
	return obs
}

func TestForecaster_Train_Validation(t *testing.T) {
	tests := []struct {
		name    string
		history []Observation
	}{
		{"empty", nil},
		{"single observation", constantHistory(1, 10)},
		{"non-chronological", []Observation{
			{Date: time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), WaterArea: 10},
			{Date: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), WaterArea: 10},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := New(0).Train(tt.history); err == nil {
				t.Error("Train() error = nil, want error")
			}
		})
	}
}

func TestForecaster_Predict_Untrained(t *testing.T) {
	_, err := New(0).Predict(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrUntrained) {
		t.Errorf("Predict() error = %v, want ErrUntrained", err)
	}
}

func TestForecaster_RiskGrading(t *testing.T) {
	// A flat 10 km² series predicts 10 km² everywhere, so the threshold
	// override alone decides the grade.
	tests := []struct {
		name      string
		threshold float64
		wantRisk  string
	}{
		{"well below threshold", 20, RiskLow},
		{"inside warning band", 10.5, RiskModerate},
		{"at threshold", 10, RiskHigh},
		{"above threshold", 9, RiskHigh},
	}

	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.threshold)
			if err := f.Train(constantHistory(400, 10)); err != nil {
				t.Fatalf("Train() error = %v", err)
			}

			pred, err := f.Predict(date)
			if err != nil {
				t.Fatalf("Predict() error = %v", err)
			}
			if math.Abs(pred.WaterArea-10) > 0.5 {
				t.Fatalf("WaterArea = %v, want ~10 for a flat series", pred.WaterArea)
			}
			if pred.RiskLevel != tt.wantRisk {
				t.Errorf("RiskLevel = %q, want %q", pred.RiskLevel, tt.wantRisk)
			}
			wantAlerts := riskAlerts[tt.wantRisk]
			if len(pred.Alerts) != len(wantAlerts) || pred.Alerts[0] != wantAlerts[0] {
				t.Errorf("Alerts = %v, want %v", pred.Alerts, wantAlerts)
			}
		})
	}
}

func TestForecaster_ThresholdFromHistory(t *testing.T) {
	// 100 observations 1..100: the empirical 95th percentile lands at 95.
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]Observation, 100)
	for i := range obs {
		obs[i] = Observation{Date: start.AddDate(0, 0, i), WaterArea: float64(i + 1)}
	}

	f := New(0)
	if err := f.Train(obs); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if f.Threshold() < 94 || f.Threshold() > 96 {
		t.Errorf("Threshold() = %v, want ~95", f.Threshold())
	}
}

func TestForecaster_ThresholdOverrideWins(t *testing.T) {
	f := New(42)
	if err := f.Train(constantHistory(100, 10)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if f.Threshold() != 42 {
		t.Errorf("Threshold() = %v, want 42 (override)", f.Threshold())
	}
}

func TestForecaster_SeasonalPatternDrivesPrediction(t *testing.T) {
	// Monsoon months carry double the dry-season area; two full years of
	// daily data so every month has a pattern.
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	var obs []Observation
	for d := start; d.Year() < 2024; d = d.AddDate(0, 0, 1) {
		area := 8.0
		if d.Month() >= time.June && d.Month() <= time.September {
			area = 16.0
		}
		obs = append(obs, Observation{Date: d, WaterArea: area})
	}

	f := New(100) // high threshold, risk not under test
	if err := f.Train(obs); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	wet, err := f.Predict(time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Predict(wet) error = %v", err)
	}
	dry, err := f.Predict(time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Predict(dry) error = %v", err)
	}

	if wet.WaterArea <= dry.WaterArea {
		t.Errorf("wet season = %v km², dry season = %v km²; want wet > dry", wet.WaterArea, dry.WaterArea)
	}
}

func TestForecaster_PredictionInterval(t *testing.T) {
	// Inject spread so the residual stddev is non-zero.
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]Observation, 200)
	for i := range obs {
		area := 10.0
		if i%2 == 0 {
			area = 12.0
		}
		obs[i] = Observation{Date: start.AddDate(0, 0, i), WaterArea: area}
	}

	f := New(100)
	if err := f.Train(obs); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	pred, err := f.Predict(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if pred.Interval.Lower >= pred.Interval.Upper {
		t.Errorf("Interval = %+v, want lower < upper", pred.Interval)
	}
	if pred.Interval.Lower > pred.WaterArea || pred.Interval.Upper < pred.WaterArea {
		t.Errorf("Interval %+v does not bracket prediction %v", pred.Interval, pred.WaterArea)
	}
	if pred.Interval.Lower < 0 {
		t.Errorf("Interval.Lower = %v, want >= 0", pred.Interval.Lower)
	}
}

func TestForecaster_ChartSeries(t *testing.T) {
	f := New(100)
	if err := f.Train(constantHistory(400, 10)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	date := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	pred, err := f.Predict(date)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}

	// Jan..Apr firsts plus the requested date itself.
	if len(pred.ChartData) != 5 {
		t.Fatalf("len(ChartData) = %d, want 5", len(pred.ChartData))
	}
	if pred.ChartData[0].Date != "2024-01-01" {
		t.Errorf("ChartData[0].Date = %q, want 2024-01-01", pred.ChartData[0].Date)
	}
	if last := pred.ChartData[len(pred.ChartData)-1]; last.Date != "2024-04-20" {
		t.Errorf("last chart date = %q, want 2024-04-20", last.Date)
	}
}

func TestForecaster_CovariateMonthlyMeans(t *testing.T) {
	f := New(100)
	if err := f.Train(constantHistory(400, 10)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	pred, err := f.Predict(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if pred.Temperature != 27 {
		t.Errorf("Temperature = %v, want 27", pred.Temperature)
	}
	if pred.Humidity != 80 {
		t.Errorf("Humidity = %v, want 80", pred.Humidity)
	}
	if pred.WindSpeed != 12 {
		t.Errorf("WindSpeed = %v, want 12", pred.WindSpeed)
	}
}

func TestDetectTrend(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"flat", []float64{5, 5, 5, 5, 5}, 0},
		{"rising unit slope", []float64{1, 2, 3, 4, 5}, 1},
		{"falling", []float64{10, 8, 6, 4, 2}, -2},
		{"too short", []float64{7}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectTrend(tt.values); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("detectTrend() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectMomentum(t *testing.T) {
	// First half flat, second half rising: positive momentum.
	accelerating := []float64{5, 5, 5, 5, 5, 5, 5, 6, 7, 8, 9, 10}
	if got := detectMomentum(accelerating); got <= 0 {
		t.Errorf("detectMomentum(accelerating) = %v, want > 0", got)
	}
	if got := detectMomentum([]float64{1, 2, 3}); got != 0 {
		t.Errorf("detectMomentum(short) = %v, want 0", got)
	}
}
