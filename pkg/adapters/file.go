package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/riverinsight/riverd/pkg/flood"
)

// FileSource reads the hydrological series from a CSV export. The file
// must carry a header row; columns are located by name, so column order
// does not matter. "date" and "water_area_km2" are required, the
// meteorological columns are optional and default to zero.
type FileSource struct {
	// Path is the CSV file location (required).
	Path string
}

func (f *FileSource) Name() string { return "file" }

// column aliases accepted for each observation field, lowercased.
var fileColumns = map[string][]string{
	"water":       {"water_area_km2"},
	"rainfall":    {"rainfall"},
	"temperature": {"average_temperature", "temperature"},
	"humidity":    {"average_humidity", "humidity"},
	"wind":        {"average_wind_speed", "wind_speed"},
}

// Collect parses the CSV and returns the series sorted by date, with
// duplicate dates collapsed to the last row seen.
func (f *FileSource) Collect(ctx context.Context) ([]flood.Observation, error) {
	if f.Path == "" {
		return nil, fmt.Errorf("file source: path is required")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("file source: %w", err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("file source: read header: %w", err)
	}

	cols := make(map[string]int)
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, fmt.Errorf("file source: missing 'date' column")
	}
	waterCol, ok := findColumn(cols, fileColumns["water"])
	if !ok {
		return nil, fmt.Errorf("file source: missing 'water_area_km2' column")
	}

	var obs []flood.Observation
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("file source: line %d: %w", line, err)
		}

		date, err := parseDate(record[dateCol])
		if err != nil {
			return nil, fmt.Errorf("file source: line %d: %w", line, err)
		}
		water, err := strconv.ParseFloat(strings.TrimSpace(record[waterCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("file source: line %d: water area: %w", line, err)
		}

		o := flood.Observation{Date: date, WaterArea: water}
		o.Rainfall = optionalField(cols, record, fileColumns["rainfall"])
		o.Temperature = optionalField(cols, record, fileColumns["temperature"])
		o.Humidity = optionalField(cols, record, fileColumns["humidity"])
		o.WindSpeed = optionalField(cols, record, fileColumns["wind"])
		obs = append(obs, o)
	}

	return normalize(obs), nil
}

func findColumn(cols map[string]int, aliases []string) (int, bool) {
	for _, a := range aliases {
		if i, ok := cols[a]; ok {
			return i, true
		}
	}
	return 0, false
}

func optionalField(cols map[string]int, record []string, aliases []string) float64 {
	i, ok := findColumn(cols, aliases)
	if !ok || i >= len(record) {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseDate accepts the date layouts seen in the collected exports.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "02-01-2006", "2006/01/02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
