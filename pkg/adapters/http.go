package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/riverinsight/riverd/pkg/flood"
)

// HTTPSource pulls the hydrological series from any REST API with JSON
// responses, extracting the per-field series with gjson path expressions.
//
// It supports:
//   - Configurable HTTP method (GET, POST, etc.)
//   - Template-based request body and headers with custom variables
//   - gjson path extraction per observation field ("#" for arrays, e.g.
//     "data.#.water_area")
//   - Date parsing as ISO dates, RFC3339 or Unix seconds
//
// Example configuration:
//
//	source := &HTTPSource{
//	    URL: "https://hydro.example.com/series",
//	    Headers: map[string]string{"Authorization": "Bearer {{.Token}}"},
//	    DatePath:  "data.#.date",
//	    WaterPath: "data.#.water_area_km2",
//	    RainfallPath: "data.#.rainfall",
//	    TemplateVars: map[string]string{"Token": token},
//	}
type HTTPSource struct {
	// URL is the endpoint to call (required).
	URL string

	// Method defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers. Values may use template variables.
	Headers map[string]string

	// Body is the request body template for POST/PUT.
	Body string

	// DatePath and WaterPath are required gjson paths; the remaining
	// field paths are optional and default the field to zero.
	DatePath        string
	WaterPath       string
	RainfallPath    string
	TemperaturePath string
	HumidityPath    string
	WindSpeedPath   string

	// DateFormat specifies how to parse dates:
	//   "date"    - "2006-01-02" strings (default)
	//   "rfc3339" - RFC3339 strings
	//   "unix"    - Unix seconds
	DateFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers.
	TemplateVars map[string]string
}

func (h *HTTPSource) Name() string { return "http" }

// ValidateConfig checks the source configuration.
func (h *HTTPSource) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.DatePath == "" || h.WaterPath == "" {
		return errors.New("datePath and waterPath are required")
	}
	switch h.DateFormat {
	case "", "date", "rfc3339", "unix":
	default:
		return fmt.Errorf("invalid dateFormat: %s (must be date, rfc3339, or unix)", h.DateFormat)
	}
	return nil
}

// Collect calls the configured endpoint and extracts the series.
func (h *HTTPSource) Collect(ctx context.Context) ([]flood.Observation, error) {
	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}

	templateData := map[string]any{
		"Now": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return nil, fmt.Errorf("http source: render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("http source: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return nil, fmt.Errorf("http source: render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http source: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http source: status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http source: read response: %w", err)
	}

	dates := gjson.GetBytes(respBody, h.DatePath)
	waters := gjson.GetBytes(respBody, h.WaterPath)
	if !dates.Exists() {
		return nil, fmt.Errorf("http source: date path %q not found in response", h.DatePath)
	}
	if !waters.Exists() {
		return nil, fmt.Errorf("http source: water path %q not found in response", h.WaterPath)
	}

	dateArr := dates.Array()
	waterArr := waters.Array()
	if len(dateArr) != len(waterArr) {
		return nil, fmt.Errorf("http source: date count (%d) != water count (%d)", len(dateArr), len(waterArr))
	}

	rain := optionalSeries(respBody, h.RainfallPath, len(dateArr))
	temp := optionalSeries(respBody, h.TemperaturePath, len(dateArr))
	hum := optionalSeries(respBody, h.HumidityPath, len(dateArr))
	wind := optionalSeries(respBody, h.WindSpeedPath, len(dateArr))

	obs := make([]flood.Observation, 0, len(dateArr))
	for i := range dateArr {
		date, err := h.parseDate(dateArr[i])
		if err != nil {
			return nil, fmt.Errorf("http source: parse date[%d]: %w", i, err)
		}
		o := flood.Observation{Date: date, WaterArea: waterArr[i].Float()}
		if rain != nil {
			o.Rainfall = rain[i]
		}
		if temp != nil {
			o.Temperature = temp[i]
		}
		if hum != nil {
			o.Humidity = hum[i]
		}
		if wind != nil {
			o.WindSpeed = wind[i]
		}
		obs = append(obs, o)
	}

	return normalize(obs), nil
}

// optionalSeries extracts a covariate series, or nil when the path is
// unset or does not match the expected length.
func optionalSeries(body []byte, path string, want int) []float64 {
	if path == "" {
		return nil
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return nil
	}
	arr := result.Array()
	if len(arr) != want {
		return nil
	}
	out := make([]float64, want)
	for i, v := range arr {
		out[i] = v.Float()
	}
	return out
}

func (h *HTTPSource) parseDate(value gjson.Result) (time.Time, error) {
	format := h.DateFormat
	if format == "" {
		format = "date"
	}
	switch format {
	case "date":
		return time.Parse("2006-01-02", value.String())
	case "rfc3339":
		return time.Parse(time.RFC3339, value.String())
	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported date format: %s", format)
	}
}

// renderTemplate renders a text template with the given data.
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
