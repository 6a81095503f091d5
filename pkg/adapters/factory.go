package adapters

import (
	"encoding/json"
	"fmt"
)

// New creates a history source based on kind and a generic configuration
// map. This is the central extension point for adding new source types.
//
// Supported kinds:
//   - "file": local CSV export
//   - "http": REST API with JSON responses
func New(kind string, config map[string]string) (Source, error) {
	switch kind {
	case "file":
		return newFile(config)
	case "http":
		return newHTTP(config)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be file or http)", kind)
	}
}

func newFile(config map[string]string) (Source, error) {
	path := config["path"]
	if path == "" {
		return nil, fmt.Errorf("file source requires 'path' config")
	}
	return &FileSource{Path: path}, nil
}

func newHTTP(config map[string]string) (Source, error) {
	src := &HTTPSource{
		URL:             config["url"],
		Method:          config["method"],
		Body:            config["body"],
		DatePath:        config["datePath"],
		WaterPath:       config["waterPath"],
		RainfallPath:    config["rainfallPath"],
		TemperaturePath: config["temperaturePath"],
		HumidityPath:    config["humidityPath"],
		WindSpeedPath:   config["windSpeedPath"],
		DateFormat:      config["dateFormat"],
	}

	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &src.Headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &src.TemplateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	if err := src.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}
	return src, nil
}
