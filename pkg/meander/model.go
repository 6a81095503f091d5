package meander

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/riverinsight/riverd/pkg/nn"
)

// Model is the forward-pass boundary of the pipeline. A single call returns
// both the prediction and the saliency tensor for the presented window, so
// attribution can never be computed from stale state.
//
// window is WindowSteps x InputWidth; prediction is TargetWidth wide;
// attribution has the window's shape and holds the absolute gradient of the
// summed output with respect to each window element.
type Model interface {
	Forward(ctx context.Context, window [][]float64) (prediction []float64, attribution [][]float64, err error)
	Name() string
}

// NetworkModel runs the pre-fit migration network in-process.
type NetworkModel struct {
	net *nn.Network
}

// NewNetworkModel wraps a loaded network, checking that its geometry
// matches the window the driver will present.
func NewNetworkModel(net *nn.Network) (*NetworkModel, error) {
	if got, want := net.InputDim(), WindowSteps*InputWidth; got != want {
		return nil, fmt.Errorf("network input width %d, want %d", got, want)
	}
	if got := net.OutputDim(); got != TargetWidth {
		return nil, fmt.Errorf("network output width %d, want %d", got, TargetWidth)
	}
	return &NetworkModel{net: net}, nil
}

func (m *NetworkModel) Name() string { return "network" }

// Forward flattens the window row-major, evaluates the network once, and
// folds the input gradient back into window shape as absolute saliency.
func (m *NetworkModel) Forward(_ context.Context, window [][]float64) ([]float64, [][]float64, error) {
	flat := make([]float64, 0, WindowSteps*InputWidth)
	for i, row := range window {
		if len(row) != InputWidth {
			return nil, nil, fmt.Errorf("window row %d has width %d, want %d", i, len(row), InputWidth)
		}
		flat = append(flat, row...)
	}

	pred, grad, err := m.net.ForwardWithGrad(flat)
	if err != nil {
		return nil, nil, err
	}

	attr := make([][]float64, WindowSteps)
	for i := range attr {
		attr[i] = make([]float64, InputWidth)
		for j := range attr[i] {
			attr[i][j] = math.Abs(grad[i*InputWidth+j])
		}
	}
	return pred, attr, nil
}

// RemoteModel delegates forward passes to an external model service over
// HTTP. The service must return the prediction and attribution from the
// same pass, mirroring the in-process contract.
type RemoteModel struct {
	endpoint string
	client   *http.Client
}

type remoteRequest struct {
	Window [][]float64 `json:"window"`
}

type remoteResponse struct {
	Prediction  []float64   `json:"prediction"`
	Attribution [][]float64 `json:"attribution"`
}

// NewRemoteModel creates a model backed by an external inference endpoint.
func NewRemoteModel(endpoint string) *RemoteModel {
	return &RemoteModel{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

func (m *RemoteModel) Name() string { return "remote" }

func (m *RemoteModel) Forward(ctx context.Context, window [][]float64) ([]float64, [][]float64, error) {
	body, err := json.Marshal(remoteRequest{Window: window})
	if err != nil {
		return nil, nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, nil, fmt.Errorf("remote: http %d: %s", resp.StatusCode, string(msg))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, fmt.Errorf("remote: decode response: %w", err)
	}

	if len(out.Prediction) != TargetWidth {
		return nil, nil, fmt.Errorf("remote: prediction has %d values, want %d", len(out.Prediction), TargetWidth)
	}
	if len(out.Attribution) != WindowSteps {
		return nil, nil, fmt.Errorf("remote: attribution has %d rows, want %d", len(out.Attribution), WindowSteps)
	}
	for i, row := range out.Attribution {
		if len(row) != InputWidth {
			return nil, nil, fmt.Errorf("remote: attribution row %d has width %d, want %d", i, len(row), InputWidth)
		}
	}
	return out.Prediction, out.Attribution, nil
}
