package meander

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/riverinsight/riverd/pkg/timeindex"
)

// RunStore persists completed forecast runs. Implementations must be safe
// for concurrent use. Get returns ErrRunNotFound for a missing key; PutOnce
// returns ErrCacheOverwrite when the key already holds a run.
type RunStore interface {
	Get(ctx context.Context, key string) (*ForecastRun, error)
	PutOnce(ctx context.Context, key string, run *ForecastRun) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Observer receives pipeline telemetry. All methods must be cheap and
// non-blocking; a nil Observer disables observation.
type Observer interface {
	ObserveForward(seconds float64)
	ObserveRun(steps int, seconds float64)
	CacheHit()
	CacheMiss()
	RecordError(op string)
}

// Service is the request-facing inference layer: it validates targets,
// enforces the cache contract, and drives the autoregressive loop on
// misses. Runs all start from the same fixed epoch, so a cached run with at
// least as many steps as a request covers it as a prefix and is never
// recomputed; a request beyond the cached horizon recomputes the full run
// from scratch.
type Service struct {
	driver *Driver
	store  RunStore
	conv   *Converter
	epoch  timeindex.TimeIndex
	obs    Observer
	logger *slog.Logger

	// historical rows at or before the epoch, keyed by TimeIndex key,
	// already in meters. baseline is the epoch row, used for delta modes.
	historical map[string]Row
	baseline   []float64

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	current  string // key of the longest run currently cached
	currentN int
}

// ServiceConfig carries the service's collaborators and fixed state.
type ServiceConfig struct {
	Driver     *Driver
	Store      RunStore
	Converter  *Converter
	Epoch      timeindex.TimeIndex
	Historical map[string]Row
	Baseline   []float64 // epoch observation in meters, TargetWidth values
	Observer   Observer
	Logger     *slog.Logger
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("service: nil driver")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("service: nil store")
	}
	if cfg.Converter == nil {
		return nil, fmt.Errorf("service: nil converter")
	}
	if len(cfg.Baseline) != TargetWidth {
		return nil, fmt.Errorf("service: baseline has %d values, want %d", len(cfg.Baseline), TargetWidth)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		driver:     cfg.Driver,
		store:      cfg.Store,
		conv:       cfg.Converter,
		epoch:      cfg.Epoch,
		obs:        cfg.Observer,
		logger:     logger,
		historical: cfg.Historical,
		baseline:   append([]float64(nil), cfg.Baseline...),
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// Epoch returns the fixed forecast origin.
func (s *Service) Epoch() timeindex.TimeIndex { return s.epoch }

// steps validates a forecast target and returns its step count from the
// epoch. Targets at or before the epoch belong to the historical path.
func (s *Service) steps(target timeindex.TimeIndex) (int, error) {
	n := timeindex.StepsBetween(s.epoch, target)
	if n < 1 {
		return 0, fmt.Errorf("%w: target %s is not after epoch %s", ErrInvalidInput, target.Key(), s.epoch.Key())
	}
	return n, nil
}

// keyLock returns the in-flight lock for a key, creating it on first use.
// Locks are never removed; the key space is small (one per requested
// quarter).
func (s *Service) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Service) coveringRun() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.currentN
}

// advanceCoveringRun records a run as the covering run only if it is longer
// than the one currently tracked. Concurrent first-time requests for
// different keys may finish in any order; keeping the longest wins
// regardless of which bookkeeping lands last.
func (s *Service) advanceCoveringRun(key string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.currentN {
		s.current = key
		s.currentN = n
	}
}

// resetCoveringRun clears the tracking only while it still points at
// expect, so a concurrent advance to a longer run is never clobbered.
func (s *Service) resetCoveringRun(expect string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == expect {
		s.current = ""
		s.currentN = 0
	}
}

// Forecast returns the run covering the target, computing and caching it on
// a miss. The returned run has exactly the target's step count; when served
// from a longer cached run it is a read-only prefix view. At most one
// computation per key happens under concurrency.
func (s *Service) Forecast(ctx context.Context, target timeindex.TimeIndex) (*ForecastRun, error) {
	n, err := s.steps(target)
	if err != nil {
		return nil, err
	}
	key := target.Key()

	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	if run, ok, err := s.cached(ctx, n); err != nil {
		return nil, err
	} else if ok {
		if s.obs != nil {
			s.obs.CacheHit()
		}
		return run, nil
	}

	// The covering run may lag behind the store when runs for different
	// keys complete concurrently, so check the requested key directly
	// before treating this as a miss. A stored run for a key always has
	// exactly that key's step count.
	run, err := s.store.Get(ctx, key)
	if err == nil && run.Steps() >= n {
		if s.obs != nil {
			s.obs.CacheHit()
		}
		s.advanceCoveringRun(key, run.Steps())
		return run.Prefix(n), nil
	}
	if err != nil && !errors.Is(err, ErrRunNotFound) {
		return nil, err
	}

	if s.obs != nil {
		s.obs.CacheMiss()
	}

	// The cached run, if any, is shorter than the request. Runs share the
	// epoch, so the longer run supersedes it entirely: drop and recompute
	// from scratch rather than splicing.
	if cur, curN := s.coveringRun(); cur != "" && curN < n {
		if err := s.store.Delete(ctx, cur); err != nil {
			return nil, fmt.Errorf("drop superseded run %s: %w", cur, err)
		}
		s.resetCoveringRun(cur)
		s.logger.Info("superseded cached run", "key", cur, "steps", curN, "requested", n)
	}

	indices := timeindex.Sequence(s.epoch, n)
	start := time.Now()
	run, err = s.driver.Run(ctx, key, indices)
	elapsed := time.Since(start)
	if err != nil {
		if s.obs != nil {
			s.obs.RecordError("forecast")
		}
		s.logger.Error("forecast run failed", "key", key, "steps", n, "error", err)
		return nil, err
	}
	if s.obs != nil {
		s.obs.ObserveRun(n, elapsed.Seconds())
	}

	if err := s.store.PutOnce(ctx, key, run); err != nil {
		// Another writer on a shared store can land the same key first;
		// the stored run is authoritative, the local one is discarded.
		if errors.Is(err, ErrCacheOverwrite) {
			stored, getErr := s.store.Get(ctx, key)
			if getErr == nil && stored.Steps() >= n {
				s.advanceCoveringRun(key, stored.Steps())
				return stored.Prefix(n), nil
			}
		}
		if s.obs != nil {
			s.obs.RecordError("cache_put")
		}
		return nil, fmt.Errorf("cache run %s: %w", key, err)
	}
	s.advanceCoveringRun(key, n)
	s.logger.Info("forecast run computed", "key", key, "steps", n, "duration", elapsed)
	return run, nil
}

// cached returns a prefix of the cached run when it covers n steps.
func (s *Service) cached(ctx context.Context, n int) (*ForecastRun, bool, error) {
	cur, curN := s.coveringRun()
	if cur == "" || curN < n {
		return nil, false, nil
	}
	run, err := s.store.Get(ctx, cur)
	if errors.Is(err, ErrRunNotFound) {
		// Store was cleared behind our back (e.g. shared redis). Treat as
		// a plain miss.
		s.resetCoveringRun(cur)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if run.Steps() < n {
		return nil, false, nil
	}
	return run.Prefix(n), true, nil
}

// Rows returns the post-processed forecast rows up to the target. Targets
// at or before the epoch resolve through the historical record instead of
// the model.
func (s *Service) Rows(ctx context.Context, target timeindex.TimeIndex, mode DeltaMode) ([]Row, error) {
	if timeindex.StepsBetween(s.epoch, target) < 1 {
		row, err := s.HistoricalRow(target)
		if err != nil {
			return nil, err
		}
		return []Row{row}, nil
	}

	run, err := s.Forecast(ctx, target)
	if err != nil {
		return nil, err
	}
	return s.conv.Rows(run, mode, s.baseline)
}

// HistoricalRow looks up a recorded observation at or before the epoch.
func (s *Service) HistoricalRow(target timeindex.TimeIndex) (Row, error) {
	row, ok := s.historical[target.Key()]
	if !ok {
		return Row{}, fmt.Errorf("%w for %s", ErrNoHistory, target.Key())
	}
	return row, nil
}

// Attribution returns the saliency tensor for one step of a completed run.
// stepIndex is 0-based within the run for the given target. It never
// triggers a computation: a missing run is NotComputed.
func (s *Service) Attribution(ctx context.Context, target timeindex.TimeIndex, stepIndex int) ([][]float64, error) {
	n, err := s.steps(target)
	if err != nil {
		return nil, err
	}
	if stepIndex < 0 || stepIndex >= n {
		return nil, fmt.Errorf("%w: step index %d outside [0,%d)", ErrInvalidInput, stepIndex, n)
	}

	run, ok, err := s.cached(ctx, n)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNotComputed, target.Key())
	}
	return run.Attributions[stepIndex], nil
}

// Clear drops all cached runs. Called at shutdown.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = ""
	s.currentN = 0
	s.mu.Unlock()
	return s.store.Clear(ctx)
}
