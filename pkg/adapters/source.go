// Package adapters provides historical-series sources that load the daily
// hydrological record (water area plus meteorological covariates) the flood
// model trains on, and normalize it into flood.Observation rows.
//
// Two sources exist:
//   - FileSource — reads the collected series from a local CSV export
//   - HTTPSource — pulls the series from a REST API with JSON responses
//
// Sources are intentionally lightweight: they fetch and shape raw data,
// leaving all modeling to the flood package.
package adapters

import (
	"context"
	"sort"

	"github.com/riverinsight/riverd/pkg/flood"
)

// Source is the interface every history source implements.
//
// Collect is synchronous and must respect context cancellation. The
// returned series is chronologically ordered with at most one observation
// per date.
type Source interface {
	Collect(ctx context.Context) ([]flood.Observation, error)

	// Name returns a short, unique identifier, e.g. "file" or "http".
	Name() string
}

// normalize sorts the series by date and collapses duplicate dates,
// keeping the last occurrence in input order. Raw exports sometimes carry
// a date twice (a re-export appending a corrected row), and the trainer
// requires strictly increasing dates.
func normalize(obs []flood.Observation) []flood.Observation {
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })
	out := obs[:0]
	for _, o := range obs {
		if len(out) > 0 && out[len(out)-1].Date.Equal(o.Date) {
			out[len(out)-1] = o
			continue
		}
		out = append(out, o)
	}
	return out
}
