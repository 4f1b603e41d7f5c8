// Package stats turns observer results and the DNS query log into summary
// statistics, gnuplot charts and spreadsheet exports.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/digaas/internal/observer/model"
)

// Point is one plotted sample: X is a Unix timestamp in seconds and Y a
// duration in seconds.
type Point struct {
	X, Y float64
}

// Series collects the successful samples and the failure count for one key
// (an observer type, a nameserver, ...).
type Series struct {
	Success []Point
	Errors  int
}

// Dataset maps a key to its series.
type Dataset map[string]*Series

func (d Dataset) series(key string) *Series {
	s, ok := d[key]
	if !ok {
		s = &Series{}
		d[key] = s
	}
	return s
}

// Keys returns the dataset keys in sorted order.
func (d Dataset) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func epoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// observerDataset groups finished observers by key. COMPLETE observers with a
// duration are successes; ERROR and INTERNAL_ERROR count as failures.
// Observers still in flight are ignored.
func observerDataset(obs []*model.Observer, key func(*model.Observer) string) Dataset {
	ds := Dataset{}
	for _, o := range obs {
		switch {
		case o.Status == model.StatusComplete && o.Duration != nil:
			s := ds.series(key(o))
			s.Success = append(s.Success, Point{X: epoch(o.StartTime), Y: o.Duration.Seconds()})
		case o.Status.Terminal():
			ds.series(key(o)).Errors++
		}
	}
	return ds
}

// PropagationByType groups observers by type, or by condition for observers
// submitted without a type.
func PropagationByType(obs []*model.Observer) Dataset {
	return observerDataset(obs, func(o *model.Observer) string { return o.Label() })
}

// PropagationByNameserver groups observers by the nameserver they polled.
func PropagationByNameserver(obs []*model.Observer) Dataset {
	return observerDataset(obs, func(o *model.Observer) string { return o.Nameserver })
}

// Queries groups query log rows by nameserver. Timeouts count as failures.
func Queries(qs []model.DNSQuery) Dataset {
	ds := Dataset{}
	for _, q := range qs {
		s := ds.series(q.Nameserver)
		if q.Status == model.QuerySuccess {
			s.Success = append(s.Success, Point{X: epoch(q.Timestamp), Y: q.Duration.Seconds()})
		} else {
			s.Errors++
		}
	}
	return ds
}

// Summarize computes one summary per key of ds, ordered by key.
func Summarize(statsID uuid.UUID, view model.SummaryView, ds Dataset) []model.Summary {
	out := make([]model.Summary, 0, len(ds))
	for _, key := range ds.Keys() {
		s := Compute(ds[key])
		s.StatsID = statsID
		s.View = view
		s.Key = key
		out = append(out, s)
	}
	return out
}

// Compute summarizes a series. Numeric fields stay nil when there are no
// successes.
func Compute(s *Series) model.Summary {
	sum := model.Summary{SuccessCount: len(s.Success), ErrorCount: s.Errors}
	if len(s.Success) == 0 {
		return sum
	}

	ys := make([]float64, len(s.Success))
	total := 0.0
	for i, p := range s.Success {
		ys[i] = p.Y
		total += p.Y
	}
	sort.Float64s(ys)

	sum.Average = ptr(total / float64(len(ys)))
	sum.Min = ptr(ys[0])
	sum.Max = ptr(ys[len(ys)-1])
	sum.Median = ptr(Percentile(ys, 50))
	sum.Per66 = ptr(Percentile(ys, 66))
	sum.Per75 = ptr(Percentile(ys, 75))
	sum.Per90 = ptr(Percentile(ys, 90))
	sum.Per95 = ptr(Percentile(ys, 95))
	sum.Per99 = ptr(Percentile(ys, 99))
	return sum
}

// Percentile returns the element at index ceil(p/100 * (n-1)) of the sorted
// slice. It panics on an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p / 100 * float64(len(sorted)-1)))
	return sorted[idx]
}

func ptr(v float64) *float64 { return &v }
