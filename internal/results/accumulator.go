// Package results accumulates what the solver reports: the per-iteration
// progress of both algorithms during a single run, and the aggregate table of
// a parameter sweep.
package results

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kartoza/solver-theatre/internal/errcollection"
	"github.com/kartoza/solver-theatre/internal/protocol"
)

// ErrInvalidSweepKey is reported for sweep keys that do not parse into numbers.
var ErrInvalidSweepKey = errors.New("results: invalid sweep key")

// Point is one iteration of the progress series.
type Point struct {
	Iteration     int     `json:"iteration"`
	Probabilistic float64 `json:"prob"`
	AntColony     float64 `json:"aco"`
}

// SweepRow is one configuration of a sweep table.
type SweepRow struct {
	Key                   string    `json:"key"`
	Params                []float64 `json:"params"`
	AvgValueProbabilistic float64   `json:"probValue"`
	AvgTimeProbabilistic  float64   `json:"probTime"`
	AvgValueAntColony     float64   `json:"antValue"`
	AvgTimeAntColony      float64   `json:"antTime"`
	RelativeDifference    float64   `json:"relativeDiff"`
}

// Accumulator holds the progress series and the sweep table.
type Accumulator struct {
	mu     sync.RWMutex
	points []Point
	sweep  []SweepRow
	runID  string
	log    logrus.FieldLogger
}

// New creates an empty accumulator.
func New(log logrus.FieldLogger) *Accumulator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Accumulator{log: log}
}

// AppendIteration records the best value an algorithm reported for an
// iteration. An existing point only has the reporting algorithm's field
// replaced. A new point copies the other algorithm's field from the nearest
// earlier point, or 0 when there is none. Values are rounded to integers.
func (a *Accumulator) AppendIteration(alg protocol.Algorithm, iteration int, value float64) {
	rounded := roundHalfUp(value)

	a.mu.Lock()
	defer a.mu.Unlock()

	i := sort.Search(len(a.points), func(i int) bool { return a.points[i].Iteration >= iteration })
	if i < len(a.points) && a.points[i].Iteration == iteration {
		setField(&a.points[i], alg, rounded)
		return
	}

	p := Point{Iteration: iteration}
	if i > 0 {
		prev := a.points[i-1]
		p.Probabilistic, p.AntColony = prev.Probabilistic, prev.AntColony
	}
	setField(&p, alg, rounded)

	a.points = append(a.points, Point{})
	copy(a.points[i+1:], a.points[i:])
	a.points[i] = p
}

// Series returns a copy of the progress series ordered by iteration.
func (a *Accumulator) Series() []Point {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Point, len(a.points))
	copy(out, a.points)
	return out
}

// Reset clears the progress series and starts a new run, returning its ID.
// Callers reset before each new solve request so stale frames from a previous
// run do not mix into the new series.
func (a *Accumulator) Reset() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.points = nil
	a.runID = uuid.New().String()
	a.log.WithField("run_id", a.runID).Debug("Progress series reset")
	return a.runID
}

// Restore puts back a series and run ID captured before a Reset, for runs
// that were never submitted.
func (a *Accumulator) Restore(runID string, points []Point) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.points = append([]Point(nil), points...)
	a.runID = runID
}

// RunID returns the ID handed out by the last Reset.
func (a *Accumulator) RunID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runID
}

// ReplaceSweepTable discards the current sweep table and installs entries,
// sorted by the first swept parameter and then the second. Entries whose key
// does not parse are skipped; the returned error lists them, but the valid
// entries are installed regardless.
func (a *Accumulator) ReplaceSweepTable(entries map[string]protocol.SweepMetrics) error {
	var skipped errcollection.ErrorCollection
	rows := make([]SweepRow, 0, len(entries))
	for key, m := range entries {
		params, err := ParseSweepKey(key)
		if err != nil {
			a.log.WithError(err).WithField("key", key).Warn("Skipping sweep entry")
			skipped.Add(err)
			continue
		}
		rows = append(rows, SweepRow{
			Key:                   key,
			Params:                params,
			AvgValueProbabilistic: m.Prob.AvgValue,
			AvgTimeProbabilistic:  m.Prob.AvgTime,
			AvgValueAntColony:     m.Ant.AvgValue,
			AvgTimeAntColony:      m.Ant.AvgTime,
			RelativeDifference:    m.RelativeDifference,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return lessParams(rows[i], rows[j]) })

	a.mu.Lock()
	a.sweep = rows
	a.mu.Unlock()

	return skipped.GetErrIfAny()
}

// SweepTable returns a copy of the sweep table.
func (a *Accumulator) SweepTable() []SweepRow {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]SweepRow, len(a.sweep))
	for i, r := range a.sweep {
		r.Params = append([]float64(nil), r.Params...)
		out[i] = r
	}
	return out
}

// ClearSweep empties the sweep table.
func (a *Accumulator) ClearSweep() {
	a.mu.Lock()
	a.sweep = nil
	a.mu.Unlock()
}

// ParseSweepKey splits a composite key such as "100", "1.5" or "5x10" into
// its numeric components.
func ParseSweepKey(key string) ([]float64, error) {
	parts := strings.Split(strings.TrimSpace(key), "x")
	if len(parts) > 2 {
		return nil, errors.Wrapf(ErrInvalidSweepKey, "%q has %d components", key, len(parts))
	}
	params := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrapf(ErrInvalidSweepKey, "%q", key)
		}
		params = append(params, v)
	}
	return params, nil
}

func lessParams(a, b SweepRow) bool {
	for k := 0; k < len(a.Params) && k < len(b.Params); k++ {
		if a.Params[k] != b.Params[k] {
			return a.Params[k] < b.Params[k]
		}
	}
	if len(a.Params) != len(b.Params) {
		return len(a.Params) < len(b.Params)
	}
	return a.Key < b.Key
}

func setField(p *Point, alg protocol.Algorithm, v float64) {
	if alg == protocol.Probabilistic {
		p.Probabilistic = v
		return
	}
	p.AntColony = v
}

// roundHalfUp rounds .5 towards +Inf, the granularity the chart displays.
func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}
