// Package matrix keeps the family of same-shaped matrices that describe one
// allocation problem, together with their shared row and column labels.
//
// Every structural edit (adding or removing a row or column) is applied to all
// slots and to the matching label slice under one lock, so readers never see a
// set whose slots disagree on shape.
package matrix

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrIndexOutOfRange is returned when a row, column or label index is outside the current shape.
	ErrIndexOutOfRange = errors.New("matrix: index out of range")
	// ErrInvalidRange is returned by Randomize when min > max.
	ErrInvalidRange = errors.New("matrix: invalid range")
	// ErrShapeMismatch is returned when a solution grid does not match the current shape.
	ErrShapeMismatch = errors.New("matrix: shape mismatch")
	// ErrUnknownSlot is returned for slot names outside the fixed slot list.
	ErrUnknownSlot = errors.New("matrix: unknown slot")
)

// Slot names one matrix in the set.
type Slot string

const (
	SlotPrice                 Slot = "price"
	SlotResource              Slot = "resource"
	SlotDiscount              Slot = "discount"
	SlotProbabilisticSolution Slot = "probabilitySolution"
	SlotAntColonySolution     Slot = "antColonySolution"
)

// Slots lists every slot in display order.
var Slots = []Slot{
	SlotPrice,
	SlotResource,
	SlotDiscount,
	SlotProbabilisticSolution,
	SlotAntColonySolution,
}

// IsSolution reports whether the slot is written by the solver rather than the user.
func (s Slot) IsSolution() bool {
	return s == SlotProbabilisticSolution || s == SlotAntColonySolution
}

// ParseSlot converts a slot name into a Slot.
func ParseSlot(name string) (Slot, error) {
	for _, s := range Slots {
		if string(s) == name {
			return s, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownSlot, "%q", name)
}

// Axis selects the row or the column labels.
type Axis string

const (
	AxisRow    Axis = "row"
	AxisColumn Axis = "column"
)

// Label prefixes used when an added row or column has no caller-supplied label.
const (
	RowLabelPrefix    = "Technic"
	ColumnLabelPrefix = "Company"
)

// EditKind is a structural edit.
type EditKind int

const (
	AddRow EditKind = iota
	RemoveRow
	AddColumn
	RemoveColumn
)

func (k EditKind) String() string {
	switch k {
	case AddRow:
		return "add-row"
	case RemoveRow:
		return "remove-row"
	case AddColumn:
		return "add-column"
	case RemoveColumn:
		return "remove-column"
	}
	return fmt.Sprintf("edit(%d)", int(k))
}

// Edit describes one structural mutation. Index is used by the remove kinds,
// Label by the add kinds (empty means generate one).
type Edit struct {
	Kind  EditKind
	Index int
	Label string
}

// Options configures a new Set.
type Options struct {
	Rows int
	Cols int
	// Fill is the value new cells take in each slot, both initially and when a
	// row or column is added. Slots missing from the map fill with 0.
	Fill map[Slot]float64
	// Seed drives Randomize; zero seeds from the clock.
	Seed int64
}

// DefaultOptions returns the 3×3 shape with price and resource filled with 1.
func DefaultOptions() Options {
	return Options{
		Rows: 3,
		Cols: 3,
		Fill: map[Slot]float64{
			SlotPrice:    1,
			SlotResource: 1,
		},
	}
}

// Snapshot is a deep copy of the set, safe to hand to renderers and encoders.
type Snapshot struct {
	Rows         int                  `json:"rows"`
	Cols         int                  `json:"cols"`
	RowLabels    []string             `json:"rowLabels"`
	ColumnLabels []string             `json:"columnLabels"`
	Slots        map[Slot][][]float64 `json:"slots"`
	Values       map[Slot]float64     `json:"values"`
}

// Grid returns the grid of one slot (nil for unknown slots).
func (s Snapshot) Grid(slot Slot) [][]float64 {
	return s.Slots[slot]
}

// Set owns the matrices of one problem.
type Set struct {
	mu           sync.RWMutex
	rows, cols   int
	grids        map[Slot][][]float64
	rowLabels    []string
	columnLabels []string
	values       map[Slot]float64
	fill         map[Slot]float64
	rng          *rand.Rand
}

// New creates a Set with the given shape, filled per slot and labelled with
// generated placeholders.
func New(opts Options) *Set {
	if opts.Rows < 0 {
		opts.Rows = 0
	}
	if opts.Cols < 0 {
		opts.Cols = 0
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Set{
		rows:   opts.Rows,
		cols:   opts.Cols,
		grids:  make(map[Slot][][]float64, len(Slots)),
		values: make(map[Slot]float64),
		fill:   make(map[Slot]float64, len(Slots)),
		rng:    rand.New(rand.NewSource(seed)),
	}
	for _, slot := range Slots {
		s.fill[slot] = opts.Fill[slot]
		s.grids[slot] = newGrid(opts.Rows, opts.Cols, s.fill[slot])
	}
	s.rowLabels = make([]string, opts.Rows)
	for i := range s.rowLabels {
		s.rowLabels[i] = generatedLabel(RowLabelPrefix, i)
	}
	s.columnLabels = make([]string, opts.Cols)
	for j := range s.columnLabels {
		s.columnLabels[j] = generatedLabel(ColumnLabelPrefix, j)
	}
	return s
}

// Shape returns the current number of rows and columns.
func (s *Set) Shape() (rows, cols int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows, s.cols
}

// Apply performs a structural edit on every slot and label slice at once.
// On error the set is left untouched.
func (s *Set) Apply(e Edit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case AddRow:
		grids := make(map[Slot][][]float64, len(s.grids))
		for slot, g := range s.grids {
			row := make([]float64, s.cols)
			for j := range row {
				row[j] = s.fill[slot]
			}
			grids[slot] = append(cloneGrid(g), row)
		}
		label := e.Label
		if label == "" {
			label = generatedLabel(RowLabelPrefix, s.rows)
		}
		s.grids = grids
		s.rowLabels = append(cloneStrings(s.rowLabels), label)
		s.rows++

	case RemoveRow:
		if e.Index < 0 || e.Index >= s.rows {
			return errors.Wrapf(ErrIndexOutOfRange, "row %d of %d", e.Index, s.rows)
		}
		grids := make(map[Slot][][]float64, len(s.grids))
		for slot, g := range s.grids {
			out := make([][]float64, 0, s.rows-1)
			for i, row := range g {
				if i != e.Index {
					out = append(out, cloneRow(row))
				}
			}
			grids[slot] = out
		}
		s.grids = grids
		s.rowLabels = removeAt(s.rowLabels, e.Index)
		s.rows--

	case AddColumn:
		grids := make(map[Slot][][]float64, len(s.grids))
		for slot, g := range s.grids {
			out := make([][]float64, len(g))
			for i, row := range g {
				out[i] = append(cloneRow(row), s.fill[slot])
			}
			grids[slot] = out
		}
		label := e.Label
		if label == "" {
			label = generatedLabel(ColumnLabelPrefix, s.cols)
		}
		s.grids = grids
		s.columnLabels = append(cloneStrings(s.columnLabels), label)
		s.cols++

	case RemoveColumn:
		if e.Index < 0 || e.Index >= s.cols {
			return errors.Wrapf(ErrIndexOutOfRange, "column %d of %d", e.Index, s.cols)
		}
		grids := make(map[Slot][][]float64, len(s.grids))
		for slot, g := range s.grids {
			out := make([][]float64, len(g))
			for i, row := range g {
				r := make([]float64, 0, s.cols-1)
				r = append(r, row[:e.Index]...)
				r = append(r, row[e.Index+1:]...)
				out[i] = r
			}
			grids[slot] = out
		}
		s.grids = grids
		s.columnLabels = removeAt(s.columnLabels, e.Index)
		s.cols--

	default:
		return errors.Errorf("matrix: unsupported edit %s", e.Kind)
	}
	return nil
}

// AddRow appends a row to every slot; an empty label is generated.
func (s *Set) AddRow(label string) error {
	return s.Apply(Edit{Kind: AddRow, Label: label})
}

// RemoveRow deletes row i from every slot and the row labels.
func (s *Set) RemoveRow(i int) error {
	return s.Apply(Edit{Kind: RemoveRow, Index: i})
}

// AddColumn appends a column to every slot; an empty label is generated.
func (s *Set) AddColumn(label string) error {
	return s.Apply(Edit{Kind: AddColumn, Label: label})
}

// RemoveColumn deletes column j from every slot and the column labels.
func (s *Set) RemoveColumn(j int) error {
	return s.Apply(Edit{Kind: RemoveColumn, Index: j})
}

// SetCell replaces a single cell.
func (s *Set) SetCell(slot Slot, row, col int, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grids[slot]
	if !ok {
		return errors.Wrapf(ErrUnknownSlot, "%q", slot)
	}
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return errors.Wrapf(ErrIndexOutOfRange, "cell (%d,%d) of %dx%d", row, col, s.rows, s.cols)
	}
	g[row][col] = value
	return nil
}

// Cell reads a single cell.
func (s *Set) Cell(slot Slot, row, col int) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grids[slot]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownSlot, "%q", slot)
	}
	if row < 0 || row >= s.rows || col < 0 || col >= s.cols {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "cell (%d,%d) of %dx%d", row, col, s.rows, s.cols)
	}
	return g[row][col], nil
}

// SetLabel replaces one row or column label.
func (s *Set) SetLabel(axis Axis, index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var labels []string
	switch axis {
	case AxisRow:
		labels = s.rowLabels
	case AxisColumn:
		labels = s.columnLabels
	default:
		return errors.Errorf("matrix: unknown axis %q", axis)
	}
	if index < 0 || index >= len(labels) {
		return errors.Wrapf(ErrIndexOutOfRange, "%s label %d of %d", axis, index, len(labels))
	}
	labels[index] = text
	return nil
}

// Randomize replaces every cell of slot with an independent draw from
// [min, max]. Integer draws are uniform over the integers in the range;
// otherwise values are rounded to two decimals.
func (s *Set) Randomize(slot Slot, min, max float64, integer bool) error {
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) || min > max {
		return errors.Wrapf(ErrInvalidRange, "[%v, %v]", min, max)
	}
	lo, hi := math.Ceil(min), math.Floor(max)
	if integer && lo > hi {
		return errors.Wrapf(ErrInvalidRange, "no integer in [%v, %v]", min, max)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grids[slot]
	if !ok {
		return errors.Wrapf(ErrUnknownSlot, "%q", slot)
	}
	out := make([][]float64, len(g))
	for i, row := range g {
		out[i] = make([]float64, len(row))
		for j := range row {
			if integer {
				out[i][j] = UniformInt(s.rng, lo, hi)
				continue
			}
			r := s.rng.Float64()
			v := decimal.NewFromFloat(min*(1-r) + max*r).Round(2).InexactFloat64()
			out[i][j] = math.Min(math.Max(v, min), max)
		}
	}
	s.grids[slot] = out
	return nil
}

// UniformInt draws an integer uniformly from [lo, hi]; both bounds must be
// finite integers with lo <= hi. Spans too wide for an int64 fall back to
// interpolation, which cannot overflow.
func UniformInt(rng *rand.Rand, lo, hi float64) float64 {
	if span := hi - lo; span < math.MaxInt64 {
		return lo + float64(rng.Int63n(int64(span)+1))
	}
	r := rng.Float64()
	return math.Min(math.Max(math.Floor(lo*(1-r)+hi*r), lo), hi)
}

// WriteSolution installs a solver-produced grid and its objective value.
// The grid must match the current shape.
func (s *Set) WriteSolution(slot Slot, grid [][]float64, value float64) error {
	if !slot.IsSolution() {
		return errors.Errorf("matrix: %q is not a solution slot", slot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(grid) != s.rows {
		return errors.Wrapf(ErrShapeMismatch, "solution has %d rows, want %d", len(grid), s.rows)
	}
	for i, row := range grid {
		if len(row) != s.cols {
			return errors.Wrapf(ErrShapeMismatch, "solution row %d has %d columns, want %d", i, len(row), s.cols)
		}
	}
	s.grids[slot] = cloneGrid(grid)
	s.values[slot] = value
	return nil
}

// SolutionValue returns the objective value stored next to a solution slot.
func (s *Set) SolutionValue(slot Slot) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[slot]
}

// Stats returns the smallest cell and the sum of all cells of slot.
// An empty slot yields (0, 0).
func (s *Set) Stats(slot Slot) (min, sum float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first := true
	for _, row := range s.grids[slot] {
		for _, v := range row {
			if first || v < min {
				min = v
				first = false
			}
			sum += v
		}
	}
	return min, sum
}

// Snapshot returns a deep copy of the whole set.
func (s *Set) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Rows:         s.rows,
		Cols:         s.cols,
		RowLabels:    cloneStrings(s.rowLabels),
		ColumnLabels: cloneStrings(s.columnLabels),
		Slots:        make(map[Slot][][]float64, len(s.grids)),
		Values:       make(map[Slot]float64, len(s.values)),
	}
	for slot, g := range s.grids {
		snap.Slots[slot] = cloneGrid(g)
	}
	for slot, v := range s.values {
		snap.Values[slot] = v
	}
	return snap
}

func generatedLabel(prefix string, index int) string {
	return fmt.Sprintf("%s %d", prefix, index+1)
}

func newGrid(rows, cols int, fill float64) [][]float64 {
	g := make([][]float64, rows)
	for i := range g {
		g[i] = make([]float64, cols)
		for j := range g[i] {
			g[i][j] = fill
		}
	}
	return g
}

func cloneRow(row []float64) []float64 {
	out := make([]float64, len(row))
	copy(out, row)
	return out
}

func cloneGrid(g [][]float64) [][]float64 {
	out := make([][]float64, len(g))
	for i, row := range g {
		out[i] = cloneRow(row)
	}
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func removeAt(in []string, index int) []string {
	out := make([]string, 0, len(in)-1)
	out = append(out, in[:index]...)
	return append(out, in[index+1:]...)
}
