package matrix

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSet() *Set {
	opts := DefaultOptions()
	opts.Seed = 42
	return New(opts)
}

// requireConsistentShape checks that every slot and both label slices agree with Shape.
func requireConsistentShape(t *testing.T, s *Set) {
	t.Helper()
	snap := s.Snapshot()
	rows, cols := s.Shape()
	require.Equal(t, rows, snap.Rows)
	require.Equal(t, cols, snap.Cols)
	require.Len(t, snap.RowLabels, rows)
	require.Len(t, snap.ColumnLabels, cols)
	require.Len(t, snap.Slots, len(Slots))
	for _, slot := range Slots {
		g := snap.Grid(slot)
		require.Len(t, g, rows, "slot %s rows", slot)
		for _, row := range g {
			require.Len(t, row, cols, "slot %s cols", slot)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	s := newTestSet()
	requireConsistentShape(t, s)

	snap := s.Snapshot()
	assert.Equal(t, []string{"Technic 1", "Technic 2", "Technic 3"}, snap.RowLabels)
	assert.Equal(t, []string{"Company 1", "Company 2", "Company 3"}, snap.ColumnLabels)
	assert.Equal(t, 1.0, snap.Grid(SlotPrice)[2][2])
	assert.Equal(t, 1.0, snap.Grid(SlotResource)[0][0])
	assert.Equal(t, 0.0, snap.Grid(SlotDiscount)[1][1])
	assert.Equal(t, 0.0, snap.Grid(SlotAntColonySolution)[0][1])
}

func TestAddRowAndColumnUseFillAndGeneratedLabels(t *testing.T) {
	s := newTestSet()

	require.NoError(t, s.AddRow(""))
	require.NoError(t, s.AddColumn("Acme"))
	requireConsistentShape(t, s)

	snap := s.Snapshot()
	assert.Equal(t, "Technic 4", snap.RowLabels[3])
	assert.Equal(t, "Acme", snap.ColumnLabels[3])
	assert.Equal(t, 1.0, snap.Grid(SlotPrice)[3][3])
	assert.Equal(t, 0.0, snap.Grid(SlotProbabilisticSolution)[3][0])
}

func TestShapeInvariantHoldsAfterEveryEdit(t *testing.T) {
	s := newTestSet()
	rng := rand.New(rand.NewSource(7))

	for step := 0; step < 300; step++ {
		rows, cols := s.Shape()
		var err error
		switch rng.Intn(4) {
		case 0:
			err = s.AddRow("")
		case 1:
			err = s.AddColumn("")
		case 2:
			err = s.RemoveRow(rng.Intn(rows + 1))
		case 3:
			err = s.RemoveColumn(rng.Intn(cols + 1))
		}
		if err != nil {
			require.ErrorIs(t, err, ErrIndexOutOfRange)
			r, c := s.Shape()
			require.Equal(t, rows, r)
			require.Equal(t, cols, c)
		}
		requireConsistentShape(t, s)
	}
}

func TestRemoveRowThenAddDoesNotRestoreData(t *testing.T) {
	s := newTestSet()
	require.NoError(t, s.SetCell(SlotPrice, 2, 0, 999))
	require.NoError(t, s.SetLabel(AxisRow, 2, "Excavator"))

	require.NoError(t, s.RemoveRow(2))
	require.NoError(t, s.AddRow(""))

	snap := s.Snapshot()
	assert.Equal(t, []float64{1, 1, 1}, snap.Grid(SlotPrice)[2])
	assert.Equal(t, "Technic 3", snap.RowLabels[2])
}

func TestRemoveColumnShiftsRemainingCells(t *testing.T) {
	s := newTestSet()
	require.NoError(t, s.SetCell(SlotResource, 0, 2, 30))
	require.NoError(t, s.SetLabel(AxisColumn, 2, "Third"))

	require.NoError(t, s.RemoveColumn(1))
	requireConsistentShape(t, s)

	snap := s.Snapshot()
	assert.Equal(t, 30.0, snap.Grid(SlotResource)[0][1])
	assert.Equal(t, []string{"Company 1", "Third"}, snap.ColumnLabels)
}

func TestRemoveOutOfRangeLeavesSetUnchanged(t *testing.T) {
	s := newTestSet()
	before := s.Snapshot()

	require.ErrorIs(t, s.RemoveRow(3), ErrIndexOutOfRange)
	require.ErrorIs(t, s.RemoveRow(-1), ErrIndexOutOfRange)
	require.ErrorIs(t, s.RemoveColumn(5), ErrIndexOutOfRange)

	assert.Equal(t, before, s.Snapshot())
}

func TestSetCellBounds(t *testing.T) {
	s := newTestSet()

	require.NoError(t, s.SetCell(SlotDiscount, 1, 2, 0.25))
	v, err := s.Cell(SlotDiscount, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	require.ErrorIs(t, s.SetCell(SlotDiscount, 3, 0, 1), ErrIndexOutOfRange)
	require.ErrorIs(t, s.SetCell(SlotDiscount, 0, -1, 1), ErrIndexOutOfRange)
	require.ErrorIs(t, s.SetCell(Slot("bogus"), 0, 0, 1), ErrUnknownSlot)
}

func TestSetCellTouchesOneSlotOnly(t *testing.T) {
	s := newTestSet()
	require.NoError(t, s.SetCell(SlotPrice, 0, 0, 5))

	snap := s.Snapshot()
	assert.Equal(t, 5.0, snap.Grid(SlotPrice)[0][0])
	assert.Equal(t, 1.0, snap.Grid(SlotResource)[0][0])
}

func TestSetLabel(t *testing.T) {
	s := newTestSet()
	require.NoError(t, s.SetLabel(AxisColumn, 0, "Northwind"))
	require.ErrorIs(t, s.SetLabel(AxisRow, 3, "x"), ErrIndexOutOfRange)
	require.Error(t, s.SetLabel(Axis("diagonal"), 0, "x"))

	assert.Equal(t, "Northwind", s.Snapshot().ColumnLabels[0])
}

func TestRandomizeInteger(t *testing.T) {
	s := newTestSet()
	require.NoError(t, s.Randomize(SlotPrice, 100, 1000, true))

	for _, row := range s.Snapshot().Grid(SlotPrice) {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 100.0)
			assert.LessOrEqual(t, v, 1000.0)
			assert.Equal(t, math.Trunc(v), v)
		}
	}
}

func TestRandomizeDecimalRoundsToTwoPlaces(t *testing.T) {
	s := newTestSet()
	require.NoError(t, s.Randomize(SlotDiscount, 0, 1, false))

	for _, row := range s.Snapshot().Grid(SlotDiscount) {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
			assert.InDelta(t, math.Round(v*100)/100, v, 1e-9)
		}
	}
}

func TestRandomizeInvalidRange(t *testing.T) {
	s := newTestSet()
	before := s.Snapshot()

	require.ErrorIs(t, s.Randomize(SlotPrice, 10, 1, true), ErrInvalidRange)
	require.ErrorIs(t, s.Randomize(SlotPrice, 1.2, 1.8, true), ErrInvalidRange)
	assert.Equal(t, before, s.Snapshot())
}

func TestRandomizeWideRanges(t *testing.T) {
	s := newTestSet()

	require.NoError(t, s.Randomize(SlotPrice, 0, 1e19, true))
	for _, row := range s.Snapshot().Grid(SlotPrice) {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1e19)
			assert.Equal(t, math.Trunc(v), v)
		}
	}

	require.NoError(t, s.Randomize(SlotDiscount, -1e308, 1e308, false))
	for _, row := range s.Snapshot().Grid(SlotDiscount) {
		for _, v := range row {
			assert.False(t, math.IsInf(v, 0) || math.IsNaN(v))
			assert.GreaterOrEqual(t, v, -1e308)
			assert.LessOrEqual(t, v, 1e308)
		}
	}

	before := s.Snapshot()
	assert.ErrorIs(t, s.Randomize(SlotPrice, 0, math.Inf(1), false), ErrInvalidRange)
	assert.ErrorIs(t, s.Randomize(SlotPrice, math.Inf(-1), 0, true), ErrInvalidRange)
	assert.Equal(t, before, s.Snapshot())
}

func TestUniformIntStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		v := UniformInt(rng, 3, 5)
		assert.Contains(t, []float64{3, 4, 5}, v)

		wide := UniformInt(rng, -1e300, 1e300)
		assert.GreaterOrEqual(t, wide, -1e300)
		assert.LessOrEqual(t, wide, 1e300)
	}
}

func TestWriteSolution(t *testing.T) {
	s := newTestSet()
	grid := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

	require.NoError(t, s.WriteSolution(SlotAntColonySolution, grid, 4200))
	grid[0][0] = 9

	snap := s.Snapshot()
	assert.Equal(t, 1.0, snap.Grid(SlotAntColonySolution)[0][0])
	assert.Equal(t, 4200.0, s.SolutionValue(SlotAntColonySolution))
	assert.Equal(t, 0.0, s.SolutionValue(SlotProbabilisticSolution))
}

func TestWriteSolutionShapeMismatch(t *testing.T) {
	s := newTestSet()
	before := s.Snapshot()

	err := s.WriteSolution(SlotProbabilisticSolution, [][]float64{{1, 2}, {3, 4}}, 10)
	require.ErrorIs(t, err, ErrShapeMismatch)
	require.Error(t, s.WriteSolution(SlotPrice, [][]float64{{1, 2, 3}, {1, 2, 3}, {1, 2, 3}}, 1))

	assert.Equal(t, before, s.Snapshot())
}

func TestStats(t *testing.T) {
	s := newTestSet()
	require.NoError(t, s.SetCell(SlotResource, 1, 1, -3))

	min, sum := s.Stats(SlotResource)
	assert.Equal(t, -3.0, min)
	assert.Equal(t, 5.0, sum)
}

func TestParseSlot(t *testing.T) {
	slot, err := ParseSlot("discount")
	require.NoError(t, err)
	assert.Equal(t, SlotDiscount, slot)

	_, err = ParseSlot("weights")
	assert.ErrorIs(t, err, ErrUnknownSlot)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newTestSet()
	snap := s.Snapshot()
	snap.Slots[SlotPrice][0][0] = 77
	snap.RowLabels[0] = "changed"

	again := s.Snapshot()
	assert.Equal(t, 1.0, again.Grid(SlotPrice)[0][0])
	assert.Equal(t, "Technic 1", again.RowLabels[0])
}
