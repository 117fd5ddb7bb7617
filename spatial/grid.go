// Package spatial implements the uniform 3D aggregation grid.
package spatial

import (
	"math"
	"slices"

	"github.com/aukilabs/sightline/pointset"
	"gonum.org/v1/gonum/stat"
)

// Regular Grid
//
// A uniformly sub-divided 3D grid built once over a point set:
//  - the cell size defines how large a cell is. A cell size of 0.1 makes each
//    cell hold a 10x10x10 centimeter subdivision of the scene.
//  - the bounding box is padded by half a cell on each side so that boundary
//    points never land exactly on a face.
//  - only populated cells are stored, keyed by their linear index, so memory
//    is O(populated cells) and not O(points) or O(volume).

// maxTotalCells bounds the linear cell index so that it fits a uint64 key.
const maxTotalCells = float64(1 << 62)

type Grid struct {
	state *gridState
}

// gridState is a built, immutable grid. A new state is created for every
// build and swapped in once complete.
type gridState struct {
	cellSize float64
	min      [3]float64
	max      [3]float64
	dims     [3]int
	points   int
	cells    []Cell
	index    map[uint64]int
}

type GridStats struct {
	Dims            [3]int            `json:"dims"`
	TotalCells      int               `json:"total_cells"`
	PopulatedCells  int               `json:"populated_cells"`
	CellSize        float64           `json:"cell_size"`
	Min             pointset.Vector3f `json:"min"`
	Max             pointset.Vector3f `json:"max"`
	Points          int               `json:"points"`
	OccupancyMean   float64           `json:"occupancy_mean"`
	OccupancyStdDev float64           `json:"occupancy_stddev"`
}

// Build indexes the point set in a single pass. A failed build leaves the
// previously built state untouched.
func (g *Grid) Build(ps pointset.PointSet, cellSize float64) error {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return pointset.InvalidArgument("cell_size", cellSize)
	}
	if err := pointset.Validate(ps); err != nil {
		return err
	}

	state := &gridState{
		cellSize: cellSize,
		points:   ps.Len(),
	}
	state.fitBounds(ps.Positions)

	totalCells := 1.0
	for axis := 0; axis < 3; axis++ {
		// The epsilon keeps a padded zero extent (exactly one cell) from
		// rounding up to two cells.
		extent := state.max[axis] - state.min[axis]
		ratio := math.Ceil(extent/cellSize - 1e-9)
		if math.IsNaN(ratio) || ratio > maxTotalCells {
			return pointset.InvalidArgument("cell_size", cellSize)
		}
		state.dims[axis] = max(1, int(ratio))
		totalCells *= float64(state.dims[axis])
	}
	if totalCells > maxTotalCells {
		return pointset.InvalidArgument("cell_size", cellSize)
	}

	accumulators := make(map[uint64]*cellAccumulator)
	for i, p := range ps.Positions {
		coord := state.cellCoord(p)
		key := state.key(coord)

		acc, ok := accumulators[key]
		if !ok {
			acc = &cellAccumulator{coord: coord}
			accumulators[key] = acc
		}
		acc.add(p, ps.Times[i], ps.SpeciesIDs[i])
	}

	keys := make([]uint64, 0, len(accumulators))
	for key := range accumulators {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	state.cells = make([]Cell, len(keys))
	state.index = make(map[uint64]int, len(keys))
	for i, key := range keys {
		state.cells[i] = accumulators[key].finalize()
		state.index[key] = i
	}

	g.state = state
	return nil
}

// Built reports whether Build succeeded at least once.
func (g *Grid) Built() bool {
	return g.state != nil
}

func (g *Grid) Stats() GridStats {
	s := g.state
	if s == nil {
		return GridStats{}
	}

	stats := GridStats{
		Dims:           s.dims,
		TotalCells:     s.dims[0] * s.dims[1] * s.dims[2],
		PopulatedCells: len(s.cells),
		CellSize:       s.cellSize,
		Min:            vector(s.min),
		Max:            vector(s.max),
		Points:         s.points,
	}

	if len(s.cells) != 0 {
		occupancy := make([]float64, len(s.cells))
		for i, c := range s.cells {
			occupancy[i] = float64(c.Count)
		}
		stats.OccupancyMean = stat.Mean(occupancy, nil)
		if len(occupancy) > 1 {
			stats.OccupancyStdDev = stat.StdDev(occupancy, nil)
		}
	}

	return stats
}

// Cells returns a copy of the populated cells ordered by linear cell index.
func (g *Grid) Cells() []Cell {
	if g.state == nil {
		return nil
	}
	return slices.Clone(g.state.cells)
}

// Cell returns the populated cell at the given coordinate.
func (g *Grid) Cell(coord CellCoord) (Cell, bool) {
	s := g.state
	if s == nil || !s.contains(coord) {
		return Cell{}, false
	}

	i, ok := s.index[s.key(coord)]
	if !ok {
		return Cell{}, false
	}
	return s.cells[i], true
}

// CellOf returns the coordinate of the cell a position falls in.
func (g *Grid) CellOf(p pointset.Vector3f) (CellCoord, bool) {
	if g.state == nil {
		return CellCoord{}, false
	}
	return g.state.cellCoord(p), true
}

func (s *gridState) fitBounds(positions []pointset.Vector3f) {
	if len(positions) == 0 {
		s.min = [3]float64{0, 0, 0}
		s.max = [3]float64{1, 1, 1}
		return
	}

	for axis := 0; axis < 3; axis++ {
		s.min[axis] = math.Inf(1)
		s.max[axis] = math.Inf(-1)
	}
	for _, p := range positions {
		for axis := 0; axis < 3; axis++ {
			v := float64(p.Axis(axis))
			s.min[axis] = math.Min(s.min[axis], v)
			s.max[axis] = math.Max(s.max[axis], v)
		}
	}

	pad := s.cellSize / 2
	for axis := 0; axis < 3; axis++ {
		s.min[axis] -= pad
		s.max[axis] += pad
	}
}

// cellCoord clamps the cell index into the grid so that floating point
// error at the box boundary never drops a point.
func (s *gridState) cellCoord(p pointset.Vector3f) CellCoord {
	return CellCoord{
		X: s.axisIndex(0, float64(p.X)),
		Y: s.axisIndex(1, float64(p.Y)),
		Z: s.axisIndex(2, float64(p.Z)),
	}
}

func (s *gridState) axisIndex(axis int, v float64) int {
	f := math.Floor((v - s.min[axis]) / s.cellSize)
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > float64(s.dims[axis]-1) {
		return s.dims[axis] - 1
	}
	return int(f)
}

func (s *gridState) key(c CellCoord) uint64 {
	return uint64(c.X) +
		uint64(c.Y)*uint64(s.dims[0]) +
		uint64(c.Z)*uint64(s.dims[0])*uint64(s.dims[1])
}

func (s *gridState) contains(c CellCoord) bool {
	return c.X >= 0 && c.X < s.dims[0] &&
		c.Y >= 0 && c.Y < s.dims[1] &&
		c.Z >= 0 && c.Z < s.dims[2]
}

func vector(v [3]float64) pointset.Vector3f {
	return pointset.Vector3f{
		X: float32(v[0]),
		Y: float32(v[1]),
		Z: float32(v[2]),
	}
}
