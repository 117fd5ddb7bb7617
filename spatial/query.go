package spatial

import (
	"math"

	"github.com/aukilabs/sightline/pointset"
)

// SphereResult holds the aggregate of the cells matched by a sphere query.
// It is a value type: histograms are copies, never views into the grid.
type SphereResult struct {
	TotalCount       uint32                        `json:"total_count"`
	SpeciesHistogram [pointset.SpeciesCount]uint32 `json:"species_histogram"`
	TimeHistogram    [TimeBins]uint32              `json:"time_histogram"`
	DominantSpecies  int                           `json:"dominant_species"`
	TimeSpan         [2]float32                    `json:"time_span"`
	CellsQueried     int                           `json:"cells_queried"`
}

// QuerySphere aggregates every populated cell whose centroid lies within
// radius of center.
//
// A cell is matched on its centroid only, not on its box: cells that
// intersect the sphere with a centroid outside of it are left out, and the
// whole content of a matched cell is counted. The error is bounded by the
// cell size.
//
// Querying an unbuilt grid, or with a negative radius, returns a zero result.
func (g *Grid) QuerySphere(center pointset.Vector3f, radius float64) SphereResult {
	var res SphereResult

	s := g.state
	if s == nil || len(s.cells) == 0 || !(radius >= 0) || math.IsInf(radius, 0) || !center.IsFinite() {
		return res
	}

	var lo, hi [3]int
	candidates := 1
	for axis := 0; axis < 3; axis++ {
		c := float64(center.Axis(axis))
		if c+radius < s.min[axis] || c-radius > s.max[axis] {
			return res
		}

		lo[axis] = s.axisIndex(axis, c-radius)
		hi[axis] = s.axisIndex(axis, c+radius)
		candidates *= hi[axis] - lo[axis] + 1
	}

	r2 := radius * radius
	include := func(c *Cell) {
		if pointset.DistanceSquared(c.Centroid, center) > r2 {
			return
		}
		res.merge(c)
	}

	// A cube larger than the populated set is cheaper to answer by walking
	// the populated cells directly.
	if candidates >= len(s.cells) {
		for i := range s.cells {
			c := &s.cells[i]
			if c.Coord.X < lo[0] || c.Coord.X > hi[0] ||
				c.Coord.Y < lo[1] || c.Coord.Y > hi[1] ||
				c.Coord.Z < lo[2] || c.Coord.Z > hi[2] {
				continue
			}
			include(c)
		}
	} else {
		for z := lo[2]; z <= hi[2]; z++ {
			for y := lo[1]; y <= hi[1]; y++ {
				for x := lo[0]; x <= hi[0]; x++ {
					i, ok := s.index[s.key(CellCoord{x, y, z})]
					if !ok {
						continue
					}
					include(&s.cells[i])
				}
			}
		}
	}

	if res.CellsQueried != 0 {
		res.DominantSpecies = DominantSpecies(res.SpeciesHistogram)
	}
	return res
}

func (r *SphereResult) merge(c *Cell) {
	if r.CellsQueried == 0 {
		r.TimeSpan = [2]float32{c.MeanTime, c.MeanTime}
	} else {
		r.TimeSpan[0] = min(r.TimeSpan[0], c.MeanTime)
		r.TimeSpan[1] = max(r.TimeSpan[1], c.MeanTime)
	}

	r.TotalCount += c.Count
	for i, n := range c.SpeciesHistogram {
		r.SpeciesHistogram[i] += n
	}
	for i, n := range c.TimeHistogram {
		r.TimeHistogram[i] += n
	}
	r.CellsQueried++
}
