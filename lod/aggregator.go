// Package lod builds the level of detail point sets rendered at increasing
// camera distances, and the confidence displayed with each of their points.
package lod

import (
	"math"

	"github.com/aukilabs/sightline/pointset"
	"github.com/aukilabs/sightline/spatial"
)

const (
	// LevelCount is the number of levels produced by Process. Level 0 is the
	// input point set.
	LevelCount = 3

	// TimeBuckets is the number of time buckets every aggregated level uses,
	// whatever its spatial cell size.
	TimeBuckets = 30

	// DensitySaturation is the number of merged points at which the density
	// of an aggregated point reaches 1.
	DensitySaturation = 100

	// NearDistance and MediumDistance are the camera distance thresholds
	// below which levels 0 and 1 are selected.
	NearDistance   = 2.0
	MediumDistance = 5.0
)

// CellSizes holds the spatial cell size of levels 1 and 2.
type CellSizes [LevelCount - 1]float64

// DefaultCellSizes are the medium and coarse cell sizes.
var DefaultCellSizes = CellSizes{0.1, 0.3}

// Level is a point set at a given level of detail.
type Level struct {
	ID       int
	CellSize float64
	Points   pointset.PointSet
}

type LevelStats struct {
	ID               int     `json:"id"`
	CellSize         float64 `json:"cell_size"`
	Count            int     `json:"count"`
	CompressionRatio float64 `json:"compression_ratio"`
}

type Stats struct {
	Levels []LevelStats `json:"levels"`
}

// Aggregator re-buckets a point set at coarser spatiotemporal resolutions.
type Aggregator struct {
	levels []Level
}

// Process builds every level from the point set. Level 0 shares the point
// set slices; the other levels are new point sets. A failed Process leaves
// the previously built levels untouched.
func (a *Aggregator) Process(ps pointset.PointSet, cellSizes CellSizes) error {
	prev := 0.0
	for _, size := range cellSizes {
		if !(size > 0) || math.IsInf(size, 0) || size < prev {
			return pointset.InvalidArgument("cell_size", size)
		}
		prev = size
	}
	if err := pointset.Validate(ps); err != nil {
		return err
	}

	// Bucket coordinates are int64 cell indices: every position divided by
	// every cell size must stay within that range.
	extent := maxAbsCoord(ps.Positions)
	for _, size := range cellSizes {
		if extent/size > maxBucketCoord {
			return pointset.InvalidArgument("cell_size", size)
		}
	}

	levels := make([]Level, 0, LevelCount)
	levels = append(levels, Level{Points: ps})
	for i, size := range cellSizes {
		levels = append(levels, Level{
			ID:       i + 1,
			CellSize: size,
			Points:   aggregate(ps, size),
		})
	}

	a.levels = levels
	return nil
}

// Built reports whether Process succeeded at least once.
func (a *Aggregator) Built() bool {
	return a.levels != nil
}

// Level returns the level with the given id.
func (a *Aggregator) Level(id int) (Level, bool) {
	if id < 0 || id >= len(a.levels) {
		return Level{}, false
	}
	return a.levels[id], true
}

// Levels returns the built levels ordered by id.
func (a *Aggregator) Levels() []Level {
	levels := make([]Level, len(a.levels))
	copy(levels, a.levels)
	return levels
}

// LevelForDistance returns the level to render at the given camera distance.
// It returns an empty level when nothing was processed.
func (a *Aggregator) LevelForDistance(distance float64) Level {
	level, _ := a.Level(LevelIDForDistance(distance))
	return level
}

// LevelIDForDistance maps a camera distance to a level id. Thresholds are
// applied as is: callers switching levels every frame debounce on their side.
func LevelIDForDistance(distance float64) int {
	switch {
	case distance < NearDistance:
		return 0
	case distance < MediumDistance:
		return 1
	default:
		return 2
	}
}

func (a *Aggregator) Stats() Stats {
	if len(a.levels) == 0 {
		return Stats{}
	}

	base := a.levels[0].Points.Len()
	stats := Stats{
		Levels: make([]LevelStats, len(a.levels)),
	}
	for i, l := range a.levels {
		count := l.Points.Len()
		ratio := 1.0
		if base != 0 && count != 0 {
			ratio = float64(base) / float64(count)
		}

		stats.Levels[i] = LevelStats{
			ID:               l.ID,
			CellSize:         l.CellSize,
			Count:            count,
			CompressionRatio: ratio,
		}
	}
	return stats
}

type bucketKey struct {
	x, y, z int64
	t       int
}

// maxBucketCoord is the largest cell index a bucket coordinate may hold.
const maxBucketCoord = float64(1 << 62)

func maxAbsCoord(positions []pointset.Vector3f) float64 {
	m := 0.0
	for _, p := range positions {
		m = math.Max(m, math.Abs(float64(p.X)))
		m = math.Max(m, math.Abs(float64(p.Y)))
		m = math.Max(m, math.Abs(float64(p.Z)))
	}
	return m
}

type bucket struct {
	count   uint32
	sumPos  [3]float64
	sumTime float64
	species [pointset.SpeciesCount]uint32
}

func aggregate(ps pointset.PointSet, cellSize float64) pointset.PointSet {
	buckets := make(map[bucketKey]int)
	acc := make([]bucket, 0)

	for i, p := range ps.Positions {
		key := bucketKey{
			x: int64(math.Floor(float64(p.X) / cellSize)),
			y: int64(math.Floor(float64(p.Y) / cellSize)),
			z: int64(math.Floor(float64(p.Z) / cellSize)),
			t: pointset.BinIndex(float64(ps.Times[i]), TimeBuckets),
		}

		// Buckets are kept in first seen order so that the output does
		// not depend on map iteration.
		j, ok := buckets[key]
		if !ok {
			j = len(acc)
			buckets[key] = j
			acc = append(acc, bucket{})
		}

		b := &acc[j]
		b.count++
		b.sumPos[0] += float64(p.X)
		b.sumPos[1] += float64(p.Y)
		b.sumPos[2] += float64(p.Z)
		b.sumTime += float64(ps.Times[i])
		b.species[ps.SpeciesIDs[i]]++
	}

	out := pointset.PointSet{
		Positions:      make([]pointset.Vector3f, len(acc)),
		Times:          make([]float32, len(acc)),
		SpeciesIDs:     make([]int32, len(acc)),
		DensityWeights: make([]float32, len(acc)),
	}
	for i := range acc {
		b := &acc[i]
		n := float64(b.count)

		out.Positions[i] = pointset.Vector3f{
			X: float32(b.sumPos[0] / n),
			Y: float32(b.sumPos[1] / n),
			Z: float32(b.sumPos[2] / n),
		}
		out.Times[i] = float32(b.sumTime / n)
		out.SpeciesIDs[i] = int32(spatial.DominantSpecies(b.species))
		out.DensityWeights[i] = float32(Density(int(b.count)))
	}
	return out
}

// Density is the density of a point aggregating count points. It grows
// logarithmically and saturates at 1 from DensitySaturation points.
func Density(count int) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(float64(count))/math.Log1p(DensitySaturation))
}
