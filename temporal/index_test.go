package temporal

import (
	"math/rand"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/sightline/pointset"
	"github.com/stretchr/testify/require"
)

func pointSetWithTimes(times ...float32) pointset.PointSet {
	n := len(times)
	return pointset.PointSet{
		Positions:      make([]pointset.Vector3f, n),
		Times:          times,
		SpeciesIDs:     make([]int32, n),
		DensityWeights: make([]float32, n),
	}
}

func randomTimes(rnd *rand.Rand, n int) []float32 {
	times := make([]float32, n)
	for i := range times {
		// Coarse values so that ties are frequent.
		times[i] = float32(rnd.Intn(50)) / 49
	}
	return times
}

func TestIndexChunkBoundaries(t *testing.T) {
	times := make([]float32, 9)
	for i := range times {
		times[i] = float32(i) / 9
	}

	var ix Index
	require.NoError(t, ix.Build(pointSetWithTimes(times...), 3))

	require.Equal(t, 3, ix.ChunkCount())
	require.Equal(t, Range{Start: 0, End: 3}, ix.ChunkRange(0))
	require.Equal(t, Range{Start: 3, End: 6}, ix.ChunkRange(1))
	require.Equal(t, Range{Start: 6, End: 9}, ix.ChunkRange(2))
	require.Equal(t, Range{}, ix.ChunkRange(3))
	require.Equal(t, Range{}, ix.ChunkRange(-1))
}

func TestIndexChunksPartitionPermutation(t *testing.T) {
	rnd := rand.New(rand.NewSource(4))

	for _, chunkCount := range []int{1, 3, 10, 64, 500} {
		var ix Index
		require.NoError(t, ix.Build(pointSetWithTimes(randomTimes(rnd, 300)...), chunkCount))

		covered := 0
		prevEnd := 0
		for id := 0; id < chunkCount; id++ {
			r := ix.ChunkRange(id)
			require.Equal(t, prevEnd, r.Start)
			require.LessOrEqual(t, r.Start, r.End)
			covered += r.Len()
			prevEnd = r.End
		}
		require.Equal(t, 300, covered)
		require.Equal(t, 300, prevEnd)
	}
}

func TestIndexEmptyChunks(t *testing.T) {
	var ix Index
	require.NoError(t, ix.Build(pointSetWithTimes(0.05, 0.05, 0.95), 10))

	require.Equal(t, Range{Start: 0, End: 2}, ix.ChunkRange(0))
	for id := 1; id < 9; id++ {
		require.Equal(t, Range{Start: 2, End: 2}, ix.ChunkRange(id))
	}
	require.Equal(t, Range{Start: 2, End: 3}, ix.ChunkRange(9))

	stats := ix.Stats()
	require.Equal(t, 8, stats.EmptyChunks)
	require.Equal(t, 2, stats.LargestChunk)
	require.InDelta(t, 0.05, stats.MinTime, 1e-6)
	require.InDelta(t, 0.95, stats.MaxTime, 1e-6)
}

func TestIndexTrailingEmptyChunks(t *testing.T) {
	var ix Index
	require.NoError(t, ix.Build(pointSetWithTimes(0.1, 0.2), 4))

	require.Equal(t, Range{Start: 0, End: 2}, ix.ChunkRange(0))
	require.Equal(t, Range{Start: 2, End: 2}, ix.ChunkRange(3))
}

func TestIndexSortedPermutation(t *testing.T) {
	ps := pointSetWithTimes(randomTimes(rand.New(rand.NewSource(2)), 1000)...)

	var ix Index
	require.NoError(t, ix.Build(ps, 16))

	order := ix.Order()
	require.Len(t, order, 1000)

	seen := make(map[uint32]bool, len(order))
	for i, idx := range order {
		require.False(t, seen[idx])
		seen[idx] = true

		if i == 0 {
			continue
		}
		prev := order[i-1]
		require.LessOrEqual(t, ps.Times[prev], ps.Times[idx])

		// ties keep their record order
		if ps.Times[prev] == ps.Times[idx] {
			require.Less(t, prev, idx)
		}
	}

	sorted := ix.SortedTimes()
	for i, idx := range order {
		require.Equal(t, ps.Times[idx], sorted[i])
	}
}

func TestIndexVisibleRange(t *testing.T) {
	var ix Index
	require.NoError(t, ix.Build(pointSetWithTimes(0.9, 0.1, 0.5, 0.3, 0.7, 0.5), 5))

	r := ix.VisibleRange(0.5, 0.1)
	require.Equal(t, Range{Start: 2, End: 4}, r)
	require.Equal(t, []uint32{2, 5}, ix.VisibleSet(r).ToArray())

	r = ix.VisibleRange(0.5, 1)
	require.Equal(t, Range{Start: 0, End: 6}, r)

	r = ix.VisibleRange(2, 0.1)
	require.Equal(t, 0, r.Len())
	require.Equal(t, 6, r.Start)

	r = ix.VisibleRange(0.5, -1)
	require.Equal(t, 0, r.Len())

	idx, ok := ix.OriginalIndex(0)
	require.True(t, ok)
	require.Equal(t, uint32(1), idx)

	_, ok = ix.OriginalIndex(6)
	require.False(t, ok)
}

func TestIndexVisibleRangeStartIsMonotonic(t *testing.T) {
	var ix Index
	require.NoError(t, ix.Build(pointSetWithTimes(randomTimes(rand.New(rand.NewSource(3)), 500)...), 8))

	for _, window := range []float64{0, 0.01, 0.1, 0.5} {
		prev := -1
		for step := 0; step <= 200; step++ {
			tm := -0.5 + float64(step)/100
			r := ix.VisibleRange(tm, window)
			require.GreaterOrEqual(t, r.Start, prev)
			require.LessOrEqual(t, r.Start, r.End)
			prev = r.Start
		}
	}
}

func TestIndexOverlappingChunks(t *testing.T) {
	var ix Index
	require.NoError(t, ix.Build(pointSetWithTimes(0, 0.5, 1), 10))

	require.Equal(t, []int{0}, ix.OverlappingChunks(0, 0.05))
	require.Equal(t, []int{2, 3, 4}, ix.OverlappingChunks(0.25, 0.45))
	require.Equal(t, []int{9}, ix.OverlappingChunks(0.95, 1))
	require.Equal(t, []int{8, 9}, ix.OverlappingChunks(0.85, 3))
	require.Empty(t, ix.OverlappingChunks(0.5, 0.4))
	require.Empty(t, ix.OverlappingChunks(-1, -0.5))
	require.Empty(t, ix.OverlappingChunks(1.5, 2))
	require.Len(t, ix.OverlappingChunks(-5, 5), 10)
}

func TestIndexYearRange(t *testing.T) {
	// Two records per year of 2000..2009, normalized over a ten year span.
	times := []float32{}
	for year := 0; year < 10; year++ {
		times = append(times, float32(year)/10+0.02, float32(year)/10+0.07)
	}

	var ix Index
	require.NoError(t, ix.Build(pointSetWithTimes(times...), 10))

	r := ix.YearRange(2003, 2000, 2010)
	require.Equal(t, 2, r.Len())
	for pos := r.Start; pos < r.End; pos++ {
		idx, _ := ix.OriginalIndex(pos)
		require.InDelta(t, 0.345, times[idx], 0.03)
	}

	require.Equal(t, 0, ix.YearRange(2010, 2000, 2010).Len())
	require.Equal(t, 0, ix.YearRange(1990, 2000, 2010).Len())
	require.Equal(t, Range{}, ix.YearRange(2003, 2010, 2000))

	total := 0
	for year := 2000; year < 2010; year++ {
		n := ix.YearRange(year, 2000, 2010).Len()
		require.Equal(t, 2, n, "year %d", year)
		total += n
	}
	require.Equal(t, len(times), total)
}

func TestIndexBeforeBuild(t *testing.T) {
	var ix Index

	require.False(t, ix.Built())
	require.Equal(t, Range{}, ix.VisibleRange(0.5, 0.5))
	require.Equal(t, Range{}, ix.YearRange(2001, 2000, 2010))
	require.Empty(t, ix.OverlappingChunks(0, 1))
	require.Equal(t, Range{}, ix.ChunkRange(0))
	require.True(t, ix.VisibleSet(Range{Start: 0, End: 10}).IsEmpty())
	require.Equal(t, Stats{}, ix.Stats())
	require.Zero(t, ix.Len())
}

func TestIndexEmptyPointSet(t *testing.T) {
	var ix Index
	require.NoError(t, ix.Build(pointset.PointSet{}, 4))

	require.True(t, ix.Built())
	require.Equal(t, Range{}, ix.VisibleRange(0.5, 0.5))
	for id := 0; id < 4; id++ {
		require.Equal(t, Range{}, ix.ChunkRange(id))
	}
	require.Equal(t, []int{1, 2}, ix.OverlappingChunks(0.3, 0.6))
}

func TestIndexBuildInvalid(t *testing.T) {
	var ix Index

	err := ix.Build(pointSetWithTimes(0.1), 0)
	require.True(t, errors.IsType(err, pointset.ErrTypeInvalidArgument))

	ps := pointSetWithTimes(0.1, 0.2)
	ps.SpeciesIDs[1] = 42
	err = ix.Build(ps, 4)
	require.True(t, errors.IsType(err, pointset.ErrTypeInvalidRecord))
	require.False(t, ix.Built())
}

func TestIndexRebuildReplacesState(t *testing.T) {
	var ix Index
	require.NoError(t, ix.Build(pointSetWithTimes(0.1, 0.2, 0.3), 4))
	require.NoError(t, ix.Build(pointSetWithTimes(0.9), 2))

	require.Equal(t, 1, ix.Len())
	require.Equal(t, 2, ix.ChunkCount())
	require.Equal(t, Range{Start: 0, End: 1}, ix.ChunkRange(1))
}
