// Package temporal implements a time-sorted index over a point set, answering
// time window and chunk lookups without scanning the points.
package temporal

import (
	"cmp"
	"math"
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/aukilabs/sightline/pointset"
)

// Range is a half-open [Start, End) range in sorted-permutation space.
// Positions must be dereferenced through the permutation (OriginalIndex,
// VisibleSet) to get record indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Len() int {
	return r.End - r.Start
}

type Index struct {
	state *indexState
}

type indexState struct {
	order       []uint32
	times       []float32
	chunkStarts []int
}

type Stats struct {
	Points       int     `json:"points"`
	ChunkCount   int     `json:"chunk_count"`
	EmptyChunks  int     `json:"empty_chunks"`
	LargestChunk int     `json:"largest_chunk"`
	MinTime      float32 `json:"min_time"`
	MaxTime      float32 `json:"max_time"`
}

// Build sorts the point indices by time and records the start of chunkCount
// equal-width chunks over [0,1]. The sort is stable: records with the same
// time keep their original order.
func (ix *Index) Build(ps pointset.PointSet, chunkCount int) error {
	if chunkCount <= 0 {
		return pointset.InvalidArgument("chunk_count", chunkCount)
	}
	if err := pointset.Validate(ps); err != nil {
		return err
	}

	n := ps.Len()
	order := make([]uint32, n)
	for i := range order {
		order[i] = uint32(i)
	}
	slices.SortStableFunc(order, func(a, b uint32) int {
		return cmp.Compare(ps.Times[a], ps.Times[b])
	})

	times := make([]float32, n)
	for i, idx := range order {
		times[i] = ps.Times[idx]
	}

	// Chunks without points get an empty range anchored at the start of
	// the next populated chunk, or at n for trailing ones.
	chunkStarts := make([]int, chunkCount+1)
	current := 0
	for i, t := range times {
		chunk := pointset.BinIndex(float64(t), chunkCount)
		for current < chunk {
			current++
			chunkStarts[current] = i
		}
	}
	for current < chunkCount {
		current++
		chunkStarts[current] = n
	}

	ix.state = &indexState{
		order:       order,
		times:       times,
		chunkStarts: chunkStarts,
	}
	return nil
}

// Built reports whether Build succeeded at least once.
func (ix *Index) Built() bool {
	return ix.state != nil
}

func (ix *Index) Len() int {
	if ix.state == nil {
		return 0
	}
	return len(ix.state.order)
}

func (ix *Index) ChunkCount() int {
	if ix.state == nil {
		return 0
	}
	return len(ix.state.chunkStarts) - 1
}

// VisibleRange returns the sorted positions of the records whose time is in
// [t-window, t+window].
func (ix *Index) VisibleRange(t, window float64) Range {
	if ix.state == nil || math.IsNaN(t) {
		return Range{}
	}
	if !(window >= 0) {
		start := ix.state.lowerBound(t)
		return Range{Start: start, End: start}
	}
	return Range{
		Start: ix.state.lowerBound(t - window),
		End:   ix.state.upperBound(t + window),
	}
}

// YearRange returns the records of a calendar year, given that times were
// normalized over [startYear, endYear]. Year y covers [y, y+1): its window is
// centered on y+0.5 with a half width of half a year, the upper bound being
// excluded so that consecutive years never share a record.
func (ix *Index) YearRange(year, startYear, endYear int) Range {
	span := float64(endYear - startYear)
	if ix.state == nil || span <= 0 {
		return Range{}
	}

	t := (float64(year-startYear) + 0.5) / span
	window := 0.5 / span
	return Range{
		Start: ix.state.lowerBound(t - window),
		End:   ix.state.lowerBound(t + window),
	}
}

// OverlappingChunks returns the ids of the chunks overlapping [tMin, tMax].
func (ix *Index) OverlappingChunks(tMin, tMax float64) []int {
	if ix.state == nil || !(tMin <= tMax) || tMax < 0 || tMin > 1 {
		return []int{}
	}

	chunkCount := len(ix.state.chunkStarts) - 1
	first := pointset.BinIndex(tMin, chunkCount)
	last := pointset.BinIndex(tMax, chunkCount)

	chunks := make([]int, 0, last-first+1)
	for id := first; id <= last; id++ {
		chunks = append(chunks, id)
	}
	return chunks
}

// ChunkRange returns the sorted positions covered by a chunk.
func (ix *Index) ChunkRange(id int) Range {
	if ix.state == nil || id < 0 || id >= len(ix.state.chunkStarts)-1 {
		return Range{}
	}
	return Range{
		Start: ix.state.chunkStarts[id],
		End:   ix.state.chunkStarts[id+1],
	}
}

// OriginalIndex returns the record index at a sorted position.
func (ix *Index) OriginalIndex(pos int) (uint32, bool) {
	if ix.state == nil || pos < 0 || pos >= len(ix.state.order) {
		return 0, false
	}
	return ix.state.order[pos], true
}

// Order returns a copy of the time-sorted permutation.
func (ix *Index) Order() []uint32 {
	if ix.state == nil {
		return nil
	}
	return slices.Clone(ix.state.order)
}

// SortedTimes returns a copy of the times in sorted order.
func (ix *Index) SortedTimes() []float32 {
	if ix.state == nil {
		return nil
	}
	return slices.Clone(ix.state.times)
}

// VisibleSet returns the record indices of a range as a bitmap owned by the
// caller.
func (ix *Index) VisibleSet(r Range) *roaring.Bitmap {
	bm := roaring.New()
	if ix.state == nil {
		return bm
	}

	start := max(r.Start, 0)
	end := min(r.End, len(ix.state.order))
	if start < end {
		bm.AddMany(ix.state.order[start:end])
	}
	return bm
}

func (ix *Index) Stats() Stats {
	s := ix.state
	if s == nil {
		return Stats{}
	}

	stats := Stats{
		Points:     len(s.order),
		ChunkCount: len(s.chunkStarts) - 1,
	}
	for id := 0; id < stats.ChunkCount; id++ {
		size := s.chunkStarts[id+1] - s.chunkStarts[id]
		if size == 0 {
			stats.EmptyChunks++
		}
		stats.LargestChunk = max(stats.LargestChunk, size)
	}
	if len(s.times) != 0 {
		stats.MinTime = s.times[0]
		stats.MaxTime = s.times[len(s.times)-1]
	}
	return stats
}

// lowerBound returns the first sorted position with a time >= t.
func (s *indexState) lowerBound(t float64) int {
	return sort.Search(len(s.times), func(i int) bool {
		return float64(s.times[i]) >= t
	})
}

// upperBound returns the first sorted position with a time > t.
func (s *indexState) upperBound(t float64) int {
	return sort.Search(len(s.times), func(i int) bool {
		return float64(s.times[i]) > t
	})
}
