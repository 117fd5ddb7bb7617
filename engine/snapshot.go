// Package engine assembles the spatial grid, the temporal index and the level
// of detail aggregator built from one point set into an immutable snapshot,
// and serves queries from the latest snapshot.
package engine

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/sightline/lod"
	"github.com/aukilabs/sightline/pointset"
	"github.com/aukilabs/sightline/spatial"
	"github.com/aukilabs/sightline/temporal"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	ErrTypeBudgetExceeded = "budget_exceeded"
	ErrTypeNoSnapshot     = "no_snapshot"
)

// Options are the build parameters of a snapshot.
type Options struct {
	GridCellSize  float64
	ChunkCount    int
	LODCellSizes  lod.CellSizes
	SpeciesPolicy pointset.SpeciesPolicy
}

func DefaultOptions() Options {
	return Options{
		GridCellSize:  0.1,
		ChunkCount:    64,
		LODCellSizes:  lod.DefaultCellSizes,
		SpeciesPolicy: pointset.RejectInvalidSpecies,
	}
}

// Snapshot is the set of structures built from a point set. It is never
// modified once returned by Build.
type Snapshot struct {
	ID          string
	Fingerprint string
	BuiltAt     time.Time
	Options     Options

	// ClampedSpecies is the number of records whose species id was clamped
	// into range before building.
	ClampedSpecies int

	points   pointset.PointSet
	grid     spatial.Grid
	temporal temporal.Index
	lod      lod.Aggregator
}

type Stats struct {
	ID             string            `json:"id"`
	Fingerprint    string            `json:"fingerprint"`
	BuiltAt        time.Time         `json:"built_at"`
	Points         int               `json:"points"`
	ClampedSpecies int               `json:"clamped_species"`
	Grid           spatial.GridStats `json:"grid"`
	Temporal       temporal.Stats    `json:"temporal"`
	LOD            lod.Stats         `json:"lod"`
}

// Build sanitizes the point set and builds the three structures
// concurrently. Each structure is built by a single goroutine; the context
// is only checked before building starts.
func Build(ctx context.Context, ps pointset.PointSet, opts Options) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	ps, clamped, err := pointset.Sanitize(ps, opts.SpeciesPolicy)
	if err != nil {
		instrumentBuildFailure(err)
		return nil, err
	}
	if clamped != 0 {
		logs.Warn(errors.New("species ids out of range were clamped").
			WithTag("clamped", clamped).
			WithTag("point_count", ps.Len()))
	}

	logs.WithTag("point_count", ps.Len()).
		WithTag("grid_cell_size", opts.GridCellSize).
		WithTag("chunk_count", opts.ChunkCount).
		WithTag("lod_cell_sizes", opts.LODCellSizes).
		Info("building snapshot")

	s := &Snapshot{
		ID:             uuid.NewString(),
		Options:        opts,
		ClampedSpecies: clamped,
		points:         ps,
	}

	var g errgroup.Group
	g.Go(func() error {
		return s.grid.Build(ps, opts.GridCellSize)
	})
	g.Go(func() error {
		return s.temporal.Build(ps, opts.ChunkCount)
	})
	g.Go(func() error {
		return s.lod.Process(ps, opts.LODCellSizes)
	})
	g.Go(func() error {
		s.Fingerprint = pointset.Fingerprint(ps)
		return nil
	})
	if err := g.Wait(); err != nil {
		instrumentBuildFailure(err)
		return nil, err
	}

	s.BuiltAt = time.Now()
	instrumentBuild(s, s.BuiltAt.Sub(start))

	stats := s.Stats()
	logs.WithTag("snapshot_id", s.ID).
		WithTag("fingerprint", s.Fingerprint).
		WithTag("duration", s.BuiltAt.Sub(start)).
		WithTag("populated_cells", stats.Grid.PopulatedCells).
		WithTag("lod_levels", stats.LOD.Levels).
		Info("snapshot built")

	return s, nil
}

func (s *Snapshot) Len() int {
	return s.points.Len()
}

func (s *Snapshot) Stats() Stats {
	return Stats{
		ID:             s.ID,
		Fingerprint:    s.Fingerprint,
		BuiltAt:        s.BuiltAt,
		Points:         s.points.Len(),
		ClampedSpecies: s.ClampedSpecies,
		Grid:           s.grid.Stats(),
		Temporal:       s.temporal.Stats(),
		LOD:            s.lod.Stats(),
	}
}

// QuerySphere aggregates the grid cells whose centroid is within radius of
// center.
func (s *Snapshot) QuerySphere(center pointset.Vector3f, radius float64) spatial.SphereResult {
	defer instrumentQuery(querySphere, time.Now())
	return s.grid.QuerySphere(center, radius)
}

// VisibleRange returns the time-sorted positions of the records within
// window of t.
func (s *Snapshot) VisibleRange(t, window float64) temporal.Range {
	defer instrumentQuery(queryTime, time.Now())
	return s.temporal.VisibleRange(t, window)
}

// VisibleIndices returns the record indices of a time-sorted range, in
// ascending order.
func (s *Snapshot) VisibleIndices(r temporal.Range) []uint32 {
	return s.temporal.VisibleSet(r).ToArray()
}

func (s *Snapshot) OverlappingChunks(tMin, tMax float64) []int {
	defer instrumentQuery(queryChunks, time.Now())
	return s.temporal.OverlappingChunks(tMin, tMax)
}

func (s *Snapshot) ChunkRange(id int) temporal.Range {
	return s.temporal.ChunkRange(id)
}

func (s *Snapshot) YearRange(year, startYear, endYear int) temporal.Range {
	defer instrumentQuery(queryYear, time.Now())
	return s.temporal.YearRange(year, startYear, endYear)
}

func (s *Snapshot) Level(id int) (lod.Level, bool) {
	return s.lod.Level(id)
}

// SelectLevel returns the level to render at the given camera distance with
// at most maxInstances points. When the level matching the distance is too
// large, coarser levels are tried. A maxInstances lower or equal to 0
// disables the limit.
func (s *Snapshot) SelectLevel(distance float64, maxInstances int) (lod.Level, error) {
	defer instrumentQuery(queryLOD, time.Now())

	id := lod.LevelIDForDistance(distance)
	var level lod.Level

	for ; id < lod.LevelCount; id++ {
		l, ok := s.lod.Level(id)
		if !ok {
			break
		}
		level = l

		if maxInstances <= 0 || l.Points.Len() <= maxInstances {
			return l, nil
		}
	}

	instrumentBudgetExceeded()
	return lod.Level{}, errors.New("no level fits the instance budget").
		WithType(ErrTypeBudgetExceeded).
		WithTag("max_instances", maxInstances).
		WithTag("coarsest_level", level.ID).
		WithTag("coarsest_count", level.Points.Len())
}
