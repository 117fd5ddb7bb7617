package spatial

import (
	"github.com/aukilabs/sightline/pointset"
)

// TimeBins is the number of equal-width time histogram bins over [0,1].
const TimeBins = 10

type CellCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Cell is a finalized grid cell. Cells are immutable once the grid is built.
type Cell struct {
	Coord            CellCoord                     `json:"coord"`
	Count            uint32                        `json:"count"`
	SpeciesHistogram [pointset.SpeciesCount]uint32 `json:"species_histogram"`
	TimeHistogram    [TimeBins]uint32              `json:"time_histogram"`
	Centroid         pointset.Vector3f             `json:"centroid"`
	MeanTime         float32                       `json:"mean_time"`
	DominantSpecies  int                           `json:"dominant_species"`
}

// cellAccumulator only lives during a build. Running sums are kept in
// float64 and dropped once the cell is finalized.
type cellAccumulator struct {
	coord   CellCoord
	count   uint32
	species [pointset.SpeciesCount]uint32
	times   [TimeBins]uint32
	sumX    float64
	sumY    float64
	sumZ    float64
	sumTime float64
}

func (a *cellAccumulator) add(p pointset.Vector3f, t float32, species int32) {
	a.count++
	a.species[species]++
	a.times[pointset.BinIndex(float64(t), TimeBins)]++
	a.sumX += float64(p.X)
	a.sumY += float64(p.Y)
	a.sumZ += float64(p.Z)
	a.sumTime += float64(t)
}

func (a *cellAccumulator) finalize() Cell {
	n := float64(a.count)

	return Cell{
		Coord:            a.coord,
		Count:            a.count,
		SpeciesHistogram: a.species,
		TimeHistogram:    a.times,
		Centroid: pointset.Vector3f{
			X: float32(a.sumX / n),
			Y: float32(a.sumY / n),
			Z: float32(a.sumZ / n),
		},
		MeanTime:        float32(a.sumTime / n),
		DominantSpecies: DominantSpecies(a.species),
	}
}

// DominantSpecies returns the species with the highest count. Ties go to the
// lowest species id. An all-zero histogram returns 0.
func DominantSpecies(histogram [pointset.SpeciesCount]uint32) int {
	dominant := 0
	for id := 1; id < len(histogram); id++ {
		if histogram[id] > histogram[dominant] {
			dominant = id
		}
	}
	return dominant
}
