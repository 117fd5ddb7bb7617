// Package pointset defines the normalized, parallel-array representation of
// observation records that every index in sightline is built from.
package pointset

import (
	"fmt"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// SpeciesCount is the number of species bins. Species ids are in
	// [0, SpeciesCount-1].
	SpeciesCount = 8

	ErrTypeInvalidRecord   = "invalid_record"
	ErrTypeInvalidArgument = "invalid_argument"
)

// PointSet is a set of observations stored as parallel arrays. Index i
// denotes the same observation in every array.
//
// A PointSet is read-only once handed to a builder: builders keep references
// to its slices instead of copying them.
type PointSet struct {
	Positions      []Vector3f
	Times          []float32
	SpeciesIDs     []int32
	DensityWeights []float32
}

// Len returns the number of observations. It is only meaningful on a point
// set that passed Validate.
func (ps PointSet) Len() int {
	return len(ps.Positions)
}

// Validate checks the invariants every builder relies on: identical array
// lengths, species ids in range and finite positions, times and weights.
func Validate(ps PointSet) error {
	n := len(ps.Positions)

	if len(ps.Times) != n || len(ps.SpeciesIDs) != n || len(ps.DensityWeights) != n {
		return errors.New("point set arrays have different lengths").
			WithType(ErrTypeInvalidRecord).
			WithTag("positions", n).
			WithTag("times", len(ps.Times)).
			WithTag("species_ids", len(ps.SpeciesIDs)).
			WithTag("density_weights", len(ps.DensityWeights))
	}

	for i := 0; i < n; i++ {
		if !ps.Positions[i].IsFinite() {
			return invalidRecord(i, "position", ps.Positions[i])
		}
		if !isFinite(ps.Times[i]) {
			return invalidRecord(i, "time", ps.Times[i])
		}
		if !isFinite(ps.DensityWeights[i]) {
			return invalidRecord(i, "density_weight", ps.DensityWeights[i])
		}
		if !ValidSpecies(ps.SpeciesIDs[i]) {
			return invalidRecord(i, "species_id", ps.SpeciesIDs[i])
		}
	}

	return nil
}

func ValidSpecies(id int32) bool {
	return id >= 0 && id < SpeciesCount
}

// SpeciesPolicy tells Sanitize what to do with out-of-range species ids.
type SpeciesPolicy int

const (
	// RejectInvalidSpecies fails with an invalid record error.
	RejectInvalidSpecies SpeciesPolicy = iota

	// ClampSpecies moves out-of-range ids to the nearest valid id.
	ClampSpecies
)

// Sanitize applies the species policy and validates the result. The input
// is never modified: when ids have to be clamped, the species array is
// copied first. It returns the number of clamped records.
func Sanitize(ps PointSet, policy SpeciesPolicy) (PointSet, int, error) {
	clamped := 0

	if policy == ClampSpecies {
		var species []int32
		for i, id := range ps.SpeciesIDs {
			if ValidSpecies(id) {
				continue
			}
			if species == nil {
				species = make([]int32, len(ps.SpeciesIDs))
				copy(species, ps.SpeciesIDs)
			}
			species[i] = ClampSpeciesID(id)
			clamped++
		}
		if species != nil {
			ps.SpeciesIDs = species
		}
	}

	if err := Validate(ps); err != nil {
		return PointSet{}, 0, err
	}
	return ps, clamped, nil
}

func ClampSpeciesID(id int32) int32 {
	if id < 0 {
		return 0
	}
	if id >= SpeciesCount {
		return SpeciesCount - 1
	}
	return id
}

// BinIndex maps a normalized value in [0,1] to one of bins equal-width
// bins. Values outside [0,1] land in the first or last bin.
func BinIndex(t float64, bins int) int {
	b := int(math.Floor(t * float64(bins)))
	if b < 0 {
		return 0
	}
	if b >= bins {
		return bins - 1
	}
	return b
}

func invalidRecord(index int, field string, value any) error {
	return errors.New("invalid record").
		WithType(ErrTypeInvalidRecord).
		WithTag("index", index).
		WithTag("field", field).
		WithTag("value", fmt.Sprint(value))
}

// InvalidArgument returns an invalid argument error for a build parameter.
func InvalidArgument(name string, value any) error {
	return errors.Newf("invalid %s", name).
		WithType(ErrTypeInvalidArgument).
		WithTag(name, fmt.Sprint(value))
}
