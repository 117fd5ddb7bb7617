package pointset

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestPointSet() PointSet {
	return PointSet{
		Positions:      []Vector3f{{0, 0, 0}, {1, 2, 3}, {-1, 0.5, 2}},
		Times:          []float32{0, 0.5, 1},
		SpeciesIDs:     []int32{0, 3, 7},
		DensityWeights: []float32{0.1, 0.2, 1},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid point set", func(t *testing.T) {
		require.NoError(t, Validate(newTestPointSet()))
	})

	t.Run("empty point set", func(t *testing.T) {
		require.NoError(t, Validate(PointSet{}))
	})

	t.Run("length mismatch", func(t *testing.T) {
		ps := newTestPointSet()
		ps.Times = ps.Times[:2]

		err := Validate(ps)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidRecord))
	})

	t.Run("species out of range", func(t *testing.T) {
		ps := newTestPointSet()
		ps.SpeciesIDs[1] = 8

		err := Validate(ps)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidRecord))
	})

	t.Run("negative species", func(t *testing.T) {
		ps := newTestPointSet()
		ps.SpeciesIDs[0] = -1
		require.True(t, errors.IsType(Validate(ps), ErrTypeInvalidRecord))
	})

	t.Run("non finite position", func(t *testing.T) {
		ps := newTestPointSet()
		ps.Positions[2].Y = float32(math.NaN())
		require.True(t, errors.IsType(Validate(ps), ErrTypeInvalidRecord))
	})

	t.Run("non finite time", func(t *testing.T) {
		ps := newTestPointSet()
		ps.Times[0] = float32(math.Inf(1))
		require.True(t, errors.IsType(Validate(ps), ErrTypeInvalidRecord))
	})
}

func TestSanitize(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		ps := newTestPointSet()
		ps.SpeciesIDs[2] = 12

		_, _, err := Sanitize(ps, RejectInvalidSpecies)
		require.True(t, errors.IsType(err, ErrTypeInvalidRecord))
	})

	t.Run("clamp without touching the input", func(t *testing.T) {
		ps := newTestPointSet()
		ps.SpeciesIDs[0] = -4
		ps.SpeciesIDs[2] = 12

		res, clamped, err := Sanitize(ps, ClampSpecies)
		require.NoError(t, err)
		require.Equal(t, 2, clamped)
		require.Equal(t, []int32{0, 3, 7}, res.SpeciesIDs)
		require.Equal(t, []int32{-4, 3, 12}, ps.SpeciesIDs)
	})

	t.Run("clamp keeps valid input as is", func(t *testing.T) {
		ps := newTestPointSet()

		res, clamped, err := Sanitize(ps, ClampSpecies)
		require.NoError(t, err)
		require.Zero(t, clamped)
		require.Same(t, &ps.SpeciesIDs[0], &res.SpeciesIDs[0])
	})

	t.Run("clamp still rejects other invalid records", func(t *testing.T) {
		ps := newTestPointSet()
		ps.DensityWeights[1] = float32(math.NaN())

		_, _, err := Sanitize(ps, ClampSpecies)
		require.True(t, errors.IsType(err, ErrTypeInvalidRecord))
	})
}

func TestBinIndex(t *testing.T) {
	require.Equal(t, 0, BinIndex(0, 10))
	require.Equal(t, 0, BinIndex(-0.5, 10))
	require.Equal(t, 4, BinIndex(0.45, 10))
	require.Equal(t, 9, BinIndex(0.99, 10))
	require.Equal(t, 9, BinIndex(1, 10))
	require.Equal(t, 9, BinIndex(3, 10))
}

func TestReadWriteJSON(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		ps := newTestPointSet()

		var buf bytes.Buffer
		require.NoError(t, WriteJSON(&buf, ps))

		res, err := ReadJSON(&buf)
		require.NoError(t, err)
		require.Equal(t, ps, res)
	})

	t.Run("positions not triplets", func(t *testing.T) {
		_, err := ReadJSON(strings.NewReader(`{"positions":[1,2],"times":[0],"speciesIds":[0],"densityWeights":[0]}`))
		require.True(t, errors.IsType(err, ErrTypeInvalidRecord))
	})

	t.Run("empty document", func(t *testing.T) {
		ps, err := ReadJSON(strings.NewReader(`{}`))
		require.NoError(t, err)
		require.Zero(t, ps.Len())
		require.NoError(t, Validate(ps))
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ReadJSON(strings.NewReader(`{"positions":`))
		require.Error(t, err)
	})

	t.Run("read file", func(t *testing.T) {
		ps := newTestPointSet()
		path := filepath.Join(t.TempDir(), "points.json")

		var buf bytes.Buffer
		require.NoError(t, WriteJSON(&buf, ps))
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

		res, err := ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, ps, res)

		_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
		require.Error(t, err)
	})
}

func TestFingerprint(t *testing.T) {
	a := newTestPointSet()
	b := newTestPointSet()
	require.Equal(t, Fingerprint(a), Fingerprint(b))
	require.True(t, strings.HasPrefix(Fingerprint(a), "0x"))

	b.Times[1] = 0.6
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
	require.NotEqual(t, Fingerprint(a), Fingerprint(PointSet{}))
}

func TestVectorClass(t *testing.T) {
	zeroVector := Vector3f{0, 0, 0}
	oneVector := Vector3f{1, 1, 1}

	require.True(t, zeroVector.Equal(Vector3f{0, 0, 0}))
	require.True(t, oneVector.EqualWithEpsilon(Vector3f{0.9, 1.1, 1}, 0.11))
	require.True(t, oneVector.Equal(Add(zeroVector, oneVector)))
	require.True(t, oneVector.Equal(Sub(oneVector, zeroVector)))
	require.True(t, zeroVector.Equal(Mul(oneVector, 0)))
	require.Equal(t, Vector3f{-1, 0, 0}, Min(Vector3f{-1, 2, 0}, Vector3f{3, 0, 5}))
	require.Equal(t, Vector3f{3, 2, 5}, Max(Vector3f{-1, 2, 0}, Vector3f{3, 0, 5}))

	l1Vector := Vector3f{1, 0, 0}
	require.True(t, 1 == l1Vector.Length())
	require.Equal(t, float64(3), DistanceSquared(zeroVector, oneVector))
	require.Equal(t, float32(2), Vector3f{1, 5, 2}.Axis(2))
}
