// Package codec implements the binary export of a level of detail point set,
// as downloaded by renderers. An export is a protobuf wire encoded message
// wrapped in a frame that optionally compresses it.
package codec

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/sightline/lod"
	"github.com/aukilabs/sightline/pointset"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	ErrTypeMalformedExport    = "malformed_export"
	ErrTypeUnknownCompression = "unknown_compression"
	ErrTypeCompression        = "compression_failed"
)

// Export message fields.
const (
	fieldLevel       protowire.Number = 1
	fieldCount       protowire.Number = 2
	fieldPositions   protowire.Number = 3
	fieldTimes       protowire.Number = 4
	fieldSpecies     protowire.Number = 5
	fieldDensities   protowire.Number = 6
	fieldConfidences protowire.Number = 7
)

// Export is a decoded level export.
type Export struct {
	Level       int
	Compression Compression
	Points      pointset.PointSet
	Confidences []float32
}

// EncodeLevel encodes the points of a level with their confidences.
// Confidences may be nil, otherwise there must be one per point.
func EncodeLevel(level lod.Level, confidences []float32, c Compression) ([]byte, error) {
	ps := level.Points
	if err := pointset.Validate(ps); err != nil {
		return nil, err
	}
	if confidences != nil && len(confidences) != ps.Len() {
		return nil, pointset.InvalidArgument("confidences", len(confidences))
	}

	n := ps.Len()
	b := make([]byte, 0, 32+n*(4*6+1)+len(confidences)*4)

	b = protowire.AppendTag(b, fieldLevel, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(level.ID))
	b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n))

	if n != 0 {
		positions := make([]float32, 0, n*3)
		for _, p := range ps.Positions {
			positions = append(positions, p.X, p.Y, p.Z)
		}
		b = appendPackedFloats(b, fieldPositions, positions)
		b = appendPackedFloats(b, fieldTimes, ps.Times)

		species := make([]byte, n)
		for i, id := range ps.SpeciesIDs {
			species[i] = byte(id)
		}
		b = protowire.AppendTag(b, fieldSpecies, protowire.BytesType)
		b = protowire.AppendBytes(b, species)

		b = appendPackedFloats(b, fieldDensities, ps.DensityWeights)
	}
	if len(confidences) != 0 {
		b = appendPackedFloats(b, fieldConfidences, confidences)
	}

	return compressFrame(b, c)
}

func appendPackedFloats(b []byte, num protowire.Number, values []float32) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(len(values)*4))
	for _, v := range values {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

// DecodeLevel decodes an export produced by EncodeLevel. Unknown fields are
// skipped.
func DecodeLevel(data []byte) (Export, error) {
	payload, c, err := decompressFrame(data)
	if err != nil {
		return Export{}, err
	}

	var (
		exp       = Export{Compression: c}
		count     uint64
		positions []float32
	)

	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return Export{}, wireError(protowire.ParseError(n))
		}
		payload = payload[n:]

		switch {
		case num == fieldLevel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return Export{}, wireError(protowire.ParseError(n))
			}
			exp.Level = int(v)
			payload = payload[n:]

		case num == fieldCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return Export{}, wireError(protowire.ParseError(n))
			}
			count = v
			payload = payload[n:]

		case num == fieldSpecies && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return Export{}, wireError(protowire.ParseError(n))
			}
			exp.Points.SpeciesIDs = make([]int32, len(v))
			for i, id := range v {
				exp.Points.SpeciesIDs[i] = int32(id)
			}
			payload = payload[n:]

		case (num == fieldPositions || num == fieldTimes || num == fieldDensities || num == fieldConfidences) &&
			typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return Export{}, wireError(protowire.ParseError(n))
			}
			floats, err := consumePackedFloats(v)
			if err != nil {
				return Export{}, err
			}
			payload = payload[n:]

			switch num {
			case fieldPositions:
				positions = floats
			case fieldTimes:
				exp.Points.Times = floats
			case fieldDensities:
				exp.Points.DensityWeights = floats
			case fieldConfidences:
				exp.Confidences = floats
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return Export{}, wireError(protowire.ParseError(n))
			}
			payload = payload[n:]
		}
	}

	if len(positions)%3 != 0 {
		return Export{}, errors.New("positions are not triplets").
			WithType(ErrTypeMalformedExport).
			WithTag("positions", len(positions))
	}
	exp.Points.Positions = make([]pointset.Vector3f, len(positions)/3)
	for i := range exp.Points.Positions {
		exp.Points.Positions[i] = pointset.Vector3f{
			X: positions[i*3],
			Y: positions[i*3+1],
			Z: positions[i*3+2],
		}
	}

	if count == 0 {
		exp.Points.Times = emptyIfNil(exp.Points.Times)
		exp.Points.DensityWeights = emptyIfNil(exp.Points.DensityWeights)
		if exp.Points.SpeciesIDs == nil {
			exp.Points.SpeciesIDs = []int32{}
		}
	}

	if uint64(exp.Points.Len()) != count {
		return Export{}, errors.New("point count mismatch").
			WithType(ErrTypeMalformedExport).
			WithTag("count", count).
			WithTag("positions", exp.Points.Len())
	}
	if err := pointset.Validate(exp.Points); err != nil {
		return Export{}, errors.New("invalid exported points").
			WithType(ErrTypeMalformedExport).
			Wrap(err)
	}
	if exp.Confidences != nil && uint64(len(exp.Confidences)) != count {
		return Export{}, errors.New("confidence count mismatch").
			WithType(ErrTypeMalformedExport).
			WithTag("count", count).
			WithTag("confidences", len(exp.Confidences))
	}

	return exp, nil
}

func consumePackedFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("packed fixed32 field has a partial value").
			WithType(ErrTypeMalformedExport).
			WithTag("size", len(b))
	}

	values := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, wireError(protowire.ParseError(n))
		}
		values = append(values, math.Float32frombits(v))
		b = b[n:]
	}
	return values, nil
}

func wireError(err error) error {
	return errors.New("malformed export message").
		WithType(ErrTypeMalformedExport).
		Wrap(err)
}

func emptyIfNil(s []float32) []float32 {
	if s == nil {
		return []float32{}
	}
	return s
}
