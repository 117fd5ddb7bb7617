package pointset

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/segmentio/encoding/json"
)

// document is the normalized point set exchange format. Positions are
// flattened as x0,y0,z0,x1,y1,z1,...
type document struct {
	Positions      []float32 `json:"positions"`
	Times          []float32 `json:"times"`
	SpeciesIDs     []int32   `json:"speciesIds"`
	DensityWeights []float32 `json:"densityWeights"`
}

// ReadJSON decodes a normalized point set document. Records are not
// sanitized: call Sanitize on the result before building.
func ReadJSON(r io.Reader) (PointSet, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return PointSet{}, errors.New("decoding point set failed").Wrap(err)
	}

	if len(doc.Positions)%3 != 0 {
		return PointSet{}, errors.New("positions is not a list of x,y,z triplets").
			WithType(ErrTypeInvalidRecord).
			WithTag("positions", len(doc.Positions))
	}

	positions := make([]Vector3f, len(doc.Positions)/3)
	for i := range positions {
		positions[i] = Vector3f{
			X: doc.Positions[i*3],
			Y: doc.Positions[i*3+1],
			Z: doc.Positions[i*3+2],
		}
	}

	ps := PointSet{
		Positions:      positions,
		Times:          doc.Times,
		SpeciesIDs:     doc.SpeciesIDs,
		DensityWeights: doc.DensityWeights,
	}
	if ps.Times == nil {
		ps.Times = []float32{}
	}
	if ps.SpeciesIDs == nil {
		ps.SpeciesIDs = []int32{}
	}
	if ps.DensityWeights == nil {
		ps.DensityWeights = []float32{}
	}
	return ps, nil
}

// ReadFile reads a normalized point set document from a file.
func ReadFile(path string) (PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return PointSet{}, errors.New("opening point set file failed").
			WithTag("path", path).
			Wrap(err)
	}
	defer f.Close()

	return ReadJSON(f)
}

// WriteJSON encodes a point set in the format read by ReadJSON.
func WriteJSON(w io.Writer, ps PointSet) error {
	doc := document{
		Positions:      make([]float32, 0, len(ps.Positions)*3),
		Times:          ps.Times,
		SpeciesIDs:     ps.SpeciesIDs,
		DensityWeights: ps.DensityWeights,
	}
	for _, p := range ps.Positions {
		doc.Positions = append(doc.Positions, p.X, p.Y, p.Z)
	}
	return json.NewEncoder(w).Encode(doc)
}

// Fingerprint returns a Keccak-256 hex digest of the point set content. Two
// point sets with identical arrays share a fingerprint.
func Fingerprint(ps PointSet) string {
	buf := make([]byte, 0, ps.Len()*24+8)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ps.Len()))

	for i := 0; i < ps.Len(); i++ {
		p := ps.Positions[i]
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.X))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.Y))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.Z))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(ps.Times[i]))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(ps.SpeciesIDs[i]))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(ps.DensityWeights[i]))
	}

	return crypto.Keccak256Hash(buf).Hex()
}
