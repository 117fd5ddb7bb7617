package codec

import (
	"encoding/binary"
	"strings"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is the algorithm an export payload is compressed with.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

// ParseCompression parses a compression name as used in the configuration.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, errors.New("unknown compression").
			WithType(ErrTypeUnknownCompression).
			WithTag("compression", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Frame layout:
//
//	[compression uint8][uncompressed size uint32][payload size uint32][payload]
//
// Sizes are little endian. A payload that does not compress below 90% of its
// size is stored uncompressed and flagged as such.
const (
	headerSize          = 9
	maxUncompressedSize = 1 << 30
)

func compressFrame(data []byte, c Compression) ([]byte, error) {
	payload := data
	used := CompressionNone

	switch c {
	case CompressionNone:
	case CompressionLZ4:
		compressed, err := compressLZ4(data)
		if err != nil {
			return nil, errors.New("lz4 compression failed").
				WithType(ErrTypeCompression).
				Wrap(err)
		}
		if compressed != nil {
			payload, used = compressed, CompressionLZ4
		}
	case CompressionZSTD:
		enc := getZstdEncoder()
		payload, used = enc.EncodeAll(data, nil), CompressionZSTD
		zstdEncoderPool.Put(enc)
	default:
		return nil, errors.New("unknown compression").
			WithType(ErrTypeUnknownCompression).
			WithTag("compression", uint8(c))
	}

	if used != CompressionNone && float64(len(payload)) > float64(len(data))*0.9 {
		payload, used = data, CompressionNone
	}

	frame := make([]byte, headerSize+len(payload))
	frame[0] = byte(used)
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(frame[5:], uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// incompressible
		return nil, nil
	}
	return compressed[:n], nil
}

// decompressFrame returns the uncompressed payload of a frame and the
// compression it was stored with.
func decompressFrame(frame []byte) ([]byte, Compression, error) {
	if len(frame) < headerSize {
		return nil, 0, errors.New("frame too small for header").
			WithType(ErrTypeMalformedExport).
			WithTag("size", len(frame))
	}

	c := Compression(frame[0])
	uncompressedSize := binary.LittleEndian.Uint32(frame[1:])
	payloadSize := binary.LittleEndian.Uint32(frame[5:])

	if uint64(len(frame)) != headerSize+uint64(payloadSize) {
		return nil, c, errors.New("payload size mismatch").
			WithType(ErrTypeMalformedExport).
			WithTag("payload_size", payloadSize).
			WithTag("frame_size", len(frame))
	}
	if uncompressedSize > maxUncompressedSize {
		return nil, c, errors.New("uncompressed size too large").
			WithType(ErrTypeMalformedExport).
			WithTag("uncompressed_size", uncompressedSize)
	}
	payload := frame[headerSize:]

	switch c {
	case CompressionNone:
		if payloadSize != uncompressedSize {
			return nil, c, errors.New("uncompressed size mismatch").
				WithType(ErrTypeMalformedExport).
				WithTag("payload_size", payloadSize).
				WithTag("uncompressed_size", uncompressedSize)
		}
		return payload, c, nil

	case CompressionLZ4:
		data := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, data)
		if err != nil {
			return nil, c, errors.New("lz4 decompression failed").
				WithType(ErrTypeMalformedExport).
				Wrap(err)
		}
		if uint32(n) != uncompressedSize {
			return nil, c, errors.New("decompressed size mismatch").
				WithType(ErrTypeMalformedExport).
				WithTag("expected", uncompressedSize).
				WithTag("got", n)
		}
		return data, c, nil

	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		data, err := dec.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, c, errors.New("zstd decompression failed").
				WithType(ErrTypeMalformedExport).
				Wrap(err)
		}
		if uint32(len(data)) != uncompressedSize {
			return nil, c, errors.New("decompressed size mismatch").
				WithType(ErrTypeMalformedExport).
				WithTag("expected", uncompressedSize).
				WithTag("got", len(data))
		}
		return data, c, nil

	default:
		return nil, c, errors.New("unknown compression").
			WithType(ErrTypeUnknownCompression).
			WithTag("compression", uint8(c))
	}
}
