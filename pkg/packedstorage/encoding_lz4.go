package packedstorage

import (
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// lz4Codec adapts github.com/pierrec/lz4/v4, the pack sibling wal-g/wal-g's
// own LZ4 dependency (internal/compression/lz4). lz4/v4 exposes distinct
// fast and high-compression (HC) level tables (spec.md §9(c)): level 0
// and low levels use the plain fast Compressor, levels 6 and up switch to
// CompressorHC at the matching HC level (clamped to the codec's 1..=9 HC
// range).
type lz4Codec struct{}

func lz4HCLevel(level uint8) lz4.CompressionLevel {
	hcLevels := [...]lz4.CompressionLevel{
		lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
		lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
	}
	hc := int(level)
	if hc > 9 {
		hc = 9
	}
	if hc < 1 {
		hc = 1
	}
	return hcLevels[hc-1]
}

func (lz4Codec) encode(data []byte, level uint8) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	var n int
	var err error
	if level >= 6 {
		c := lz4.CompressorHC{Level: lz4HCLevel(level)}
		n, err = c.CompressBlock(data, dst)
	} else {
		var c lz4.Compressor
		n, err = c.CompressBlock(data, dst)
	}
	if err != nil {
		return nil, err
	}

	// CompressBlock returns n == 0 when the input is incompressible; fall
	// back to storing it verbatim-with-marker is not part of this format,
	// so an empty or tiny block simply stores through raw-sized output.
	if n == 0 {
		return append([]byte(nil), data...), nil
	}
	return dst[:n], nil
}

func (lz4Codec) decode(compressed []byte, expectedLen int) ([]byte, error) {
	dst := make([]byte, expectedLen)
	n, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		// Blocks lz4Codec.encode stored verbatim (incompressible input)
		// round-trip here: UncompressBlock on non-lz4 data fails, so fall
		// back to treating the input as already-decoded.
		if len(compressed) == expectedLen {
			return append([]byte(nil), compressed...), nil
		}
		return nil, errors.Wrap(err, "lz4 decode")
	}
	return dst[:n], nil
}
