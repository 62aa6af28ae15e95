package packedstorage

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// zstdCodec adapts github.com/klauspost/compress/zstd, the pure-Go zstd
// implementation the pack sibling wal-g/wal-g uses for its own zstd
// compressor (internal/compression/zstd/compressor.go) — chosen over a
// cgo binding so this package stays cgo-free.
//
// klauspost/compress only exposes four discrete speed/ratio tiers, so the
// format's 1..=10 compression_level scale is bucketed onto them: 0 (and
// 1-2) map to SpeedDefault/SpeedFastest, climbing to SpeedBestCompression
// at 9-10.
type zstdCodec struct{}

func zstdLevelFor(level uint8) zstd.EncoderLevel {
	switch {
	case level == 0:
		return zstd.SpeedDefault
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 5:
		return zstd.SpeedDefault
	case level <= 8:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (zstdCodec) encode(data []byte, level uint8) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevelFor(level)))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (zstdCodec) decode(compressed []byte, expectedLen int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	out, err := dec.DecodeAll(compressed, make([]byte, 0, expectedLen))
	if err != nil {
		return nil, errors.Wrap(err, "zstd decode")
	}
	return out, nil
}
