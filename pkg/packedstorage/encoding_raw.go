package packedstorage

import "github.com/pkg/errors"

// rawCodec is the identity encoding: compressed and uncompressed block
// sizes are equal by definition (spec.md §4.2).
type rawCodec struct{}

func (rawCodec) encode(data []byte, _ uint8) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (rawCodec) decode(compressed []byte, expectedLen int) ([]byte, error) {
	if len(compressed) != expectedLen {
		return nil, errors.Errorf("raw block length %d does not match expected %d", len(compressed), expectedLen)
	}
	out := make([]byte, len(compressed))
	copy(out, compressed)
	return out, nil
}
