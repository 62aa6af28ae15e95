//go:build lzo

package packedstorage

import (
	"bytes"
	"io"

	"github.com/cyberdelia/lzo"
	"github.com/pkg/errors"
)

// lzoCodec adapts github.com/cyberdelia/lzo, a cgo binding to liblzo2.
// It is gated behind the lzo build tag the same way the pack sibling
// wal-g/wal-g gates its own LZO support
// (internal/compression/lzo/lzo_enabled.go) — liblzo2 is not guaranteed
// to be present in every build environment.
type lzoCodec struct{}

func (lzoCodec) encode(data []byte, _ uint8) ([]byte, error) {
	var buf bytes.Buffer
	w := lzo.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lzoCodec) decode(compressed []byte, expectedLen int) ([]byte, error) {
	r, err := lzo.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := bytes.NewBuffer(make([]byte, 0, expectedLen))
	if _, err := io.Copy(out, r); err != nil {
		return nil, errors.Wrap(err, "lzo decode")
	}
	return out.Bytes(), nil
}
