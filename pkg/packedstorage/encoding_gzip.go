package packedstorage

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/pkg/errors"
)

// gzipCodec adapts stdlib compress/gzip. gzip's native scale is 1..=9
// (BestSpeed..BestCompression); this implementation maps the format's
// 1..=10 scale onto it by clamping 9 and 10 both to BestCompression, the
// mapping spec.md §9(c) leaves for implementations to document.
type gzipCodec struct{}

func (gzipCodec) encode(data []byte, level uint8) ([]byte, error) {
	gzLevel := gzip.DefaultCompression
	if level > 0 {
		gzLevel = int(level)
		if gzLevel > gzip.BestCompression {
			gzLevel = gzip.BestCompression
		}
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) decode(compressed []byte, expectedLen int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]byte, 0, expectedLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, errors.Wrap(err, "gzip decode")
	}
	return buf.Bytes(), nil
}
