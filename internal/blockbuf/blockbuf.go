// Package blockbuf provides a seekable in-memory byte buffer over an
// already-decoded block. It is adapted from the teacher's
// catfs/mio/chunkbuf.ChunkBuffer, trimmed down to the read/seek path a
// Reader needs: a decoded packed-storage block is a fixed, fully
// materialized byte slice, never grown past its decoded size the way the
// teacher's version supports Write for streaming compression output.
package blockbuf

import (
	"io"
)

// Buffer is a read-only, seekable view over a decoded block's bytes.
type Buffer struct {
	buf     []byte
	readOff int64
}

// New wraps data in a Buffer. data is not copied; callers must not
// mutate it while the Buffer is in use.
func New(data []byte) *Buffer {
	return &Buffer{buf: data}
}

// Len returns the number of unread bytes remaining.
func (b *Buffer) Len() int {
	return len(b.buf) - int(b.readOff)
}

// Read implements io.Reader.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.readOff >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.readOff:])
	b.readOff += int64(n)
	return n, nil
}

// Seek implements io.Seeker.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var dest int64
	switch whence {
	case io.SeekStart:
		dest = offset
	case io.SeekCurrent:
		dest = b.readOff + offset
	case io.SeekEnd:
		dest = int64(len(b.buf)) + offset
	default:
		return 0, io.ErrUnexpectedEOF
	}
	if dest < 0 {
		return 0, io.EOF
	}
	if dest > int64(len(b.buf)) {
		dest = int64(len(b.buf))
	}
	b.readOff = dest
	return b.readOff, nil
}

// WriteTo implements io.WriterTo.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.buf[b.readOff:])
	b.readOff += int64(n)
	return int64(n), err
}

// Close is a no-op, only present to satisfy io.Closer for callers that
// want to treat a Buffer as an io.ReadCloser.
func (b *Buffer) Close() error { return nil }
