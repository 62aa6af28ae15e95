package packedstorage

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MagicNumber is the 8-byte marker at the front of every packed storage
// file, mirroring the way the teacher package guards its own stream format
// with a fixed MagicNumber (catfs/mio/compress/common.go).
var MagicNumber = []byte("PKGSTRG1")

const (
	// Version is the only header version this implementation understands.
	Version uint8 = 1

	// HeaderSize is the size in bytes of the fixed header, before the
	// prefix-sum table.
	HeaderSize = 32

	// PrefixEntrySize is the size in bytes of a single (compressed_end,
	// uncompressed_end) prefix-sum pair.
	PrefixEntrySize = 16

	// MaxCompressionLevel is the highest compression_level a header may
	// declare. 0 means "encoder default".
	MaxCompressionLevel = 10
)

// PrefixEntry is one row of the block prefix-sum table: the cumulative
// compressed and uncompressed byte length up to and including a block.
type PrefixEntry struct {
	CompressedEnd   uint64
	UncompressedEnd uint64
}

func (p PrefixEntry) marshal(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], p.CompressedEnd)
	binary.LittleEndian.PutUint64(buf[8:16], p.UncompressedEnd)
}

func (p *PrefixEntry) unmarshal(buf []byte) {
	p.CompressedEnd = binary.LittleEndian.Uint64(buf[0:8])
	p.UncompressedEnd = binary.LittleEndian.Uint64(buf[8:16])
}

// Header is the parsed, in-memory form of the fixed 32-byte header plus
// the N-entry prefix-sum table that follows it.
type Header struct {
	Encoding         EncodingID
	CompressionLevel uint8
	NumEntries       uint64
	BlockPrefixSum   []PrefixEntry
}

// NumBlocks returns the number of compressed blocks the header describes.
func (h *Header) NumBlocks() int {
	return len(h.BlockPrefixSum)
}

// EncodedLen returns the total byte length of the fixed header plus the
// prefix-sum table.
func (h *Header) EncodedLen() int {
	return HeaderSize + len(h.BlockPrefixSum)*PrefixEntrySize
}

// Marshal serializes the header and prefix table into a freshly allocated
// buffer, little-endian, matching the on-disk layout of spec.md §3.
func (h *Header) Marshal() ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, h.EncodedLen())
	copy(buf[0:8], MagicNumber)
	buf[8] = Version
	buf[9] = 0 // flags, reserved
	// buf[10:12] reserved
	buf[12] = h.Encoding.byte()
	buf[13] = h.CompressionLevel
	// buf[14:16] reserved
	binary.LittleEndian.PutUint64(buf[16:24], uint64(len(h.BlockPrefixSum)))
	binary.LittleEndian.PutUint64(buf[24:32], h.NumEntries)

	off := HeaderSize
	for _, entry := range h.BlockPrefixSum {
		entry.marshal(buf[off : off+PrefixEntrySize])
		off += PrefixEntrySize
	}
	return buf, nil
}

func (h *Header) validate() error {
	if h.CompressionLevel > MaxCompressionLevel {
		return ErrInvalidLevel
	}
	if _, err := h.Encoding.validate(); err != nil {
		return err
	}
	return nil
}

// UnmarshalHeader parses the fixed header and its prefix-sum table out of
// data. It returns the parsed header and the byte offset at which the
// block region begins.
func UnmarshalHeader(data []byte) (*Header, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, errors.Wrap(ErrMalformedHeader, "file too small for fixed header")
	}

	if !bytesEqual(data[0:8], MagicNumber) {
		return nil, 0, ErrMalformedHeader
	}

	version := data[8]
	if version != Version {
		return nil, 0, ErrUnsupportedVersion
	}

	if err := checkReservedZero(data[9], data[10:12], data[14:16]); err != nil {
		return nil, 0, err
	}

	encoding, err := EncodingID(data[12]).validate()
	if err != nil {
		return nil, 0, err
	}

	level := data[13]
	if level > MaxCompressionLevel {
		return nil, 0, ErrInvalidLevel
	}

	numBlocks := binary.LittleEndian.Uint64(data[16:24])
	numEntries := binary.LittleEndian.Uint64(data[24:32])

	prefixBytes, err := safeMulUint64(numBlocks, PrefixEntrySize)
	if err != nil {
		return nil, 0, errors.Wrap(ErrMalformedHeader, "prefix table size overflow")
	}

	dataOffset := int64(HeaderSize) + int64(prefixBytes)
	if dataOffset < 0 || dataOffset > int64(len(data)) {
		return nil, 0, errors.Wrap(ErrTruncatedFile, "prefix table exceeds input size")
	}

	h := &Header{
		Encoding:         encoding,
		CompressionLevel: level,
		NumEntries:       numEntries,
		BlockPrefixSum:   make([]PrefixEntry, numBlocks),
	}

	off := HeaderSize
	for i := range h.BlockPrefixSum {
		h.BlockPrefixSum[i].unmarshal(data[off : off+PrefixEntrySize])
		off += PrefixEntrySize
	}

	return h, int(dataOffset), nil
}

// ReadHeader reads the fixed header and prefix-sum table from r, which is
// positioned at the start of the file. It returns the parsed header and
// the absolute byte offset at which the block region begins.
func ReadHeader(r io.Reader) (*Header, int, error) {
	fixed := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, errors.Wrap(ErrTruncatedFile, "short read of fixed header")
		}
		return nil, 0, err
	}

	if !bytesEqual(fixed[0:8], MagicNumber) {
		return nil, 0, ErrMalformedHeader
	}
	if fixed[8] != Version {
		return nil, 0, ErrUnsupportedVersion
	}

	if err := checkReservedZero(fixed[9], fixed[10:12], fixed[14:16]); err != nil {
		return nil, 0, err
	}

	encoding, err := EncodingID(fixed[12]).validate()
	if err != nil {
		return nil, 0, err
	}

	level := fixed[13]
	if level > MaxCompressionLevel {
		return nil, 0, ErrInvalidLevel
	}

	numBlocks := binary.LittleEndian.Uint64(fixed[16:24])
	numEntries := binary.LittleEndian.Uint64(fixed[24:32])

	prefixBytes, err := safeMulUint64(numBlocks, PrefixEntrySize)
	if err != nil {
		return nil, 0, errors.Wrap(ErrMalformedHeader, "prefix table size overflow")
	}

	tableBuf := make([]byte, prefixBytes)
	if _, err := io.ReadFull(r, tableBuf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, errors.Wrap(ErrTruncatedFile, "short read of prefix table")
		}
		return nil, 0, err
	}

	h := &Header{
		Encoding:         encoding,
		CompressionLevel: level,
		NumEntries:       numEntries,
		BlockPrefixSum:   make([]PrefixEntry, numBlocks),
	}

	off := 0
	for i := range h.BlockPrefixSum {
		h.BlockPrefixSum[i].unmarshal(tableBuf[off : off+PrefixEntrySize])
		off += PrefixEntrySize
	}

	return h, HeaderSize + len(tableBuf), nil
}

// checkReservedZero rejects any file with a nonzero reserved flags byte or
// reserved padding. spec.md leaves the forward-compatibility story between
// "ignore unknown flag bits" and "reject unknown flag bits" open; this
// implementation takes the strict reading (see DESIGN.md) so that a future
// version's flag bits are never silently misinterpreted as "no flags set".
func checkReservedZero(flags byte, reserved ...[]byte) error {
	if flags != 0 {
		return errors.Wrap(ErrMalformedHeader, "reserved flags byte is nonzero")
	}
	for _, r := range reserved {
		for _, b := range r {
			if b != 0 {
				return errors.Wrap(ErrMalformedHeader, "reserved padding is nonzero")
			}
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func safeMulUint64(a, b uint64) (uint64, error) {
	if a == 0 {
		return 0, nil
	}
	result := a * b
	if result/a != b {
		return 0, errors.New("multiplication overflow")
	}
	return result, nil
}
