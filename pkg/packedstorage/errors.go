package packedstorage

import (
	"fmt"

	"github.com/pkg/errors"
)

// Format errors, returned by Open.
var (
	// ErrMalformedHeader is returned when the magic bytes don't match, the
	// input is too short for the fixed header, a reserved byte is nonzero,
	// the prefix table size overflows, or the prefix sums are not monotonic.
	ErrMalformedHeader = errors.New("packedstorage: malformed header")

	// ErrUnsupportedVersion is returned when the header version is not
	// known to this implementation.
	ErrUnsupportedVersion = errors.New("packedstorage: unsupported version")

	// ErrUnknownEncoding is returned when the encoding id is not one of
	// the recognized values.
	ErrUnknownEncoding = errors.New("packedstorage: unknown encoding id")

	// ErrInvalidLevel is returned when compression_level exceeds 10.
	ErrInvalidLevel = errors.New("packedstorage: invalid compression level")

	// ErrTruncatedFile is returned when the source length does not match
	// what the header claims, or a read of the header, table or block
	// region comes up short.
	ErrTruncatedFile = errors.New("packedstorage: truncated file")
)

// Operational errors, returned by read/write operations.
var (
	// ErrOutOfRange is returned when a read request falls outside
	// [0, UncompressedLen()).
	ErrOutOfRange = errors.New("packedstorage: read out of range")

	// ErrStopped is returned when a callback requested an early stop.
	ErrStopped = errors.New("packedstorage: stopped by callback")

	// ErrSizeOverflow is returned by the writer when a running prefix sum
	// would exceed the representable range.
	ErrSizeOverflow = errors.New("packedstorage: prefix sum overflow")

	// ErrEncodingUnavailable is returned by an adapter whose underlying
	// codec was not compiled into this binary (see the lzo build tag).
	ErrEncodingUnavailable = errors.New("packedstorage: encoding not available in this build")
)

// DecodeError wraps a failure to decode a specific block. It does not
// poison the Reader: other blocks remain independently readable.
type DecodeError struct {
	Encoding   EncodingID
	BlockIndex int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("packedstorage: decode block %d (encoding %s): %v", e.BlockIndex, e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError wraps a failure to compress a block during write.
type EncodeError struct {
	Encoding EncodingID
	Err      error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("packedstorage: encode block (encoding %s): %v", e.Encoding, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
