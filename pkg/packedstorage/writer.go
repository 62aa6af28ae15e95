package packedstorage

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lingfeishengtian/mdict-tools/internal/xmath"
)

// Writer accepts a stream of uncompressed entry byte-slices, groups them
// into blocks per a BlockingPolicy, compresses each block, and emits a
// valid packed storage file on Finalize.
//
// A Writer is single-threaded: Push, CloseBlock, and Finalize form a
// strict sequential protocol with no internal suspension, mirroring the
// teacher's own Writer (catfs/mio/compress/writer.go), which likewise
// carries no internal locking.
//
// Finalize strategy: a Writer always stages its compressed block region
// in memory and writes header, prefix table, and block region in a
// single pass on Finalize — spec.md §4.2's strategy (b). This is the
// strategy the original reference implementation uses unconditionally
// (its finish_into_bytes/finish_to_writer assemble one buffer regardless
// of whether the destination can seek), so dst only needs to be a plain
// io.Writer; no seek-back reservation is attempted.
type Writer struct {
	dst io.Writer

	encoding EncodingID
	level    uint8
	policy   BlockingPolicy

	pending          bytes.Buffer
	entriesInBlock   int
	numEntries       uint64
	blockPrefixSum   []PrefixEntry
	compressedBlocks [][]byte

	// err is sticky: once set, every subsequent operation returns it.
	// This is the Writer's poisoned state (spec.md §4.2/§7): the file
	// would be partially written and is not safe to finalize.
	err error

	finalized bool
}

// NewWriter constructs a Writer that compresses every block with encoding
// at the given compression_level (clamped into [0, 10]) and closes blocks
// according to policy. A nil policy defaults to FixedUncompressedBytes
// with a 64 KiB threshold.
func NewWriter(dst io.Writer, encoding EncodingID, level uint8, policy BlockingPolicy) (*Writer, error) {
	if _, err := encoding.validate(); err != nil {
		return nil, err
	}
	level = uint8(xmath.Clamp(int(level), 0, MaxCompressionLevel))
	if policy == nil {
		policy = FixedUncompressedBytes{Threshold: 64 * 1024}
	}

	return &Writer{
		dst:      dst,
		encoding: encoding,
		level:    level,
		policy:   policy,
	}, nil
}

// Push appends entry to the open block's staging buffer, closing the open
// block first or after as dictated by the blocking policy. It returns the
// logical uncompressed offset at which entry begins.
func (w *Writer) Push(entry []byte) (uint64, error) {
	if w.err != nil {
		return 0, w.err
	}

	if w.policy.shouldCloseBeforePush(w.pending.Len(), len(entry)) {
		if err := w.CloseBlock(); err != nil {
			return 0, err
		}
	}

	offset := w.totalUncompressed() + uint64(w.pending.Len())

	if _, err := w.pending.Write(entry); err != nil {
		w.err = err
		return 0, err
	}
	w.entriesInBlock++
	w.numEntries++

	if w.policy.shouldCloseAfterPush(w.entriesInBlock) {
		if err := w.CloseBlock(); err != nil {
			return 0, err
		}
	}

	return offset, nil
}

func (w *Writer) totalUncompressed() uint64 {
	if len(w.blockPrefixSum) == 0 {
		return 0
	}
	return w.blockPrefixSum[len(w.blockPrefixSum)-1].UncompressedEnd
}

func (w *Writer) totalCompressed() uint64 {
	if len(w.blockPrefixSum) == 0 {
		return 0
	}
	return w.blockPrefixSum[len(w.blockPrefixSum)-1].CompressedEnd
}

// CloseBlock compresses the currently staged bytes (if any) and appends
// the resulting prefix-sum entry. It is a no-op on an empty pending
// buffer, matching spec.md §4.2 ("if the open block is empty, is a
// no-op").
func (w *Writer) CloseBlock() error {
	if w.err != nil {
		return w.err
	}
	if w.pending.Len() == 0 {
		return nil
	}
	return w.flushPendingBlock()
}

func (w *Writer) flushPendingBlock() error {
	raw := w.pending.Bytes()

	compressed, err := encodeBlock(w.encoding, w.level, raw)
	if err != nil {
		w.err = err
		return err
	}

	compressedEnd, ok := addUint64Checked(w.totalCompressed(), uint64(len(compressed)))
	if !ok {
		w.err = ErrSizeOverflow
		return w.err
	}
	uncompressedEnd, ok := addUint64Checked(w.totalUncompressed(), uint64(len(raw)))
	if !ok {
		w.err = ErrSizeOverflow
		return w.err
	}

	stored := make([]byte, len(compressed))
	copy(stored, compressed)
	w.compressedBlocks = append(w.compressedBlocks, stored)

	w.blockPrefixSum = append(w.blockPrefixSum, PrefixEntry{
		CompressedEnd:   compressedEnd,
		UncompressedEnd: uncompressedEnd,
	})

	logrus.Debugf("packedstorage: closed block %d: %d bytes -> %d bytes (%s)",
		len(w.blockPrefixSum)-1, len(raw), len(compressed), w.encoding)

	w.pending.Reset()
	w.entriesInBlock = 0
	return nil
}

// Finalize force-closes any open block, then writes the header, prefix
// table, and concatenated block region to dst in one pass. The Writer
// must not be used again afterwards.
func (w *Writer) Finalize() error {
	if w.err != nil {
		return w.err
	}
	if w.finalized {
		return errors.New("packedstorage: writer already finalized")
	}

	if err := w.CloseBlock(); err != nil {
		return err
	}

	header := &Header{
		Encoding:         w.encoding,
		CompressionLevel: w.level,
		NumEntries:       w.numEntries,
		BlockPrefixSum:   w.blockPrefixSum,
	}

	headerBytes, err := header.Marshal()
	if err != nil {
		w.err = err
		return err
	}

	w.finalized = true
	logrus.Debugf("packedstorage: finalizing %d blocks, %d entries, %d uncompressed bytes",
		header.NumBlocks(), header.NumEntries, w.totalUncompressed())

	if _, err := w.dst.Write(headerBytes); err != nil {
		return err
	}
	for _, block := range w.compressedBlocks {
		if _, err := w.dst.Write(block); err != nil {
			return err
		}
	}
	return nil
}

func addUint64Checked(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	if sum > 1<<63 {
		return 0, false
	}
	return sum, true
}
