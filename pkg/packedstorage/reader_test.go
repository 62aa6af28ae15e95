package packedstorage

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildFile writes entries through a Writer under policy/encoding and
// returns the resulting file bytes.
func buildFile(t *testing.T, encoding EncodingID, level uint8, policy BlockingPolicy, entries []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, encoding, level, policy)
	require.NoError(t, err)
	for _, e := range entries {
		_, err := w.Push([]byte(e))
		require.NoError(t, err)
	}
	require.NoError(t, w.Finalize())
	return buf.Bytes()
}

func TestReaderRawRoundTrip(t *testing.T) {
	entries := []string{"abc", "defgh", "ij"}
	data := buildFile(t, Raw, 0, FixedUncompressedBytes{Threshold: 4}, entries)

	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, 3, r.BlockCount())
	require.Equal(t, uint64(3), r.EntryCount())
	require.Equal(t, uint64(10), r.UncompressedLen())

	full, err := r.ReadRecord(0, r.UncompressedLen())
	require.NoError(t, err)
	require.Equal(t, "abcdefghij", string(full))
}

func TestReaderGzipRoundTrip(t *testing.T) {
	entries := []string{"the quick brown fox", "jumps over", "the lazy dog repeatedly and at length"}
	data := buildFile(t, Gzip, 6, FixedEntryCount{N: 1}, entries)

	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 3, r.BlockCount())

	want := "the quick brown foxjumps overthe lazy dog repeatedly and at length"
	got, err := r.ReadRecord(0, r.UncompressedLen())
	require.NoError(t, err)
	require.Equal(t, want, string(got))
}

func TestReaderReadRangeSpansBlocks(t *testing.T) {
	entries := []string{"0123", "456789", "abcde"}
	data := buildFile(t, Raw, 0, FixedEntryCount{N: 1}, entries)

	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	var chunks [][]byte
	err = r.ReadRange(2, 10, func(_ uint64, b []byte) Control {
		cp := append([]byte(nil), b...)
		chunks = append(chunks, cp)
		return Continue
	})
	require.NoError(t, err)

	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	require.Equal(t, "23456789ab", string(out))
	require.True(t, len(chunks) >= 2)
}

func TestReaderReadRangeOutOfRange(t *testing.T) {
	data := buildFile(t, Raw, 0, nil, []string{"hello"})
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	err = r.ReadRange(0, r.UncompressedLen()+1, func(uint64, []byte) Control { return Continue })
	require.ErrorIs(t, err, ErrOutOfRange)

	err = r.ReadRange(r.UncompressedLen()+5, 0, func(uint64, []byte) Control { return Continue })
	require.NoError(t, err)

	err = r.ReadRange(r.UncompressedLen(), 0, func(uint64, []byte) Control { return Continue })
	require.NoError(t, err)
}

func TestReaderReadRangeStopEarly(t *testing.T) {
	data := buildFile(t, Raw, 0, FixedEntryCount{N: 1}, []string{"aaa", "bbb", "ccc"})
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	calls := 0
	err = r.ReadRange(0, r.UncompressedLen(), func(uint64, []byte) Control {
		calls++
		return Stop
	})
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, 1, calls)
}

func TestReaderIterBlocksVisitsAllInOrder(t *testing.T) {
	entries := []string{"aa", "bb", "cc", "dd"}
	data := buildFile(t, Raw, 0, FixedEntryCount{N: 1}, entries)
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	var seen []string
	err = r.IterBlocks(func(i int, _ uint64, b []byte) Control {
		seen = append(seen, string(b))
		return Continue
	})
	require.NoError(t, err)
	require.Equal(t, entries, seen)
}

func TestReaderReadBlockOutOfRange(t *testing.T) {
	data := buildFile(t, Raw, 0, nil, []string{"x"})
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	err = r.ReadBlock(r.BlockCount(), func(int, uint64, []byte) Control { return Continue })
	require.ErrorIs(t, err, ErrOutOfRange)

	err = r.ReadBlock(-1, func(int, uint64, []byte) Control { return Continue })
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestReaderReadUntilTerminator(t *testing.T) {
	entries := []string{"hello\x00wor", "ld\x00tail"}
	data := buildFile(t, Raw, 0, FixedEntryCount{N: 1}, entries)
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	got, err := r.ReadUntil(0, []byte{0})
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got, err = r.ReadUntil(6, []byte{0})
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
}

func TestReaderReadUntilNoTerminatorFound(t *testing.T) {
	data := buildFile(t, Raw, 0, nil, []string{"nobodyhome"})
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	got, err := r.ReadUntil(0, []byte{0})
	require.NoError(t, err)
	require.Equal(t, "nobodyhome", string(got))
}

func TestReaderReadRecordExactSize(t *testing.T) {
	data := buildFile(t, Raw, 0, FixedEntryCount{N: 1}, []string{"0123456789", "abcdefghij"})
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	got, err := r.ReadRecord(8, 6)
	require.NoError(t, err)
	require.Equal(t, "89abcd", string(got))
}

func TestReaderCorruptedBlockDoesNotPoisonOtherBlocks(t *testing.T) {
	data := buildFile(t, Gzip, 3, FixedEntryCount{N: 1}, []string{"first block data", "second block data"})

	header, dataOffset, err := UnmarshalHeader(data)
	require.NoError(t, err)
	require.Equal(t, 2, header.NumBlocks())

	// Corrupt the first compressed block in place.
	firstBlockStart := dataOffset
	for i := firstBlockStart; i < firstBlockStart+4 && i < len(data); i++ {
		data[i] ^= 0xFF
	}

	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	err = r.ReadBlock(0, func(int, uint64, []byte) Control { return Continue })
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, 0, decErr.BlockIndex)

	var second []byte
	err = r.ReadBlock(1, func(_ int, _ uint64, b []byte) Control {
		second = append([]byte(nil), b...)
		return Continue
	})
	require.NoError(t, err)
	require.Equal(t, "second block data", string(second))
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	data := buildFile(t, Raw, 0, nil, []string{"hello world"})
	truncated := data[:len(data)-2]

	_, err := Open(bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrTruncatedFile)
}

func TestOpenRejectsNonMonotonicPrefixSum(t *testing.T) {
	data := buildFile(t, Raw, 0, FixedEntryCount{N: 1}, []string{"aaa", "bb"})
	header, _, err := UnmarshalHeader(data)
	require.NoError(t, err)
	require.Len(t, header.BlockPrefixSum, 2)

	// Swap the two prefix entries so uncompressed_end decreases.
	off := HeaderSize
	entry0 := data[off : off+PrefixEntrySize]
	entry1 := data[off+PrefixEntrySize : off+2*PrefixEntrySize]
	tmp := append([]byte(nil), entry0...)
	copy(entry0, entry1)
	copy(entry1, tmp)

	_, err = Open(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrMalformedHeader)
}

func TestReaderWithCacheDisabled(t *testing.T) {
	data := buildFile(t, Raw, 0, FixedEntryCount{N: 1}, []string{"one", "two", "three"})
	r, err := Open(bytes.NewReader(data), WithCacheCapacity(0))
	require.NoError(t, err)

	got, err := r.ReadRecord(0, r.UncompressedLen())
	require.NoError(t, err)
	require.Equal(t, "onetwothree", string(got))
}

func TestReaderConcurrentReadBlockIsRaceFree(t *testing.T) {
	entries := make([]string, 0, 16)
	for i := 0; i < 16; i++ {
		entries = append(entries, fmt.Sprintf("block-content-%02d", i))
	}
	data := buildFile(t, Raw, 0, FixedEntryCount{N: 1}, entries)

	r, err := Open(bytes.NewReader(data), WithCacheCapacity(0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, r.BlockCount()*4)
	for round := 0; round < 4; round++ {
		for i := 0; i < r.BlockCount(); i++ {
			wg.Add(1)
			go func(round, i int) {
				defer wg.Done()

				var mismatch error
				err := r.ReadBlock(i, func(got int, _ uint64, b []byte) Control {
					if got != i || string(b) != entries[i] {
						mismatch = fmt.Errorf("block %d: got index %d bytes %q", i, got, b)
					}
					return Continue
				})
				if err == nil {
					err = mismatch
				}
				errs[round*r.BlockCount()+i] = err
			}(round, i)
		}
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestReaderBlockReaderIsSeekable(t *testing.T) {
	data := buildFile(t, Raw, 0, nil, []string{"abcdefghij"})
	r, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	br, err := r.BlockReader(0)
	require.NoError(t, err)

	_, err = br.Seek(5, io.SeekStart)
	require.NoError(t, err)

	got := make([]byte, 5)
	n, err := br.Read(got)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "fghij", string(got))
}
