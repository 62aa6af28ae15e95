package packedstorage

// BlockingPolicy decides when the Writer closes the currently open block.
// It is not persisted in the file — readers never need to know how a
// writer chose its block boundaries.
type BlockingPolicy interface {
	// shouldCloseBeforePush reports whether the open block must be closed
	// before appending entry to it.
	shouldCloseBeforePush(pendingLen, entryLen int) bool

	// shouldCloseAfterPush reports whether the open block must be closed
	// once entry has just been appended, given the number of entries now
	// staged in it.
	shouldCloseAfterPush(entriesInBlock int) bool
}

// FixedUncompressedBytes closes the open block once appending the next
// entry would push its accumulated uncompressed size past threshold.
type FixedUncompressedBytes struct {
	Threshold int
}

func (p FixedUncompressedBytes) shouldCloseBeforePush(pendingLen, entryLen int) bool {
	return pendingLen > 0 && pendingLen+entryLen > p.Threshold
}

func (p FixedUncompressedBytes) shouldCloseAfterPush(_ int) bool { return false }

// FixedEntryCount closes the open block after every N pushed entries.
type FixedEntryCount struct {
	N int
}

func (p FixedEntryCount) shouldCloseBeforePush(_, _ int) bool { return false }

func (p FixedEntryCount) shouldCloseAfterPush(entriesInBlock int) bool {
	return p.N > 0 && entriesInBlock >= p.N
}

// Manual never closes a block on its own; the caller drives CloseBlock.
type Manual struct{}

func (Manual) shouldCloseBeforePush(_, _ int) bool { return false }
func (Manual) shouldCloseAfterPush(_ int) bool     { return false }
