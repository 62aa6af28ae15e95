// Package packedstorage implements the packed storage container format:
// a fixed 32-byte header, a prefix-sum block index, and a region of
// concatenated compressed blocks. The prefix sums let a reader resolve an
// uncompressed byte range to the handful of blocks that intersect it
// without touching the rest of the file.
//
// The format is byte-exact and little-endian only. See Header for the
// on-disk layout, Writer for how a file is produced, and Reader for
// random access into one.
package packedstorage

import (
	"github.com/sirupsen/logrus"

	"github.com/lingfeishengtian/mdict-tools/internal/plog"
)

func init() {
	logrus.SetFormatter(&plog.FancyLogFormatter{UseColors: true})
}
