// Package hexdump renders byte buffers as fixed-width hex + ASCII tables for
// diagnostic tracing.
//
// Each row covers 16 bytes: a four-digit decimal offset, the bytes as two
// groups of eight hex pairs, and the printable ASCII rendering where bytes
// outside 0x20..0x7e are shown as '.':
//
//	0000   00 01 43 41 46 45 43 41  46 45 00 01               ..CAFECAFE..
package hexdump

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const rowWidth = 16

// Dump returns the hexdump of data without a trailing newline.
// An empty buffer yields an empty string.
func Dump(data []byte) string {
	return DumpN(data, len(data))
}

// DumpN is like Dump but renders at most limit bytes. A negative limit
// renders the full buffer.
func DumpN(data []byte, limit int) string {
	n := len(data)
	if limit >= 0 && limit < n {
		n = limit
	}

	var b strings.Builder
	for off := 0; off < n; off += rowWidth {
		if off > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%04d   ", off)
		for j := 0; j < rowWidth; j++ {
			if off+j < n {
				fmt.Fprintf(&b, "%02x ", data[off+j])
			} else {
				b.WriteString("   ")
			}
			if j == 7 {
				b.WriteByte(' ')
			}
		}
		b.WriteString("  ")
		end := off + rowWidth
		if end > n {
			end = n
		}
		b.WriteString(printable(data[off:end]))
	}
	return b.String()
}

func printable(row []byte) string {
	out := make([]byte, len(row))
	for i, c := range row {
		if c < 0x20 || c >= 0x7f {
			out[i] = '.'
		} else {
			out[i] = c
		}
	}
	return string(out)
}

// Log writes the dump of data to logger at debug level, one log line per row,
// under the given message. Nothing is formatted unless debug is enabled.
func Log(logger *logrus.Logger, msg string, data []byte, fields logrus.Fields) {
	if logger == nil || !logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	entry := logger.WithFields(fields)
	for _, row := range strings.Split(Dump(data), "\n") {
		if row == "" {
			continue
		}
		entry.Debugf("%s: %s", msg, row)
	}
}
