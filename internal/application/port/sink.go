package port

import "time"

type Sink interface {
	// Live line: overwrite last line (no newline)
	WriteLive(line string) error
	// Report block: timestamp header followed by a multi-line body
	WriteReport(ts time.Time, body string) error
	// Normal newline (for logs)
	NewLine() error
}
