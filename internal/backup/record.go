package backup

import (
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for Record.CreatedAt. It matches the
// millisecond UTC form produced by browsers, so links created by the web client and by
// this package compare equal.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// JSON keys of the payload. They are shared with links already in circulation.
const (
	fieldToolID     = "calculator"
	fieldInputs     = "inputs"
	fieldResultText = "result"
	fieldCreatedAt  = "timestamp"
)

// Record is a single calculation captured for sharing or download.
type Record struct {
	// ToolID is the slug of the calculator that produced the record.
	ToolID string `json:"calculator"`
	// Inputs holds raw form values keyed by field name. The codec never inspects keys.
	Inputs map[string]any `json:"inputs"`
	// ResultText is the human readable result shown to the user.
	ResultText string `json:"result"`
	// CreatedAt is an ISO-8601 timestamp set at encode time and compared verbatim.
	CreatedAt string `json:"timestamp"`
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FileName returns the download name for r, e.g. "bmi-calculator-backup.json".
func FileName(r Record) string {
	slug := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		default:
			return '-'
		}
	}, r.ToolID)
	if slug == "" {
		slug = "calculation"
	}
	return slug + "-backup.json"
}
