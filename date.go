package imap

import (
	"fmt"
	"strings"
	"time"
)

// Date and time layouts.
const (
	// Described in RFC 1730 on page 55.
	DateLayout = "2-Jan-2006"
	// Described in RFC 1730 on page 55.
	DateTimeLayout = "2-Jan-2006 15:04:05 -0700"
)

// ParseDate parses an IMAP date, as used in SEARCH keys.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("imap: date %q could not be parsed", s)
	}
	return t, nil
}

// ParseDateTime parses an IMAP date with time, as used by APPEND and
// INTERNALDATE.
func ParseDateTime(s string) (time.Time, error) {
	t, err := time.Parse(DateTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("imap: date-time %q could not be parsed", s)
	}
	return t, nil
}

// Day truncates t to its calendar day. The time zone is discarded: IMAP date
// comparisons are zone-unaware.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
