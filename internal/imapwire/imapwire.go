// Package imapwire implements the IMAP wire protocol.
//
// The IMAP wire protocol is defined in RFC 3501 section 4 and section 9.
package imapwire

import (
	"github.com/emersion/go-imapsession"
)

// NumKind describes how a number set should be interpreted.
type NumKind int

const (
	NumKindSeq NumKind = iota + 1
	NumKindUID
)

// NumSetKind returns the kind of a number set.
func NumSetKind(numSet imap.NumSet) NumKind {
	switch numSet.(type) {
	case imap.SeqSet:
		return NumKindSeq
	case imap.UIDSet:
		return NumKindUID
	default:
		panic("imapwire: invalid NumSet type")
	}
}

// IsAtomChar returns true if ch is an ATOM-CHAR.
func IsAtomChar(ch byte) bool {
	switch ch {
	case '(', ')', '{', ' ', '%', '*', '"', '\\', ']':
		return false
	default:
		return ch > 0x1F && ch < 0x7F
	}
}

// IsAStringChar returns true if ch is an ASTRING-CHAR.
func IsAStringChar(ch byte) bool {
	return IsAtomChar(ch) || ch == ']'
}
