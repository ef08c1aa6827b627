// Package imap contains the types shared by the mailbox session engine: UIDs,
// flags, number sets, search keys and the responses handed to a composer.
//
// The wire syntax these types map to is defined in RFC 9051 and RFC 3501.
package imap

import (
	"fmt"
	"strings"
)

// UID is a message unique identifier.
//
// UIDs are strictly increasing within a mailbox incarnation and never reused.
type UID uint64

// ConnState describes the connection state.
//
// See RFC 9051 section 3.
type ConnState int

const (
	ConnStateNone ConnState = iota
	ConnStateNotAuthenticated
	ConnStateAuthenticated
	ConnStateSelected
	ConnStateLogout
)

// String implements fmt.Stringer.
func (state ConnState) String() string {
	switch state {
	case ConnStateNone:
		return "none"
	case ConnStateNotAuthenticated:
		return "not authenticated"
	case ConnStateAuthenticated:
		return "authenticated"
	case ConnStateSelected:
		return "selected"
	case ConnStateLogout:
		return "logout"
	default:
		panic(fmt.Errorf("imap: unknown connection state %v", int(state)))
	}
}

// MailboxAttr is a mailbox attribute.
//
// Mailbox attributes are defined in RFC 9051 section 7.3.1.
type MailboxAttr string

const (
	MailboxAttrNonExistent   MailboxAttr = "\\NonExistent"
	MailboxAttrNoInferiors   MailboxAttr = "\\Noinferiors"
	MailboxAttrNoSelect      MailboxAttr = "\\Noselect"
	MailboxAttrHasChildren   MailboxAttr = "\\HasChildren"
	MailboxAttrHasNoChildren MailboxAttr = "\\HasNoChildren"
	MailboxAttrSubscribed    MailboxAttr = "\\Subscribed"
)

// Flag is a message flag.
//
// Message flags are defined in RFC 9051 section 2.3.2.
type Flag string

const (
	// System flags
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"
	FlagRecent   Flag = "\\Recent"

	// Permanent flags
	FlagWildcard Flag = "\\*"
)

// IsSystem reports whether the flag starts with a backslash.
func (flag Flag) IsSystem() bool {
	return strings.HasPrefix(string(flag), "\\")
}

// InboxName is the case-insensitive name of the primary mailbox.
const InboxName = "INBOX"

// CanonicalMailboxName normalizes the name of the INBOX to uppercase, other
// names are left unchanged.
func CanonicalMailboxName(name string) string {
	if strings.EqualFold(name, InboxName) {
		return InboxName
	}
	return name
}
