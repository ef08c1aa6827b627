package imap

import (
	"strconv"
	"strings"
	"time"
)

// FetchOptions contains options for the FETCH command.
type FetchOptions struct {
	UID          bool
	Flags        bool
	InternalDate bool
	RFC822Size   bool
	Envelope     bool

	BodySection []*FetchItemBodySection
}

// NeedsBody reports whether the message contents must be read to answer the
// request.
func (options *FetchOptions) NeedsBody() bool {
	return options.Envelope || len(options.BodySection) > 0
}

// SetsSeen reports whether answering the request implicitly sets \Seen.
func (options *FetchOptions) SetsSeen() bool {
	for _, bs := range options.BodySection {
		if !bs.Peek {
			return true
		}
	}
	return false
}

// PartSpecifier describes whether to fetch a part's header, body or both.
type PartSpecifier string

const (
	PartSpecifierNone   PartSpecifier = ""
	PartSpecifierHeader PartSpecifier = "HEADER"
	PartSpecifierMIME   PartSpecifier = "MIME"
	PartSpecifierText   PartSpecifier = "TEXT"
)

// SectionPartial describes a byte range when fetching a message's payload.
type SectionPartial struct {
	Offset, Size int64
}

// FetchItemBodySection is a FETCH BODY[] data item.
//
// To fetch the whole body of a message, use the zero FetchItemBodySection:
//
//	imap.FetchItemBodySection{}
//
// To fetch only a specific part, use the Part field:
//
//	imap.FetchItemBodySection{Part: []int{1, 2, 3}}
//
// To fetch only the header of the message, use the Specifier field:
//
//	imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader}
type FetchItemBodySection struct {
	Specifier       PartSpecifier
	Part            []int
	HeaderFields    []string
	HeaderFieldsNot []string
	Partial         *SectionPartial
	Peek            bool
	// Alias is set for the RFC822, RFC822.HEADER and RFC822.TEXT items,
	// which are answered under their own name.
	Alias string
}

// ResponseName returns the name of the data item in the FETCH response.
func (section *FetchItemBodySection) ResponseName() string {
	if section.Alias != "" {
		return section.Alias
	}
	var sb strings.Builder
	sb.WriteString("BODY[")
	for i, part := range section.Part {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(part))
	}
	if section.Specifier != PartSpecifierNone {
		if len(section.Part) > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(string(section.Specifier))
		var fields []string
		switch {
		case len(section.HeaderFields) > 0:
			sb.WriteString(".FIELDS")
			fields = section.HeaderFields
		case len(section.HeaderFieldsNot) > 0:
			sb.WriteString(".FIELDS.NOT")
			fields = section.HeaderFieldsNot
		}
		if fields != nil {
			sb.WriteString(" (")
			sb.WriteString(strings.ToUpper(strings.Join(fields, " ")))
			sb.WriteByte(')')
		}
	}
	sb.WriteByte(']')
	if section.Partial != nil {
		sb.WriteByte('<')
		sb.WriteString(strconv.FormatInt(section.Partial.Offset, 10))
		sb.WriteByte('>')
	}
	return sb.String()
}

// FetchMessageData is the data returned for a single message by FETCH.
//
// Only the requested items are populated. Flags is nil if not requested, and
// a non-nil empty slice if the message has no flag.
type FetchMessageData struct {
	SeqNum       uint32
	UID          UID
	Flags        []Flag
	InternalDate time.Time
	RFC822Size   *int64
	Envelope     *Envelope
	BodySection  []FetchBodySectionData
}

// FetchBodySectionData is the contents of a requested body section.
type FetchBodySectionData struct {
	Section *FetchItemBodySection
	Bytes   []byte
}

// Envelope is the envelope structure of a message.
//
// The subject and addresses are UTF-8 (ie, not in their encoded form). The
// In-Reply-To and Message-ID values contain message identifiers without angle
// brackets.
type Envelope struct {
	Date      time.Time
	Subject   string
	From      []Address
	Sender    []Address
	ReplyTo   []Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	InReplyTo string
	MessageID string
}

// Address represents a sender or recipient of a message.
type Address struct {
	Name    string
	Mailbox string
	Host    string
}
