package searchquery

import (
	"bufio"
	"bytes"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"golang.org/x/text/cases"

	"github.com/emersion/go-imapsession"
)

// Message is the data a criterion is evaluated against.
type Message struct {
	UID          imap.UID
	Flags        imap.Flags
	InternalDate time.Time
	Size         int64
	// Literal is the raw message. It may be nil if the criterion doesn't
	// inspect the header nor the body, see Needs.
	Literal []byte
}

// Match reports whether msg matches the criterion.
func Match(c Criterion, msg *Message) bool {
	m := matcher{msg: msg}
	return m.match(c)
}

type matcher struct {
	msg *Message

	parsed bool
	header mail.Header
	body   []byte
}

func (m *matcher) parse() {
	if m.parsed {
		return
	}
	m.parsed = true

	br := bufio.NewReader(bytes.NewReader(m.msg.Literal))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return
	}
	m.header = mail.Header{Header: gomessage.Header{Header: h}}
	m.body, _ = io.ReadAll(br)
}

func (m *matcher) match(c Criterion) bool {
	switch c := c.(type) {
	case All:
		return true
	case UIDRange:
		return c.Contains(m.msg.UID)
	case FlagSet:
		return m.msg.Flags.Has(c.Flag) == c.Set
	case InternalDate:
		return matchDate(m.msg.InternalDate, c.Op, c.Date)
	case Size:
		switch c.Op {
		case SizeGreater:
			return m.msg.Size > c.N
		case SizeLess:
			return m.msg.Size < c.N
		}
		return false
	case HeaderContains:
		return m.matchHeader(c.Name, c.Value)
	case HeaderDate:
		m.parse()
		if !m.header.Has(c.Name) {
			return false
		}
		t, err := netmail.ParseDate(m.header.Get(c.Name))
		if err != nil {
			return false
		}
		return matchDate(t, c.Op, c.Date)
	case BodyContains:
		m.parse()
		return contains(string(m.body), c.Value)
	case TextContains:
		return contains(string(m.msg.Literal), c.Value)
	case And:
		for _, child := range c.Children {
			if !m.match(child) {
				return false
			}
		}
		return true
	case Or:
		return m.match(c.Left) || m.match(c.Right)
	case Not:
		return !m.match(c.Child)
	default:
		panic("searchquery: unknown criterion type")
	}
}

func (m *matcher) matchHeader(name, value string) bool {
	m.parse()
	if !m.header.Has(name) {
		return false
	}
	if value == "" {
		return true
	}
	fields := m.header.FieldsByKey(name)
	for fields.Next() {
		if contains(fields.Value(), value) {
			return true
		}
		if text, err := fields.Text(); err == nil && contains(text, value) {
			return true
		}
	}
	return false
}

func matchDate(t time.Time, op DateOp, date time.Time) bool {
	day := imap.Day(t)
	switch op {
	case DateBefore:
		return day.Before(date)
	case DateOn:
		return day.Equal(date)
	case DateAfter:
		return day.After(date)
	default:
		return false
	}
}

// contains reports whether substr is in s, comparing with Unicode case
// folding.
func contains(s, substr string) bool {
	if substr == "" {
		return true
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(s), fold.String(substr))
}
