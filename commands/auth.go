package commands

import (
	"time"

	"github.com/emersion/go-imapsession"
)

// A SELECT command.
// If ReadOnly is set to true, the EXAMINE command will be used instead.
// See RFC 3501 section 6.3.1
type Select struct {
	Mailbox  string
	ReadOnly bool
}

func (cmd *Select) Name() string {
	if cmd.ReadOnly {
		return "EXAMINE"
	}
	return "SELECT"
}

// A CREATE command.
// See RFC 3501 section 6.3.3
type Create struct {
	Mailbox string
}

func (*Create) Name() string { return "CREATE" }

// A DELETE command.
// See RFC 3501 section 6.3.4
type Delete struct {
	Mailbox string
}

func (*Delete) Name() string { return "DELETE" }

// A RENAME command.
// See RFC 3501 section 6.3.5
type Rename struct {
	Existing string
	New      string
}

func (*Rename) Name() string { return "RENAME" }

// A SUBSCRIBE or UNSUBSCRIBE command.
// See RFC 3501 section 6.3.6 and 6.3.7
type Subscribe struct {
	Mailbox     string
	Unsubscribe bool
}

func (cmd *Subscribe) Name() string {
	if cmd.Unsubscribe {
		return "UNSUBSCRIBE"
	}
	return "SUBSCRIBE"
}

// A LIST or LSUB command.
// See RFC 3501 section 6.3.8 and 6.3.9
type List struct {
	Reference string
	Mailbox   string
	// Subscribed is set for LSUB.
	Subscribed bool
}

func (cmd *List) Name() string {
	if cmd.Subscribed {
		return "LSUB"
	}
	return "LIST"
}

// A STATUS command.
// See RFC 3501 section 6.3.10
type Status struct {
	Mailbox string
	Options imap.StatusOptions
}

func (*Status) Name() string { return "STATUS" }

// An APPEND command.
// See RFC 3501 section 6.3.11
type Append struct {
	Mailbox string
	Flags   []imap.Flag
	// Date is the internal date, zero to use the current time.
	Date    time.Time
	Literal []byte
}

func (*Append) Name() string { return "APPEND" }

// An IDLE command.
// See RFC 2177
type Idle struct{}

func (*Idle) Name() string { return "IDLE" }
