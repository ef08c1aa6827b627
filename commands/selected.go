package commands

import (
	"github.com/emersion/go-imapsession"
)

// A CHECK command.
// See RFC 3501 section 6.4.1
type Check struct{}

func (*Check) Name() string { return "CHECK" }

// A CLOSE command.
// See RFC 3501 section 6.4.2
type Close struct{}

func (*Close) Name() string { return "CLOSE" }

// An UNSELECT command.
// See RFC 3691
type Unselect struct{}

func (*Unselect) Name() string { return "UNSELECT" }

// An EXPUNGE command.
// See RFC 3501 section 6.4.3
type Expunge struct {
	// UIDs restricts the expunge to the listed messages (UID EXPUNGE, RFC
	// 4315). Nil means all messages marked \Deleted.
	UIDs *imap.UIDSet
}

func (*Expunge) Name() string { return "EXPUNGE" }

// A SEARCH command.
// See RFC 3501 section 6.4.4
type Search struct {
	Charset string
	Key     imap.SearchKey
}

func (*Search) Name() string { return "SEARCH" }

// A FETCH command.
// See RFC 3501 section 6.4.5
type Fetch struct {
	NumSet  imap.NumSet
	Options imap.FetchOptions
}

func (*Fetch) Name() string { return "FETCH" }

// A STORE command.
// See RFC 3501 section 6.4.6
type Store struct {
	NumSet imap.NumSet
	Flags  imap.StoreFlags
}

func (*Store) Name() string { return "STORE" }

// A COPY command.
// See RFC 3501 section 6.4.7
type Copy struct {
	NumSet  imap.NumSet
	Mailbox string
}

func (*Copy) Name() string { return "COPY" }
