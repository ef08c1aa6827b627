// Package mailbox implements shared mailboxes and the per-session views of
// them.
//
// A Registry owns the mailboxes of a single user and serializes every
// mutation of a mailbox. A View is the state of one selected mailbox for one
// session: its sequence numbers, its \Recent messages and the queue of
// changes made by other sessions which haven't been reported yet.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/searchquery"
)

// Delim is the hierarchy delimiter of mailbox names.
const Delim = '/'

var (
	ErrMailboxNotFound = errors.New("mailbox: no such mailbox")
	ErrMailboxExists   = errors.New("mailbox: mailbox already exists")
	ErrAccessDenied    = errors.New("mailbox: access denied")
	ErrReadOnly        = errors.New("mailbox: mailbox is read-only")
	ErrMailboxDeleted  = errors.New("mailbox: mailbox has been deleted")
	ErrMessageNotFound = errors.New("mailbox: no such message")
	// ErrInbox is returned when deleting or renaming the INBOX.
	ErrInbox = errors.New("mailbox: operation not permitted on INBOX")
)

// StoreError wraps a failure of the underlying store.
type StoreError struct {
	Op      string
	Mailbox string
	Err     error
}

func (err *StoreError) Error() string {
	if err.Mailbox == "" {
		return fmt.Sprintf("mailbox: %v: %v", err.Op, err.Err)
	}
	return fmt.Sprintf("mailbox: %v %q: %v", err.Op, err.Mailbox, err.Err)
}

func (err *StoreError) Unwrap() error {
	return err.Err
}

// wrapStoreErr leaves the package sentinel errors untouched and wraps
// everything else into a StoreError.
func wrapStoreErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrMailboxNotFound, ErrMailboxExists, ErrAccessDenied, ErrMessageNotFound, ErrInbox, ErrReadOnly} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &StoreError{Op: op, Mailbox: name, Err: err}
}

// Message is a message as returned by a Store.
type Message = searchquery.Message

// MailboxInfo describes a mailbox in a store listing.
type MailboxInfo struct {
	Name       string
	Subscribed bool
}

// Store is the persistent storage of a user's mailboxes.
//
// Implementations must guarantee read-after-write consistency within a
// mailbox. The Registry serializes mutations of a mailbox, so a Store doesn't
// need to order concurrent writes itself.
type Store interface {
	CreateMailbox(ctx context.Context, name string) error
	DeleteMailbox(ctx context.Context, name string) error
	// RenameMailbox renames a mailbox and all of its children.
	RenameMailbox(ctx context.Context, oldName, newName string) error
	ListMailboxes(ctx context.Context) ([]MailboxInfo, error)
	SetSubscribed(ctx context.Context, name string, subscribed bool) error

	// Mailbox returns the mailbox descriptor. Flags and PermanentFlags may be
	// left empty, in which case defaults are used.
	Mailbox(ctx context.Context, name string) (*imap.MailboxDescriptor, error)
	// ListUIDs returns the UIDs of all messages in ascending order.
	ListUIDs(ctx context.Context, name string) ([]imap.UID, error)
	// Messages returns the messages with the given UIDs, in the same order.
	// Unknown UIDs are skipped. The literal is only loaded if withLiteral is
	// set.
	Messages(ctx context.Context, name string, uids []imap.UID, withLiteral bool) ([]*Message, error)
	SetFlags(ctx context.Context, name string, uid imap.UID, flags imap.Flags) error
	AppendMessage(ctx context.Context, name string, flags imap.Flags, date time.Time, literal []byte) (imap.UID, error)
	DeleteMessages(ctx context.Context, name string, uids []imap.UID) error
}

// Searcher is an optional interface a Store may implement to evaluate search
// criteria natively.
type Searcher interface {
	// Search returns the UIDs of the messages matching the criterion, in
	// ascending order. ErrSearchUnsupported is returned if the criterion
	// can't be evaluated by the store.
	Search(ctx context.Context, name string, c searchquery.Criterion) ([]imap.UID, error)
}

// ErrSearchUnsupported is returned by Searcher.Search when the store can't
// evaluate a criterion.
var ErrSearchUnsupported = errors.New("mailbox: search criterion not supported by store")

// Mode is the access mode of a view.
type Mode int

const (
	ModeReadWrite Mode = iota
	ModeReadOnly
)

// Logger is a facility to log error messages.
type Logger interface {
	Printf(format string, args ...interface{})
}

var (
	defaultFlags = []imap.Flag{
		imap.FlagAnswered, imap.FlagFlagged, imap.FlagDeleted, imap.FlagSeen, imap.FlagDraft,
	}
	defaultPermanentFlags = []imap.Flag{
		imap.FlagAnswered, imap.FlagFlagged, imap.FlagDeleted, imap.FlagSeen, imap.FlagDraft, imap.FlagWildcard,
	}
)
