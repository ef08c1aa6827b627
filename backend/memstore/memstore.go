// Package memstore implements an in-memory mailbox store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/mailbox"
)

type message struct {
	// immutable
	uid imap.UID
	buf []byte
	t   time.Time

	// mutable, protected by Store.mutex
	flags imap.Flags
}

type memMailbox struct {
	uidValidity uint32
	subscribed  bool
	l           []*message
	uidNext     imap.UID
}

// Store is an in-memory mailbox.Store. A new Store contains an empty INBOX.
type Store struct {
	mutex           sync.Mutex
	mailboxes       map[string]*memMailbox
	prevUIDValidity uint32
}

var _ mailbox.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	s := &Store{mailboxes: make(map[string]*memMailbox)}
	s.createLocked(imap.InboxName)
	return s
}

func (s *Store) createLocked(name string) {
	// UIDVALIDITY must change if a mailbox is deleted and re-created with the
	// same name.
	s.prevUIDValidity++
	s.mailboxes[name] = &memMailbox{uidValidity: s.prevUIDValidity, uidNext: 1}
}

func (s *Store) mailboxLocked(name string) (*memMailbox, error) {
	mbox := s.mailboxes[name]
	if mbox == nil {
		return nil, mailbox.ErrMailboxNotFound
	}
	return mbox, nil
}

func (s *Store) CreateMailbox(ctx context.Context, name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.mailboxes[name] != nil {
		return mailbox.ErrMailboxExists
	}
	s.createLocked(name)
	return nil
}

func (s *Store) DeleteMailbox(ctx context.Context, name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.mailboxLocked(name); err != nil {
		return err
	}
	delete(s.mailboxes, name)
	return nil
}

func (s *Store) RenameMailbox(ctx context.Context, oldName, newName string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.mailboxLocked(oldName); err != nil {
		return err
	}
	if s.mailboxes[newName] != nil {
		return mailbox.ErrMailboxExists
	}

	prefix := oldName + string(mailbox.Delim)
	for name, mbox := range s.mailboxes {
		if name != oldName && !strings.HasPrefix(name, prefix) {
			continue
		}
		delete(s.mailboxes, name)
		s.mailboxes[newName+strings.TrimPrefix(name, oldName)] = mbox
	}
	return nil
}

func (s *Store) ListMailboxes(ctx context.Context) ([]mailbox.MailboxInfo, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	l := make([]mailbox.MailboxInfo, 0, len(s.mailboxes))
	for name, mbox := range s.mailboxes {
		l = append(l, mailbox.MailboxInfo{Name: name, Subscribed: mbox.subscribed})
	}
	sort.Slice(l, func(i, j int) bool {
		return l[i].Name < l[j].Name
	})
	return l, nil
}

func (s *Store) SetSubscribed(ctx context.Context, name string, subscribed bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, err := s.mailboxLocked(name)
	if err != nil {
		return err
	}
	mbox.subscribed = subscribed
	return nil
}

func (s *Store) Mailbox(ctx context.Context, name string) (*imap.MailboxDescriptor, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, err := s.mailboxLocked(name)
	if err != nil {
		return nil, err
	}
	return &imap.MailboxDescriptor{
		Name:        name,
		UIDValidity: mbox.uidValidity,
		UIDNext:     mbox.uidNext,
	}, nil
}

func (s *Store) ListUIDs(ctx context.Context, name string) ([]imap.UID, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, err := s.mailboxLocked(name)
	if err != nil {
		return nil, err
	}
	uids := make([]imap.UID, len(mbox.l))
	for i, msg := range mbox.l {
		uids[i] = msg.uid
	}
	return uids, nil
}

func (mbox *memMailbox) byUID(uid imap.UID) *message {
	i := sort.Search(len(mbox.l), func(i int) bool {
		return mbox.l[i].uid >= uid
	})
	if i < len(mbox.l) && mbox.l[i].uid == uid {
		return mbox.l[i]
	}
	return nil
}

func (s *Store) Messages(ctx context.Context, name string, uids []imap.UID, withLiteral bool) ([]*mailbox.Message, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, err := s.mailboxLocked(name)
	if err != nil {
		return nil, err
	}

	l := make([]*mailbox.Message, 0, len(uids))
	for _, uid := range uids {
		msg := mbox.byUID(uid)
		if msg == nil {
			continue
		}
		out := &mailbox.Message{
			UID:          msg.uid,
			Flags:        msg.flags,
			InternalDate: msg.t,
			Size:         int64(len(msg.buf)),
		}
		if withLiteral {
			out.Literal = msg.buf
		}
		l = append(l, out)
	}
	return l, nil
}

func (s *Store) SetFlags(ctx context.Context, name string, uid imap.UID, flags imap.Flags) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, err := s.mailboxLocked(name)
	if err != nil {
		return err
	}
	msg := mbox.byUID(uid)
	if msg == nil {
		return mailbox.ErrMessageNotFound
	}
	msg.flags = flags
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, name string, flags imap.Flags, date time.Time, literal []byte) (imap.UID, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, err := s.mailboxLocked(name)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, len(literal))
	copy(buf, literal)

	msg := &message{uid: mbox.uidNext, buf: buf, t: date, flags: flags}
	mbox.l = append(mbox.l, msg)
	mbox.uidNext++
	return msg.uid, nil
}

func (s *Store) DeleteMessages(ctx context.Context, name string, uids []imap.UID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, err := s.mailboxLocked(name)
	if err != nil {
		return err
	}

	del := make(map[imap.UID]struct{}, len(uids))
	for _, uid := range uids {
		del[uid] = struct{}{}
	}
	l := mbox.l[:0]
	for _, msg := range mbox.l {
		if _, ok := del[msg.uid]; !ok {
			l = append(l, msg)
		}
	}
	for i := len(l); i < len(mbox.l); i++ {
		mbox.l[i] = nil
	}
	mbox.l = l
	return nil
}
