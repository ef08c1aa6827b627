package mailbox

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imapsession"
)

// Options contains options for a Registry.
type Options struct {
	// Logger is a logger to print error messages. If nil, log.Default is used.
	Logger Logger
	// OnEvent, if set, is called with the number of views an event was
	// queued to.
	OnEvent func(kind EventKind, n int)
}

// Registry manages the mailboxes of a user.
//
// Each mailbox with in-flight operations or open views has a state which is
// the single ordering point for its mutations: a mutation holds the state
// write lock while it updates the store and queues events to the other views.
// Readers hold the read lock.
type Registry struct {
	store   Store
	logger  Logger
	onEvent func(kind EventKind, n int)

	mutex     sync.Mutex
	mailboxes map[string]*mailboxState
}

type mailboxState struct {
	mutex sync.RWMutex
	name  string // protected by mutex
	views map[*View]struct{}
	refs  int // protected by Registry.mutex
}

// NewRegistry creates a registry on top of a store.
func NewRegistry(store Store, options *Options) *Registry {
	if options == nil {
		options = &Options{}
	}
	r := &Registry{
		store:     store,
		logger:    options.Logger,
		onEvent:   options.OnEvent,
		mailboxes: make(map[string]*mailboxState),
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	return r
}

// Store returns the underlying store.
func (r *Registry) Store() Store {
	return r.store
}

func (r *Registry) acquire(name string) *mailboxState {
	name = imap.CanonicalMailboxName(name)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	st, ok := r.mailboxes[name]
	if !ok {
		st = &mailboxState{name: name, views: make(map[*View]struct{})}
		r.mailboxes[name] = st
	}
	st.refs++
	return st
}

func (r *Registry) release(st *mailboxState) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	st.refs--
	if st.refs > 0 {
		return
	}
	for name, other := range r.mailboxes {
		if other == st {
			delete(r.mailboxes, name)
		}
	}
}

// dispatch queues an event to every view of the mailbox except source. The
// caller must hold the state write lock.
func (r *Registry) dispatch(st *mailboxState, ev Event, source *View) {
	n := 0
	for v := range st.views {
		if v == source {
			continue
		}
		v.queueEvent(ev)
		n++
	}
	if r.onEvent != nil {
		r.onEvent(ev.Kind, n)
	}
}

// Create creates a mailbox. Missing parent mailboxes are created as well.
func (r *Registry) Create(ctx context.Context, name string) error {
	name = strings.TrimSuffix(imap.CanonicalMailboxName(name), string(Delim))
	if name == "" {
		return ErrAccessDenied
	}

	parts := strings.Split(name, string(Delim))
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[:i], string(Delim))
		if parent == "" {
			continue
		}
		if err := r.store.CreateMailbox(ctx, parent); err != nil && !errors.Is(err, ErrMailboxExists) {
			return wrapStoreErr("create", parent, err)
		}
	}
	return wrapStoreErr("create", name, r.store.CreateMailbox(ctx, name))
}

// Delete deletes a mailbox.
//
// Views of the mailbox are detached: they receive a deletion event and every
// later operation on them fails with ErrMailboxDeleted.
func (r *Registry) Delete(ctx context.Context, name string) error {
	name = imap.CanonicalMailboxName(name)
	if name == imap.InboxName {
		return ErrInbox
	}

	st := r.acquire(name)
	defer r.release(st)

	detached, err := r.deleteLocked(ctx, st)
	if err != nil {
		return err
	}
	// each detached view held a reference on the state
	for i := 0; i < detached; i++ {
		r.release(st)
	}
	return nil
}

func (r *Registry) deleteLocked(ctx context.Context, st *mailboxState) (int, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if err := r.store.DeleteMailbox(ctx, st.name); err != nil {
		return 0, wrapStoreErr("delete", st.name, err)
	}
	r.dispatch(st, Event{Kind: EventDeleted}, nil)
	n := len(st.views)
	for v := range st.views {
		delete(st.views, v)
	}
	return n, nil
}

// Rename renames a mailbox and its children. Open views follow the mailbox.
func (r *Registry) Rename(ctx context.Context, oldName, newName string) error {
	oldName = imap.CanonicalMailboxName(oldName)
	newName = strings.TrimSuffix(imap.CanonicalMailboxName(newName), string(Delim))
	if oldName == imap.InboxName || newName == imap.InboxName {
		return ErrInbox
	}
	if newName == "" {
		return ErrAccessDenied
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	prefix := oldName + string(Delim)
	var affected []*mailboxState
	for name, st := range r.mailboxes {
		if name == oldName || strings.HasPrefix(name, prefix) {
			affected = append(affected, st)
		}
	}
	sort.Slice(affected, func(i, j int) bool {
		return affected[i].name < affected[j].name
	})
	for _, st := range affected {
		st.mutex.Lock()
		defer st.mutex.Unlock()
	}

	if err := r.store.RenameMailbox(ctx, oldName, newName); err != nil {
		return wrapStoreErr("rename", oldName, err)
	}

	for _, st := range affected {
		delete(r.mailboxes, st.name)
	}
	for _, st := range affected {
		st.name = newName + strings.TrimPrefix(st.name, oldName)
		if _, ok := r.mailboxes[st.name]; !ok {
			r.mailboxes[st.name] = st
		}
	}
	return nil
}

// Exists reports whether a mailbox exists.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.store.Mailbox(ctx, imap.CanonicalMailboxName(name))
	if errors.Is(err, ErrMailboxNotFound) {
		return false, nil
	} else if err != nil {
		return false, wrapStoreErr("exists", name, err)
	}
	return true, nil
}

// Subscribe adds or removes a mailbox from the subscription list.
func (r *Registry) Subscribe(ctx context.Context, name string, subscribed bool) error {
	name = imap.CanonicalMailboxName(name)
	return wrapStoreErr("subscribe", name, r.store.SetSubscribed(ctx, name, subscribed))
}

// List returns the mailboxes matching a reference and a pattern, sorted by
// name. If subscribedOnly is set, only subscribed mailboxes are returned.
func (r *Registry) List(ctx context.Context, ref, pattern string, subscribedOnly bool) ([]imap.ListData, error) {
	if pattern == "" && !subscribedOnly {
		// Return the hierarchy delimiter and the root name
		root := ""
		if i := strings.IndexRune(ref, Delim); i >= 0 {
			root = ref[:i+1]
		}
		return []imap.ListData{{
			Attrs:   []imap.MailboxAttr{imap.MailboxAttrNoSelect},
			Delim:   Delim,
			Mailbox: root,
		}}, nil
	}

	infos, err := r.store.ListMailboxes(ctx)
	if err != nil {
		return nil, wrapStoreErr("list", "", err)
	}

	names := make(map[string]bool, len(infos))
	for _, info := range infos {
		names[imap.CanonicalMailboxName(info.Name)] = true
	}
	hasChildren := func(name string) bool {
		prefix := name + string(Delim)
		for other := range names {
			if strings.HasPrefix(other, prefix) {
				return true
			}
		}
		return false
	}

	query := newListQuery(ref, pattern)
	var l []imap.ListData
	for _, info := range infos {
		name := imap.CanonicalMailboxName(info.Name)
		if subscribedOnly && !info.Subscribed {
			continue
		}
		if !query.match(name) {
			continue
		}

		data := imap.ListData{Delim: Delim, Mailbox: name}
		if hasChildren(name) {
			data.Attrs = append(data.Attrs, imap.MailboxAttrHasChildren)
		} else {
			data.Attrs = append(data.Attrs, imap.MailboxAttrHasNoChildren)
		}
		if info.Subscribed && !subscribedOnly {
			data.Attrs = append(data.Attrs, imap.MailboxAttrSubscribed)
		}
		l = append(l, data)
	}
	sort.Slice(l, func(i, j int) bool {
		return l[i].Mailbox < l[j].Mailbox
	})
	return l, nil
}

// Status returns the status of a mailbox.
func (r *Registry) Status(ctx context.Context, name string, options *imap.StatusOptions) (*imap.StatusData, error) {
	st := r.acquire(name)
	defer r.release(st)

	st.mutex.RLock()
	defer st.mutex.RUnlock()

	desc, err := r.store.Mailbox(ctx, st.name)
	if err != nil {
		return nil, wrapStoreErr("status", st.name, err)
	}

	data := imap.StatusData{Mailbox: st.name}
	if options.UIDNext {
		data.UIDNext = desc.UIDNext
	}
	if options.UIDValidity {
		data.UIDValidity = desc.UIDValidity
	}
	if !options.NumMessages && !options.NumRecent && !options.NumUnseen && !options.NumDeleted && !options.Size {
		return &data, nil
	}

	uids, err := r.store.ListUIDs(ctx, st.name)
	if err != nil {
		return nil, wrapStoreErr("status", st.name, err)
	}
	msgs, err := r.store.Messages(ctx, st.name, uids, false)
	if err != nil {
		return nil, wrapStoreErr("status", st.name, err)
	}

	var numRecent, numUnseen, numDeleted uint32
	var size int64
	for _, msg := range msgs {
		if msg.Flags.Has(imap.FlagRecent) {
			numRecent++
		}
		if !msg.Flags.Has(imap.FlagSeen) {
			numUnseen++
		}
		if msg.Flags.Has(imap.FlagDeleted) {
			numDeleted++
		}
		size += msg.Size
	}
	numMessages := uint32(len(msgs))
	if options.NumMessages {
		data.NumMessages = &numMessages
	}
	if options.NumRecent {
		data.NumRecent = &numRecent
	}
	if options.NumUnseen {
		data.NumUnseen = &numUnseen
	}
	if options.NumDeleted {
		data.NumDeleted = &numDeleted
	}
	if options.Size {
		data.Size = &size
	}
	return &data, nil
}

// Append adds a message to a mailbox and notifies every view of it.
//
// The new message is flagged \Recent. If a read-write view of the mailbox is
// open, it takes ownership of the \Recent flag; otherwise the flag stays in
// the store for the next session to select the mailbox.
func (r *Registry) Append(ctx context.Context, name string, flags imap.Flags, date time.Time, literal []byte) (uint32, imap.UID, error) {
	st := r.acquire(name)
	defer r.release(st)

	st.mutex.Lock()
	defer st.mutex.Unlock()

	desc, err := r.store.Mailbox(ctx, st.name)
	if err != nil {
		return 0, 0, wrapStoreErr("append", st.name, err)
	}
	if date.IsZero() {
		date = time.Now()
	}

	flags = flags.With(imap.FlagRecent)
	uid, err := r.store.AppendMessage(ctx, st.name, flags, date, literal)
	if err != nil {
		return 0, 0, wrapStoreErr("append", st.name, err)
	}

	var owner *View
	for v := range st.views {
		if v.writable {
			owner = v
			break
		}
	}
	if owner != nil {
		flags = flags.Without(imap.FlagRecent)
		if err := r.store.SetFlags(ctx, st.name, uid, flags); err != nil {
			r.logger.Printf("mailbox: failed to clear \\Recent on appended message %v in %q: %v", uid, st.name, err)
		}
	}

	n := 0
	for v := range st.views {
		v.queueEvent(Event{Kind: EventAppend, UID: uid, Flags: flags, Recent: v == owner})
		n++
	}
	if r.onEvent != nil {
		r.onEvent(EventAppend, n)
	}
	return desc.UIDValidity, uid, nil
}

// Open selects a mailbox and returns a new view of it.
//
// The caller must close the view once done with it.
func (r *Registry) Open(ctx context.Context, name string, mode Mode) (*View, *imap.SelectData, error) {
	st := r.acquire(name)

	v, data, err := r.open(ctx, st, mode)
	if err != nil {
		r.release(st)
		return nil, nil, err
	}
	return v, data, nil
}

func (r *Registry) open(ctx context.Context, st *mailboxState, mode Mode) (*View, *imap.SelectData, error) {
	// The write lock ensures no mutation happens between loading the UIDs and
	// registering the view.
	st.mutex.Lock()
	defer st.mutex.Unlock()

	desc, err := r.store.Mailbox(ctx, st.name)
	if err != nil {
		return nil, nil, wrapStoreErr("select", st.name, err)
	}
	desc.Name = st.name
	if mode == ModeReadOnly {
		desc.ReadOnly = true
	}
	if len(desc.Flags) == 0 {
		desc.Flags = defaultFlags
	}
	if desc.ReadOnly {
		desc.PermanentFlags = nil
	} else if len(desc.PermanentFlags) == 0 {
		desc.PermanentFlags = defaultPermanentFlags
	}

	uids, err := r.store.ListUIDs(ctx, st.name)
	if err != nil {
		return nil, nil, wrapStoreErr("select", st.name, err)
	}
	msgs, err := r.store.Messages(ctx, st.name, uids, false)
	if err != nil {
		return nil, nil, wrapStoreErr("select", st.name, err)
	}

	v, err := newView(r, st, desc, uids)
	if err != nil {
		return nil, nil, err
	}

	data := &imap.SelectData{
		Mailbox:     *desc,
		NumMessages: v.index.Len(),
	}
	for i, msg := range msgs {
		if msg.Flags.Has(imap.FlagRecent) {
			v.recent[msg.UID] = struct{}{}
			if v.writable {
				if err := r.store.SetFlags(ctx, st.name, msg.UID, msg.Flags.Without(imap.FlagRecent)); err != nil {
					return nil, nil, wrapStoreErr("select", st.name, err)
				}
			}
		}
		if data.FirstUnseen == 0 && !msg.Flags.Has(imap.FlagSeen) {
			if seqNum, ok := v.index.MSN(msg.UID); ok {
				data.FirstUnseen = seqNum
			} else {
				data.FirstUnseen = uint32(i + 1)
			}
		}
	}
	data.NumRecent = uint32(len(v.recent))

	st.views[v] = struct{}{}
	return v, data, nil
}
