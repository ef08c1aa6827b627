package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/msnindex"
	"github.com/emersion/go-imapsession/searchquery"
)

// View is a session's view of a selected mailbox.
//
// A View belongs to a single session: its methods must not be called
// concurrently, except for the methods used to deliver events.
type View struct {
	registry *Registry
	state    *mailboxState
	desc     imap.MailboxDescriptor
	writable bool

	// owned by the session
	index  *msnindex.Index
	recent map[imap.UID]struct{}

	mutex   sync.Mutex
	queue   []Event
	notify  chan<- struct{}
	deleted bool
	closed  bool
}

func newView(r *Registry, st *mailboxState, desc *imap.MailboxDescriptor, uids []imap.UID) (*View, error) {
	index, err := msnindex.New(uids...)
	if err != nil {
		return nil, fmt.Errorf("mailbox: failed to index %q: %w", st.name, err)
	}
	return &View{
		registry: r,
		state:    st,
		desc:     *desc,
		writable: !desc.ReadOnly,
		index:    index,
		recent:   make(map[imap.UID]struct{}),
	}, nil
}

// Name returns the current name of the mailbox.
func (v *View) Name() string {
	v.state.mutex.RLock()
	defer v.state.mutex.RUnlock()
	return v.state.name
}

// Writable returns false if the view has been opened read-only.
func (v *View) Writable() bool {
	return v.writable
}

// Descriptor returns the mailbox descriptor as of selection.
func (v *View) Descriptor() *imap.MailboxDescriptor {
	desc := v.desc
	return &desc
}

// NumMessages returns the number of messages currently known to the view.
func (v *View) NumMessages() uint32 {
	return v.index.Len()
}

// Index returns the sequence number index of the view.
func (v *View) Index() *msnindex.Index {
	return v.index
}

func (v *View) isDeleted() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.deleted
}

func (v *View) checkUsable() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closed {
		return fmt.Errorf("mailbox: view is closed")
	}
	if v.deleted {
		return ErrMailboxDeleted
	}
	return nil
}

// displayFlags returns the flags of a message as seen by this session: the
// \Recent flag is only visible to the session owning it.
func (v *View) displayFlags(uid imap.UID, flags imap.Flags) []imap.Flag {
	flags = flags.Without(imap.FlagRecent)
	if _, ok := v.recent[uid]; ok {
		flags = flags.With(imap.FlagRecent)
	}
	return flags.List()
}

// resolve translates a message number set into UIDs known to the view,
// sorted by sequence number. Unknown numbers are ignored.
func (v *View) resolve(numSet imap.NumSet) []imap.UID {
	var uids []imap.UID
	switch numSet := numSet.(type) {
	case imap.SeqSet:
		n := v.index.Len()
		if n == 0 {
			return nil
		}
		seen := make(map[uint32]struct{})
		var seqNums []uint32
		for _, r := range numSet {
			r = r.Resolve(n)
			if r.Start > n {
				continue
			}
			if r.Stop > n {
				r.Stop = n
			}
			for seqNum := r.Start; seqNum <= r.Stop; seqNum++ {
				if _, ok := seen[seqNum]; ok {
					continue
				}
				seen[seqNum] = struct{}{}
				seqNums = append(seqNums, seqNum)
			}
		}
		sort.Slice(seqNums, func(i, j int) bool {
			return seqNums[i] < seqNums[j]
		})
		for _, seqNum := range seqNums {
			if uid, ok := v.index.UID(seqNum); ok {
				uids = append(uids, uid)
			}
		}
	case imap.UIDSet:
		highest := v.index.MaxUID()
		for _, uid := range v.index.UIDs() {
			for _, r := range numSet {
				if highest != 0 {
					r = r.Resolve(highest)
				}
				if r.Contains(uid) {
					uids = append(uids, uid)
					break
				}
			}
		}
	default:
		panic(fmt.Errorf("mailbox: unsupported number set %T", numSet))
	}
	return uids
}

// FlagUpdate is the new state of a message's flags after STORE.
type FlagUpdate struct {
	SeqNum uint32
	UID    imap.UID
	Flags  []imap.Flag
}

// Store changes the flags of messages.
//
// Other views of the mailbox are notified of each message whose flags
// actually changed. The returned updates, in sequence number order, are the
// responses for the calling session; the caller drops them for a silent
// store.
func (v *View) Store(ctx context.Context, numSet imap.NumSet, store *imap.StoreFlags) ([]FlagUpdate, error) {
	if err := v.checkUsable(); err != nil {
		return nil, err
	}
	if !v.writable {
		return nil, ErrReadOnly
	}

	uids := v.resolve(numSet)
	if len(uids) == 0 {
		return nil, nil
	}

	st := v.state
	st.mutex.Lock()
	defer st.mutex.Unlock()

	msgs, err := v.registry.store.Messages(ctx, st.name, uids, false)
	if err != nil {
		return nil, wrapStoreErr("store", st.name, err)
	}

	updates := make([]FlagUpdate, 0, len(msgs))
	for _, msg := range msgs {
		cur := msg.Flags
		next := store.Apply(cur.Without(imap.FlagRecent))
		// \Recent is session state and can't be stored
		next = next.Without(imap.FlagRecent)
		if cur.Has(imap.FlagRecent) {
			next = next.With(imap.FlagRecent)
		}

		if !next.Equal(cur) {
			if err := v.registry.store.SetFlags(ctx, st.name, msg.UID, next); err != nil {
				return nil, wrapStoreErr("store", st.name, err)
			}
			v.registry.dispatch(st, Event{Kind: EventFlags, UID: msg.UID, Flags: next}, v)
		}

		seqNum, ok := v.index.MSN(msg.UID)
		if !ok {
			continue
		}
		updates = append(updates, FlagUpdate{
			SeqNum: seqNum,
			UID:    msg.UID,
			Flags:  v.displayFlags(msg.UID, next),
		})
	}
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].SeqNum < updates[j].SeqNum
	})
	return updates, nil
}

// Fetch returns the requested data for messages, in sequence number order.
func (v *View) Fetch(ctx context.Context, numSet imap.NumSet, options *imap.FetchOptions) ([]*imap.FetchMessageData, error) {
	if err := v.checkUsable(); err != nil {
		return nil, err
	}

	uids := v.resolve(numSet)
	if len(uids) == 0 {
		return nil, nil
	}

	setSeen := v.writable && options.SetsSeen()
	st := v.state
	if setSeen {
		st.mutex.Lock()
		defer st.mutex.Unlock()
	} else {
		st.mutex.RLock()
		defer st.mutex.RUnlock()
	}

	msgs, err := v.registry.store.Messages(ctx, st.name, uids, options.NeedsBody())
	if err != nil {
		return nil, wrapStoreErr("fetch", st.name, err)
	}

	l := make([]*imap.FetchMessageData, 0, len(msgs))
	for _, msg := range msgs {
		seqNum, ok := v.index.MSN(msg.UID)
		if !ok {
			continue
		}

		flags := msg.Flags
		flagsChanged := false
		if setSeen && !flags.Has(imap.FlagSeen) {
			flags = flags.With(imap.FlagSeen)
			if err := v.registry.store.SetFlags(ctx, st.name, msg.UID, flags); err != nil {
				return nil, wrapStoreErr("fetch", st.name, err)
			}
			v.registry.dispatch(st, Event{Kind: EventFlags, UID: msg.UID, Flags: flags}, v)
			flagsChanged = true
		}

		data := fetchMessage(msg, options)
		data.SeqNum = seqNum
		if options.Flags || flagsChanged {
			data.Flags = v.displayFlags(msg.UID, flags)
		}
		l = append(l, data)
	}
	return l, nil
}

// Search returns the sequence numbers (or UIDs, if uid is set) of the
// messages matching a key, in ascending order.
func (v *View) Search(ctx context.Context, key imap.SearchKey, uid bool) ([]uint32, []imap.UID, error) {
	if err := v.checkUsable(); err != nil {
		return nil, nil, err
	}

	criterion, err := searchquery.Compile(key, v.index)
	if err != nil {
		return nil, nil, err
	}

	st := v.state
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	matched, err := v.searchStore(ctx, st.name, criterion)
	if err != nil {
		return nil, nil, err
	}

	var (
		seqNums []uint32
		uids    []imap.UID
	)
	for _, u := range matched {
		seqNum, ok := v.index.MSN(u)
		if !ok {
			// appended by another session, not reported yet
			continue
		}
		seqNums = append(seqNums, seqNum)
		uids = append(uids, u)
	}
	if uid {
		sort.Slice(uids, func(i, j int) bool {
			return uids[i] < uids[j]
		})
		return nil, uids, nil
	}
	sort.Slice(seqNums, func(i, j int) bool {
		return seqNums[i] < seqNums[j]
	})
	return seqNums, nil, nil
}

func (v *View) searchStore(ctx context.Context, name string, criterion searchquery.Criterion) ([]imap.UID, error) {
	if searcher, ok := v.registry.store.(Searcher); ok && !usesRecent(criterion) {
		uids, err := searcher.Search(ctx, name, criterion)
		if err == nil {
			return uids, nil
		} else if !errors.Is(err, ErrSearchUnsupported) {
			return nil, wrapStoreErr("search", name, err)
		}
	}

	req := searchquery.Needs(criterion)
	msgs, err := v.registry.store.Messages(ctx, name, v.index.UIDs(), req.Header || req.Body)
	if err != nil {
		return nil, wrapStoreErr("search", name, err)
	}

	var uids []imap.UID
	for _, msg := range msgs {
		m := *msg
		m.Flags = m.Flags.Without(imap.FlagRecent)
		if _, ok := v.recent[m.UID]; ok {
			m.Flags = m.Flags.With(imap.FlagRecent)
		}
		if searchquery.Match(criterion, &m) {
			uids = append(uids, m.UID)
		}
	}
	return uids, nil
}

// usesRecent reports whether a criterion inspects \Recent, which is only
// known to the view.
func usesRecent(c searchquery.Criterion) bool {
	switch c := c.(type) {
	case searchquery.FlagSet:
		return c.Flag == imap.FlagRecent
	case searchquery.And:
		for _, child := range c.Children {
			if usesRecent(child) {
				return true
			}
		}
	case searchquery.Or:
		return usesRecent(c.Left) || usesRecent(c.Right)
	case searchquery.Not:
		return usesRecent(c.Child)
	}
	return false
}

// ExpungeResult describes a message removed by Expunge.
type ExpungeResult struct {
	UID imap.UID
	// SeqNum is the sequence number at the time of removal, ie. the
	// sequence number to report in the EXPUNGE response.
	SeqNum uint32
}

// Expunge permanently removes the messages flagged \Deleted. If uids is
// non-nil, only messages in the set are removed.
//
// The results are in the order the EXPUNGE responses must be written.
func (v *View) Expunge(ctx context.Context, uids *imap.UIDSet) ([]ExpungeResult, error) {
	if err := v.checkUsable(); err != nil {
		return nil, err
	}
	if !v.writable {
		return nil, ErrReadOnly
	}

	st := v.state
	st.mutex.Lock()
	defer st.mutex.Unlock()

	return v.expungeLocked(ctx, st, uids)
}

func (v *View) expungeLocked(ctx context.Context, st *mailboxState, uidSet *imap.UIDSet) ([]ExpungeResult, error) {
	candidates := v.index.UIDs()
	if uidSet != nil {
		candidates = v.resolve(*uidSet)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	msgs, err := v.registry.store.Messages(ctx, st.name, candidates, false)
	if err != nil {
		return nil, wrapStoreErr("expunge", st.name, err)
	}
	var expunged []imap.UID
	for _, msg := range msgs {
		if msg.Flags.Has(imap.FlagDeleted) {
			expunged = append(expunged, msg.UID)
		}
	}
	if len(expunged) == 0 {
		return nil, nil
	}
	sort.Slice(expunged, func(i, j int) bool {
		return expunged[i] < expunged[j]
	})

	if err := v.registry.store.DeleteMessages(ctx, st.name, expunged); err != nil {
		return nil, wrapStoreErr("expunge", st.name, err)
	}

	results := make([]ExpungeResult, 0, len(expunged))
	for _, uid := range expunged {
		seqNum, err := v.index.Expunge(uid)
		if err != nil {
			return results, err
		}
		delete(v.recent, uid)
		results = append(results, ExpungeResult{UID: uid, SeqNum: seqNum})
		v.registry.dispatch(st, Event{Kind: EventExpunge, UID: uid}, v)
	}
	if debugChecks {
		v.index.MustCheck()
	}
	return results, nil
}

// CopyData is the result of a copy, suitable for a COPYUID response code.
type CopyData struct {
	DestUIDValidity uint32
	SourceUIDs      imap.UIDSet
	DestUIDs        imap.UIDSet
}

// Copy copies messages to another mailbox of the same registry.
func (v *View) Copy(ctx context.Context, numSet imap.NumSet, dest string) (*CopyData, error) {
	if err := v.checkUsable(); err != nil {
		return nil, err
	}

	uids := v.resolve(numSet)

	msgs, err := func() ([]*Message, error) {
		st := v.state
		st.mutex.RLock()
		defer st.mutex.RUnlock()
		msgs, err := v.registry.store.Messages(ctx, st.name, uids, true)
		return msgs, wrapStoreErr("copy", st.name, err)
	}()
	if err != nil {
		return nil, err
	}

	if ok, err := v.registry.Exists(ctx, dest); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrMailboxNotFound
	}

	var data CopyData
	for _, msg := range msgs {
		uidValidity, destUID, err := v.registry.Append(ctx, dest, msg.Flags.Without(imap.FlagRecent), msg.InternalDate, msg.Literal)
		if err != nil {
			return nil, err
		}
		data.DestUIDValidity = uidValidity
		data.SourceUIDs.AddNum(msg.UID)
		data.DestUIDs.AddNum(destUID)
	}
	return &data, nil
}

// Close closes the view. If expunge is set and the view is writable, the
// messages flagged \Deleted are silently removed first.
//
// Closing a view twice is a no-op.
func (v *View) Close(ctx context.Context, expunge bool) error {
	v.mutex.Lock()
	closed := v.closed
	v.mutex.Unlock()
	if closed {
		return nil
	}

	st := v.state
	registered, err := func() (bool, error) {
		st.mutex.Lock()
		defer st.mutex.Unlock()

		_, registered := st.views[v]
		var err error
		if registered && expunge && v.writable {
			_, err = v.expungeLocked(ctx, st, nil)
		}
		delete(st.views, v)
		return registered, err
	}()

	v.mutex.Lock()
	v.closed = true
	v.queue = nil
	v.mutex.Unlock()

	// detached views gave their reference back when the mailbox was deleted
	if registered {
		v.registry.release(st)
	}
	return err
}
