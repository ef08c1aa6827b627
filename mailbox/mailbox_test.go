package mailbox_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/backend/memstore"
	"github.com/emersion/go-imapsession/mailbox"
)

type update struct {
	kind   string
	n      uint32
	seqNum uint32
	uid    imap.UID
	flags  []imap.Flag
}

type recorder struct {
	mutex   sync.Mutex
	updates []update
}

func (rec *recorder) WriteNumMessages(n uint32) error {
	rec.append(update{kind: "EXISTS", n: n})
	return nil
}

func (rec *recorder) WriteNumRecent(n uint32) error {
	rec.append(update{kind: "RECENT", n: n})
	return nil
}

func (rec *recorder) WriteExpunge(seqNum uint32) error {
	rec.append(update{kind: "EXPUNGE", seqNum: seqNum})
	return nil
}

func (rec *recorder) WriteMessageFlags(seqNum uint32, uid imap.UID, flags []imap.Flag) error {
	rec.append(update{kind: "FETCH", seqNum: seqNum, uid: uid, flags: flags})
	return nil
}

func (rec *recorder) append(u update) {
	rec.mutex.Lock()
	rec.updates = append(rec.updates, u)
	rec.mutex.Unlock()
}

func (rec *recorder) take() []update {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	l := rec.updates
	rec.updates = nil
	return l
}

var testDate = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

func testMessage(i int) []byte {
	return []byte(fmt.Sprintf("From: Alice <alice@example.org>\r\n"+
		"To: Bob <bob@example.org>\r\n"+
		"Subject: Message %v\r\n"+
		"Date: Fri, 17 May 2024 09:30:00 +0000\r\n"+
		"Message-Id: <%v@example.org>\r\n"+
		"\r\n"+
		"Hello number %v\r\n", i, i, i))
}

func newTestRegistry(t *testing.T, n int) *mailbox.Registry {
	t.Helper()
	r := mailbox.NewRegistry(memstore.New(), nil)
	for i := 1; i <= n; i++ {
		_, _, err := r.Append(context.Background(), imap.InboxName, imap.Flags{}, testDate, testMessage(i))
		require.NoError(t, err)
	}
	return r
}

func open(t *testing.T, r *mailbox.Registry, name string, mode mailbox.Mode) (*mailbox.View, *imap.SelectData) {
	t.Helper()
	v, data, err := r.Open(context.Background(), name, mode)
	require.NoError(t, err)
	t.Cleanup(func() {
		v.Close(context.Background(), false)
	})
	return v, data
}

func TestOpen(t *testing.T) {
	r := newTestRegistry(t, 3)

	a, data := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	assert.Equal(t, uint32(3), data.NumMessages)
	assert.Equal(t, uint32(3), data.NumRecent)
	assert.Equal(t, uint32(1), data.FirstUnseen)
	assert.Equal(t, imap.UID(4), data.Mailbox.UIDNext)
	assert.False(t, data.Mailbox.ReadOnly)
	assert.Contains(t, data.Mailbox.PermanentFlags, imap.FlagWildcard)
	assert.True(t, a.Writable())

	// \Recent has been claimed by the first session
	_, data = open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	assert.Equal(t, uint32(0), data.NumRecent)

	ro, data := open(t, r, imap.InboxName, mailbox.ModeReadOnly)
	assert.True(t, data.Mailbox.ReadOnly)
	assert.Empty(t, data.Mailbox.PermanentFlags)
	assert.False(t, ro.Writable())

	_, _, err := r.Open(context.Background(), "Missing", mailbox.ModeReadWrite)
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
}

func TestOpen_readOnlyKeepsRecent(t *testing.T) {
	r := newTestRegistry(t, 2)

	_, data := open(t, r, imap.InboxName, mailbox.ModeReadOnly)
	assert.Equal(t, uint32(2), data.NumRecent)

	_, data = open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	assert.Equal(t, uint32(2), data.NumRecent)
}

func TestView_Store_silentFanOut(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 3)

	a, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	b, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)

	updates, err := a.Store(ctx, imap.SeqSetNum(2), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, uint32(2), updates[0].SeqNum)
	assert.Equal(t, []imap.Flag{imap.FlagSeen, imap.FlagRecent}, updates[0].Flags)

	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, 1, b.Pending())

	var recA, recB recorder
	require.NoError(t, a.Poll(&recA, true))
	require.NoError(t, b.Poll(&recB, true))
	assert.Empty(t, recA.take())
	assert.Equal(t, []update{
		{kind: "FETCH", seqNum: 2, uid: 2, flags: []imap.Flag{imap.FlagSeen}},
	}, recB.take())

	// storing the same flags again doesn't notify anyone
	_, err = a.Store(ctx, imap.SeqSetNum(2), &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagSeen}})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Pending())
}

func TestView_Store_recentIsSessionState(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 1)
	a, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)

	updates, err := a.Store(ctx, imap.SeqSetNum(1), &imap.StoreFlags{Op: imap.StoreFlagsSet, Flags: []imap.Flag{"$Important"}})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, []imap.Flag{imap.FlagRecent, "$Important"}, updates[0].Flags)

	updates, err = a.Store(ctx, imap.SeqSetNum(1), &imap.StoreFlags{Op: imap.StoreFlagsDel, Flags: []imap.Flag{imap.FlagRecent}})
	require.NoError(t, err)
	assert.Equal(t, []imap.Flag{imap.FlagRecent, "$Important"}, updates[0].Flags)
}

func TestView_Store_readOnly(t *testing.T) {
	r := newTestRegistry(t, 1)
	v, _ := open(t, r, imap.InboxName, mailbox.ModeReadOnly)

	_, err := v.Store(context.Background(), imap.SeqSetNum(1), &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagSeen}})
	assert.ErrorIs(t, err, mailbox.ErrReadOnly)
}

func TestView_Close_expunge(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 3)

	a, _, err := r.Open(ctx, imap.InboxName, mailbox.ModeReadWrite)
	require.NoError(t, err)
	b, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)

	_, err = a.Store(ctx, imap.SeqSetNum(1, 3), &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx, true))
	require.NoError(t, a.Close(ctx, true))

	var rec recorder
	require.NoError(t, b.Poll(&rec, false))
	for _, u := range rec.take() {
		assert.Equal(t, "FETCH", u.kind)
	}
	assert.Equal(t, 2, b.Pending())

	require.NoError(t, b.Poll(&rec, true))
	assert.Equal(t, []update{
		{kind: "EXPUNGE", seqNum: 1},
		{kind: "EXPUNGE", seqNum: 2},
	}, rec.take())
	assert.Equal(t, []imap.UID{2}, b.Index().UIDs())

	c, data := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	assert.Equal(t, uint32(1), data.NumMessages)
	assert.Equal(t, []imap.UID{2}, c.Index().UIDs())
}

func TestView_Close_readOnlyDoesNotExpunge(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 2)

	a, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	_, err := a.Store(ctx, imap.SeqSetNum(1), &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}})
	require.NoError(t, err)

	ro, _, err := r.Open(ctx, imap.InboxName, mailbox.ModeReadOnly)
	require.NoError(t, err)
	require.NoError(t, ro.Close(ctx, true))

	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, uint32(2), a.NumMessages())
}

func TestView_Expunge(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 5)

	a, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	b, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)

	_, err := a.Store(ctx, imap.SeqSetNum(2, 3, 5), &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagDeleted}})
	require.NoError(t, err)

	// UID EXPUNGE only removes the messages in the set
	uidSet := imap.UIDSetNum(5)
	results, err := a.Expunge(ctx, &uidSet)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.ExpungeResult{{UID: 5, SeqNum: 5}}, results)

	results, err = a.Expunge(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []mailbox.ExpungeResult{
		{UID: 2, SeqNum: 2},
		{UID: 3, SeqNum: 2},
	}, results)
	assert.Equal(t, []imap.UID{1, 4}, a.Index().UIDs())

	var rec recorder
	require.NoError(t, b.Poll(&rec, true))
	var expunges []uint32
	for _, u := range rec.take() {
		if u.kind == "EXPUNGE" {
			expunges = append(expunges, u.seqNum)
		}
	}
	assert.Equal(t, []uint32{5, 2, 2}, expunges)
	assert.Equal(t, []imap.UID{1, 4}, b.Index().UIDs())
}

func TestRegistry_Append(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 1)

	a, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	ro, _ := open(t, r, imap.InboxName, mailbox.ModeReadOnly)

	uidValidity, uid, err := r.Append(ctx, imap.InboxName, imap.NewFlags(imap.FlagSeen), time.Time{}, testMessage(2))
	require.NoError(t, err)
	assert.Equal(t, a.Descriptor().UIDValidity, uidValidity)
	assert.Equal(t, imap.UID(2), uid)

	var recA, recRO recorder
	require.NoError(t, a.Poll(&recA, true))
	require.NoError(t, ro.Poll(&recRO, true))
	assert.Equal(t, []update{{kind: "EXISTS", n: 2}, {kind: "RECENT", n: 2}}, recA.take())
	assert.Equal(t, []update{{kind: "EXISTS", n: 2}}, recRO.take())

	seqNums, _, err := a.Search(ctx, imap.SearchKey{Kind: imap.SearchKeyFlag, Flag: imap.FlagRecent}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, seqNums)

	seqNums, _, err = ro.Search(ctx, imap.SearchKey{Kind: imap.SearchKeyFlag, Flag: imap.FlagRecent}, false)
	require.NoError(t, err)
	assert.Empty(t, seqNums)

	_, _, err = r.Append(ctx, "Missing", imap.Flags{}, time.Time{}, testMessage(3))
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
}

func TestView_Search(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 4)
	v, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)

	_, err := v.Store(ctx, imap.SeqSetNum(1, 2), &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagSeen}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		key     imap.SearchKey
		seqNums []uint32
	}{
		{"all", imap.SearchAll(), []uint32{1, 2, 3, 4}},
		{"seen", imap.SearchFlag(imap.FlagSeen), []uint32{1, 2}},
		{"unseen", imap.SearchNotFlag(imap.FlagSeen), []uint32{3, 4}},
		{"new", imap.SearchNew(), []uint32{3, 4}},
		{"subject", imap.SearchHeader("Subject", "message 3"), []uint32{3}},
		{"body", imap.SearchBody("number 4"), []uint32{4}},
		{"seqset", imap.SearchSeqSet(imap.SeqSetRange(3, 0)), []uint32{3, 4}},
		{"or", imap.SearchOr(imap.SearchSeqSet(imap.SeqSetNum(1)), imap.SearchBody("number 2")), []uint32{1, 2}},
		{"not", imap.SearchNot(imap.SearchSeqSet(imap.SeqSetNum(1))), []uint32{2, 3, 4}},
		{"on", imap.SearchOn(testDate), []uint32{1, 2, 3, 4}},
		{"since", imap.SearchSince(testDate), nil},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			seqNums, _, err := v.Search(ctx, tc.key, false)
			require.NoError(t, err)
			assert.Equal(t, tc.seqNums, seqNums)
		})
	}

	_, uids, err := v.Search(ctx, imap.SearchUIDSet(imap.UIDSetRange(2, 0)), true)
	require.NoError(t, err)
	assert.Equal(t, []imap.UID{2, 3, 4}, uids)
}

func TestView_Search_unreportedAppend(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 1)
	v, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)

	_, _, err := r.Append(ctx, imap.InboxName, imap.Flags{}, testDate, testMessage(2))
	require.NoError(t, err)

	// the new message hasn't been announced to the session yet
	seqNums, _, err := v.Search(ctx, imap.SearchAll(), false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, seqNums)

	var rec recorder
	require.NoError(t, v.Poll(&rec, true))
	seqNums, _, err = v.Search(ctx, imap.SearchAll(), false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, seqNums)
}

func TestView_Fetch(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 2)

	a, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	b, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)

	l, err := a.Fetch(ctx, imap.SeqSetNum(2), &imap.FetchOptions{
		UID:        true,
		RFC822Size: true,
		Envelope:   true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierHeader, HeaderFields: []string{"Subject"}, Peek: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, l, 1)
	data := l[0]
	assert.Equal(t, uint32(2), data.SeqNum)
	assert.Equal(t, imap.UID(2), data.UID)
	assert.Nil(t, data.Flags)
	assert.Equal(t, int64(len(testMessage(2))), *data.RFC822Size)
	require.NotNil(t, data.Envelope)
	assert.Equal(t, "Message 2", data.Envelope.Subject)
	assert.Equal(t, []imap.Address{{Name: "Alice", Mailbox: "alice", Host: "example.org"}}, data.Envelope.From)
	assert.Equal(t, "2@example.org", data.Envelope.MessageID)
	require.Len(t, data.BodySection, 1)
	assert.Equal(t, "Subject: Message 2\r\n\r\n", string(data.BodySection[0].Bytes))
	assert.Equal(t, 0, b.Pending())

	// a non-peek body fetch sets \Seen
	l, err = a.Fetch(ctx, imap.SeqSetNum(1), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{{Specifier: imap.PartSpecifierText}},
	})
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal(t, "Hello number 1\r\n", string(l[0].BodySection[0].Bytes))
	assert.Equal(t, []imap.Flag{imap.FlagSeen, imap.FlagRecent}, l[0].Flags)
	assert.Equal(t, 1, b.Pending())

	partial := &imap.FetchItemBodySection{Partial: &imap.SectionPartial{Offset: 6, Size: 5}, Peek: true}
	l, err = b.Fetch(ctx, imap.SeqSetNum(1), &imap.FetchOptions{BodySection: []*imap.FetchItemBodySection{partial}})
	require.NoError(t, err)
	assert.Equal(t, "Alice", string(l[0].BodySection[0].Bytes))

	l, err = b.Fetch(ctx, imap.SeqSetNum(42), &imap.FetchOptions{Flags: true})
	require.NoError(t, err)
	assert.Empty(t, l)
}

func TestView_Fetch_readOnlyDoesNotSetSeen(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 1)
	ro, _ := open(t, r, imap.InboxName, mailbox.ModeReadOnly)

	l, err := ro.Fetch(ctx, imap.SeqSetNum(1), &imap.FetchOptions{
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{{}},
	})
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal(t, []imap.Flag{imap.FlagRecent}, l[0].Flags)
	assert.Equal(t, testMessage(1), l[0].BodySection[0].Bytes)
}

func TestView_Copy(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 3)
	require.NoError(t, r.Create(ctx, "Archive"))

	v, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	dest, _ := open(t, r, "Archive", mailbox.ModeReadWrite)

	_, err := v.Store(ctx, imap.SeqSetNum(2), &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagFlagged}})
	require.NoError(t, err)

	data, err := v.Copy(ctx, imap.SeqSetRange(2, 3), "Archive")
	require.NoError(t, err)
	assert.Equal(t, dest.Descriptor().UIDValidity, data.DestUIDValidity)
	assert.Equal(t, "2:3", data.SourceUIDs.String())
	assert.Equal(t, "1:2", data.DestUIDs.String())

	var rec recorder
	require.NoError(t, dest.Poll(&rec, true))
	assert.Equal(t, []update{{kind: "EXISTS", n: 2}, {kind: "RECENT", n: 2}}, rec.take())

	l, err := dest.Fetch(ctx, imap.SeqSetNum(1), &imap.FetchOptions{Flags: true})
	require.NoError(t, err)
	assert.Equal(t, []imap.Flag{imap.FlagFlagged, imap.FlagRecent}, l[0].Flags)

	_, err = v.Copy(ctx, imap.SeqSetNum(1), "Missing")
	assert.ErrorIs(t, err, mailbox.ErrMailboxNotFound)
}

func TestRegistry_Delete_whileSelected(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 0)
	require.NoError(t, r.Create(ctx, "Work"))

	v, _, err := r.Open(ctx, "Work", mailbox.ModeReadWrite)
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, "Work"))

	var rec recorder
	assert.ErrorIs(t, v.Poll(&rec, true), mailbox.ErrMailboxDeleted)
	_, err = v.Fetch(ctx, imap.SeqSetNum(1), &imap.FetchOptions{Flags: true})
	assert.ErrorIs(t, err, mailbox.ErrMailboxDeleted)
	require.NoError(t, v.Close(ctx, true))

	ok, err := r.Exists(ctx, "Work")
	require.NoError(t, err)
	assert.False(t, ok)

	// the name can be reused
	require.NoError(t, r.Create(ctx, "Work"))
	_, data := open(t, r, "Work", mailbox.ModeReadWrite)
	assert.Equal(t, uint32(0), data.NumMessages)
}

func TestRegistry_inbox(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 0)

	assert.ErrorIs(t, r.Delete(ctx, "inbox"), mailbox.ErrInbox)
	assert.ErrorIs(t, r.Rename(ctx, "INBOX", "Old"), mailbox.ErrInbox)
	assert.ErrorIs(t, r.Create(ctx, "Inbox"), mailbox.ErrMailboxExists)
}

func TestRegistry_Rename(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 0)
	require.NoError(t, r.Create(ctx, "Work/Reports/"))

	_, _, err := r.Append(ctx, "Work/Reports", imap.Flags{}, testDate, testMessage(1))
	require.NoError(t, err)
	v, _ := open(t, r, "Work/Reports", mailbox.ModeReadWrite)

	require.NoError(t, r.Rename(ctx, "Work", "Archive"))
	assert.Equal(t, "Archive/Reports", v.Name())

	_, _, err = r.Append(ctx, "Archive/Reports", imap.Flags{}, testDate, testMessage(2))
	require.NoError(t, err)
	var rec recorder
	require.NoError(t, v.Poll(&rec, true))
	assert.Equal(t, []update{{kind: "EXISTS", n: 2}, {kind: "RECENT", n: 2}}, rec.take())

	ok, err := r.Exists(ctx, "Work")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_List(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 0)
	require.NoError(t, r.Create(ctx, "Work/Reports"))
	require.NoError(t, r.Create(ctx, "Travel"))
	require.NoError(t, r.Subscribe(ctx, "Travel", true))

	l, err := r.List(ctx, "", "*", false)
	require.NoError(t, err)
	assert.Equal(t, []imap.ListData{
		{Attrs: []imap.MailboxAttr{imap.MailboxAttrHasNoChildren}, Delim: '/', Mailbox: "INBOX"},
		{Attrs: []imap.MailboxAttr{imap.MailboxAttrHasNoChildren, imap.MailboxAttrSubscribed}, Delim: '/', Mailbox: "Travel"},
		{Attrs: []imap.MailboxAttr{imap.MailboxAttrHasChildren}, Delim: '/', Mailbox: "Work"},
		{Attrs: []imap.MailboxAttr{imap.MailboxAttrHasNoChildren}, Delim: '/', Mailbox: "Work/Reports"},
	}, l)

	l, err = r.List(ctx, "", "%", false)
	require.NoError(t, err)
	assert.Len(t, l, 3)

	l, err = r.List(ctx, "Work", "%", false)
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal(t, "Work/Reports", l[0].Mailbox)

	l, err = r.List(ctx, "", "*", true)
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal(t, "Travel", l[0].Mailbox)

	l, err = r.List(ctx, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, []imap.ListData{{Attrs: []imap.MailboxAttr{imap.MailboxAttrNoSelect}, Delim: '/'}}, l)
}

func TestRegistry_Status(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 3)

	v, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
	_, err := v.Store(ctx, imap.SeqSetNum(1), &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagSeen, imap.FlagDeleted}})
	require.NoError(t, err)
	_, _, err = r.Append(ctx, imap.InboxName, imap.Flags{}, testDate, testMessage(4))
	require.NoError(t, err)

	data, err := r.Status(ctx, imap.InboxName, &imap.StatusOptions{
		NumMessages: true,
		NumRecent:   true,
		NumUnseen:   true,
		NumDeleted:  true,
		UIDNext:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(4), *data.NumMessages)
	// the selected session owns every \Recent flag
	assert.Equal(t, uint32(0), *data.NumRecent)
	assert.Equal(t, uint32(3), *data.NumUnseen)
	assert.Equal(t, uint32(1), *data.NumDeleted)
	assert.Equal(t, imap.UID(5), data.UIDNext)
	assert.Nil(t, data.Size)
}

func TestView_Idle(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 0)
	v, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)

	var rec recorder
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- v.Idle(&rec, stop)
	}()

	_, _, err := r.Append(ctx, imap.InboxName, imap.Flags{}, testDate, testMessage(1))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rec.mutex.Lock()
		defer rec.mutex.Unlock()
		return len(rec.updates) > 0
	}, time.Second, 10*time.Millisecond)

	close(stop)
	require.NoError(t, <-done)
	assert.Equal(t, update{kind: "EXISTS", n: 1}, rec.take()[0])
}

func TestRegistry_concurrentSessions(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 0)

	const numSessions, numAppends = 4, 25
	var views []*mailbox.View
	for i := 0; i < numSessions; i++ {
		v, _ := open(t, r, imap.InboxName, mailbox.ModeReadWrite)
		views = append(views, v)
	}

	var wg sync.WaitGroup
	for i := 0; i < numSessions; i++ {
		wg.Add(1)
		go func(v *mailbox.View, i int) {
			defer wg.Done()
			var rec recorder
			for j := 0; j < numAppends; j++ {
				_, _, err := r.Append(ctx, imap.InboxName, imap.Flags{}, testDate, testMessage(i*numAppends+j))
				assert.NoError(t, err)
				assert.NoError(t, v.Poll(&rec, true))
			}
		}(views[i], i)
	}
	wg.Wait()

	var rec recorder
	for _, v := range views {
		require.NoError(t, v.Poll(&rec, true))
		assert.Equal(t, uint32(numSessions*numAppends), v.NumMessages())
		require.NoError(t, v.Index().Check())
	}
}
