package imapserver

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/backend/memstore"
	"github.com/emersion/go-imapsession/commands"
	"github.com/emersion/go-imapsession/internal/imapwire"
	"github.com/emersion/go-imapsession/mailbox"
)

type testAuthenticator struct {
	passwords map[string]string
}

func (auth *testAuthenticator) Mechanisms() []string {
	return []string{sasl.Plain}
}

func (auth *testAuthenticator) Authenticate(ctx context.Context, mech string, cred *Credentials) (string, error) {
	if mech != sasl.Plain {
		return "", ErrAuthFailed
	}
	if cred.Identity != "" && cred.Identity != cred.Username {
		return "", ErrAuthFailed
	}
	if password, ok := auth.passwords[cred.Username]; !ok || password != cred.Password {
		return "", ErrAuthFailed
	}
	return cred.Username, nil
}

// recorder is a Composer keeping the responses in memory. Lines pushed to
// lines are returned by ReadLine.
type recorder struct {
	mutex    sync.Mutex
	untagged []imap.Response
	tagged   []*imap.StatusResponse
	conts    []string

	lines chan string
}

func newRecorder() *recorder {
	return &recorder{lines: make(chan string, 16)}
}

func (rec *recorder) WriteTagged(tag string, resp *imap.StatusResponse) error {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	rec.tagged = append(rec.tagged, resp)
	return nil
}

func (rec *recorder) WriteUntagged(resp imap.Response) error {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	rec.untagged = append(rec.untagged, resp)
	return nil
}

func (rec *recorder) WriteContinuation(text string) error {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	rec.conts = append(rec.conts, text)
	return nil
}

func (rec *recorder) ReadLine() (string, error) {
	line, ok := <-rec.lines
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

func (rec *recorder) take() ([]imap.Response, *imap.StatusResponse) {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	untagged := rec.untagged
	var tagged *imap.StatusResponse
	if len(rec.tagged) > 0 {
		tagged = rec.tagged[len(rec.tagged)-1]
	}
	rec.untagged, rec.tagged, rec.conts = nil, nil, nil
	return untagged, tagged
}

func (rec *recorder) numConts() int {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	return len(rec.conts)
}

func (rec *recorder) numUntagged() int {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	return len(rec.untagged)
}

type testClient struct {
	t       *testing.T
	session *Session
	rec     *recorder
}

// do parses a command line, runs it and returns the responses.
func (tc *testClient) do(line string) ([]imap.Response, *imap.StatusResponse) {
	tc.t.Helper()
	req := tc.parse(line)
	require.NoError(tc.t, tc.session.Handle(context.Background(), tc.rec, req))
	return tc.rec.take()
}

func (tc *testClient) parse(line string) *commands.Request {
	tc.t.Helper()
	dec := imapwire.NewDecoder(bufio.NewReader(strings.NewReader(line + "\r\n")))
	req, err := readRequest(dec)
	require.NoError(tc.t, err, "parsing %q", line)
	return req
}

func (tc *testClient) expectOK(line string) []imap.Response {
	tc.t.Helper()
	untagged, tagged := tc.do(line)
	require.NotNil(tc.t, tagged)
	require.Equal(tc.t, imap.StatusResponseTypeOK, tagged.Type, "%v: %v", line, tagged.Text)
	return untagged
}

type testEnv struct {
	t   *testing.T
	dir *mailbox.Directory
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithStore(t, func() mailbox.Store { return memstore.New() })
}

func newTestEnvWithStore(t *testing.T, newStore func() mailbox.Store) *testEnv {
	dir := mailbox.NewDirectory(func(ctx context.Context, username string) (mailbox.Store, error) {
		return newStore(), nil
	}, nil)
	t.Cleanup(func() { dir.Close() })
	return &testEnv{t: t, dir: dir}
}

func (env *testEnv) newSession(options *SessionOptions) *testClient {
	opts := SessionOptions{
		Directory: env.dir,
		Authenticator: &testAuthenticator{passwords: map[string]string{
			"alice": "secret",
		}},
		InsecureAuth: true,
	}
	if options != nil {
		opts = *options
		opts.Directory = env.dir
	}
	tc := &testClient{t: env.t, session: NewSession(&opts), rec: newRecorder()}
	env.t.Cleanup(func() { tc.session.Close(context.Background()) })
	return tc
}

// login returns an authenticated client.
func (env *testEnv) login() *testClient {
	tc := env.newSession(nil)
	tc.expectOK(`A0 LOGIN alice secret`)
	return tc
}

func (env *testEnv) appendMessages(name string, n int) {
	r, err := env.dir.Registry(context.Background(), "alice")
	require.NoError(env.t, err)
	for i := 1; i <= n; i++ {
		_, _, err := r.Append(context.Background(), name, imap.NewFlags(), time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC), testMessage(i))
		require.NoError(env.t, err)
	}
}

func testMessage(i int) []byte {
	return []byte(fmt.Sprintf("From: Alice <alice@example.org>\r\n"+
		"To: Bob <bob@example.org>\r\n"+
		"Subject: Message %v\r\n"+
		"Message-Id: <%v@example.org>\r\n"+
		"\r\n"+
		"Hello number %v\r\n", i, i, i))
}

func findResponse[T imap.Response](l []imap.Response) []T {
	var out []T
	for _, resp := range l {
		if v, ok := resp.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestSession_stateMachine(t *testing.T) {
	env := newTestEnv(t)
	tc := env.newSession(nil)

	_, tagged := tc.do(`A1 SELECT INBOX`)
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)
	assert.Equal(t, imap.ResponseCodeClientBug, tagged.Code)
	assert.Equal(t, imap.ConnStateNotAuthenticated, tc.session.State())

	_, tagged = tc.do(`A2 FETCH 1 FLAGS`)
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)

	tc.expectOK(`A3 LOGIN alice secret`)
	assert.Equal(t, imap.ConnStateAuthenticated, tc.session.State())
	assert.Equal(t, "alice", tc.session.Username())

	_, tagged = tc.do(`A4 LOGIN alice secret`)
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)

	_, tagged = tc.do(`A5 CLOSE`)
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)

	tc.expectOK(`A6 SELECT INBOX`)
	assert.Equal(t, imap.ConnStateSelected, tc.session.State())
	tc.expectOK(`A7 CLOSE`)
	assert.Equal(t, imap.ConnStateAuthenticated, tc.session.State())

	untagged := tc.expectOK(`A8 LOGOUT`)
	require.Len(t, untagged, 1)
	assert.Equal(t, imap.StatusResponseTypeBye, untagged[0].(*imap.StatusResponse).Type)
	assert.Equal(t, imap.ConnStateLogout, tc.session.State())
}

type bogusCommand struct{}

func (*bogusCommand) Name() string { return "BOGUS" }

func TestSession_unknownCommand(t *testing.T) {
	env := newTestEnv(t)
	tc := env.newSession(nil)

	req := &commands.Request{Tag: "A1", Command: &bogusCommand{}}
	require.NoError(t, tc.session.Handle(context.Background(), tc.rec, req))
	_, tagged := tc.rec.take()
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)
	assert.Equal(t, "Unknown command", tagged.Text)

	_, tagged = tc.do(`A2 UID NOOP`)
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)
	assert.Equal(t, imap.ResponseCodeClientBug, tagged.Code)
}

func TestSession_login(t *testing.T) {
	env := newTestEnv(t)
	tc := env.newSession(nil)

	_, tagged := tc.do(`A1 LOGIN alice wrong`)
	assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
	assert.Equal(t, imap.ResponseCodeAuthenticationFailed, tagged.Code)
	assert.Equal(t, imap.ConnStateNotAuthenticated, tc.session.State())

	tc.expectOK(`A2 LOGIN "alice" "secret"`)
}

func TestSession_loginDisabled(t *testing.T) {
	env := newTestEnv(t)
	tc := env.newSession(&SessionOptions{
		Authenticator: &testAuthenticator{passwords: map[string]string{"alice": "secret"}},
	})

	untagged := tc.expectOK(`A1 CAPABILITY`)
	require.Len(t, untagged, 1)
	caps := untagged[0].(*imap.CapabilityResponse).Caps
	assert.Contains(t, caps, imap.CapLoginDisabled)
	assert.NotContains(t, caps, imap.AuthCap(sasl.Plain))

	_, tagged := tc.do(`A2 LOGIN alice secret`)
	assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
	assert.Equal(t, imap.ResponseCodePrivacyRequired, tagged.Code)
}

func TestSession_capability(t *testing.T) {
	env := newTestEnv(t)
	tc := env.newSession(nil)

	untagged := tc.expectOK(`A1 CAPABILITY`)
	caps := untagged[0].(*imap.CapabilityResponse).Caps
	assert.Contains(t, caps, imap.CapIMAP4rev1)
	assert.Contains(t, caps, imap.AuthCap(sasl.Plain))
	assert.NotContains(t, caps, imap.CapIdle)

	tc.expectOK(`A2 LOGIN alice secret`)
	untagged = tc.expectOK(`A3 CAPABILITY`)
	caps = untagged[0].(*imap.CapabilityResponse).Caps
	assert.Contains(t, caps, imap.CapIdle)
	assert.Contains(t, caps, imap.CapUIDPlus)
	assert.NotContains(t, caps, imap.AuthCap(sasl.Plain))
}

func plainResponse(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte("\x00" + username + "\x00" + password))
}

func TestSession_authenticate(t *testing.T) {
	env := newTestEnv(t)

	t.Run("initialResponse", func(t *testing.T) {
		tc := env.newSession(nil)
		tc.expectOK(`A1 AUTHENTICATE PLAIN ` + plainResponse("alice", "secret"))
		assert.Equal(t, "alice", tc.session.Username())
	})

	t.Run("continuation", func(t *testing.T) {
		tc := env.newSession(nil)
		tc.rec.lines <- plainResponse("alice", "secret")
		tc.expectOK(`A1 AUTHENTICATE PLAIN`)
		assert.Equal(t, imap.ConnStateAuthenticated, tc.session.State())
	})

	t.Run("badCredentials", func(t *testing.T) {
		tc := env.newSession(nil)
		_, tagged := tc.do(`A1 AUTHENTICATE PLAIN ` + plainResponse("alice", "nope"))
		assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
		assert.Equal(t, imap.ResponseCodeAuthenticationFailed, tagged.Code)
	})

	t.Run("cancelled", func(t *testing.T) {
		tc := env.newSession(nil)
		tc.rec.lines <- "*"
		_, tagged := tc.do(`A1 AUTHENTICATE PLAIN`)
		assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)
		assert.Equal(t, imap.ConnStateNotAuthenticated, tc.session.State())
	})

	t.Run("unsupportedMechanism", func(t *testing.T) {
		tc := env.newSession(nil)
		_, tagged := tc.do(`A1 AUTHENTICATE CRAM-MD5`)
		assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
		assert.Equal(t, imap.ResponseCodeCannot, tagged.Code)
	})
}

func TestSession_select(t *testing.T) {
	env := newTestEnv(t)
	env.appendMessages(imap.InboxName, 2)
	tc := env.login()

	untagged, tagged := tc.do(`A1 SELECT inbox`)
	require.Equal(t, imap.StatusResponseTypeOK, tagged.Type)
	assert.Equal(t, imap.ResponseCodeReadWrite, tagged.Code)

	exists := findResponse[*imap.ExistsResponse](untagged)
	require.Len(t, exists, 1)
	assert.Equal(t, uint32(2), exists[0].NumMessages)
	recent := findResponse[*imap.RecentResponse](untagged)
	require.Len(t, recent, 1)
	assert.Equal(t, uint32(2), recent[0].NumRecent)
	require.Len(t, findResponse[*imap.FlagsResponse](untagged), 1)

	codes := make(map[imap.ResponseCode]interface{})
	for _, resp := range findResponse[*imap.StatusResponse](untagged) {
		codes[resp.Code] = resp.CodeArg
	}
	assert.Equal(t, uint32(1), codes[imap.ResponseCodeUnseen])
	assert.Equal(t, imap.UID(3), codes[imap.ResponseCodeUIDNext])
	assert.Contains(t, codes, imap.ResponseCodeUIDValidity)
	assert.Contains(t, codes, imap.ResponseCodePermanentFlags)

	// Selecting again closes the previous mailbox
	untagged, tagged = tc.do(`A2 EXAMINE INBOX`)
	require.Equal(t, imap.StatusResponseTypeOK, tagged.Type)
	assert.Equal(t, imap.ResponseCodeReadOnly, tagged.Code)
	require.NotEmpty(t, untagged)
	assert.Equal(t, imap.ResponseCodeClosed, untagged[0].(*imap.StatusResponse).Code)

	_, tagged = tc.do(`A3 STORE 1 +FLAGS (\Seen)`)
	assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
	assert.Equal(t, imap.ResponseCodeReadOnly, tagged.Code)

	_, tagged = tc.do(`A4 SELECT Missing`)
	assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
	assert.Equal(t, imap.ResponseCodeNonExistent, tagged.Code)
	assert.Equal(t, imap.ConnStateAuthenticated, tc.session.State())
}

func TestSession_storeFanOut(t *testing.T) {
	env := newTestEnv(t)
	env.appendMessages(imap.InboxName, 2)
	tc1, tc2 := env.login(), env.login()
	tc1.expectOK(`A1 SELECT INBOX`)
	tc2.expectOK(`B1 SELECT INBOX`)

	untagged := tc1.expectOK(`A2 STORE 1 +FLAGS.SILENT (\Seen)`)
	assert.Empty(t, untagged)

	untagged = tc2.expectOK(`B2 NOOP`)
	fetches := findResponse[*imap.FetchResponse](untagged)
	require.Len(t, fetches, 1)
	assert.Equal(t, uint32(1), fetches[0].Message.SeqNum)
	assert.Contains(t, fetches[0].Message.Flags, imap.FlagSeen)

	untagged = tc1.expectOK(`A3 UID STORE 2 FLAGS (\Flagged)`)
	fetches = findResponse[*imap.FetchResponse](untagged)
	require.Len(t, fetches, 1)
	assert.Equal(t, uint32(2), fetches[0].Message.SeqNum)
	assert.Equal(t, imap.UID(2), fetches[0].Message.UID)
	assert.Contains(t, fetches[0].Message.Flags, imap.FlagFlagged)

	_, tagged := tc1.do(`A4 STORE 1 +FLAGS (\Recent)`)
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)
}

func TestSession_expunge(t *testing.T) {
	env := newTestEnv(t)
	env.appendMessages(imap.InboxName, 3)
	tc1, tc2 := env.login(), env.login()
	tc1.expectOK(`A1 SELECT INBOX`)
	tc2.expectOK(`B1 SELECT INBOX`)

	tc1.expectOK(`A2 STORE 1 +FLAGS.SILENT (\Deleted)`)
	untagged := tc1.expectOK(`A3 EXPUNGE`)
	expunges := findResponse[*imap.ExpungeResponse](untagged)
	require.Len(t, expunges, 1)
	assert.Equal(t, uint32(1), expunges[0].SeqNum)
	assert.Equal(t, uint32(2), tc1.session.Selected().NumMessages())

	// EXPUNGE responses are withheld during FETCH
	untagged = tc2.expectOK(`B2 FETCH 2 (FLAGS)`)
	assert.Empty(t, findResponse[*imap.ExpungeResponse](untagged))
	assert.Equal(t, uint32(3), tc2.session.Selected().NumMessages())

	untagged = tc2.expectOK(`B3 NOOP`)
	expunges = findResponse[*imap.ExpungeResponse](untagged)
	require.Len(t, expunges, 1)
	assert.Equal(t, uint32(1), expunges[0].SeqNum)
	assert.Equal(t, uint32(2), tc2.session.Selected().NumMessages())

	req := &commands.Request{Tag: "A4", Command: &commands.Expunge{}, UID: true}
	require.NoError(t, tc1.session.Handle(context.Background(), tc1.rec, req))
	_, tagged := tc1.rec.take()
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)

	tc1.expectOK(`A5 STORE 1:2 +FLAGS.SILENT (\Deleted)`)
	untagged = tc1.expectOK(`A6 UID EXPUNGE 3`)
	expunges = findResponse[*imap.ExpungeResponse](untagged)
	require.Len(t, expunges, 1)
	assert.Equal(t, uint32(2), expunges[0].SeqNum)
}

func TestSession_uidStarAfterExpunge(t *testing.T) {
	env := newTestEnv(t)
	env.appendMessages(imap.InboxName, 3)
	tc := env.login()
	tc.expectOK(`A1 SELECT INBOX`)

	tc.expectOK(`A2 STORE 3 +FLAGS.SILENT (\Deleted)`)
	tc.expectOK(`A3 EXPUNGE`)

	// "*" is the last message still present, UID 2
	untagged := tc.expectOK(`A4 UID FETCH 5:* (FLAGS)`)
	fetches := findResponse[*imap.FetchResponse](untagged)
	require.Len(t, fetches, 1)
	assert.Equal(t, imap.UID(2), fetches[0].Message.UID)

	untagged = tc.expectOK(`A5 UID SEARCH UID 5:*`)
	searches := findResponse[*imap.SearchResponse](untagged)
	require.Len(t, searches, 1)
	assert.Equal(t, []imap.UID{2}, searches[0].UIDs)

	untagged = tc.expectOK(`A6 UID STORE 2:* +FLAGS (\Flagged)`)
	fetches = findResponse[*imap.FetchResponse](untagged)
	require.Len(t, fetches, 1)
	assert.Contains(t, fetches[0].Message.Flags, imap.FlagFlagged)
}

func TestSession_closeExpunge(t *testing.T) {
	env := newTestEnv(t)
	env.appendMessages(imap.InboxName, 2)
	tc1, tc2 := env.login(), env.login()
	tc1.expectOK(`A1 SELECT INBOX`)
	tc2.expectOK(`B1 SELECT INBOX`)

	tc1.expectOK(`A2 STORE 2 +FLAGS.SILENT (\Deleted)`)
	untagged := tc1.expectOK(`A3 CLOSE`)
	assert.Empty(t, untagged)
	assert.Nil(t, tc1.session.Selected())

	untagged = tc2.expectOK(`B2 NOOP`)
	expunges := findResponse[*imap.ExpungeResponse](untagged)
	require.Len(t, expunges, 1)
	assert.Equal(t, uint32(2), expunges[0].SeqNum)
}

func TestSession_deleteSelectedElsewhere(t *testing.T) {
	env := newTestEnv(t)
	tc1, tc2 := env.login(), env.login()
	tc1.expectOK(`A1 CREATE Work`)
	tc2.expectOK(`B1 SELECT Work`)

	tc1.expectOK(`A2 DELETE Work`)

	untagged := tc2.expectOK(`B2 NOOP`)
	statuses := findResponse[*imap.StatusResponse](untagged)
	require.Len(t, statuses, 1)
	assert.Equal(t, imap.ResponseCodeClosed, statuses[0].Code)
	assert.Equal(t, imap.ConnStateAuthenticated, tc2.session.State())

	_, tagged := tc2.do(`B3 FETCH 1 FLAGS`)
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)

	_, tagged = tc1.do(`A3 DELETE INBOX`)
	assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
}

// readOnlyStore refuses to delete mailboxes.
type readOnlyStore struct {
	mailbox.Store
}

func (readOnlyStore) DeleteMailbox(ctx context.Context, name string) error {
	return errors.New("disk is read-only")
}

func TestSession_deleteSelectedFails(t *testing.T) {
	env := newTestEnvWithStore(t, func() mailbox.Store {
		return readOnlyStore{memstore.New()}
	})
	tc := env.login()
	tc.expectOK(`A1 CREATE Work`)
	tc.expectOK(`A2 SELECT Work`)

	_, tagged := tc.do(`A3 DELETE Work`)
	assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
	assert.Equal(t, imap.ConnStateSelected, tc.session.State())
	require.NotNil(t, tc.session.Selected())
	assert.Equal(t, "Work", tc.session.Selected().Name())

	tc.expectOK(`A4 NOOP`)
}

func TestSession_deleteSelected(t *testing.T) {
	env := newTestEnv(t)
	tc := env.login()
	tc.expectOK(`A1 CREATE Work`)
	tc.expectOK(`A2 SELECT Work`)

	untagged := tc.expectOK(`A3 DELETE Work`)
	assert.Empty(t, untagged)
	assert.Equal(t, imap.ConnStateAuthenticated, tc.session.State())
	assert.Nil(t, tc.session.Selected())
}

func TestSession_mailboxes(t *testing.T) {
	env := newTestEnv(t)
	tc := env.login()

	tc.expectOK(`A1 CREATE Archive/2024`)
	_, tagged := tc.do(`A2 CREATE Archive`)
	assert.Equal(t, imap.ResponseCodeAlreadyExists, tagged.Code)

	untagged := tc.expectOK(`A3 LIST "" *`)
	var names []string
	for _, resp := range findResponse[*imap.ListResponse](untagged) {
		names = append(names, resp.Data.Mailbox)
	}
	assert.ElementsMatch(t, []string{imap.InboxName, "Archive", "Archive/2024"}, names)

	tc.expectOK(`A4 RENAME Archive/2024 Archive/Old`)
	tc.expectOK(`A5 SUBSCRIBE Archive/Old`)
	untagged = tc.expectOK(`A6 LSUB "" "Archive/%"`)
	lsub := findResponse[*imap.ListResponse](untagged)
	require.Len(t, lsub, 1)
	assert.True(t, lsub[0].LSub)
	assert.Equal(t, "Archive/Old", lsub[0].Data.Mailbox)

	env.appendMessages("Archive/Old", 2)
	untagged = tc.expectOK(`A7 STATUS Archive/Old (MESSAGES UIDNEXT UNSEEN)`)
	statuses := findResponse[*imap.StatusDataResponse](untagged)
	require.Len(t, statuses, 1)
	data := statuses[0].Data
	require.NotNil(t, data.NumMessages)
	assert.Equal(t, uint32(2), *data.NumMessages)
	assert.Equal(t, imap.UID(3), data.UIDNext)
	require.NotNil(t, data.NumUnseen)
	assert.Equal(t, uint32(2), *data.NumUnseen)
	assert.Nil(t, data.NumRecent)
}

func TestSession_append(t *testing.T) {
	env := newTestEnv(t)
	tc1, tc2 := env.login(), env.login()
	tc2.expectOK(`B1 SELECT INBOX`)

	untagged, tagged := tc1.do("A1 APPEND INBOX (\\Seen) \"17-May-2024 09:30:00 +0000\" {7+}\r\nHello!\n")
	require.Equal(t, imap.StatusResponseTypeOK, tagged.Type, tagged.Text)
	assert.Empty(t, untagged)
	assert.Equal(t, imap.ResponseCodeAppendUID, tagged.Code)
	assert.Regexp(t, `^\d+ 1$`, tagged.CodeArg)

	untagged = tc2.expectOK(`B2 NOOP`)
	exists := findResponse[*imap.ExistsResponse](untagged)
	require.Len(t, exists, 1)
	assert.Equal(t, uint32(1), exists[0].NumMessages)

	_, tagged = tc1.do("A2 APPEND Missing {1+}\r\nx")
	assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
	assert.Equal(t, imap.ResponseCodeTryCreate, tagged.Code)

	// The appending session sees its own message if it has the mailbox
	// selected
	untagged = tc2.expectOK("B3 APPEND INBOX {1+}\r\ny")
	exists = findResponse[*imap.ExistsResponse](untagged)
	require.Len(t, exists, 1)
	assert.Equal(t, uint32(2), exists[0].NumMessages)
}

func TestSession_fetch(t *testing.T) {
	env := newTestEnv(t)
	env.appendMessages(imap.InboxName, 2)
	tc := env.login()
	tc.expectOK(`A1 SELECT INBOX`)

	untagged := tc.expectOK(`A2 FETCH 1:* (UID FLAGS RFC822.SIZE ENVELOPE)`)
	fetches := findResponse[*imap.FetchResponse](untagged)
	require.Len(t, fetches, 2)
	msg := fetches[1].Message
	assert.Equal(t, uint32(2), msg.SeqNum)
	assert.Equal(t, imap.UID(2), msg.UID)
	require.NotNil(t, msg.RFC822Size)
	assert.Equal(t, int64(len(testMessage(2))), *msg.RFC822Size)
	require.NotNil(t, msg.Envelope)
	assert.Equal(t, "Message 2", msg.Envelope.Subject)

	untagged = tc.expectOK(`A3 FETCH 1 BODY[TEXT]`)
	fetches = findResponse[*imap.FetchResponse](untagged)
	require.Len(t, fetches, 1)
	require.Len(t, fetches[0].Message.BodySection, 1)
	assert.Equal(t, "Hello number 1\r\n", string(fetches[0].Message.BodySection[0].Bytes))
	assert.Zero(t, fetches[0].Message.UID)
	// BODY[] without PEEK sets \Seen
	assert.Contains(t, fetches[0].Message.Flags, imap.FlagSeen)

	untagged = tc.expectOK(`A4 UID FETCH 2 BODY.PEEK[HEADER.FIELDS (Subject)]`)
	fetches = findResponse[*imap.FetchResponse](untagged)
	require.Len(t, fetches, 1)
	assert.Equal(t, imap.UID(2), fetches[0].Message.UID)
	assert.Nil(t, fetches[0].Message.Flags)
	assert.Equal(t, "Subject: Message 2\r\n\r\n", string(fetches[0].Message.BodySection[0].Bytes))
}

func TestSession_search(t *testing.T) {
	env := newTestEnv(t)
	env.appendMessages(imap.InboxName, 3)
	tc := env.login()
	tc.expectOK(`A1 SELECT INBOX`)
	tc.expectOK(`A2 STORE 2 +FLAGS.SILENT (\Seen)`)

	untagged := tc.expectOK(`A3 SEARCH UNSEEN`)
	searches := findResponse[*imap.SearchResponse](untagged)
	require.Len(t, searches, 1)
	assert.Equal(t, []uint32{1, 3}, searches[0].SeqNums)

	untagged = tc.expectOK(`A4 UID SEARCH OR SUBJECT "Message 1" HEADER Message-Id 3@example.org`)
	searches = findResponse[*imap.SearchResponse](untagged)
	require.Len(t, searches, 1)
	assert.True(t, searches[0].UID)
	assert.Equal(t, []imap.UID{1, 3}, searches[0].UIDs)

	untagged = tc.expectOK(`A5 SEARCH CHARSET UTF-8 2:* NOT SEEN`)
	searches = findResponse[*imap.SearchResponse](untagged)
	assert.Equal(t, []uint32{3}, searches[0].SeqNums)

	_, tagged := tc.do(`A6 SEARCH CHARSET KOI8-R ALL`)
	assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
	assert.Equal(t, imap.ResponseCodeBadCharset, tagged.Code)
}

func TestSession_copy(t *testing.T) {
	env := newTestEnv(t)
	env.appendMessages(imap.InboxName, 2)
	tc := env.login()
	tc.expectOK(`A1 CREATE Archive`)
	tc.expectOK(`A2 SELECT INBOX`)

	_, tagged := tc.do(`A3 COPY 1:2 Missing`)
	assert.Equal(t, imap.StatusResponseTypeNo, tagged.Type)
	assert.Equal(t, imap.ResponseCodeTryCreate, tagged.Code)

	_, tagged = tc.do(`A4 UID COPY 1:2 Archive`)
	require.Equal(t, imap.StatusResponseTypeOK, tagged.Type)
	assert.Equal(t, imap.ResponseCodeCopyUID, tagged.Code)
	assert.Regexp(t, `^\d+ 1:2 1:2$`, tagged.CodeArg)

	untagged := tc.expectOK(`A5 STATUS Archive (MESSAGES)`)
	statuses := findResponse[*imap.StatusDataResponse](untagged)
	require.Len(t, statuses, 1)
	assert.Equal(t, uint32(2), *statuses[0].Data.NumMessages)
}

func TestSession_idle(t *testing.T) {
	env := newTestEnv(t)
	env.appendMessages(imap.InboxName, 1)
	tc1, tc2 := env.login(), env.login()
	tc1.expectOK(`A1 SELECT INBOX`)
	tc2.expectOK(`B1 SELECT INBOX`)

	req := tc2.parse(`B2 IDLE`)
	done := make(chan error, 1)
	go func() {
		done <- tc2.session.Handle(context.Background(), tc2.rec, req)
	}()

	require.Eventually(t, func() bool {
		return tc2.rec.numConts() == 1
	}, time.Second, 5*time.Millisecond)

	tc1.expectOK(`A2 STORE 1 +FLAGS.SILENT (\Flagged)`)
	require.Eventually(t, func() bool {
		return tc2.rec.numUntagged() > 0
	}, time.Second, 5*time.Millisecond)

	tc2.rec.lines <- "DONE"
	require.NoError(t, <-done)

	untagged, tagged := tc2.rec.take()
	require.Equal(t, imap.StatusResponseTypeOK, tagged.Type)
	fetches := findResponse[*imap.FetchResponse](untagged)
	require.Len(t, fetches, 1)
	assert.Contains(t, fetches[0].Message.Flags, imap.FlagFlagged)
}

func TestSession_idleBadTerminator(t *testing.T) {
	env := newTestEnv(t)
	tc := env.login()

	tc.rec.lines <- "NOPE"
	_, tagged := tc.do(`A1 IDLE`)
	assert.Equal(t, imap.StatusResponseTypeBad, tagged.Type)
}
