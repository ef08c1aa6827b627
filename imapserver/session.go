package imapserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/commands"
	"github.com/emersion/go-imapsession/mailbox"
)

// Logger is a facility to log error messages.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Credentials are the secrets presented by a client.
type Credentials struct {
	// Identity is the authorization identity, empty if the client didn't
	// request one.
	Identity string
	Username string
	Password string
	// Token is the bearer token for OAUTHBEARER.
	Token string
}

// Authenticator checks client credentials.
type Authenticator interface {
	// Mechanisms returns the SASL mechanisms accepted by Authenticate.
	Mechanisms() []string
	// Authenticate returns the identity of the user on success, and
	// ErrAuthFailed if the credentials are invalid.
	Authenticate(ctx context.Context, mechanism string, cred *Credentials) (string, error)
}

// SessionOptions contains options for a session.
type SessionOptions struct {
	Directory     *mailbox.Directory
	Authenticator Authenticator
	Logger        Logger
	// InsecureAuth allows authentication over connections without TLS.
	InsecureAuth bool
	// TLS is set if the underlying connection is encrypted.
	TLS bool
	// Metrics records command outcomes, nil disables it.
	Metrics *Metrics
}

// Session is the protocol state of a single client connection.
//
// A Session is not safe for concurrent use: requests must be handled one at a
// time, by the goroutine owning the connection.
type Session struct {
	options SessionOptions

	state    imap.ConnState
	username string
	registry *mailbox.Registry
	view     *mailbox.View
}

// NewSession creates a session in the not authenticated state.
func NewSession(options *SessionOptions) *Session {
	return &Session{
		options: *options,
		state:   imap.ConnStateNotAuthenticated,
	}
}

func (s *Session) logger() Logger {
	if s.options.Logger == nil {
		return log.Default()
	}
	return s.options.Logger
}

// State returns the current connection state.
func (s *Session) State() imap.ConnState {
	return s.state
}

// Username returns the authenticated identity, empty before authentication.
func (s *Session) Username() string {
	return s.username
}

// Selected returns the view of the selected mailbox, nil if none.
func (s *Session) Selected() *mailbox.View {
	return s.view
}

var (
	anyState         = []imap.ConnState{imap.ConnStateNotAuthenticated, imap.ConnStateAuthenticated, imap.ConnStateSelected}
	notAuthenticated = []imap.ConnState{imap.ConnStateNotAuthenticated}
	authenticated    = []imap.ConnState{imap.ConnStateAuthenticated, imap.ConnStateSelected}
	selected         = []imap.ConnState{imap.ConnStateSelected}
)

type handlerFunc func(s *Session, ctx context.Context, w Composer, req *commands.Request) (*imap.StatusResponse, error)

// handler is an entry of the dispatch chain.
type handler struct {
	accepts func(cmd commands.Command) bool
	states  []imap.ConnState
	handle  handlerFunc
}

// on builds a handler entry accepting commands of type T.
func on[T commands.Command](states []imap.ConnState, f func(s *Session, ctx context.Context, w Composer, req *commands.Request, cmd T) (*imap.StatusResponse, error)) handler {
	return handler{
		accepts: func(cmd commands.Command) bool {
			_, ok := cmd.(T)
			return ok
		},
		states: states,
		handle: func(s *Session, ctx context.Context, w Composer, req *commands.Request) (*imap.StatusResponse, error) {
			return f(s, ctx, w, req, req.Command.(T))
		},
	}
}

var handlers = []handler{
	on(anyState, (*Session).handleCapability),
	on(anyState, (*Session).handleNoop),
	on(anyState, (*Session).handleLogout),
	on(notAuthenticated, (*Session).handleLogin),
	on(notAuthenticated, (*Session).handleAuthenticate),
	on(authenticated, (*Session).handleSelect),
	on(authenticated, (*Session).handleCreate),
	on(authenticated, (*Session).handleDelete),
	on(authenticated, (*Session).handleRename),
	on(authenticated, (*Session).handleSubscribe),
	on(authenticated, (*Session).handleList),
	on(authenticated, (*Session).handleStatus),
	on(authenticated, (*Session).handleAppend),
	on(authenticated, (*Session).handleIdle),
	on(selected, (*Session).handleCheck),
	on(selected, (*Session).handleClose),
	on(selected, (*Session).handleUnselect),
	on(selected, (*Session).handleExpunge),
	on(selected, (*Session).handleSearch),
	on(selected, (*Session).handleFetch),
	on(selected, (*Session).handleStore),
	on(selected, (*Session).handleCopy),
}

func findHandler(cmd commands.Command) *handler {
	for i := range handlers {
		if handlers[i].accepts(cmd) {
			return &handlers[i]
		}
	}
	return nil
}

// Handle executes a request and writes its responses.
//
// Command failures are reported to the client with a tagged NO or BAD
// response and don't cause Handle to fail. A non-nil error means the
// connection can't be used anymore.
func (s *Session) Handle(ctx context.Context, w Composer, req *commands.Request) error {
	start := time.Now()
	cw := &errComposer{Composer: w}

	name := req.FullName()
	resp, err := s.dispatch(ctx, cw, req)
	if err := cw.Err(); err != nil {
		return err
	}
	if err != nil {
		resp = s.statusResponse(name, err)
	} else if resp == nil {
		resp = &imap.StatusResponse{
			Type: imap.StatusResponseTypeOK,
			Text: fmt.Sprintf("%v completed", name),
		}
	}

	if resp.Type != imap.StatusResponseTypeBad && s.view != nil {
		if err := s.poll(ctx, cw, req); err != nil {
			return err
		}
	}

	s.options.Metrics.observeCommand(name, resp.Type, time.Since(start))
	return cw.WriteTagged(req.Tag, resp)
}

func (s *Session) dispatch(ctx context.Context, w Composer, req *commands.Request) (*imap.StatusResponse, error) {
	h := findHandler(req.Command)
	if h == nil {
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeBad,
			Text: "Unknown command",
		}
	}
	if !slices.Contains(h.states, s.state) {
		return nil, newClientBugError(fmt.Sprintf("%v is not allowed in the %v state", req.FullName(), s.state))
	}
	if req.UID && !isUIDCommand(req.Command) {
		return nil, newClientBugError(fmt.Sprintf("UID %v is not a valid command", req.Command.Name()))
	}
	return h.handle(s, ctx, w, req)
}

func isUIDCommand(cmd commands.Command) bool {
	switch cmd.(type) {
	case *commands.Fetch, *commands.Store, *commands.Search, *commands.Copy, *commands.Expunge:
		return true
	default:
		return false
	}
}

// expungeAllowed reports whether EXPUNGE responses may be sent after a
// command. They are withheld after FETCH, STORE and SEARCH since the client
// relies on sequence numbers staying stable.
func expungeAllowed(req *commands.Request) bool {
	if req.UID {
		return true
	}
	switch req.Command.(type) {
	case *commands.Fetch, *commands.Store, *commands.Search:
		return false
	default:
		return true
	}
}

// poll writes the unsolicited responses queued on the selected mailbox.
func (s *Session) poll(ctx context.Context, w *errComposer, req *commands.Request) error {
	uw := &updateWriter{w: w, uid: req.UID}
	err := s.view.Poll(uw, expungeAllowed(req))
	if err := w.Err(); err != nil {
		return err
	}
	if errors.Is(err, mailbox.ErrMailboxDeleted) {
		return s.closeDeleted(ctx, w)
	} else if err != nil {
		return fmt.Errorf("imapserver: failed to poll mailbox: %w", err)
	}
	return nil
}

// closeDeleted deselects a mailbox deleted by another session.
func (s *Session) closeDeleted(ctx context.Context, w Composer) error {
	name := s.view.Name()
	if err := s.deselect(ctx, false); err != nil {
		s.logger().Printf("failed to close deleted mailbox %q: %v", name, err)
	}
	return w.WriteUntagged(&imap.StatusResponse{
		Type: imap.StatusResponseTypeOK,
		Code: imap.ResponseCodeClosed,
		Text: "Mailbox has been deleted",
	})
}

// deselect closes the selected mailbox and goes back to the authenticated
// state.
func (s *Session) deselect(ctx context.Context, expunge bool) error {
	if s.view == nil {
		return nil
	}
	view := s.view
	s.view = nil
	if s.state == imap.ConnStateSelected {
		s.state = imap.ConnStateAuthenticated
	}
	return view.Close(ctx, expunge)
}

func (s *Session) login(ctx context.Context, username string) error {
	if s.options.Directory == nil {
		return fmt.Errorf("imapserver: no mailbox directory")
	}
	registry, err := s.options.Directory.Registry(ctx, username)
	if err != nil {
		return err
	}
	s.username = username
	s.registry = registry
	s.state = imap.ConnStateAuthenticated
	return nil
}

// Close releases the resources held by the session. The selected mailbox is
// closed without expunge.
func (s *Session) Close(ctx context.Context) error {
	err := s.deselect(ctx, false)
	s.state = imap.ConnStateLogout
	return err
}
