package imapserver

import (
	"sync"

	"github.com/emersion/go-imapsession"
)

// Composer writes responses to a client.
//
// The session never formats bytes itself: a Composer is the boundary between
// the protocol engine and the wire.
type Composer interface {
	WriteTagged(tag string, resp *imap.StatusResponse) error
	WriteUntagged(resp imap.Response) error
	WriteContinuation(text string) error
}

// LineReader is implemented by composers able to read the client lines
// following a continuation request, as needed by AUTHENTICATE and IDLE.
type LineReader interface {
	ReadLine() (string, error)
}

// errComposer remembers the first write error. Write errors are fatal for the
// connection, unlike command errors.
type errComposer struct {
	Composer

	mutex sync.Mutex
	err   error
}

func (w *errComposer) setErr(err error) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if err != nil && w.err == nil {
		w.err = err
	}
	return err
}

func (w *errComposer) Err() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.err
}

func (w *errComposer) WriteTagged(tag string, resp *imap.StatusResponse) error {
	return w.setErr(w.Composer.WriteTagged(tag, resp))
}

func (w *errComposer) WriteUntagged(resp imap.Response) error {
	return w.setErr(w.Composer.WriteUntagged(resp))
}

func (w *errComposer) WriteContinuation(text string) error {
	return w.setErr(w.Composer.WriteContinuation(text))
}

func (w *errComposer) ReadLine() (string, error) {
	lr, ok := w.Composer.(LineReader)
	if !ok {
		return "", errNoLineReader
	}
	line, err := lr.ReadLine()
	return line, w.setErr(err)
}

// updateWriter turns mailbox view updates into unsolicited responses.
type updateWriter struct {
	w Composer
	// uid is set when the responses answer a UID command, FETCH responses
	// then include the UID.
	uid bool
}

func (uw *updateWriter) WriteNumMessages(n uint32) error {
	return uw.w.WriteUntagged(&imap.ExistsResponse{NumMessages: n})
}

func (uw *updateWriter) WriteNumRecent(n uint32) error {
	return uw.w.WriteUntagged(&imap.RecentResponse{NumRecent: n})
}

func (uw *updateWriter) WriteExpunge(seqNum uint32) error {
	return uw.w.WriteUntagged(&imap.ExpungeResponse{SeqNum: seqNum})
}

func (uw *updateWriter) WriteMessageFlags(seqNum uint32, uid imap.UID, flags []imap.Flag) error {
	if flags == nil {
		flags = []imap.Flag{}
	}
	data := &imap.FetchMessageData{SeqNum: seqNum, Flags: flags}
	if uw.uid {
		data.UID = uid
	}
	return uw.w.WriteUntagged(&imap.FetchResponse{Message: data})
}
