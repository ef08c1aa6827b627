package imapserver

import (
	"context"
	"errors"
	"strings"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/commands"
	"github.com/emersion/go-imapsession/mailbox"
)

func (s *Session) handleIdle(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Idle) (*imap.StatusResponse, error) {
	lr, ok := w.(LineReader)
	if !ok {
		return nil, errNoLineReader
	}

	if err := w.WriteContinuation("idling"); err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		defer close(stop)
		line, err := lr.ReadLine()
		if err != nil {
			done <- err
		} else if !strings.EqualFold(line, "DONE") {
			done <- newClientBugError("Syntax error: expected DONE to end IDLE command")
		} else {
			done <- nil
		}
	}()

	var idleErr error
	if s.view != nil {
		idleErr = s.view.Idle(&updateWriter{w: w}, stop)
	}
	if errors.Is(idleErr, mailbox.ErrMailboxDeleted) {
		idleErr = s.closeDeleted(ctx, w)
	}
	<-stop
	if err := <-done; err != nil {
		return nil, err
	}
	return nil, idleErr
}
