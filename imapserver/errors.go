package imapserver

import (
	"context"
	"errors"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/mailbox"
	"github.com/emersion/go-imapsession/msnindex"
)

var internalServerErrorResp = &imap.StatusResponse{
	Type: imap.StatusResponseTypeNo,
	Code: imap.ResponseCodeServerBug,
	Text: "Internal server error",
}

// ErrAuthFailed is returned by an Authenticator when the credentials are
// invalid.
var ErrAuthFailed = errors.New("imapserver: authentication failed")

func newClientBugError(text string) error {
	return &imap.Error{
		Type: imap.StatusResponseTypeBad,
		Code: imap.ResponseCodeClientBug,
		Text: text,
	}
}

func newNoError(code imap.ResponseCode, text string) error {
	return &imap.Error{
		Type: imap.StatusResponseTypeNo,
		Code: code,
		Text: text,
	}
}

// statusResponse translates an error returned by a handler into the tagged
// response sent to the client. Unexpected errors are logged.
func (s *Session) statusResponse(name string, err error) *imap.StatusResponse {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return (*imap.StatusResponse)(imapErr)
	}

	var (
		code imap.ResponseCode
		text string
	)
	var storeErr *mailbox.StoreError
	switch {
	case errors.Is(err, mailbox.ErrMailboxNotFound):
		code, text = imap.ResponseCodeNonExistent, "No such mailbox"
	case errors.Is(err, mailbox.ErrMailboxExists):
		code, text = imap.ResponseCodeAlreadyExists, "Mailbox already exists"
	case errors.Is(err, mailbox.ErrAccessDenied):
		code, text = imap.ResponseCodeNoPerm, "Access denied"
	case errors.Is(err, mailbox.ErrReadOnly):
		code, text = imap.ResponseCodeReadOnly, "Mailbox is read-only"
	case errors.Is(err, mailbox.ErrInbox):
		code, text = imap.ResponseCodeCannot, "Operation not permitted on INBOX"
	case errors.Is(err, mailbox.ErrMailboxDeleted):
		code, text = imap.ResponseCodeNonExistent, "Mailbox has been deleted"
	case errors.Is(err, mailbox.ErrMessageNotFound):
		code, text = imap.ResponseCodeNonExistent, "No such message"
	case errors.Is(err, ErrAuthFailed):
		code, text = imap.ResponseCodeAuthenticationFailed, "Authentication failed"
	case errors.Is(err, msnindex.ErrDuplicateUID):
		s.logger().Printf("handling %v command: %v", name, err)
		code, text = imap.ResponseCodeServerBug, "Duplicate UID"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code, text = imap.ResponseCodeUnavailable, "Operation interrupted"
	case errors.As(err, &storeErr):
		s.logger().Printf("handling %v command: %v", name, err)
		code, text = imap.ResponseCodeUnavailable, "Storage temporarily unavailable"
	default:
		s.logger().Printf("handling %v command: %v", name, err)
		return internalServerErrorResp
	}
	return &imap.StatusResponse{
		Type: imap.StatusResponseTypeNo,
		Code: code,
		Text: text,
	}
}

var errNoLineReader = &imap.Error{
	Type: imap.StatusResponseTypeNo,
	Code: imap.ResponseCodeCannot,
	Text: "Continuation requests are not supported on this connection",
}
