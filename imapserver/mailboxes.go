package imapserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/commands"
	"github.com/emersion/go-imapsession/mailbox"
)

func (s *Session) handleCreate(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Create) (*imap.StatusResponse, error) {
	return nil, s.registry.Create(ctx, cmd.Mailbox)
}

func (s *Session) handleDelete(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Delete) (*imap.StatusResponse, error) {
	name := imap.CanonicalMailboxName(cmd.Mailbox)
	if err := s.registry.Delete(ctx, name); err != nil {
		return nil, err
	}
	// The registry already detached our view, closing it only releases it
	if s.view != nil && s.view.Name() == name {
		if err := s.deselect(ctx, false); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Session) handleRename(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Rename) (*imap.StatusResponse, error) {
	return nil, s.registry.Rename(ctx, cmd.Existing, cmd.New)
}

func (s *Session) handleSubscribe(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Subscribe) (*imap.StatusResponse, error) {
	return nil, s.registry.Subscribe(ctx, cmd.Mailbox, !cmd.Unsubscribe)
}

func (s *Session) handleList(ctx context.Context, w Composer, req *commands.Request, cmd *commands.List) (*imap.StatusResponse, error) {
	l, err := s.registry.List(ctx, cmd.Reference, cmd.Mailbox, cmd.Subscribed)
	if err != nil {
		return nil, err
	}
	for _, data := range l {
		if err := w.WriteUntagged(&imap.ListResponse{LSub: cmd.Subscribed, Data: data}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Session) handleStatus(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Status) (*imap.StatusResponse, error) {
	data, err := s.registry.Status(ctx, cmd.Mailbox, &cmd.Options)
	if err != nil {
		return nil, err
	}
	return nil, w.WriteUntagged(&imap.StatusDataResponse{Data: *data})
}

var errTryCreate = &imap.Error{
	Type: imap.StatusResponseTypeNo,
	Code: imap.ResponseCodeTryCreate,
	Text: "No such mailbox",
}

func (s *Session) handleAppend(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Append) (*imap.StatusResponse, error) {
	for _, flag := range cmd.Flags {
		if flag == imap.FlagRecent || flag == imap.FlagWildcard {
			return nil, newClientBugError(fmt.Sprintf("Flag %v can't be set by APPEND", flag))
		}
	}

	uidValidity, uid, err := s.registry.Append(ctx, cmd.Mailbox, imap.NewFlags(cmd.Flags...), cmd.Date, cmd.Literal)
	if errors.Is(err, mailbox.ErrMailboxNotFound) {
		return nil, errTryCreate
	} else if err != nil {
		return nil, err
	}
	return &imap.StatusResponse{
		Type:    imap.StatusResponseTypeOK,
		Code:    imap.ResponseCodeAppendUID,
		CodeArg: fmt.Sprintf("%v %v", uidValidity, uid),
		Text:    "APPEND completed",
	}, nil
}
