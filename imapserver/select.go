package imapserver

import (
	"context"
	"fmt"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/commands"
	"github.com/emersion/go-imapsession/mailbox"
)

func (s *Session) handleSelect(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Select) (*imap.StatusResponse, error) {
	if s.view != nil {
		if err := s.deselect(ctx, false); err != nil {
			return nil, err
		}
		err := w.WriteUntagged(&imap.StatusResponse{
			Type: imap.StatusResponseTypeOK,
			Code: imap.ResponseCodeClosed,
			Text: "Previous mailbox is now closed",
		})
		if err != nil {
			return nil, err
		}
	}

	mode := mailbox.ModeReadWrite
	if cmd.ReadOnly {
		mode = mailbox.ModeReadOnly
	}
	view, data, err := s.registry.Open(ctx, cmd.Mailbox, mode)
	if err != nil {
		return nil, err
	}
	s.view = view
	s.state = imap.ConnStateSelected

	if err := writeSelectData(w, data); err != nil {
		return nil, err
	}

	code := imap.ResponseCodeReadWrite
	if !view.Writable() {
		code = imap.ResponseCodeReadOnly
	}
	return &imap.StatusResponse{
		Type: imap.StatusResponseTypeOK,
		Code: code,
		Text: fmt.Sprintf("%v completed", cmd.Name()),
	}, nil
}

func writeSelectData(w Composer, data *imap.SelectData) error {
	desc := &data.Mailbox
	responses := []imap.Response{
		&imap.FlagsResponse{Flags: desc.Flags},
		&imap.ExistsResponse{NumMessages: data.NumMessages},
		&imap.RecentResponse{NumRecent: data.NumRecent},
	}
	if data.FirstUnseen > 0 {
		responses = append(responses, &imap.StatusResponse{
			Type:    imap.StatusResponseTypeOK,
			Code:    imap.ResponseCodeUnseen,
			CodeArg: data.FirstUnseen,
			Text:    fmt.Sprintf("Message %v is first unseen", data.FirstUnseen),
		})
	}
	permanentFlags := desc.PermanentFlags
	permanentText := "Permanent flags"
	if permanentFlags == nil {
		permanentFlags = []imap.Flag{}
		permanentText = "No permanent flags permitted"
	}
	responses = append(responses,
		&imap.StatusResponse{
			Type:    imap.StatusResponseTypeOK,
			Code:    imap.ResponseCodePermanentFlags,
			CodeArg: permanentFlags,
			Text:    permanentText,
		},
		&imap.StatusResponse{
			Type:    imap.StatusResponseTypeOK,
			Code:    imap.ResponseCodeUIDNext,
			CodeArg: desc.UIDNext,
			Text:    "Predicted next UID",
		},
		&imap.StatusResponse{
			Type:    imap.StatusResponseTypeOK,
			Code:    imap.ResponseCodeUIDValidity,
			CodeArg: desc.UIDValidity,
			Text:    "UIDs valid",
		},
	)
	for _, resp := range responses {
		if err := w.WriteUntagged(resp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleClose(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Close) (*imap.StatusResponse, error) {
	return nil, s.deselect(ctx, true)
}

func (s *Session) handleUnselect(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Unselect) (*imap.StatusResponse, error) {
	return nil, s.deselect(ctx, false)
}

func (s *Session) handleCheck(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Check) (*imap.StatusResponse, error) {
	return nil, nil
}
