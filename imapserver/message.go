package imapserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/commands"
	"github.com/emersion/go-imapsession/mailbox"
)

func (s *Session) handleExpunge(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Expunge) (*imap.StatusResponse, error) {
	uids := cmd.UIDs
	if !req.UID {
		uids = nil
	} else if uids == nil {
		return nil, newClientBugError("UID EXPUNGE requires a UID set")
	}

	results, err := s.view.Expunge(ctx, uids)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if err := w.WriteUntagged(&imap.ExpungeResponse{SeqNum: res.SeqNum}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Session) handleSearch(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Search) (*imap.StatusResponse, error) {
	switch strings.ToUpper(cmd.Charset) {
	case "", "US-ASCII", "UTF-8":
		// nothing to do
	default:
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeBadCharset,
			Text: "Only US-ASCII and UTF-8 are supported SEARCH charsets",
		}
	}

	seqNums, uids, err := s.view.Search(ctx, cmd.Key, req.UID)
	if err != nil {
		return nil, err
	}
	return nil, w.WriteUntagged(&imap.SearchResponse{
		UID:     req.UID,
		SeqNums: seqNums,
		UIDs:    uids,
	})
}

func (s *Session) handleFetch(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Fetch) (*imap.StatusResponse, error) {
	options := cmd.Options
	if req.UID {
		options.UID = true
	}
	numSet, err := s.numSet(req, cmd.NumSet)
	if err != nil {
		return nil, err
	}

	l, err := s.view.Fetch(ctx, numSet, &options)
	if err != nil {
		return nil, err
	}
	for _, data := range l {
		if !options.UID {
			data.UID = 0
		}
		if err := w.WriteUntagged(&imap.FetchResponse{Message: data}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Session) handleStore(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Store) (*imap.StatusResponse, error) {
	for _, flag := range cmd.Flags.Flags {
		if flag == imap.FlagRecent || flag == imap.FlagWildcard {
			return nil, newClientBugError(fmt.Sprintf("Flag %v can't be stored", flag))
		}
	}
	numSet, err := s.numSet(req, cmd.NumSet)
	if err != nil {
		return nil, err
	}

	updates, err := s.view.Store(ctx, numSet, &cmd.Flags)
	if err != nil {
		return nil, err
	}
	if cmd.Flags.Silent {
		return nil, nil
	}
	for _, update := range updates {
		data := &imap.FetchMessageData{
			SeqNum: update.SeqNum,
			Flags:  update.Flags,
		}
		if req.UID {
			data.UID = update.UID
		}
		if err := w.WriteUntagged(&imap.FetchResponse{Message: data}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Session) handleCopy(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Copy) (*imap.StatusResponse, error) {
	numSet, err := s.numSet(req, cmd.NumSet)
	if err != nil {
		return nil, err
	}

	data, err := s.view.Copy(ctx, numSet, cmd.Mailbox)
	if errors.Is(err, mailbox.ErrMailboxNotFound) {
		return nil, errTryCreate
	} else if err != nil {
		return nil, err
	}
	if len(data.SourceUIDs) == 0 {
		return nil, nil
	}
	return &imap.StatusResponse{
		Type:    imap.StatusResponseTypeOK,
		Code:    imap.ResponseCodeCopyUID,
		CodeArg: fmt.Sprintf("%v %v %v", data.DestUIDValidity, data.SourceUIDs, data.DestUIDs),
		Text:    fmt.Sprintf("%v completed", req.FullName()),
	}, nil
}

// numSet checks that the kind of a number set matches the command.
func (s *Session) numSet(req *commands.Request, numSet imap.NumSet) (imap.NumSet, error) {
	switch numSet.(type) {
	case imap.UIDSet:
		if !req.UID {
			return nil, newClientBugError("Expected a sequence set")
		}
	case imap.SeqSet:
		if req.UID {
			return nil, newClientBugError("Expected a UID set")
		}
	default:
		return nil, newClientBugError("Missing message set")
	}
	return numSet, nil
}
