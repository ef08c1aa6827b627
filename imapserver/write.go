package imapserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/internal/imapwire"
)

func writeStatusResp(enc *imapwire.Encoder, tag string, resp *imap.StatusResponse) error {
	if tag == "" {
		tag = "*"
	}
	enc.Atom(tag).SP().Atom(string(resp.Type)).SP()
	if resp.Code != "" {
		enc.Special('[').Atom(string(resp.Code))
		writeCodeArg(enc, resp.CodeArg)
		enc.Special(']').SP()
	}
	enc.Text(resp.Text)
	return enc.CRLF()
}

func writeCodeArg(enc *imapwire.Encoder, arg interface{}) {
	switch arg := arg.(type) {
	case nil:
	case uint32:
		enc.SP().Number(arg)
	case imap.UID:
		enc.SP().UID(arg)
	case []imap.Flag:
		enc.SP().List(len(arg), func(i int) {
			enc.Flag(arg[i])
		})
	case []imap.Cap:
		for _, c := range arg {
			enc.SP().Atom(string(c))
		}
	case string:
		enc.SP().Text(arg)
	default:
		panic(fmt.Errorf("imapserver: unsupported response code argument %T", arg))
	}
}

func writeResponse(enc *imapwire.Encoder, resp imap.Response) error {
	switch resp := resp.(type) {
	case *imap.StatusResponse:
		return writeStatusResp(enc, "", resp)
	case *imap.ExistsResponse:
		enc.Atom("*").SP().Number(resp.NumMessages).SP().Atom("EXISTS")
	case *imap.RecentResponse:
		enc.Atom("*").SP().Number(resp.NumRecent).SP().Atom("RECENT")
	case *imap.ExpungeResponse:
		enc.Atom("*").SP().Number(resp.SeqNum).SP().Atom("EXPUNGE")
	case *imap.FlagsResponse:
		enc.Atom("*").SP().Atom("FLAGS").SP().List(len(resp.Flags), func(i int) {
			enc.Flag(resp.Flags[i])
		})
	case *imap.FetchResponse:
		writeFetch(enc, resp.Message)
	case *imap.SearchResponse:
		enc.Atom("*").SP().Atom("SEARCH")
		if resp.UID {
			for _, uid := range resp.UIDs {
				enc.SP().UID(uid)
			}
		} else {
			for _, seqNum := range resp.SeqNums {
				enc.SP().Number(seqNum)
			}
		}
	case *imap.ListResponse:
		writeList(enc, resp)
	case *imap.StatusDataResponse:
		writeStatus(enc, &resp.Data)
	case *imap.CapabilityResponse:
		enc.Atom("*").SP().Atom("CAPABILITY")
		for _, c := range resp.Caps {
			enc.SP().Atom(string(c))
		}
	default:
		return fmt.Errorf("imapserver: unsupported response %T", resp)
	}
	return enc.CRLF()
}

func writeFetch(enc *imapwire.Encoder, msg *imap.FetchMessageData) {
	enc.Atom("*").SP().Number(msg.SeqNum).SP().Atom("FETCH").SP()
	items := enc.BeginList()
	if msg.UID != 0 {
		items.Item().Atom("UID").SP().UID(msg.UID)
	}
	if msg.Flags != nil {
		items.Item().Atom("FLAGS").SP().List(len(msg.Flags), func(i int) {
			enc.Flag(msg.Flags[i])
		})
	}
	if !msg.InternalDate.IsZero() {
		items.Item().Atom("INTERNALDATE").SP().DateTime(msg.InternalDate)
	}
	if msg.RFC822Size != nil {
		items.Item().Atom("RFC822.SIZE").SP().Number64(*msg.RFC822Size)
	}
	if msg.Envelope != nil {
		items.Item().Atom("ENVELOPE").SP()
		writeEnvelope(enc, msg.Envelope)
	}
	for _, data := range msg.BodySection {
		items.Item().Atom(data.Section.ResponseName()).SP().Bytes(data.Bytes)
	}
	items.End()
}

func writeEnvelope(enc *imapwire.Encoder, envelope *imap.Envelope) {
	enc.Special('(')
	if envelope.Date.IsZero() {
		enc.NIL()
	} else {
		enc.String(envelope.Date.Format(time.RFC1123Z))
	}
	enc.SP().NString(envelope.Subject)
	addrs := [][]imap.Address{
		envelope.From,
		envelope.Sender,
		envelope.ReplyTo,
		envelope.To,
		envelope.Cc,
		envelope.Bcc,
	}
	for _, l := range addrs {
		enc.SP()
		writeAddressList(enc, l)
	}
	enc.SP().NString(msgIDList(envelope.InReplyTo))
	enc.SP().NString(msgIDList(envelope.MessageID))
	enc.Special(')')
}

func msgIDList(id string) string {
	if id == "" {
		return ""
	}
	return "<" + strings.Trim(id, "<>") + ">"
}

func writeAddressList(enc *imapwire.Encoder, l []imap.Address) {
	if len(l) == 0 {
		enc.NIL()
		return
	}

	enc.List(len(l), func(i int) {
		addr := l[i]
		enc.Special('(').NString(addr.Name).SP().NIL().SP()
		enc.NString(addr.Mailbox).SP().NString(addr.Host)
		enc.Special(')')
	})
}

func writeList(enc *imapwire.Encoder, resp *imap.ListResponse) {
	name := "LIST"
	if resp.LSub {
		name = "LSUB"
	}
	data := &resp.Data
	enc.Atom("*").SP().Atom(name).SP()
	enc.List(len(data.Attrs), func(i int) {
		enc.MailboxAttr(data.Attrs[i])
	})
	enc.SP()
	if data.Delim == 0 {
		enc.NIL()
	} else {
		enc.Quoted(string(data.Delim))
	}
	enc.SP().Mailbox(data.Mailbox)
}

func writeStatus(enc *imapwire.Encoder, data *imap.StatusData) {
	enc.Atom("*").SP().Atom("STATUS").SP().Mailbox(data.Mailbox).SP()
	items := enc.BeginList()
	if data.NumMessages != nil {
		items.Item().Atom(string(imap.StatusItemNumMessages)).SP().Number(*data.NumMessages)
	}
	if data.NumRecent != nil {
		items.Item().Atom(string(imap.StatusItemNumRecent)).SP().Number(*data.NumRecent)
	}
	if data.UIDNext != 0 {
		items.Item().Atom(string(imap.StatusItemUIDNext)).SP().UID(data.UIDNext)
	}
	if data.UIDValidity != 0 {
		items.Item().Atom(string(imap.StatusItemUIDValidity)).SP().Number(data.UIDValidity)
	}
	if data.NumUnseen != nil {
		items.Item().Atom(string(imap.StatusItemNumUnseen)).SP().Number(*data.NumUnseen)
	}
	if data.NumDeleted != nil {
		items.Item().Atom(string(imap.StatusItemNumDeleted)).SP().Number(*data.NumDeleted)
	}
	if data.Size != nil {
		items.Item().Atom(string(imap.StatusItemSize)).SP().Number64(*data.Size)
	}
	items.End()
}
