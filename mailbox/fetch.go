package mailbox

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	netmail "net/mail"
	"strings"

	"github.com/emersion/go-imapsession"
	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

func fetchMessage(msg *Message, options *imap.FetchOptions) *imap.FetchMessageData {
	data := &imap.FetchMessageData{UID: msg.UID}
	if options.InternalDate {
		data.InternalDate = msg.InternalDate
	}
	if options.RFC822Size {
		size := msg.Size
		data.RFC822Size = &size
	}
	if options.Envelope {
		data.Envelope = envelope(msg.Literal)
	}
	for _, section := range options.BodySection {
		data.BodySection = append(data.BodySection, imap.FetchBodySectionData{
			Section: section,
			Bytes:   bodySection(msg.Literal, section),
		})
	}
	return data
}

func envelope(literal []byte) *imap.Envelope {
	br := bufio.NewReader(bytes.NewReader(literal))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return nil
	}
	return getEnvelope(header)
}

func openMessagePart(header textproto.Header, body io.Reader, parentMediaType string) (textproto.Header, io.Reader) {
	msgHeader := gomessage.Header{Header: header}
	mediaType, _, _ := msgHeader.ContentType()
	if !msgHeader.Has("Content-Type") && parentMediaType == "multipart/digest" {
		mediaType = "message/rfc822"
	}
	if mediaType == "message/rfc822" || mediaType == "message/global" {
		br := bufio.NewReader(body)
		header, _ = textproto.ReadHeader(br)
		return header, br
	}
	return header, body
}

// bodySection extracts a BODY[] section from a raw message. A section which
// doesn't exist yields nil.
func bodySection(literal []byte, section *imap.FetchItemBodySection) []byte {
	br := bufio.NewReader(bytes.NewReader(literal))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return nil
	}
	var body io.Reader = br

	// First part of non-multipart message refers to the message itself
	msgHeader := gomessage.Header{Header: header}
	mediaType, _, _ := msgHeader.ContentType()
	partPath := section.Part
	if !strings.HasPrefix(mediaType, "multipart/") && len(partPath) > 0 && partPath[0] == 1 {
		partPath = partPath[1:]
	}

	var parentMediaType string
	for _, partNum := range partPath {
		header, body = openMessagePart(header, body, parentMediaType)

		msgHeader := gomessage.Header{Header: header}
		mediaType, typeParams, _ := msgHeader.ContentType()
		if !strings.HasPrefix(mediaType, "multipart/") {
			if partNum != 1 {
				return nil
			}
			continue
		}

		mr := textproto.NewMultipartReader(body, typeParams["boundary"])
		found := false
		for j := 1; j <= partNum; j++ {
			p, err := mr.NextPart()
			if err != nil {
				return nil
			}
			if j == partNum {
				parentMediaType = mediaType
				header = p.Header
				body = p
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}

	if len(section.Part) > 0 {
		switch section.Specifier {
		case imap.PartSpecifierHeader, imap.PartSpecifierText:
			header, body = openMessagePart(header, body, parentMediaType)
		}
	}

	if len(section.HeaderFields) > 0 {
		keep := make(map[string]struct{})
		for _, k := range section.HeaderFields {
			keep[strings.ToLower(k)] = struct{}{}
		}
		for field := header.Fields(); field.Next(); {
			if _, ok := keep[strings.ToLower(field.Key())]; !ok {
				field.Del()
			}
		}
	}
	for _, k := range section.HeaderFieldsNot {
		header.Del(k)
	}

	var buf bytes.Buffer

	writeHeader := true
	switch section.Specifier {
	case imap.PartSpecifierNone:
		writeHeader = len(section.Part) == 0
	case imap.PartSpecifierText:
		writeHeader = false
	}
	if writeHeader {
		if err := textproto.WriteHeader(&buf, header); err != nil {
			return nil
		}
	}

	switch section.Specifier {
	case imap.PartSpecifierNone, imap.PartSpecifierText:
		if _, err := io.Copy(&buf, body); err != nil {
			return nil
		}
	}

	b := buf.Bytes()
	if partial := section.Partial; partial != nil {
		if partial.Offset > int64(len(b)) {
			return nil
		}
		end := partial.Offset + partial.Size
		if end > int64(len(b)) {
			end = int64(len(b))
		}
		b = b[partial.Offset:end]
	}
	return b
}

func getEnvelope(h textproto.Header) *imap.Envelope {
	date, _ := netmail.ParseDate(h.Get("Date"))
	subject := h.Get("Subject")
	if s, err := new(mime.WordDecoder).DecodeHeader(subject); err == nil {
		subject = s
	}
	return &imap.Envelope{
		Date:      date,
		Subject:   subject,
		From:      parseAddressList(h.Get("From")),
		Sender:    parseAddressList(h.Get("Sender")),
		ReplyTo:   parseAddressList(h.Get("Reply-To")),
		To:        parseAddressList(h.Get("To")),
		Cc:        parseAddressList(h.Get("Cc")),
		Bcc:       parseAddressList(h.Get("Bcc")),
		InReplyTo: strings.Trim(h.Get("In-Reply-To"), "<>"),
		MessageID: strings.Trim(h.Get("Message-Id"), "<>"),
	}
}

func parseAddressList(s string) []imap.Address {
	if s == "" {
		return nil
	}

	// TODO: handle groups
	addrs, _ := mail.ParseAddressList(s)
	var l []imap.Address
	for _, addr := range addrs {
		mailbox, host, ok := strings.Cut(addr.Address, "@")
		if !ok {
			continue
		}
		l = append(l, imap.Address{
			Name:    addr.Name,
			Mailbox: mailbox,
			Host:    host,
		})
	}
	return l
}
