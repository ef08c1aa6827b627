package imapserver

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/commands"
	"github.com/emersion/go-imapsession/internal"
	"github.com/emersion/go-imapsession/internal/imapwire"
	"github.com/emersion/go-imapsession/internal/utf7"
)

var errUnknownCommand = &imap.Error{
	Type: imap.StatusResponseTypeBad,
	Text: "Unknown command",
}

// readRequest reads a single command line. The returned request always
// carries the tag if it could be read, even when an error is returned.
func readRequest(dec *imapwire.Decoder) (*commands.Request, error) {
	req := &commands.Request{}
	var name string
	if !dec.ExpectAtom(&req.Tag) || !dec.ExpectSP() || !dec.ExpectAtom(&name) {
		return req, fmt.Errorf("in command: %w", dec.Err())
	}
	name = strings.ToUpper(name)

	numKind := imapwire.NumKindSeq
	if name == "UID" {
		if !dec.ExpectSP() || !dec.ExpectAtom(&name) {
			return req, fmt.Errorf("in command: %w", dec.Err())
		}
		name = strings.ToUpper(name)
		req.UID = true
		numKind = imapwire.NumKindUID
	}

	cmd, err := readCommand(dec, name, numKind)
	if err != nil {
		return req, err
	}
	if !dec.ExpectCRLF() {
		return req, dec.Err()
	}
	req.Command = cmd
	return req, nil
}

func readCommand(dec *imapwire.Decoder, name string, numKind imapwire.NumKind) (commands.Command, error) {
	switch name {
	case "CAPABILITY":
		return &commands.Capability{}, nil
	case "NOOP":
		return &commands.Noop{}, nil
	case "LOGOUT":
		return &commands.Logout{}, nil
	case "CHECK":
		return &commands.Check{}, nil
	case "CLOSE":
		return &commands.Close{}, nil
	case "UNSELECT":
		return &commands.Unselect{}, nil
	case "IDLE":
		return &commands.Idle{}, nil
	case "LOGIN":
		var cmd commands.Login
		if !dec.ExpectSP() || !dec.ExpectAString(&cmd.Username) || !dec.ExpectSP() || !dec.ExpectAString(&cmd.Password) {
			return nil, dec.Err()
		}
		return &cmd, nil
	case "AUTHENTICATE":
		return readAuthenticate(dec)
	case "SELECT", "EXAMINE":
		cmd := commands.Select{ReadOnly: name == "EXAMINE"}
		if !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.Mailbox) {
			return nil, dec.Err()
		}
		return &cmd, nil
	case "CREATE":
		var cmd commands.Create
		if !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.Mailbox) {
			return nil, dec.Err()
		}
		return &cmd, nil
	case "DELETE":
		var cmd commands.Delete
		if !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.Mailbox) {
			return nil, dec.Err()
		}
		return &cmd, nil
	case "RENAME":
		var cmd commands.Rename
		if !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.Existing) || !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.New) {
			return nil, dec.Err()
		}
		return &cmd, nil
	case "SUBSCRIBE", "UNSUBSCRIBE":
		cmd := commands.Subscribe{Unsubscribe: name == "UNSUBSCRIBE"}
		if !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.Mailbox) {
			return nil, dec.Err()
		}
		return &cmd, nil
	case "LIST", "LSUB":
		return readList(dec, name == "LSUB")
	case "STATUS":
		return readStatus(dec)
	case "APPEND":
		return readAppend(dec)
	case "EXPUNGE":
		var cmd commands.Expunge
		if numKind == imapwire.NumKindUID {
			var uids imap.UIDSet
			if !dec.ExpectSP() || !dec.ExpectUIDSet(&uids) {
				return nil, dec.Err()
			}
			cmd.UIDs = &uids
		}
		return &cmd, nil
	case "SEARCH":
		return readSearch(dec)
	case "FETCH":
		return readFetch(dec, numKind)
	case "STORE":
		return readStore(dec, numKind)
	case "COPY":
		var cmd commands.Copy
		if !dec.ExpectSP() || !dec.ExpectNumSet(numKind, &cmd.NumSet) || !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.Mailbox) {
			return nil, dec.Err()
		}
		return &cmd, nil
	default:
		return nil, errUnknownCommand
	}
}

func readAuthenticate(dec *imapwire.Decoder) (*commands.Authenticate, error) {
	var cmd commands.Authenticate
	if !dec.ExpectSP() || !dec.ExpectAtom(&cmd.Mechanism) {
		return nil, dec.Err()
	}
	if dec.SP() {
		var initialResp string
		if !dec.ExpectText(&initialResp) {
			return nil, dec.Err()
		}
		b, err := internal.DecodeSASL(initialResp)
		if err != nil {
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeBad,
				Text: "Malformed SASL initial response",
			}
		}
		cmd.InitialResponse = b
	}
	return &cmd, nil
}

func readList(dec *imapwire.Decoder, lsub bool) (*commands.List, error) {
	cmd := commands.List{Subscribed: lsub}
	if !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.Reference) || !dec.ExpectSP() {
		return nil, dec.Err()
	}
	pattern, err := readListMailbox(dec)
	if err != nil {
		return nil, err
	}
	cmd.Mailbox = pattern
	return &cmd, nil
}

func readListMailbox(dec *imapwire.Decoder) (string, error) {
	var mailbox string
	if !dec.String(&mailbox) {
		if dec.Err() != nil {
			return "", dec.Err()
		}
		if !dec.Expect(dec.Func(&mailbox, isListChar), "list-char") {
			return "", dec.Err()
		}
	}
	name, err := utf7.Encoding.NewDecoder().String(mailbox)
	if err != nil {
		return "", &imapwire.DecoderExpectError{Message: fmt.Sprintf("invalid mailbox pattern: %v", err)}
	}
	return name, nil
}

func isListChar(ch byte) bool {
	switch ch {
	case '%', '*': // list-wildcards
		return true
	case ']': // resp-specials
		return true
	default:
		return imapwire.IsAtomChar(ch)
	}
}

func readStatus(dec *imapwire.Decoder) (*commands.Status, error) {
	var cmd commands.Status
	if !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.Mailbox) || !dec.ExpectSP() {
		return nil, dec.Err()
	}
	err := dec.ExpectList(func() error {
		var name string
		if !dec.ExpectAtom(&name) {
			return dec.Err()
		}
		switch imap.StatusItem(strings.ToUpper(name)) {
		case imap.StatusItemNumMessages:
			cmd.Options.NumMessages = true
		case imap.StatusItemNumRecent:
			cmd.Options.NumRecent = true
		case imap.StatusItemUIDNext:
			cmd.Options.UIDNext = true
		case imap.StatusItemUIDValidity:
			cmd.Options.UIDValidity = true
		case imap.StatusItemNumUnseen:
			cmd.Options.NumUnseen = true
		case imap.StatusItemNumDeleted:
			cmd.Options.NumDeleted = true
		case imap.StatusItemSize:
			cmd.Options.Size = true
		default:
			return &imap.Error{
				Type: imap.StatusResponseTypeBad,
				Text: "Unknown STATUS data item",
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

func readAppend(dec *imapwire.Decoder) (*commands.Append, error) {
	var cmd commands.Append
	if !dec.ExpectSP() || !dec.ExpectMailbox(&cmd.Mailbox) || !dec.ExpectSP() {
		return nil, dec.Err()
	}

	hasFlagList, err := dec.List(func() error {
		flag, err := internal.ReadFlag(dec)
		if err != nil {
			return err
		}
		cmd.Flags = append(cmd.Flags, flag)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if hasFlagList && !dec.ExpectSP() {
		return nil, dec.Err()
	}

	t, err := internal.DecodeDateTime(dec)
	if err != nil {
		return nil, err
	}
	if !t.IsZero() && !dec.ExpectSP() {
		return nil, dec.Err()
	}
	cmd.Date = t

	if !dec.ExpectLiteral(&cmd.Literal) {
		return nil, dec.Err()
	}
	return &cmd, nil
}

func readStore(dec *imapwire.Decoder, numKind imapwire.NumKind) (*commands.Store, error) {
	var (
		cmd  commands.Store
		item string
	)
	if !dec.ExpectSP() || !dec.ExpectNumSet(numKind, &cmd.NumSet) || !dec.ExpectSP() || !dec.ExpectAtom(&item) || !dec.ExpectSP() {
		return nil, dec.Err()
	}

	item = strings.ToUpper(item)
	cmd.Flags.Silent = strings.HasSuffix(item, ".SILENT")
	item = strings.TrimSuffix(item, ".SILENT")

	switch {
	case strings.HasPrefix(item, "+"):
		cmd.Flags.Op = imap.StoreFlagsAdd
		item = strings.TrimPrefix(item, "+")
	case strings.HasPrefix(item, "-"):
		cmd.Flags.Op = imap.StoreFlagsDel
		item = strings.TrimPrefix(item, "-")
	default:
		cmd.Flags.Op = imap.StoreFlagsSet
	}

	if item != "FLAGS" {
		return nil, newClientBugError("STORE can only change FLAGS")
	}

	isList, err := dec.List(func() error {
		flag, err := internal.ReadFlag(dec)
		if err != nil {
			return err
		}
		cmd.Flags.Flags = append(cmd.Flags.Flags, flag)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !isList {
		for {
			flag, err := internal.ReadFlag(dec)
			if err != nil {
				return nil, err
			}
			cmd.Flags.Flags = append(cmd.Flags.Flags, flag)
			if !dec.SP() {
				break
			}
		}
	}
	return &cmd, nil
}

func readFetch(dec *imapwire.Decoder, numKind imapwire.NumKind) (*commands.Fetch, error) {
	var cmd commands.Fetch
	if !dec.ExpectSP() || !dec.ExpectNumSet(numKind, &cmd.NumSet) || !dec.ExpectSP() {
		return nil, dec.Err()
	}

	isList, err := dec.List(func() error {
		return readFetchAtt(dec, &cmd.Options)
	})
	if err != nil {
		return nil, err
	}
	if !isList {
		if err := readFetchAtt(dec, &cmd.Options); err != nil {
			return nil, err
		}
	}
	return &cmd, nil
}

func readFetchAtt(dec *imapwire.Decoder, options *imap.FetchOptions) error {
	var attName string
	if !dec.Expect(dec.Func(&attName, isMsgAttNameChar), "msg-att name") {
		return dec.Err()
	}

	switch attName = strings.ToUpper(attName); attName {
	case "ALL", "FAST", "FULL":
		options.Flags = true
		options.InternalDate = true
		options.RFC822Size = true
		if attName != "FAST" {
			options.Envelope = true
		}
	case "UID":
		options.UID = true
	case "FLAGS":
		options.Flags = true
	case "INTERNALDATE":
		options.InternalDate = true
	case "RFC822.SIZE":
		options.RFC822Size = true
	case "ENVELOPE":
		options.Envelope = true
	case "RFC822":
		options.BodySection = append(options.BodySection, &imap.FetchItemBodySection{Alias: attName})
	case "RFC822.HEADER":
		options.BodySection = append(options.BodySection, &imap.FetchItemBodySection{
			Specifier: imap.PartSpecifierHeader,
			Peek:      true,
			Alias:     attName,
		})
	case "RFC822.TEXT":
		options.BodySection = append(options.BodySection, &imap.FetchItemBodySection{
			Specifier: imap.PartSpecifierText,
			Alias:     attName,
		})
	case "BODY", "BODY.PEEK":
		if !dec.Special('[') {
			return newClientBugError("BODY and BODYSTRUCTURE are not supported, use BODY[]")
		}
		section := imap.FetchItemBodySection{Peek: attName == "BODY.PEEK"}
		if err := readSection(dec, &section); err != nil {
			return err
		}
		partial, err := maybeReadPartial(dec)
		if err != nil {
			return err
		}
		section.Partial = partial
		options.BodySection = append(options.BodySection, &section)
	default:
		return newClientBugError("Invalid FETCH data item")
	}
	return nil
}

func isMsgAttNameChar(ch byte) bool {
	return ch != '[' && imapwire.IsAtomChar(ch)
}

func isSectionSpecChar(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || ch == '.'
}

// readSection reads a section spec. The opening bracket has already been
// consumed.
func readSection(dec *imapwire.Decoder, section *imap.FetchItemBodySection) error {
	if dec.Special(']') {
		return nil
	}

	for {
		var num uint32
		if !dec.Number(&num) {
			break
		}
		if num == 0 {
			return newClientBugError("Section part numbers start at 1")
		}
		section.Part = append(section.Part, int(num))
		if !dec.Special('.') {
			if !dec.ExpectSpecial(']') {
				return dec.Err()
			}
			return nil
		}
	}
	if dec.Err() != nil {
		return dec.Err()
	}

	var specifier string
	if !dec.Expect(dec.Func(&specifier, isSectionSpecChar), "section-text") {
		return dec.Err()
	}
	switch specifier = strings.ToUpper(specifier); specifier {
	case "HEADER":
		section.Specifier = imap.PartSpecifierHeader
	case "TEXT":
		section.Specifier = imap.PartSpecifierText
	case "MIME":
		if len(section.Part) == 0 {
			return newClientBugError("MIME requires a section part")
		}
		section.Specifier = imap.PartSpecifierMIME
	case "HEADER.FIELDS", "HEADER.FIELDS.NOT":
		section.Specifier = imap.PartSpecifierHeader
		if !dec.ExpectSP() {
			return dec.Err()
		}
		headerList, err := readHeaderList(dec)
		if err != nil {
			return err
		}
		if specifier == "HEADER.FIELDS" {
			section.HeaderFields = headerList
		} else {
			section.HeaderFieldsNot = headerList
		}
	default:
		return newClientBugError("Invalid section specifier")
	}

	if !dec.ExpectSpecial(']') {
		return dec.Err()
	}
	return nil
}

func readHeaderList(dec *imapwire.Decoder) ([]string, error) {
	var l []string
	err := dec.ExpectList(func() error {
		var s string
		if !dec.ExpectAString(&s) {
			return dec.Err()
		}
		l = append(l, s)
		return nil
	})
	if err == nil && len(l) == 0 {
		return nil, newClientBugError("Empty header list")
	}
	return l, err
}

func maybeReadPartial(dec *imapwire.Decoder) (*imap.SectionPartial, error) {
	if !dec.Special('<') {
		return nil, nil
	}
	var partial imap.SectionPartial
	if !dec.ExpectNumber64(&partial.Offset) || !dec.ExpectSpecial('.') || !dec.ExpectNumber64(&partial.Size) || !dec.ExpectSpecial('>') {
		return nil, dec.Err()
	}
	if partial.Size == 0 {
		return nil, newClientBugError("Partial size must be greater than zero")
	}
	return &partial, nil
}

func readSearch(dec *imapwire.Decoder) (*commands.Search, error) {
	var cmd commands.Search
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}

	var atom string
	maybeReadSearchKeyAtom(dec, &atom)
	if strings.EqualFold(atom, "CHARSET") {
		if !dec.ExpectSP() || !dec.ExpectAString(&cmd.Charset) || !dec.ExpectSP() {
			return nil, dec.Err()
		}
		atom = ""
		maybeReadSearchKeyAtom(dec, &atom)
	}

	var keys []imap.SearchKey
	for {
		var (
			key imap.SearchKey
			err error
		)
		if atom != "" {
			key, err = readSearchKeyWithAtom(dec, atom)
			atom = ""
		} else {
			key, err = readSearchKey(dec)
		}
		if err != nil {
			return nil, fmt.Errorf("in search-key: %w", err)
		}
		keys = append(keys, key)

		if !dec.SP() {
			break
		}
	}

	if len(keys) == 1 {
		cmd.Key = keys[0]
	} else {
		cmd.Key = imap.SearchAnd(keys...)
	}
	return &cmd, nil
}

func maybeReadSearchKeyAtom(dec *imapwire.Decoder, ptr *string) bool {
	return dec.Func(ptr, func(ch byte) bool {
		return ch == '*' || imapwire.IsAtomChar(ch)
	})
}

func readSearchKey(dec *imapwire.Decoder) (imap.SearchKey, error) {
	var atom string
	if maybeReadSearchKeyAtom(dec, &atom) {
		return readSearchKeyWithAtom(dec, atom)
	}
	var children []imap.SearchKey
	err := dec.ExpectList(func() error {
		key, err := readSearchKey(dec)
		if err != nil {
			return err
		}
		children = append(children, key)
		return nil
	})
	if err != nil {
		return imap.SearchKey{}, err
	}
	if len(children) == 0 {
		return imap.SearchKey{}, newClientBugError("Empty search key list")
	}
	return imap.SearchAnd(children...), nil
}

func readSearchKeyWithAtom(dec *imapwire.Decoder, key string) (imap.SearchKey, error) {
	key = strings.ToUpper(key)
	switch key {
	case "ALL":
		return imap.SearchAll(), nil
	case "UID":
		var uidSet imap.UIDSet
		if !dec.ExpectSP() || !dec.ExpectUIDSet(&uidSet) {
			return imap.SearchKey{}, dec.Err()
		}
		return imap.SearchUIDSet(uidSet), nil
	case "ANSWERED", "DELETED", "DRAFT", "FLAGGED", "RECENT", "SEEN":
		return imap.SearchFlag(searchKeyFlag(key)), nil
	case "UNANSWERED", "UNDELETED", "UNDRAFT", "UNFLAGGED", "UNSEEN":
		return imap.SearchNotFlag(searchKeyFlag(strings.TrimPrefix(key, "UN"))), nil
	case "NEW":
		return imap.SearchNew(), nil
	case "OLD":
		return imap.SearchOld(), nil
	case "KEYWORD", "UNKEYWORD":
		if !dec.ExpectSP() {
			return imap.SearchKey{}, dec.Err()
		}
		flag, err := internal.ReadFlag(dec)
		if err != nil {
			return imap.SearchKey{}, err
		}
		if key == "UNKEYWORD" {
			return imap.SearchNotFlag(flag), nil
		}
		return imap.SearchFlag(flag), nil
	case "BCC", "CC", "FROM", "SUBJECT", "TO":
		var value string
		if !dec.ExpectSP() || !dec.ExpectAString(&value) {
			return imap.SearchKey{}, dec.Err()
		}
		return imap.SearchHeader(titleCase(key), value), nil
	case "HEADER":
		var name, value string
		if !dec.ExpectSP() || !dec.ExpectAString(&name) || !dec.ExpectSP() || !dec.ExpectAString(&value) {
			return imap.SearchKey{}, dec.Err()
		}
		if name == "" {
			return imap.SearchKey{}, newClientBugError("Empty header field name")
		}
		return imap.SearchHeader(name, value), nil
	case "SINCE", "BEFORE", "ON", "SENTSINCE", "SENTBEFORE", "SENTON":
		if !dec.ExpectSP() {
			return imap.SearchKey{}, dec.Err()
		}
		t, err := internal.ExpectDate(dec)
		if err != nil {
			return imap.SearchKey{}, err
		}
		switch key {
		case "SINCE":
			return imap.SearchSince(t), nil
		case "BEFORE":
			return imap.SearchBefore(t), nil
		case "ON":
			return imap.SearchOn(t), nil
		case "SENTSINCE":
			return imap.SearchSentSince(t), nil
		case "SENTBEFORE":
			return imap.SearchSentBefore(t), nil
		default:
			return imap.SearchSentOn(t), nil
		}
	case "BODY", "TEXT":
		var value string
		if !dec.ExpectSP() || !dec.ExpectAString(&value) {
			return imap.SearchKey{}, dec.Err()
		}
		if key == "BODY" {
			return imap.SearchBody(value), nil
		}
		return imap.SearchText(value), nil
	case "LARGER", "SMALLER":
		var n int64
		if !dec.ExpectSP() || !dec.ExpectNumber64(&n) {
			return imap.SearchKey{}, dec.Err()
		}
		if key == "LARGER" {
			return imap.SearchLarger(n), nil
		}
		return imap.SearchSmaller(n), nil
	case "NOT":
		if !dec.ExpectSP() {
			return imap.SearchKey{}, dec.Err()
		}
		not, err := readSearchKey(dec)
		if err != nil {
			return imap.SearchKey{}, err
		}
		return imap.SearchNot(not), nil
	case "OR":
		if !dec.ExpectSP() {
			return imap.SearchKey{}, dec.Err()
		}
		a, err := readSearchKey(dec)
		if err != nil {
			return imap.SearchKey{}, err
		}
		if !dec.ExpectSP() {
			return imap.SearchKey{}, dec.Err()
		}
		b, err := readSearchKey(dec)
		if err != nil {
			return imap.SearchKey{}, err
		}
		return imap.SearchOr(a, b), nil
	default:
		seqSet, err := imap.ParseSeqSet(key)
		if err != nil {
			return imap.SearchKey{}, newClientBugError(fmt.Sprintf("Unknown search key %q", key))
		}
		return imap.SearchSeqSet(seqSet), nil
	}
}

// titleCase turns an upper-case search key into a header field or flag name.
func titleCase(s string) string {
	return cases.Title(language.Und).String(strings.ToLower(s))
}

func searchKeyFlag(key string) imap.Flag {
	return imap.Flag("\\" + titleCase(key))
}
