package imapwire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/internal/utf7"
)

// ErrLiteralTooLarge is returned when a client announces a literal larger than
// Decoder.MaxLiteralSize.
var ErrLiteralTooLarge = errors.New("imapwire: literal too large")

// A Decoder reads IMAP data.
//
// There are multiple families of methods:
//
//   - Methods directly named after IMAP grammar elements attempt to decode
//     said element, and return false if it's another element.
//   - "Expect" methods do the same, but set the decoder error (see Err) on
//     failure.
type Decoder struct {
	// LiteralContinuation is called when a literal is announced, before
	// its contents are read. Servers send the continuation request for
	// synchronizing literals from there. Returning an error aborts the
	// decoding.
	LiteralContinuation func(size int64, nonSync bool) error
	// MaxLiteralSize is the maximum size of a literal, zero means no limit.
	MaxLiteralSize int64

	r   *bufio.Reader
	err error
}

// NewDecoder creates a new decoder.
func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{r: r}
}

func (dec *Decoder) mustUnreadByte() {
	if err := dec.r.UnreadByte(); err != nil {
		panic(fmt.Errorf("imapwire: failed to unread byte: %v", err))
	}
}

// Err returns the decoding error, if any.
func (dec *Decoder) Err() error {
	return dec.err
}

func (dec *Decoder) returnErr(err error) bool {
	if err == nil {
		return true
	}
	if dec.err == nil {
		dec.err = err
	}
	return false
}

func (dec *Decoder) readByte() (byte, bool) {
	if dec.err != nil {
		return 0, false
	}
	b, err := dec.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return b, dec.returnErr(err)
	}
	return b, true
}

func (dec *Decoder) acceptByte(want byte) bool {
	got, ok := dec.readByte()
	if !ok {
		return false
	} else if got != want {
		dec.mustUnreadByte()
		return false
	}
	return true
}

// EOF returns true if end-of-file is reached.
func (dec *Decoder) EOF() bool {
	_, err := dec.r.ReadByte()
	if err == io.EOF {
		return true
	} else if err != nil {
		return dec.returnErr(err)
	}
	dec.mustUnreadByte()
	return false
}

// Expect sets the decoder error if ok is false.
func (dec *Decoder) Expect(ok bool, name string) bool {
	if !ok {
		msg := fmt.Sprintf("expected %v", name)
		if dec.r.Buffered() > 0 {
			b, _ := dec.r.Peek(1)
			msg += fmt.Sprintf(", got %q", b)
		}
		return dec.returnErr(&DecoderExpectError{Message: msg})
	}
	return true
}

func (dec *Decoder) SP() bool {
	return dec.acceptByte(' ')
}

func (dec *Decoder) ExpectSP() bool {
	return dec.Expect(dec.SP(), "SP")
}

func (dec *Decoder) CRLF() bool {
	return dec.acceptByte('\r') && dec.acceptByte('\n')
}

func (dec *Decoder) ExpectCRLF() bool {
	return dec.Expect(dec.CRLF(), "CRLF")
}

// Func reads a sequence of bytes matching valid.
func (dec *Decoder) Func(ptr *string, valid func(ch byte) bool) bool {
	var sb strings.Builder
	for {
		b, ok := dec.readByte()
		if !ok {
			return false
		}

		if !valid(b) {
			dec.mustUnreadByte()
			break
		}

		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return false
	}
	*ptr = sb.String()
	return true
}

func (dec *Decoder) Atom(ptr *string) bool {
	return dec.Func(ptr, IsAtomChar)
}

func (dec *Decoder) ExpectAtom(ptr *string) bool {
	return dec.Expect(dec.Atom(ptr), "atom")
}

func (dec *Decoder) Special(b byte) bool {
	return dec.acceptByte(b)
}

func (dec *Decoder) ExpectSpecial(b byte) bool {
	return dec.Expect(dec.Special(b), fmt.Sprintf("'%v'", string(b)))
}

// Text reads until the end of the line.
func (dec *Decoder) Text(ptr *string) bool {
	var sb strings.Builder
	for {
		b, ok := dec.readByte()
		if !ok {
			return false
		} else if b == '\r' || b == '\n' {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return false
	}
	*ptr = sb.String()
	return true
}

func (dec *Decoder) ExpectText(ptr *string) bool {
	return dec.Expect(dec.Text(ptr), "text")
}

// DiscardLine skips the rest of the line. Non-synchronizing literals
// announced at the end of a line are skipped too: the client sends them
// without waiting for a continuation request.
func (dec *Decoder) DiscardLine() {
	for {
		var text string
		dec.Text(&text)
		dec.err = nil
		if !dec.CRLF() {
			return
		}
		size, ok := nonSyncLiteralSize(text)
		if !ok {
			return
		}
		if _, err := io.CopyN(io.Discard, dec.r, size); err != nil {
			dec.returnErr(err)
			return
		}
	}
}

func nonSyncLiteralSize(line string) (int64, bool) {
	if !strings.HasSuffix(line, "+}") {
		return 0, false
	}
	i := strings.LastIndexByte(line, '{')
	if i < 0 {
		return 0, false
	}
	size, err := strconv.ParseInt(line[i+1:len(line)-2], 10, 64)
	return size, err == nil
}

func (dec *Decoder) digits(ptr *string) bool {
	return dec.Func(ptr, func(ch byte) bool {
		return ch >= '0' && ch <= '9'
	})
}

func (dec *Decoder) Number(ptr *uint32) bool {
	var s string
	if !dec.digits(&s) {
		return false
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return dec.returnErr(err)
	}
	*ptr = uint32(v)
	return true
}

func (dec *Decoder) ExpectNumber(ptr *uint32) bool {
	return dec.Expect(dec.Number(ptr), "number")
}

func (dec *Decoder) Number64(ptr *int64) bool {
	var s string
	if !dec.digits(&s) {
		return false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return dec.returnErr(err)
	}
	*ptr = v
	return true
}

func (dec *Decoder) ExpectNumber64(ptr *int64) bool {
	return dec.Expect(dec.Number64(ptr), "number64")
}

// Quoted reads a quoted string.
func (dec *Decoder) Quoted(ptr *string) bool {
	if !dec.Special('"') {
		return false
	}
	var sb strings.Builder
	for {
		ch, ok := dec.readByte()
		if !ok {
			return false
		}

		if ch == '"' {
			break
		}

		if ch == '\\' {
			ch, ok = dec.readByte()
			if !ok {
				return false
			}
			if ch != '"' && ch != '\\' {
				return dec.returnErr(&DecoderExpectError{Message: "invalid quoted-specials escape"})
			}
		} else if ch == '\r' || ch == '\n' || ch == 0 {
			return dec.returnErr(&DecoderExpectError{Message: "invalid character in quoted string"})
		}

		sb.WriteByte(ch)
	}
	*ptr = sb.String()
	return true
}

// Literal reads a literal. LiteralContinuation is invoked once the literal
// size is known.
func (dec *Decoder) Literal(ptr *[]byte) bool {
	if !dec.Special('{') {
		return false
	}
	var size int64
	if !dec.ExpectNumber64(&size) {
		return false
	}
	nonSync := dec.Special('+')
	if !dec.ExpectSpecial('}') || !dec.ExpectCRLF() {
		return false
	}

	if dec.MaxLiteralSize > 0 && size > dec.MaxLiteralSize {
		return dec.returnErr(ErrLiteralTooLarge)
	}
	if dec.LiteralContinuation != nil {
		if err := dec.LiteralContinuation(size, nonSync); err != nil {
			return dec.returnErr(err)
		}
	}

	b := make([]byte, size)
	if _, err := io.ReadFull(dec.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return dec.returnErr(err)
	}
	*ptr = b
	return true
}

func (dec *Decoder) ExpectLiteral(ptr *[]byte) bool {
	return dec.Expect(dec.Literal(ptr), "literal")
}

// String reads a quoted string or a literal.
func (dec *Decoder) String(ptr *string) bool {
	if dec.Quoted(ptr) {
		return true
	}
	var b []byte
	if dec.Literal(&b) {
		*ptr = string(b)
		return true
	}
	return false
}

func (dec *Decoder) ExpectString(ptr *string) bool {
	return dec.Expect(dec.String(ptr), "string")
}

// AString reads an atom-like string, a quoted string or a literal.
func (dec *Decoder) AString(ptr *string) bool {
	if dec.err != nil {
		return false
	}
	if dec.String(ptr) {
		return true
	}
	if dec.err != nil {
		return false
	}
	return dec.Func(ptr, IsAStringChar)
}

func (dec *Decoder) ExpectAString(ptr *string) bool {
	return dec.Expect(dec.AString(ptr), "astring")
}

// ExpectMailbox reads a mailbox name, decoding modified UTF-7.
func (dec *Decoder) ExpectMailbox(ptr *string) bool {
	var name string
	if !dec.ExpectAString(&name) {
		return false
	}
	if strings.EqualFold(name, imap.InboxName) {
		*ptr = imap.InboxName
		return true
	}
	name, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		return dec.returnErr(&DecoderExpectError{Message: fmt.Sprintf("invalid mailbox name: %v", err)})
	}
	*ptr = name
	return true
}

// List reads a parenthesized list. f is called for each item. It returns
// false if the next element isn't a list.
func (dec *Decoder) List(f func() error) (isList bool, err error) {
	if !dec.Special('(') {
		return false, dec.Err()
	}
	if dec.Special(')') {
		return true, nil
	}

	for {
		if err := f(); err != nil {
			return true, err
		}

		if dec.Special(')') {
			return true, nil
		} else if !dec.ExpectSP() {
			return true, dec.Err()
		}
	}
}

func (dec *Decoder) ExpectList(f func() error) error {
	isList, err := dec.List(f)
	if err != nil {
		return err
	} else if !dec.Expect(isList, "(") {
		return dec.Err()
	}
	return nil
}

func (dec *Decoder) numSet(kind NumKind) (imap.NumSet, bool) {
	var s string
	ok := dec.Func(&s, func(ch byte) bool {
		return (ch >= '0' && ch <= '9') || ch == ':' || ch == ',' || ch == '*'
	})
	if !ok {
		return nil, false
	}
	var (
		numSet imap.NumSet
		err    error
	)
	switch kind {
	case NumKindSeq:
		numSet, err = imap.ParseSeqSet(s)
	case NumKindUID:
		numSet, err = imap.ParseUIDSet(s)
	}
	if err != nil {
		return nil, dec.returnErr(err)
	}
	return numSet, true
}

func (dec *Decoder) ExpectNumSet(kind NumKind, ptr *imap.NumSet) bool {
	numSet, ok := dec.numSet(kind)
	if !dec.Expect(ok, "sequence-set") {
		return false
	}
	*ptr = numSet
	return true
}

func (dec *Decoder) ExpectUIDSet(ptr *imap.UIDSet) bool {
	var numSet imap.NumSet
	if !dec.ExpectNumSet(NumKindUID, &numSet) {
		return false
	}
	*ptr = numSet.(imap.UIDSet)
	return true
}

// DecoderExpectError is an error due to the Decoder.Expect family of methods.
type DecoderExpectError struct {
	Message string
}

func (err *DecoderExpectError) Error() string {
	return fmt.Sprintf("imapwire: %v", err.Message)
}
