// Package internal contains wire helpers shared by the server transport.
package internal

import (
	"fmt"
	"time"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/internal/imapwire"
)

func ReadFlagList(dec *imapwire.Decoder) ([]imap.Flag, error) {
	var flags []imap.Flag
	err := dec.ExpectList(func() error {
		flag, err := ReadFlag(dec)
		if err != nil {
			return err
		}
		flags = append(flags, flag)
		return nil
	})
	return flags, err
}

func ReadFlag(dec *imapwire.Decoder) (imap.Flag, error) {
	isSystem := dec.Special('\\')
	if isSystem && dec.Special('*') {
		return imap.FlagWildcard, nil // flag-perm
	}
	var name string
	if !dec.ExpectAtom(&name) {
		return "", fmt.Errorf("in flag: %w", dec.Err())
	}
	if isSystem {
		name = "\\" + name
	}
	return imap.Flag(name), nil
}

// ExpectDate reads a search date, either quoted or as an atom.
func ExpectDate(dec *imapwire.Decoder) (time.Time, error) {
	var s string
	if !dec.Quoted(&s) && !dec.ExpectAtom(&s) {
		return time.Time{}, dec.Err()
	}
	t, err := imap.ParseDate(s)
	if err != nil {
		return time.Time{}, &imapwire.DecoderExpectError{Message: err.Error()}
	}
	return t, nil
}

// DecodeDateTime reads an optional quoted date-time. The zero time is returned
// if the next token isn't a quoted string.
func DecodeDateTime(dec *imapwire.Decoder) (time.Time, error) {
	var s string
	if !dec.Quoted(&s) {
		return time.Time{}, dec.Err()
	}
	t, err := imap.ParseDateTime(s)
	if err != nil {
		return time.Time{}, &imapwire.DecoderExpectError{Message: err.Error()}
	}
	return t, nil
}
