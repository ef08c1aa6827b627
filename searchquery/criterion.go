// Package searchquery compiles SEARCH keys into criteria trees and evaluates
// them against messages.
//
// Compilation resolves sequence numbers and "*" against a mailbox view, so a
// compiled Criterion only refers to UIDs and stays valid while other sessions
// renumber their own views.
package searchquery

import (
	"time"

	"github.com/emersion/go-imapsession"
)

// Criterion is a node of a compiled search query.
type Criterion interface {
	criterion()
}

var (
	_ Criterion = All{}
	_ Criterion = UIDRange{}
	_ Criterion = FlagSet{}
	_ Criterion = HeaderContains{}
	_ Criterion = HeaderDate{}
	_ Criterion = InternalDate{}
	_ Criterion = Size{}
	_ Criterion = BodyContains{}
	_ Criterion = TextContains{}
	_ Criterion = And{}
	_ Criterion = Or{}
	_ Criterion = Not{}
)

// All matches every message.
type All struct{}

// UIDRange matches messages whose UID falls in one of the ranges. Ranges are
// static (no "*"), sorted and disjoint. An empty UIDRange matches nothing.
type UIDRange struct {
	Ranges []imap.UIDRange
}

// FlagSet matches messages with (Set) or without (!Set) a flag.
type FlagSet struct {
	Flag imap.Flag
	Set  bool
}

// HeaderContains matches messages with a header field containing a
// substring, compared case-insensitively. An empty value matches any message
// with the field.
type HeaderContains struct {
	Name  string
	Value string
}

// DateOp is a date comparison operator. Dates are compared at day
// granularity.
type DateOp int

const (
	DateBefore DateOp = iota
	DateOn
	DateAfter
)

// HeaderDate compares the date parsed from a header field.
type HeaderDate struct {
	Name string
	Op   DateOp
	Date time.Time
}

// InternalDate compares the internal date of messages.
type InternalDate struct {
	Op   DateOp
	Date time.Time
}

// SizeOp is a size comparison operator.
type SizeOp int

const (
	SizeGreater SizeOp = iota
	SizeLess
)

// Size compares the RFC 822 size of messages.
type Size struct {
	Op SizeOp
	N  int64
}

// BodyContains matches messages whose body contains a substring.
type BodyContains struct {
	Value string
}

// TextContains matches messages whose header or body contains a substring.
type TextContains struct {
	Value string
}

// And matches messages matched by all children.
type And struct {
	Children []Criterion
}

// Or matches messages matched by Left or Right.
type Or struct {
	Left, Right Criterion
}

// Not matches messages not matched by Child.
type Not struct {
	Child Criterion
}

func (All) criterion()            {}
func (UIDRange) criterion()       {}
func (FlagSet) criterion()        {}
func (HeaderContains) criterion() {}
func (HeaderDate) criterion()     {}
func (InternalDate) criterion()   {}
func (Size) criterion()           {}
func (BodyContains) criterion()   {}
func (TextContains) criterion()   {}
func (And) criterion()            {}
func (Or) criterion()             {}
func (Not) criterion()            {}

// Contains reports whether uid is matched by the ranges.
func (r UIDRange) Contains(uid imap.UID) bool {
	for _, rng := range r.Ranges {
		if rng.Start <= uid && uid <= rng.Stop {
			return true
		}
	}
	return false
}

// Requirements describes which parts of a message a criterion inspects.
type Requirements struct {
	Header bool
	Body   bool
}

// Needs walks a criterion and reports the message data evaluation requires.
func Needs(c Criterion) Requirements {
	var req Requirements
	walk(c, func(c Criterion) {
		switch c.(type) {
		case HeaderContains, HeaderDate:
			req.Header = true
		case BodyContains, TextContains:
			req.Header = true
			req.Body = true
		}
	})
	return req
}

func walk(c Criterion, f func(Criterion)) {
	f(c)
	switch c := c.(type) {
	case And:
		for _, child := range c.Children {
			walk(child, f)
		}
	case Or:
		walk(c.Left, f)
		walk(c.Right, f)
	case Not:
		walk(c.Child, f)
	}
}
