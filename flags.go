package imap

import (
	"sort"
	"strings"
)

// SystemFlags is a bit set of the system flags.
type SystemFlags uint8

const (
	SystemFlagSeen SystemFlags = 1 << iota
	SystemFlagAnswered
	SystemFlagFlagged
	SystemFlagDeleted
	SystemFlagDraft
	SystemFlagRecent
)

var systemFlags = []struct {
	bit  SystemFlags
	flag Flag
}{
	{SystemFlagSeen, FlagSeen},
	{SystemFlagAnswered, FlagAnswered},
	{SystemFlagFlagged, FlagFlagged},
	{SystemFlagDeleted, FlagDeleted},
	{SystemFlagDraft, FlagDraft},
	{SystemFlagRecent, FlagRecent},
}

func systemFlagBit(flag Flag) (SystemFlags, bool) {
	for _, sf := range systemFlags {
		if strings.EqualFold(string(sf.flag), string(flag)) {
			return sf.bit, true
		}
	}
	return 0, false
}

// Flags is an immutable set of message flags.
//
// The zero value is an empty set. Methods never modify the receiver: changes
// return a new value, so a Flags can be shared between goroutines.
type Flags struct {
	system   SystemFlags
	keywords []string // sorted, never mutated after construction
}

// NewFlags builds a flag set from a list of flags. Duplicates are ignored and
// system flags are matched case-insensitively.
func NewFlags(flags ...Flag) Flags {
	return Flags{}.With(flags...)
}

// FlagsFromSystem builds a flag set from a system flag bit set and a list of
// keywords.
func FlagsFromSystem(system SystemFlags, keywords ...string) Flags {
	f := Flags{system: system}
	for _, kw := range keywords {
		f = f.With(Flag(kw))
	}
	return f
}

// System returns the system flags bit set.
func (f Flags) System() SystemFlags {
	return f.system
}

// Keywords returns the keywords (non-system flags) in sorted order.
func (f Flags) Keywords() []string {
	return append([]string(nil), f.keywords...)
}

// Has reports whether flag is part of the set.
func (f Flags) Has(flag Flag) bool {
	if bit, ok := systemFlagBit(flag); ok {
		return f.system&bit != 0
	}
	_, ok := f.search(string(flag))
	return ok
}

// Len returns the number of flags in the set.
func (f Flags) Len() int {
	n := len(f.keywords)
	for _, sf := range systemFlags {
		if f.system&sf.bit != 0 {
			n++
		}
	}
	return n
}

// With returns a copy of f with the flags added.
func (f Flags) With(flags ...Flag) Flags {
	out := Flags{system: f.system, keywords: f.keywords}
	copied := false
	for _, flag := range flags {
		if bit, ok := systemFlagBit(flag); ok {
			out.system |= bit
			continue
		}
		if flag == "" || flag.IsSystem() {
			continue
		}
		i, ok := out.search(string(flag))
		if ok {
			continue
		}
		if !copied {
			out.keywords = append([]string(nil), out.keywords...)
			copied = true
		}
		out.keywords = append(out.keywords, "")
		copy(out.keywords[i+1:], out.keywords[i:])
		out.keywords[i] = string(flag)
	}
	return out
}

// Without returns a copy of f with the flags removed.
func (f Flags) Without(flags ...Flag) Flags {
	out := Flags{system: f.system, keywords: f.keywords}
	copied := false
	for _, flag := range flags {
		if bit, ok := systemFlagBit(flag); ok {
			out.system &^= bit
			continue
		}
		i, ok := out.search(string(flag))
		if !ok {
			continue
		}
		if !copied {
			out.keywords = append([]string(nil), out.keywords...)
			copied = true
		}
		out.keywords = append(out.keywords[:i], out.keywords[i+1:]...)
	}
	return out
}

// Union returns the flags present in f or other.
func (f Flags) Union(other Flags) Flags {
	return f.With(other.List()...)
}

// Difference returns the flags present in f but not in other.
func (f Flags) Difference(other Flags) Flags {
	return f.Without(other.List()...)
}

// Equal reports whether both sets contain the same flags.
func (f Flags) Equal(other Flags) bool {
	if f.system != other.system || len(f.keywords) != len(other.keywords) {
		return false
	}
	for i := range f.keywords {
		if f.keywords[i] != other.keywords[i] {
			return false
		}
	}
	return true
}

// List returns the flags, system flags first, keywords in sorted order. The
// result is never nil.
func (f Flags) List() []Flag {
	l := make([]Flag, 0, f.Len())
	for _, sf := range systemFlags {
		if f.system&sf.bit != 0 {
			l = append(l, sf.flag)
		}
	}
	for _, kw := range f.keywords {
		l = append(l, Flag(kw))
	}
	return l
}

// String returns the flags as a space-separated list.
func (f Flags) String() string {
	l := f.List()
	s := make([]string, len(l))
	for i, flag := range l {
		s[i] = string(flag)
	}
	return strings.Join(s, " ")
}

func (f Flags) search(kw string) (int, bool) {
	i := sort.SearchStrings(f.keywords, kw)
	return i, i < len(f.keywords) && f.keywords[i] == kw
}
