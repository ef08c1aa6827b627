package mailbox

import (
	"strings"

	"github.com/emersion/go-imapsession"
)

// listQuery is the reference and mailbox pattern of a LIST command, matched
// against canonical mailbox names.
//
// The reference is a literal prefix. In the pattern, "*" matches anything
// and "%" matches anything but Delim.
type listQuery struct {
	prefix  string
	pattern string
}

func newListQuery(ref, pattern string) listQuery {
	if rest, ok := strings.CutPrefix(pattern, string(Delim)); ok {
		// absolute pattern, the reference doesn't apply
		return listQuery{pattern: rest}
	}
	if ref == "" {
		return listQuery{pattern: imap.CanonicalMailboxName(pattern)}
	}
	ref = imap.CanonicalMailboxName(strings.TrimSuffix(ref, string(Delim)))
	return listQuery{prefix: ref + string(Delim), pattern: pattern}
}

func (q listQuery) match(name string) bool {
	rest, ok := strings.CutPrefix(name, q.prefix)
	return ok && matchWildcard(rest, q.pattern)
}

func matchWildcard(name, pattern string) bool {
	for pattern != "" {
		c := pattern[0]
		if c != '*' && c != '%' {
			if name == "" || name[0] != c {
				return false
			}
			name, pattern = name[1:], pattern[1:]
			continue
		}

		pattern = pattern[1:]
		for i := 0; i <= len(name); i++ {
			if matchWildcard(name[i:], pattern) {
				return true
			}
			if i < len(name) && c == '%' && name[i] == Delim {
				return false
			}
		}
		return false
	}
	return name == ""
}
