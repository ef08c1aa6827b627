package searchquery

import (
	"fmt"

	"github.com/emersion/go-imapsession"
)

// Index is the view of a mailbox used to resolve sequence numbers.
// *msnindex.Index implements it.
type Index interface {
	Len() uint32
	MaxUID() imap.UID
	Ascending() bool
	UID(msn uint32) (imap.UID, bool)
	SeqRangeUIDs(start, stop uint32) []imap.UID
}

// Compile translates a search key into a criterion tree.
//
// Sequence number ranges are turned into UID ranges using idx, and "*" is
// replaced with the highest sequence number or the highest UID. Compile is
// pure: compiling the same key twice against an unchanged index returns equal
// trees.
func Compile(key imap.SearchKey, idx Index) (Criterion, error) {
	switch key.Kind {
	case imap.SearchKeyAll:
		return All{}, nil
	case imap.SearchKeySeqSet:
		return compileSeqSet(key.SeqSet, idx), nil
	case imap.SearchKeyUID:
		return compileUIDSet(key.UIDSet, idx), nil
	case imap.SearchKeyFlag:
		return FlagSet{Flag: canonicalFlag(key.Flag), Set: true}, nil
	case imap.SearchKeyNotFlag:
		return FlagSet{Flag: canonicalFlag(key.Flag), Set: false}, nil
	case imap.SearchKeyNew:
		return And{Children: []Criterion{
			FlagSet{Flag: imap.FlagRecent, Set: true},
			FlagSet{Flag: imap.FlagSeen, Set: false},
		}}, nil
	case imap.SearchKeyOld:
		return FlagSet{Flag: imap.FlagRecent, Set: false}, nil
	case imap.SearchKeyHeader:
		if key.Header == "" {
			return nil, fmt.Errorf("searchquery: empty header field name")
		}
		return HeaderContains{Name: key.Header, Value: key.Value}, nil
	case imap.SearchKeyBody:
		return BodyContains{Value: key.Value}, nil
	case imap.SearchKeyText:
		return TextContains{Value: key.Value}, nil
	case imap.SearchKeyBefore:
		return InternalDate{Op: DateBefore, Date: imap.Day(key.Date)}, nil
	case imap.SearchKeyOn:
		return InternalDate{Op: DateOn, Date: imap.Day(key.Date)}, nil
	case imap.SearchKeySince:
		return InternalDate{Op: DateAfter, Date: imap.Day(key.Date)}, nil
	case imap.SearchKeySentBefore:
		return HeaderDate{Name: "Date", Op: DateBefore, Date: imap.Day(key.Date)}, nil
	case imap.SearchKeySentOn:
		return HeaderDate{Name: "Date", Op: DateOn, Date: imap.Day(key.Date)}, nil
	case imap.SearchKeySentSince:
		return HeaderDate{Name: "Date", Op: DateAfter, Date: imap.Day(key.Date)}, nil
	case imap.SearchKeyLarger:
		return Size{Op: SizeGreater, N: key.Size}, nil
	case imap.SearchKeySmaller:
		return Size{Op: SizeLess, N: key.Size}, nil
	case imap.SearchKeyAnd:
		if len(key.Children) == 0 {
			return All{}, nil
		}
		children := make([]Criterion, len(key.Children))
		for i, child := range key.Children {
			c, err := Compile(child, idx)
			if err != nil {
				return nil, err
			}
			children[i] = c
		}
		return And{Children: children}, nil
	case imap.SearchKeyOr:
		if len(key.Children) != 2 {
			return nil, fmt.Errorf("searchquery: OR takes 2 keys, got %v", len(key.Children))
		}
		left, err := Compile(key.Children[0], idx)
		if err != nil {
			return nil, err
		}
		right, err := Compile(key.Children[1], idx)
		if err != nil {
			return nil, err
		}
		return Or{Left: left, Right: right}, nil
	case imap.SearchKeyNot:
		if len(key.Children) != 1 {
			return nil, fmt.Errorf("searchquery: NOT takes 1 key, got %v", len(key.Children))
		}
		child, err := Compile(key.Children[0], idx)
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	default:
		return nil, fmt.Errorf("searchquery: unknown search key kind %v", key.Kind)
	}
}

func compileSeqSet(seqSet imap.SeqSet, idx Index) UIDRange {
	n := idx.Len()
	if n == 0 {
		return UIDRange{}
	}

	var uids imap.UIDSet
	for _, r := range seqSet {
		r = r.Resolve(n)
		if r.Start > n {
			continue
		}
		if r.Stop > n {
			r.Stop = n
		}
		if idx.Ascending() {
			start, _ := idx.UID(r.Start)
			stop, _ := idx.UID(r.Stop)
			uids.AddRange(start, stop)
		} else {
			uids.AddNum(idx.SeqRangeUIDs(r.Start, r.Stop)...)
		}
	}
	return UIDRange{Ranges: []imap.UIDRange(uids)}
}

func compileUIDSet(uidSet imap.UIDSet, idx Index) UIDRange {
	highest := idx.MaxUID()

	var uids imap.UIDSet
	for _, r := range uidSet {
		if r.Start == 0 || r.Stop == 0 {
			if highest == 0 {
				continue
			}
			r = r.Resolve(highest)
		}
		uids.AddRange(r.Start, r.Stop)
	}
	return UIDRange{Ranges: []imap.UIDRange(uids)}
}

func canonicalFlag(flag imap.Flag) imap.Flag {
	if l := imap.NewFlags(flag).List(); len(l) == 1 {
		return l[0]
	}
	return flag
}
