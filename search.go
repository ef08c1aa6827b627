package imap

import (
	"time"
)

// SearchKeyKind identifies the kind of a SearchKey.
type SearchKeyKind int

const (
	SearchKeyAll SearchKeyKind = iota
	SearchKeySeqSet
	SearchKeyUID
	SearchKeyFlag
	SearchKeyNotFlag
	SearchKeyNew
	SearchKeyOld
	SearchKeyHeader
	SearchKeyBody
	SearchKeyText
	SearchKeyBefore
	SearchKeyOn
	SearchKeySince
	SearchKeySentBefore
	SearchKeySentOn
	SearchKeySentSince
	SearchKeyLarger
	SearchKeySmaller
	SearchKeyAnd
	SearchKeyOr
	SearchKeyNot
)

// SearchKey is a node of a SEARCH command query, as sent by the client.
//
// Leaf keys use the field matching their kind. And holds any number of
// children, Or exactly two and Not exactly one.
type SearchKey struct {
	Kind SearchKeyKind

	SeqSet SeqSet
	UIDSet UIDSet
	Flag   Flag
	// Header is the header field name for SearchKeyHeader.
	Header string
	// Value is the substring to look for in header, body and text keys.
	Value string
	// Only the date is used, the time and timezone are ignored
	Date time.Time
	Size int64

	Children []SearchKey
}

// SearchAll matches every message.
func SearchAll() SearchKey {
	return SearchKey{Kind: SearchKeyAll}
}

// SearchSeqSet matches messages by sequence number.
func SearchSeqSet(set SeqSet) SearchKey {
	return SearchKey{Kind: SearchKeySeqSet, SeqSet: set}
}

// SearchUIDSet matches messages by UID.
func SearchUIDSet(set UIDSet) SearchKey {
	return SearchKey{Kind: SearchKeyUID, UIDSet: set}
}

// SearchFlag matches messages with the flag set.
func SearchFlag(flag Flag) SearchKey {
	return SearchKey{Kind: SearchKeyFlag, Flag: flag}
}

// SearchNotFlag matches messages without the flag.
func SearchNotFlag(flag Flag) SearchKey {
	return SearchKey{Kind: SearchKeyNotFlag, Flag: flag}
}

// SearchNew matches recent messages which have not been seen.
func SearchNew() SearchKey {
	return SearchKey{Kind: SearchKeyNew}
}

// SearchOld matches messages which are not recent.
func SearchOld() SearchKey {
	return SearchKey{Kind: SearchKeyOld}
}

// SearchHeader matches messages with a header field containing value.
func SearchHeader(name, value string) SearchKey {
	return SearchKey{Kind: SearchKeyHeader, Header: name, Value: value}
}

// SearchBody matches messages whose body contains value.
func SearchBody(value string) SearchKey {
	return SearchKey{Kind: SearchKeyBody, Value: value}
}

// SearchText matches messages whose header or body contains value.
func SearchText(value string) SearchKey {
	return SearchKey{Kind: SearchKeyText, Value: value}
}

// SearchBefore matches messages with an internal date before the day.
func SearchBefore(t time.Time) SearchKey {
	return SearchKey{Kind: SearchKeyBefore, Date: t}
}

// SearchOn matches messages with an internal date on the day.
func SearchOn(t time.Time) SearchKey {
	return SearchKey{Kind: SearchKeyOn, Date: t}
}

// SearchSince matches messages with an internal date after the day.
func SearchSince(t time.Time) SearchKey {
	return SearchKey{Kind: SearchKeySince, Date: t}
}

// SearchSentBefore matches messages with a Date header before the day.
func SearchSentBefore(t time.Time) SearchKey {
	return SearchKey{Kind: SearchKeySentBefore, Date: t}
}

// SearchSentOn matches messages with a Date header on the day.
func SearchSentOn(t time.Time) SearchKey {
	return SearchKey{Kind: SearchKeySentOn, Date: t}
}

// SearchSentSince matches messages with a Date header after the day.
func SearchSentSince(t time.Time) SearchKey {
	return SearchKey{Kind: SearchKeySentSince, Date: t}
}

// SearchLarger matches messages larger than n octets.
func SearchLarger(n int64) SearchKey {
	return SearchKey{Kind: SearchKeyLarger, Size: n}
}

// SearchSmaller matches messages smaller than n octets.
func SearchSmaller(n int64) SearchKey {
	return SearchKey{Kind: SearchKeySmaller, Size: n}
}

// SearchAnd matches messages matching all keys.
func SearchAnd(keys ...SearchKey) SearchKey {
	return SearchKey{Kind: SearchKeyAnd, Children: keys}
}

// SearchOr matches messages matching a or b.
func SearchOr(a, b SearchKey) SearchKey {
	return SearchKey{Kind: SearchKeyOr, Children: []SearchKey{a, b}}
}

// SearchNot matches messages not matching key.
func SearchNot(key SearchKey) SearchKey {
	return SearchKey{Kind: SearchKeyNot, Children: []SearchKey{key}}
}
