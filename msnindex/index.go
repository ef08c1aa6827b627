// Package msnindex maps message UIDs to message sequence numbers.
//
// Sequence numbers are dense: the messages of a mailbox view are numbered from
// 1 to N in ascending UID order. Removing a message renumbers every message
// after it, while UIDs never change.
package msnindex

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/emersion/go-imapsession"
)

var (
	// ErrDuplicateUID is returned by Index.Add if the UID is already mapped.
	ErrDuplicateUID = errors.New("msnindex: duplicate UID")
	// ErrNotFound is returned by Index.Expunge if the UID is not mapped.
	ErrNotFound = errors.New("msnindex: UID not found")
)

// Index is a bidirectional UID to sequence number map.
//
// It is safe for concurrent use: readers never observe a half-applied
// renumbering.
type Index struct {
	mutex      sync.RWMutex
	uids       []imap.UID // sequence number - 1 -> UID
	msns       map[imap.UID]uint32
	highestUID imap.UID
	// ascending is true as long as UIDs were added in strictly increasing
	// order, which makes the UID list sorted.
	ascending bool
}

// New creates an index from a list of UIDs, assigned sequence numbers in
// order. The list must not contain duplicates.
func New(uids ...imap.UID) (*Index, error) {
	idx := &Index{
		uids:      make([]imap.UID, 0, len(uids)),
		msns:      make(map[imap.UID]uint32, len(uids)),
		ascending: true,
	}
	for _, uid := range uids {
		if _, err := idx.Add(uid); err != nil {
			return nil, fmt.Errorf("msnindex: failed to load UID %v: %w", uid, err)
		}
	}
	return idx, nil
}

// Add appends a UID and returns its sequence number.
func (idx *Index) Add(uid imap.UID) (uint32, error) {
	if uid == 0 {
		return 0, fmt.Errorf("msnindex: invalid zero UID")
	}

	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	if _, ok := idx.msns[uid]; ok {
		return 0, ErrDuplicateUID
	}
	if uid <= idx.highestUID {
		idx.ascending = false
	}

	idx.uids = append(idx.uids, uid)
	msn := uint32(len(idx.uids))
	idx.msns[uid] = msn
	if uid > idx.highestUID {
		idx.highestUID = uid
	}
	return msn, nil
}

// Expunge removes a UID and returns the sequence number it had. Every message
// after it is renumbered.
func (idx *Index) Expunge(uid imap.UID) (uint32, error) {
	idx.mutex.Lock()
	defer idx.mutex.Unlock()

	msn, ok := idx.msns[uid]
	if !ok {
		return 0, ErrNotFound
	}

	delete(idx.msns, uid)
	i := int(msn) - 1
	copy(idx.uids[i:], idx.uids[i+1:])
	idx.uids = idx.uids[:len(idx.uids)-1]
	for j := i; j < len(idx.uids); j++ {
		idx.msns[idx.uids[j]] = uint32(j + 1)
	}
	return msn, nil
}

// UID returns the UID of a sequence number. ok is false if the sequence number
// is out of range.
func (idx *Index) UID(msn uint32) (uid imap.UID, ok bool) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	if msn == 0 || int(msn) > len(idx.uids) {
		return 0, false
	}
	return idx.uids[msn-1], true
}

// MSN returns the sequence number of a UID. ok is false if the UID is unknown.
func (idx *Index) MSN(uid imap.UID) (msn uint32, ok bool) {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	msn, ok = idx.msns[uid]
	return msn, ok
}

// Len returns the number of messages, which is also the highest sequence
// number.
func (idx *Index) Len() uint32 {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()
	return uint32(len(idx.uids))
}

// HighestUID returns the highest UID ever added. Expunging the message with
// the highest UID does not decrease it.
func (idx *Index) HighestUID() imap.UID {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()
	return idx.highestUID
}

// MaxUID returns the largest UID currently in the index, zero if empty. Unlike
// HighestUID, it goes down when the last message is expunged.
func (idx *Index) MaxUID() imap.UID {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()
	if len(idx.uids) == 0 {
		return 0
	}
	if idx.ascending {
		return idx.uids[len(idx.uids)-1]
	}
	var max imap.UID
	for _, uid := range idx.uids {
		if uid > max {
			max = uid
		}
	}
	return max
}

// Ascending reports whether UIDs are ordered like sequence numbers.
func (idx *Index) Ascending() bool {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()
	return idx.ascending
}

// UIDs returns a snapshot of the UIDs in sequence number order.
func (idx *Index) UIDs() []imap.UID {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()
	uids := make([]imap.UID, len(idx.uids))
	copy(uids, idx.uids)
	return uids
}

// SeqRangeUIDs returns the UIDs of the messages in an inclusive sequence
// number range, clamped to the index bounds.
func (idx *Index) SeqRangeUIDs(start, stop uint32) []imap.UID {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	if start == 0 {
		start = 1
	}
	if int(stop) > len(idx.uids) {
		stop = uint32(len(idx.uids))
	}
	if start > stop {
		return nil
	}
	return append([]imap.UID(nil), idx.uids[start-1:stop]...)
}

// Check verifies the index invariants: sequence numbers are contiguous, both
// directions agree, and no UID exceeds the highest UID.
func (idx *Index) Check() error {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()

	if len(idx.uids) != len(idx.msns) {
		return fmt.Errorf("msnindex: %v sequence numbers but %v UIDs", len(idx.uids), len(idx.msns))
	}
	for i, uid := range idx.uids {
		msn, ok := idx.msns[uid]
		if !ok {
			return fmt.Errorf("msnindex: UID %v at sequence number %v missing from reverse map", uid, i+1)
		}
		if msn != uint32(i+1) {
			return fmt.Errorf("msnindex: UID %v maps to sequence number %v, want %v", uid, msn, i+1)
		}
		if uid > idx.highestUID {
			return fmt.Errorf("msnindex: UID %v above highest UID %v", uid, idx.highestUID)
		}
	}
	if idx.ascending && !sort.SliceIsSorted(idx.uids, func(i, j int) bool { return idx.uids[i] < idx.uids[j] }) {
		return fmt.Errorf("msnindex: UIDs out of order")
	}
	return nil
}

// MustCheck panics if the index invariants are violated.
func (idx *Index) MustCheck() {
	if err := idx.Check(); err != nil {
		panic(err)
	}
}
