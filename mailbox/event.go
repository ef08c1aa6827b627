package mailbox

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/msnindex"
)

// EventKind is the kind of a mailbox change.
type EventKind int

const (
	EventAppend EventKind = iota + 1
	EventFlags
	EventExpunge
	EventDeleted
)

func (kind EventKind) String() string {
	switch kind {
	case EventAppend:
		return "append"
	case EventFlags:
		return "flags"
	case EventExpunge:
		return "expunge"
	case EventDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(kind))
	}
}

// Event is an immutable record of a mailbox change made by another session.
//
// Events refer to messages by UID: sequence numbers are only assigned when a
// view applies the event to its own index.
type Event struct {
	Kind  EventKind
	UID   imap.UID
	Flags imap.Flags
	// Recent is set on append events for the single view which owns the
	// \Recent flag of the new message.
	Recent bool
}

// UpdateWriter writes the unsolicited responses produced by draining a view.
type UpdateWriter interface {
	WriteNumMessages(n uint32) error
	WriteNumRecent(n uint32) error
	WriteExpunge(seqNum uint32) error
	WriteMessageFlags(seqNum uint32, uid imap.UID, flags []imap.Flag) error
}

func (v *View) queueEvent(ev Event) {
	var notify chan<- struct{}
	v.mutex.Lock()
	if v.closed {
		v.mutex.Unlock()
		panic(fmt.Errorf("mailbox: %v event delivered to closed view", ev.Kind))
	}
	v.queue = append(v.queue, ev)
	if ev.Kind == EventDeleted {
		v.deleted = true
	}
	notify = v.notify
	v.mutex.Unlock()

	if notify != nil {
		select {
		case notify <- struct{}{}:
			// we notified View.Idle about the event
		default:
			// an earlier notification hasn't been consumed yet
		}
	}
}

// Pending returns the number of queued events.
func (v *View) Pending() int {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return len(v.queue)
}

// Poll applies the queued events to the view and writes the corresponding
// unsolicited responses.
//
// If allowExpunge is false, draining stops before the first expunge event:
// the remaining events stay queued. Poll returns ErrMailboxDeleted once the
// mailbox deletion event is reached, the caller must then deselect.
func (v *View) Poll(w UpdateWriter, allowExpunge bool) error {
	var events []Event
	v.mutex.Lock()
	if allowExpunge {
		events = v.queue
		v.queue = nil
	} else {
		stopIndex := -1
		for i, ev := range v.queue {
			if ev.Kind == EventExpunge {
				stopIndex = i
				break
			}
			events = append(events, ev)
		}
		if stopIndex >= 0 {
			v.queue = v.queue[stopIndex:]
		} else {
			v.queue = nil
		}
	}
	v.mutex.Unlock()

	// consecutive appends are reported with a single EXISTS
	appended, recent := false, false
	flushExists := func() error {
		if !appended {
			return nil
		}
		appended = false
		if err := w.WriteNumMessages(v.index.Len()); err != nil {
			return err
		}
		if recent {
			recent = false
			return w.WriteNumRecent(uint32(len(v.recent)))
		}
		return nil
	}

	for _, ev := range events {
		if ev.Kind != EventAppend {
			if err := flushExists(); err != nil {
				return err
			}
		}

		switch ev.Kind {
		case EventAppend:
			if _, err := v.index.Add(ev.UID); err != nil {
				if errors.Is(err, msnindex.ErrDuplicateUID) {
					panic(fmt.Errorf("mailbox: append event for known UID %v", ev.UID))
				}
				return err
			}
			appended = true
			if ev.Recent {
				v.recent[ev.UID] = struct{}{}
				recent = true
			}
		case EventFlags:
			seqNum, ok := v.index.MSN(ev.UID)
			if !ok {
				// expunged by this session in the meantime
				continue
			}
			if err := w.WriteMessageFlags(seqNum, ev.UID, v.displayFlags(ev.UID, ev.Flags)); err != nil {
				return err
			}
		case EventExpunge:
			seqNum, err := v.index.Expunge(ev.UID)
			if errors.Is(err, msnindex.ErrNotFound) {
				continue
			} else if err != nil {
				return err
			}
			delete(v.recent, ev.UID)
			if err := w.WriteExpunge(seqNum); err != nil {
				return err
			}
		case EventDeleted:
			v.mutex.Lock()
			v.queue = nil
			v.mutex.Unlock()
			return ErrMailboxDeleted
		default:
			panic(fmt.Errorf("mailbox: unknown event %#v", ev))
		}
	}
	if err := flushExists(); err != nil {
		return err
	}
	if debugChecks {
		v.index.MustCheck()
	}
	return nil
}

// Idle continuously writes mailbox updates.
//
// When the stop channel is closed, it returns.
//
// Idle cannot be invoked concurrently from two separate goroutines.
func (v *View) Idle(w UpdateWriter, stop <-chan struct{}) error {
	notify := make(chan struct{}, 64)
	v.mutex.Lock()
	ok := v.notify == nil
	if ok {
		v.notify = notify
	}
	v.mutex.Unlock()
	if !ok {
		return fmt.Errorf("mailbox: only a single View.Idle call is allowed at a time")
	}

	defer func() {
		v.mutex.Lock()
		v.notify = nil
		v.mutex.Unlock()
	}()

	if err := v.Poll(w, true); err != nil {
		return err
	}
	for {
		select {
		case <-notify:
			if err := v.Poll(w, true); err != nil {
				return err
			}
		case <-stop:
			return nil
		}
	}
}

// debugChecks enables index invariant checks after every drain.
var debugChecks = false
