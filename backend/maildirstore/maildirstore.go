// Package maildirstore implements a mailbox store on top of Maildir
// directories.
//
// Each mailbox is a Maildir directory named after an internal mailbox ID, so
// renaming a mailbox doesn't touch the filesystem. UIDs, keywords, \Recent
// and internal dates are kept in a bbolt database next to the directories.
// System flags are stored in the Maildir file names, so they stay in sync
// with other Maildir readers.
package maildirstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-maildir"
	"go.etcd.io/bbolt"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/mailbox"
)

var mailboxesBucket = []byte("mailboxes")

type mailboxMeta struct {
	ID          uint64
	UIDValidity uint32
	UIDNext     imap.UID
	Subscribed  bool
}

type messageRecord struct {
	Key      string
	Keywords []string `json:",omitempty"`
	Recent   bool     `json:",omitempty"`
	Date     time.Time
	Size     int64
}

// Store is a mailbox.Store keeping messages in Maildir directories.
type Store struct {
	root string
	db   *bbolt.DB

	// serializes Maildir synchronization with database updates
	mutex sync.Mutex
}

var _ mailbox.Store = (*Store)(nil)

// Open opens the store rooted at a directory, creating it if necessary.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(root, "imapsession.db"), 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("maildirstore: failed to open database: %w", err)
	}

	s := &Store{root: root, db: db}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(mailboxesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := s.CreateMailbox(context.Background(), imap.InboxName); err != nil && !errors.Is(err, mailbox.ErrMailboxExists) {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) dir(id uint64) maildir.Dir {
	return maildir.Dir(filepath.Join(s.root, "mbox-"+strconv.FormatUint(id, 10)))
}

func mailboxBucketName(id uint64) []byte {
	return []byte("mbox-" + strconv.FormatUint(id, 10))
}

func uidKey(uid imap.UID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(uid))
	return b[:]
}

var (
	uidsBucket = []byte("uids")
	keysBucket = []byte("keys")
)

func getMeta(tx *bbolt.Tx, name string) (*mailboxMeta, error) {
	v := tx.Bucket(mailboxesBucket).Get([]byte(name))
	if v == nil {
		return nil, mailbox.ErrMailboxNotFound
	}
	var meta mailboxMeta
	if err := json.Unmarshal(v, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func putMeta(tx *bbolt.Tx, name string, meta *mailboxMeta) error {
	v, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return tx.Bucket(mailboxesBucket).Put([]byte(name), v)
}

func (s *Store) meta(name string) (*mailboxMeta, error) {
	var meta *mailboxMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		meta, err = getMeta(tx, name)
		return err
	})
	return meta, err
}

func (s *Store) CreateMailbox(ctx context.Context, name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var meta *mailboxMeta
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getMeta(tx, name); err == nil {
			return mailbox.ErrMailboxExists
		}

		// The sequence is never reused, so re-created mailboxes get a new
		// UIDVALIDITY
		id, err := tx.Bucket(mailboxesBucket).NextSequence()
		if err != nil {
			return err
		}
		meta = &mailboxMeta{ID: id, UIDValidity: uint32(id), UIDNext: 1}

		b, err := tx.CreateBucket(mailboxBucketName(id))
		if err != nil {
			return err
		}
		if _, err := b.CreateBucket(uidsBucket); err != nil {
			return err
		}
		if _, err := b.CreateBucket(keysBucket); err != nil {
			return err
		}
		return putMeta(tx, name, meta)
	})
	if err != nil {
		return err
	}

	dir := s.dir(meta.ID)
	if err := os.MkdirAll(string(dir), 0700); err != nil {
		return err
	}
	return dir.Init()
}

func (s *Store) DeleteMailbox(ctx context.Context, name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var id uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		id = meta.ID
		if err := tx.DeleteBucket(mailboxBucketName(id)); err != nil {
			return err
		}
		return tx.Bucket(mailboxesBucket).Delete([]byte(name))
	})
	if err != nil {
		return err
	}
	return os.RemoveAll(string(s.dir(id)))
}

func (s *Store) RenameMailbox(ctx context.Context, oldName, newName string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getMeta(tx, oldName); err != nil {
			return err
		}
		if _, err := getMeta(tx, newName); err == nil {
			return mailbox.ErrMailboxExists
		}

		b := tx.Bucket(mailboxesBucket)
		prefix := oldName + string(mailbox.Delim)
		renamed := make(map[string][]byte)
		err := b.ForEach(func(k, v []byte) error {
			name := string(k)
			if name == oldName || strings.HasPrefix(name, prefix) {
				renamed[name] = append([]byte(nil), v...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for name := range renamed {
			if err := b.Delete([]byte(name)); err != nil {
				return err
			}
		}
		for name, v := range renamed {
			if err := b.Put([]byte(newName+strings.TrimPrefix(name, oldName)), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListMailboxes(ctx context.Context) ([]mailbox.MailboxInfo, error) {
	var l []mailbox.MailboxInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(mailboxesBucket).ForEach(func(k, v []byte) error {
			var meta mailboxMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			l = append(l, mailbox.MailboxInfo{Name: string(k), Subscribed: meta.Subscribed})
			return nil
		})
	})
	return l, err
}

func (s *Store) SetSubscribed(ctx context.Context, name string, subscribed bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		meta.Subscribed = subscribed
		return putMeta(tx, name, meta)
	})
}

func (s *Store) Mailbox(ctx context.Context, name string) (*imap.MailboxDescriptor, error) {
	meta, err := s.meta(name)
	if err != nil {
		return nil, err
	}
	return &imap.MailboxDescriptor{
		Name:        name,
		UIDValidity: meta.UIDValidity,
		UIDNext:     meta.UIDNext,
	}, nil
}

// synchronize assigns UIDs to the messages delivered to the Maildir by other
// programs, and forgets the messages removed from it. Messages found in new/
// are flagged \Recent. The UIDs assigned are returned with their keys.
//
// The caller must hold s.mutex.
func (s *Store) synchronize(name string) (map[string]imap.UID, error) {
	meta, err := s.meta(name)
	if err != nil {
		return nil, err
	}
	dir := s.dir(meta.ID)

	unseen, err := dir.Unseen()
	if err != nil {
		return nil, err
	}
	recent := make(map[string]bool, len(unseen))
	for _, msg := range unseen {
		recent[msg.Key()] = true
	}
	msgs, err := dir.Messages()
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]*maildir.Message, len(msgs))
	for _, msg := range msgs {
		onDisk[msg.Key()] = msg
	}

	added := make(map[string]imap.UID)
	err = s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		b := tx.Bucket(mailboxBucketName(meta.ID))
		uids, keys := b.Bucket(uidsBucket), b.Bucket(keysBucket)

		// forget messages removed behind our back
		var gone [][]byte
		err = keys.ForEach(func(k, v []byte) error {
			if _, ok := onDisk[string(k)]; !ok {
				gone = append(gone, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range gone {
			if err := uids.Delete(keys.Get(k)); err != nil {
				return err
			}
			if err := keys.Delete(k); err != nil {
				return err
			}
		}

		// Maildir keys start with the delivery time
		var unknown []string
		for key := range onDisk {
			if keys.Get([]byte(key)) == nil {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) == 0 {
			return nil
		}
		sort.Strings(unknown)

		for _, key := range unknown {
			msg := onDisk[key]
			fi, err := os.Stat(msg.Filename())
			if err != nil {
				return err
			}
			rec := messageRecord{
				Key:    key,
				Recent: recent[key],
				Date:   fi.ModTime().UTC(),
				Size:   fi.Size(),
			}
			uid := meta.UIDNext
			meta.UIDNext++
			if err := putRecord(uids, keys, uid, &rec); err != nil {
				return err
			}
			added[key] = uid
		}
		return putMeta(tx, name, meta)
	})
	return added, err
}

func putRecord(uids, keys *bbolt.Bucket, uid imap.UID, rec *messageRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := uids.Put(uidKey(uid), v); err != nil {
		return err
	}
	return keys.Put([]byte(rec.Key), uidKey(uid))
}

func (s *Store) ListUIDs(ctx context.Context, name string) ([]imap.UID, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.synchronize(name); err != nil {
		return nil, err
	}

	uids := []imap.UID{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		c := tx.Bucket(mailboxBucketName(meta.ID)).Bucket(uidsBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			uids = append(uids, imap.UID(binary.BigEndian.Uint64(k)))
		}
		return nil
	})
	return uids, err
}

func (s *Store) records(name string, uids []imap.UID) (uint64, []imap.UID, []*messageRecord, error) {
	var (
		id    uint64
		found []imap.UID
		recs  []*messageRecord
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		id = meta.ID
		b := tx.Bucket(mailboxBucketName(id)).Bucket(uidsBucket)
		for _, uid := range uids {
			v := b.Get(uidKey(uid))
			if v == nil {
				continue
			}
			var rec messageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			found = append(found, uid)
			recs = append(recs, &rec)
		}
		return nil
	})
	return id, found, recs, err
}

func (s *Store) Messages(ctx context.Context, name string, uids []imap.UID, withLiteral bool) ([]*mailbox.Message, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id, found, recs, err := s.records(name, uids)
	if err != nil {
		return nil, err
	}
	dir := s.dir(id)

	l := make([]*mailbox.Message, 0, len(found))
	for i, rec := range recs {
		msg, err := dir.MessageByKey(rec.Key)
		if err != nil {
			// removed by another program
			continue
		}

		flags := imap.FlagsFromSystem(systemFlags(msg.Flags()), rec.Keywords...)
		if rec.Recent {
			flags = flags.With(imap.FlagRecent)
		}
		out := &mailbox.Message{
			UID:          found[i],
			Flags:        flags,
			InternalDate: rec.Date,
			Size:         rec.Size,
		}
		if withLiteral {
			if out.Literal, err = readMessage(msg); err != nil {
				return nil, err
			}
		}
		l = append(l, out)
	}
	return l, nil
}

func readMessage(msg *maildir.Message) ([]byte, error) {
	rc, err := msg.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Store) SetFlags(ctx context.Context, name string, uid imap.UID, flags imap.Flags) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.setFlagsLocked(name, uid, flags, time.Time{})
}

func (s *Store) setFlagsLocked(name string, uid imap.UID, flags imap.Flags, date time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		b := tx.Bucket(mailboxBucketName(meta.ID))
		uids, keys := b.Bucket(uidsBucket), b.Bucket(keysBucket)

		v := uids.Get(uidKey(uid))
		if v == nil {
			return mailbox.ErrMessageNotFound
		}
		var rec messageRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}

		msg, err := s.dir(meta.ID).MessageByKey(rec.Key)
		if err != nil {
			return mailbox.ErrMessageNotFound
		}
		if err := msg.SetFlags(maildirFlags(flags.System())); err != nil {
			return err
		}

		rec.Keywords = flags.Keywords()
		rec.Recent = flags.Has(imap.FlagRecent)
		if !date.IsZero() {
			rec.Date = date
		}
		return putRecord(uids, keys, uid, &rec)
	})
}

func (s *Store) AppendMessage(ctx context.Context, name string, flags imap.Flags, date time.Time, literal []byte) (imap.UID, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	meta, err := s.meta(name)
	if err != nil {
		return 0, err
	}

	// pick up external deliveries first, so that they don't get mistaken
	// for ours
	if _, err := s.synchronize(name); err != nil {
		return 0, err
	}

	delivery, err := maildir.NewDelivery(string(s.dir(meta.ID)))
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(delivery, bytes.NewReader(literal)); err != nil {
		delivery.Abort()
		return 0, err
	}
	if err := delivery.Close(); err != nil {
		return 0, err
	}

	added, err := s.synchronize(name)
	if err != nil {
		return 0, err
	}

	var candidates []string
	for key := range added {
		candidates = append(candidates, key)
	}
	sort.Strings(candidates)

	dir := s.dir(meta.ID)
	for _, key := range candidates {
		msg, err := dir.MessageByKey(key)
		if err != nil {
			continue
		}
		b, err := readMessage(msg)
		if err != nil || !bytes.Equal(b, literal) {
			continue
		}
		uid := added[key]
		return uid, s.setFlagsLocked(name, uid, flags, date)
	}
	return 0, fmt.Errorf("maildirstore: delivered message not found in %q", name)
}

func (s *Store) DeleteMessages(ctx context.Context, name string, uids []imap.UID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := getMeta(tx, name)
		if err != nil {
			return err
		}
		b := tx.Bucket(mailboxBucketName(meta.ID))
		uidsB, keysB := b.Bucket(uidsBucket), b.Bucket(keysBucket)
		dir := s.dir(meta.ID)

		for _, uid := range uids {
			v := uidsB.Get(uidKey(uid))
			if v == nil {
				continue
			}
			var rec messageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if msg, err := dir.MessageByKey(rec.Key); err == nil {
				if err := msg.Remove(); err != nil && !os.IsNotExist(err) {
					return err
				}
			}
			if err := uidsB.Delete(uidKey(uid)); err != nil {
				return err
			}
			if err := keysB.Delete([]byte(rec.Key)); err != nil {
				return err
			}
		}
		return nil
	})
}

var flagMap = []struct {
	system  imap.SystemFlags
	maildir maildir.Flag
}{
	{imap.SystemFlagSeen, maildir.FlagSeen},
	{imap.SystemFlagAnswered, maildir.FlagReplied},
	{imap.SystemFlagFlagged, maildir.FlagFlagged},
	{imap.SystemFlagDraft, maildir.FlagDraft},
	{imap.SystemFlagDeleted, maildir.FlagTrashed},
}

func systemFlags(flags []maildir.Flag) imap.SystemFlags {
	var sys imap.SystemFlags
	for _, f := range flags {
		for _, m := range flagMap {
			if f == m.maildir {
				sys |= m.system
			}
		}
	}
	return sys
}

func maildirFlags(sys imap.SystemFlags) []maildir.Flag {
	var l []maildir.Flag
	for _, m := range flagMap {
		if sys&m.system != 0 {
			l = append(l, m.maildir)
		}
	}
	return l
}
