// Package sqlstore implements a mailbox store backed by SQLite.
//
// The store evaluates most search criteria in SQL, see Store.Search.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/mailbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS mailboxes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	uid_validity INTEGER NOT NULL,
	uid_next INTEGER NOT NULL DEFAULT 1,
	subscribed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	mailbox_id INTEGER NOT NULL REFERENCES mailboxes(id) ON DELETE CASCADE,
	uid INTEGER NOT NULL,
	system_flags INTEGER NOT NULL DEFAULT 0,
	keywords TEXT NOT NULL DEFAULT '',
	internal_date INTEGER NOT NULL,
	internal_day INTEGER NOT NULL,
	size INTEGER NOT NULL,
	literal BLOB NOT NULL,
	PRIMARY KEY (mailbox_id, uid)
);

CREATE TABLE IF NOT EXISTS uid_validity (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	prev INTEGER NOT NULL
);
`

// Store is a mailbox.Store saving mailboxes in a SQLite database.
type Store struct {
	db *sql.DB
}

var (
	_ mailbox.Store    = (*Store)(nil)
	_ mailbox.Searcher = (*Store)(nil)
)

// Open opens a SQLite database and initializes the schema. The INBOX is
// created if missing.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite doesn't support concurrent writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: failed to initialize schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.CreateMailbox(ctx, imap.InboxName); err != nil && !errors.Is(err, mailbox.ErrMailboxExists) {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func mailboxID(ctx context.Context, q queryer, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM mailboxes WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, mailbox.ErrMailboxNotFound
	}
	return id, err
}

func (s *Store) CreateMailbox(ctx context.Context, name string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := mailboxID(ctx, tx, name); err == nil {
			return mailbox.ErrMailboxExists
		} else if !errors.Is(err, mailbox.ErrMailboxNotFound) {
			return err
		}

		// UIDVALIDITY must change if a mailbox is deleted and re-created
		// with the same name
		var uidValidity uint32
		err := tx.QueryRowContext(ctx, `
			INSERT INTO uid_validity (id, prev) VALUES (0, 1)
			ON CONFLICT (id) DO UPDATE SET prev = prev + 1
			RETURNING prev
		`).Scan(&uidValidity)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO mailboxes (name, uid_validity) VALUES (?, ?)", name, uidValidity)
		return err
	})
}

func (s *Store) DeleteMailbox(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM mailboxes WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return mailbox.ErrMailboxNotFound
	}
	return nil
}

func (s *Store) RenameMailbox(ctx context.Context, oldName, newName string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := mailboxID(ctx, tx, oldName); err != nil {
			return err
		}
		if _, err := mailboxID(ctx, tx, newName); err == nil {
			return mailbox.ErrMailboxExists
		}

		rows, err := tx.QueryContext(ctx, "SELECT id, name FROM mailboxes")
		if err != nil {
			return err
		}
		renamed := make(map[int64]string)
		prefix := oldName + string(mailbox.Delim)
		for rows.Next() {
			var (
				id   int64
				name string
			)
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return err
			}
			if name == oldName || strings.HasPrefix(name, prefix) {
				renamed[id] = newName + strings.TrimPrefix(name, oldName)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for id, name := range renamed {
			if _, err := tx.ExecContext(ctx, "UPDATE mailboxes SET name = ? WHERE id = ?", name, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListMailboxes(ctx context.Context) ([]mailbox.MailboxInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, subscribed FROM mailboxes ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var l []mailbox.MailboxInfo
	for rows.Next() {
		var info mailbox.MailboxInfo
		if err := rows.Scan(&info.Name, &info.Subscribed); err != nil {
			return nil, err
		}
		l = append(l, info)
	}
	return l, rows.Err()
}

func (s *Store) SetSubscribed(ctx context.Context, name string, subscribed bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE mailboxes SET subscribed = ? WHERE name = ?", subscribed, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return mailbox.ErrMailboxNotFound
	}
	return nil
}

func (s *Store) Mailbox(ctx context.Context, name string) (*imap.MailboxDescriptor, error) {
	desc := imap.MailboxDescriptor{Name: name}
	err := s.db.QueryRowContext(ctx, "SELECT uid_validity, uid_next FROM mailboxes WHERE name = ?", name).Scan(&desc.UIDValidity, &desc.UIDNext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mailbox.ErrMailboxNotFound
	} else if err != nil {
		return nil, err
	}
	return &desc, nil
}

func (s *Store) ListUIDs(ctx context.Context, name string) ([]imap.UID, error) {
	id, err := mailboxID(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	return s.queryUIDs(ctx, "SELECT uid FROM messages WHERE mailbox_id = ? ORDER BY uid", id)
}

func (s *Store) queryUIDs(ctx context.Context, query string, args ...interface{}) ([]imap.UID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uids := []imap.UID{}
	for rows.Next() {
		var uid imap.UID
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

func (s *Store) Messages(ctx context.Context, name string, uids []imap.UID, withLiteral bool) ([]*mailbox.Message, error) {
	id, err := mailboxID(ctx, s.db, name)
	if err != nil {
		return nil, err
	}

	literalColumn := "NULL"
	if withLiteral {
		literalColumn = "literal"
	}
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT system_flags, keywords, internal_date, size, `+literalColumn+`
		FROM messages WHERE mailbox_id = ? AND uid = ?
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	l := make([]*mailbox.Message, 0, len(uids))
	for _, uid := range uids {
		var (
			system   imap.SystemFlags
			keywords string
			date     int64
			msg      = mailbox.Message{UID: uid}
		)
		err := stmt.QueryRowContext(ctx, id, uid).Scan(&system, &keywords, &date, &msg.Size, &msg.Literal)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		} else if err != nil {
			return nil, err
		}
		msg.Flags = imap.FlagsFromSystem(system, strings.Fields(keywords)...)
		msg.InternalDate = time.Unix(0, date).UTC()
		l = append(l, &msg)
	}
	return l, nil
}

func (s *Store) SetFlags(ctx context.Context, name string, uid imap.UID, flags imap.Flags) error {
	id, err := mailboxID(ctx, s.db, name)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET system_flags = ?, keywords = ?
		WHERE mailbox_id = ? AND uid = ?
	`, flags.System(), strings.Join(flags.Keywords(), " "), id, uid)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return mailbox.ErrMessageNotFound
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, name string, flags imap.Flags, date time.Time, literal []byte) (imap.UID, error) {
	var uid imap.UID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `
			UPDATE mailboxes SET uid_next = uid_next + 1
			WHERE name = ?
			RETURNING id, uid_next - 1
		`, name).Scan(&id, &uid)
		if errors.Is(err, sql.ErrNoRows) {
			return mailbox.ErrMailboxNotFound
		} else if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (mailbox_id, uid, system_flags, keywords, internal_date, internal_day, size, literal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, uid, flags.System(), strings.Join(flags.Keywords(), " "),
			date.UnixNano(), imap.Day(date).Unix(), len(literal), literal)
		return err
	})
	return uid, err
}

func (s *Store) DeleteMessages(ctx context.Context, name string, uids []imap.UID) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := mailboxID(ctx, tx, name)
		if err != nil {
			return err
		}
		for _, uid := range uids {
			if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE mailbox_id = ? AND uid = ?", id, uid); err != nil {
				return err
			}
		}
		return nil
	})
}
