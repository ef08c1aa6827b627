package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/mailbox"
	"github.com/emersion/go-imapsession/searchquery"
)

// Search implements mailbox.Searcher.
//
// Criteria on UIDs, flags, internal dates and sizes are translated to SQL.
// Header and body criteria return mailbox.ErrSearchUnsupported: the caller
// falls back to evaluating them in memory.
func (s *Store) Search(ctx context.Context, name string, c searchquery.Criterion) ([]imap.UID, error) {
	var b whereBuilder
	if err := b.build(c); err != nil {
		return nil, err
	}

	id, err := mailboxID(ctx, s.db, name)
	if err != nil {
		return nil, err
	}

	query := "SELECT uid FROM messages WHERE mailbox_id = ? AND (" + b.sb.String() + ") ORDER BY uid"
	args := append([]interface{}{id}, b.args...)
	return s.queryUIDs(ctx, query, args...)
}

type whereBuilder struct {
	sb   strings.Builder
	args []interface{}
}

func (b *whereBuilder) build(c searchquery.Criterion) error {
	switch c := c.(type) {
	case searchquery.All:
		b.sb.WriteString("1")
	case searchquery.UIDRange:
		if len(c.Ranges) == 0 {
			b.sb.WriteString("0")
			return nil
		}
		b.sb.WriteString("(")
		for i, r := range c.Ranges {
			if i > 0 {
				b.sb.WriteString(" OR ")
			}
			b.sb.WriteString("uid BETWEEN ? AND ?")
			b.args = append(b.args, r.Start, r.Stop)
		}
		b.sb.WriteString(")")
	case searchquery.FlagSet:
		if bit := imap.NewFlags(c.Flag).System(); bit != 0 {
			if c.Set {
				b.sb.WriteString("(system_flags & ?) != 0")
			} else {
				b.sb.WriteString("(system_flags & ?) = 0")
			}
			b.args = append(b.args, bit)
		} else {
			op := ">"
			if !c.Set {
				op = "="
			}
			b.sb.WriteString("instr(' ' || keywords || ' ', ?) " + op + " 0")
			b.args = append(b.args, " "+string(c.Flag)+" ")
		}
	case searchquery.InternalDate:
		op, err := dateOp(c.Op)
		if err != nil {
			return err
		}
		b.sb.WriteString("internal_day " + op + " ?")
		b.args = append(b.args, c.Date.Unix())
	case searchquery.Size:
		switch c.Op {
		case searchquery.SizeGreater:
			b.sb.WriteString("size > ?")
		case searchquery.SizeLess:
			b.sb.WriteString("size < ?")
		default:
			return fmt.Errorf("sqlstore: unknown size operator %v", c.Op)
		}
		b.args = append(b.args, c.N)
	case searchquery.And:
		if len(c.Children) == 0 {
			b.sb.WriteString("1")
			return nil
		}
		b.sb.WriteString("(")
		for i, child := range c.Children {
			if i > 0 {
				b.sb.WriteString(" AND ")
			}
			if err := b.build(child); err != nil {
				return err
			}
		}
		b.sb.WriteString(")")
	case searchquery.Or:
		b.sb.WriteString("(")
		if err := b.build(c.Left); err != nil {
			return err
		}
		b.sb.WriteString(" OR ")
		if err := b.build(c.Right); err != nil {
			return err
		}
		b.sb.WriteString(")")
	case searchquery.Not:
		b.sb.WriteString("NOT (")
		if err := b.build(c.Child); err != nil {
			return err
		}
		b.sb.WriteString(")")
	default:
		return mailbox.ErrSearchUnsupported
	}
	return nil
}

func dateOp(op searchquery.DateOp) (string, error) {
	switch op {
	case searchquery.DateBefore:
		return "<", nil
	case searchquery.DateOn:
		return "=", nil
	case searchquery.DateAfter:
		return ">", nil
	default:
		return "", fmt.Errorf("sqlstore: unknown date operator %v", op)
	}
}
