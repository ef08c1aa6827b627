package searchquery

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/emersion/go-imapsession"
)

const testMessage = "From: Mitsuha Miyamizu <mitsuha.miyamizu@example.org>\r\n" +
	"To: Taki Tachibana <taki.tachibana@example.org>\r\n" +
	"Subject: =?utf-8?q?Caf=C3=A9?= plans\r\n" +
	"Date: Mon, 9 Jan 2017 21:39:26 +0100\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Hi there, what's your name?\r\n"

func testMsg() *Message {
	return &Message{
		UID:          7,
		Flags:        imap.NewFlags(imap.FlagSeen, "$Important"),
		InternalDate: time.Date(2017, time.January, 10, 1, 0, 0, 0, time.UTC),
		Size:         int64(len(testMessage)),
		Literal:      []byte(testMessage),
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		c    Criterion
		want bool
	}{
		{"all", All{}, true},
		{"uid in", UIDRange{Ranges: []imap.UIDRange{{Start: 5, Stop: 9}}}, true},
		{"uid out", UIDRange{Ranges: []imap.UIDRange{{Start: 8, Stop: 9}}}, false},
		{"uid empty", UIDRange{}, false},
		{"seen", FlagSet{Flag: imap.FlagSeen, Set: true}, true},
		{"unseen", FlagSet{Flag: imap.FlagSeen, Set: false}, false},
		{"keyword", FlagSet{Flag: "$Important", Set: true}, true},
		{"not deleted", FlagSet{Flag: imap.FlagDeleted, Set: false}, true},
		{"from", HeaderContains{Name: "From", Value: "MITSUHA"}, true},
		{"to", HeaderContains{Name: "To", Value: "mitsuha"}, false},
		{"header present", HeaderContains{Name: "Subject"}, true},
		{"header absent", HeaderContains{Name: "Cc"}, false},
		{"encoded subject", HeaderContains{Name: "Subject", Value: "café"}, true},
		{"body", BodyContains{Value: "YOUR NAME"}, true},
		{"body not header", BodyContains{Value: "Taki"}, false},
		{"text header", TextContains{Value: "taki"}, true},
		{"larger", Size{Op: SizeGreater, N: 10}, true},
		{"larger equal", Size{Op: SizeGreater, N: int64(len(testMessage))}, false},
		{"smaller", Size{Op: SizeLess, N: 10}, false},
		{"internal on", InternalDate{Op: DateOn, Date: day(2017, time.January, 10)}, true},
		{"internal before same day", InternalDate{Op: DateBefore, Date: day(2017, time.January, 10)}, false},
		{"internal before", InternalDate{Op: DateBefore, Date: day(2017, time.January, 11)}, true},
		{"internal after same day", InternalDate{Op: DateAfter, Date: day(2017, time.January, 10)}, false},
		{"internal after", InternalDate{Op: DateAfter, Date: day(2017, time.January, 9)}, true},
		{"sent on", HeaderDate{Name: "Date", Op: DateOn, Date: day(2017, time.January, 9)}, true},
		{"sent before", HeaderDate{Name: "Date", Op: DateBefore, Date: day(2017, time.January, 9)}, false},
		{"sent missing header", HeaderDate{Name: "Resent-Date", Op: DateBefore, Date: day(2030, time.January, 1)}, false},
		{"and", And{Children: []Criterion{All{}, FlagSet{Flag: imap.FlagSeen, Set: true}}}, true},
		{"and false", And{Children: []Criterion{All{}, FlagSet{Flag: imap.FlagSeen, Set: false}}}, false},
		{"or", Or{Left: FlagSet{Flag: imap.FlagDraft, Set: true}, Right: BodyContains{Value: "hi"}}, true},
		{"not", Not{Child: All{}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(tc.c, testMsg()))
		})
	}
}

func TestMatch_new(t *testing.T) {
	c, err := Compile(imap.SearchNew(), newIndex(t, 1))
	assert.NoError(t, err)

	msg := testMsg()
	msg.Flags = imap.NewFlags(imap.FlagRecent)
	assert.True(t, Match(c, msg))
	msg.Flags = imap.NewFlags(imap.FlagRecent, imap.FlagSeen)
	assert.False(t, Match(c, msg))
	msg.Flags = imap.NewFlags()
	assert.False(t, Match(c, msg))
}

func TestMatch_noLiteral(t *testing.T) {
	msg := testMsg()
	msg.Literal = nil
	assert.False(t, Match(HeaderContains{Name: "From", Value: "x"}, msg))
	assert.True(t, Match(Size{Op: SizeGreater, N: 1}, msg))
}

func TestContains_unicodeFolding(t *testing.T) {
	assert.True(t, contains("L'ÉCOLE DES FEMMES", "école"))
	assert.False(t, contains(strings.Repeat("a", 10), "b"))
}
