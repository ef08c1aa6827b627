package imap

// ListData is the mailbox data returned by a LIST or LSUB command.
type ListData struct {
	Attrs   []MailboxAttr
	Delim   rune
	Mailbox string
}
