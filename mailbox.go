package imap

// MailboxDescriptor describes a selectable mailbox.
type MailboxDescriptor struct {
	Name string
	// UIDValidity changes only when the mailbox is recreated.
	UIDValidity uint32
	UIDNext     UID
	ReadOnly    bool

	Flags          []Flag
	PermanentFlags []Flag
}

// SelectData is the data returned by a SELECT or EXAMINE command.
type SelectData struct {
	Mailbox     MailboxDescriptor
	NumMessages uint32
	NumRecent   uint32
	// FirstUnseen is the sequence number of the first message without the
	// \Seen flag, zero if there is none.
	FirstUnseen uint32
}
