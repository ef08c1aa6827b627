package commands

// A CAPABILITY command.
// See RFC 3501 section 6.1.1
type Capability struct{}

func (*Capability) Name() string { return "CAPABILITY" }

// A NOOP command.
// See RFC 3501 section 6.1.2
type Noop struct{}

func (*Noop) Name() string { return "NOOP" }

// A LOGOUT command.
// See RFC 3501 section 6.1.3
type Logout struct{}

func (*Logout) Name() string { return "LOGOUT" }
