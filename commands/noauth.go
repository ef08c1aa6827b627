package commands

// A LOGIN command.
// See RFC 3501 section 6.2.3
type Login struct {
	Username string
	Password string
}

func (*Login) Name() string { return "LOGIN" }

// An AUTHENTICATE command.
// See RFC 3501 section 6.2.2
type Authenticate struct {
	Mechanism string
	// InitialResponse is the SASL-IR initial response, nil if absent. An
	// empty initial response ("=") is a non-nil empty slice.
	InitialResponse []byte
}

func (*Authenticate) Name() string { return "AUTHENTICATE" }
