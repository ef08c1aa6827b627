// Package commands contains the typed requests a session handles.
//
// Parsing from the wire lives in the transport; the session only ever sees
// these values.
package commands

// Command is a typed client command.
type Command interface {
	// Name returns the upper-case command name, without the UID prefix.
	Name() string
}

// Request is a tagged command received from a client.
type Request struct {
	Tag     string
	Command Command
	// UID is set for the UID variants of COPY, FETCH, SEARCH, STORE and
	// EXPUNGE. Numbers in the command arguments are then UIDs.
	UID bool
}

// FullName returns the command name including the UID prefix.
func (req *Request) FullName() string {
	if req.UID {
		return "UID " + req.Command.Name()
	}
	return req.Command.Name()
}
