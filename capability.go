package imap

// Cap represents an IMAP capability.
type Cap string

// Capabilities implemented by the server.
//
// See: https://www.iana.org/assignments/imap-capabilities/
const (
	CapIMAP4rev1 Cap = "IMAP4rev1" // RFC 3501

	CapLoginDisabled Cap = "LOGINDISABLED"
	CapUnselect      Cap = "UNSELECT" // RFC 3691
	CapUIDPlus       Cap = "UIDPLUS"  // RFC 4315
	CapIdle          Cap = "IDLE"     // RFC 2177
	CapSASLIR        Cap = "SASL-IR"  // RFC 4959
	CapLiteralPlus   Cap = "LITERAL+" // RFC 7888
)

// AuthCap returns the capability name for an SASL authentication mechanism.
func AuthCap(mechanism string) Cap {
	return Cap("AUTH=" + mechanism)
}
