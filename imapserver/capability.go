package imapserver

import (
	"context"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/commands"
)

func (s *Session) canAuth() bool {
	return s.options.TLS || s.options.InsecureAuth
}

func (s *Session) mechanisms() []string {
	if s.options.Authenticator == nil {
		return nil
	}
	var l []string
	for _, mech := range s.options.Authenticator.Mechanisms() {
		if _, ok := saslServers[mech]; ok {
			l = append(l, mech)
		}
	}
	return l
}

// Caps returns the capabilities advertised in the current state.
func (s *Session) Caps() []imap.Cap {
	caps := []imap.Cap{imap.CapIMAP4rev1, imap.CapLiteralPlus}
	if s.state == imap.ConnStateNotAuthenticated {
		if !s.canAuth() {
			caps = append(caps, imap.CapLoginDisabled)
		} else {
			caps = append(caps, imap.CapSASLIR)
			for _, mech := range s.mechanisms() {
				caps = append(caps, imap.AuthCap(mech))
			}
		}
	} else {
		caps = append(caps, imap.CapUnselect, imap.CapUIDPlus, imap.CapIdle)
	}
	return caps
}

func (s *Session) handleCapability(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Capability) (*imap.StatusResponse, error) {
	return nil, w.WriteUntagged(&imap.CapabilityResponse{Caps: s.Caps()})
}

func (s *Session) handleNoop(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Noop) (*imap.StatusResponse, error) {
	return nil, nil
}

func (s *Session) handleLogout(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Logout) (*imap.StatusResponse, error) {
	if err := s.deselect(ctx, false); err != nil {
		s.logger().Printf("failed to close mailbox on logout: %v", err)
	}
	s.state = imap.ConnStateLogout
	return nil, w.WriteUntagged(&imap.StatusResponse{
		Type: imap.StatusResponseTypeBye,
		Text: "Logging out",
	})
}
