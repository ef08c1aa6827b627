package auth

import (
	"context"
	"slices"

	"github.com/emersion/go-imapsession/imapserver"
)

// Multi dispatches each mechanism to the first authenticator supporting it.
type Multi []imapserver.Authenticator

var _ imapserver.Authenticator = Multi(nil)

func (m Multi) Mechanisms() []string {
	var mechs []string
	for _, a := range m {
		for _, mech := range a.Mechanisms() {
			if !slices.Contains(mechs, mech) {
				mechs = append(mechs, mech)
			}
		}
	}
	return mechs
}

func (m Multi) Authenticate(ctx context.Context, mechanism string, cred *imapserver.Credentials) (string, error) {
	for _, a := range m {
		if slices.Contains(a.Mechanisms(), mechanism) {
			return a.Authenticate(ctx, mechanism, cred)
		}
	}
	return "", imapserver.ErrAuthFailed
}
