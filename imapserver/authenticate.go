package imapserver

import (
	"context"
	"slices"
	"strings"

	"github.com/emersion/go-sasl"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/commands"
	"github.com/emersion/go-imapsession/internal"
)

type credentialsChecker func(cred *Credentials) error

// saslServers lists the SASL mechanisms the session knows how to drive.
var saslServers = map[string]func(check credentialsChecker) sasl.Server{
	sasl.Plain: func(check credentialsChecker) sasl.Server {
		return sasl.NewPlainServer(func(identity, username, password string) error {
			return check(&Credentials{
				Identity: identity,
				Username: username,
				Password: password,
			})
		})
	},
	sasl.OAuthBearer: func(check credentialsChecker) sasl.Server {
		return sasl.NewOAuthBearerServer(func(opts sasl.OAuthBearerOptions) *sasl.OAuthBearerError {
			err := check(&Credentials{
				Identity: opts.Username,
				Token:    opts.Token,
			})
			if err != nil {
				return &sasl.OAuthBearerError{
					Status:  "invalid_token",
					Schemes: "bearer",
				}
			}
			return nil
		})
	},
}

var errPrivacyRequired = &imap.Error{
	Type: imap.StatusResponseTypeNo,
	Code: imap.ResponseCodePrivacyRequired,
	Text: "TLS is required to authenticate",
}

func (s *Session) handleLogin(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Login) (*imap.StatusResponse, error) {
	if !s.canAuth() {
		return nil, errPrivacyRequired
	}
	if s.options.Authenticator == nil {
		return nil, newNoError(imap.ResponseCodeCannot, "Authentication is not available")
	}

	username, err := s.options.Authenticator.Authenticate(ctx, sasl.Plain, &Credentials{
		Username: cmd.Username,
		Password: cmd.Password,
	})
	if err != nil {
		return nil, err
	}
	return nil, s.login(ctx, username)
}

func (s *Session) handleAuthenticate(ctx context.Context, w Composer, req *commands.Request, cmd *commands.Authenticate) (*imap.StatusResponse, error) {
	mech := strings.ToUpper(cmd.Mechanism)
	newServer, ok := saslServers[mech]
	if !ok || !slices.Contains(s.mechanisms(), mech) {
		return nil, newNoError(imap.ResponseCodeCannot, "Unsupported authentication mechanism")
	}
	if !s.canAuth() {
		return nil, errPrivacyRequired
	}

	var (
		identity string
		authErr  error
	)
	saslServer := newServer(func(cred *Credentials) error {
		id, err := s.options.Authenticator.Authenticate(ctx, mech, cred)
		if err != nil {
			authErr = err
			return err
		}
		identity = id
		return nil
	})

	resp := cmd.InitialResponse
	for {
		challenge, done, err := saslServer.Next(resp)
		if authErr != nil {
			return nil, authErr
		} else if err != nil {
			return nil, newNoError(imap.ResponseCodeAuthenticationFailed, "Authentication failed")
		} else if done {
			break
		}

		var challengeStr string
		if len(challenge) > 0 {
			challengeStr = internal.EncodeSASL(challenge)
		}
		if err := w.WriteContinuation(challengeStr); err != nil {
			return nil, err
		}

		lr, ok := w.(LineReader)
		if !ok {
			return nil, errNoLineReader
		}
		respStr, err := lr.ReadLine()
		if err != nil {
			return nil, err
		} else if respStr == "*" {
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeBad,
				Text: "AUTHENTICATE cancelled",
			}
		}

		resp, err = internal.DecodeSASL(respStr)
		if err != nil {
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeBad,
				Text: "Malformed SASL response",
			}
		}
	}

	return nil, s.login(ctx, identity)
}
