package auth

import (
	"context"
	"errors"

	"github.com/emersion/go-sasl"
	"github.com/golang-jwt/jwt/v5"

	"github.com/emersion/go-imapsession/imapserver"
)

// Bearer authenticates OAUTHBEARER clients with HMAC-signed JSON Web Tokens.
// The token subject is the identity of the user.
type Bearer struct {
	// Secret is the HMAC key.
	Secret []byte
	// Issuer and Audience, if set, must match the token claims.
	Issuer   string
	Audience string
}

var _ imapserver.Authenticator = (*Bearer)(nil)

func (b *Bearer) Mechanisms() []string {
	return []string{sasl.OAuthBearer}
}

func (b *Bearer) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if b.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(b.Issuer))
	}
	if b.Audience != "" {
		opts = append(opts, jwt.WithAudience(b.Audience))
	}
	return opts
}

// Verify checks a token and returns its subject.
func (b *Bearer) Verify(token string) (string, error) {
	if len(b.Secret) == 0 {
		return "", errors.New("auth: missing bearer secret")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return b.Secret, nil
	}, b.parserOptions()...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return claims.Subject, nil
}

func (b *Bearer) Authenticate(ctx context.Context, mechanism string, cred *imapserver.Credentials) (string, error) {
	if mechanism != sasl.OAuthBearer || cred.Token == "" {
		return "", imapserver.ErrAuthFailed
	}
	sub, err := b.Verify(cred.Token)
	if err != nil {
		return "", imapserver.ErrAuthFailed
	}
	// The authzid sent by the client, if any, must match the token
	if cred.Identity != "" && cred.Identity != sub {
		return "", imapserver.ErrAuthFailed
	}
	return sub, nil
}
