// Package auth provides authenticators for imapserver.
package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/emersion/go-sasl"
	"golang.org/x/crypto/bcrypt"

	"github.com/emersion/go-imapsession/imapserver"
)

// Passwd authenticates users against a list of bcrypt password hashes.
//
// The file format is one "username:hash" entry per line. Empty lines and
// lines starting with "#" are ignored.
type Passwd struct {
	mutex  sync.RWMutex
	hashes map[string][]byte
}

var _ imapserver.Authenticator = (*Passwd)(nil)

// ReadPasswd parses a password file.
func ReadPasswd(r io.Reader) (*Passwd, error) {
	p := &Passwd{hashes: make(map[string][]byte)}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		username, hash, ok := strings.Cut(line, ":")
		if !ok || username == "" || hash == "" {
			return nil, fmt.Errorf("auth: malformed passwd entry on line %v", lineNum)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("auth: invalid hash for user %q on line %v: %w", username, lineNum, err)
		}
		p.hashes[username] = []byte(hash)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPasswd reads a password file from disk.
func LoadPasswd(path string) (*Passwd, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPasswd(f)
}

// HashPassword returns a bcrypt hash suitable for a password file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// SetPassword adds or replaces a user.
func (p *Passwd) SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.hashes == nil {
		p.hashes = make(map[string][]byte)
	}
	p.hashes[username] = hash
	return nil
}

func (p *Passwd) Mechanisms() []string {
	return []string{sasl.Plain}
}

func (p *Passwd) Authenticate(ctx context.Context, mechanism string, cred *imapserver.Credentials) (string, error) {
	if mechanism != sasl.Plain {
		return "", imapserver.ErrAuthFailed
	}
	if cred.Identity != "" && cred.Identity != cred.Username {
		return "", imapserver.ErrAuthFailed
	}

	p.mutex.RLock()
	hash, ok := p.hashes[cred.Username]
	p.mutex.RUnlock()
	if !ok {
		return "", imapserver.ErrAuthFailed
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(cred.Password)); err != nil {
		return "", imapserver.ErrAuthFailed
	}
	return cred.Username, nil
}
