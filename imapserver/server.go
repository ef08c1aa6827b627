// Package imapserver implements an IMAP4rev1 server on top of mailbox
// registries.
//
// Each connection is driven by a Session, a state machine dispatching typed
// commands to handlers. Responses are emitted through a Composer, which the
// server implements on top of the IMAP wire format.
package imapserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imapsession/mailbox"
)

// Options contains server options.
type Options struct {
	// Directory gives access to the mailboxes of each user.
	Directory *mailbox.Directory
	// Authenticator checks client credentials.
	Authenticator Authenticator
	// Logger is a logger to print error messages. If nil, log.Default is
	// used.
	Logger Logger
	// TLSConfig is used by ListenAndServeTLS.
	TLSConfig *tls.Config
	// InsecureAuth allows clients to authenticate without TLS.
	InsecureAuth bool
	// DebugWriter receives a copy of all the traffic, if set.
	DebugWriter io.Writer
	// ReadTimeout is the maximum time to wait for a command. Zero means no
	// timeout.
	ReadTimeout time.Duration
	// IdleTimeout is the maximum time to wait for a client line after a
	// continuation request, including IDLE. Zero means no timeout.
	IdleTimeout time.Duration
	// MaxLiteralSize is the maximum size of a literal sent by a client.
	// Zero means no limit.
	MaxLiteralSize int64
	// Metrics records server statistics, if set.
	Metrics *Metrics
}

// Server is an IMAP server.
type Server struct {
	options Options

	ctx    context.Context
	cancel context.CancelFunc

	mutex     sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*conn]struct{}
	closed    bool
}

// New creates a new server.
func New(options *Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		options:   *options,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*conn]struct{}),
	}
}

func (s *Server) logger() Logger {
	if s.options.Logger == nil {
		return log.Default()
	}
	return s.options.Logger
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mutex.Lock()
	delete(s.listeners, ln)
	s.mutex.Unlock()
}

func (s *Server) trackConn(c *conn) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrackConn(c *conn) {
	s.mutex.Lock()
	delete(s.conns, c)
	s.mutex.Unlock()
}

// Serve accepts incoming connections on the listener ln.
//
// Serve always closes ln. It returns nil once the server is closed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		ln.Close()
		return nil
	}
	defer s.untrackListener(ln)
	defer ln.Close()

	var delay time.Duration
	for {
		netConn, err := ln.Accept()
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if max := 1 * time.Second; delay > max {
				delay = max
			}
			s.logger().Printf("accept error (retrying in %v): %v", delay, err)
			time.Sleep(delay)
			continue
		} else if errors.Is(err, net.ErrClosed) {
			return nil
		} else if err != nil {
			return fmt.Errorf("accept error: %w", err)
		}

		delay = 0
		c := newConn(netConn, s)
		if !s.trackConn(c) {
			netConn.Close()
			return nil
		}
		go func() {
			defer s.untrackConn(c)
			c.serve(s.ctx)
		}()
	}
}

// ListenAndServe listens on the TCP network address addr and then calls
// Serve.
//
// If addr is empty, ":143" is used.
func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = ":143"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// ListenAndServeTLS listens on the TCP network address addr for TLS
// connections and then calls Serve.
//
// If addr is empty, ":993" is used.
func (s *Server) ListenAndServeTLS(addr string) error {
	if s.options.TLSConfig == nil {
		return errors.New("imapserver: TLSConfig is required")
	}
	if addr == "" {
		addr = ":993"
	}
	ln, err := tls.Listen("tcp", addr, s.options.TLSConfig)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Close immediately closes all listeners and connections.
func (s *Server) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return errors.New("imapserver: server already closed")
	}
	s.closed = true
	s.cancel()

	var err error
	for ln := range s.listeners {
		if closeErr := ln.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	for c := range s.conns {
		c.conn.Close()
	}
	return err
}
