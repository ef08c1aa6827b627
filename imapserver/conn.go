package imapserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/commands"
	"github.com/emersion/go-imapsession/internal/imapwire"
)

const literalContinuation = "Ready for literal data"

// conn is a client connection. It implements Composer and LineReader on top
// of the IMAP wire format.
type conn struct {
	conn     net.Conn
	server   *Server
	br       *bufio.Reader
	bw       *bufio.Writer
	encMutex sync.Mutex

	session *Session
}

var (
	_ Composer   = (*conn)(nil)
	_ LineReader = (*conn)(nil)
)

func newConn(c net.Conn, server *Server) *conn {
	var (
		r io.Reader = c
		w io.Writer = c
	)
	if debugWriter := server.options.DebugWriter; debugWriter != nil {
		r = io.TeeReader(c, debugWriter)
		w = io.MultiWriter(c, debugWriter)
	}
	return &conn{
		conn:   c,
		server: server,
		br:     bufio.NewReader(r),
		bw:     bufio.NewWriter(w),
	}
}

func (c *conn) serve(ctx context.Context) {
	metrics := c.server.options.Metrics
	_, isTLS := c.conn.(*tls.Conn)
	service := "imap"
	if isTLS {
		service = "imaps"
	}
	metrics.connOpened(service)

	defer func() {
		if v := recover(); v != nil {
			c.server.logger().Printf("panic handling command: %v\n%s", v, debug.Stack())
		}
		metrics.connClosed()
		c.conn.Close()
	}()

	c.session = NewSession(&SessionOptions{
		Directory:     c.server.options.Directory,
		Authenticator: c.server.options.Authenticator,
		Logger:        c.server.logger(),
		InsecureAuth:  c.server.options.InsecureAuth,
		TLS:           isTLS,
		Metrics:       metrics,
	})
	defer func() {
		if err := c.session.Close(context.WithoutCancel(ctx)); err != nil {
			c.server.logger().Printf("failed to close session: %v", err)
		}
	}()

	err := c.WriteUntagged(&imap.StatusResponse{
		Type:    imap.StatusResponseTypeOK,
		Code:    imap.ResponseCodeCapability,
		CodeArg: c.session.Caps(),
		Text:    "IMAP4rev1 server ready",
	})
	if err != nil {
		c.server.logger().Printf("failed to write greeting: %v", err)
		return
	}

	for c.session.State() != imap.ConnStateLogout {
		if timeout := c.server.options.ReadTimeout; timeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(timeout))
		}

		dec := imapwire.NewDecoder(c.br)
		if dec.EOF() {
			break
		}
		dec.MaxLiteralSize = c.server.options.MaxLiteralSize
		dec.LiteralContinuation = func(size int64, nonSync bool) error {
			if nonSync {
				return nil
			}
			return c.WriteContinuation(literalContinuation)
		}

		req, err := readRequest(dec)
		if err != nil {
			if err := c.handleReadError(dec, req, err); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					c.server.logger().Printf("failed to read command: %v", err)
				}
				return
			}
			continue
		}

		if err := c.session.Handle(ctx, c, req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.server.logger().Printf("handling %v command: %v", req.FullName(), err)
			}
			return
		}
	}
}

// handleReadError reports a malformed command to the client. A non-nil error
// is returned if the connection can't be used anymore.
func (c *conn) handleReadError(dec *imapwire.Decoder, req *commands.Request, err error) error {
	var (
		resp    *imap.StatusResponse
		decErr  *imapwire.DecoderExpectError
		imapErr *imap.Error
	)
	switch {
	case errors.Is(err, imapwire.ErrLiteralTooLarge):
		c.WriteUntagged(&imap.StatusResponse{
			Type: imap.StatusResponseTypeBye,
			Code: imap.ResponseCodeTooBig,
			Text: "Literal too large",
		})
		return err
	case errors.As(err, &imapErr):
		resp = (*imap.StatusResponse)(imapErr)
	case errors.As(err, &decErr):
		resp = &imap.StatusResponse{
			Type: imap.StatusResponseTypeBad,
			Code: imap.ResponseCodeClientBug,
			Text: "Syntax error: " + decErr.Message,
		}
	default:
		return err
	}

	dec.DiscardLine()
	if err := dec.Err(); err != nil {
		return err
	}
	c.server.options.Metrics.observeCommand("INVALID", resp.Type, 0)
	return c.WriteTagged(req.Tag, resp)
}

func (c *conn) WriteTagged(tag string, resp *imap.StatusResponse) error {
	enc := newResponseEncoder(c)
	defer enc.end()
	return writeStatusResp(enc.Encoder, tag, resp)
}

func (c *conn) WriteUntagged(resp imap.Response) error {
	enc := newResponseEncoder(c)
	defer enc.end()
	return writeResponse(enc.Encoder, resp)
}

func (c *conn) WriteContinuation(text string) error {
	enc := newResponseEncoder(c)
	defer enc.end()
	return enc.Atom("+").SP().Text(text).CRLF()
}

// ReadLine reads a line sent after a continuation request, without the
// trailing CRLF.
func (c *conn) ReadLine() (string, error) {
	if timeout := c.server.options.IdleTimeout; timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	var sb strings.Builder
	for {
		line, isPrefix, err := c.br.ReadLine()
		if err != nil {
			return "", err
		}
		sb.Write(line)
		if !isPrefix {
			break
		}
		if sb.Len() > maxLineLength {
			return "", errLineTooLong
		}
	}
	return sb.String(), nil
}

const maxLineLength = 64 * 1024

var errLineTooLong = errors.New("imapserver: line too long")

type responseEncoder struct {
	*imapwire.Encoder
	conn *conn
}

func newResponseEncoder(conn *conn) *responseEncoder {
	conn.encMutex.Lock() // released by responseEncoder.end
	return &responseEncoder{
		Encoder: imapwire.NewEncoder(conn.bw),
		conn:    conn,
	}
}

func (enc *responseEncoder) end() {
	if enc.Encoder == nil {
		panic("imapserver: responseEncoder.end called twice")
	}
	enc.Encoder = nil
	enc.conn.encMutex.Unlock()
}
