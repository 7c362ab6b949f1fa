package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/shineum/sparkpost-relay/internal/parser"
	"github.com/shineum/sparkpost-relay/internal/provider"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// DefaultMaxMessageSize is used when SessionOptions.MaxMessageSize is zero.
const DefaultMaxMessageSize = 10 * 1024 * 1024

// maxRecipients caps RCPT TO commands per transaction.
const maxRecipients = 100

// SessionOptions carries the per-server settings a session needs.
type SessionOptions struct {
	Hostname string
	// TLSConfig enables STARTTLS when non-nil.
	TLSConfig *tls.Config
	// MaxMessageSize limits DATA in bytes.
	MaxMessageSize int64
	// SpoolDir is where inbound attachments are written; empty means the
	// system temp directory.
	SpoolDir string
}

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   *bufio.Writer
	state    int
	auth     *Authenticator
	provider provider.Provider
	opts     SessionOptions

	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, auth *Authenticator, prov provider.Provider, opts SessionOptions) *Session {
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}

	return &Session{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
		state:    stateConnected,
		auth:     auth,
		provider: prov,
		opts:     opts,
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP sparkpost-relay", s.opts.Hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		return s.handleDATA(ctx)
	case "RSET":
		s.handleRSET()
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	if s.state < stateGreeted {
		s.state = stateGreeted
	}

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.opts.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.opts.Hostname, arg)
	if s.opts.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.auth.Enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250-SIZE %d", s.opts.MaxMessageSize)
	s.writeLine("250 OK")
}

// handleSTARTTLS upgrades the connection to TLS. The client must greet again
// afterwards.
func (s *Session) handleSTARTTLS() {
	if s.opts.TLSConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.opts.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.mailFrom = ""
	s.rcptTo = nil
	s.state = stateConnected
}

// handleAUTH processes AUTH commands (PLAIN and LOGIN mechanisms).
func (s *Session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if s.state >= stateAuthOK {
		s.writeLine("503 Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	switch {
	case errors.Is(err, errAuthCancelled):
		s.writeLine("501 Authentication cancelled")
	case err != nil:
		slog.Warn("authentication failed", "remote_addr", s.conn.RemoteAddr().String(), "error", err)
		s.writeLine("535 Authentication failed")
	default:
		s.state = stateAuthOK
		s.writeLine("235 Authentication successful")
	}
}

func (s *Session) authPlain(initial string) error {
	encoded := initial
	if encoded == "" {
		line, err := s.challenge("334")
		if err != nil {
			return err
		}
		encoded = line
	}
	if encoded == "*" {
		return errAuthCancelled
	}
	return s.auth.VerifyPlain(encoded)
}

func (s *Session) authLogin() error {
	// "Username:" and "Password:" in base64.
	user, err := s.challenge("334 VXNlcm5hbWU6")
	if err != nil {
		return err
	}
	if user == "*" {
		return errAuthCancelled
	}

	pass, err := s.challenge("334 UGFzc3dvcmQ6")
	if err != nil {
		return err
	}
	if pass == "*" {
		return errAuthCancelled
	}

	return s.auth.VerifyLogin(user, pass)
}

func (s *Session) challenge(prompt string) (string, error) {
	s.writeLine("%s", prompt)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read AUTH response: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// handleMAIL processes the MAIL FROM command.
func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	if s.state >= stateMailFrom {
		s.writeLine("503 Nested MAIL command")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr, params := splitParams(arg[5:])
	// The null reverse-path "<>" is allowed for bounces.
	if addr == "" && !strings.HasPrefix(strings.TrimSpace(arg[5:]), "<>") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	if size, ok := params["SIZE"]; ok {
		var n int64
		if _, err := fmt.Sscan(size, &n); err == nil && n > s.opts.MaxMessageSize {
			s.writeLine("552 Message size exceeds fixed maximum message size")
			return
		}
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

// handleRCPT processes the RCPT TO command.
func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr, _ := splitParams(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}
	if len(s.rcptTo) >= maxRecipients {
		s.writeLine("452 Too many recipients")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the message, converts it and hands it to the provider.
// It returns true when the connection is no longer usable.
func (s *Session) handleDATA(ctx context.Context) bool {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return false
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	raw, tooLarge, err := s.readData()
	if err != nil {
		slog.Error("error reading DATA", "error", err)
		return true
	}
	defer s.resetTransaction()

	if tooLarge {
		slog.Warn("message rejected, size limit exceeded",
			"from", s.mailFrom,
			"limit", s.opts.MaxMessageSize,
		)
		s.writeLine("552 Message size exceeds fixed maximum message size")
		return false
	}

	s.writeLine("%s", s.deliver(ctx, raw))
	return false
}

// deliver converts the message and hands it to the provider, returning the
// SMTP reply. Spooled attachments are removed before the reply is sent.
func (s *Session) deliver(ctx context.Context, raw []byte) string {
	parsed, err := parser.Parse(bytes.NewReader(raw), parser.Envelope{
		From:       s.mailFrom,
		Recipients: s.rcptTo,
	}, s.opts.SpoolDir)
	if err != nil {
		slog.Error("failed to parse message", "error", err)
		return "550 Failed to process message"
	}
	defer func() {
		if err := parsed.Cleanup(); err != nil {
			slog.Warn("failed to remove spooled attachments", "error", err)
		}
	}()

	if !s.provider.Send(ctx, parsed.Request) {
		slog.Error("provider send failed",
			"provider", s.provider.Name(),
			"from", s.mailFrom,
			"recipients", len(s.rcptTo),
		)
		return "451 Temporary failure, please try again later"
	}

	slog.Info("message relayed",
		"provider", s.provider.Name(),
		"from", s.mailFrom,
		"recipients", len(s.rcptTo),
		"size", len(raw),
	)
	return "250 OK message queued"
}

// readData reads dot-stuffed lines up to the terminator. Once the size limit
// is passed the rest of the input is discarded but still consumed so the
// session stays in sync with the client.
func (s *Session) readData() ([]byte, bool, error) {
	var buf bytes.Buffer
	tooLarge := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, false, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}

		if tooLarge {
			continue
		}
		if int64(buf.Len()+len(line)) > s.opts.MaxMessageSize {
			tooLarge = true
			buf.Reset()
			continue
		}
		buf.WriteString(line)
	}

	return buf.Bytes(), tooLarge, nil
}

// handleRSET resets the current transaction state.
func (s *Session) handleRSET() {
	s.resetTransaction()
	s.writeLine("250 OK")
}

// resetTransaction clears the current mail transaction without affecting the
// greeting or authentication state.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	switch {
	case s.state >= stateAuthOK && s.auth.Enabled():
		s.state = stateAuthOK
	case s.state >= stateGreeted:
		s.state = stateGreeted
	}
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// splitParams separates the path of a MAIL or RCPT argument from its ESMTP
// parameters, e.g. "<a@b.c> SIZE=100" yields "a@b.c" and {"SIZE": "100"}.
func splitParams(s string) (string, map[string]string) {
	s = strings.TrimSpace(s)

	var path, rest string
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", nil
		}
		path, rest = s[1:end], s[end+1:]
	} else {
		path, rest, _ = strings.Cut(s, " ")
	}

	params := make(map[string]string)
	for _, field := range strings.Fields(rest) {
		k, v, _ := strings.Cut(field, "=")
		params[strings.ToUpper(k)] = v
	}
	return strings.TrimSpace(path), params
}
