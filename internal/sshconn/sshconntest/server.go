// Package sshconntest implements just enough of an SSH server to stand in
// for a freshly booted droplet: public key auth, one exec per session channel
// with scriptable output, an sftp subsystem for transfer tests, and the
// option to refuse the first connections the way a machine mid-boot does.
package sshconntest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// Responder produces the stdout, stderr and exit code returned for an exec
// request.
type Responder func(cmd string) (stdout, stderr string, exit uint32)

type Option func(*Server)

// WithResponder replaces the default empty-output, exit-zero responder.
func WithResponder(r Responder) Option {
	return func(s *Server) { s.responder = r }
}

// WithRefusedConns drops the first 'n' TCP connections before the SSH
// handshake, imitating a droplet whose sshd is not up yet.
func WithRefusedConns(n int) Option {
	return func(s *Server) { s.refuse.Store(int32(n)) }
}

// Server is a loopback SSH server for connection, exec and transfer tests.
//
// Construct with NewServer, start with ListenAndServe, stop with Shutdown.
type Server struct {
	// The SSH server configuration.
	//
	// May be modified _prior_ to calling 'ListenAndServe'; modifying after
	// has no effect.
	Config *ssh.ServerConfig

	responder Responder
	refuse    atomic.Int32

	cancel   context.CancelFunc
	listener net.Listener

	// 'Waiter' is a 'sync.WaitGroup'-like construct, save that it accepts a
	// 'context.Context' on its 'Done' method, supporting deadlines.
	wait Waiter

	mu    sync.Mutex
	execs []string
	lines []string
}

func NewServer(t *testing.T, signer ssh.Signer, auth PubKeyCallback, opts ...Option) *Server {
	t.Helper()
	require.NotNil(t, signer, "a non-nil ssh.Signer is required")
	require.NotNil(t, auth, "a non-nil public key callback is required")

	config := &ssh.ServerConfig{
		PublicKeyCallback: auth,
	}
	config.AddHostKey(signer)

	s := &Server{
		Config:    config,
		responder: func(string) (string, string, uint32) { return "", "", 0 },
		wait:      NewWaiter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds a loopback listener on an ephemeral port and begins
// serving connections. The chosen port is available from Port.
func (s *Server) ListenAndServe(t *testing.T, ctx context.Context) {
	t.Helper()
	ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to listen on loopback")
	s.listener = listener

	s.wait.Add()
	go s.serve(ctx, listener)
}

// Port returns the ephemeral port the server listens on.
func (s *Server) Port() uint16 {
	return uint16(s.listener.Addr().(*net.TCPAddr).Port)
}

// Execs returns every exec command received, in order.
func (s *Server) Execs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.execs))
	copy(out, s.execs)
	return out
}

// Lines returns every stdin line received, in order.
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *Server) serve(ctx context.Context, listener net.Listener) {
	defer s.wait.Done()
	go func() {
		// Closing the listener unblocks Accept.
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		if left := s.refuse.Add(-1); left >= 0 {
			log.Debug("refusing connection", "remaining", left)
			conn.Close()
			continue
		}
		s.wait.Add()
		go s.handleConn(ctx, conn)
	}
}

// handleConn performs the SSH handshake, then accepts 'session' channels and
// dispatches each to its own handler.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wait.Done()
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.Config)
	if err != nil {
		// Mid-handshake disconnects are routine while a client probes.
		log.Debug("handshake failed", "error", err)
		conn.Close()
		return
	}
	defer sshConn.Close()
	go func() {
		// Tearing down the connection unblocks any handler mid-read.
		<-ctx.Done()
		sshConn.Close()
	}()
	// ACK (and otherwise ignore) connection-level requests.
	go ssh.DiscardRequests(reqs)

	for {
		select {
		case <-ctx.Done():
			return
		case newChan, more := <-chans:
			if !more {
				return
			}
			if newChan.ChannelType() != "session" {
				newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
				continue
			}
			channel, chanReqs, err := newChan.Accept()
			if err != nil {
				log.Error("accepting session channel", "error", err)
				continue
			}
			s.wait.Add()
			go s.handleChannel(ctx, channel, chanReqs)
		}
	}
}

// handleChannel serves one session channel. Per the SSH protocol a session
// carries at most one exec or subsystem request; the channel is closed once
// that request has been answered.
func (s *Server) handleChannel(ctx context.Context, channel ssh.Channel, reqs <-chan *ssh.Request) {
	defer s.wait.Done()
	defer channel.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case req, more := <-reqs:
			if !more {
				return
			}
			switch req.Type {
			case "exec":
				s.handleExec(channel, req)
				return
			case "subsystem":
				s.handleSubsystem(channel, req)
				return
			default:
				log.Debug("unhandled channel request", "type", req.Type)
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
			}
		}
	}
}

// handleExec answers an 'exec' request: drain stdin to EOF (ExecIn sequences
// its commands there), then emit the responder's output and exit status.
func (s *Server) handleExec(channel ssh.Channel, req *ssh.Request) {
	var payload struct{ Command string }
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		log.Error("bad exec payload", "error", err)
		_ = req.Reply(false, nil)
		return
	}
	log.Debug("received an 'exec' channel request", "command", payload.Command)
	if req.WantReply {
		_ = req.Reply(true, nil)
	}

	lines := readLines(channel)

	s.mu.Lock()
	s.execs = append(s.execs, payload.Command)
	s.lines = append(s.lines, lines...)
	responder := s.responder
	s.mu.Unlock()

	stdout, stderr, exit := responder(payload.Command)
	if stdout != "" {
		_, _ = channel.Write([]byte(stdout))
	}
	if stderr != "" {
		_, _ = channel.Stderr().Write([]byte(stderr))
	}
	_, _ = channel.SendRequest("exit-status", false, marshalExitStatus(exit))
}

// handleSubsystem serves the 'sftp' subsystem against the host filesystem.
// Tests point transfers at paths under t.TempDir().
func (s *Server) handleSubsystem(channel ssh.Channel, req *ssh.Request) {
	var payload struct{ Name string }
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
		log.Error("unsupported subsystem", "payload", string(req.Payload))
		_ = req.Reply(false, nil)
		return
	}
	if req.WantReply {
		_ = req.Reply(true, nil)
	}

	srv, err := sftp.NewServer(channel)
	if err != nil {
		log.Error("starting sftp subsystem", "error", err)
		return
	}
	if err := srv.Serve(); err != nil && !errors.Is(err, io.EOF) {
		log.Debug("sftp subsystem ended", "error", err)
	}
	_ = srv.Close()
}

var ErrServerNotStarted = fmt.Errorf(
	"shutdown called without a call to 'ListenAndServe' first",
)

// Shutdown stops the listener and waits for in-flight handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel == nil {
		return ErrServerNotStarted
	}
	s.cancel()
	return s.wait.WaitContext(ctx)
}
