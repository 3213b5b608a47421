package sshconn

// exec.go implements command execution over an established connection:
// single commands, command sequences piped into a shell, and root-privileged
// runs for verification probes that need it (package installs, service
// restarts).
//
// Commands are bounded by the caller's context. The SSH protocol has no
// cancel message, so cancellation closes the session's channel, which
// unblocks the remote wait; the command itself may keep running droplet-side
// until teardown.

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/kballard/go-shellquote"
)

var (
	ErrSessionInit    = fmt.Errorf("failed to begin SSH session")
	ErrCMDExec        = fmt.Errorf("failed to execute SSH command")
	ErrInWait         = fmt.Errorf("SSH command did not exit cleanly")
	ErrStdinWrite     = fmt.Errorf("failed to write command to stdin")
	ErrStdStreamClose = fmt.Errorf("encountered error closing standard stream")
)

// Exec executes a single command, returning any standard out/err received.
//
// Output produced before a failure or cancellation is still returned.
func (c *Client) Exec(ctx context.Context, cmd string) (string, string, error) {
	session, err := c.ssh.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	defer session.Close()
	// Wire up standard streams.
	stdout := new(bytes.Buffer)
	session.Stdout = stdout
	stderr := new(bytes.Buffer)
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()
	select {
	case <-ctx.Done():
		// Closing the session unblocks Run; wait for it so the stream
		// buffers are no longer being written.
		session.Close()
		<-done
		return stdout.String(), stderr.String(), fmt.Errorf("%w: %w", ErrCMDExec, ctx.Err())
	case err := <-done:
		if err != nil {
			return stdout.String(), stderr.String(), fmt.Errorf("%w: %w", ErrCMDExec, err)
		}
	}
	return stdout.String(), stderr.String(), nil
}

// ExecSudo executes a single command with root privileges. Connections made
// as root run it directly; anything else goes through passwordless sudo.
func (c *Client) ExecSudo(ctx context.Context, cmd string) (string, string, error) {
	if c.user == "root" {
		return c.Exec(ctx, cmd)
	}
	return c.Exec(ctx, "sudo -n -- "+shellquote.Join("sh", "-c", cmd))
}

// ExecIn executes all provided commands within the provided 'shell'.
func (c *Client) ExecIn(ctx context.Context, shell Shell, cmds ...string) (string, string, error) {
	cmd := "/usr/bin/env " + shell
	session, err := c.ssh.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	defer session.Close()
	// Wire up standard streams.
	//
	// We use 'io.Pipe' here to ensure the 'session' reads match 1:1 with our
	// stdin writes (sequenced commands).
	stdinr, stdinw := io.Pipe()
	defer stdinr.Close()
	defer stdinw.Close()
	session.Stdin = stdinr
	stdout := new(bytes.Buffer)
	session.Stdout = stdout
	stderr := new(bytes.Buffer)
	session.Stderr = stderr
	// Begin the shell (the input 'cmds' go in via stdin below).
	if err = session.Start(cmd); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrCMDExec, err)
	}
	for _, cmd := range cmds {
		if _, err := stdinw.Write([]byte(cmd + "\n")); err != nil {
			return stdout.String(), stderr.String(), fmt.Errorf(
				"%w: %w",
				ErrStdinWrite, err,
			)
		}
	}
	// Manually close the PipeWriter.
	//
	// This signals an EOF to the 'PipeReader' and is safe to call multiple
	// times.
	if err = stdinw.Close(); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf(
			"%w: %w",
			ErrStdStreamClose, err,
		)
	}
	// Wait for the command to send an 'exit-status' request.
	done := make(chan error, 1)
	go func() { done <- session.Wait() }()
	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return stdout.String(), stderr.String(), fmt.Errorf("%w: %w", ErrInWait, ctx.Err())
	case err := <-done:
		if err != nil {
			return stdout.String(), stderr.String(), fmt.Errorf("%w: %w", ErrInWait, err)
		}
	}
	return stdout.String(), stderr.String(), nil
}
