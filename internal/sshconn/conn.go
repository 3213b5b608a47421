package sshconn

// conn.go implements connection establishment against droplets that may
// still be booting. A freshly active droplet refuses connections until sshd
// comes up, then may reject the session key until cloud-init has written
// authorized_keys, so every dial failure inside the policy window counts as
// "not ready yet" rather than fatal.

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/sysadmin-ai/vmtest/internal/retry"
	"golang.org/x/crypto/ssh"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultPort        = 22
)

var (
	ErrDial           = fmt.Errorf("failed to establish SSH connection")
	ErrHostParse      = fmt.Errorf("failed to parse hostname")
	ErrHostKeyInvalid = fmt.Errorf("target's host key is invalid")
	ErrConnectTimeout = fmt.Errorf("droplet never accepted an SSH connection")
)

// Outcome classifies one connection attempt.
type Outcome string

const (
	// OutcomeSuccess is an attempt that produced the connection.
	OutcomeSuccess Outcome = "success"
	// OutcomeTransient is a failed attempt inside the boot window; another
	// follows.
	OutcomeTransient Outcome = "transient"
	// OutcomePermanent is the failed attempt that exhausted the window.
	OutcomePermanent Outcome = "permanent"
)

// Config describes one droplet connection.
type Config struct {
	// Host is a hostname, IPv4 or IPv6 address. Empty means IPv4 loopback.
	Host string

	// Port 0 means the SSH default, 22.
	Port uint16

	User   string
	Signer ssh.Signer

	// HostKeys pins the keys the target may present. Empty accepts any host
	// key, which is the only option for a droplet whose keys were generated
	// seconds ago.
	HostKeys []ssh.PublicKey

	// DialTimeout bounds a single attempt; Policy bounds the whole window.
	DialTimeout time.Duration
	Policy      retry.Policy
}

// ConnectionAttempt records one dial inside the boot window. Wait is the
// backoff slept after this attempt; it stays zero on the final one.
type ConnectionAttempt struct {
	Attempt int
	Start   time.Time
	Wait    time.Duration
	Outcome Outcome
	Err     error
}

// Client is an established SSH connection to a droplet.
type Client struct {
	ssh      *ssh.Client
	user     string
	attempts []ConnectionAttempt
}

// Connect dials 'cfg.Host' until sshd answers and authenticates the session
// key, backing off between attempts per 'cfg.Policy'. The attempt history is
// preserved on the returned Client for diagnostics.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Policy.MaxAttempts == 0 && cfg.Policy.MaxElapsed == 0 {
		cfg.Policy = retry.Policy{MaxAttempts: 12, Base: 2 * time.Second, Cap: 15 * time.Second, Jitter: 0.2, MaxElapsed: 3 * time.Minute}
	}

	log := clog.FromContext(ctx).With("host", cfg.Host, "user", cfg.User)

	target, err := joinHostPort(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	clientConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(cfg.Signer),
		},
		HostKeyCallback: hostKeyCallback(cfg.HostKeys),
		Timeout:         cfg.DialTimeout,
	}

	var attempts []ConnectionAttempt
	client, err := retry.DoNotify(ctx, cfg.Policy, func() (*ssh.Client, error) {
		start := time.Now()
		client, err := ssh.Dial("tcp", target, clientConfig)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrDial, err)
			attempts = append(attempts, ConnectionAttempt{
				Attempt: len(attempts) + 1,
				Start:   start,
				Outcome: OutcomeTransient,
				Err:     err,
			})
			return nil, err
		}
		attempts = append(attempts, ConnectionAttempt{
			Attempt: len(attempts) + 1,
			Start:   start,
			Outcome: OutcomeSuccess,
		})
		return client, nil
	}, func(err error, wait time.Duration) {
		if n := len(attempts); n > 0 {
			attempts[n-1].Wait = wait
		}
		log.Debug("sshd not ready, backing off", "attempt", len(attempts), "wait", wait, "error", err)
	})
	if err != nil {
		if n := len(attempts); n > 0 {
			attempts[n-1].Outcome = OutcomePermanent
		}
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %w", ErrConnectTimeout, target, len(attempts), err)
	}

	log.Debug("ssh connection established", "attempts", len(attempts))
	return &Client{ssh: client, user: cfg.User, attempts: attempts}, nil
}

// Attempts returns the dial history that produced this connection.
func (c *Client) Attempts() []ConnectionAttempt {
	out := make([]ConnectionAttempt, len(c.attempts))
	copy(out, c.attempts)
	return out
}

func (c *Client) Close() error {
	return c.ssh.Close()
}

// hostKeyCallback validates the target's host key against 'hostKeys'. With
// no pins, any key is accepted; this behavior is the same as
// 'ssh.InsecureIgnoreHostKey'.
func hostKeyCallback(hostKeys []ssh.PublicKey) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if len(hostKeys) == 0 {
			return nil
		}
		for _, hostKey := range hostKeys {
			if bytes.Equal(hostKey.Marshal(), key.Marshal()) {
				return nil
			}
		}
		return ErrHostKeyInvalid
	}
}

// joinHostPort parses and validates 'host' is a valid IPv4 or IPv6 address,
// then joins it with the port in the address-family-specific format.
//
// If 'host' is a hostname, the hostname will be resolved, then joinHostPort
// will recurse using the first of the resolved addresses.
func joinHostPort(host string, port uint16) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if addr := net.ParseIP(host); addr == nil {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrHostParse, host)
		}
		return joinHostPort(addrs[0], port)
	} else if ipv4 := addr.To4(); ipv4 != nil {
		return fmt.Sprintf("%s:%d", ipv4.String(), port), nil
	} else if ipv6 := addr.To16(); ipv6 != nil {
		return fmt.Sprintf("[%s]:%d", ipv6.String(), port), nil
	} else {
		panic("impossible")
	}
}
