package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysadmin-ai/vmtest/internal/images"
	"github.com/sysadmin-ai/vmtest/internal/provider/providertest"
	"github.com/sysadmin-ai/vmtest/internal/retry"
	"github.com/sysadmin-ai/vmtest/internal/session"
	"github.com/sysadmin-ai/vmtest/internal/sshconn"
	mock "github.com/sysadmin-ai/vmtest/internal/sshconn/sshconntest"
)

// debianHost answers every built-in workload the way a healthy Debian
// droplet would.
func debianHost(cmd string) (string, string, uint32) {
	switch {
	case cmd == "uname -a":
		return "Linux vmtest-cli 6.1.0-18-amd64 x86_64 GNU/Linux\n", "", 0
	case cmd == "cat /etc/os-release":
		return "PRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\nID=debian\n", "", 0
	case strings.HasPrefix(cmd, "apt-get"):
		return "apt 2.6.1 (amd64)\n", "", 0
	case cmd == "systemctl is-system-running":
		return "running\n", "", 0
	default:
		return "", "", 0
	}
}

func startMockSSH(t *testing.T, opts ...mock.Option) *mock.Server {
	t.Helper()
	keys, err := sshconn.NewED25519KeyPair()
	require.NoError(t, err)
	hostSigner, err := keys.Private.ToSSH()
	require.NoError(t, err)

	server := mock.NewServer(t, hostSigner, mock.AcceptAll(), opts...)
	server.ListenAndServe(t, t.Context())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	return server
}

// stubSession points every opened session at the fake provider and the mock
// SSH server.
func stubSession(t *testing.T, fake *providertest.Fake, sshPort uint16) {
	t.Helper()
	fake.SetPublicIP("127.0.0.1")

	fast := retry.Policy{MaxAttempts: 6, Base: time.Microsecond, Cap: 5 * time.Microsecond}
	sessionOpts = []session.Option{
		session.WithAPI(fake),
		session.WithSSHPort(sshPort),
		session.WithPolicies(session.Policies{
			Create:  fast,
			Poll:    retry.Policy{MaxAttempts: 12, Base: time.Microsecond, Cap: 5 * time.Microsecond},
			Destroy: fast,
			Dial:    retry.Policy{MaxAttempts: 4, Base: 5 * time.Millisecond, Cap: 25 * time.Millisecond},
		}),
	}
	t.Cleanup(func() { sessionOpts = nil })
}

func runWith(t *testing.T, do func(*cobra.Command, []string) error) error {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())
	return do(cmd, nil)
}

func TestRunCommand_EndToEnd(t *testing.T) {
	pinEnv(t)
	fake := providertest.New()
	server := startMockSSH(t, mock.WithResponder(debianHost))
	stubSession(t, fake, server.Port())

	runImages = []string{"debian-12-x64"}
	t.Cleanup(func() { runImages = nil })

	require.NoError(t, runWith(t, doRun))

	assert.Contains(t, server.Execs(), "uname -a")
	assert.Contains(t, server.Execs(), "apt-get --version")
	assert.Empty(t, fake.Droplets())
	assert.Empty(t, fake.Keys())
}

func TestRunCommand_SkipVerify(t *testing.T) {
	pinEnv(t)
	fake := providertest.New()
	server := startMockSSH(t, mock.WithResponder(debianHost))
	stubSession(t, fake, server.Port())

	runImages = []string{"debian-12-x64"}
	skipVerify = true
	t.Cleanup(func() { runImages = nil; skipVerify = false })

	require.NoError(t, runWith(t, doRun))

	assert.NotContains(t, server.Execs(), "uname -a")
	assert.Empty(t, fake.Droplets())
}

func TestRunCommand_VerifyFailureExitsNonZero(t *testing.T) {
	pinEnv(t)
	fake := providertest.New()
	// A droplet claiming to be Debian can never pass the rhel family check.
	server := startMockSSH(t, mock.WithResponder(debianHost))
	stubSession(t, fake, server.Port())

	runImages = []string{"almalinux-9-x64"}
	t.Cleanup(func() { runImages = nil })

	err := runWith(t, doRun)
	require.ErrorContains(t, err, "1 of 1 targets failed")

	// A failed target still gets destroyed.
	assert.Empty(t, fake.Droplets())
}

func TestRunCommand_UnknownImage(t *testing.T) {
	pinEnv(t)
	runImages = []string{"windows-server-2022"}
	t.Cleanup(func() { runImages = nil })

	// No session is opened for a slug outside the matrix.
	err := runWith(t, doRun)
	require.ErrorIs(t, err, images.ErrUnknownImage)
}

func TestSmokeCommand_PinsCheapestSize(t *testing.T) {
	pinEnv(t)
	fake := providertest.New()
	server := startMockSSH(t, mock.WithResponder(debianHost))
	stubSession(t, fake, server.Port())

	smokeImage = "debian-12-x64"
	t.Cleanup(func() { smokeImage = "ubuntu-24-04-x64" })

	require.NoError(t, runWith(t, doSmoke))

	specs := fake.CreateSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, "s-1vcpu-512mb-10gb", specs[0].Size, "smoke always uses the cheapest slice")
	assert.Empty(t, fake.Droplets())
}
