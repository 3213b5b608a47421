package droplet_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysadmin-ai/vmtest/internal/droplet"
	"github.com/sysadmin-ai/vmtest/internal/droplet/pricelist"
	"github.com/sysadmin-ai/vmtest/internal/guard"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
	"github.com/sysadmin-ai/vmtest/internal/provider"
	"github.com/sysadmin-ai/vmtest/internal/provider/providertest"
	"github.com/sysadmin-ai/vmtest/internal/retry"
	"golang.org/x/sync/errgroup"
)

const testSessionID = "0f5a1f9e-4c2d-4a31-9f63-6e1b2a3c4d5e"

// fastPolicy keeps retry waits in the microseconds so failure paths run at
// test speed.
func fastPolicy(attempts uint) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, Base: time.Microsecond, Cap: 5 * time.Microsecond}
}

func newController(t *testing.T, api provider.API, budgetUSD float64, slots int) (*droplet.Controller, *guard.Guard) {
	t.Helper()
	g := guard.New(budgetUSD, slots)
	c := droplet.NewController(api, ledger.New(), g, droplet.Config{
		SessionID:      testSessionID,
		Tag:            "vmtest",
		Region:         "nyc3",
		BillingHorizon: time.Hour,
		CreatePolicy:   fastPolicy(4),
		PollPolicy:     fastPolicy(10),
		DestroyPolicy:  fastPolicy(4),
	})
	return c, g
}

func TestProvision(t *testing.T) {
	fake := providertest.New()
	c, g := newController(t, fake, 1.00, 4)

	rec, err := c.Provision(t.Context(), droplet.ProvisionSpec{
		Label: "ubuntu-24-04-x64",
		Image: "ubuntu-24-04-x64",
		Size:  "s-1vcpu-1gb",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.StateActive, rec.State)
	assert.Equal(t, ledger.KindDroplet, rec.Kind)
	assert.NotZero(t, rec.ProviderID)
	assert.NotEmpty(t, rec.PublicIP)
	assert.InDelta(t, 0.00893, rec.HourlyRate, 1e-9)
	assert.True(t, strings.HasPrefix(rec.Name, "vmtest-0f5a1f9e-ubuntu-24-04-x64-"),
		"droplet name %q should carry tag, session and image", rec.Name)

	// Provider-side the droplet exists and carries the session tag.
	require.Equal(t, 1, fake.CreateCalls())
	d, ok := fake.Droplet(rec.ProviderID)
	require.True(t, ok)
	assert.Contains(t, d.Tags, "vmtest")

	// One committed hour of s-1vcpu-1gb is on the books.
	assert.InDelta(t, 0.00893, g.Budget().Committed(), 1e-9)
}

func TestProvision_BudgetRefusedBeforeAnyAPICall(t *testing.T) {
	fake := providertest.New()
	// One hour of s-1vcpu-2gb estimates at ~$0.018, twice the budget.
	c, g := newController(t, fake, 0.01, 4)

	_, err := c.Provision(t.Context(), droplet.ProvisionSpec{
		Label: "ubuntu-24-04-x64",
		Image: "ubuntu-24-04-x64",
		Size:  "s-1vcpu-2gb",
	})
	require.ErrorIs(t, err, guard.ErrBudgetExceeded)

	assert.Zero(t, fake.CreateCalls(), "a refused reservation must never reach the provider")
	assert.Empty(t, c.Ledger().Snapshot())
	assert.Zero(t, g.Budget().Accrued())
}

func TestProvision_UnpricedSize(t *testing.T) {
	fake := providertest.New()
	c, _ := newController(t, fake, 1.00, 4)

	_, err := c.Provision(t.Context(), droplet.ProvisionSpec{
		Label: "ubuntu-24-04-x64",
		Image: "ubuntu-24-04-x64",
		Size:  "gpu-h100x8-640gb",
	})
	require.ErrorIs(t, err, pricelist.ErrUnknownSize)
	assert.Zero(t, fake.CreateCalls())
	assert.Empty(t, c.Ledger().Snapshot())
}

func TestProvision_WaitsThroughPending(t *testing.T) {
	fake := providertest.New()
	fake.SetDefaultStatusScript(
		provider.StatusPending,
		provider.StatusPending,
		provider.StatusPending,
		provider.StatusActive,
	)
	c, _ := newController(t, fake, 1.00, 4)

	rec, err := c.Provision(t.Context(), droplet.ProvisionSpec{
		Label: "debian-12-x64",
		Image: "debian-12-x64",
		Size:  "s-1vcpu-1gb",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.StateActive, rec.State)
	assert.Equal(t, 4, fake.StatusCalls(rec.ProviderID),
		"three pending polls then the active one")
	assert.NotEmpty(t, rec.PublicIP)
}

func TestProvision_RetriesTransientCreate(t *testing.T) {
	fake := providertest.New()
	fake.FailCreates(providertest.RateLimited(), providertest.ServerError())
	c, _ := newController(t, fake, 1.00, 4)

	rec, err := c.Provision(t.Context(), droplet.ProvisionSpec{
		Label: "fedora-42-x64",
		Image: "fedora-42-x64",
		Size:  "s-1vcpu-1gb",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StateActive, rec.State)
	assert.Equal(t, 3, fake.CreateCalls(), "two transient failures then success")
}

func TestProvision_PermanentCreateFailsImmediately(t *testing.T) {
	fake := providertest.New()
	fake.FailCreates(providertest.Forbidden())
	c, g := newController(t, fake, 1.00, 1)

	_, err := c.Provision(t.Context(), droplet.ProvisionSpec{
		Label: "ubuntu-22-04-x64",
		Image: "ubuntu-22-04-x64",
		Size:  "s-1vcpu-1gb",
	})
	require.Error(t, err)
	assert.Equal(t, 1, fake.CreateCalls(), "permanent errors must not be retried")

	// The record stays behind as evidence, with no provider id since the
	// create never went through.
	recs := c.Ledger().Snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, ledger.StateFailed, recs[0].State)
	assert.Zero(t, recs[0].ProviderID)

	// Budget and the single slot came back.
	assert.Zero(t, g.Budget().Accrued())
	require.NoError(t, g.AcquireSlot(t.Context()))
	g.ReleaseSlot()

	// Nothing provider-side, so teardown has nothing to report.
	require.NoError(t, c.TeardownAll(t.Context()))
}

func TestProvision_ErroredDropletIsReaped(t *testing.T) {
	fake := providertest.New()
	fake.SetDefaultStatusScript(provider.StatusErrored)
	c, g := newController(t, fake, 1.00, 4)

	_, err := c.Provision(t.Context(), droplet.ProvisionSpec{
		Label: "almalinux-9-x64",
		Image: "almalinux-9-x64",
		Size:  "s-1vcpu-1gb",
	})
	require.ErrorIs(t, err, droplet.ErrNeverActive)

	// The broken droplet was destroyed, its record retired, its budget
	// returned.
	assert.Empty(t, fake.Droplets())
	assert.Empty(t, c.Ledger().Snapshot())
	assert.Zero(t, g.Budget().Accrued())
}

func TestRelease_Idempotent(t *testing.T) {
	fake := providertest.New()
	c, _ := newController(t, fake, 1.00, 4)

	rec, err := c.Provision(t.Context(), droplet.ProvisionSpec{
		Label: "ubuntu-24-04-x64",
		Image: "ubuntu-24-04-x64",
		Size:  "s-1vcpu-1gb",
	})
	require.NoError(t, err)

	require.NoError(t, c.Release(t.Context(), rec.ID))
	require.NoError(t, c.Release(t.Context(), rec.ID), "releasing a released record is a no-op")

	assert.Equal(t, 1, fake.DeleteCalls(rec.ProviderID))
	assert.Empty(t, fake.Droplets())
	assert.Empty(t, c.Ledger().Snapshot(), "destroyed records leave the ledger")
}

func TestRelease_ConcurrentCallsOneDelete(t *testing.T) {
	fake := providertest.New()
	c, _ := newController(t, fake, 1.00, 4)

	rec, err := c.Provision(t.Context(), droplet.ProvisionSpec{
		Label: "centos-stream-9-x64",
		Image: "centos-stream-9-x64",
		Size:  "s-1vcpu-1gb",
	})
	require.NoError(t, err)

	var eg errgroup.Group
	for range 8 {
		eg.Go(func() error { return c.Release(t.Context(), rec.ID) })
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, 1, fake.DeleteCalls(rec.ProviderID))
}

func TestRelease_RequestedRecordSkipsProvider(t *testing.T) {
	fake := providertest.New()
	c, _ := newController(t, fake, 1.00, 4)

	// A record that never made it to the provider: no provider id.
	require.NoError(t, c.Ledger().Register(ledger.Record{
		ID:   "rec-requested",
		Kind: ledger.KindDroplet,
		Name: "vmtest-0f5a1f9e-orphan-test",
	}))

	require.NoError(t, c.Release(t.Context(), "rec-requested"))
	assert.Empty(t, c.Ledger().Snapshot())
}

func TestRelease_UnknownIDIsNoOp(t *testing.T) {
	fake := providertest.New()
	c, _ := newController(t, fake, 1.00, 4)
	require.NoError(t, c.Release(t.Context(), "never-registered"))
}
