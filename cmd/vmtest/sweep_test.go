package main

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysadmin-ai/vmtest/internal/provider"
	"github.com/sysadmin-ai/vmtest/internal/provider/providertest"
)

// pinEnv keeps ambient VMTEST_* settings out of the test and provides the
// one required variable.
func pinEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"DIGITALOCEAN_TOKEN", "OPENAI_API_KEY", "OPA_URL",
		"MAX_TEST_DROPLETS", "MAX_SESSION_MINUTES", "SESSION_BUDGET_USD",
		"VMTEST_REGION", "VMTEST_SIZE", "VMTEST_TAG",
		"SNAPSHOT_FILE", "SSH_USER",
	} {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
	t.Setenv("DIGITALOCEAN_TOKEN", "dop_v1_test")
}

func stubAPI(t *testing.T, api provider.API) {
	t.Helper()
	prev := newAPI
	newAPI = func(string) provider.API { return api }
	t.Cleanup(func() { newAPI = prev })
}

func sweepWith(t *testing.T, tag string, dryRun, force bool) error {
	t.Helper()
	sweepTag, sweepDryRun, sweepForce = tag, dryRun, force
	t.Cleanup(func() { sweepTag, sweepDryRun, sweepForce = "", false, false })

	cmd := &cobra.Command{}
	cmd.SetContext(t.Context())
	return doSweep(cmd, nil)
}

func TestSweepCommand_RefusesWithoutForce(t *testing.T) {
	pinEnv(t)
	fake := providertest.New()
	stray := fake.SeedDroplet("vmtest-dead1f9e-ubuntu", "vmtest")
	fake.SeedKey("vmtest-dead1f9e-key")
	stubAPI(t, fake)

	err := sweepWith(t, "", false, false)
	require.ErrorContains(t, err, "--force")

	_, alive := fake.Droplet(stray.ID)
	assert.True(t, alive)
	assert.Zero(t, fake.DeleteCalls(stray.ID))
}

func TestSweepCommand_DryRun(t *testing.T) {
	pinEnv(t)
	fake := providertest.New()
	stray := fake.SeedDroplet("vmtest-dead1f9e-ubuntu", "vmtest")
	stubAPI(t, fake)

	err := sweepWith(t, "", true, false)
	require.NoError(t, err)

	_, alive := fake.Droplet(stray.ID)
	assert.True(t, alive)
}

func TestSweepCommand_Force(t *testing.T) {
	pinEnv(t)
	fake := providertest.New()
	stray := fake.SeedDroplet("vmtest-dead1f9e-ubuntu", "vmtest")
	strayKey := fake.SeedKey("vmtest-dead1f9e-key")
	stubAPI(t, fake)

	err := sweepWith(t, "", false, true)
	require.NoError(t, err)

	_, alive := fake.Droplet(stray.ID)
	assert.False(t, alive)
	assert.Empty(t, fake.Keys())
	assert.Equal(t, 1, fake.DeleteCalls(strayKey.ID))
}

func TestSweepCommand_TagOverride(t *testing.T) {
	pinEnv(t)
	fake := providertest.New()
	ci := fake.SeedDroplet("ci-dead1f9e-ubuntu", "ci")
	def := fake.SeedDroplet("vmtest-dead1f9e-ubuntu", "vmtest")
	stubAPI(t, fake)

	err := sweepWith(t, "ci", false, true)
	require.NoError(t, err)

	_, alive := fake.Droplet(ci.ID)
	assert.False(t, alive)
	_, alive = fake.Droplet(def.ID)
	assert.True(t, alive, "only the named tag is swept")
}

func TestSweepCommand_NothingToDo(t *testing.T) {
	pinEnv(t)
	stubAPI(t, providertest.New())

	// No resources means no refusal either.
	require.NoError(t, sweepWith(t, "", false, false))
}
