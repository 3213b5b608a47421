package droplet_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
	"github.com/sysadmin-ai/vmtest/internal/provider/providertest"
	"golang.org/x/sync/errgroup"
)

func TestEnsureKey(t *testing.T) {
	fake := providertest.New()
	c, _ := newController(t, fake, 1.00, 4)

	key, err := c.EnsureKey(t.Context())
	require.NoError(t, err)

	assert.NotZero(t, key.ProviderID)
	assert.NotNil(t, key.Signer)
	assert.Equal(t, "vmtest-0f5a1f9e-key", key.Name)
	assert.NotEmpty(t, key.Fingerprint)

	recs := c.Ledger().Snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, ledger.KindKey, recs[0].Kind)
	assert.Equal(t, ledger.StateActive, recs[0].State)
	assert.Equal(t, key.ProviderID, recs[0].ProviderID)

	keys := fake.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, key.Name, keys[0].Name)
}

func TestEnsureKey_ReturnsSameKey(t *testing.T) {
	fake := providertest.New()
	c, _ := newController(t, fake, 1.00, 4)

	first, err := c.EnsureKey(t.Context())
	require.NoError(t, err)

	var eg errgroup.Group
	for range 4 {
		eg.Go(func() error {
			key, err := c.EnsureKey(t.Context())
			if err != nil {
				return err
			}
			assert.Equal(t, first.ProviderID, key.ProviderID)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, 1, fake.KeyCreateCalls(), "one session, one uploaded key")
}

func TestEnsureKey_PermanentFailure(t *testing.T) {
	fake := providertest.New()
	fake.FailKeyCreates(providertest.Forbidden())
	c, _ := newController(t, fake, 1.00, 4)

	_, err := c.EnsureKey(t.Context())
	require.Error(t, err)
	assert.Equal(t, 1, fake.KeyCreateCalls())

	recs := c.Ledger().Snapshot()
	require.Len(t, recs, 1)
	assert.Equal(t, ledger.StateFailed, recs[0].State)
	assert.True(t, strings.HasPrefix(recs[0].Name, "vmtest-"))
}

func TestEnsureKey_RetriesTransientUpload(t *testing.T) {
	fake := providertest.New()
	fake.FailKeyCreates(providertest.RateLimited())
	c, _ := newController(t, fake, 1.00, 4)

	key, err := c.EnsureKey(t.Context())
	require.NoError(t, err)
	assert.NotZero(t, key.ProviderID)
	assert.Equal(t, 2, fake.KeyCreateCalls())
}
