package droplet

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
	"github.com/sysadmin-ai/vmtest/internal/provider"
	"github.com/sysadmin-ai/vmtest/internal/retry"
	"github.com/sysadmin-ai/vmtest/internal/sshconn"
	"golang.org/x/crypto/ssh"
)

// SessionKey is the one SSH keypair a session provisions droplets with. The
// private half lives only in the Signer; it is never written to the ledger
// or to disk.
type SessionKey struct {
	RecordID    string
	ProviderID  int64
	Name        string
	Fingerprint string
	Signer      ssh.Signer
}

// EnsureKey returns the session keypair, generating and uploading it on
// first call. Later calls return the same key. Keys ride outside the budget
// and slot accounting, the provider bills them at zero.
func (c *Controller) EnsureKey(ctx context.Context) (*SessionKey, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()

	if c.key != nil {
		return c.key, nil
	}

	log := clog.FromContext(ctx)

	pair, err := sshconn.NewED25519KeyPair()
	if err != nil {
		return nil, err
	}
	public, err := pair.Public.MarshalOpenSSH()
	if err != nil {
		return nil, err
	}
	sshPub, err := pair.Public.ToSSH()
	if err != nil {
		return nil, err
	}
	signer, err := pair.Private.ToSSH()
	if err != nil {
		return nil, fmt.Errorf("converting session key to signer: %w", err)
	}

	id := uuid.NewString()
	name := c.keyName()
	if err := c.ledger.Register(ledger.Record{
		ID:          id,
		Kind:        ledger.KindKey,
		Name:        name,
		Fingerprint: ssh.FingerprintLegacyMD5(sshPub),
		State:       ledger.StateRequested,
	}); err != nil {
		return nil, err
	}

	log.Info("uploading session key", "name", name)
	key, err := c.createKey(ctx, name, string(public))
	if err != nil {
		if merr := c.ledger.MarkState(id, ledger.StateFailed); merr != nil {
			log.Error("marking failed key record", "error", merr)
		}
		return nil, fmt.Errorf("uploading session key %q: %w", name, err)
	}

	if err := c.ledger.SetProviderID(id, key.ID); err != nil {
		log.Error("recording key provider id", "error", err)
	}
	// Keys have no boot phase; walk the record straight through to Active.
	for _, next := range []ledger.State{ledger.StateProvisioning, ledger.StateActive} {
		if err := c.ledger.MarkState(id, next); err != nil {
			log.Error("advancing key record", "state", next, "error", err)
		}
	}
	log.Info("session key registered", "name", name, "provider_id", key.ID)

	c.key = &SessionKey{
		RecordID:    id,
		ProviderID:  key.ID,
		Name:        name,
		Fingerprint: key.Fingerprint,
		Signer:      signer,
	}
	return c.key, nil
}

func (c *Controller) createKey(ctx context.Context, name, public string) (provider.Key, error) {
	log := clog.FromContext(ctx)
	return retry.DoNotify(ctx, c.createPolicy, func() (provider.Key, error) {
		key, err := c.api.CreateKey(ctx, name, public)
		if err != nil {
			if !provider.Transient(err) {
				return provider.Key{}, retry.Permanent(err)
			}
			return provider.Key{}, err
		}
		return key, nil
	}, func(err error, wait time.Duration) {
		log.Warn("key upload failed, backing off", "name", name, "wait", wait, "error", err)
	})
}
