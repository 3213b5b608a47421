package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
)

func TestStateCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from ledger.State
		to   ledger.State
		want bool
	}{
		{"requested to provisioning", ledger.StateRequested, ledger.StateProvisioning, true},
		{"requested to failed", ledger.StateRequested, ledger.StateFailed, true},
		// A teardown pass may catch a record whose create call is still in
		// flight.
		{"requested to destroying", ledger.StateRequested, ledger.StateDestroying, true},
		{"provisioning to active", ledger.StateProvisioning, ledger.StateActive, true},
		{"provisioning to failed", ledger.StateProvisioning, ledger.StateFailed, true},
		{"provisioning to destroying", ledger.StateProvisioning, ledger.StateDestroying, true},
		{"active to in-use", ledger.StateActive, ledger.StateInUse, true},
		{"active to destroying", ledger.StateActive, ledger.StateDestroying, true},
		{"in-use to destroying", ledger.StateInUse, ledger.StateDestroying, true},
		{"destroying to destroyed", ledger.StateDestroying, ledger.StateDestroyed, true},
		{"destroying to failed", ledger.StateDestroying, ledger.StateFailed, true},

		{"requested to active", ledger.StateRequested, ledger.StateActive, false},
		{"requested to in-use", ledger.StateRequested, ledger.StateInUse, false},
		{"active to failed", ledger.StateActive, ledger.StateFailed, false},
		{"active to requested", ledger.StateActive, ledger.StateRequested, false},
		{"in-use to active", ledger.StateInUse, ledger.StateActive, false},
		{"destroyed to destroying", ledger.StateDestroyed, ledger.StateDestroying, false},
		{"destroyed to requested", ledger.StateDestroyed, ledger.StateRequested, false},
		{"failed to destroying", ledger.StateFailed, ledger.StateDestroying, false},
		{"failed to requested", ledger.StateFailed, ledger.StateRequested, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []ledger.State{
		ledger.StateRequested,
		ledger.StateProvisioning,
		ledger.StateActive,
		ledger.StateInUse,
		ledger.StateDestroying,
	} {
		require.False(t, s.Terminal(), "state %q", s)
	}
	require.True(t, ledger.StateDestroyed.Terminal())
	require.True(t, ledger.StateFailed.Terminal())
}
