package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sysadmin-ai/vmtest/internal/droplet"
	"github.com/sysadmin-ai/vmtest/internal/ledger"
)

// TargetReport is the outcome of one target.
type TargetReport struct {
	Label           string
	DropletName     string
	ProviderID      int64
	Provisioned     bool
	ConnectAttempts int
	Verified        bool
	Error           string
}

// Passed reports whether the target did everything asked of it: provisioned,
// and verified unless verification was skipped.
func (t TargetReport) Passed() bool {
	return t.Provisioned && t.Error == ""
}

func (t TargetReport) status() string {
	switch {
	case t.Error != "":
		return "failed"
	case t.Verified:
		return "ok"
	case t.Provisioned:
		return "ready"
	default:
		return "failed"
	}
}

func (t TargetReport) detail() string {
	if t.Error != "" {
		return t.Error
	}
	return fmt.Sprintf("%s (provider id %d, ssh attempts %d)",
		t.DropletName, t.ProviderID, t.ConnectAttempts)
}

// Report is the session's final accounting.
type Report struct {
	SessionID string
	Started   time.Time
	Wall      time.Duration
	BudgetUSD float64
	SpentUSD  float64
	Targets   []TargetReport

	// Orphans are resources the provider never confirmed destroyed. They are
	// still billing and need manual cleanup.
	Orphans []ledger.Record
}

// OK reports whether the session finished clean: every target passed and
// nothing was left behind.
func (r *Report) OK() bool {
	for _, t := range r.Targets {
		if !t.Passed() {
			return false
		}
	}
	return len(r.Orphans) == 0
}

// String renders the user-visible session summary.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s\n", shortID(r.SessionID))

	passed := 0
	for _, t := range r.Targets {
		if t.Passed() {
			passed++
		}
		fmt.Fprintf(&b, "  %-6s  %-22s %s\n", t.status(), t.Label, t.detail())
	}

	fmt.Fprintf(&b, "results: %d/%d passed\n", passed, len(r.Targets))
	fmt.Fprintf(&b, "duration: %s\n", r.Wall.Round(time.Second))
	fmt.Fprintf(&b, "cost: $%.4f of $%.2f\n", r.SpentUSD, r.BudgetUSD)

	if len(r.Orphans) > 0 {
		fmt.Fprintf(&b, "ORPHANED RESOURCES, clean up manually with 'vmtest sweep --force':\n")
		for _, rec := range r.Orphans {
			fmt.Fprintf(&b, "  %s %s (provider id %d)\n", rec.Kind, rec.Name, rec.ProviderID)
		}
	}
	return b.String()
}

func (s *Session) buildReport(teardownErr error) *Report {
	s.mu.Lock()
	targets := make([]TargetReport, 0, len(s.reports))
	for _, tr := range s.reports {
		targets = append(targets, *tr)
	}
	s.mu.Unlock()

	rep := &Report{
		SessionID: s.id,
		Started:   s.started,
		Wall:      time.Since(s.started),
		BudgetUSD: s.guard.Budget().Limit(),
		SpentUSD:  s.guard.Budget().Committed(),
		Targets:   targets,
	}
	var orphans *droplet.OrphanError
	if errors.As(teardownErr, &orphans) {
		rep.Orphans = slices.Clone(orphans.Records)
	}
	return rep
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
