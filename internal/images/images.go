// Package images carries the OS support matrix: the provider images the
// harness exercises and the per-family facts verification needs. A snapshot
// overlay can swap any slug for a prepared snapshot id, which boots faster
// and skips most cloud-init work.
package images

import (
	"fmt"
	"slices"
	"strings"
)

// Family groups targets by lineage; it decides which package manager the
// verification workload probes.
type Family string

const (
	FamilyDebian Family = "debian"
	FamilyRHEL   Family = "rhel"
)

// Target is one row of the support matrix.
type Target struct {
	// Slug names the image to the provider: a distribution slug, or a
	// numeric snapshot id after an overlay.
	Slug string

	// Label is the stable human name. It survives snapshot overlays and
	// lands in droplet names and reports.
	Label string

	Family Family

	// PackageManager is "apt" or "dnf".
	PackageManager string
}

// ProbeCommand is the package-manager check verification runs on this
// target.
func (t Target) ProbeCommand() string {
	if t.PackageManager == "apt" {
		return "apt-get --version"
	}
	return t.PackageManager + " --version"
}

var matrix = []Target{
	{Slug: "ubuntu-24-04-x64", Label: "ubuntu-24-04-x64", Family: FamilyDebian, PackageManager: "apt"},
	{Slug: "ubuntu-22-04-x64", Label: "ubuntu-22-04-x64", Family: FamilyDebian, PackageManager: "apt"},
	{Slug: "debian-12-x64", Label: "debian-12-x64", Family: FamilyDebian, PackageManager: "apt"},
	{Slug: "centos-stream-9-x64", Label: "centos-stream-9-x64", Family: FamilyRHEL, PackageManager: "dnf"},
	{Slug: "fedora-42-x64", Label: "fedora-42-x64", Family: FamilyRHEL, PackageManager: "dnf"},
	{Slug: "almalinux-9-x64", Label: "almalinux-9-x64", Family: FamilyRHEL, PackageManager: "dnf"},
}

// Default returns the full support matrix.
func Default() []Target {
	return slices.Clone(matrix)
}

var ErrUnknownImage = fmt.Errorf("image is not in the support matrix")

// Lookup finds the matrix target carrying 'slug' as its slug or label.
func Lookup(slug string) (Target, error) {
	for _, t := range matrix {
		if t.Slug == slug || t.Label == slug {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownImage, slug, strings.Join(labels(matrix), ", "))
}

// Pick filters the matrix down to 'wanted' labels, preserving matrix order.
// Empty input means the whole matrix.
func Pick(wanted []string) ([]Target, error) {
	if len(wanted) == 0 {
		return Default(), nil
	}
	for _, w := range wanted {
		if _, err := Lookup(w); err != nil {
			return nil, err
		}
	}
	var out []Target
	for _, t := range matrix {
		if slices.Contains(wanted, t.Slug) || slices.Contains(wanted, t.Label) {
			out = append(out, t)
		}
	}
	return out, nil
}

func labels(targets []Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.Label
	}
	return out
}
