package images

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

var ErrSnapshotFile = fmt.Errorf("failed to load snapshot overlay")

// ApplySnapshots overlays snapshot ids onto the targets. The file maps label
// (or slug) to a snapshot id, number or string:
//
//	{"ubuntu-24-04-x64": 187654321, "debian-12-x64": "187654400"}
//
// A target named in the file boots from its snapshot instead of the stock
// image; its label is untouched. A missing file leaves every target as-is.
func ApplySnapshots(targets []Target, path string) ([]Target, error) {
	if path == "" {
		return targets, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return targets, nil
		}
		return nil, fmt.Errorf("%w: reading %q: %w", ErrSnapshotFile, path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	overlay := map[string]json.Number{}
	if err := dec.Decode(&overlay); err != nil {
		return nil, fmt.Errorf("%w: parsing %q: %w", ErrSnapshotFile, path, err)
	}

	out := make([]Target, len(targets))
	for i, t := range targets {
		if id, ok := overlay[t.Label]; ok {
			t.Slug = id.String()
		} else if id, ok := overlay[t.Slug]; ok {
			t.Slug = id.String()
		}
		out[i] = t
	}
	return out, nil
}
