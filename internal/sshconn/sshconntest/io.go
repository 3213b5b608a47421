package sshconntest

import (
	"io"
	"strings"
)

// readLines reads 'r' to EOF and returns its non-empty lines with leading
// and trailing control characters stripped.
func readLines(r io.Reader) []string {
	data, err := io.ReadAll(r)
	if err != nil {
		log.Debug("reading channel stdin", "error", err)
	}
	var out []string
	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimFunc(line, func(r rune) bool {
			return r < 0x20
		})
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
