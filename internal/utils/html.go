// Package utils holds small shared helpers.
package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

// StripHTML removes all markup and returns plain text. Tag balancing is
// handled by the sanitizer.
func StripHTML(html string) string {
	return stripPolicy.Sanitize(html)
}

// StripEmptyLines collapses runs of blank lines left behind by markup
// removal and trims surrounding whitespace.
func StripEmptyLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
