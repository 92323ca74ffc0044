package classify

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	tscLocation     = regexp.MustCompile(`([\w./@~\-]+\.(?:tsx?|jsx?|mts|cts|mjs|cjs))\((\d+),(\d+)\)`)
	colonLocation   = regexp.MustCompile(`([\w./@~\-]+\.(?:tsx?|jsx?|mts|cts|mjs|cjs|vue|svelte|css|html|json)):(\d+):(\d+)`)
	trailerLocation = regexp.MustCompile(`([\w./@~\-]+\.(?:tsx?|jsx?|mjs|cjs)): .*\((\d+):(\d+)\)\s*$`)
)

// locate extracts the file position printed on a line of tsc, esbuild,
// vite, or babel output.
func locate(line string) (Location, bool) {
	for _, re := range []*regexp.Regexp{tscLocation, colonLocation, trailerLocation} {
		m := re.FindStringSubmatch(line)
		if len(m) != 4 {
			continue
		}
		ln, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		return Location{File: m[1], Line: ln, Column: col}, true
	}
	return Location{}, false
}

const maxSummaryLen = 400

// SummarizeFailure picks the actionable lines out of noisy build output,
// falling back to its tail.
func SummarizeFailure(output string) string {
	s := strings.TrimSpace(stripANSI(output))
	if s == "" {
		return "build failed with no output"
	}

	lines := strings.Split(s, "\n")
	matches := make([]string, 0, 8)
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "warning") || strings.Contains(lower, "deprecated") {
			continue
		}
		if strings.Contains(lower, "error") ||
			strings.Contains(line, "ERR!") ||
			strings.Contains(lower, "cannot find module") ||
			strings.Contains(lower, "failed to resolve") ||
			strings.Contains(lower, "rolluperror") {
			matches = append(matches, line)
		}
	}
	if len(matches) > 0 {
		return truncate(strings.Join(matches, "\n"))
	}
	if len(lines) > 10 {
		return truncate(strings.Join(lines[len(lines)-10:], "\n"))
	}
	return truncate(s)
}

func truncate(s string) string {
	if len(s) > maxSummaryLen {
		return s[:maxSummaryLen] + "..."
	}
	return s
}
