package worker

import "strings"

// NoiseFilter drops stderr lines containing known noisy substrings, such as
// library deprecation warnings, before they are logged.
type NoiseFilter struct {
	substrings []string
}

// NewNoiseFilter creates a filter for the given substrings. Empty entries
// are ignored.
func NewNoiseFilter(substrings []string) *NoiseFilter {
	f := &NoiseFilter{}
	for _, s := range substrings {
		if s != "" {
			f.substrings = append(f.substrings, s)
		}
	}
	return f
}

// Lines returns the non-empty stderr lines that are not noise.
func (f *NoiseFilter) Lines(stderr string) []string {
	var out []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || f.noisy(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (f *NoiseFilter) noisy(line string) bool {
	if f == nil {
		return false
	}
	for _, s := range f.substrings {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}
