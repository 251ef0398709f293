// Package util provides common normalization helpers used across contestmap.
package util

import "strings"

// CanonicalStation normalizes a station name for use as a map key: upper-cased,
// trimmed, with internal whitespace runs collapsed to single spaces. "Run 1"
// and " run  1 " canonicalize identically so the same physical station never
// appears twice.
func CanonicalStation(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// CanonicalCall normalizes a callsign: upper-cased and trimmed.
func CanonicalCall(call string) string {
	return strings.ToUpper(strings.TrimSpace(call))
}

// CanonicalMode normalizes a mode string: upper-cased and trimmed.
func CanonicalMode(mode string) string {
	return strings.ToUpper(strings.TrimSpace(mode))
}

// CanonicalSection normalizes an ARRL section or DXCC country code.
func CanonicalSection(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CanonicalBand trims a band string. Band designators are numeric ("20",
// "40") or suffixed ("70CM") and arrive in consistent case already.
func CanonicalBand(band string) string {
	return strings.TrimSpace(band)
}

// SplitCSVSet parses a comma-separated config value into a set, skipping
// empty entries. Values are passed through canon before insertion.
func SplitCSVSet(s string, canon func(string) string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if canon != nil {
			part = canon(part)
		}
		set[part] = struct{}{}
	}
	return set
}
