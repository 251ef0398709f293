package frame

import (
	"regexp"
	"sync"
)

// Tag names in the upstream protocol are not case-stable across program
// versions, so extraction is case-insensitive. Values may span lines.
var (
	tagMu    sync.Mutex
	tagCache = map[string]*regexp.Regexp{}
)

func tagPattern(name string) *regexp.Regexp {
	tagMu.Lock()
	defer tagMu.Unlock()
	if re, ok := tagCache[name]; ok {
		return re
	}
	re := regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(name) + `>(.*?)</` + regexp.QuoteMeta(name) + `>`)
	tagCache[name] = re
	return re
}

// Tag returns the inner text of the first <name>...</name> pair in text,
// and whether such a pair exists.
func Tag(text, name string) (string, bool) {
	m := tagPattern(name).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FirstTag returns the first present tag value among names, in order.
// Used where the protocol spells the same field differently across
// contest programs, e.g. LON versus LONG.
func FirstTag(text string, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := Tag(text, name); ok {
			return v, true
		}
	}
	return "", false
}

// Command returns the leading command word of a frame: the name of the
// first tag, uppercased by the caller if needed.
var commandRe = regexp.MustCompile(`(?i)^\s*<([A-Z0-9_]+)>`)

// CommandOf extracts the frame's command word, e.g. "ENTEREVENT" from
// "<ENTEREVENT><CALL>W1AW</CALL>...". Returns false for malformed frames.
func CommandOf(text string) (string, bool) {
	m := commandRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
