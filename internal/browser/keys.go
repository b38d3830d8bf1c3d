package browser

import (
	"strings"

	"github.com/go-rod/rod/lib/input"
)

// segment is either a run of keys rod can press one by one or raw text that
// has to be inserted (characters with no key definition)
type segment struct {
	keys []input.Key
	raw  string
}

// segments splits text into keyboard-typeable runs and insert-only runs
func segments(text string) []segment {
	var (
		out  []segment
		keys []input.Key
		raw  strings.Builder
	)
	flushKeys := func() {
		if len(keys) > 0 {
			out = append(out, segment{keys: keys})
			keys = nil
		}
	}
	flushRaw := func() {
		if raw.Len() > 0 {
			out = append(out, segment{raw: raw.String()})
			raw.Reset()
		}
	}

	for _, r := range text {
		if k, ok := keyFor(r); ok {
			flushRaw()
			keys = append(keys, k)
			continue
		}
		flushKeys()
		raw.WriteRune(r)
	}
	flushKeys()
	flushRaw()
	return out
}

func keyFor(r rune) (input.Key, bool) {
	switch {
	case r == '\n' || r == '\r':
		return input.Enter, true
	case r == '\t':
		return input.Tab, true
	case r >= ' ' && r <= '~':
		return input.Key(r), true
	default:
		return 0, false
	}
}
