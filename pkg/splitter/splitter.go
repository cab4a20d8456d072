// Package splitter breaks long text into delivery-sized chunks at natural
// boundaries: paragraph breaks first, then line breaks, sentence ends, and
// single spaces, with a hard cut as the last resort.
package splitter

import "strings"

// DefaultMaxLength is the default chunk size limit, matching the message
// length cap of most chat platforms.
const DefaultMaxLength = 4096

// hardCutMargin is subtracted from the limit when no usable delimiter is
// found, leaving headroom for prefixes added by the caller.
const hardCutMargin = 100

// Split breaks text into chunks of at most maxLength characters each.
// Text that already fits is returned unchanged as a single element.
// Each produced chunk is trimmed of surrounding whitespace at the cut
// points; no characters are dropped mid-word.
//
// Lengths are measured in runes, not bytes, since delivery limits are
// character limits.
func Split(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	runes := []rune(text)
	if len(runes) <= maxLength {
		return []string{text}
	}

	var parts []string
	remaining := runes

	for len(remaining) > 0 {
		if len(remaining) <= maxLength {
			parts = append(parts, string(remaining))
			break
		}

		window := remaining[:maxLength]
		cut := cutPoint(window, maxLength)

		parts = append(parts, strings.TrimSpace(string(remaining[:cut])))
		remaining = []rune(strings.TrimSpace(string(remaining[cut:])))
	}

	return parts
}

// cutPoint picks the split position within window, in priority order:
// last paragraph break, last newline, last sentence end (cutting after the
// period), last space. A delimiter landing in the first half of the window
// is rejected to avoid pathologically small fragments, falling back to a
// hard cut with a safety margin.
func cutPoint(window []rune, maxLength int) int {
	cut := lastIndex(window, "\n\n")

	if cut < 0 {
		cut = lastIndex(window, "\n")
	}

	if cut < 0 {
		cut = lastIndex(window, ". ")
		if cut >= 0 {
			cut++ // keep the period in the current chunk
		}
	}

	if cut < 0 {
		cut = lastIndex(window, " ")
	}

	if cut < 0 || cut < maxLength/2 {
		cut = maxLength - hardCutMargin
		if cut <= 0 {
			cut = maxLength
		}
	}

	return cut
}

// lastIndex returns the rune index of the last occurrence of needle in
// haystack, or -1 if absent.
func lastIndex(haystack []rune, needle string) int {
	n := []rune(needle)
	for i := len(haystack) - len(n); i >= 0; i-- {
		match := true
		for j := range n {
			if haystack[i+j] != n[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
