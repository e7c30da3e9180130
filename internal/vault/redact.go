package vault

import (
	"log/slog"
	"strings"
)

// minRedactLen keeps short values out of redaction to avoid false
// positives on common substrings.
const minRedactLen = 8

// Redact replaces any stored credential values found in content with
// [REDACTED]. Outbound surfaces (notifications, event payloads) run
// through this so credentials never leave the gateway in cleartext.
func (k *Keeper) Redact(content string) string {
	names, err := k.List()
	if err != nil {
		slog.Warn("redaction skipped, credential list failed", "error", err)
		return content
	}

	for _, name := range names {
		plaintext, err := k.Get(name)
		if err != nil || len(plaintext) < minRedactLen {
			continue
		}
		content = redactValue(content, string(plaintext), name)
	}
	return content
}

// redactValue replaces a credential value in content. It tries exact match
// first, then falls back to whitespace-normalized matching to catch content
// that was reformatted in transit (e.g. pretty-printed JSON).
func redactValue(content, value, label string) string {
	if strings.Contains(content, value) {
		slog.Warn("redacted credential from outbound content", "credential", label)
		return strings.ReplaceAll(content, value, "[REDACTED]")
	}

	normValue := collapseWhitespace(strings.TrimSpace(value))
	if len(normValue) < minRedactLen {
		return content
	}
	if strings.Contains(collapseWhitespace(content), normValue) {
		slog.Warn("redacted credential from outbound content (normalized)", "credential", label)
		return redactNormalized(content, normValue)
	}

	return content
}

// redactNormalized replaces regions in content that match normValue when
// whitespace is collapsed. It walks both strings in lockstep to map
// normalized match positions back to the original content.
func redactNormalized(content, normValue string) string {
	var result strings.Builder
	i := 0
	for i < len(content) {
		if matchEnd := matchNormalizedAt(content, i, normValue); matchEnd >= 0 {
			result.WriteString("[REDACTED]")
			i = matchEnd
		} else {
			result.WriteByte(content[i])
			i++
		}
	}
	return result.String()
}

// matchNormalizedAt checks if the normalized form of content starting at
// pos matches normValue. Returns the end position in content if matched,
// -1 otherwise.
func matchNormalizedAt(content string, pos int, normValue string) int {
	ci := pos
	ni := 0
	for ci < len(content) && ni < len(normValue) {
		cb := content[ci]
		nb := normValue[ni]
		if isSpace(cb) && isSpace(nb) {
			for ci < len(content) && isSpace(content[ci]) {
				ci++
			}
			for ni < len(normValue) && isSpace(normValue[ni]) {
				ni++
			}
		} else if cb == nb {
			ci++
			ni++
		} else if isSpace(cb) {
			ci++
		} else {
			return -1
		}
	}
	for ni < len(normValue) && isSpace(normValue[ni]) {
		ni++
	}
	if ni == len(normValue) {
		return ci
	}
	return -1
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
		} else {
			b.WriteRune(r)
			inSpace = false
		}
	}
	return b.String()
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
