package telegram

import "strings"

// chunkMessage splits a message into chunks that fit within Telegram's message size limit.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Try to split at a newline
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

// toTelegramMarkdown converts double-asterisk bold to Telegram's single
// asterisk flavor.
func toTelegramMarkdown(text string) string {
	var sb strings.Builder
	for {
		start := strings.Index(text, "**")
		if start < 0 {
			sb.WriteString(text)
			break
		}
		end := strings.Index(text[start+2:], "**")
		if end < 0 {
			sb.WriteString(text)
			break
		}
		sb.WriteString(text[:start])
		sb.WriteString("*")
		sb.WriteString(text[start+2 : start+2+end])
		sb.WriteString("*")
		text = text[start+2+end+2:]
	}
	return sb.String()
}
