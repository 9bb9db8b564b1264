package wecom

import (
	"strings"
	"unicode/utf8"
)

// DefaultTextByteLimit leaves slack under WeCom's 2048-byte text cap.
const DefaultTextByteLimit = 2000

// how far back (in runes) to look for a natural break before a forced cut
const breakLookback = 200

// SplitText splits text into chunks whose UTF-8 byte length never exceeds
// byteLimit. Cut points prefer, in order: a blank line, a single line break,
// a full-width sentence period (included in the leading chunk). Chunks are
// trimmed of surrounding whitespace; empty chunks are dropped.
//
// The limit holds for any byteLimit that fits at least one rune. Below that
// (a multi-byte rune against a 1- or 2-byte limit) the cut still advances one
// rune per chunk, so those chunks exceed the limit rather than looping.
func SplitText(text string, byteLimit int) []string {
	if len(text) <= byteLimit {
		return []string{text}
	}

	var chunks []string
	remaining := []rune(text)

	for len(remaining) > 0 {
		if runesByteLen(remaining) <= byteLimit {
			chunks = append(chunks, string(remaining))
			break
		}

		// Largest prefix (in runes) that fits the byte budget. Byte length is
		// not linear in rune count, hence the binary search.
		lo, hi := 1, len(remaining)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if runesByteLen(remaining[:mid]) <= byteLimit {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		splitIdx := lo

		searchStart := splitIdx - breakLookback
		if searchStart < 0 {
			searchStart = 0
		}
		window := string(remaining[searchStart:splitIdx])

		br := strings.LastIndex(window, "\n\n")
		if br == -1 {
			br = strings.LastIndex(window, "\n")
		}
		if br == -1 {
			if i := strings.LastIndex(window, "。"); i != -1 {
				br = i + len("。") // keep the period with the leading chunk
			}
		}
		if br > 0 {
			splitIdx = searchStart + utf8.RuneCountInString(window[:br])
		}

		// Guarantee forward progress even when no break qualifies.
		if splitIdx <= 0 {
			splitIdx = byteLimit / 3
			if splitIdx > len(remaining) {
				splitIdx = len(remaining)
			}
			if splitIdx < 1 {
				splitIdx = 1
			}
		}

		chunk := strings.TrimSpace(string(remaining[:splitIdx]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = []rune(strings.TrimSpace(string(remaining[splitIdx:])))
	}

	return chunks
}

func runesByteLen(rs []rune) int {
	n := 0
	for _, r := range rs {
		n += utf8.RuneLen(r)
	}
	return n
}
