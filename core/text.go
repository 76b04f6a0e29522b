package core

import "unicode/utf8"

// TruncationMarker is appended to text cut by TruncateRunes.
const TruncationMarker = "..."

// TruncateRunes caps s at budget characters followed by TruncationMarker.
// A non-positive budget leaves s unchanged.
func TruncateRunes(s string, budget int) string {
	if budget <= 0 || utf8.RuneCountInString(s) <= budget {
		return s
	}
	runes := []rune(s)
	return string(runes[:budget]) + TruncationMarker
}
