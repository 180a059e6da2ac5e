package messagetext

import (
	"strings"

	"github.com/rivo/uniseg"
)

const (
	variationSelector16 = '\uFE0F'
	keycapCombiner      = '\u20E3'
)

// containsEmoji reports whether any grapheme cluster of text is an emoji.
func containsEmoji(text string) bool {
	if isASCII(text) {
		return false
	}
	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		if isEmojiCluster(gr.Runes()) {
			return true
		}
	}
	return false
}

// wrapEmoji wraps every emoji grapheme cluster of text in a styling span.
func wrapEmoji(text string, opts Options) string {
	if !containsEmoji(text) {
		return text
	}
	open := `<span class="` + emojiClasses(opts) + `">`

	var b strings.Builder
	b.Grow(len(text) * 2)
	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		cluster := gr.Str()
		if isEmojiCluster(gr.Runes()) {
			b.WriteString(open)
			b.WriteString(cluster)
			b.WriteString("</span>")
			continue
		}
		b.WriteString(cluster)
	}
	return b.String()
}

func emojiClasses(opts Options) string {
	class := opts.EmojiClass
	if class == "" {
		class = DefaultEmojiClass
	}
	if !opts.IsChromeLike {
		return class
	}
	fix := opts.EmojiFixClass
	if fix == "" {
		fix = DefaultEmojiFixClass
	}
	return class + " " + fix
}

func isEmojiCluster(runes []rune) bool {
	if len(runes) == 0 {
		return false
	}
	if isPictographic(runes[0]) {
		return true
	}
	for _, r := range runes[1:] {
		if r == variationSelector16 || r == keycapCombiner {
			return true
		}
	}
	return false
}

// isPictographic covers code points that render as pictographs without a
// variation selector (Emoji_Presentation). Text-style symbols such as ✓ or
// ★ only count when followed by U+FE0F.
func isPictographic(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		// Mahjong and playing cards through Symbols and Pictographs
		// Extended-A, including regional indicators.
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return miscSymbolPresentation[r]
	case r >= 0x2B1B && r <= 0x2B1C, r == 0x2B50, r == 0x2B55:
		return true
	case r == 0x231A, r == 0x231B, r >= 0x23E9 && r <= 0x23EC, r == 0x23F0, r == 0x23F3:
		return true
	}
	return false
}

// miscSymbolPresentation lists the Misc Symbols and Dingbats code points
// with default emoji presentation.
var miscSymbolPresentation = func() map[rune]bool {
	m := make(map[rune]bool)
	ranges := [][2]rune{
		{0x2614, 0x2615}, {0x2648, 0x2653}, {0x267F, 0x267F}, {0x2693, 0x2693},
		{0x26A1, 0x26A1}, {0x26AA, 0x26AB}, {0x26BD, 0x26BE}, {0x26C4, 0x26C5},
		{0x26CE, 0x26CE}, {0x26D4, 0x26D4}, {0x26EA, 0x26EA}, {0x26F2, 0x26F3},
		{0x26F5, 0x26F5}, {0x26FA, 0x26FA}, {0x26FD, 0x26FD}, {0x2705, 0x2705},
		{0x270A, 0x270B}, {0x2728, 0x2728}, {0x274C, 0x274C}, {0x274E, 0x274E},
		{0x2753, 0x2755}, {0x2757, 0x2757}, {0x2795, 0x2797}, {0x27B0, 0x27B0},
		{0x27BF, 0x27BF},
	}
	for _, rg := range ranges {
		for r := rg[0]; r <= rg[1]; r++ {
			m[r] = true
		}
	}
	return m
}()

func isASCII(text string) bool {
	for i := 0; i < len(text); i++ {
		if text[i] >= 0x80 {
			return false
		}
	}
	return true
}
