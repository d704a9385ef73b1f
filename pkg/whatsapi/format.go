package whatsapi

import "regexp"

var (
	reBold    = regexp.MustCompile(`\*\*(.*?)\*\*`)
	reItalic  = regexp.MustCompile(`__(.*?)__`)
	reHeading = regexp.MustCompile(`(?m)^#+\s+`)
)

// MarkdownToWhatsApp converts markdown bold, italic and headings to the
// WhatsApp flavor.
func MarkdownToWhatsApp(text string) string {
	out := reBold.ReplaceAllString(text, `*$1*`)
	out = reItalic.ReplaceAllString(out, `_${1}_`)
	out = reHeading.ReplaceAllString(out, "")
	return out
}

// SplitText splits text into chunks no longer than limit runes by halving
// recursively, so chunk sizes stay balanced instead of one short tail.
func SplitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	mid := len(runes) / 2
	left := SplitText(string(runes[:mid]), limit)
	right := SplitText(string(runes[mid:]), limit)
	return append(left, right...)
}
