package worker

import (
	"regexp"
	"strings"
)

// Receipt OCR output carries artifacts that get in the way of downstream
// indexing: invisible unicode, ligatures, decorative separator lines made of
// dashes or asterisks, and ragged blank runs. SanitizeText strips these for
// the stored clean_text rendering. The structured Result keeps the raw
// recognizer output untouched.
var (
	zeroWidthChars   = regexp.MustCompile("[\u200B-\u200D\uFEFF\u00AD\u2060]")
	trailingSpaces   = regexp.MustCompile(`(?m)[ \t]+$`)
	multiSpace       = regexp.MustCompile(`[ \t]{2,}`)
	separatorLine    = regexp.MustCompile(`^\s*[\p{P}\s]+\s*$`)
	excessBlankLines = regexp.MustCompile(`\n{3,}`)

	charReplacer = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"\r", "",
	)
)

// SanitizeText normalizes raw OCR text for storage and search.
func SanitizeText(text string) string {
	if text == "" {
		return text
	}

	text = charReplacer.Replace(text)
	text = zeroWidthChars.ReplaceAllString(text, "")
	text = trailingSpaces.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		if separatorLine.MatchString(line) && strings.TrimSpace(line) != "" {
			continue
		}

		kept = append(kept, multiSpace.ReplaceAllString(line, " "))
	}

	text = strings.Join(kept, "\n")
	text = excessBlankLines.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
