package telegram

import (
	"regexp"
	"strings"
)

var (
	hardBreakPattern  = regexp.MustCompile(`\\$`)
	listMarkerPattern = regexp.MustCompile(`^(\s*)\\?[*-]\s+`)
	headingPattern    = regexp.MustCompile(`^#{1,6}\s+`)
	linkPattern       = regexp.MustCompile(`\[([^\[\]]+)\]\(([^()\s]+)\)`)
	escapePattern     = regexp.MustCompile("\\\\([\\\\`*_{}\\[\\]()#+\\-.!|>~])")
	strongPattern     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underlinePattern  = regexp.MustCompile(`__(.+?)__`)
	codePattern       = regexp.MustCompile("`([^`]+)`")
	starEmphasis      = regexp.MustCompile(`(^|[\s(\[{>])\*([^*\n]+)\*($|[\s)\]}>.,!?;:])`)
	underEmphasis     = regexp.MustCompile(`(^|[\s(\[{>])_([^_\n]+)_($|[\s)\]}>.,!?;:])`)
	brokenStrong      = regexp.MustCompile(`\*\*`)
	brokenUnderline   = regexp.MustCompile(`__+`)
	blankRunPattern   = regexp.MustCompile(`\n{3,}`)
)

// FlattenMarkdown converts assistant markdown into the plain text Telegram
// renders well: list markers become bullets, headings and emphasis markers
// are stripped, links become "text: url", and markdown escapes are removed.
func FlattenMarkdown(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\\\n", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		lines[i] = flattenLine(line)
	}
	flattened := strings.Join(lines, "\n")
	flattened = blankRunPattern.ReplaceAllString(flattened, "\n\n")
	return strings.TrimSpace(flattened)
}

func flattenLine(line string) string {
	line = hardBreakPattern.ReplaceAllString(line, "")
	line = listMarkerPattern.ReplaceAllString(line, "$1• ")
	line = headingPattern.ReplaceAllString(line, "")
	line = linkPattern.ReplaceAllString(line, "$1: $2")
	line = escapePattern.ReplaceAllString(line, "$1")
	line = strongPattern.ReplaceAllString(line, "$1")
	line = underlinePattern.ReplaceAllString(line, "$1")
	line = codePattern.ReplaceAllString(line, "$1")
	line = replaceToFixedPoint(starEmphasis, line, "$1$2$3")
	line = replaceToFixedPoint(underEmphasis, line, "$1$2$3")
	line = brokenStrong.ReplaceAllString(line, "")
	line = brokenUnderline.ReplaceAllString(line, "")
	return line
}

// replaceToFixedPoint reapplies the replacement until the text stops
// changing. Adjacent emphasis spans share their separating character, so a
// single pass can miss every other match.
func replaceToFixedPoint(re *regexp.Regexp, text, replacement string) string {
	for {
		next := re.ReplaceAllString(text, replacement)
		if next == text {
			return next
		}
		text = next
	}
}
