package wecom

import (
	"regexp"
	"strings"
)

// WeCom renders text messages verbatim, so markdown replies from the agent
// are rewritten into a readable plain-text form before sending.

var (
	reCodeBlock  = regexp.MustCompile("(?s)```(\\w*)\n(.*?)```")
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reH3         = regexp.MustCompile(`(?m)^### (.+)$`)
	reH2         = regexp.MustCompile(`(?m)^## (.+)$`)
	reH1         = regexp.MustCompile(`(?m)^# (.+)$`)
	reBoldItalic = regexp.MustCompile(`\*\*\*([^*]+)\*\*\*`)
	reBold       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reItalic     = regexp.MustCompile(`\*([^*]+)\*`)
	reUnder3     = regexp.MustCompile(`___([^_]+)___`)
	reUnder2     = regexp.MustCompile(`__([^_]+)__`)
	reUnder1     = regexp.MustCompile(`_([^_]+)_`)
	reImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	reBullet     = regexp.MustCompile(`(?m)^[*\-] `)
	reHRule      = regexp.MustCompile(`(?m)^[-*_]{3,}$`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
)

// MarkdownToText converts markdown to WeCom-friendly plain text: code fences
// become indented blocks, headings get level markers, emphasis and link
// syntax are unwrapped.
func MarkdownToText(markdown string) string {
	if markdown == "" {
		return markdown
	}
	text := markdown

	text = reCodeBlock.ReplaceAllStringFunc(text, func(m string) string {
		sub := reCodeBlock.FindStringSubmatch(m)
		lang, code := sub[1], sub[2]
		lines := strings.Split(strings.TrimSpace(code), "\n")
		for i, l := range lines {
			lines[i] = "  " + l
		}
		body := strings.Join(lines, "\n")
		if lang != "" {
			return "[" + lang + "]\n" + body
		}
		return body
	})
	text = reInlineCode.ReplaceAllString(text, "$1")

	text = reH3.ReplaceAllString(text, "▸ $1")
	text = reH2.ReplaceAllString(text, "■ $1")
	text = reH1.ReplaceAllString(text, "◆ $1")

	text = reBoldItalic.ReplaceAllString(text, "$1")
	text = reBold.ReplaceAllString(text, "$1")
	text = reItalic.ReplaceAllString(text, "$1")
	text = reUnder3.ReplaceAllString(text, "$1")
	text = reUnder2.ReplaceAllString(text, "$1")
	text = reUnder1.ReplaceAllString(text, "$1")

	// Images before links: both share the [..](..) tail.
	text = reImage.ReplaceAllString(text, "[图片：$1]")
	text = reLink.ReplaceAllString(text, "$1 ($2)")

	text = reBullet.ReplaceAllString(text, "• ")
	text = reHRule.ReplaceAllString(text, "────────────")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
