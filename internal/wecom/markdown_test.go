package wecom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownToText_Headings(t *testing.T) {
	in := "# 标题\n## 小节\n### 细节"
	assert.Equal(t, "◆ 标题\n■ 小节\n▸ 细节", MarkdownToText(in))
}

func TestMarkdownToText_Emphasis(t *testing.T) {
	cases := map[string]string{
		"***both***":  "both",
		"**bold**":    "bold",
		"*italic*":    "italic",
		"___both___":  "both",
		"__bold__":    "bold",
		"_italic_":    "italic",
		"`code span`": "code span",
	}
	for in, want := range cases {
		assert.Equal(t, want, MarkdownToText(in), "input %q", in)
	}
}

func TestMarkdownToText_CodeBlock(t *testing.T) {
	in := "before\n```go\nfmt.Println(\"hi\")\nreturn\n```\nafter"
	got := MarkdownToText(in)
	assert.Contains(t, got, "[go]\n  fmt.Println(\"hi\")\n  return")
	assert.NotContains(t, got, "```")
}

func TestMarkdownToText_CodeBlockWithoutLanguage(t *testing.T) {
	in := "```\nplain line\n```"
	assert.Equal(t, "plain line", MarkdownToText(in))
}

func TestMarkdownToText_ImagesBeforeLinks(t *testing.T) {
	in := "看这里 ![architecture](https://e.com/a.png) 和 [文档](https://e.com/doc)"
	got := MarkdownToText(in)
	assert.Contains(t, got, "[图片：architecture]")
	assert.Contains(t, got, "文档 (https://e.com/doc)")
	assert.NotContains(t, got, "![")
}

func TestMarkdownToText_BulletsAndRule(t *testing.T) {
	in := "* one\n- two\n---\nend"
	got := MarkdownToText(in)
	assert.Contains(t, got, "• one\n• two")
	assert.Contains(t, got, "────────────")
	assert.NotContains(t, got, "---")
}

func TestMarkdownToText_CollapsesBlankRuns(t *testing.T) {
	got := MarkdownToText("a\n\n\n\n\nb")
	assert.Equal(t, "a\n\nb", got)
}

func TestMarkdownToText_EmptyInput(t *testing.T) {
	assert.Equal(t, "", MarkdownToText(""))
}
