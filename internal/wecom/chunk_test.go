package wecom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText_SingleChunkUnmodified(t *testing.T) {
	text := "short message, fits easily"
	chunks := SplitText(text, 2000)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplitText_ChunksRespectByteLimit(t *testing.T) {
	// mixed ASCII and CJK makes byte length non-linear in rune count
	text := strings.Repeat("企业微信回调 adapter test. ", 300)

	for _, limit := range []int{64, 200, 2000} {
		chunks := SplitText(text, limit)
		require.NotEmpty(t, chunks)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk), limit, "chunk exceeds %d bytes", limit)
			assert.NotEmpty(t, chunk)
		}
	}
}

func TestSplitText_ContentPreserved(t *testing.T) {
	text := strings.Repeat("abcdefghij ", 50)
	chunks := SplitText(text, 100)
	require.Greater(t, len(chunks), 1)

	// concatenation modulo whitespace trimmed at split points
	squash := func(s string) string { return strings.Join(strings.Fields(s), "") }
	assert.Equal(t, squash(text), squash(strings.Join(chunks, "")))
}

func TestSplitText_PrefersParagraphBreak(t *testing.T) {
	para1 := strings.Repeat("a", 60)
	para2 := strings.Repeat("b", 60)
	text := para1 + "\n\n" + para2

	chunks := SplitText(text, 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, para1, chunks[0])
	assert.Equal(t, para2, chunks[1])
}

func TestSplitText_PrefersLineBreakOverMidWord(t *testing.T) {
	line1 := strings.Repeat("x", 70)
	line2 := strings.Repeat("y", 70)
	chunks := SplitText(line1+"\n"+line2, 100)
	require.Len(t, chunks, 2)
	assert.Equal(t, line1, chunks[0])
	assert.Equal(t, line2, chunks[1])
}

func TestSplitText_SentencePeriodKeptWithLeadingChunk(t *testing.T) {
	s1 := strings.Repeat("甲", 20) + "。"
	s2 := strings.Repeat("乙", 20)
	chunks := SplitText(s1+s2, 80) // 21+20 runes * 3 bytes > 80

	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0], "。"), "period should end the first chunk, got %q", chunks[0])
}

func TestSplitText_LimitBelowRuneSizeStillAdvances(t *testing.T) {
	// a 3-byte rune against a 1-byte limit: one rune per chunk, no loop
	chunks := SplitText("你好吗", 1)
	assert.Equal(t, []string{"你", "好", "吗"}, chunks)
}

func TestSplitText_CJKOnlyTerminates(t *testing.T) {
	text := strings.Repeat("测", 5000)
	chunks := SplitText(text, 2000)
	require.NotEmpty(t, chunks)

	total := 0
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 2000)
		total += len([]rune(chunk))
	}
	assert.Equal(t, 5000, total)
}
