package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenMarkdownNormalizesAssistantOutput(t *testing.T) {
	input := "**Inbox: 157 total, 69 unread (20 recent unread sampled, all uncategorized). No \"To Reply\" items.**\n\n" +
		"**Must check:**\n\n" +
		"* 2x Security alerts from Google <no-reply@accounts.google.com> (access confirmations) \\[IDs: 19cab71f8af095ad, 19c9aaa940710c26]\n\n" +
		"**Newsletter clutter (14+):**\n\n" +
		"* Morning Brew <crew@morningbrew.com> (4x: Homebuying Brew, AI battle, etc.)"

	expected := "Inbox: 157 total, 69 unread (20 recent unread sampled, all uncategorized). No \"To Reply\" items.\n\n" +
		"Must check:\n\n" +
		"• 2x Security alerts from Google <no-reply@accounts.google.com> (access confirmations) [IDs: 19cab71f8af095ad, 19c9aaa940710c26]\n\n" +
		"Newsletter clutter (14+):\n\n" +
		"• Morning Brew <crew@morningbrew.com> (4x: Homebuying Brew, AI battle, etc.)"

	assert.Equal(t, expected, FlattenMarkdown(input))
}

func TestFlattenMarkdownListMarkersAndHardBreaks(t *testing.T) {
	input := "**To:** <demo@outlook.com>\\\n" +
		"**Subject:** How are you?\\\n" +
		"**Body:** Hi there,\n\n" +
		"\\* Item one\n" +
		"\\- Item two"

	expected := "To: <demo@outlook.com>\n" +
		"Subject: How are you?\n" +
		"Body: Hi there,\n\n" +
		"• Item one\n" +
		"• Item two"

	assert.Equal(t, expected, FlattenMarkdown(input))
}

func TestFlattenMarkdownHeadingsLinksAndCode(t *testing.T) {
	input := "## Summary\n\nSee [the docs](https://example.com/docs) and run `make lint`."
	expected := "Summary\n\nSee the docs: https://example.com/docs and run make lint."
	assert.Equal(t, expected, FlattenMarkdown(input))
}

func TestFlattenMarkdownAdjacentEmphasis(t *testing.T) {
	assert.Equal(t, "one two three", FlattenMarkdown("*one* *two* *three*"))
	assert.Equal(t, "a b", FlattenMarkdown("_a_ _b_"))
}

func TestFlattenMarkdownCollapsesBlankRuns(t *testing.T) {
	assert.Equal(t, "a\n\nb", FlattenMarkdown("a\n\n\n\n\nb"))
}

func TestEncodeDecodeCallbackData(t *testing.T) {
	data := EncodeCallbackData("acpe", "tok123")
	assert.LessOrEqual(t, len(data), 64)

	actionID, value := DecodeCallbackData(data)
	assert.Equal(t, "acpe", actionID)
	assert.Equal(t, "tok123", value)
}

func TestTruncateTextKeepsRuneBoundaries(t *testing.T) {
	long := ""
	for len(long) <= maxMessageLength {
		long += "héllo wörld "
	}
	got := truncateText(long)
	assert.LessOrEqual(t, len(got), maxMessageLength)
	assert.Contains(t, got, "...")
}
