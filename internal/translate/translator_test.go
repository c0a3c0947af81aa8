package translate

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/util/variationselector"
	"maunium.net/go/mautrix/event"
)

func testContext() *MappingContext {
	return &MappingContext{
		MaxChars: 4000,
		Users: []UserRef{
			{SlackID: "U123", MatrixID: "@_slack_u123:example.org", DisplayName: "Alice"},
		},
	}
}

func TestRoundTripPreservesTextAndMentions(t *testing.T) {
	ctx := testContext()

	contents := SlackToMatrix("hello <@U123> *important*", ctx)
	require.Len(t, contents, 1)
	assert.Equal(t, "hello @Alice *important*", contents[0].Body)

	back := MatrixToSlack(contents[0], ctx)
	require.Len(t, back, 1)
	assert.Equal(t, "hello <@U123> *important*", back[0])
}

func TestSlackToMatrixThreadAnchor(t *testing.T) {
	ctx := testContext()
	ctx.ThreadRootMatrix = "$root"
	ctx.MaxChars = 20

	contents := SlackToMatrix("a long message that needs to be split into several parts", ctx)
	require.Greater(t, len(contents), 1)
	for _, c := range contents {
		require.NotNil(t, c.RelatesTo)
		assert.Equal(t, event.RelThread, c.RelatesTo.Type)
		assert.Equal(t, "$root", c.RelatesTo.EventID.String())
	}
}

func TestSlackEditToMatrix(t *testing.T) {
	content := SlackEditToMatrix("fixed text", testContext(), "$orig")
	require.NotNil(t, content.RelatesTo)
	assert.Equal(t, event.RelReplace, content.RelatesTo.Type)
	assert.Equal(t, "$orig", content.RelatesTo.EventID.String())
	require.NotNil(t, content.NewContent)
	assert.Equal(t, "fixed text", content.NewContent.Body)
}

func TestSplitText(t *testing.T) {
	t.Run("no split under limit", func(t *testing.T) {
		assert.Equal(t, []string{"short"}, SplitText("short", 100))
	})

	t.Run("no limit", func(t *testing.T) {
		long := strings.Repeat("a", 5000)
		assert.Equal(t, []string{long}, SplitText(long, 0))
	})

	t.Run("splits on word boundaries", func(t *testing.T) {
		parts := SplitText(strings.Repeat("word ", 100), 40)
		require.Greater(t, len(parts), 1)
		for _, p := range parts {
			assert.LessOrEqual(t, utf8.RuneCountInString(p), 40)
			assert.False(t, strings.HasPrefix(p, " "))
		}
	})

	t.Run("content preserved", func(t *testing.T) {
		text := "one two three four five six seven eight nine ten"
		parts := SplitText(text, 12)
		joined := strings.Join(parts, " ")
		assert.Equal(t, strings.Fields(text), strings.Fields(joined))
	})

	t.Run("multibyte safe", func(t *testing.T) {
		text := strings.Repeat("héllo wörld ", 30)
		for _, p := range SplitText(text, 25) {
			assert.True(t, utf8.ValidString(p))
			assert.LessOrEqual(t, utf8.RuneCountInString(p), 25)
		}
	})
}

func TestEmojiTranslation(t *testing.T) {
	assert.Equal(t, "👍", variationselector.Remove(EmojiToReactionKey("thumbsup")))
	assert.Equal(t, EmojiToReactionKey("thumbsup"), EmojiToReactionKey("thumbsup::skin-tone-3"))
	assert.Equal(t, ":party_blob:", EmojiToReactionKey("party_blob"))

	name, ok := ReactionKeyToEmoji("👍")
	require.True(t, ok)
	assert.Contains(t, []string{"thumbsup", "+1"}, name)

	// Variation selectors are stripped before lookup.
	name, ok = ReactionKeyToEmoji("❤️")
	require.True(t, ok)
	assert.Equal(t, "heart", name)

	// Unknown text keys pass through as names.
	name, ok = ReactionKeyToEmoji(":party_blob:")
	assert.False(t, ok)
	assert.Equal(t, "", name)
}
