package slackfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/event"
)

func TestParsePlainText(t *testing.T) {
	parsed := Parse("hello world", nil)
	assert.Equal(t, "hello world", parsed.Body)
	assert.Empty(t, parsed.FormattedBody)
}

func TestParseInlineMarkup(t *testing.T) {
	parsed := Parse("*bold* _italic_ ~strike~ `code`", nil)
	assert.Equal(t, event.FormatHTML, parsed.Format)
	assert.Contains(t, parsed.FormattedBody, "<strong>bold</strong>")
	assert.Contains(t, parsed.FormattedBody, "<em>italic</em>")
	assert.Contains(t, parsed.FormattedBody, "<del>strike</del>")
	assert.Contains(t, parsed.FormattedBody, "<code>code</code>")
}

func TestParseCodeBlockNotFormatted(t *testing.T) {
	parsed := Parse("```\n*not bold* <@U1>\n```", nil)
	assert.Contains(t, parsed.FormattedBody, "<pre><code>*not bold* &lt;@U1&gt;\n</code></pre>")
	assert.NotContains(t, parsed.FormattedBody, "<strong>")
}

func TestParseResolvedMention(t *testing.T) {
	mentions := &Mentions{Users: map[string]Mention{
		"U123": {Target: "@_slack_u123:example.org", Name: "Alice"},
	}}
	parsed := Parse("hello <@U123>", mentions)
	assert.Equal(t, "hello @Alice", parsed.Body)
	assert.Contains(t, parsed.FormattedBody, `<a href="https://matrix.to/#/@_slack_u123:example.org">Alice</a>`)
}

func TestParseUnresolvedMention(t *testing.T) {
	parsed := Parse("ping <@U999>", nil)
	assert.Equal(t, "ping @U999", parsed.Body)
	assert.Contains(t, parsed.FormattedBody, "@U999")
}

func TestParseChannelMention(t *testing.T) {
	mentions := &Mentions{Channels: map[string]Mention{
		"C1": {Target: "!room:example.org", Name: "general"},
	}}
	parsed := Parse("see <#C1|general>", mentions)
	assert.Equal(t, "see #general", parsed.Body)
	assert.Contains(t, parsed.FormattedBody, `<a href="https://matrix.to/#/!room:example.org">#general</a>`)
}

func TestParseBroadcast(t *testing.T) {
	parsed := Parse("<!here> meeting now", nil)
	assert.Equal(t, "@room meeting now", parsed.Body)
	assert.Contains(t, parsed.FormattedBody, "@room")
}

func TestParseLinks(t *testing.T) {
	parsed := Parse("see <https://example.com|the docs>", nil)
	assert.Equal(t, "see the docs (https://example.com)", parsed.Body)
	assert.Contains(t, parsed.FormattedBody, `<a href="https://example.com">the docs</a>`)

	bare := Parse("go to <https://example.com>", nil)
	assert.Equal(t, "go to https://example.com", bare.Body)
	assert.Contains(t, bare.FormattedBody, `<a href="https://example.com">https://example.com</a>`)
}

func TestParseQuote(t *testing.T) {
	parsed := Parse("> quoted line", nil)
	assert.Contains(t, parsed.FormattedBody, "<blockquote>quoted line</blockquote>")
}

func TestParseEscapesHTML(t *testing.T) {
	parsed := Parse("*a < b & c*", nil)
	assert.Contains(t, parsed.FormattedBody, "<strong>a &lt; b &amp; c</strong>")
}
