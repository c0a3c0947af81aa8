// Package slackfmt converts Slack mrkdwn to Matrix HTML.
package slackfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Mention is a resolved reference target for inline <@U…> and <#C…>
// tokens. Resolution happens before parsing; this package does no I/O.
type Mention struct {
	Target string // Matrix user ID or room ID
	Name   string
}

// Mentions maps Slack IDs to their resolved Matrix targets.
type Mentions struct {
	Users    map[string]Mention // keyed by Slack user ID
	Channels map[string]Mention // keyed by Slack channel ID
}

// ParsedMessage holds the result of converting mrkdwn to Matrix format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

var (
	boldRe      = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicRe    = regexp.MustCompile(`\b_([^_\n]+)_\b`)
	strikeRe    = regexp.MustCompile(`~([^~\n]+)~`)
	codeRe      = regexp.MustCompile("`([^`\n]+)`")
	codeBlockRe = regexp.MustCompile("(?s)```\n?(.*?)```")
	quoteRe     = regexp.MustCompile(`(?m)^&gt;\s?(.*)$`)

	userMentionRe    = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)
	channelMentionRe = regexp.MustCompile(`<#([A-Z0-9]+)(?:\|([^>]*))?>`)
	broadcastRe      = regexp.MustCompile(`<!(?:here|channel|everyone)(?:\|[^>]*)?>`)
	linkRe           = regexp.MustCompile(`<(https?://[^|>]+)(?:\|([^>]*))?>`)
)

// Parse converts a Slack mrkdwn message to Matrix event content.
// Mentions are rendered as matrix.to pills in HTML and as @Name in the
// plain body.
func Parse(text string, mentions *Mentions) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}

	body := plainBody(text, mentions)

	hasMarkup := boldRe.MatchString(text) ||
		italicRe.MatchString(text) ||
		strikeRe.MatchString(text) ||
		codeRe.MatchString(text) ||
		codeBlockRe.MatchString(text) ||
		strings.ContainsRune(text, '<') ||
		strings.HasPrefix(text, ">")

	if !hasMarkup {
		return &ParsedMessage{Body: body}
	}

	// Code and angle-bracket tokens become placeholders on the raw text,
	// with their final HTML computed from the unescaped values. The
	// remainder is then escaped and the inline markup applied.
	var spans []string
	placeholder := func(rendered string) string {
		idx := len(spans)
		spans = append(spans, rendered)
		return "\x00SPAN" + strconv.Itoa(idx) + "\x00"
	}

	processed := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		m := codeBlockRe.FindStringSubmatch(match)
		return placeholder("<pre><code>" + html.EscapeString(m[1]) + "</code></pre>")
	})
	processed = codeRe.ReplaceAllStringFunc(processed, func(match string) string {
		m := codeRe.FindStringSubmatch(match)
		return placeholder("<code>" + html.EscapeString(m[1]) + "</code>")
	})
	processed = userMentionRe.ReplaceAllStringFunc(processed, func(match string) string {
		m := userMentionRe.FindStringSubmatch(match)
		if mentions != nil && mentions.Users != nil {
			if ref, ok := mentions.Users[m[1]]; ok {
				return placeholder(`<a href="https://matrix.to/#/` + ref.Target + `">` + html.EscapeString(ref.Name) + `</a>`)
			}
		}
		return placeholder("@" + m[1])
	})
	processed = channelMentionRe.ReplaceAllStringFunc(processed, func(match string) string {
		m := channelMentionRe.FindStringSubmatch(match)
		if mentions != nil && mentions.Channels != nil {
			if ref, ok := mentions.Channels[m[1]]; ok {
				return placeholder(`<a href="https://matrix.to/#/` + ref.Target + `">#` + html.EscapeString(ref.Name) + `</a>`)
			}
		}
		name := m[2]
		if name == "" {
			name = m[1]
		}
		return placeholder("#" + html.EscapeString(name))
	})
	processed = broadcastRe.ReplaceAllStringFunc(processed, func(string) string {
		return placeholder("@room")
	})
	processed = linkRe.ReplaceAllStringFunc(processed, func(match string) string {
		m := linkRe.FindStringSubmatch(match)
		label := m[2]
		if label == "" {
			label = m[1]
		}
		return placeholder(`<a href="` + html.EscapeString(m[1]) + `">` + html.EscapeString(label) + `</a>`)
	})

	formatted := html.EscapeString(processed)
	formatted = quoteRe.ReplaceAllString(formatted, "<blockquote>$1</blockquote>")
	formatted = boldRe.ReplaceAllString(formatted, "<strong>$1</strong>")
	formatted = italicRe.ReplaceAllString(formatted, "<em>$1</em>")
	formatted = strikeRe.ReplaceAllString(formatted, "<del>$1</del>")

	for i, span := range spans {
		formatted = strings.Replace(formatted, "\x00SPAN"+strconv.Itoa(i)+"\x00", span, 1)
	}

	formatted = strings.ReplaceAll(formatted, "\n", "<br/>")

	return &ParsedMessage{
		Body:          body,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}

// plainBody strips mrkdwn tokens into readable plain text.
func plainBody(text string, mentions *Mentions) string {
	out := userMentionRe.ReplaceAllStringFunc(text, func(match string) string {
		m := userMentionRe.FindStringSubmatch(match)
		if mentions != nil && mentions.Users != nil {
			if ref, ok := mentions.Users[m[1]]; ok {
				return "@" + ref.Name
			}
		}
		return "@" + m[1]
	})
	out = channelMentionRe.ReplaceAllStringFunc(out, func(match string) string {
		m := channelMentionRe.FindStringSubmatch(match)
		if mentions != nil && mentions.Channels != nil {
			if ref, ok := mentions.Channels[m[1]]; ok {
				return "#" + ref.Name
			}
		}
		if m[2] != "" {
			return "#" + m[2]
		}
		return "#" + m[1]
	})
	out = broadcastRe.ReplaceAllString(out, "@room")
	out = linkRe.ReplaceAllStringFunc(out, func(match string) string {
		m := linkRe.FindStringSubmatch(match)
		if m[2] != "" {
			return m[2] + " (" + m[1] + ")"
		}
		return m[1]
	})
	return out
}
