// Package matrixfmt converts Matrix HTML to Slack mrkdwn.
package matrixfmt

import (
	stdhtml "html"
	"regexp"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Mentions maps Matrix user IDs to Slack user IDs so pills become
// native <@U…> references on the Slack side.
type Mentions struct {
	Users map[string]string // keyed by Matrix user ID
}

var (
	strongRe     = regexp.MustCompile(`<(?:strong|b)>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`<(?:em|i)>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`<(?:del|strike)>(.*?)</(?:del|strike)>`)
	codeRe       = regexp.MustCompile(`<code>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre><code(?:[^>]*)>(.*?)</code></pre>`)
	pillRe       = regexp.MustCompile(`<a href="https://matrix\.to/#/(@[^"]+)"[^>]*>(.*?)</a>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	liRe         = regexp.MustCompile(`<li>(.*?)</li>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol>(.*?)</ol>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	mxReplyRe    = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
)

// Parse converts Matrix message content to Slack mrkdwn.
func Parse(content *event.MessageEventContent, mentions *Mentions) string {
	if content == nil {
		return ""
	}

	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body
	}

	text := content.FormattedBody

	// Quoted fallback from rich replies is not part of the message.
	text = mxReplyRe.ReplaceAllString(text, "")

	// Code blocks first so their content survives untouched.
	text = preRe.ReplaceAllString(text, "```\n$1\n```")
	text = codeRe.ReplaceAllString(text, "`$1`")

	// Mention pills become native Slack mentions where mapped.
	text = pillRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := pillRe.FindStringSubmatch(match)
		if mentions != nil && mentions.Users != nil {
			if slackID, ok := mentions.Users[parts[1]]; ok {
				return "<@" + slackID + ">"
			}
		}
		return parts[2]
	})

	text = strongRe.ReplaceAllString(text, "*$1*")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~$1~")

	text = linkRe.ReplaceAllString(text, "<$1|$2>")

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		lines := strings.Split(strings.TrimSpace(parts[1]), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n")
	})

	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for _, item := range items {
			result = append(result, "• "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})
	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		var result []string
		for i, item := range items {
			result = append(result, string(rune('1'+i))+". "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n")
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = stdhtml.UnescapeString(text)

	return strings.TrimSpace(text)
}
