// Package translate converts message content between Slack mrkdwn and
// Matrix body+HTML. Every function is pure: mention targets, thread
// anchors and size limits arrive pre-resolved in a MappingContext and
// no network I/O happens here.
package translate

import (
	"strings"
	"unicode/utf8"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"slackmatrix/internal/translate/matrixfmt"
	"slackmatrix/internal/translate/slackfmt"
)

// UserRef is one pre-resolved identity pair available for mention
// mapping in either direction.
type UserRef struct {
	SlackID     string
	MatrixID    string
	DisplayName string
}

// MappingContext carries everything a translation needs that would
// otherwise require a lookup.
type MappingContext struct {
	MaxChars int
	Users    []UserRef

	// ThreadRootMatrix/ThreadRootSlack anchor replies in the
	// destination's own terms; empty means an unthreaded message.
	ThreadRootMatrix id.EventID
	ThreadRootSlack  string
}

func (c *MappingContext) slackMentions() *slackfmt.Mentions {
	m := &slackfmt.Mentions{Users: make(map[string]slackfmt.Mention, len(c.Users))}
	for _, u := range c.Users {
		m.Users[u.SlackID] = slackfmt.Mention{Target: u.MatrixID, Name: u.DisplayName}
	}
	return m
}

func (c *MappingContext) matrixMentions() *matrixfmt.Mentions {
	m := &matrixfmt.Mentions{Users: make(map[string]string, len(c.Users))}
	for _, u := range c.Users {
		m.Users[u.MatrixID] = u.SlackID
	}
	return m
}

// SlackToMatrix converts mrkdwn into Matrix message contents. Oversized
// text is split into multiple parts; every part shares the same thread
// anchor so the destination renders them as one logical message.
func SlackToMatrix(body string, ctx *MappingContext) []*event.MessageEventContent {
	var contents []*event.MessageEventContent
	for _, chunk := range SplitText(body, ctx.MaxChars) {
		parsed := slackfmt.Parse(chunk, ctx.slackMentions())
		content := &event.MessageEventContent{
			MsgType:       event.MsgText,
			Body:          parsed.Body,
			Format:        parsed.Format,
			FormattedBody: parsed.FormattedBody,
		}
		if ctx.ThreadRootMatrix != "" {
			content.RelatesTo = &event.RelatesTo{
				Type:    event.RelThread,
				EventID: ctx.ThreadRootMatrix,
			}
		}
		contents = append(contents, content)
	}
	return contents
}

// SlackEditToMatrix converts an edited mrkdwn body into a Matrix edit
// of target. Edits never split; text beyond the size limit is truncated.
func SlackEditToMatrix(body string, ctx *MappingContext, target id.EventID) *event.MessageEventContent {
	parts := SplitText(body, ctx.MaxChars)
	parsed := slackfmt.Parse(parts[0], ctx.slackMentions())
	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          parsed.Body,
		Format:        parsed.Format,
		FormattedBody: parsed.FormattedBody,
	}
	content.SetEdit(target)
	return content
}

// MatrixToSlack converts Matrix message content into one or more
// mrkdwn texts, split to the configured size limit.
func MatrixToSlack(content *event.MessageEventContent, ctx *MappingContext) []string {
	return SplitText(matrixfmt.Parse(content, ctx.matrixMentions()), ctx.MaxChars)
}

// SplitText splits text into chunks of at most max characters,
// preferring newline and space boundaries. max <= 0 means no limit.
func SplitText(text string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var parts []string
	remaining := text
	for utf8.RuneCountInString(remaining) > max {
		cut := byteOffset(remaining, max)
		window := remaining[:cut]

		// Prefer breaking at the last newline, then the last space, as
		// long as the break keeps the chunk reasonably full.
		floor := byteOffset(remaining, max/2)
		if idx := strings.LastIndexByte(window, '\n'); idx > floor {
			cut = idx + 1
		} else if idx := strings.LastIndexByte(window, ' '); idx > floor {
			cut = idx + 1
		}

		parts = append(parts, strings.TrimRight(remaining[:cut], " \n"))
		remaining = remaining[cut:]
	}
	if remaining != "" {
		parts = append(parts, remaining)
	}
	return parts
}

// byteOffset returns the byte index after n runes of s.
func byteOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
