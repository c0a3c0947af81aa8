// Package identity maps Slack identities to their Matrix ghosts and
// rooms to channels. Ghost MXIDs are a pure function of the Slack user
// ID, so re-derivation is idempotent without a store lookup; the store
// stays the source of truth for profile metadata only.
package identity

import "strings"

// GhostLocalpart derives the Matrix localpart for a Slack user.
// Slack user IDs are uppercase; Matrix localparts must be lowercase.
func GhostLocalpart(prefix, slackUserID string) string {
	return prefix + strings.ToLower(slackUserID)
}

// GhostMXID derives the full ghost user ID for a Slack user.
func GhostMXID(prefix, slackUserID, domain string) string {
	return "@" + GhostLocalpart(prefix, slackUserID) + ":" + domain
}

// ParseGhostMXID recovers the Slack user ID from a ghost MXID, or
// reports false if the MXID is not one of ours. The reverse of
// GhostMXID up to case: Slack IDs come back uppercase.
func ParseGhostMXID(mxid, prefix, domain string) (string, bool) {
	if !strings.HasPrefix(mxid, "@") {
		return "", false
	}
	rest, ok := strings.CutSuffix(mxid[1:], ":"+domain)
	if !ok {
		return "", false
	}
	localpart, ok := strings.CutPrefix(rest, prefix)
	if !ok || localpart == "" {
		return "", false
	}
	return strings.ToUpper(localpart), true
}

// GhostDisplayname renders the configured displayname template,
// substituting ":displayname" with the user's Slack display name.
func GhostDisplayname(template, displayname string) string {
	return strings.ReplaceAll(template, ":displayname", displayname)
}

// SlackChannelName sanitizes a room name into a valid Slack channel
// name: lowercase, dashes for separators, at most 80 characters.
func SlackChannelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "bridged-room"
	}
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}
