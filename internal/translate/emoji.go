package translate

import (
	"sort"
	"strings"

	"go.mau.fi/util/variationselector"
)

// emojiByName maps the common Slack reaction names to their unicode
// forms. Slack sends bare names ("thumbsup"); Matrix reaction keys are
// the emoji themselves. Names missing here bridge as ":name:" text.
var emojiByName = map[string]string{
	"smile":                 "😄",
	"smiley":                "😃",
	"grin":                  "😁",
	"grinning":              "😀",
	"joy":                   "😂",
	"rolling_on_the_floor_laughing": "🤣",
	"slightly_smiling_face": "🙂",
	"wink":                  "😉",
	"blush":                 "😊",
	"heart_eyes":            "😍",
	"thinking_face":         "🤔",
	"neutral_face":          "😐",
	"cry":                   "😢",
	"sob":                   "😭",
	"angry":                 "😠",
	"rage":                  "😡",
	"scream":                "😱",
	"exploding_head":        "🤯",
	"face_with_rolling_eyes": "🙄",
	"upside_down_face":      "🙃",
	"thumbsup":              "👍",
	"+1":                    "👍",
	"thumbsdown":            "👎",
	"-1":                    "👎",
	"clap":                  "👏",
	"wave":                  "👋",
	"raised_hands":          "🙌",
	"pray":                  "🙏",
	"ok_hand":               "👌",
	"point_up":              "☝️",
	"muscle":                "💪",
	"eyes":                  "👀",
	"heart":                 "❤️",
	"broken_heart":          "💔",
	"fire":                  "🔥",
	"star":                  "⭐",
	"sparkles":              "✨",
	"tada":                  "🎉",
	"confetti_ball":         "🎊",
	"rocket":                "🚀",
	"bulb":                  "💡",
	"zap":                   "⚡",
	"boom":                  "💥",
	"100":                   "💯",
	"check":                 "✔️",
	"heavy_check_mark":      "✔️",
	"white_check_mark":      "✅",
	"x":                     "❌",
	"question":              "❓",
	"exclamation":           "❗",
	"warning":               "⚠️",
	"bell":                  "🔔",
	"bug":                   "🐛",
	"coffee":                "☕",
	"pizza":                 "🍕",
	"beers":                 "🍻",
	"cake":                  "🍰",
	"gift":                  "🎁",
	"party_parrot":          "🦜",
	"wavy_dash":             "〰️",
	"hourglass":             "⌛",
	"lock":                  "🔒",
	"unlock":                "🔓",
	"memo":                  "📝",
	"calendar":              "📅",
	"chart_with_upwards_trend": "📈",
	"ship":                  "🚢",
	"shipit":                "🚢",
	"see_no_evil":           "🙈",
	"facepalm":              "🤦",
	"shrug":                 "🤷",
	"handshake":             "🤝",
}

var emojiNames = func() map[string]string {
	names := make([]string, 0, len(emojiByName))
	for name := range emojiByName {
		names = append(names, name)
	}
	// Sorted so aliases resolve deterministically (e.g. 👍 is "+1",
	// not sometimes "thumbsup").
	sort.Strings(names)

	byEmoji := make(map[string]string, len(emojiByName))
	for _, name := range names {
		key := variationselector.Remove(emojiByName[name])
		if _, ok := byEmoji[key]; !ok {
			byEmoji[key] = name
		}
	}
	return byEmoji
}()

// EmojiToReactionKey converts a Slack emoji name into a Matrix reaction
// key. Skin-tone suffixes are dropped; unknown names come back as
// ":name:" so the reaction is still visible.
func EmojiToReactionKey(name string) string {
	base := name
	if idx := strings.Index(base, "::skin-tone-"); idx >= 0 {
		base = base[:idx]
	}
	if emoji, ok := emojiByName[base]; ok {
		return variationselector.Add(emoji)
	}
	return ":" + name + ":"
}

// ReactionKeyToEmoji converts a Matrix reaction key back to a Slack
// emoji name, reporting false when the emoji has no known name.
func ReactionKeyToEmoji(key string) (string, bool) {
	trimmed := strings.Trim(key, ":")
	if _, ok := emojiByName[trimmed]; ok {
		return trimmed, true
	}
	if name, ok := emojiNames[variationselector.Remove(key)]; ok {
		return name, true
	}
	return "", false
}
