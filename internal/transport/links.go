package transport

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// MessageLink builds a t.me link to a message.
//
// Public chats are addressed by username; everything else by the bare
// numeric ID through the /c/ route.
func MessageLink(chat Peer, msgID int) string {
	if u := strings.TrimPrefix(strings.TrimSpace(chat.Username), "@"); u != "" {
		return "https://t.me/" + u + "/" + strconv.Itoa(msgID)
	}
	return "https://t.me/c/" + strconv.FormatInt(chat.ID, 10) + "/" + strconv.Itoa(msgID)
}

// EntityText returns the part of text covered by e.
// Out-of-range spans are clamped.
func EntityText(text string, e Entity) string {
	u := utf16.Encode([]rune(text))
	start := clamp(e.Offset, 0, len(u))
	end := clamp(e.Offset+e.Length, start, len(u))
	return string(utf16.Decode(u[start:end]))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
