package tgui

import (
	"html"
	"sort"
	"strings"
	"unicode/utf16"

	kit "userbot/internal/transport"
)

type span struct {
	e          kit.Entity
	start, end int
}

// FromEntities renders a received message (plain text + formatting entities)
// back into Telegram HTML, so it can be re-sent with ParseMode="HTML" without
// losing its formatting.
//
// Mentions and plain URLs carry no tag: Telegram detects them again on send.
// Overlapping (non-nested) spans are closed and reopened to keep tags balanced.
func FromEntities(text string, entities []kit.Entity) H {
	u := utf16.Encode([]rune(text))

	spans := make([]span, 0, len(entities))
	for _, e := range entities {
		if openTag(e) == "" || e.Length <= 0 {
			continue
		}
		start := clampInt(e.Offset, 0, len(u))
		end := clampInt(e.Offset+e.Length, start, len(u))
		if end == start {
			continue
		}
		spans = append(spans, span{e: e, start: start, end: end})
	}
	if len(spans) == 0 {
		return Esc(text)
	}
	// Outer spans first so they open before (and close after) inner ones.
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	var (
		b     strings.Builder
		stack []span
		next  int
	)
	for i := 0; i <= len(u); i++ {
		// Close everything that ends here; anything closed early is reopened.
		low := -1
		for k := range stack {
			if stack[k].end <= i {
				low = k
				break
			}
		}
		if low >= 0 {
			var reopen []span
			for len(stack) > low {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				b.WriteString(closeTag(top.e))
				if top.end > i {
					reopen = append(reopen, top)
				}
			}
			for k := len(reopen) - 1; k >= 0; k-- {
				b.WriteString(openTag(reopen[k].e))
				stack = append(stack, reopen[k])
			}
		}
		for next < len(spans) && spans[next].start <= i {
			if spans[next].end > i {
				b.WriteString(openTag(spans[next].e))
				stack = append(stack, spans[next])
			}
			next++
		}
		if i == len(u) {
			break
		}

		r := rune(u[i])
		if utf16.IsSurrogate(r) && i+1 < len(u) {
			r = utf16.DecodeRune(r, rune(u[i+1]))
			i++
		}
		b.WriteString(html.EscapeString(string(r)))
	}
	return H(b.String())
}

func openTag(e kit.Entity) string {
	switch e.Type {
	case kit.EntityBold:
		return "<b>"
	case kit.EntityItalic:
		return "<i>"
	case kit.EntityUnderline:
		return "<u>"
	case kit.EntityStrike:
		return "<s>"
	case kit.EntityCode:
		return "<code>"
	case kit.EntityPre:
		if lang := strings.TrimSpace(e.Language); lang != "" {
			return `<pre><code class="language-` + html.EscapeString(lang) + `">`
		}
		return "<pre>"
	case kit.EntityTextLink:
		if e.URL == "" {
			return ""
		}
		return `<a href="` + html.EscapeString(e.URL) + `">`
	case kit.EntitySpoiler:
		return "<tg-spoiler>"
	case kit.EntityBlockquote:
		return "<blockquote>"
	default:
		return ""
	}
}

func closeTag(e kit.Entity) string {
	switch e.Type {
	case kit.EntityBold:
		return "</b>"
	case kit.EntityItalic:
		return "</i>"
	case kit.EntityUnderline:
		return "</u>"
	case kit.EntityStrike:
		return "</s>"
	case kit.EntityCode:
		return "</code>"
	case kit.EntityPre:
		if strings.TrimSpace(e.Language) != "" {
			return "</code></pre>"
		}
		return "</pre>"
	case kit.EntityTextLink:
		return "</a>"
	case kit.EntitySpoiler:
		return "</tg-spoiler>"
	case kit.EntityBlockquote:
		return "</blockquote>"
	default:
		return ""
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
