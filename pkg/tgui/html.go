package tgui

import (
	"html"
	"strings"
)

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H should be treated as already-escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML.
// Use sparingly.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Tree renders rows as a box-drawing list: every row but the last starts
// with "├ ", the last with "└ ". Each row ends with a newline.
func Tree(rows ...H) H {
	var b strings.Builder
	for i, r := range rows {
		if i == len(rows)-1 {
			b.WriteString("└ ")
		} else {
			b.WriteString("├ ")
		}
		b.WriteString(r.String())
		b.WriteString("\n")
	}
	return H(b.String())
}
