package tgui

import (
	"testing"

	kit "userbot/internal/transport"
)

func TestPreview(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "hello..."},
		{"line\none", 20, "line one"},
		{"привет мир", 6, "привет..."},
		{"anything", 0, ""},
	}
	for _, c := range cases {
		if got := Preview(c.in, c.n); got != c.want {
			t.Errorf("Preview(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}

func TestTree(t *testing.T) {
	got := Tree(Raw("a"), Raw("b"), Raw("c")).String()
	if got != "├ a\n├ b\n└ c\n" {
		t.Fatalf("Tree = %q", got)
	}
	if got := Tree(Raw("only")).String(); got != "└ only\n" {
		t.Fatalf("single = %q", got)
	}
}

func TestHTMLHelpers(t *testing.T) {
	if got := B("<x>").String(); got != "<b>&lt;x&gt;</b>" {
		t.Errorf("B = %q", got)
	}
}

func TestFromEntities(t *testing.T) {
	cases := []struct {
		name string
		text string
		ents []kit.Entity
		want string
	}{
		{"plain is escaped", "a < b", nil, "a &lt; b"},
		{"bold", "hello world", []kit.Entity{{Type: kit.EntityBold, Offset: 0, Length: 5}}, "<b>hello</b> world"},
		{
			"nested",
			"bold italic",
			[]kit.Entity{
				{Type: kit.EntityBold, Offset: 0, Length: 11},
				{Type: kit.EntityItalic, Offset: 5, Length: 6},
			},
			"<b>bold <i>italic</i></b>",
		},
		{
			"utf16 offsets",
			"🔥 fire",
			[]kit.Entity{{Type: kit.EntityCode, Offset: 3, Length: 4}},
			"🔥 <code>fire</code>",
		},
		{
			"text link",
			"see docs",
			[]kit.Entity{{Type: kit.EntityTextLink, Offset: 4, Length: 4, URL: "https://example.com"}},
			`see <a href="https://example.com">docs</a>`,
		},
		{"mention has no tag", "@chan hi", []kit.Entity{{Type: kit.EntityMention, Offset: 0, Length: 5}}, "@chan hi"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := FromEntities(c.text, c.ents).String(); got != c.want {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}
