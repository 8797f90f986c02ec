package router

import (
	"slices"
	"strings"

	"userbot/pkg/tgui"
)

// helpText renders the command list, or details for one command.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	prefix := m.prefix
	m.mu.RUnlock()

	if len(path) == 0 {
		return m.helpTop(root, prefix)
	}

	words := make([]string, len(path))
	for i, p := range path {
		words[i] = strings.ToLower(strings.TrimPrefix(p, prefix))
	}
	cur := root.find(words)
	if cur == nil {
		if leaf, ok := alias[words[0]]; ok && leaf != nil {
			cur = leaf
		}
	}
	if cur == nil {
		return string(tgui.B("❓ Unknown command")) + "\nTry " + string(tgui.Code(prefix+"help")) + "."
	}
	return m.helpNode(cur, prefix)
}

func (m *CommandManager) helpTop(root *cmdNode, prefix string) string {
	byPlugin := map[string][]*Command{}
	var plugins []string
	root.walk(func(c *Command) {
		p := c.PluginName
		if p == "" {
			p = "core"
		}
		if _, ok := byPlugin[p]; !ok {
			plugins = append(plugins, p)
		}
		byPlugin[p] = append(byPlugin[p], c)
	})

	var b strings.Builder
	b.WriteString(string(tgui.B("📚 Commands")))
	b.WriteString("\n")
	for _, p := range sortedPlugins(plugins) {
		b.WriteString("\n")
		b.WriteString(string(tgui.B(p)))
		b.WriteString("\n")
		rows := make([]tgui.H, 0, len(byPlugin[p]))
		for _, c := range byPlugin[p] {
			row := tgui.Code(prefix + c.Route)
			if d := strings.TrimSpace(c.Description); d != "" {
				row += tgui.Raw(" — ") + tgui.Esc(d)
			}
			rows = append(rows, row)
		}
		b.WriteString(string(tgui.Tree(rows...)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *CommandManager) helpNode(cur *cmdNode, prefix string) string {
	var lines []string
	if cur.cmd == nil {
		lines = append(lines, string(tgui.B("📚 "+prefix+cur.name)))
		for _, name := range cur.childNames() {
			lines = append(lines, "• "+string(tgui.Code(prefix+cur.name+" "+name)))
		}
		return strings.Join(lines, "\n")
	}
	c := cur.cmd
	lines = append(lines, string(tgui.B("📚 "+prefix+c.Route)))
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, string(tgui.Esc(d)))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", string(tgui.B("Usage")), string(tgui.Code(prefix+u)))
	}
	if len(c.Aliases) > 0 {
		as := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			as = append(as, string(tgui.Code(prefix+a)))
		}
		lines = append(lines, "", string(tgui.B("Aliases"))+" "+strings.Join(as, ", "))
	}
	if c.Access == AccessEveryone {
		lines = append(lines, string(tgui.I("available to everyone")))
	}
	return strings.Join(lines, "\n")
}

// sortedPlugins orders plugin names alphabetically with "core" last.
func sortedPlugins(in []string) []string {
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b string) int {
		if (a == "core") != (b == "core") {
			if a == "core" {
				return 1
			}
			return -1
		}
		return strings.Compare(a, b)
	})
	return out
}
