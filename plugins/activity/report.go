package activity

import (
	"context"
	"strconv"
	"strings"
	"time"

	kit "userbot/internal/transport"
	"userbot/pkg/tgui"
)

const (
	reportTimeLayout = "02.01.2006 15:04"
	listTimeLayout   = "02.01 15:04"
)

// stats is one pass over a user's messages in a chat, newest first.
type stats struct {
	Total int
	Today int
	Week  int
	First time.Time
	Last  time.Time

	Recent []*kit.Message
}

// collect scans it once, counting every message and keeping the newest
// recent ones. today starts at local midnight, the week is the last 7 days.
func collect(ctx context.Context, it kit.HistoryIter, recent int, now time.Time) (stats, error) {
	var s stats
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	week := now.Add(-7 * 24 * time.Hour)

	for it.Next(ctx) {
		m := it.Value()
		s.Total++
		d := m.Date
		if !d.Before(today) {
			s.Today++
		}
		if !d.Before(week) {
			s.Week++
		}
		if s.First.IsZero() || d.Before(s.First) {
			s.First = d
		}
		if s.Last.IsZero() || d.After(s.Last) {
			s.Last = d
		}
		if len(s.Recent) < recent {
			s.Recent = append(s.Recent, m)
		}
	}
	return s, it.Err()
}

// preview is the one-line, escaped summary of a message.
func preview(m *kit.Message, n int) string {
	switch {
	case m.Text != "":
		return tgui.Esc(tgui.Preview(m.Text, n)).String()
	case m.Media != nil:
		return "📎 Media"
	default:
		return "Message"
	}
}

// messageRows renders <a href='link'>time</a>: preview rows as a tree.
func messageRows(chat kit.Peer, msgs []*kit.Message, layout string, loc *time.Location, previewLen int) string {
	rows := make([]tgui.H, 0, len(msgs))
	for _, m := range msgs {
		link := tgui.Esc(kit.MessageLink(chat, m.ID)).String()
		row := "<a href='" + link + "'>" + m.Date.In(loc).Format(layout) + "</a>: " + preview(m, previewLen)
		rows = append(rows, tgui.Raw(row))
	}
	return tgui.Tree(rows...).String()
}

func fullName(u kit.Peer) string {
	first := u.FirstName
	if first == "" {
		first = "Unknown"
	}
	name := tgui.Esc(first).String()
	if u.LastName != "" {
		name += " " + tgui.Esc(u.LastName).String()
	}
	return name
}

func firstName(u kit.Peer) string {
	if u.FirstName == "" {
		return "Unknown"
	}
	return tgui.Esc(u.FirstName).String()
}

func formatStamp(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "Unknown"
	}
	return t.In(loc).Format(reportTimeLayout)
}

func reportHTML(user kit.Peer, chat kit.Peer, s stats, c Config) string {
	username := "None"
	if user.Username != "" {
		username = "@" + tgui.Esc(user.Username).String()
	}

	var b strings.Builder
	b.WriteString("<b>👤 User Activity Report</b>\n\n")
	b.WriteString("<b>User:</b> " + fullName(user) + "\n")
	b.WriteString("<b>Username:</b> " + username + "\n")
	b.WriteString("<b>ID:</b> <code>" + strconv.FormatInt(user.ID, 10) + "</code>\n\n")
	b.WriteString("<b>📊 Statistics:</b>\n")
	b.WriteString(tgui.Tree(
		tgui.Raw("<b>Total messages:</b> "+strconv.Itoa(s.Total)),
		tgui.Raw("<b>Messages today:</b> "+strconv.Itoa(s.Today)),
		tgui.Raw("<b>Messages this week:</b> "+strconv.Itoa(s.Week)),
		tgui.Raw("<b>First message:</b> "+formatStamp(s.First, c.loc)),
		tgui.Raw("<b>Last message:</b> "+formatStamp(s.Last, c.loc)),
	).String())
	b.WriteString("\n<b>📝 Last " + strconv.Itoa(len(s.Recent)) + " messages:</b>\n")
	b.WriteString(messageRows(chat, s.Recent, reportTimeLayout, c.loc, c.ReportPreviewLen))
	return b.String()
}

func lastHTML(user kit.Peer, chat kit.Peer, msgs []*kit.Message, c Config) string {
	return "<b>📝 Last " + strconv.Itoa(len(msgs)) + " messages from " + firstName(user) + ":</b>\n\n" +
		messageRows(chat, msgs, listTimeLayout, c.loc, c.ListPreviewLen)
}
