// Package tgui provides small helpers for Telegram HTML messages:
//   - Escaping and inline tags (bold, code, links)
//   - Rune-safe truncation for previews
//   - Tree lists (├ / └ rows)
//   - Rendering received text + entities back into HTML
//
// Everything here is safe by default for ParseMode="HTML": plain strings are
// escaped, values of type H are treated as already-escaped.
package tgui
