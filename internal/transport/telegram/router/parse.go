package router

import (
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short request id: base36 time, sequence and two random chars.
func newReqID() string {
	n := ridSeq.Add(1)
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := []byte{alpha[rand.Intn(len(alpha))], alpha[rand.Intn(len(alpha))]}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + string(suffix)
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
//
//	.cmd a "b c" 'd e'
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
		had   bool
	)
	flush := func() {
		if buf.Len() > 0 || had {
			out = append(out, buf.String())
			buf.Reset()
		}
		had = false
	}
	for _, ch := range s {
		if esc {
			buf.WriteRune(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
			had = true
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// splitCommand separates "<prefix><word> rest" into word and the raw rest.
// ok is false when text does not start with prefix followed by a word.
func splitCommand(text, prefix string) (word, rest string, ok bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", "", false
	}
	body := text[len(prefix):]
	if body == "" || strings.HasPrefix(body, " ") || strings.HasPrefix(body, prefix) {
		return "", "", false
	}
	end := strings.IndexAny(body, " \t\n\r")
	if end < 0 {
		return strings.ToLower(body), "", true
	}
	return strings.ToLower(body[:end]), strings.TrimSpace(body[end:]), true
}
