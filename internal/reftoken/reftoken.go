// Package reftoken implements the serialization grammar for display-node
// text. Display text is a small formal language, not incidental string
// surgery:
//
//	display  = [prefix SP] [marker] body SP ref SP alias
//	prefix   = ">" | "[[>]]"
//	marker   = "#h:" colorName
//	body     = image | "^^" text "^^" | text
//	ref      = "{{" page ":" SP id "}}"
//	alias    = "[" label "](((" id ")))"
//
// where id is exactly nine id characters and label is one or two
// characters. The first id addresses the data record row, the second the
// owner node.
package reftoken

import (
	"fmt"
	"strings"
)

// colorNames maps color numbers to marker names. Index 0 is the absence
// of a marker.
var colorNames = [...]string{"", "yellow", "red", "green", "blue", "purple", "grey"}

// ColorName returns the marker name for a color number, or "" for 0 or
// out-of-range numbers.
func ColorName(n int) string {
	if n < 1 || n >= len(colorNames) {
		return ""
	}
	return colorNames[n]
}

// colorByName returns the color number for a marker name.
func colorByName(name string) (int, bool) {
	for i := 1; i < len(colorNames); i++ {
		if colorNames[i] == name {
			return i, true
		}
	}
	return 0, false
}

// idLen is the fixed length of ids embedded in tokens.
const idLen = 9

// Ref renders a reference token addressing a data record row.
func Ref(page int, rowID string) string {
	return fmt.Sprintf("{{%d: %s}}", page, rowID)
}

// Alias renders an alias token addressing the owner node.
func Alias(label, ownerID string) string {
	return fmt.Sprintf("[%s](((%s)))", label, ownerID)
}

// NodeRef renders an embedded node reference.
func NodeRef(id string) string {
	return "((" + id + "))"
}

// Image renders image content as markdown.
func Image(url string) string {
	return "![](" + url + ")"
}

// Display is a parsed display-node text.
type Display struct {
	Prefix     string // "", ">", or "[[>]]"
	Color      int    // 0 when no marker present
	Body       string // text between marker and trail, markers excluded
	Page       int
	RowID      string // data record row addressed by the ref token
	AliasLabel string
	OwnerID    string // owner node addressed by the alias

	// BeforeTrail is the verbatim text preceding the ref token, with the
	// separating space removed. Replacement operations substitute it for
	// node references.
	BeforeTrail string
}

// ParseDisplay parses display-node text. A failed parse means the text is
// not a highlight; callers skip it silently.
func ParseDisplay(text string) (Display, bool) {
	var d Display

	at := trailStart(text)
	if at < 0 {
		return d, false
	}
	ref, alias, ok := parseTrail(text[at:])
	if !ok {
		return d, false
	}
	d.Page = ref.page
	d.RowID = ref.rowID
	d.AliasLabel = alias.label
	d.OwnerID = alias.ownerID
	d.BeforeTrail = strings.TrimRight(text[:at], " ")

	rest := d.BeforeTrail
	switch {
	case strings.HasPrefix(rest, "[[>]]"):
		d.Prefix = "[[>]]"
		rest = strings.TrimLeft(rest[len("[[>]]"):], " ")
	case strings.HasPrefix(rest, ">"):
		d.Prefix = ">"
		rest = strings.TrimLeft(rest[1:], " ")
	}

	if strings.HasPrefix(rest, "#h:") {
		name := rest[len("#h:"):]
		end := 0
		for end < len(name) && name[end] >= 'a' && name[end] <= 'z' {
			end++
		}
		if color, ok := colorByName(name[:end]); ok {
			d.Color = color
			rest = strings.TrimLeft(name[end:], " ")
		}
	}

	d.Body = rest
	return d, true
}

// PlainBody returns the body with any emphasis wrapper removed. The
// original wrapping is not recoverable from the result; Render re-derives
// it from the color.
func (d Display) PlainBody() string {
	body := d.Body
	open := strings.Index(body, "^^")
	if open < 0 {
		return body
	}
	close := strings.Index(body[open+2:], "^^")
	if close < 0 {
		return body
	}
	inner := body[open+2 : open+2+close]
	return body[:open] + inner + body[open+2+close+2:]
}

// Render produces the canonical display text for d. The body is
// re-derived from PlainBody, so rendering is idempotent under repeated
// color changes: applying the same color twice yields identical text.
func (d Display) Render() string {
	var b strings.Builder
	if d.Prefix != "" {
		b.WriteString(d.Prefix)
		b.WriteByte(' ')
	}
	plain := d.PlainBody()
	if d.Color != 0 {
		b.WriteString("#h:")
		b.WriteString(ColorName(d.Color))
		if strings.Contains(plain, "![") {
			// Images keep markdown intact; emphasis would break it.
			b.WriteByte(' ')
			b.WriteString(plain)
		} else {
			b.WriteString("^^")
			b.WriteString(plain)
			b.WriteString("^^")
		}
	} else {
		b.WriteString(plain)
	}
	b.WriteByte(' ')
	b.WriteString(Ref(d.Page, d.RowID))
	b.WriteByte(' ')
	b.WriteString(Alias(d.AliasLabel, d.OwnerID))
	return b.String()
}

type refToken struct {
	page  int
	rowID string
}

type aliasToken struct {
	label   string
	ownerID string
}

// trailStart finds the byte offset where the trail begins, trying "{{"
// occurrences from the right so body text containing braces cannot
// shadow the real tokens.
func trailStart(text string) int {
	for at := strings.LastIndex(text, "{{"); at >= 0; at = strings.LastIndex(text[:at], "{{") {
		if _, _, ok := parseTrail(text[at:]); ok {
			return at
		}
	}
	return -1
}

// parseTrail consumes `ref SP* alias` followed only by trailing spaces.
func parseTrail(s string) (refToken, aliasToken, bool) {
	var ref refToken
	var alias aliasToken

	s, ok := strings.CutPrefix(s, "{{")
	if !ok {
		return ref, alias, false
	}
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		ref.page = ref.page*10 + int(s[digits]-'0')
		digits++
	}
	if digits == 0 {
		return ref, alias, false
	}
	s = s[digits:]
	s, ok = strings.CutPrefix(s, ":")
	if !ok {
		return ref, alias, false
	}
	s = strings.TrimLeft(s, " ")
	ref.rowID, s, ok = cutID(s)
	if !ok {
		return ref, alias, false
	}
	s, ok = strings.CutPrefix(s, "}}")
	if !ok {
		return ref, alias, false
	}
	s = strings.TrimLeft(s, " ")

	s, ok = strings.CutPrefix(s, "[")
	if !ok {
		return ref, alias, false
	}
	end := strings.Index(s, "]")
	if end < 1 || end > 2 {
		return ref, alias, false
	}
	alias.label = s[:end]
	s = s[end+1:]
	s, ok = strings.CutPrefix(s, "(((")
	if !ok {
		return ref, alias, false
	}
	alias.ownerID, s, ok = cutID(s)
	if !ok {
		return ref, alias, false
	}
	s, ok = strings.CutPrefix(s, ")))")
	if !ok {
		return ref, alias, false
	}
	if strings.TrimRight(s, " ") != "" {
		return ref, alias, false
	}
	return ref, alias, true
}

// cutID consumes exactly idLen id characters.
func cutID(s string) (string, string, bool) {
	if len(s) < idLen {
		return "", s, false
	}
	for i := 0; i < idLen; i++ {
		if !isIDChar(s[i]) {
			return "", s, false
		}
	}
	return s[:idLen], s[idLen:], true
}

func isIDChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c == '-', c == '_':
		return true
	}
	return false
}

// ParseEmbed extracts the source identity from an owner node's embed
// token, `{{pdf: url}}` or `{{[[pdf]]: url}}`.
func ParseEmbed(text string) (string, bool) {
	for _, tag := range []string{"{{pdf:", "{{[[pdf]]:"} {
		at := strings.Index(text, tag)
		if at < 0 {
			continue
		}
		rest := text[at+len(tag):]
		rest, ok := strings.CutPrefix(rest, " ")
		if !ok {
			continue
		}
		end := strings.LastIndex(rest, "}}")
		if end < 0 {
			continue
		}
		return rest[:end], true
	}
	return "", false
}
