package reftoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rowID   = "abc123def"
	ownerID = "own456ghi"
)

func TestParseDisplay_Plain(t *testing.T) {
	text := "foo {{3: " + rowID + "}} [ ](((" + ownerID + ")))"

	d, ok := ParseDisplay(text)
	require.True(t, ok)
	assert.Equal(t, "", d.Prefix)
	assert.Equal(t, 0, d.Color)
	assert.Equal(t, "foo", d.Body)
	assert.Equal(t, 3, d.Page)
	assert.Equal(t, rowID, d.RowID)
	assert.Equal(t, " ", d.AliasLabel)
	assert.Equal(t, ownerID, d.OwnerID)
	assert.Equal(t, "foo", d.BeforeTrail)
}

func TestParseDisplay_PrefixAndMarker(t *testing.T) {
	text := "[[>]] #h:green^^foo bar^^ {{12: " + rowID + "}} [ ](((" + ownerID + ")))"

	d, ok := ParseDisplay(text)
	require.True(t, ok)
	assert.Equal(t, "[[>]]", d.Prefix)
	assert.Equal(t, 3, d.Color)
	assert.Equal(t, "^^foo bar^^", d.Body)
	assert.Equal(t, "foo bar", d.PlainBody())
	assert.Equal(t, 12, d.Page)
}

func TestParseDisplay_BlockquotePrefix(t *testing.T) {
	text := "> quoted {{1: " + rowID + "}} [ ](((" + ownerID + ")))"

	d, ok := ParseDisplay(text)
	require.True(t, ok)
	assert.Equal(t, ">", d.Prefix)
	assert.Equal(t, "quoted", d.Body)
}

func TestParseDisplay_BodyWithBraces(t *testing.T) {
	// Braces in the body must not shadow the real trail.
	text := "see {{figure 2}} here {{4: " + rowID + "}} [T](((" + ownerID + ")))"

	d, ok := ParseDisplay(text)
	require.True(t, ok)
	assert.Equal(t, "see {{figure 2}} here", d.Body)
	assert.Equal(t, 4, d.Page)
	assert.Equal(t, "T", d.AliasLabel)
}

func TestParseDisplay_NotAHighlight(t *testing.T) {
	for _, text := range []string{
		"",
		"plain text",
		"{{3: short}} [ ](((" + ownerID + ")))",        // row id too short
		"{{x: " + rowID + "}} [ ](((" + ownerID + ")))", // page not numeric
		"{{3: " + rowID + "}}",                          // no alias
		"{{3: " + rowID + "}} [toolong](((" + ownerID + ")))",
		"{{3: " + rowID + "}} [ ](((" + ownerID + "))) trailing junk",
	} {
		_, ok := ParseDisplay(text)
		assert.False(t, ok, "expected parse failure for %q", text)
	}
}

func TestRender_ColorIdempotent(t *testing.T) {
	d, ok := ParseDisplay("foo {{3: " + rowID + "}} [ ](((" + ownerID + ")))")
	require.True(t, ok)

	d.Color = 3
	once := d.Render()

	d2, ok := ParseDisplay(once)
	require.True(t, ok)
	d2.Color = 3
	twice := d2.Render()

	assert.Equal(t, "#h:green^^foo^^ {{3: "+rowID+"}} [ ]((("+ownerID+")))", once)
	assert.Equal(t, once, twice)
}

func TestRender_ColorZeroStripsMarker(t *testing.T) {
	d, ok := ParseDisplay("#h:red^^foo^^ {{3: " + rowID + "}} [ ](((" + ownerID + ")))")
	require.True(t, ok)

	d.Color = 0
	assert.Equal(t, "foo {{3: "+rowID+"}} [ ]((("+ownerID+")))", d.Render())
}

func TestRender_ImageKeepsMarkdown(t *testing.T) {
	d, ok := ParseDisplay("![](http://x/y.png) {{2: " + rowID + "}} [ ](((" + ownerID + ")))")
	require.True(t, ok)

	d.Color = 1
	assert.Equal(t, "#h:yellow ![](http://x/y.png) {{2: "+rowID+"}} [ ]((("+ownerID+")))", d.Render())
}

func TestRender_NonZeroColorTransition(t *testing.T) {
	d, ok := ParseDisplay("#h:yellow^^foo^^ {{3: " + rowID + "}} [ ](((" + ownerID + ")))")
	require.True(t, ok)

	d.Color = 5
	assert.Equal(t, "#h:purple^^foo^^ {{3: "+rowID+"}} [ ](((" + ownerID + ")))", d.Render())
}

func TestParseEmbed(t *testing.T) {
	url, ok := ParseEmbed("{{pdf: https://example.org/paper.pdf}}")
	require.True(t, ok)
	assert.Equal(t, "https://example.org/paper.pdf", url)

	url, ok = ParseEmbed("{{[[pdf]]: https://example.org/other.pdf}}")
	require.True(t, ok)
	assert.Equal(t, "https://example.org/other.pdf", url)

	_, ok = ParseEmbed("{{table}}")
	assert.False(t, ok)
}

func TestBuilders(t *testing.T) {
	assert.Equal(t, "{{3: "+rowID+"}}", Ref(3, rowID))
	assert.Equal(t, "[ ](((" + ownerID + ")))", Alias(" ", ownerID))
	assert.Equal(t, "(("+rowID+"))", NodeRef(rowID))
	assert.Equal(t, "![](u)", Image("u"))
}

func TestColorName(t *testing.T) {
	assert.Equal(t, "", ColorName(0))
	assert.Equal(t, "yellow", ColorName(1))
	assert.Equal(t, "grey", ColorName(6))
	assert.Equal(t, "", ColorName(7))
	assert.Equal(t, "", ColorName(-1))
}
