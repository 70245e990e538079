package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c3founder/roampdf/internal/highlight"
	"github.com/c3founder/roampdf/internal/outline"
	"github.com/c3founder/roampdf/internal/records"
	"github.com/c3founder/roampdf/internal/testutil"
)

const testSource = "https://example.com/paper.pdf"

// seedDatabase writes two highlights, deliberately out of reading
// order, and returns the database path.
func seedDatabase(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := t.TempDir() + "/outline.db"

	st, err := outline.OpenSQLite(path)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.CreatePage(ctx, "Papers", "page00001"))
	require.NoError(t, st.CreateNode(ctx, "page00001", 0, "{{pdf: "+testSource+"}}", "owner0001"))

	recs := records.New(st, testutil.IDs())
	tableID, err := recs.GetOrCreateDataPage(ctx, testSource, "owner0001")
	require.NoError(t, err)

	second := records.Info{Position: highlight.Position{PageNumber: 5}, Color: 1}
	require.NoError(t, recs.AppendRecord(ctx, tableID, "rowa00001", "dispa0001", second, "later"))
	first := records.Info{Position: highlight.Position{PageNumber: 2}}
	require.NoError(t, recs.AppendRecord(ctx, tableID, "rowb00001", "dispb0001", first, "earlier"))

	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "highlights", "--db", "ignored", testSource)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestHighlights_ReadingOrderText(t *testing.T) {
	path := seedDatabase(t)

	out, err := execute(t, "highlights", "--db", path, testSource)
	require.NoError(t, err)
	assert.Regexp(t, `(?s)p\.2.*plain.*earlier.*p\.5.*yellow.*later`, out)
}

func TestHighlights_JSON(t *testing.T) {
	path := seedDatabase(t)

	out, err := execute(t, "--format", "json", "highlights", "--db", path, testSource)
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
	assert.Contains(t, out, `"earlier"`)
}

func TestHighlights_UnknownSource(t *testing.T) {
	path := seedDatabase(t)

	_, err := execute(t, "highlights", "--db", path, "https://example.com/other.pdf")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad flag", nil)))
	wrapped := WrapExitError(ExitFailure, "outer", errors.New("inner"))
	assert.Equal(t, "outer: inner", wrapped.Error())
}
