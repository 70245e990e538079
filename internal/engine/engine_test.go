package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c3founder/roampdf/internal/channel"
	"github.com/c3founder/roampdf/internal/config"
	"github.com/c3founder/roampdf/internal/highlight"
	"github.com/c3founder/roampdf/internal/outline"
	"github.com/c3founder/roampdf/internal/protocol"
	"github.com/c3founder/roampdf/internal/testutil"
)

const (
	testSource = "https://example.com/paper.pdf"
	ownerID    = "owner0001"
	parentID   = "paren0001"
	grandID    = "grand0001"
	pageID     = "page00001"
)

type stubClipboard struct {
	texts []string
}

func (c *stubClipboard) Write(text string) error {
	c.texts = append(c.texts, text)
	return nil
}

type stubPanel struct {
	opened []string
}

func (p *stubPanel) Open(nodeID string) error {
	p.opened = append(p.opened, nodeID)
	return nil
}

type fixture struct {
	st    *outline.MemoryStore
	eng   *Engine
	clip  *stubClipboard
	panel *stubPanel
	ch    *channel.Buffered
	s     Surface
}

// newFixture builds a page > grand > parent > owner chain, so both
// cousin and child placement have room, and attaches one surface.
func newFixture(t *testing.T, cfg config.Config, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	st := outline.NewMemoryStore()
	require.NoError(t, st.CreatePage(ctx, "Papers", pageID))
	require.NoError(t, st.CreateNode(ctx, pageID, outline.OrderLast, "Reading", grandID))
	require.NoError(t, st.CreateNode(ctx, grandID, outline.OrderLast, "Smith 2020", parentID))
	require.NoError(t, st.CreateNode(ctx, parentID, outline.OrderLast, "{{pdf: "+testSource+"}}", ownerID))

	f := &fixture{
		st:    st,
		clip:  &stubClipboard{},
		panel: &stubPanel{},
		ch:    channel.NewBuffered(),
	}
	opts = append([]Option{
		WithIDs(testutil.IDs()),
		WithClipboard(f.clip),
		WithPanel(f.panel),
	}, opts...)
	f.eng = New(st, cfg, opts...)
	f.s = Surface{Instance: "inst-1", Source: testSource, OwnerID: ownerID, Sender: f.ch}
	require.NoError(t, f.eng.process(ctx, Event{Kind: KindAttach, Surface: f.s}))
	return f
}

func (f *fixture) message(t *testing.T, msg protocol.Inbound) {
	t.Helper()
	err := f.eng.process(context.Background(), Event{
		Kind: KindMessage, Instance: f.s.Instance, Message: msg,
	})
	require.NoError(t, err)
}

func addedMsg(text string, page, color int) protocol.Inbound {
	return protocol.Inbound{
		ActionType: protocol.ActionAdded,
		Highlight: protocol.InboundHighlight{
			Position: &highlight.Position{
				BoundingRect: highlight.Rect{X1: 10, Y1: 20, X2: 110, Y2: 40, Width: 600, Height: 800},
				PageNumber:   page,
			},
			Color:   color,
			Content: &highlight.Content{Text: text},
		},
	}
}

func childConfig() config.Config {
	cfg := config.Default()
	cfg.OutputAt = "child"
	return cfg
}

func TestAdded_ChildMode_Golden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, childConfig())

	f.message(t, addedMsg("foo", 3, 0))

	children, err := f.st.ChildrenOf(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, children, 1)

	pgID, ok, err := f.eng.Records().PageForSource(ctx, testSource)
	require.NoError(t, err)
	require.True(t, ok)
	slots, err := f.eng.Records().PageSlots(ctx, pgID)
	require.NoError(t, err)
	hls, err := f.eng.Records().ReadAllRecords(ctx, slots.TableID)
	require.NoError(t, err)
	require.Len(t, hls, 1)

	title, ok, err := f.st.PageByTitle(ctx, "roam/js/pdf/data/119154063")
	require.NoError(t, err)
	assert.True(t, ok, "data page title must derive from the source hash")
	assert.Equal(t, pgID, title)
	assert.Equal(t, testSource, slots.Source)
	assert.Equal(t, ownerID, slots.OwnerID)

	dump := fmt.Sprintf(
		"display: %s\nrecord id: %s\ncontent: %s\ncolor: %d\npage: %d\nrects: %d\n",
		children[0].Text, hls[0].ID, hls[0].Content.Text,
		hls[0].Color, hls[0].Position.PageNumber, len(hls[0].Position.Rects),
	)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "added_child", []byte(dump))

	// The surface gets the committed set back, not a bare ack.
	msgs := f.ch.Messages()
	require.Len(t, msgs, 2) // attach push + added push
	require.Len(t, msgs[1].Highlights, 1)
	assert.Equal(t, children[0].ID, msgs[1].Highlights[0].ID)
}

func TestAdded_CousinMode_CreatesAndReusesUncle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Default())

	f.message(t, addedMsg("first", 1, 0))
	f.message(t, addedMsg("second", 2, 0))

	siblings, err := f.st.ChildrenOf(ctx, grandID)
	require.NoError(t, err)
	require.Len(t, siblings, 2, "owner's parent plus one uncle")
	assert.Equal(t, parentID, siblings[0].ID)
	assert.Equal(t, "**Highlights**", siblings[1].Text)

	displays, err := f.st.ChildrenOf(ctx, siblings[1].ID)
	require.NoError(t, err)
	require.Len(t, displays, 2, "both highlights share the uncle")
	assert.Contains(t, displays[0].Text, "first")
	assert.Contains(t, displays[1].Text, "second")
}

func TestAdded_CousinMode_ReusesRenamedContainer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.Default())

	// The slot after the owner's parent is already taken by a container
	// the user renamed. Position decides, not the heading text.
	require.NoError(t, f.st.CreateNode(ctx, grandID, outline.OrderLast, "My Highlights", "renam0001"))

	f.message(t, addedMsg("first", 1, 0))

	siblings, err := f.st.ChildrenOf(ctx, grandID)
	require.NoError(t, err)
	require.Len(t, siblings, 2, "no duplicate heading inserted")

	displays, err := f.st.ChildrenOf(ctx, "renam0001")
	require.NoError(t, err)
	require.Len(t, displays, 1)
	assert.Contains(t, displays[0].Text, "first")
}

func TestAdded_PrependWhenAppendDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := childConfig()
	cfg.AppendHighlight = false
	f := newFixture(t, cfg)

	f.message(t, addedMsg("first", 1, 0))
	f.message(t, addedMsg("second", 1, 0))

	children, err := f.st.ChildrenOf(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Contains(t, children[0].Text, "second")
	assert.Contains(t, children[1].Text, "first")
}

func TestAdded_ImageHighlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, childConfig())

	f.message(t, protocol.Inbound{
		ActionType: protocol.ActionAdded,
		Highlight: protocol.InboundHighlight{
			Position: &highlight.Position{
				BoundingRect: highlight.Rect{X1: 1, Y1: 2, X2: 3, Y2: 4},
				PageNumber:   7,
			},
			Color:    2,
			ImageURL: "https://example.com/clip.png",
		},
	})

	children, err := f.st.ChildrenOf(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Contains(t, children[0].Text, "![](https://example.com/clip.png)")
	assert.NotContains(t, children[0].Text, "^^")
}

func TestAdded_ColorLandsInRecordNotDisplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, childConfig())

	f.message(t, addedMsg("foo", 3, 2))

	children, err := f.st.ChildrenOf(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	// Only an updated event introduces the marker.
	assert.NotContains(t, children[0].Text, "#h:")
	assert.NotContains(t, children[0].Text, "^^")

	hl, ok, err := f.eng.Records().ReadRecord(ctx, "id0000002")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, hl.Color)
}

func TestAdded_CitationAndBlockquote(t *testing.T) {
	ctx := context.Background()
	cfg := childConfig()
	cfg.CitationFormat = "[${Citekey}, p. ${page}]"
	cfg.BlockquotePrefix = ">"
	f := newFixture(t, cfg)

	require.NoError(t, f.st.CreateNode(ctx, ownerID, outline.OrderLast, "Citekey: Doe2020", "citek0001"))
	require.NoError(t, f.st.CreateNode(ctx, ownerID, outline.OrderLast, "Page Offset: 10", "offse0001"))

	f.message(t, addedMsg("quoted", 13, 0))

	children, err := f.st.ChildrenOf(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, children, 3)
	text := children[2].Text
	// The citation loses its whitespace and cites the printed page.
	assert.Contains(t, text, "> quoted[Doe2020,p.3] {{13: ")
}

func TestAdded_UsesSurfaceAllocatedID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, childConfig())

	msg := addedMsg("foo", 1, 0)
	msg.Highlight.ID = "viewr0001"
	f.message(t, msg)

	children, err := f.st.ChildrenOf(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "viewr0001", children[0].ID)
}

func TestAdded_Clipboard(t *testing.T) {
	f := newFixture(t, childConfig())
	f.message(t, addedMsg("foo", 1, 0))

	require.Len(t, f.clip.texts, 1)
	assert.Equal(t, "((id0000001))", f.clip.texts[0])
}

func TestAdded_ClipboardRawContent(t *testing.T) {
	cfg := childConfig()
	cfg.CopyBlockRef = false
	f := newFixture(t, cfg)
	f.message(t, addedMsg("foo", 1, 0))

	require.Len(t, f.clip.texts, 1)
	assert.Equal(t, "foo", f.clip.texts[0])
}

func TestUpdated_RecolorIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, childConfig())
	f.message(t, addedMsg("foo", 3, 0))

	children, err := f.st.ChildrenOf(ctx, ownerID)
	require.NoError(t, err)
	displayID := children[0].ID

	recolor := protocol.Inbound{
		ActionType: protocol.ActionUpdated,
		Highlight:  protocol.InboundHighlight{ID: displayID, Color: 2},
	}
	f.message(t, recolor)

	text, ok, err := f.st.GetNode(ctx, displayID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, text, "#h:red^^foo^^")

	f.message(t, recolor)
	again, _, err := f.st.GetNode(ctx, displayID)
	require.NoError(t, err)
	assert.Equal(t, text, again, "reapplying a color must not stack markers")

	hl, ok, err := f.eng.Records().ReadRecord(ctx, "id0000002")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, hl.Color)
}

func TestUpdated_DisabledColorsIsNoop(t *testing.T) {
	ctx := context.Background()
	cfg := childConfig()
	cfg.ColorHighlights = false
	f := newFixture(t, cfg)
	f.message(t, addedMsg("foo", 3, 0))

	children, err := f.st.ChildrenOf(ctx, ownerID)
	require.NoError(t, err)
	before := children[0].Text

	f.message(t, protocol.Inbound{
		ActionType: protocol.ActionUpdated,
		Highlight:  protocol.InboundHighlight{ID: children[0].ID, Color: 3},
	})

	after, _, err := f.st.GetNode(ctx, children[0].ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeleted_RemovesDisplayAndRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, childConfig())
	f.message(t, addedMsg("foo", 3, 0))

	children, err := f.st.ChildrenOf(ctx, ownerID)
	require.NoError(t, err)
	displayID := children[0].ID

	del := protocol.Inbound{
		ActionType: protocol.ActionDeleted,
		Highlight:  protocol.InboundHighlight{ID: displayID},
	}
	f.message(t, del)

	_, ok, err := f.st.GetNode(ctx, displayID)
	require.NoError(t, err)
	assert.False(t, ok, "display node should be gone")
	_, ok, err = f.eng.Records().ReadRecord(ctx, "id0000002")
	require.NoError(t, err)
	assert.False(t, ok, "record row should be gone")

	// A repeated delete finds nothing and stays silent.
	f.message(t, del)
}

func TestOpenHighlight_PanelCooldown(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, childConfig(), WithNow(func() time.Time { return now }))

	open := protocol.Inbound{
		ActionType: protocol.ActionOpenHighlight,
		Highlight:  protocol.InboundHighlight{ID: "targt0001"},
	}
	f.message(t, open)
	f.message(t, open)
	assert.Equal(t, []string{"targt0001"}, f.panel.opened, "second open inside cooldown is dropped")

	now = now.Add(600 * time.Millisecond)
	f.message(t, open)
	assert.Len(t, f.panel.opened, 2)
}

func TestCopyRef_WritesNodeRef(t *testing.T) {
	f := newFixture(t, childConfig())
	f.message(t, addedMsg("foo", 3, 0))
	f.clip.texts = nil

	f.message(t, protocol.Inbound{
		ActionType: protocol.ActionCopyRef,
		Highlight:  protocol.InboundHighlight{ID: "id0000001"},
	})
	assert.Equal(t, []string{"((id0000001))"}, f.clip.texts)
}

func TestCopyRef_IgnoresClipboardContentMode(t *testing.T) {
	// The rawText clipboard mode only affects the added side effect; an
	// explicit copyRef always copies an embedded reference.
	cfg := childConfig()
	cfg.CopyBlockRef = false
	f := newFixture(t, cfg)
	f.message(t, addedMsg("foo", 3, 0))
	f.clip.texts = nil

	f.message(t, protocol.Inbound{
		ActionType: protocol.ActionCopyRef,
		Highlight:  protocol.InboundHighlight{ID: "id0000001"},
	})
	assert.Equal(t, []string{"((id0000001))"}, f.clip.texts)
}

func TestAttach_PushesExistingHighlights(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, childConfig())
	f.message(t, addedMsg("foo", 3, 0))

	ch2 := channel.NewBuffered()
	err := f.eng.process(ctx, Event{Kind: KindAttach, Surface: Surface{
		Instance: "inst-2", Source: testSource, OwnerID: ownerID, Sender: ch2,
	}})
	require.NoError(t, err)

	msgs := ch2.Messages()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Highlights, 1)
	assert.Equal(t, "foo", msgs[0].Highlights[0].Content.Text)
}

func TestDetach_ForgetsSurface(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, childConfig())

	require.NoError(t, f.eng.process(ctx, Event{Kind: KindDetach, Instance: "inst-1"}))

	err := f.eng.process(ctx, Event{
		Kind: KindMessage, Instance: "inst-1", Message: addedMsg("foo", 1, 0),
	})
	assert.Error(t, err, "messages from a detached surface are rejected")
}

func TestPushDeleted_ReachesLiveSurface(t *testing.T) {
	f := newFixture(t, childConfig())

	f.eng.PushDeleted(testSource, highlight.Highlight{ID: "id0000001"})
	ev, ok := f.eng.queue.TryDequeue()
	require.True(t, ok)
	require.NoError(t, f.eng.process(context.Background(), ev))

	msgs := f.ch.Messages()
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[1].Deleted)
	assert.Equal(t, "id0000001", msgs[1].Deleted.ID)
}

func TestJumpTo_FallsBackToPanel(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, childConfig(), WithNow(func() time.Time { return now }))

	// No surface views this source, so the panel opens instead.
	f.eng.JumpTo("https://example.com/other.pdf", ownerID, highlight.Highlight{ID: "x"})
	ev, ok := f.eng.queue.TryDequeue()
	require.True(t, ok)
	require.NoError(t, f.eng.process(context.Background(), ev))

	assert.Equal(t, []string{ownerID}, f.panel.opened)
}

func TestRun_DrainsAndStopsOnClose(t *testing.T) {
	f := newFixture(t, childConfig())

	done := make(chan error, 1)
	go func() { done <- f.eng.Run(context.Background()) }()

	require.True(t, f.eng.Handle("inst-1", addedMsg("foo", 1, 0)))
	f.eng.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
}
