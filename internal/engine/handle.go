package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/c3founder/roampdf/internal/outline"
	"github.com/c3founder/roampdf/internal/protocol"
	"github.com/c3founder/roampdf/internal/records"
	"github.com/c3founder/roampdf/internal/reftoken"
	"github.com/c3founder/roampdf/internal/resolver"
)

// addedAliasLabel is the alias label stamped on new display nodes. A
// single space keeps the alias invisible while preserving the grammar.
const addedAliasLabel = " "

func (e *Engine) handleAdded(ctx context.Context, s Surface, msg protocol.Inbound) error {
	hl := msg.Highlight
	if hl.Position == nil {
		return fmt.Errorf("added without position")
	}
	pos := *hl.Position
	pos.NormalizeRects()

	content := ""
	if hl.Content != nil {
		content = hl.Content.Text
	}
	if hl.ImageURL != "" {
		content = reftoken.Image(hl.ImageURL)
	}

	parentID, err := e.uncleFor(ctx, s.OwnerID)
	if err != nil {
		return fmt.Errorf("added: %w", err)
	}

	// The surface allocates the display id so it can address the
	// highlight before the reply round-trips.
	displayID := hl.ID
	if displayID == "" {
		displayID = e.ids()
	}
	rowID := e.records.NewRowID()

	body := content
	citation, err := e.citationFor(ctx, s.OwnerID, pos.PageNumber)
	if err != nil {
		return fmt.Errorf("added: %w", err)
	}
	body += citation

	// The display text starts unmarked; color markers only ever appear
	// through an updated event. The payload color still lands in the
	// record below.
	d := reftoken.Display{
		Prefix:     e.cfg.BlockquotePrefix,
		Body:       body,
		Page:       pos.PageNumber,
		RowID:      rowID,
		AliasLabel: addedAliasLabel,
		OwnerID:    s.OwnerID,
	}

	order := 0
	if e.cfg.AppendHighlight {
		order = outline.OrderLast
	}
	// Display first. A crash between the two writes leaves a display
	// node whose ref token points nowhere, which readers skip; the
	// reverse order would leave an invisible record.
	if err := e.outline.CreateNode(ctx, parentID, order, d.Render(), displayID); err != nil {
		return fmt.Errorf("added: create display: %w", err)
	}

	tableID, err := e.records.GetOrCreateDataPage(ctx, s.Source, s.OwnerID)
	if err != nil {
		return fmt.Errorf("added: %w", err)
	}
	info := records.Info{Position: pos, Color: hl.Color}
	if err := e.records.AppendRecord(ctx, tableID, rowID, displayID, info, content); err != nil {
		return fmt.Errorf("added: append record: %w", err)
	}

	clip := content
	if e.cfg.CopyBlockRef {
		clip = reftoken.NodeRef(displayID)
	}
	if err := e.clipboard.Write(clip); err != nil {
		e.log.Warn("clipboard write failed", "err", err)
	}

	all, err := e.records.ReadAllRecords(ctx, tableID)
	if err != nil {
		return fmt.Errorf("added: %w", err)
	}
	e.log.Debug("highlight added",
		"source", s.Source, "display", displayID, "row", rowID, "page", pos.PageNumber)
	return s.Sender.Send(ctx, protocol.Outbound{Highlights: all})
}

func (e *Engine) handleUpdated(ctx context.Context, s Surface, msg protocol.Inbound) error {
	if !e.cfg.ColorHighlights {
		return nil
	}
	displayID := msg.Highlight.ID
	text, ok, err := e.outline.GetNode(ctx, displayID)
	if err != nil {
		return fmt.Errorf("updated: %w", err)
	}
	if !ok {
		// Display already gone; the removal watcher owns this case.
		return nil
	}
	d, ok := reftoken.ParseDisplay(text)
	if !ok {
		return fmt.Errorf("updated: node %s is not a highlight", displayID)
	}
	d.Color = msg.Highlight.Color
	if err := e.outline.UpdateNode(ctx, displayID, d.Render()); err != nil {
		return fmt.Errorf("updated: rewrite display: %w", err)
	}
	if err := e.records.UpdateColor(ctx, d.RowID, msg.Highlight.Color); err != nil {
		return fmt.Errorf("updated: %w", err)
	}
	e.log.Debug("highlight recolored", "display", displayID, "color", msg.Highlight.Color)
	return nil
}

func (e *Engine) handleDeleted(ctx context.Context, s Surface, msg protocol.Inbound) error {
	displayID := msg.Highlight.ID

	rowID := ""
	if text, ok, err := e.outline.GetNode(ctx, displayID); err != nil {
		return fmt.Errorf("deleted: %w", err)
	} else if ok {
		if d, ok := reftoken.ParseDisplay(text); ok {
			rowID = d.RowID
		}
	}
	if rowID == "" {
		// Display node gone or unparsable; look the row up by the
		// display id it carries.
		id, err := e.rowByDisplay(ctx, s.Source, displayID)
		if err != nil {
			return fmt.Errorf("deleted: %w", err)
		}
		rowID = id
	}

	if err := e.outline.DeleteNode(ctx, displayID); err != nil {
		return fmt.Errorf("deleted: remove display: %w", err)
	}
	if rowID != "" {
		if err := e.outline.DeleteNode(ctx, rowID); err != nil {
			return fmt.Errorf("deleted: remove record: %w", err)
		}
	}
	e.log.Debug("highlight deleted", "display", displayID, "row", rowID)
	return nil
}

func (e *Engine) handleOpenHighlight(ctx context.Context, msg protocol.Inbound) error {
	displayID := msg.Highlight.ID
	now := e.now()
	if last, ok := e.lastPane[displayID]; ok && now.Sub(last) < e.cfg.PanelCooldown.Std() {
		return nil
	}
	e.lastPane[displayID] = now
	return e.panel.Open(displayID)
}

// handleCopyRef always copies an embedded reference; the clipboard
// content mode only governs what an added highlight leaves behind.
func (e *Engine) handleCopyRef(_ context.Context, _ Surface, msg protocol.Inbound) error {
	return e.clipboard.Write(reftoken.NodeRef(msg.Highlight.ID))
}

// rowByDisplay scans the source's data table for the row carrying a
// display id. Returns "" when the source has no data page or no such
// row.
func (e *Engine) rowByDisplay(ctx context.Context, source, displayID string) (string, error) {
	pageID, ok, err := e.records.PageForSource(ctx, source)
	if err != nil || !ok {
		return "", err
	}
	slots, err := e.records.PageSlots(ctx, pageID)
	if err != nil {
		return "", err
	}
	rows, err := e.outline.ChildrenOf(ctx, slots.TableID)
	if err != nil {
		return "", err
	}
	for _, r := range rows {
		if r.Text == displayID {
			return r.ID, nil
		}
	}
	return "", nil
}

// uncleFor resolves the container display nodes are written under. In
// child mode that is the owner itself. In cousin mode it is the
// grandparent's child right after the owner's parent, created with the
// configured heading when absent. Owners too shallow for a grandparent
// fall back to child placement.
func (e *Engine) uncleFor(ctx context.Context, ownerID string) (string, error) {
	if e.cfg.OutputAt != "cousin" {
		return ownerID, nil
	}
	if cached, ok := e.uncles[ownerID]; ok {
		if _, alive, err := e.outline.GetNode(ctx, cached); err != nil {
			return "", err
		} else if alive {
			return cached, nil
		}
		delete(e.uncles, ownerID)
	}

	parentID, ok, err := e.outline.ParentOf(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return ownerID, nil
	}
	grandID, ok, err := e.outline.ParentOf(ctx, parentID)
	if err != nil {
		return "", err
	}
	if !ok {
		return ownerID, nil
	}

	siblings, err := e.outline.ChildrenOf(ctx, grandID)
	if err != nil {
		return "", err
	}
	parentOrder := -1
	for _, sib := range siblings {
		if sib.ID == parentID {
			parentOrder = sib.Order
			break
		}
	}
	if parentOrder < 0 {
		return "", fmt.Errorf("uncle: parent %s not under %s", parentID, grandID)
	}
	// Whatever sits right after the owner's parent is the container,
	// whatever its text says; a renamed heading keeps collecting.
	for _, sib := range siblings {
		if sib.Order == parentOrder+1 {
			e.uncles[ownerID] = sib.ID
			return sib.ID, nil
		}
	}

	uncleID := e.ids()
	if err := e.outline.CreateNode(ctx, grandID, parentOrder+1, e.cfg.HighlightHeading, uncleID); err != nil {
		return "", err
	}
	e.uncles[ownerID] = uncleID
	return uncleID, nil
}

// citationFor renders the configured citation template for a page.
// Empty when the feature is off or the owner carries no citekey.
func (e *Engine) citationFor(ctx context.Context, ownerID string, page int) (string, error) {
	if e.cfg.CitationFormat == "" {
		return "", nil
	}
	citekey, err := e.res.Citekey(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if citekey == resolver.Blank {
		return "", nil
	}
	offset, err := e.res.PageOffset(ctx, ownerID)
	if err != nil {
		return "", err
	}
	// The offset maps viewer page numbers back to the printed numbering.
	out := strings.ReplaceAll(e.cfg.CitationFormat, "${Citekey}", citekey)
	out = strings.ReplaceAll(out, "${page}", strconv.Itoa(page-offset))
	// The rendered citation carries no whitespace, so the display grammar
	// treats content plus citation as one body span.
	return strings.Join(strings.Fields(out), ""), nil
}
