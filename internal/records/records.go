// Package records owns the durable representation of highlights inside
// per-document data pages.
//
// A data page is keyed by a deterministic hash of the source identity and
// holds exactly three ordered slots: the source identity string, the
// owner node id, and the data table root. Each table row is a fixed
// three-level record:
//
//	row (text = display node id)
//	└── info (text = JSON {"position":…,"color":n})
//	    └── content (text = highlight text or image markdown)
//
// Highlights are never persisted as a unit; they are re-derived from
// records on every read.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"

	"github.com/c3founder/roampdf/internal/highlight"
	"github.com/c3founder/roampdf/internal/idgen"
	"github.com/c3founder/roampdf/internal/outline"
)

// pageTitlePrefix namespaces data pages away from user-authored pages.
const pageTitlePrefix = "roam/js/pdf/data/"

// TableMarker is the text of the table root slot.
const TableMarker = "{{table}}"

// SourceHash computes the 32-bit rolling hash of a source identity over
// its UTF-16 code units. The algorithm is fixed: page titles derived from
// it address existing data pages, so it must never change. The input is
// NFC-normalized first so equivalent unicode spellings hash alike.
func SourceHash(source string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(norm.NFC.String(source))) {
		h = h<<5 - h + int32(u)
	}
	return h
}

// DataPageTitle returns the title of the data page for a source identity.
func DataPageTitle(source string) string {
	return pageTitlePrefix + strconv.FormatInt(int64(SourceHash(source)), 10)
}

// Info is the durable position-and-color payload of one record.
type Info struct {
	Position highlight.Position `json:"position"`
	Color    int                `json:"color"`
}

// Encode renders the info payload in its wrapped form. Legacy bare
// positions are upgraded to this form whenever a record is rewritten.
func (i Info) Encode() (string, error) {
	b, err := json.Marshal(i)
	if err != nil {
		return "", fmt.Errorf("encode record info: %w", err)
	}
	return string(b), nil
}

// DecodeInfo parses an info payload, accepting the legacy form: JSON that
// lacks a "position" key is the position itself and the color defaults
// to 0. Malformed JSON returns ok=false.
func DecodeInfo(raw string) (Info, bool) {
	var wrapped struct {
		Position *highlight.Position `json:"position"`
		Color    int                 `json:"color"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && wrapped.Position != nil {
		return Info{Position: *wrapped.Position, Color: wrapped.Color}, true
	}
	var pos highlight.Position
	if err := json.Unmarshal([]byte(raw), &pos); err != nil {
		return Info{}, false
	}
	return Info{Position: pos, Color: 0}, true
}

// Slots are the three fixed children of a data page.
type Slots struct {
	Source  string // slot 0: source identity
	OwnerID string // slot 1: owner node id
	TableID string // slot 2: data table root node id
}

// Store reads and writes data pages through the outline store.
type Store struct {
	outline outline.Store
	ids     idgen.Generator
}

// New creates a record store. ids allocates outline node ids.
func New(o outline.Store, ids idgen.Generator) *Store {
	return &Store{outline: o, ids: ids}
}

// GetOrCreateDataPage returns the table root for a source identity,
// creating the three-slot page on first use. Creation is three
// sequential writes with no compensating transaction; an interruption
// can leave a partial page, which is accepted, not repaired.
func (s *Store) GetOrCreateDataPage(ctx context.Context, source, ownerID string) (string, error) {
	title := DataPageTitle(source)
	pageID, ok, err := s.outline.PageByTitle(ctx, title)
	if err != nil {
		return "", err
	}
	if ok {
		slots, err := s.PageSlots(ctx, pageID)
		if err != nil {
			return "", err
		}
		return slots.TableID, nil
	}

	pageID = s.ids()
	if err := s.outline.CreatePage(ctx, title, pageID); err != nil {
		return "", err
	}
	if err := s.outline.CreateNode(ctx, pageID, 0, source, s.ids()); err != nil {
		return "", err
	}
	if err := s.outline.CreateNode(ctx, pageID, 1, ownerID, s.ids()); err != nil {
		return "", err
	}
	tableID := s.ids()
	if err := s.outline.CreateNode(ctx, pageID, 2, TableMarker, tableID); err != nil {
		return "", err
	}
	return tableID, nil
}

// PageForSource looks up the data page without creating it.
func (s *Store) PageForSource(ctx context.Context, source string) (string, bool, error) {
	return s.outline.PageByTitle(ctx, DataPageTitle(source))
}

// PageSlots reads the three fixed slots of a data page. A page missing a
// slot is a partial write; the missing slot comes back empty.
func (s *Store) PageSlots(ctx context.Context, pageID string) (Slots, error) {
	children, err := s.outline.ChildrenOf(ctx, pageID)
	if err != nil {
		return Slots{}, err
	}
	var slots Slots
	for _, c := range children {
		switch c.Order {
		case 0:
			slots.Source = c.Text
		case 1:
			slots.OwnerID = c.Text
		case 2:
			slots.TableID = c.ID
		}
	}
	return slots, nil
}

// AppendRecord writes one record into the table: row, then info, then
// content, each prepended at order 0. The caller allocates rowID so the
// display node's reference token can be rendered before this write.
func (s *Store) AppendRecord(ctx context.Context, tableRootID, rowID, displayID string, info Info, content string) error {
	encoded, err := info.Encode()
	if err != nil {
		return err
	}
	if err := s.outline.CreateNode(ctx, tableRootID, 0, displayID, rowID); err != nil {
		return err
	}
	infoID := s.ids()
	if err := s.outline.CreateNode(ctx, rowID, 0, encoded, infoID); err != nil {
		return err
	}
	return s.outline.CreateNode(ctx, infoID, 0, content, s.ids())
}

// UpdateColor rewrites a record's info payload with a new color. A
// legacy bare-position payload comes out wrapped.
func (s *Store) UpdateColor(ctx context.Context, rowID string, color int) error {
	children, err := s.outline.ChildrenOf(ctx, rowID)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return fmt.Errorf("record %s: no info node", rowID)
	}
	info, ok := DecodeInfo(children[0].Text)
	if !ok {
		return fmt.Errorf("record %s: malformed info", rowID)
	}
	info.Color = color
	encoded, err := info.Encode()
	if err != nil {
		return err
	}
	return s.outline.UpdateNode(ctx, children[0].ID, encoded)
}

// SourceForRow resolves a row's source identity by climbing to its data
// page and reading slot 0. This survives edits to the owner node's text,
// which the page copy does not depend on.
func (s *Store) SourceForRow(ctx context.Context, rowID string) (string, bool, error) {
	pageID, ok, err := s.outline.PageOf(ctx, rowID)
	if err != nil || !ok {
		return "", false, err
	}
	slots, err := s.PageSlots(ctx, pageID)
	if err != nil {
		return "", false, err
	}
	return slots.Source, slots.Source != "", nil
}

// NewRowID allocates a data row id.
func (s *Store) NewRowID() string {
	return s.ids()
}

// ReadAllRecords decodes every well-formed record in the table. Rows that
// fail to decode are skipped silently: they are not highlights.
func (s *Store) ReadAllRecords(ctx context.Context, tableRootID string) ([]highlight.Highlight, error) {
	tree, ok, err := s.outline.SubtreeText(ctx, tableRootID)
	if err != nil || !ok {
		return nil, err
	}
	out := make([]highlight.Highlight, 0, len(tree.Children))
	for _, row := range tree.Children {
		if hl, ok := decodeRecord(row); ok {
			out = append(out, hl)
		}
	}
	return out, nil
}

// ReadRecord decodes the record rooted at rowID.
func (s *Store) ReadRecord(ctx context.Context, rowID string) (highlight.Highlight, bool, error) {
	tree, ok, err := s.outline.SubtreeText(ctx, rowID)
	if err != nil || !ok {
		return highlight.Highlight{}, false, err
	}
	hl, ok := decodeRecord(tree)
	return hl, ok, nil
}

// decodeRecord maps a row subtree to a Highlight. The row text is the
// display node id, which doubles as the highlight id.
func decodeRecord(row outline.TextTree) (highlight.Highlight, bool) {
	if len(row.Children) == 0 || len(row.Children[0].Children) == 0 {
		return highlight.Highlight{}, false
	}
	info, ok := DecodeInfo(row.Children[0].Text)
	if !ok {
		return highlight.Highlight{}, false
	}
	return highlight.Highlight{
		ID:       row.Text,
		Content:  highlight.Content{Text: row.Children[0].Children[0].Text},
		Position: info.Position,
		Color:    info.Color,
	}, true
}
