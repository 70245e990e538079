// Package highlight defines the highlight value types shared by the
// protocol, the data record store, and the sort engine.
//
// A Highlight is ephemeral: it is recomputed on every read from its
// durable data record and never persisted as a unit.
package highlight

// Rect is an axis-aligned rectangle in page coordinates.
// Width and Height are carried through from the annotation surface when
// present; the sort engine only looks at the corner coordinates.
type Rect struct {
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Position locates a highlight on a page of the annotated document.
type Position struct {
	BoundingRect Rect   `json:"boundingRect"`
	Rects        []Rect `json:"rects"`
	PageNumber   int    `json:"pageNumber"`
}

// Content is the captured payload of a highlight: selected text, or an
// image reference rendered as markdown by the engine.
type Content struct {
	Text string `json:"text"`
}

// Highlight is one annotation as exchanged with the annotation surface.
// ID is the display node's id in the outline store.
type Highlight struct {
	ID       string   `json:"id"`
	Content  Content  `json:"content"`
	Position Position `json:"position"`
	Color    int      `json:"color"`
}

// NormalizeRects applies the degenerate-geometry fallback: a position
// reported with no rects gets a single rect equal to its bounding rect.
func (p *Position) NormalizeRects() {
	if len(p.Rects) == 0 {
		p.Rects = []Rect{p.BoundingRect}
	}
}
