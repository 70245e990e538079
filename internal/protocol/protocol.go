// Package protocol defines the JSON message protocol between the engine
// and annotation surfaces.
//
// The channel is asynchronous, at-most-once, and unordered; both sides
// tolerate messages that arrive after their subject is gone.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/c3founder/roampdf/internal/highlight"
)

// ActionType selects the inbound message variant.
type ActionType string

const (
	ActionAdded         ActionType = "added"
	ActionUpdated       ActionType = "updated"
	ActionDeleted       ActionType = "deleted"
	ActionOpenHighlight ActionType = "openHlBlock"
	ActionCopyRef       ActionType = "copyRef"
)

// valid inbound action types.
var actionTypes = map[ActionType]bool{
	ActionAdded:         true,
	ActionUpdated:       true,
	ActionDeleted:       true,
	ActionOpenHighlight: true,
	ActionCopyRef:       true,
}

// InboundHighlight is the highlight payload of an inbound message. Which
// fields are meaningful depends on the action: added carries position,
// color, and content or image; updated carries id and color; the rest
// carry only id.
type InboundHighlight struct {
	ID       string              `json:"id"`
	Position *highlight.Position `json:"position,omitempty"`
	Color    int                 `json:"color,omitempty"`
	Content  *highlight.Content  `json:"content,omitempty"`
	ImageURL string              `json:"imageUrl,omitempty"`
}

// Inbound is a surface-to-engine message.
type Inbound struct {
	ActionType ActionType       `json:"actionType"`
	Highlight  InboundHighlight `json:"highlight"`
}

// Decode parses an inbound message and rejects unknown action types.
func Decode(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("decode message: %w", err)
	}
	if !actionTypes[msg.ActionType] {
		return Inbound{}, fmt.Errorf("decode message: unknown actionType %q", msg.ActionType)
	}
	return msg, nil
}

// Outbound is an engine-to-surface message. Exactly one field is set:
// Highlights on initial load, ScrollTo for a jump request, Deleted when
// a highlight's display node was removed on the host side.
type Outbound struct {
	Highlights []highlight.Highlight `json:"highlights,omitempty"`
	ScrollTo   *highlight.Highlight  `json:"scrollTo,omitempty"`
	Deleted    *highlight.Highlight  `json:"deleted,omitempty"`
}

// Encode renders an outbound message.
func (o Outbound) Encode() ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}
