// Package outline is the adapter for the hierarchical outline document
// store. The store offers linearizable single-node operations only: no
// foreign keys, no multi-node transactions, and no delete notifications.
// Everything the engine layers on top (record shapes, cascading cleanup)
// compensates for those missing guarantees.
package outline

import "context"

// OrderLast appends a node after its parent's current children.
const OrderLast = -1

// Node is one child entry as returned by ChildrenOf.
type Node struct {
	ID    string
	Order int
	Text  string
}

// TextTree is the nested text content of a subtree.
type TextTree struct {
	Text     string
	Children []TextTree
}

// Store is the outline store contract consumed by the engine. Absence is
// reported through the ok return, never as an error: addressing an id
// that no longer exists is an expected case, not an exceptional one.
type Store interface {
	// GetNode returns a node's text.
	GetNode(ctx context.Context, id string) (text string, ok bool, err error)

	// CreateNode creates a node under parentID at the given order
	// position (or OrderLast), shifting later siblings down.
	CreateNode(ctx context.Context, parentID string, order int, text, id string) error

	// UpdateNode wholesale-replaces a node's text.
	UpdateNode(ctx context.Context, id, text string) error

	// MoveNode reparents a node (subtree included) to parentID at the
	// given order, or OrderLast to append. Sibling orders on both sides
	// stay gapless.
	MoveNode(ctx context.Context, id, parentID string, order int) error

	// DeleteNode deletes a node and its subtree. Deleting an absent node
	// is a no-op.
	DeleteNode(ctx context.Context, id string) error

	// CreatePage creates a page with the given title and id. Pages act
	// as roots: CreateNode accepts a page id as parent.
	CreatePage(ctx context.Context, title, id string) error

	// DeletePage deletes a page and every node under it. Idempotent.
	DeletePage(ctx context.Context, id string) error

	// PageByTitle looks a page up by its exact title.
	PageByTitle(ctx context.Context, title string) (id string, ok bool, err error)

	// ParentOf returns the parent node of id. ok is false for roots,
	// page parents, and absent ids.
	ParentOf(ctx context.Context, id string) (parentID string, ok bool, err error)

	// PageOf returns the page a node ultimately lives under. ok is
	// false for absent ids and for orphaned subtrees.
	PageOf(ctx context.Context, id string) (pageID string, ok bool, err error)

	// ChildrenOf returns a node's (or page's) immediate children in
	// order.
	ChildrenOf(ctx context.Context, id string) ([]Node, error)

	// AncestorsMatching returns the text of every node whose ancestor
	// chain includes scopeID and whose text matches the predicate, in
	// depth-first order.
	AncestorsMatching(ctx context.Context, scopeID string, match func(text string) bool) ([]string, error)

	// SubtreeText returns the nested text contents rooted at id.
	SubtreeText(ctx context.Context, id string) (TextTree, bool, error)
}
