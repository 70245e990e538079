// Package resolver resolves contextual attributes for an owner node by
// scanning the scoping node's subtree for "Attribute: value" entries.
package resolver

import (
	"context"
	"strconv"
	"strings"

	"github.com/c3founder/roampdf/internal/outline"
)

// Mode selects where highlights are written, which also fixes the
// resolver's scoping node.
type Mode string

const (
	// ModeCousin writes highlights under a sibling-of-parent container;
	// attributes are scoped to the owner's grandparent subtree.
	ModeCousin Mode = "cousin"
	// ModeChild writes highlights directly under the owner node;
	// attributes are scoped to the owner's own subtree.
	ModeChild Mode = "child"
)

// Blank is returned when no ancestor carries the attribute. A single
// space, not empty: downstream templates substitute it verbatim.
const Blank = " "

// Citation attribute names fixed by the data convention.
const (
	citekeyAttribute    = "Citekey"
	pageOffsetAttribute = "Page Offset"
)

// Resolver memoizes attribute lookups per owner node for its lifetime.
// Edits to the source attribute after first resolution are not observed;
// call Invalidate to drop an owner's cached values.
type Resolver struct {
	outline outline.Store
	mode    Mode

	attrs   map[string]map[string]string // owner id -> attribute -> value
	offsets map[string]int               // owner id -> page offset
}

// New creates a resolver for the given output mode.
func New(o outline.Store, mode Mode) *Resolver {
	return &Resolver{
		outline: o,
		mode:    mode,
		attrs:   make(map[string]map[string]string),
		offsets: make(map[string]int),
	}
}

// Resolve returns the value of the named attribute for an owner node:
// the text after the colon of the first subtree entry beginning with
// "name:" (one or two colons accepted), or Blank when none matches.
func (r *Resolver) Resolve(ctx context.Context, ownerID, name string) (string, error) {
	if byName, ok := r.attrs[ownerID]; ok {
		if v, ok := byName[name]; ok {
			return v, nil
		}
	}

	scope, err := r.scopeFor(ctx, ownerID)
	if err != nil {
		return "", err
	}
	prefix := name + ":"
	texts, err := r.outline.AncestorsMatching(ctx, scope, func(text string) bool {
		return strings.HasPrefix(text, prefix)
	})
	if err != nil {
		return "", err
	}

	value := Blank
	if len(texts) > 0 {
		rest := texts[0][len(prefix):]
		rest = strings.TrimPrefix(rest, ":")
		value = strings.TrimLeft(rest, " \t")
	}

	if r.attrs[ownerID] == nil {
		r.attrs[ownerID] = make(map[string]string)
	}
	r.attrs[ownerID][name] = value
	return value, nil
}

// Citekey resolves the citation key for an owner node.
func (r *Resolver) Citekey(ctx context.Context, ownerID string) (string, error) {
	return r.Resolve(ctx, ownerID, citekeyAttribute)
}

// PageOffset resolves the page-number offset for an owner node. A
// missing or non-numeric attribute is an offset of zero.
func (r *Resolver) PageOffset(ctx context.Context, ownerID string) (int, error) {
	if off, ok := r.offsets[ownerID]; ok {
		return off, nil
	}
	raw, err := r.Resolve(ctx, ownerID, pageOffsetAttribute)
	if err != nil {
		return 0, err
	}
	off, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		off = 0
	}
	r.offsets[ownerID] = off
	return off, nil
}

// Invalidate drops every cached value for an owner node.
func (r *Resolver) Invalidate(ownerID string) {
	delete(r.attrs, ownerID)
	delete(r.offsets, ownerID)
}

// scopeFor picks the scoping node: the owner's grandparent in cousin
// mode (falling back to the owner when there is none), the owner itself
// in child mode.
func (r *Resolver) scopeFor(ctx context.Context, ownerID string) (string, error) {
	if r.mode != ModeCousin {
		return ownerID, nil
	}
	parent, ok, err := r.outline.ParentOf(ctx, ownerID)
	if err != nil || !ok {
		return ownerID, err
	}
	grand, ok, err := r.outline.ParentOf(ctx, parent)
	if err != nil || !ok {
		return ownerID, err
	}
	return grand, nil
}
