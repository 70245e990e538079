// Package activation drives the affordances attached to highlight
// display nodes: the breadcrumb, the jump-to-viewer action, the
// reference replacement actions, and the reading-order sort. Hosts arm
// a node when it enters the outline viewport and report visibility
// crossings; everything that touches the store runs on the engine loop.
package activation

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/c3founder/roampdf/internal/config"
	"github.com/c3founder/roampdf/internal/engine"
	"github.com/c3founder/roampdf/internal/highlight"
	"github.com/c3founder/roampdf/internal/outline"
	"github.com/c3founder/roampdf/internal/reftoken"
)

// Active is the computed affordance state for one visible display node.
type Active struct {
	DisplayID  string
	RowID      string
	OwnerID    string
	Source     string
	Page       int
	Breadcrumb string
}

// Scheduler tracks armed display nodes and activates them when their
// visibility crosses the configured threshold.
type Scheduler struct {
	eng     *engine.Engine
	outline outline.Store
	cfg     config.Config
	log     *slog.Logger

	mu       sync.Mutex
	armed    map[string]bool
	onActive func(Active)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New creates a Scheduler bound to an engine and its outline store.
func New(eng *engine.Engine, st outline.Store, cfg config.Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		eng:     eng,
		outline: st,
		cfg:     cfg,
		log:     slog.Default(),
		armed:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnActive registers the callback receiving computed activations. The
// callback runs on the engine loop and must not block.
func (s *Scheduler) OnActive(fn func(Active)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onActive = fn
}

// Threshold is the intersection ratio at which an armed node activates.
func (s *Scheduler) Threshold() float64 { return s.cfg.ActivationThreshold }

// LookaheadMargin is the viewport extension, in pixels, hosts apply in
// the scroll direction before reporting visibility.
func (s *Scheduler) LookaheadMargin() int { return s.cfg.LookaheadMargin }

// Arm registers a display node for activation. Thread-safe.
func (s *Scheduler) Arm(displayID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed[displayID] = true
}

// Disarm forgets a display node, for example when it scrolls out or is
// deleted. Thread-safe.
func (s *Scheduler) Disarm(displayID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, displayID)
}

// VisibilityCrossing reports a visibility ratio for a node. When the
// node is armed and the ratio reaches the threshold, it is disarmed and
// its activation is computed on the engine loop. Returns whether an
// activation was scheduled. Thread-safe.
func (s *Scheduler) VisibilityCrossing(displayID string, ratio float64) bool {
	if ratio < s.cfg.ActivationThreshold {
		return false
	}
	s.mu.Lock()
	if !s.armed[displayID] {
		s.mu.Unlock()
		return false
	}
	delete(s.armed, displayID)
	s.mu.Unlock()

	return s.eng.EnqueueTask(func(ctx context.Context) {
		a, ok, err := s.activate(ctx, displayID)
		if err != nil {
			s.log.Error("activation failed", "display", displayID, "err", err)
			return
		}
		if !ok {
			return
		}
		s.mu.Lock()
		fn := s.onActive
		s.mu.Unlock()
		if fn != nil {
			fn(a)
		}
	})
}

// activate computes the affordance state. Runs on the engine loop.
func (s *Scheduler) activate(ctx context.Context, displayID string) (Active, bool, error) {
	text, ok, err := s.outline.GetNode(ctx, displayID)
	if err != nil || !ok {
		return Active{}, false, err
	}
	d, ok := reftoken.ParseDisplay(text)
	if !ok {
		return Active{}, false, nil
	}

	a := Active{
		DisplayID: displayID,
		RowID:     d.RowID,
		OwnerID:   d.OwnerID,
		Page:      d.Page,
	}
	if source, ok := s.ownerSource(ctx, d.OwnerID); ok {
		a.Source = source
	}

	crumb, err := s.eng.Resolver().Resolve(ctx, d.OwnerID, s.cfg.BreadcrumbAttribute)
	if err != nil {
		return Active{}, false, err
	}
	// The breadcrumb shows the viewer's page number, not the printed one.
	a.Breadcrumb = crumb + "/Pg" + strconv.Itoa(d.Page)
	return a, true, nil
}

// Jump scrolls a live viewer to the highlight behind a display node,
// falling back to opening the owner in the panel. Thread-safe.
func (s *Scheduler) Jump(displayID string) {
	s.eng.EnqueueTask(func(ctx context.Context) {
		text, ok, err := s.outline.GetNode(ctx, displayID)
		if err != nil || !ok {
			return
		}
		d, ok := reftoken.ParseDisplay(text)
		if !ok {
			return
		}
		hl, ok, err := s.eng.Records().ReadRecord(ctx, d.RowID)
		if err != nil || !ok {
			return
		}
		source, _ := s.ownerSource(ctx, d.OwnerID)
		s.eng.JumpTo(source, d.OwnerID, hl)
	})
}

// ReplaceWithText substitutes every reference to a display node inside
// nodeID with the highlight's display text. Disabled when no text glyph
// is configured. Thread-safe.
func (s *Scheduler) ReplaceWithText(nodeID, displayID string) {
	if s.cfg.TextGlyph == "" {
		return
	}
	s.eng.EnqueueTask(func(ctx context.Context) {
		s.replaceRef(ctx, nodeID, displayID, false)
	})
}

// ReplaceWithAlias substitutes every reference to a display node inside
// nodeID with the display text plus an alias back to the display node.
// Disabled when no alias glyph is configured. Thread-safe.
func (s *Scheduler) ReplaceWithAlias(nodeID, displayID string) {
	if s.cfg.AliasGlyph == "" {
		return
	}
	s.eng.EnqueueTask(func(ctx context.Context) {
		s.replaceRef(ctx, nodeID, displayID, true)
	})
}

// replaceRef runs on the engine loop.
func (s *Scheduler) replaceRef(ctx context.Context, nodeID, displayID string, withAlias bool) {
	text, ok, err := s.outline.GetNode(ctx, nodeID)
	if err != nil || !ok {
		return
	}
	ref := reftoken.NodeRef(displayID)
	if !strings.Contains(text, ref) {
		return
	}
	displayText, ok, err := s.outline.GetNode(ctx, displayID)
	if err != nil || !ok {
		return
	}
	d, ok := reftoken.ParseDisplay(displayText)
	if !ok {
		return
	}
	replacement := d.BeforeTrail
	if withAlias {
		// The alias points back at the display node, so the replaced
		// reference stays navigable to the highlight.
		replacement += reftoken.Alias("*", displayID)
	}
	if err := s.outline.UpdateNode(ctx, nodeID, strings.ReplaceAll(text, ref, replacement)); err != nil {
		s.log.Error("reference replace failed", "node", nodeID, "err", err)
	}
}

// EnsureSortAffordance creates the sort label node at the top of a
// highlight container if it is not there yet. Thread-safe.
func (s *Scheduler) EnsureSortAffordance(containerID string) {
	if s.cfg.SortLabel == "" {
		return
	}
	s.eng.EnqueueTask(func(ctx context.Context) {
		children, err := s.outline.ChildrenOf(ctx, containerID)
		if err != nil {
			s.log.Error("sort affordance failed", "container", containerID, "err", err)
			return
		}
		for _, c := range children {
			if c.Text == s.cfg.SortLabel {
				return
			}
		}
		if err := s.outline.CreateNode(ctx, containerID, 0, s.cfg.SortLabel, s.eng.NewNodeID()); err != nil {
			s.log.Error("sort affordance failed", "container", containerID, "err", err)
		}
	})
}

// RequestSort rearranges a container's highlight children into reading
// order. Non-highlight children, the sort label included, keep their
// relative order at the front. Thread-safe.
func (s *Scheduler) RequestSort(containerID string) {
	s.eng.EnqueueTask(func(ctx context.Context) {
		s.sortHighlights(ctx, containerID)
	})
}

// sortHighlights runs on the engine loop.
func (s *Scheduler) sortHighlights(ctx context.Context, containerID string) {
	children, err := s.outline.ChildrenOf(ctx, containerID)
	if err != nil {
		s.log.Error("sort failed", "container", containerID, "err", err)
		return
	}

	var hls []highlight.Highlight
	for _, c := range children {
		d, ok := reftoken.ParseDisplay(c.Text)
		if !ok {
			continue
		}
		hl, ok, err := s.eng.Records().ReadRecord(ctx, d.RowID)
		if err != nil {
			s.log.Error("sort failed", "container", containerID, "err", err)
			return
		}
		if !ok {
			continue
		}
		// The record's id is the display node id, which is what the
		// move below needs.
		hl.ID = c.ID
		hls = append(hls, hl)
	}

	highlight.SortReadingOrder(hls)
	for _, hl := range hls {
		if err := s.outline.MoveNode(ctx, hl.ID, containerID, outline.OrderLast); err != nil {
			s.log.Error("sort move failed", "display", hl.ID, "err", err)
			return
		}
	}
	s.log.Debug("highlights sorted", "container", containerID, "count", len(hls))
}

// ownerSource reads the source identity out of an owner node's embed
// token.
func (s *Scheduler) ownerSource(ctx context.Context, ownerID string) (string, bool) {
	text, ok, err := s.outline.GetNode(ctx, ownerID)
	if err != nil || !ok {
		return "", false
	}
	return reftoken.ParseEmbed(text)
}
