package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c3founder/roampdf/internal/channel"
	"github.com/c3founder/roampdf/internal/config"
	"github.com/c3founder/roampdf/internal/highlight"
	"github.com/c3founder/roampdf/internal/idgen"
	"github.com/c3founder/roampdf/internal/outline"
	"github.com/c3founder/roampdf/internal/protocol"
	"github.com/c3founder/roampdf/internal/records"
	"github.com/c3founder/roampdf/internal/resolver"
)

// Surface describes one attached viewer instance.
type Surface struct {
	Instance string
	Source   string
	OwnerID  string
	Sender   channel.Sender
}

// Clipboard receives block references copied on behalf of a surface.
type Clipboard interface {
	Write(text string) error
}

// Panel opens the outline panel focused on a node when no live surface
// can scroll to a highlight.
type Panel interface {
	Open(nodeID string) error
}

type nopClipboard struct{}

func (nopClipboard) Write(string) error { return nil }

type nopPanel struct{}

func (nopPanel) Open(string) error { return nil }

// Engine is the single-writer loop that owns every outline mutation.
//
// External callers use Attach, Detach, SetActive, Handle and
// EnqueueTask to submit work; Run drains the queue from exactly one
// goroutine. See doc.go for the thread-safety model.
type Engine struct {
	outline outline.Store
	records *records.Store
	res     *resolver.Resolver
	cfg     config.Config

	queue *eventQueue
	ids   idgen.Generator
	now   func() time.Time
	log   *slog.Logger

	clipboard Clipboard
	panel     Panel

	// Loop-owned state. Touched only from Run.
	surfaces map[string]Surface   // instance id -> surface
	bySource map[string][]string  // source -> instance ids
	active   string               // instance id with focus, may be ""
	uncles   map[string]string    // owner id -> highlight parent node id
	lastPane map[string]time.Time // node id -> last panel open
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithIDs sets the node id generator. Tests pass a deterministic one.
func WithIDs(g idgen.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClipboard sets the clipboard host.
func WithClipboard(c Clipboard) Option {
	return func(e *Engine) { e.clipboard = c }
}

// WithPanel sets the panel host.
func WithPanel(p Panel) Option {
	return func(e *Engine) { e.panel = p }
}

// WithNow overrides the time source used for the panel cooldown.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given outline store and configuration.
func New(st outline.Store, cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		outline:   st,
		cfg:       cfg,
		queue:     newEventQueue(),
		ids:       idgen.Node(),
		now:       time.Now,
		log:       slog.Default(),
		clipboard: nopClipboard{},
		panel:     nopPanel{},
		surfaces:  make(map[string]Surface),
		bySource:  make(map[string][]string),
		uncles:    make(map[string]string),
		lastPane:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	mode := resolver.ModeChild
	if cfg.OutputAt == "cousin" {
		mode = resolver.ModeCousin
	}
	e.records = records.New(st, e.ids)
	e.res = resolver.New(st, mode)
	return e
}

// Records exposes the data record store sharing the engine's id
// generator. Used by the serve wiring and the watcher.
func (e *Engine) Records() *records.Store { return e.records }

// Resolver exposes the attribute resolver so affordance activation can
// share its per-owner cache.
func (e *Engine) Resolver() *resolver.Resolver { return e.res }

// NewNodeID allocates an outline node id from the engine's generator.
func (e *Engine) NewNodeID() string { return e.ids() }

// Attach registers a surface and schedules its initial highlight push.
// Thread-safe.
func (e *Engine) Attach(s Surface) bool {
	return e.queue.Enqueue(Event{Kind: KindAttach, Surface: s})
}

// Detach removes a surface whose channel closed. Thread-safe.
func (e *Engine) Detach(instance string) bool {
	return e.queue.Enqueue(Event{Kind: KindDetach, Instance: instance})
}

// SetActive marks a surface as focused. Thread-safe.
func (e *Engine) SetActive(instance string) bool {
	return e.queue.Enqueue(Event{Kind: KindFocus, Instance: instance})
}

// Handle submits an inbound message from a surface. Thread-safe.
func (e *Engine) Handle(instance string, msg protocol.Inbound) bool {
	return e.queue.Enqueue(Event{Kind: KindMessage, Instance: instance, Message: msg})
}

// EnqueueTask schedules a closure on the loop goroutine. The deletion
// watcher and the activation scheduler submit their store work through
// here so the single-writer guarantee holds. Thread-safe.
func (e *Engine) EnqueueTask(task func(ctx context.Context)) bool {
	return e.queue.Enqueue(Event{Kind: KindTask, Task: task})
}

// senderFor returns the sender of a live surface viewing source, or
// nil when none is attached. Reads loop-owned state; callers outside
// the loop reach it through an EnqueueTask closure.
func (e *Engine) senderFor(source string) channel.Sender {
	// Prefer the focused surface when it views this source.
	if s, ok := e.surfaces[e.active]; ok && s.Source == source {
		return s.Sender
	}
	for _, id := range e.bySource[source] {
		if s, ok := e.surfaces[id]; ok {
			return s.Sender
		}
	}
	return nil
}

// PushDeleted tells any live surface viewing source that a highlight
// is gone. Used by the removal watcher after a display node
// disappears from the outline. Thread-safe.
func (e *Engine) PushDeleted(source string, hl highlight.Highlight) bool {
	return e.EnqueueTask(func(ctx context.Context) {
		s := e.senderFor(source)
		if s == nil {
			return
		}
		if err := s.Send(ctx, protocol.Outbound{Deleted: &hl}); err != nil {
			e.log.Warn("deleted push failed", "source", source, "err", err)
		}
	})
}

// JumpTo scrolls a live surface viewing source to a highlight. With no
// live surface it falls back to opening the owner node in the panel,
// subject to the per-node cooldown. Thread-safe.
func (e *Engine) JumpTo(source, ownerID string, hl highlight.Highlight) bool {
	return e.EnqueueTask(func(ctx context.Context) {
		if s := e.senderFor(source); s != nil {
			if err := s.Send(ctx, protocol.Outbound{ScrollTo: &hl}); err != nil {
				e.log.Warn("scroll push failed", "source", source, "err", err)
			}
			return
		}
		now := e.now()
		if last, ok := e.lastPane[ownerID]; ok && now.Sub(last) < e.cfg.PanelCooldown.Std() {
			return
		}
		e.lastPane[ownerID] = now
		if err := e.panel.Open(ownerID); err != nil {
			e.log.Warn("panel open failed", "node", ownerID, "err", err)
		}
	})
}

// Run drains the queue until ctx is cancelled or Close is called and
// the queue is empty. Must be called from exactly one goroutine.
//
// Handler errors are logged and processing continues; a failed message
// must not wedge the loop for every attached surface.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting")

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			if err := e.process(ctx, ev); err != nil {
				e.log.Error("event failed",
					"kind", ev.Kind,
					"instance", ev.Instance,
					"action", ev.Message.ActionType,
					"err", err,
				)
			}
			continue
		}

		// Closed and drained: no further signal is coming.
		if e.queue.Closed() {
			e.log.Info("engine stopping", "reason", "queue closed")
			return nil
		}

		select {
		case <-ctx.Done():
			e.queue.Close()
			e.log.Info("engine stopping", "reason", "context cancelled")
			return ctx.Err()
		case <-e.queue.Wait():
		}
	}
}

// Close stops accepting events and lets Run drain and return.
func (e *Engine) Close() {
	e.queue.Close()
}

func (e *Engine) process(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindMessage:
		return e.handleMessage(ctx, ev.Instance, ev.Message)
	case KindAttach:
		return e.handleAttach(ctx, ev.Surface)
	case KindDetach:
		e.handleDetach(ev.Instance)
		return nil
	case KindFocus:
		if _, ok := e.surfaces[ev.Instance]; ok {
			e.active = ev.Instance
		}
		return nil
	case KindTask:
		if ev.Task == nil {
			return fmt.Errorf("task event without closure")
		}
		ev.Task(ctx)
		return nil
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

func (e *Engine) handleAttach(ctx context.Context, s Surface) error {
	e.surfaces[s.Instance] = s
	e.bySource[s.Source] = append(e.bySource[s.Source], s.Instance)
	e.active = s.Instance
	e.log.Debug("surface attached", "instance", s.Instance, "source", s.Source)

	// Push everything already recorded for this source so the viewer
	// can paint existing highlights.
	page, ok, err := e.records.PageForSource(ctx, s.Source)
	if err != nil {
		return fmt.Errorf("attach %s: %w", s.Instance, err)
	}
	if !ok {
		return s.Sender.Send(ctx, protocol.Outbound{})
	}
	slots, err := e.records.PageSlots(ctx, page)
	if err != nil {
		return fmt.Errorf("attach %s: %w", s.Instance, err)
	}
	hls, err := e.records.ReadAllRecords(ctx, slots.TableID)
	if err != nil {
		return fmt.Errorf("attach %s: %w", s.Instance, err)
	}
	return s.Sender.Send(ctx, protocol.Outbound{Highlights: hls})
}

func (e *Engine) handleDetach(instance string) {
	s, ok := e.surfaces[instance]
	if !ok {
		return
	}
	delete(e.surfaces, instance)
	ids := e.bySource[s.Source]
	for i, id := range ids {
		if id == instance {
			e.bySource[s.Source] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(e.bySource[s.Source]) == 0 {
		delete(e.bySource, s.Source)
	}
	if e.active == instance {
		e.active = ""
	}
	e.log.Debug("surface detached", "instance", instance, "source", s.Source)
}

func (e *Engine) handleMessage(ctx context.Context, instance string, msg protocol.Inbound) error {
	s, ok := e.surfaces[instance]
	if !ok {
		return fmt.Errorf("message from unknown surface %s", instance)
	}
	// Any message implies the surface has the user's attention.
	e.active = instance

	switch msg.ActionType {
	case protocol.ActionAdded:
		return e.handleAdded(ctx, s, msg)
	case protocol.ActionUpdated:
		return e.handleUpdated(ctx, s, msg)
	case protocol.ActionDeleted:
		return e.handleDeleted(ctx, s, msg)
	case protocol.ActionOpenHighlight:
		return e.handleOpenHighlight(ctx, msg)
	case protocol.ActionCopyRef:
		return e.handleCopyRef(ctx, s, msg)
	default:
		return fmt.Errorf("unhandled action %q", msg.ActionType)
	}
}
