// Package watcher reacts to outline-side removals. Display nodes and
// owner embeds can vanish while the user reorganizes; each removal gets
// a grace period before the durable records follow, so a cut-and-paste
// never loses data.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/c3founder/roampdf/internal/config"
	"github.com/c3founder/roampdf/internal/engine"
	"github.com/c3founder/roampdf/internal/outline"
	"github.com/c3founder/roampdf/internal/reftoken"
)

// Clock abstracts timer scheduling so tests can advance time manually.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func())
}

// SystemClock is the wall-clock implementation.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// Watcher schedules grace-period checks for removed display nodes and
// removed owner embeds. All store access happens on the engine loop;
// the watcher itself only arms timers.
type Watcher struct {
	eng     *engine.Engine
	outline outline.Store
	cfg     config.Config
	clock   Clock
	log     *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// New creates a Watcher bound to an engine and its outline store.
func New(eng *engine.Engine, st outline.Store, cfg config.Config, opts ...Option) *Watcher {
	w := &Watcher{
		eng:     eng,
		outline: st,
		cfg:     cfg,
		clock:   SystemClock{},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ObserveRemovedDisplay arms the display grace period. lastText is the
// node's text at removal time; the record row and the owner are both
// recovered from its trail. If the node is back when the timer fires,
// nothing happens.
func (w *Watcher) ObserveRemovedDisplay(displayID, lastText string) {
	d, ok := reftoken.ParseDisplay(lastText)
	if !ok {
		// Not a highlight; nothing durable depends on it.
		return
	}
	w.clock.AfterFunc(w.cfg.DisplayGrace.Std(), func() {
		w.eng.EnqueueTask(func(ctx context.Context) {
			w.reapDisplay(ctx, displayID, d)
		})
	})
}

// reapDisplay runs on the engine loop after the grace period.
func (w *Watcher) reapDisplay(ctx context.Context, displayID string, d reftoken.Display) {
	if _, alive, err := w.outline.GetNode(ctx, displayID); err != nil {
		w.log.Error("display check failed", "display", displayID, "err", err)
		return
	} else if alive {
		// Restored within the grace period, for example by undo or by
		// a move that deleted and recreated the node.
		return
	}

	hl, ok, err := w.eng.Records().ReadRecord(ctx, d.RowID)
	if err != nil {
		w.log.Error("record read failed", "row", d.RowID, "err", err)
		return
	}
	if !ok {
		return
	}
	// The source comes from the data page, before the row goes: the
	// page's slot 0 survives edits to the owner node's text.
	source, haveSource, err := w.eng.Records().SourceForRow(ctx, d.RowID)
	if err != nil {
		w.log.Error("source lookup failed", "row", d.RowID, "err", err)
		return
	}
	if err := w.outline.DeleteNode(ctx, d.RowID); err != nil {
		w.log.Error("record delete failed", "row", d.RowID, "err", err)
		return
	}
	w.log.Debug("display reaped", "display", displayID, "row", d.RowID)

	// Tell any live viewer so the painted highlight disappears too.
	if haveSource {
		w.eng.PushDeleted(source, hl)
	}
}

// ObserveRemovedSurface arms the surface grace period for a removed
// owner embed. When the owner stays gone, the whole data page and every
// display node it references are removed.
func (w *Watcher) ObserveRemovedSurface(ownerID, source string) {
	w.clock.AfterFunc(w.cfg.SurfaceGrace.Std(), func() {
		w.eng.EnqueueTask(func(ctx context.Context) {
			w.reapSurface(ctx, ownerID, source)
		})
	})
}

// reapSurface runs on the engine loop after the grace period.
func (w *Watcher) reapSurface(ctx context.Context, ownerID, source string) {
	if _, alive, err := w.outline.GetNode(ctx, ownerID); err != nil {
		w.log.Error("owner check failed", "owner", ownerID, "err", err)
		return
	} else if alive {
		return
	}

	pageID, ok, err := w.eng.Records().PageForSource(ctx, source)
	if err != nil {
		w.log.Error("data page lookup failed", "source", source, "err", err)
		return
	}
	if !ok {
		return
	}
	slots, err := w.eng.Records().PageSlots(ctx, pageID)
	if err != nil {
		w.log.Error("data page read failed", "source", source, "err", err)
		return
	}
	rows, err := w.outline.ChildrenOf(ctx, slots.TableID)
	if err != nil {
		w.log.Error("table read failed", "source", source, "err", err)
		return
	}
	for _, row := range rows {
		// The row text is the display node id.
		if err := w.outline.DeleteNode(ctx, row.Text); err != nil {
			w.log.Error("display delete failed", "display", row.Text, "err", err)
		}
	}
	if err := w.outline.DeletePage(ctx, pageID); err != nil {
		w.log.Error("data page delete failed", "source", source, "err", err)
		return
	}
	w.log.Debug("surface reaped", "owner", ownerID, "source", source, "rows", len(rows))
}

