package cardkit

import (
	"errors"
	"fmt"
	"log/slog"
)

// Engine errors.
var (
	// ErrUnknownWidget is returned when an engine operation names a card
	// that was never added or has been removed.
	ErrUnknownWidget = errors.New("cardkit: unknown widget")

	// ErrNotSuspended is returned by Resume for a card that is not
	// suspended.
	ErrNotSuspended = errors.New("cardkit: widget is not suspended")

	// ErrNotFlushed is returned by Suspend when the card is mid-frame.
	ErrNotFlushed = errors.New("cardkit: widget cannot suspend mid-frame")
)

// entry tracks one card's lifecycle position inside the engine.
type entry struct {
	name    string
	w       Widget
	state   LifecycleState
	skipped bool // degraded this frame; resources untouched until next frame
	resume  bool // suspended card asked to re-enter staging
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Coordinator is the shared resource coordinator. Required.
	Coordinator *ResourceCoordinator

	// Logger receives frame diagnostics. Nil uses the package logger.
	Logger *slog.Logger
}

// Engine drives every card through the frame lifecycle in strict global
// phase order: all Stage calls complete before any DeclareBuffers call,
// all declarations before the single commit, and so on. This ordering is
// what lets the allocators run without locks: there is never more than
// one writer on a shared region, and no writer observes a region that
// later changes shape within its epoch.
//
// A repack triggered by one card applies to the whole participant set in
// the same frame. Per-card failures degrade to a skipped card for that
// frame; the frame itself continues.
type Engine struct {
	rc      *ResourceCoordinator
	entries []*entry
	byName  map[string]*entry
	frame   uint64
	log     *slog.Logger
}

// NewEngine builds an engine over a coordinator.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("cardkit: engine requires a coordinator")
	}
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}
	return &Engine{
		rc:     cfg.Coordinator,
		byName: make(map[string]*entry),
		log:    log,
	}, nil
}

// Coordinator returns the engine's resource coordinator.
func (e *Engine) Coordinator() *ResourceCoordinator { return e.rc }

// Frame returns the number of completed RunFrame calls.
func (e *Engine) Frame() uint64 { return e.frame }

// Add registers a card under a unique name and binds the name to the
// card's metadata slot. The card enters the next frame from Idle.
func (e *Engine) Add(name string, w Widget) error {
	if _, ok := e.byName[name]; ok {
		return fmt.Errorf("%w: %q", ErrNameTaken, name)
	}
	if err := e.rc.Register(name, w.MetadataSlot()); err != nil {
		return err
	}
	ent := &entry{name: name, w: w, state: StateIdle}
	e.entries = append(e.entries, ent)
	e.byName[name] = ent
	e.log.Info("card added", "name", name, "slot", w.MetadataSlot())
	return nil
}

// Remove disposes a card and drops its name binding.
func (e *Engine) Remove(name string) error {
	ent, ok := e.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWidget, name)
	}
	ent.state = StateDisposed
	ent.w.Dispose(e.rc)
	e.rc.Deregister(name)
	delete(e.byName, name)
	for i, other := range e.entries {
		if other == ent {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			break
		}
	}
	e.log.Info("card removed", "name", name)
	return nil
}

// Suspend moves a card out of the frame set between frames. The card
// copies GPU-resident state back into private staging and releases its
// handles; Resume brings it back through Staging.
func (e *Engine) Suspend(name string) error {
	ent, ok := e.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWidget, name)
	}
	next, err := ent.state.Transition(StateSuspended)
	if err != nil {
		return fmt.Errorf("%w: %q in state %s", ErrNotFlushed, name, ent.state)
	}
	ent.state = next
	ent.w.Suspend(e.rc)
	e.log.Info("card suspended", "name", name)
	return nil
}

// Resume schedules a suspended card to re-enter Staging on the next
// frame.
func (e *Engine) Resume(name string) error {
	ent, ok := e.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWidget, name)
	}
	if ent.state != StateSuspended {
		return fmt.Errorf("%w: %q in state %s", ErrNotSuspended, name, ent.state)
	}
	ent.resume = true
	return nil
}

// State returns a card's current lifecycle state.
func (e *Engine) State(name string) (LifecycleState, error) {
	ent, ok := e.byName[name]
	if !ok {
		return StateIdle, fmt.Errorf("%w: %q", ErrUnknownWidget, name)
	}
	return ent.state, nil
}

// advance moves a card to the next phase, degrading it to skipped when
// the transition is illegal. Illegal transitions here are engine bugs,
// not card bugs, so they are logged at Error.
func (e *Engine) advance(ent *entry, next LifecycleState) bool {
	s, err := ent.state.Transition(next)
	if err != nil {
		e.log.Error("lifecycle transition rejected", "card", ent.name, "error", err)
		ent.skipped = true
		return false
	}
	ent.state = s
	return true
}

// skip degrades a card for the rest of the frame. Its resources are left
// untouched; the card gets another chance next frame.
func (e *Engine) skip(ent *entry, phase string, err error) {
	ent.skipped = true
	e.log.Warn("card skipped this frame", "card", ent.name, "phase", phase, "error", err)
}

// RunFrame drives one full frame:
//
//	stage all -> declare all -> commit once -> allocate all ->
//	pack atlas once -> write textures all -> finalize all -> flush
//
// Declare, commit and allocate run only when at least one card reports a
// realloc need, and then every active card participates: growth of a
// shared region relocates every live handle, so a partial repack is
// never safe. Finalize and flush run every frame.
func (e *Engine) RunFrame() error {
	active := e.beginFrame()

	// Staging: private memory only, no allocator access.
	for _, ent := range active {
		if !e.advance(ent, StateStaging) {
			continue
		}
		if err := ent.w.Stage(); err != nil {
			e.skip(ent, "stage", err)
		}
	}

	needBuf, needTex := false, false
	for _, ent := range active {
		if ent.skipped {
			continue
		}
		needBuf = needBuf || ent.w.NeedsBufferRealloc()
		needTex = needTex || ent.w.NeedsTextureRealloc()
	}

	if needBuf || needTex {
		e.reallocate(active, needBuf, needTex)
	}

	// Finalizing: every surviving card, every frame.
	for _, ent := range active {
		if ent.skipped {
			continue
		}
		if !e.advance(ent, StateFinalizing) {
			continue
		}
		if err := ent.w.Finalize(e.rc); err != nil {
			e.skip(ent, "finalize", err)
		}
	}

	flushErr := e.rc.Flush()

	for _, ent := range active {
		if ent.state != StateFlushed {
			e.advance(ent, StateFlushed)
		}
	}
	e.frame++
	if flushErr != nil {
		return fmt.Errorf("cardkit: frame %d flush: %w", e.frame-1, flushErr)
	}
	return nil
}

// beginFrame selects the cards participating in this frame and clears
// their per-frame flags. Suspended cards join only after Resume.
func (e *Engine) beginFrame() []*entry {
	active := make([]*entry, 0, len(e.entries))
	for _, ent := range e.entries {
		switch ent.state {
		case StateDisposed:
			continue
		case StateSuspended:
			if !ent.resume {
				continue
			}
			ent.resume = false
		}
		ent.skipped = false
		active = append(active, ent)
	}
	return active
}

// reallocate runs the declare, commit and allocate phases for the whole
// active set. All-or-nothing: commit happens exactly once, after every
// declaration and before any allocation.
func (e *Engine) reallocate(active []*entry, needBuf, needTex bool) {
	e.log.Debug("realloc frame", "buffers", needBuf, "textures", needTex)

	for _, ent := range active {
		if ent.skipped || !e.advance(ent, StateDeclaring) {
			continue
		}
		if needBuf {
			ent.w.DeclareBuffers(e.rc)
		}
	}

	for _, ent := range active {
		if !ent.skipped {
			e.advance(ent, StateCommitting)
		}
	}
	if needBuf {
		e.rc.CommitReservations()
	}

	for _, ent := range active {
		if ent.skipped || !e.advance(ent, StateAllocating) {
			continue
		}
		if needBuf {
			if err := ent.w.AllocateBuffers(e.rc); err != nil {
				e.skip(ent, "allocate-buffers", err)
				continue
			}
		}
		if needTex {
			if err := ent.w.AllocateTextures(e.rc); err != nil {
				e.skip(ent, "allocate-textures", err)
			}
		}
	}

	if needTex {
		if err := e.rc.PackAtlas(); err != nil {
			// Previous layout survives; cards whose handles did not fit
			// fail their own WriteTextures below and degrade one by one.
			e.log.Warn("atlas pack failed", "error", err)
		}
		for _, ent := range active {
			if ent.skipped {
				continue
			}
			if err := ent.w.WriteTextures(e.rc); err != nil {
				e.skip(ent, "write-textures", err)
			}
		}
	}
}
