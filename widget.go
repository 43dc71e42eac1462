package cardkit

import (
	"errors"
	"fmt"
)

// ErrBadTransition is returned when a lifecycle transition is not legal
// from the current state. It signals an orchestration bug.
var ErrBadTransition = errors.New("cardkit: illegal lifecycle transition")

// LifecycleState is one card's position in the frame state machine.
//
// The happy path each frame is Staging, then (when any participant needs
// a realloc) Declaring, Committing, Allocating, then Finalizing and
// Flushed. When no realloc is needed the card goes straight from Staging
// to Finalizing. Suspended is reachable from every post-staging state and
// re-enters Staging on resume. Disposed is terminal.
type LifecycleState uint8

// Lifecycle states.
const (
	StateIdle LifecycleState = iota
	StateStaging
	StateDeclaring
	StateCommitting
	StateAllocating
	StateFinalizing
	StateFlushed
	StateSuspended
	StateDisposed
)

var stateNames = [...]string{
	"idle", "staging", "declaring", "committing",
	"allocating", "finalizing", "flushed", "suspended", "disposed",
}

func (s LifecycleState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// legalNext lists the allowed successors per state. Disposed is legal
// from every live state. A card that degrades to skipped mid-frame jumps
// straight to Flushed so the whole set ends every frame in one state.
var legalNext = map[LifecycleState][]LifecycleState{
	StateIdle:       {StateStaging},
	StateStaging:    {StateDeclaring, StateFinalizing, StateFlushed},
	StateDeclaring:  {StateCommitting, StateSuspended, StateFlushed},
	StateCommitting: {StateAllocating, StateSuspended, StateFlushed},
	StateAllocating: {StateFinalizing, StateSuspended, StateFlushed},
	StateFinalizing: {StateFlushed, StateSuspended},
	StateFlushed:    {StateStaging, StateSuspended},
	StateSuspended:  {StateStaging},
	StateDisposed:   {},
}

// CanTransition reports whether moving from s to next is legal.
func (s LifecycleState) CanTransition(next LifecycleState) bool {
	if next == StateDisposed {
		return s != StateDisposed
	}
	for _, n := range legalNext[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Transition returns the next state, or ErrBadTransition when the move
// is illegal.
func (s LifecycleState) Transition(next LifecycleState) (LifecycleState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrBadTransition, s, next)
	}
	return next, nil
}

// Widget is one card driven through the frame lifecycle by the Engine.
//
// Phase rules the implementation must honor:
//
//   - Stage computes next-frame content into private memory only. It must
//     not touch any coordinator handle or write method.
//   - DeclareBuffers calls Reserve/ReservePixels for the card's full
//     footprint. It runs only in frames where some participant needs a
//     realloc, and then it runs for every participant.
//   - AllocateBuffers and AllocateTextures run after the single commit;
//     handles obtained here stay stable until the next commit.
//   - WriteTextures runs after the atlas pack of the same frame.
//   - Finalize runs every frame. It writes still-dirty staging content
//     through stable handles and marks dirty ranges.
//   - Suspend copies GPU-resident state the card cannot regenerate back
//     into private staging and releases all handles. The card must be
//     able to rebuild everything by re-entering Staging later.
//   - Dispose releases every resource, including the metadata slot.
type Widget interface {
	// Stage computes the card's next-frame content in private memory.
	Stage() error

	// NeedsBufferRealloc reports whether the card's byte footprint
	// changed since the last commit.
	NeedsBufferRealloc() bool

	// NeedsTextureRealloc reports whether the card's atlas footprint
	// changed since the last pack.
	NeedsTextureRealloc() bool

	// DeclareBuffers reserves the card's full byte footprint.
	DeclareBuffers(rc *ResourceCoordinator)

	// AllocateBuffers claims committed ranges for the card.
	AllocateBuffers(rc *ResourceCoordinator) error

	// AllocateTextures claims and links atlas handles.
	AllocateTextures(rc *ResourceCoordinator) error

	// WriteTextures uploads linked pixels to packed atlas positions.
	WriteTextures(rc *ResourceCoordinator) error

	// Finalize writes dirty content through stable handles.
	Finalize(rc *ResourceCoordinator) error

	// Suspend copies GPU-resident state back to staging and releases
	// handles.
	Suspend(rc *ResourceCoordinator)

	// Dispose releases every resource the card holds.
	Dispose(rc *ResourceCoordinator)

	// MetadataSlot returns the card's stable descriptor slot index.
	MetadataSlot() uint32
}
