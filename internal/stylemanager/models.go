package stylemanager

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-mapstyle/internal/reconcile"
	"github.com/joeblew999/plat-mapstyle/internal/style"
)

// Phase is the style load phase.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseLoaded  Phase = "loaded"
)

// Phase transitions.
const (
	EventLoad     = "load"
	EventComplete = "complete"
	EventFail     = "fail"
	// EventRevert returns to loaded after a failed reload of a loaded style.
	EventRevert = "revert"
)

// MapStyle is a declared style: the root document, the import configuration
// and the runtime content layered on top of it.
type MapStyle struct {
	URI           string
	JSON          string
	Configuration []style.ImportConfiguration
	Content       style.Content
}

// Identity is the part of the style that requires a reload when it changes.
func (s MapStyle) Identity() style.Identity {
	return style.Identity{URI: s.URI, JSON: s.JSON}
}

// Completion receives the outcome of a load. A nil error means the style is
// fully loaded with the declared content applied.
type Completion func(error)

var (
	// ErrCancelled matches every CancelError.
	ErrCancelled = errors.New("style load cancelled")
	// ErrNoStyle is returned when an operation needs a style and none was set.
	ErrNoStyle = errors.New("no style set")
)

// CancelError is delivered to completions of a load that was superseded or
// cancelled by the engine.
type CancelError struct {
	Identity style.Identity
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("style load %s cancelled", e.Identity)
}

func (e *CancelError) Is(target error) bool { return target == ErrCancelled }

// EventKind names a lifecycle event.
type EventKind string

const (
	EventLoadStarted   EventKind = "load-started"
	EventLayersReady   EventKind = "layers-ready"
	EventLoadCompleted EventKind = "load-completed"
	EventLoadCancelled EventKind = "load-cancelled"
	EventLoadFailed    EventKind = "load-failed"
	EventReconciled    EventKind = "reconciled"
)

// Event is emitted on the Events signal.
type Event struct {
	Kind EventKind
	// RequestID identifies the load the event belongs to. It is uuid.Nil for
	// reconcile passes outside of a load.
	RequestID uuid.UUID
	Identity  style.Identity
	Phase     Phase
	Err       error
	Report    *reconcile.Report
}
