// Package engine defines the contract between the style reconciler and the
// rendering engine that holds the live style.
package engine

import (
	"fmt"
	"time"

	"github.com/joeblew999/plat-mapstyle/internal/style"
)

// Error is returned when the engine rejects an operation.
type Error struct {
	Op      string
	ID      string
	Message string
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("engine: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("engine: %s %q: %s", e.Op, e.ID, e.Message)
}

// Errorf builds an *Error.
func Errorf(op, id, format string, args ...any) *Error {
	return &Error{Op: op, ID: id, Message: fmt.Sprintf(format, args...)}
}

// LoadCallbacks are invoked on the engine's dispatch context while a style
// loads. OnLayersReady fires once the document is parsed, before sprites and
// sources have finished loading; exactly one of OnCompleted, OnCancelled or
// OnError follows.
type LoadCallbacks struct {
	OnLayersReady func()
	OnCompleted   func()
	OnCancelled   func()
	OnError       func(error)
}

// Transition configures animated style property changes.
type Transition struct {
	Duration                   time.Duration
	Delay                      time.Duration
	EnablePlacementTransitions bool
}

// StyleManager is the style surface of the engine. It is not safe for
// concurrent use; callers must stay on the engine's dispatch goroutine.
type StyleManager interface {
	AddLayer(props style.Properties, pos *style.LayerPosition) error
	RemoveLayer(id string) error
	SetLayerProperties(id string, props style.Properties) error
	MoveLayer(id string, pos *style.LayerPosition) error
	LayerExists(id string) bool

	AddSource(id string, props style.Properties) error
	AddCustomGeometrySource(id string, options style.Properties) error
	RemoveSource(id string) error
	SetSourceProperties(id string, props style.Properties) error
	SourceExists(id string) bool

	// AddImage creates or replaces an image.
	AddImage(img style.Image) error
	RemoveImage(id string) error
	ImageExists(id string) bool

	// AddModel creates or replaces a model.
	AddModel(id, uri string) error
	RemoveModel(id string) error

	AddLight(props style.Properties) error
	RemoveLight(id string) error
	SetLightProperties(id string, props style.Properties) error

	// Singletons: a nil bag removes the current value.
	SetTerrain(props style.Properties) error
	SetAtmosphere(props style.Properties) error
	SetProjection(props style.Properties) error

	AddStyleImport(id string, identity style.Identity, config map[string]any) error
	UpdateStyleImport(id string, identity style.Identity, config map[string]any) error
	RemoveStyleImport(id string) error
	StyleImportConfigProperty(importID, key string) (any, error)
	SetStyleImportConfigProperty(importID, key string, value any) error

	// LoadStyle replaces the whole style. A load in flight is cancelled.
	LoadStyle(identity style.Identity, callbacks LoadCallbacks)
	IsStyleLoaded() bool
	SetTransition(t Transition)
}
