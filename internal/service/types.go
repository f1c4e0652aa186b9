// Package service hosts a style session: the run loop, the in-memory engine,
// the style manager and the journal, behind a goroutine-safe API.
package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-mapstyle/internal/reconcile"
	"github.com/joeblew999/plat-mapstyle/internal/stylemanager"
)

// StyleStatus summarises the session.
type StyleStatus struct {
	Phase   string   `json:"phase" enum:"idle,loading,loaded" doc:"Style load phase" example:"loaded"`
	Style   string   `json:"style,omitempty" doc:"Identity of the loading or loaded style" example:"mapbox://styles/mapbox/standard"`
	Loaded  bool     `json:"loaded" doc:"Whether the style root is loaded and content applied"`
	Layers  []string `json:"layers" doc:"Layer ids, bottom to top"`
	Sources []string `json:"sources" doc:"Source ids"`
	Mounted int      `json:"mounted" doc:"Number of declared nodes applied to the engine"`
}

// OperationView is one reconciler operation.
type OperationView struct {
	Category string `json:"category" doc:"Node category" example:"layer"`
	Op       string `json:"op" enum:"add,remove,update,move,config" doc:"Operation"`
	ID       string `json:"id" doc:"Node id" example:"roads"`
	Error    string `json:"error,omitempty" doc:"Error, when the operation failed"`
}

// EventView is a style event as sent to API clients.
type EventView struct {
	Kind       string          `json:"kind" doc:"Event kind" example:"reconciled"`
	RequestID  string          `json:"requestId,omitempty" doc:"Load request id"`
	Style      string          `json:"style,omitempty" doc:"Style identity"`
	Phase      string          `json:"phase" doc:"Phase after the event"`
	Error      string          `json:"error,omitempty" doc:"Load error"`
	Duration   string          `json:"duration,omitempty" doc:"Reconciliation pass duration"`
	Operations []OperationView `json:"operations,omitempty" doc:"Engine operations of a reconciliation pass"`
	At         time.Time       `json:"at" doc:"When the event happened"`
}

func operationViews(r *reconcile.Report) []OperationView {
	if r == nil {
		return nil
	}
	ops := make([]OperationView, 0, len(r.Operations))
	for _, op := range r.Operations {
		v := OperationView{Category: op.Category.String(), Op: op.Op, ID: op.ID}
		if op.Err != nil {
			v.Error = op.Err.Error()
		}
		ops = append(ops, v)
	}
	return ops
}

// NewEventView converts a manager event.
func NewEventView(e stylemanager.Event) EventView {
	v := EventView{
		Kind:       string(e.Kind),
		Phase:      string(e.Phase),
		Operations: operationViews(e.Report),
		At:         time.Now().UTC(),
	}
	if !e.Identity.IsZero() {
		v.Style = e.Identity.String()
	}
	if e.RequestID != uuid.Nil {
		v.RequestID = e.RequestID.String()
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	if e.Report != nil {
		v.Duration = e.Report.Duration.String()
	}
	return v
}
