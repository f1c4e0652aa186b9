package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mapstyle/internal/humastar"
	"github.com/joeblew999/plat-mapstyle/internal/service"
)

// EventHandler streams style events to Datastar clients.
type EventHandler struct {
	humastar.Handler
	svc *service.StyleService
}

func NewEventHandler(h humastar.Handler, svc *service.StyleService) *EventHandler {
	return &EventHandler{Handler: h, svc: svc}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags("events"),
		func(op *huma.Operation) {
			op.Summary = "Stream style events"
			op.Description = "Patches #style-status and appends one row per event to #events until the client disconnects."
		})
}

// Events sends the current status, then one patch per style event.
func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		events := h.svc.Events().Subscribe()
		defer h.svc.Events().Unsubscribe(events)

		if err := h.sendStatus(ctx, sse); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if err := sse.Append(h.Render("event-row", e), "#events"); err != nil {
					return
				}
				if err := h.sendStatus(ctx, sse); err != nil {
					return
				}
			}
		}
	}), nil
}

func (h *EventHandler) sendStatus(ctx context.Context, sse humastar.SSE) error {
	st, err := h.svc.Status(ctx)
	if err != nil {
		return sse.Error(err.Error())
	}
	if err := sse.Patch(h.Render("style-status", st), "#style-status"); err != nil {
		return err
	}
	return sse.Signals(map[string]any{
		"phase": st.Phase,
		"style": st.Style,
	})
}
