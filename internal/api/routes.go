// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mapstyle/internal/engine/memory"
	"github.com/joeblew999/plat-mapstyle/internal/humastar"
	"github.com/joeblew999/plat-mapstyle/internal/service"
	"github.com/joeblew999/plat-mapstyle/internal/stylefile"
	"github.com/joeblew999/plat-mapstyle/internal/stylemanager"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

type IDInput struct {
	ID string `path:"id" doc:"Layer or source id" example:"roads"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// StatusBody is the style status plus the actions available in its phase.
type StatusBody struct {
	service.StyleStatus
}

func (b StatusBody) Actions() []humastar.Action {
	actions := []humastar.Action{
		{Rel: "edit", Href: "/api/v1/style", Method: "PUT", Title: "Declare a style document"},
	}
	if b.Phase != string(stylemanager.PhaseIdle) {
		actions = append(actions, humastar.Action{Rel: "reload", Href: "/api/v1/style/reload", Method: "POST", Title: "Reload the style"})
	}
	return actions
}

type StatusOutput struct {
	Body StatusBody
}

type DocumentOutput struct {
	Body *stylefile.Document
}

type PutStyleInput struct {
	Body stylefile.Document
}

type LayersOutput struct {
	Body []memory.LayerState
}

type LayerOutput struct {
	Body memory.LayerState
}

type SourcesOutput struct {
	Body []memory.SourceState
}

// APIHandler holds the REST handlers. Methods named Register* are
// discovered by huma.AutoRegister.
type APIHandler struct {
	svc     *service.StyleService
	dataDir string
}

// NewAPIHandler creates the handler. Relative data paths in documents sent
// to PUT /api/v1/style resolve against dataDir.
func NewAPIHandler(svc *service.StyleService, dataDir string) *APIHandler {
	return &APIHandler{svc: svc, dataDir: dataDir}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterStyle registers the declared style routes.
func (h *APIHandler) RegisterStyle(api huma.API) {
	huma.Get(api, "/api/v1/style", h.GetStyle, huma.OperationTags("style"))
	huma.Put(api, "/api/v1/style", h.PutStyle, huma.OperationTags("style"))
	huma.Get(api, "/api/v1/style/document", h.GetDocument, huma.OperationTags("style"))
	huma.Post(api, "/api/v1/style/reload", h.ReloadStyle, huma.OperationTags("style"))
}

// RegisterEngine registers read-only views of the engine's live style.
func (h *APIHandler) RegisterEngine(api huma.API) {
	huma.Get(api, "/api/v1/style/layers", h.GetLayers, huma.OperationTags("engine"))
	huma.Get(api, "/api/v1/style/layers/{id}", h.GetLayer, huma.OperationTags("engine"))
	huma.Get(api, "/api/v1/style/sources", h.GetSources, huma.OperationTags("engine"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) status(ctx context.Context) (*StatusOutput, error) {
	st, err := h.svc.Status(ctx)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("style session not running", err)
	}
	return &StatusOutput{Body: StatusBody{st}}, nil
}

func (h *APIHandler) GetStyle(ctx context.Context, input *struct{}) (*StatusOutput, error) {
	return h.status(ctx)
}

// PutStyle declares a document and waits for it to be applied.
func (h *APIHandler) PutStyle(ctx context.Context, input *PutStyleInput) (*StatusOutput, error) {
	doc := input.Body
	if doc.Style.URI == "" && doc.Style.JSON == "" {
		return nil, huma.Error422UnprocessableEntity(stylefile.ErrNoRoot.Error())
	}
	for _, src := range doc.Sources {
		if src.Data != "" && !filepath.IsLocal(src.Data) {
			return nil, huma.Error422UnprocessableEntity("source " + src.ID + ": data must be a path inside the data directory")
		}
	}
	doc.SetDir(h.dataDir)
	doc.SetLoader(h.svc.Loader())
	if err := h.svc.Apply(ctx, &doc); err != nil {
		return nil, applyError(err)
	}
	return h.status(ctx)
}

func (h *APIHandler) GetDocument(ctx context.Context, input *struct{}) (*DocumentOutput, error) {
	doc, ok := h.svc.Document()
	if !ok {
		return nil, huma.Error404NotFound("no style document applied")
	}
	return &DocumentOutput{Body: doc}, nil
}

func (h *APIHandler) ReloadStyle(ctx context.Context, input *struct{}) (*StatusOutput, error) {
	if err := h.svc.Reload(ctx); err != nil {
		if errors.Is(err, service.ErrNoDocument) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, applyError(err)
	}
	return h.status(ctx)
}

func applyError(err error) error {
	switch {
	case errors.Is(err, stylemanager.ErrCancelled):
		return huma.Error409Conflict("superseded by a newer style", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return huma.Error503ServiceUnavailable("style not applied in time", err)
	default:
		return huma.Error422UnprocessableEntity(err.Error())
	}
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	snap, err := h.svc.Snapshot(ctx)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("style session not running", err)
	}
	return &LayersOutput{Body: snap.Layers}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	snap, err := h.svc.Snapshot(ctx)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("style session not running", err)
	}
	for _, l := range snap.Layers {
		if l.ID == input.ID {
			return &LayerOutput{Body: l}, nil
		}
	}
	return nil, huma.Error404NotFound("layer not found")
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*SourcesOutput, error) {
	snap, err := h.svc.Snapshot(ctx)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("style session not running", err)
	}
	return &SourcesOutput{Body: snap.Sources}, nil
}
