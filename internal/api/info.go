package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	journal bool
	styles  []string
}

// NewInfoHandler describes the server. styles lists the registered style URIs.
func NewInfoHandler(dataDir string, journal bool, styles []string) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, journal: journal, styles: styles}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	Journal  bool     `json:"journal" doc:"Whether the DuckDB journal is available"`
	Styles   []string `json:"styles" doc:"Style URIs the engine can load"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"reconcile", "geojson", "sse"}
	if h.journal {
		features = append(features, "duckdb")
	}
	styles := h.styles
	if styles == nil {
		styles = []string{}
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-mapstyle",
		Version:  Version,
		DataDir:  h.dataDir,
		Journal:  h.journal,
		Styles:   styles,
		Features: features,
	}}, nil
}
