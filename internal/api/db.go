package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mapstyle/internal/humastar"
	"github.com/joeblew999/plat-mapstyle/internal/journal"
)

// DBHandler serves the DuckDB journal.
type DBHandler struct {
	journal *journal.Journal
}

// NewDBHandler creates a journal handler. A nil journal answers 503.
func NewDBHandler(j *journal.Journal) *DBHandler {
	return &DBHandler{journal: j}
}

// RegisterRoutes registers journal routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("journal"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("journal"))
	huma.Get(api, "/api/v1/journal/ops", h.ListOps, huma.OperationTags("journal"))
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns the journal tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.journal == nil {
		return nil, huma.Error503ServiceUnavailable("Journal not available")
	}
	tables, err := h.journal.Tables(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	out := &TablesOutput{}
	out.Body.Tables = tables
	return out, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" minLength:"1" doc:"SQL query to execute" example:"SELECT op, count(*) AS n FROM engine_ops GROUP BY op"`
	}
}

// QueryOutput is the response for SQL queries.
type QueryOutput struct {
	Body struct {
		journal.Result
		Count int `json:"count" doc:"Number of rows returned"`
	}
}

// Query runs SQL against the journal.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if h.journal == nil {
		return nil, huma.Error503ServiceUnavailable("Journal not available")
	}
	res, err := h.journal.Query(ctx, input.Body.Query)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	out := &QueryOutput{}
	out.Body.Result = *res
	out.Body.Count = len(res.Rows)
	return out, nil
}

// PageInput selects a page.
type PageInput struct {
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
}

// OpsOutput is a page of journaled engine operations.
type OpsOutput struct {
	Body humastar.PageBody[journal.OpRecord]
}

// ListOps pages through engine operations.
func (h *DBHandler) ListOps(ctx context.Context, input *PageInput) (*OpsOutput, error) {
	if h.journal == nil {
		return nil, huma.Error503ServiceUnavailable("Journal not available")
	}
	ops, total, err := h.journal.Ops(ctx, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to read journal", err)
	}
	return &OpsOutput{Body: humastar.PageBody[journal.OpRecord]{
		Total: total, Offset: input.Offset, Limit: input.Limit, Data: ops,
	}}, nil
}
