package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mapstyle/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/style>; rel="style"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/style>; rel="style"`,
	},
	"/api/v1/style": {
		`</api/v1/style/document>; rel="document"`,
		`</api/v1/style/layers>; rel="layers"`,
		`</api/v1/style/sources>; rel="sources"`,
		`</api/v1/events>; rel="events"`,
	},
	"/api/v1/style/document": {
		`</api/v1/style>; rel="style"`,
	},
	"/api/v1/style/layers": {
		`</api/v1/style>; rel="style"`,
		`</api/v1/style/sources>; rel="sources"`,
	},
	"/api/v1/style/layers/{id}": {
		`</api/v1/style/layers>; rel="collection"`,
	},
	"/api/v1/style/sources": {
		`</api/v1/style>; rel="style"`,
		`</api/v1/style/layers>; rel="layers"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="query"`,
		`</api/v1/journal/ops>; rel="ops"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link
// headers: the static links of the operation, a self link for item
// endpoints, pagination links and the actions offered by the body.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if p, ok := v.(humastar.Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(humastar.Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}
