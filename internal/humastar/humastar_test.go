package humastar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginationLinks(t *testing.T) {
	page := PageBody[int]{Total: 25, Offset: 10, Limit: 10}
	assert.Equal(t, []string{
		`</events?offset=0&limit=10>; rel="first"`,
		`</events?offset=0&limit=10>; rel="prev"`,
		`</events?offset=20&limit=10>; rel="next"`,
		`</events?offset=20&limit=10>; rel="last"`,
	}, page.PaginationLinks("/events"))

	empty := PageBody[int]{Limit: 10}
	assert.Equal(t, []string{
		`</events?offset=0&limit=10>; rel="first"`,
		`</events?offset=0&limit=10>; rel="last"`,
	}, empty.PaginationLinks("/events"))

	assert.Nil(t, PageBody[int]{}.PaginationLinks("/events"))
}

func TestActionLinkHeader(t *testing.T) {
	a := Action{Rel: "reload", Href: "/api/v1/style/reload", Method: "POST", Title: "Reload the style"}
	assert.Equal(t, `</api/v1/style/reload>; rel="reload"; method="POST"; title="Reload the style"`, a.LinkHeader())
	assert.Equal(t, `</x>; rel="self"`, Action{Rel: "self", Href: "/x"}.LinkHeader())
}
