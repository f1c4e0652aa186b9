package style

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Identity selects a style document, by URI or by inline JSON. Import
// configuration is not part of the identity.
type Identity struct {
	URI  string
	JSON string
}

// URI returns the identity of a style addressed by URI.
func URI(uri string) Identity { return Identity{URI: uri} }

// JSON returns the identity of an inline style document.
func JSON(doc string) Identity { return Identity{JSON: doc} }

// IsZero reports whether no style is selected.
func (i Identity) IsZero() bool { return i.URI == "" && i.JSON == "" }

func (i Identity) String() string {
	switch {
	case i.URI != "":
		return i.URI
	case i.JSON != "":
		return fmt.Sprintf("json:%016x", xxhash.Sum64String(i.JSON))
	default:
		return "<none>"
	}
}
