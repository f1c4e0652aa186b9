package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joeblew999/plat-mapstyle/internal/style"
)

var (
	// ErrDependencyFailed marks operations skipped because a node they
	// reference failed earlier in the same pass.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrCategoryAborted marks operations skipped after a category-level failure.
	ErrCategoryAborted = errors.New("category aborted")
)

// OpError is one failed or skipped operation of a pass.
type OpError struct {
	Category style.Category
	Op       string
	ID       string
	Err      error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s %q: %v", e.Op, e.Category, e.ID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Errors collects the failures of a pass.
type Errors []*OpError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e Errors) Unwrap() []error {
	out := make([]error, len(e))
	for i, err := range e {
		out[i] = err
	}
	return out
}

// ByCategory returns the failures of one category.
func (e Errors) ByCategory(c style.Category) Errors {
	var out Errors
	for _, err := range e {
		if err.Category == c {
			out = append(out, err)
		}
	}
	return out
}
