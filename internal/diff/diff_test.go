package diff

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct {
	ID    string
	Value int
}

func itemID(i item) string { return i.ID }

func items(ids ...string) []item {
	out := make([]item, len(ids))
	for i, id := range ids {
		out[i] = item{ID: id}
	}
	return out
}

func ids(in []item) []string {
	out := make([]string, len(in))
	for i, el := range in {
		out[i] = el.ID
	}
	return out
}

func TestCompute(t *testing.T) {
	t.Run("equal sequences", func(t *testing.T) {
		d := ComputeEqual(items("a", "b"), items("a", "b"), itemID)
		assert.True(t, d.IsEmpty())
	})

	t.Run("both empty", func(t *testing.T) {
		assert.True(t, ComputeEqual[item](nil, nil, itemID).IsEmpty())
	})

	t.Run("pure append", func(t *testing.T) {
		d := ComputeEqual(items("a", "b", "c"), items("a", "b", "c", "d"), itemID)
		assert.Equal(t, []string{"d"}, ids(d.Add))
		assert.Empty(t, d.Update)
		assert.Empty(t, d.Remove)
	})

	t.Run("pure removal", func(t *testing.T) {
		d := ComputeEqual(items("a", "b", "c"), items("a", "c"), itemID)
		assert.Equal(t, []string{"b"}, ids(d.Remove))
		assert.Empty(t, d.Update)
		assert.Empty(t, d.Add)
	})

	t.Run("update in place", func(t *testing.T) {
		old := []item{{"a", 1}, {"b", 1}}
		new := []item{{"a", 2}, {"b", 1}}
		d := ComputeEqual(old, new, itemID)
		assert.Equal(t, []item{{"a", 2}}, d.Update)
		assert.Empty(t, d.Add)
		assert.Empty(t, d.Remove)
	})

	t.Run("mid-sequence insertion re-adds the suffix", func(t *testing.T) {
		d := ComputeEqual(items("a", "b", "c"), items("a", "x", "b", "c"), itemID)
		assert.Equal(t, []string{"b", "c"}, ids(d.Remove))
		assert.Equal(t, []string{"x", "b", "c"}, ids(d.Add))
		assert.Empty(t, d.Update)
	})

	t.Run("lookahead removes skipped elements", func(t *testing.T) {
		d := ComputeEqual(items("1", "2", "3"), items("1", "3"), itemID)
		assert.Equal(t, []string{"2"}, ids(d.Remove))
		assert.Empty(t, d.Add)
	})

	t.Run("insertions between kept elements", func(t *testing.T) {
		d := ComputeEqual(items("1", "3", "5"), items("1", "2", "3", "4", "5"), itemID)
		assert.Equal(t, []string{"3", "5"}, ids(d.Remove))
		assert.Equal(t, []string{"2", "3", "4", "5"}, ids(d.Add))
	})

	t.Run("replace head and update survivor", func(t *testing.T) {
		old := []item{{"1", 0}, {"2", 0}}
		new := []item{{"2", 1}, {"3", 0}}
		d := ComputeEqual(old, new, itemID)
		assert.Equal(t, []string{"1"}, ids(d.Remove))
		assert.Equal(t, []item{{"2", 1}}, d.Update)
		assert.Equal(t, []string{"3"}, ids(d.Add))
	})

	t.Run("swap is remove plus add", func(t *testing.T) {
		d := ComputeEqual(items("a", "b"), items("b", "a"), itemID)
		assert.Equal(t, []string{"a"}, ids(d.Remove))
		assert.Equal(t, []string{"a"}, ids(d.Add))
	})

	t.Run("everything replaced", func(t *testing.T) {
		d := ComputeEqual(items("a", "b"), items("c"), itemID)
		assert.Equal(t, []string{"a", "b"}, ids(d.Remove))
		assert.Equal(t, []string{"c"}, ids(d.Add))
	})

	t.Run("custom equality", func(t *testing.T) {
		old := []item{{"a", 1}}
		new := []item{{"a", 3}}
		d := Compute(old, new, itemID, func(a, b item) bool { return a.Value%2 == b.Value%2 })
		assert.True(t, d.IsEmpty())
	})
}

// apply replays a diff onto old: remove, then update, then append adds.
func apply(old []item, d CollectionDiff[item]) []item {
	out := slices.Clone(old)
	for _, r := range d.Remove {
		out = slices.DeleteFunc(out, func(el item) bool { return el.ID == r.ID })
	}
	for _, u := range d.Update {
		i := slices.IndexFunc(out, func(el item) bool { return el.ID == u.ID })
		out[i] = u
	}
	return append(out, d.Add...)
}

func randomSequence(r *rand.Rand) []item {
	pool := r.Perm(12)
	n := r.IntN(len(pool) + 1)
	out := make([]item, n)
	for i := range n {
		out[i] = item{ID: fmt.Sprint(pool[i]), Value: r.IntN(3)}
	}
	return out
}

func TestComputeReconstruction(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := range 2000 {
		old, new := randomSequence(r), randomSequence(r)
		d := ComputeEqual(old, new, itemID)
		got := apply(old, d)
		if len(new) == 0 {
			assert.Empty(t, got, "case %d", i)
			continue
		}
		assert.Equal(t, new, got, "case %d: old=%v new=%v", i, old, new)
	}
}
