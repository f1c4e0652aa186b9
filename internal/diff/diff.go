// Package diff computes add/update/remove sets between two ordered, id-keyed
// collections using a single forward scan.
//
// Elements that keep their relative order are matched in place. When the new
// sequence diverges, the scan looks ahead in the old sequence for the new
// element's id: if it is found, the old elements skipped over are removed and
// the scan resumes there; otherwise the scan stops, the rest of the old
// sequence is removed and the rest of the new sequence is added. A reorder is
// therefore always expressed as remove plus add, never as a move.
package diff

// CollectionDiff holds the operations that turn an old sequence into a new one.
// Remove is in old order; Update and Add are in new order.
type CollectionDiff[T any] struct {
	Remove []T
	Update []T
	Add    []T
}

// IsEmpty reports whether the diff carries no operations.
func (d CollectionDiff[T]) IsEmpty() bool {
	return len(d.Remove) == 0 && len(d.Update) == 0 && len(d.Add) == 0
}

// Compute diffs old against new. id must be unique within each sequence;
// equal reports whether two elements with the same id carry the same content.
func Compute[T any, ID comparable](old, new []T, id func(T) ID, equal func(a, b T) bool) CollectionDiff[T] {
	var d CollectionDiff[T]

	oldIndex := make(map[ID]int, len(old))
	for i, el := range old {
		oldIndex[id(el)] = i
	}

	i, j := 0, 0
	for i < len(old) && j < len(new) {
		oldEl, newEl := old[i], new[j]
		newID := id(newEl)

		if id(oldEl) == newID {
			if !equal(oldEl, newEl) {
				d.Update = append(d.Update, newEl)
			}
			i++
			j++
			continue
		}

		pos, ok := oldIndex[newID]
		if !ok || pos <= i {
			break
		}
		d.Remove = append(d.Remove, old[i:pos]...)
		i = pos
	}

	d.Remove = append(d.Remove, old[i:]...)
	d.Add = append(d.Add, new[j:]...)
	return d
}

// ComputeEqual is Compute for comparable elements.
func ComputeEqual[T comparable, ID comparable](old, new []T, id func(T) ID) CollectionDiff[T] {
	return Compute(old, new, id, func(a, b T) bool { return a == b })
}
