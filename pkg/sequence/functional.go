package sequence

import "iter"

// Iterator is a generic, immutable, chainable iterator for any type T.
type Iterator[T any] struct {
	seq iter.Seq[T]
}

// From creates a new Iterator from a slice of T.
func From[T any](data []T) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			for _, v := range data {
				if !yield(v) {
					return
				}
			}
		},
	}
}

// FromSeq wraps an existing iter.Seq.
func FromSeq[T any](seq iter.Seq[T]) *Iterator[T] {
	return &Iterator[T]{seq: seq}
}

// Seq returns the underlying sequence function for the iterator.
func (i *Iterator[T]) Seq() iter.Seq[T] {
	return i.seq
}

// Pull converts the iterator into a pull-style next/stop pair.
func (i *Iterator[T]) Pull() (next func() (T, bool), stop func()) {
	return iter.Pull(i.Seq())
}

// Collect exhausts the iterator and returns a slice of all elements.
func (i *Iterator[T]) Collect() []T {
	var out []T
	i.seq(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}


// Filter yields only the elements for which pred returns true.
func (i *Iterator[T]) Filter(pred func(T) bool) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			i.seq(func(v T) bool {
				if pred(v) {
					return yield(v)
				}
				return true
			})
		},
	}
}

// Find returns the first element matching pred.
func (i *Iterator[T]) Find(pred func(T) bool) (T, bool) {
	var (
		found T
		ok    bool
	)
	i.seq(func(v T) bool {
		if pred(v) {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}

// Any reports whether at least one element satisfies pred.
func (i *Iterator[T]) Any(pred func(T) bool) bool {
	_, ok := i.Find(pred)
	return ok
}

// First returns the first element of the iterator.
func (i *Iterator[T]) First() (T, bool) {
	return i.Find(func(T) bool { return true })
}

// Count exhausts the iterator and returns the number of elements.
func (i *Iterator[T]) Count() int {
	n := 0
	i.seq(func(T) bool {
		n++
		return true
	})
	return n
}
