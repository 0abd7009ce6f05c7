package set

type Set[T comparable] struct {
	_map map[T]struct{}
}

func New[T comparable]() Set[T] {
	return Set[T]{map[T]struct{}{}}
}

// Insert adds val and reports whether it was not yet present.
func (s *Set[T]) Insert(val T) bool {
	if _, contained := s._map[val]; contained {
		return false
	}
	s._map[val] = struct{}{}
	return true
}

func (s *Set[T]) Delete(val T) {
	delete(s._map, val)
}

func (s Set[T]) Contains(val T) bool {
	_, contained := s._map[val]
	return contained
}

func (s Set[T]) Len() int {
	return len(s._map)
}

func (s *Set[T]) Clear() {
	s._map = map[T]struct{}{}
}
