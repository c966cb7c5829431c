package memory

// table — зафиксированные строки одной сущности в порядке вставки.
type table[T any] struct {
	rows  map[string]T
	order []string
	clone func(T) T
}

func newTable[T any](clone func(T) T) *table[T] {
	return &table[T]{rows: make(map[string]T), clone: clone}
}

func (t *table[T]) stage() *staged[T] {
	return &staged[T]{base: t}
}

// staged накапливает изменения единицы работы поверх table.
type staged[T any] struct {
	base  *table[T]
	dirty map[string]T
	added []string
}

func (s *staged[T]) get(id string) (T, bool) {
	if v, ok := s.dirty[id]; ok {
		return s.base.clone(v), true
	}
	v, ok := s.base.rows[id]
	if !ok {
		var zero T
		return zero, false
	}
	return s.base.clone(v), true
}

func (s *staged[T]) put(id string, v T) {
	if s.dirty == nil {
		s.dirty = make(map[string]T)
	}
	if _, ok := s.dirty[id]; !ok {
		if _, exists := s.base.rows[id]; !exists {
			s.added = append(s.added, id)
		}
	}
	s.dirty[id] = s.base.clone(v)
}

// scan обходит строки в порядке вставки, пока fn возвращает true.
func (s *staged[T]) scan(fn func(T) bool) {
	for _, id := range s.base.order {
		v, _ := s.get(id)
		if !fn(v) {
			return
		}
	}
	for _, id := range s.added {
		v, _ := s.get(id)
		if !fn(v) {
			return
		}
	}
}

func (s *staged[T]) commit() {
	for id, v := range s.dirty {
		s.base.rows[id] = v
	}
	s.base.order = append(s.base.order, s.added...)
}
