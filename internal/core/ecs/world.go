package ecs

// World owns the handle pool and every store registered against it.
// It is not safe for concurrent use; callers serialize access.
type World struct {
	pool   *Pool
	stores []Removable
}

func NewWorld() *World {
	return &World{
		pool:   NewPool(),
		stores: make([]Removable, 0, 8),
	}
}

// Register attaches a store so Destroy clears it.
func (w *World) Register(s Removable) {
	w.stores = append(w.stores, s)
}

func (w *World) Create() Handle {
	return w.pool.Create()
}

func (w *World) Alive(h Handle) bool {
	return w.pool.Alive(h)
}

// Destroy removes h from every store and invalidates it immediately.
func (w *World) Destroy(h Handle) bool {
	if !w.pool.Alive(h) {
		return false
	}
	for _, s := range w.stores {
		s.Remove(h)
	}
	return w.pool.Destroy(h)
}

func (w *World) Len() int { return w.pool.Len() }
