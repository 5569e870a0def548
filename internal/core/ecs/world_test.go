package ecs

import "testing"

func TestPoolGenerationsInvalidateStaleHandles(t *testing.T) {
	p := NewPool()
	a := p.Create()
	if a == 0 {
		t.Fatalf("expected non-zero handle")
	}
	if !p.Destroy(a) {
		t.Fatalf("expected destroy to succeed")
	}
	if p.Alive(a) {
		t.Fatalf("expected stale handle to be dead")
	}
	b := p.Create()
	if b.Index() != a.Index() {
		t.Fatalf("expected slot reuse, got index %d want %d", b.Index(), a.Index())
	}
	if b.Generation() == a.Generation() {
		t.Fatalf("expected new generation on reuse")
	}
	if p.Destroy(a) {
		t.Fatalf("expected destroying a stale handle to be ignored")
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 live handle, got %d", p.Len())
	}
}

func TestWorldDestroyClearsStores(t *testing.T) {
	w := NewWorld()
	names := NewStore[string]()
	w.Register(names)

	h := w.Create()
	name := "crate"
	names.Set(h, &name)

	w.Destroy(h)
	if names.Has(h) {
		t.Fatalf("expected store entry to be removed")
	}
	if w.Alive(h) {
		t.Fatalf("expected handle to be dead")
	}
}
