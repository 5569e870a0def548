// Package event is a double-buffered, typed event bus for the tick loop.
package event

import (
	"reflect"
	"sync"
)

// Bus buffers events emitted during tick N and delivers them in tick N+1.
// Emit, SwapBuffers and DispatchAll run on the tick goroutine only.
type Bus struct {
	mu       sync.Mutex // guards handlers
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]func(any)
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]func(any)),
	}
}

func keyOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues ev for the next dispatch.
func Emit[T any](b *Bus, ev T) {
	k := keyOf[T]()
	b.back[k] = append(b.back[k], ev)
}

// Subscribe registers fn for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyOf[T]()
	b.handlers[k] = append(b.handlers[k], func(ev any) { fn(ev.(T)) })
}

// SwapBuffers makes the events emitted since the last swap dispatchable.
func (b *Bus) SwapBuffers() {
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
}

// DispatchAll delivers the front buffer. Handlers may Emit; those events
// wait for the next swap. Returns the number of events delivered.
func (b *Bus) DispatchAll() int {
	b.mu.Lock()
	handlers := make(map[reflect.Type][]func(any), len(b.handlers))
	for k, hs := range b.handlers {
		handlers[k] = hs
	}
	b.mu.Unlock()

	n := 0
	for k, events := range b.front {
		for _, ev := range events {
			for _, h := range handlers[k] {
				h(ev)
			}
			n++
		}
	}
	return n
}
