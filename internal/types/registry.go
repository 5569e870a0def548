// Package types resolves replicated type names to constructible descriptors.
package types

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrUnknownType   = errors.New("types: unknown type")
	ErrDuplicateType = errors.New("types: type already registered")
)

// Type describes a replicable type. Base links form the single-inheritance
// chain used by serializer fallback; they are fixed at registration.
type Type struct {
	Name    string
	Base    *Type
	GoType  reflect.Type
	factory func() any
}

// New builds a fresh instance of the type.
func (t *Type) New() any {
	return t.factory()
}

// Is reports whether t is u or has u somewhere in its base chain.
func (t *Type) Is(u *Type) bool {
	for cur, depth := t, 0; cur != nil && depth < MaxBaseDepth; cur, depth = cur.Base, depth+1 {
		if cur == u {
			return true
		}
	}
	return false
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}

// MaxBaseDepth bounds every walk of a base chain.
const MaxBaseDepth = 64

// CanonicalName returns the NFC form used for every name comparison.
func CanonicalName(name string) string {
	return norm.NFC.String(name)
}

type registerOptions struct {
	base string
}

type Option func(*registerOptions)

// WithBase declares the named, already registered type as the base.
func WithBase(name string) Option {
	return func(o *registerOptions) { o.base = name }
}

// Registry maps names to types. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Type
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Type, 32)}
}

// Register adds a type built by factory. The factory result's dynamic type
// is recorded as GoType so capability checks need no instance.
func (r *Registry) Register(name string, factory func() any, opts ...Option) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("register type: empty name")
	}
	if factory == nil {
		return nil, fmt.Errorf("register type %s: nil factory", name)
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	name = CanonicalName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("register type %s: %w", name, ErrDuplicateType)
	}
	t := &Type{Name: name, factory: factory}
	if sample := factory(); sample != nil {
		t.GoType = reflect.TypeOf(sample)
	}
	if o.base != "" {
		base, ok := r.byName[CanonicalName(o.base)]
		if !ok {
			return nil, fmt.Errorf("register type %s: base %s: %w", name, o.base, ErrUnknownType)
		}
		t.Base = base
	}
	r.byName[name] = t
	return t, nil
}

// MustRegister is Register for package init paths; it panics on error.
func (r *Registry) MustRegister(name string, factory func() any, opts ...Option) *Type {
	t, err := r.Register(name, factory, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (r *Registry) Find(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[CanonicalName(name)]
	return t, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
