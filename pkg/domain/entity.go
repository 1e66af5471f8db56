// Package domain defines the entity contract and the entity-store
// collaborator that persistkit's templates and managers are built on.
package domain

import (
	"fmt"
	"reflect"
	"sort"
)

// Entity is implemented by every persistable type. Implementations must be
// pointers to structs so that managed instances have a stable identity.
type Entity interface {
	EntityID() string
	SetEntityID(id string)
}

// KindNamer lets an entity override the kind name used by queries and
// storage. Defaults to the Go struct name.
type KindNamer interface {
	EntityKind() string
}

// NamedQuerier exposes named query definitions declared alongside an entity.
type NamedQuerier interface {
	NamedQueries() map[string]string
}

// EntityType is the type token for one entity type.
type EntityType struct {
	Name    string
	goType  reflect.Type // struct type, not the pointer
	queries map[string]string
}

// TypeOf builds the descriptor for T. T must be a pointer to a struct.
func TypeOf[T Entity]() (EntityType, error) {
	return typeFor(reflect.TypeFor[T]())
}

// MustTypeOf is TypeOf for package-level descriptors.
func MustTypeOf[T Entity]() EntityType {
	et, err := TypeOf[T]()
	if err != nil {
		panic(err)
	}
	return et
}

// TypeOfEntity derives the descriptor from an instance.
func TypeOfEntity(e Entity) (EntityType, error) {
	if e == nil {
		return EntityType{}, fmt.Errorf("nil entity")
	}
	return typeFor(reflect.TypeOf(e))
}

func typeFor(t reflect.Type) (EntityType, error) {
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return EntityType{}, fmt.Errorf("entity type %v must be a pointer to a struct", t)
	}
	et := EntityType{Name: t.Elem().Name(), goType: t.Elem()}
	proto := reflect.New(t.Elem()).Interface()
	if kn, ok := proto.(KindNamer); ok && kn.EntityKind() != "" {
		et.Name = kn.EntityKind()
	}
	if nq, ok := proto.(NamedQuerier); ok {
		defs := nq.NamedQueries()
		et.queries = make(map[string]string, len(defs))
		for name, q := range defs {
			et.queries[name] = q
		}
	}
	if et.Name == "" {
		return EntityType{}, fmt.Errorf("entity type %v has no name", t)
	}
	return et, nil
}

// New allocates a zero instance of the entity type.
func (t EntityType) New() Entity {
	return reflect.New(t.goType).Interface().(Entity)
}

// Matches reports whether e is an instance of this type.
func (t EntityType) Matches(e Entity) bool {
	if e == nil || t.goType == nil {
		return false
	}
	rt := reflect.TypeOf(e)
	return rt.Kind() == reflect.Pointer && rt.Elem() == t.goType
}

// NamedQuery returns the query text registered under name.
func (t EntityType) NamedQuery(name string) (string, bool) {
	q, ok := t.queries[name]
	return q, ok
}

// NamedQueryNames lists registered named queries in sorted order.
func (t EntityType) NamedQueryNames() []string {
	names := make([]string, 0, len(t.queries))
	for name := range t.queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsZero reports whether the descriptor was never initialised.
func (t EntityType) IsZero() bool { return t.goType == nil }

// Reset overwrites the pointed-to struct with its zero value.
func Reset(e Entity) {
	v := reflect.ValueOf(e)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	v.Elem().Set(reflect.Zero(v.Elem().Type()))
}

// IsNil reports whether e is nil or a typed nil pointer.
func IsNil(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
