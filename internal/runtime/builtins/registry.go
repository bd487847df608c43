package builtins

import (
	"fmt"
	"sort"
	"sync"

	"nx/internal/value"
)

// Env provides host services to builtins.
// This interface is implemented by runtime.Env to avoid import cycles.
type Env interface {
	IO() IO
}

// IO is the minimal interface needed by builtin IO functions.
type IO interface {
	Println(string)
}

// ID is a builtin function identifier.
type ID int

const (
	Print ID = iota
)

// Meta contains metadata about a builtin function. The semantic analyzer
// uses it to check calls; the VM uses it to dispatch.
type Meta struct {
	ID    ID
	Name  string
	Arity int
}

// Builtin is a builtin's metadata together with its implementation.
type Builtin struct {
	Meta Meta
	// Call executes the builtin. env may be nil for pure builtins.
	Call func(env Env, args []value.Value) (value.Value, error)
}

type registry struct {
	mu sync.RWMutex

	byID   map[ID]*Builtin
	byName map[string]*Builtin
}

var globalRegistry = &registry{
	byID:   make(map[ID]*Builtin),
	byName: make(map[string]*Builtin),
}

// Register registers a builtin. This is called by each builtin's init().
// Panics on invalid metadata or duplicates.
func Register(b Builtin) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if b.Meta.Arity < 0 {
		panic(fmt.Sprintf("builtin %s (ID %d) has negative arity %d", b.Meta.Name, b.Meta.ID, b.Meta.Arity))
	}
	if b.Call == nil {
		panic(fmt.Sprintf("builtin %s (ID %d) has no implementation", b.Meta.Name, b.Meta.ID))
	}
	if _, exists := globalRegistry.byID[b.Meta.ID]; exists {
		panic(fmt.Sprintf("builtin ID %d (%s) is already registered", b.Meta.ID, b.Meta.Name))
	}
	if _, exists := globalRegistry.byName[b.Meta.Name]; exists {
		panic(fmt.Sprintf("builtin name %q is already registered", b.Meta.Name))
	}

	globalRegistry.byID[b.Meta.ID] = &b
	globalRegistry.byName[b.Meta.Name] = &b
}

// LookupByID finds a builtin by ID. Returns nil if not found.
func LookupByID(id ID) *Builtin {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	return globalRegistry.byID[id]
}

// LookupByName finds a builtin by name. Returns nil if not found.
func LookupByName(name string) *Builtin {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	return globalRegistry.byName[name]
}

// All returns all registered builtin metadata ordered by ID.
func All() []Meta {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	result := make([]Meta, 0, len(globalRegistry.byID))
	for _, b := range globalRegistry.byID {
		result = append(result, b.Meta)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
