package ecs

import (
	"errors"
	"fmt"
	"slices"

	"github.com/zeusync/prefabkit/pkg/sequence"
)

var (
	ErrInvalidEntity = errors.New("invalid entity")
	ErrNilComponent  = errors.New("nil component")
)

// Registry owns entities and their component tables. It is not safe for concurrent use;
// callers serialize access (in practice the editor's frame goroutine does).
type Registry struct {
	// slot 0 is reserved so that the zero Entity is never valid
	generations []uint32
	alive       []bool
	free        []uint32
	count       int
	pools       map[ComponentID]map[uint32]Component
}

func NewRegistry() *Registry {
	return &Registry{
		generations: []uint32{0},
		alive:       []bool{false},
		pools:       make(map[ComponentID]map[uint32]Component),
	}
}

// Create issues a new entity, recycling destroyed slots first.
func (r *Registry) Create() Entity {
	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.generations))
		r.generations = append(r.generations, 0)
		r.alive = append(r.alive, false)
	}
	r.generations[index]++
	r.alive[index] = true
	r.count++
	return newEntity(index, r.generations[index])
}

// Destroy removes every component of e and releases its slot. Destroying an invalid
// handle is a no-op that returns false.
func (r *Registry) Destroy(e Entity) bool {
	if !r.Valid(e) {
		return false
	}
	for _, pool := range r.pools {
		delete(pool, e.Index())
	}
	r.alive[e.Index()] = false
	r.free = append(r.free, e.Index())
	r.count--
	return true
}

// Valid reports whether e names a live entity of this registry.
func (r *Registry) Valid(e Entity) bool {
	index := e.Index()
	if index == 0 || int(index) >= len(r.generations) {
		return false
	}
	return r.alive[index] && r.generations[index] == e.Generation()
}

// FromRaw resolves a raw handle against the live slots.
func (r *Registry) FromRaw(raw uint64) (Entity, bool) {
	e := EntityFromRaw(raw)
	if !r.Valid(e) {
		return Null, false
	}
	return e, true
}

// Len returns the number of live entities.
func (r *Registry) Len() int {
	return r.count
}

// Emplace attaches c to e, replacing any component of the same type.
func (r *Registry) Emplace(e Entity, c Component) error {
	if c == nil {
		return ErrNilComponent
	}
	if !r.Valid(e) {
		return fmt.Errorf("emplace component %d on %s: %w", c.TypeID(), e, ErrInvalidEntity)
	}
	pool, ok := r.pools[c.TypeID()]
	if !ok {
		pool = make(map[uint32]Component)
		r.pools[c.TypeID()] = pool
	}
	pool[e.Index()] = c
	return nil
}

func (r *Registry) Component(e Entity, id ComponentID) (Component, bool) {
	if !r.Valid(e) {
		return nil, false
	}
	c, ok := r.pools[id][e.Index()]
	return c, ok
}

func (r *Registry) Has(e Entity, id ComponentID) bool {
	_, ok := r.Component(e, id)
	return ok
}

func (r *Registry) Remove(e Entity, id ComponentID) bool {
	if !r.Has(e, id) {
		return false
	}
	delete(r.pools[id], e.Index())
	return true
}

// Components lists the component types attached to e in ascending id order.
func (r *Registry) Components(e Entity) []ComponentID {
	if !r.Valid(e) {
		return nil
	}
	var ids []ComponentID
	for id, pool := range r.pools {
		if _, ok := pool[e.Index()]; ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Entities iterates over live entities in slot order.
func (r *Registry) Entities() *sequence.Iterator[Entity] {
	return sequence.FromSeq(func(yield func(Entity) bool) {
		for index := 1; index < len(r.generations); index++ {
			if !r.alive[index] {
				continue
			}
			if !yield(newEntity(uint32(index), r.generations[index])) {
				return
			}
		}
	})
}

// View iterates over live entities that have every listed component, in slot order.
func (r *Registry) View(ids ...ComponentID) *sequence.Iterator[Entity] {
	return r.Entities().Filter(func(e Entity) bool {
		for _, id := range ids {
			if _, ok := r.pools[id][e.Index()]; !ok {
				return false
			}
		}
		return true
	})
}

// Clear destroys every entity. Slots are released highest first so entities created
// afterwards are issued in slot order again.
func (r *Registry) Clear() {
	entities := r.Entities().Collect()
	slices.Reverse(entities)
	for _, e := range entities {
		r.Destroy(e)
	}
}
