package ecs

import "fmt"

// Entity is a weak handle into a Registry: the slot index in the low word and the
// generation the slot had when the handle was issued in the high word. Handles to
// destroyed entities stop being Valid once the slot is recycled. The zero value is Null
// and never names a live entity.
type Entity uint64

// Null is the reserved "no entity" handle.
const Null Entity = 0

func newEntity(index, generation uint32) Entity {
	return Entity(uint64(generation)<<32 | uint64(index))
}

func (e Entity) IsNull() bool {
	return e.Index() == 0
}

func (e Entity) Index() uint32 {
	return uint32(e)
}

func (e Entity) Generation() uint32 {
	return uint32(e >> 32)
}

// Raw returns the packed handle.
func (e Entity) Raw() uint64 {
	return uint64(e)
}

// EntityFromRaw is the inverse of Raw. The result is not checked against any registry.
func EntityFromRaw(raw uint64) Entity {
	return Entity(raw)
}

func (e Entity) String() string {
	if e.IsNull() {
		return "entity(null)"
	}
	return fmt.Sprintf("entity(%d:%d)", e.Index(), e.Generation())
}
