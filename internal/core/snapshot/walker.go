package snapshot

import (
	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
)

// Count returns the number of live entities in the subtree rooted at root.
func Count(reg *ecs.Registry, root ecs.Entity) int {
	n := 0
	walk(reg, root, make(map[ecs.Entity]struct{}), func(ecs.Entity) { n++ })
	return n
}

// Flatten lists the subtree rooted at root, every parent before its children and siblings
// in child order. Entities reachable twice are listed once.
func Flatten(reg *ecs.Registry, root ecs.Entity) []ecs.Entity {
	out := make([]ecs.Entity, 0, Count(reg, root))
	walk(reg, root, make(map[ecs.Entity]struct{}, cap(out)), func(e ecs.Entity) {
		out = append(out, e)
	})
	return out
}

func walk(reg *ecs.Registry, e ecs.Entity, seen map[ecs.Entity]struct{}, visit func(ecs.Entity)) {
	if !reg.Valid(e) {
		return
	}
	if _, ok := seen[e]; ok {
		return
	}
	seen[e] = struct{}{}
	visit(e)
	for _, child := range components.Children(reg, e) {
		walk(reg, child, seen, visit)
	}
}
