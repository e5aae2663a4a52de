package snapshot

import (
	"github.com/google/uuid"
	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/pkg/encoding"
)

// streamID returns the stream id of e, assigning the next one on first sight.
func (st *saveState) streamID(e ecs.Entity) uint64 {
	if id, ok := st.ids[e]; ok {
		return id
	}
	st.next++
	st.ids[e] = st.next
	return st.next
}

func (st *saveState) inStream(e ecs.Entity) bool {
	if st.members == nil {
		return true
	}
	_, ok := st.members[e]
	return ok
}

// WriteRef encodes a reference to e for the active save. Parent links are flagged so the
// loader knows their target was written earlier in the stream. References leaving the saved
// subtree keep the live handle, except in templates where they are dropped.
func (s *Session) WriteRef(e ecs.Entity, parentLink bool) encoding.Ref {
	st := s.save
	if st == nil || e.IsNull() || !s.reg.Valid(e) {
		return encoding.Ref{}
	}
	if !st.inStream(e) {
		if st.ToPrefab {
			return encoding.Ref{}
		}
		return encoding.Ref{Flags: encoding.FlagResolveWithExisting, Raw: e.Raw()}
	}

	ref := encoding.Ref{ID: st.streamID(e)}
	if parentLink {
		ref.Flags = encoding.FlagResolveWithLoaded
	}
	if st.ToPrefab {
		if uid := components.StableID(s.reg, e); uid != uuid.Nil {
			ref.UID = &uid
		}
	}
	return ref
}

// ResolveRef turns a reference back into a live entity for the active load. Unresolvable
// references yield ecs.Null.
func (s *Session) ResolveRef(ref encoding.Ref) ecs.Entity {
	st := s.load
	if st == nil || ref.IsNull() {
		return ecs.Null
	}

	if ref.Flags == encoding.FlagResolveWithExisting {
		if e, ok := s.reg.FromRaw(ref.Raw); ok {
			return e
		}
		return ecs.Null
	}

	if e, ok := st.byStream[ref.ID]; ok && ref.ID != 0 {
		if s.reg.Valid(e) {
			return e
		}
		return ecs.Null
	}

	if uid := ref.StableID(); uid != uuid.Nil {
		if _, removed := st.removed[uid]; removed {
			return ecs.Null
		}
		if m, ok := st.byUID[uid]; ok {
			if m.Consumed || !s.reg.Valid(m.Entity) {
				s.log.Debug("template id already consumed", log.Stringer("uid", uid))
				return ecs.Null
			}
			s.bind(ref, m.Entity)
			return m.Entity
		}
	}

	if ref.ID == 0 {
		return ecs.Null
	}
	if ref.Flags == encoding.FlagResolveWithLoaded {
		s.log.Debug("parent referenced before being loaded", log.Uint64("stream_id", ref.ID))
	}
	e := s.reg.Create()
	st.created[e] = struct{}{}
	st.byStream[ref.ID] = e
	return e
}

// bind maps the stream id (and template id, if seeded for e) of ref to e.
func (s *Session) bind(ref encoding.Ref, e ecs.Entity) {
	st := s.load
	if ref.ID != 0 {
		st.byStream[ref.ID] = e
	}
	if uid := ref.StableID(); uid != uuid.Nil {
		if m, ok := st.byUID[uid]; ok && m.Entity == e {
			m.Consumed = true
		}
	}
}

// consume marks every seeded template id bound to e as matched, whatever id the record
// carries for it.
func (s *Session) consume(e ecs.Entity) {
	for _, m := range s.load.byUID {
		if m.Entity == e {
			m.Consumed = true
		}
	}
}
