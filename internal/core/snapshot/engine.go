package snapshot

import (
	"fmt"
	"io"

	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/pkg/encoding"
)

// SaveOptions select the kind of save. They only apply when the call activates the save
// context; nested calls inherit the active one.
type SaveOptions struct {
	ToPrefab bool
	Clone    CloneMode
	// Format overrides the engine format.
	Format encoding.Format
}

// Engine saves entity subtrees and scenes to archives and loads them back.
//
// Every entry point takes an optional *Session. Passing nil runs the call in a fresh
// session; passing the session of an ongoing save or load makes the call share its stream
// ids and identity table.
type Engine struct {
	log    log.Log
	format encoding.Format
	codecs []ComponentCodec
}

type Option func(*Engine)

// WithFormat sets the format archives are written in. Loads detect the format.
func WithFormat(f encoding.Format) Option {
	return func(en *Engine) {
		if f != nil {
			en.format = f
		}
	}
}

// WithCodecs registers extra component codecs after the built-in ones.
func WithCodecs(codecs ...ComponentCodec) Option {
	return func(en *Engine) {
		en.codecs = append(en.codecs, codecs...)
	}
}

func NewEngine(logger log.Log, opts ...Option) *Engine {
	if logger == nil {
		logger = log.Provide()
	}
	en := &Engine{log: logger.Named("snapshot"), format: encoding.JSON}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

func (en *Engine) Format() encoding.Format {
	return en.format
}

// Using returns a copy of the engine writing format f.
func (en *Engine) Using(f encoding.Format) *Engine {
	cp := *en
	cp.format = f
	return &cp
}

// NewSession starts a session against reg.
func (en *Engine) NewSession(reg *ecs.Registry) *Session {
	return NewSession(reg, en.log).WithCodecs(en.codecs...)
}

func (en *Engine) session(sess *Session, reg *ecs.Registry) (*Session, error) {
	if sess == nil {
		return en.NewSession(reg), nil
	}
	if reg != nil && sess.reg != reg {
		return nil, ErrRegistryMismatch
	}
	return sess, nil
}

// SaveDocument flattens the subtree rooted at root into a document.
func (en *Engine) SaveDocument(sess *Session, reg *ecs.Registry, root ecs.Entity, opts SaveOptions) (*encoding.Document, error) {
	sess, err := en.session(sess, reg)
	if err != nil {
		return nil, err
	}
	if !sess.reg.Valid(root) {
		return nil, fmt.Errorf("save %s: %w", root, ErrInvalidRoot)
	}
	pushed := sess.PushSave(SaveContext{ToPrefab: opts.ToPrefab, Clone: opts.Clone, Source: root})
	defer sess.PopSave(pushed)
	return sess.saveSubtree(root)
}

// SaveToBytes saves the subtree rooted at root and encodes it.
func (en *Engine) SaveToBytes(sess *Session, reg *ecs.Registry, root ecs.Entity, opts SaveOptions) ([]byte, error) {
	doc, err := en.SaveDocument(sess, reg, root, opts)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == nil {
		format = en.format
	}
	data, err := format.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format.Name(), err)
	}
	en.log.Debug("saved subtree",
		log.Stringer("root", root), log.Int("entities", len(doc.Entities)), log.String("format", format.Name()))
	return data, nil
}

// SaveToStream writes the encoded subtree rooted at root to w.
func (en *Engine) SaveToStream(w io.Writer, sess *Session, reg *ecs.Registry, root ecs.Entity, opts SaveOptions) error {
	data, err := en.SaveToBytes(sess, reg, root, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// LoadArchive materializes a decoded archive and returns the entity of its first record.
// A failure part way through leaves the entities loaded so far in place.
func (en *Engine) LoadArchive(sess *Session, reg *ecs.Registry, archive *encoding.Archive, ctx LoadContext) (root ecs.Entity, err error) {
	sess, err = en.session(sess, reg)
	if err != nil {
		return ecs.Null, err
	}
	if _, err = encoding.CheckVersion(archive.Version); err != nil {
		return ecs.Null, fmt.Errorf("%w: %v", ErrUnsupportedVersion, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedStream, r)
		}
	}()
	pushed := sess.PushLoad(ctx)
	defer sess.PopLoad(pushed)

	return sess.loadArchive(archive)
}

// LoadFromBytes decodes data, detecting its format, and loads it.
func (en *Engine) LoadFromBytes(sess *Session, reg *ecs.Registry, data []byte, ctx LoadContext) (ecs.Entity, error) {
	format := encoding.Detect(data)
	archive, err := format.Decode(data)
	if err != nil {
		return ecs.Null, fmt.Errorf("%w: %v", ErrMalformedStream, err)
	}
	root, err := en.LoadArchive(sess, reg, archive, ctx)
	if err != nil {
		en.log.Warn("load failed", log.String("format", format.Name()), log.Error(err))
		return root, err
	}
	en.log.Debug("loaded subtree",
		log.Stringer("root", root), log.Int("records", len(archive.Entities)), log.String("format", format.Name()))
	return root, nil
}

// LoadFromStream reads r to the end and loads it.
func (en *Engine) LoadFromStream(r io.Reader, sess *Session, reg *ecs.Registry, ctx LoadContext) (ecs.Entity, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return ecs.Null, err
	}
	return en.LoadFromBytes(sess, reg, data, ctx)
}

// SaveScene saves every root of reg, each as its own document.
func (en *Engine) SaveScene(sess *Session, reg *ecs.Registry) ([]byte, error) {
	sess, err := en.session(sess, reg)
	if err != nil {
		return nil, err
	}
	pushed := sess.PushSave(SaveContext{})
	defer sess.PopSave(pushed)

	roots := components.Roots(sess.reg)
	doc := &encoding.SceneDocument{
		Version:       encoding.CurrentVersion,
		EntitiesCount: len(roots),
		Entities:      make([]encoding.Document, 0, len(roots)),
	}
	for _, root := range roots {
		d, err := sess.saveSubtree(root)
		if err != nil {
			return nil, err
		}
		doc.Entities = append(doc.Entities, *d)
	}
	data, err := en.format.EncodeScene(doc)
	if err != nil {
		return nil, fmt.Errorf("encode scene %s: %w", en.format.Name(), err)
	}
	en.log.Debug("saved scene", log.Int("roots", len(roots)), log.Int("entities", sess.reg.Len()))
	return data, nil
}

// LoadScene loads a scene archive into reg and returns the loaded roots.
func (en *Engine) LoadScene(sess *Session, reg *ecs.Registry, data []byte) (roots []ecs.Entity, err error) {
	sess, err = en.session(sess, reg)
	if err != nil {
		return nil, err
	}
	scene, err := encoding.Detect(data).DecodeScene(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStream, err)
	}
	if _, err = encoding.CheckVersion(scene.Version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedVersion, err)
	}
	if scene.EntitiesCount != len(scene.Entities) {
		return nil, fmt.Errorf("scene declares %d roots, holds %d: %w",
			scene.EntitiesCount, len(scene.Entities), ErrMalformedStream)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedStream, r)
		}
	}()
	pushed := sess.PushLoad(LoadContext{})
	defer sess.PopLoad(pushed)

	roots = make([]ecs.Entity, 0, len(scene.Entities))
	for i := range scene.Entities {
		root, err := sess.loadArchive(&scene.Entities[i])
		if err != nil {
			return roots, err
		}
		if !root.IsNull() {
			roots = append(roots, root)
		}
	}
	return roots, nil
}

// Clone duplicates the subtree rooted at e within its registry. The copy is attached to
// the parent of e.
func (en *Engine) Clone(reg *ecs.Registry, e ecs.Entity, mode CloneMode) (ecs.Entity, error) {
	data, err := en.SaveToBytes(nil, reg, e, SaveOptions{Clone: mode, Format: encoding.Binary})
	if err != nil {
		return ecs.Null, err
	}
	return en.LoadFromBytes(nil, reg, data, LoadContext{Clone: mode})
}

func (s *Session) saveSubtree(root ecs.Entity) (*encoding.Document, error) {
	st := s.save
	entities := Flatten(s.reg, root)
	if st.Source != ecs.Null {
		if st.members == nil {
			st.members = make(map[ecs.Entity]struct{}, len(entities))
		}
		for _, e := range entities {
			st.members[e] = struct{}{}
		}
	}
	if st.ToPrefab {
		for _, e := range entities {
			if _, err := components.EnsurePrefabID(s.reg, e); err != nil {
				return nil, err
			}
		}
	}

	if !ecs.Has[*components.Root](s.reg, root) {
		if err := s.reg.Emplace(root, &components.Root{}); err != nil {
			return nil, err
		}
		defer ecs.Remove[*components.Root](s.reg, root)
	}

	doc := &encoding.Document{
		Version:  encoding.CurrentVersion,
		Entities: make([]encoding.Record, 0, len(entities)),
	}
	for _, e := range entities {
		ref := s.WriteRef(e, false)
		comps, err := s.saveComponents(e)
		if err != nil {
			return nil, err
		}
		doc.Entities = append(doc.Entities, encoding.Record{Entity: ref, Components: comps})
	}
	return doc, nil
}

func (s *Session) loadArchive(archive *encoding.Archive) (ecs.Entity, error) {
	st := s.load
	skipped := make(map[uint64]struct{})
	first := ecs.Null
	for _, rec := range archive.Entities {
		if parent, ok := parentOf(rec.Components); ok && parent.ID != 0 {
			if _, skip := skipped[parent.ID]; skip {
				skipped[rec.Entity.ID] = struct{}{}
				continue
			}
		}
		if !st.targetBound && s.reg.Valid(st.Target) {
			st.targetBound = true
			s.bind(rec.Entity, st.Target)
			s.consume(st.Target)
		}

		e := s.ResolveRef(rec.Entity)
		if !s.reg.Valid(e) {
			if rec.Entity.ID != 0 {
				skipped[rec.Entity.ID] = struct{}{}
			}
			s.log.Debug("skipped record", log.Uint64("stream_id", rec.Entity.ID))
			continue
		}
		if _, dup := st.loadedSet[e]; dup {
			return first, fmt.Errorf("entity %s recorded twice: %w", e, ErrMalformedStream)
		}
		st.loadedSet[e] = struct{}{}
		st.loaded = append(st.loaded, e)
		if err := s.loadComponents(e, rec.Components); err != nil {
			return first, err
		}
		if first.IsNull() {
			first = e
		}
	}
	return first, nil
}
