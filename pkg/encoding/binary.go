package encoding

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/zeusync/prefabkit/pkg/generic"
)

// Binary is the compact gob-based format. Every component value is gob-encoded on its own
// so it can be decoded into whatever type the component codec asks for.
var Binary Format = binaryFormat{}

var binaryMagic = []byte("PFKB\x01")

var bufferPool = generic.NewResetPool(func() *bytes.Buffer { return new(bytes.Buffer) }, func(b *bytes.Buffer) { b.Reset() })

type binaryFormat struct{}

type binaryField struct {
	Key  string
	Data []byte
}

type binaryRecord struct {
	Entity     Ref
	Components []binaryField
}

type binaryDocument struct {
	Version  string
	Entities []binaryRecord
}

type binaryScene struct {
	Version       string
	EntitiesCount int
	Entities      []binaryDocument
}

type gobField []byte

func (f gobField) Decode(v any) error {
	return gob.NewDecoder(bytes.NewReader(f)).Decode(v)
}

func hasBinaryMagic(data []byte) bool {
	return bytes.HasPrefix(data, binaryMagic)
}

func (binaryFormat) Name() string      { return "binary" }
func (binaryFormat) Extension() string { return ".bin" }

func (binaryFormat) Encode(doc *Document) ([]byte, error) {
	out, err := toBinaryDocument(doc)
	if err != nil {
		return nil, err
	}
	return writeBinary(out)
}

func (binaryFormat) Decode(data []byte) (*Archive, error) {
	var in binaryDocument
	if err := readBinary(data, &in); err != nil {
		return nil, err
	}
	return fromBinaryDocument(in), nil
}

func (binaryFormat) EncodeScene(doc *SceneDocument) ([]byte, error) {
	out := binaryScene{Version: doc.Version, EntitiesCount: doc.EntitiesCount, Entities: make([]binaryDocument, len(doc.Entities))}
	for i := range doc.Entities {
		d, err := toBinaryDocument(&doc.Entities[i])
		if err != nil {
			return nil, err
		}
		out.Entities[i] = d
	}
	return writeBinary(out)
}

func (binaryFormat) DecodeScene(data []byte) (*SceneArchive, error) {
	var in binaryScene
	if err := readBinary(data, &in); err != nil {
		return nil, err
	}
	out := &SceneArchive{Version: in.Version, EntitiesCount: in.EntitiesCount, Entities: make([]Archive, len(in.Entities))}
	for i, d := range in.Entities {
		out.Entities[i] = *fromBinaryDocument(d)
	}
	return out, nil
}

func writeBinary(v any) ([]byte, error) {
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)
	buf.Write(binaryMagic)
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("binary: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func readBinary(data []byte, v any) error {
	if !hasBinaryMagic(data) {
		return fmt.Errorf("binary: missing header: %w", ErrMalformed)
	}
	if err := gob.NewDecoder(bytes.NewReader(data[len(binaryMagic):])).Decode(v); err != nil {
		return fmt.Errorf("binary: %w: %w", ErrMalformed, err)
	}
	return nil
}

func toBinaryDocument(doc *Document) (binaryDocument, error) {
	out := binaryDocument{Version: doc.Version, Entities: make([]binaryRecord, len(doc.Entities))}
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)
	for i, r := range doc.Entities {
		rec := binaryRecord{Entity: r.Entity, Components: make([]binaryField, 0, len(r.Components))}
		for _, key := range sortedKeys(r.Components) {
			buf.Reset()
			if err := gob.NewEncoder(buf).Encode(r.Components[key]); err != nil {
				return binaryDocument{}, fmt.Errorf("binary: component %q: %w", key, err)
			}
			rec.Components = append(rec.Components, binaryField{Key: key, Data: bytes.Clone(buf.Bytes())})
		}
		out.Entities[i] = rec
	}
	return out, nil
}

func fromBinaryDocument(in binaryDocument) *Archive {
	out := &Archive{Version: in.Version, Entities: make([]ArchivedRecord, len(in.Entities))}
	for i, r := range in.Entities {
		fields := make(Fields, len(r.Components))
		for _, f := range r.Components {
			fields[f.Key] = gobField(f.Data)
		}
		out.Entities[i] = ArchivedRecord{Entity: r.Entity, Components: fields}
	}
	return out
}
