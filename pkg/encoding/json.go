package encoding

import (
	"encoding/json"
	"fmt"
)

// JSON is the indented, diff-friendly text format.
var JSON Format = jsonFormat{}

type jsonFormat struct{}

type jsonRecord struct {
	Entity     Ref            `json:"entity"`
	Components map[string]any `json:"components"`
}

type jsonDocument struct {
	Version  string       `json:"version"`
	Entities []jsonRecord `json:"entities"`
}

type jsonScene struct {
	Version       string         `json:"version"`
	EntitiesCount int            `json:"entities_count"`
	Entities      []jsonDocument `json:"entities"`
}

type jsonArchivedRecord struct {
	Entity     Ref                        `json:"entity"`
	Components map[string]json.RawMessage `json:"components"`
}

type jsonArchive struct {
	Version  string               `json:"version"`
	Entities []jsonArchivedRecord `json:"entities"`
}

type jsonSceneArchive struct {
	Version       string        `json:"version"`
	EntitiesCount int           `json:"entities_count"`
	Entities      []jsonArchive `json:"entities"`
}

type jsonField json.RawMessage

func (f jsonField) Decode(v any) error {
	return json.Unmarshal(f, v)
}

func (jsonFormat) Name() string      { return "json" }
func (jsonFormat) Extension() string { return ".json" }

func (jsonFormat) Encode(doc *Document) ([]byte, error) {
	return json.MarshalIndent(toJSONDocument(doc), "", "  ")
}

func (jsonFormat) Decode(data []byte) (*Archive, error) {
	var in jsonArchive
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("json: %w: %w", ErrMalformed, err)
	}
	return fromJSONArchive(in), nil
}

func (jsonFormat) EncodeScene(doc *SceneDocument) ([]byte, error) {
	out := jsonScene{Version: doc.Version, EntitiesCount: doc.EntitiesCount, Entities: make([]jsonDocument, len(doc.Entities))}
	for i := range doc.Entities {
		out.Entities[i] = toJSONDocument(&doc.Entities[i])
	}
	return json.MarshalIndent(out, "", "  ")
}

func (jsonFormat) DecodeScene(data []byte) (*SceneArchive, error) {
	var in jsonSceneArchive
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("json: %w: %w", ErrMalformed, err)
	}
	out := &SceneArchive{Version: in.Version, EntitiesCount: in.EntitiesCount, Entities: make([]Archive, len(in.Entities))}
	for i, a := range in.Entities {
		out.Entities[i] = *fromJSONArchive(a)
	}
	return out, nil
}

func toJSONDocument(doc *Document) jsonDocument {
	out := jsonDocument{Version: doc.Version, Entities: make([]jsonRecord, len(doc.Entities))}
	for i, r := range doc.Entities {
		out.Entities[i] = jsonRecord{Entity: r.Entity, Components: r.Components}
	}
	return out
}

func fromJSONArchive(in jsonArchive) *Archive {
	out := &Archive{Version: in.Version, Entities: make([]ArchivedRecord, len(in.Entities))}
	for i, r := range in.Entities {
		fields := make(Fields, len(r.Components))
		for k, raw := range r.Components {
			fields[k] = jsonField(raw)
		}
		out.Entities[i] = ArchivedRecord{Entity: r.Entity, Components: fields}
	}
	return out
}
