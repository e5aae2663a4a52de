package encoding

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAML is the human-editable text format.
var YAML Format = yamlFormat{}

type yamlFormat struct{}

type yamlRecord struct {
	Entity     Ref            `yaml:"entity"`
	Components map[string]any `yaml:"components"`
}

type yamlDocument struct {
	Version  string       `yaml:"version"`
	Entities []yamlRecord `yaml:"entities"`
}

type yamlScene struct {
	Version       string         `yaml:"version"`
	EntitiesCount int            `yaml:"entities_count"`
	Entities      []yamlDocument `yaml:"entities"`
}

type yamlArchivedRecord struct {
	Entity     Ref                  `yaml:"entity"`
	Components map[string]yaml.Node `yaml:"components"`
}

type yamlArchive struct {
	Version  string               `yaml:"version"`
	Entities []yamlArchivedRecord `yaml:"entities"`
}

type yamlSceneArchive struct {
	Version       string        `yaml:"version"`
	EntitiesCount int           `yaml:"entities_count"`
	Entities      []yamlArchive `yaml:"entities"`
}

type yamlField struct {
	node yaml.Node
}

func (f *yamlField) Decode(v any) error {
	return f.node.Decode(v)
}

func (yamlFormat) Name() string      { return "yaml" }
func (yamlFormat) Extension() string { return ".yaml" }

func (yamlFormat) Encode(doc *Document) ([]byte, error) {
	return yaml.Marshal(toYAMLDocument(doc))
}

func (yamlFormat) Decode(data []byte) (*Archive, error) {
	var in yamlArchive
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("yaml: %w: %w", ErrMalformed, err)
	}
	return fromYAMLArchive(in), nil
}

func (yamlFormat) EncodeScene(doc *SceneDocument) ([]byte, error) {
	out := yamlScene{Version: doc.Version, EntitiesCount: doc.EntitiesCount, Entities: make([]yamlDocument, len(doc.Entities))}
	for i := range doc.Entities {
		out.Entities[i] = toYAMLDocument(&doc.Entities[i])
	}
	return yaml.Marshal(out)
}

func (yamlFormat) DecodeScene(data []byte) (*SceneArchive, error) {
	var in yamlSceneArchive
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("yaml: %w: %w", ErrMalformed, err)
	}
	out := &SceneArchive{Version: in.Version, EntitiesCount: in.EntitiesCount, Entities: make([]Archive, len(in.Entities))}
	for i, a := range in.Entities {
		out.Entities[i] = *fromYAMLArchive(a)
	}
	return out, nil
}

func toYAMLDocument(doc *Document) yamlDocument {
	out := yamlDocument{Version: doc.Version, Entities: make([]yamlRecord, len(doc.Entities))}
	for i, r := range doc.Entities {
		out.Entities[i] = yamlRecord{Entity: r.Entity, Components: r.Components}
	}
	return out
}

func fromYAMLArchive(in yamlArchive) *Archive {
	out := &Archive{Version: in.Version, Entities: make([]ArchivedRecord, len(in.Entities))}
	for i, r := range in.Entities {
		fields := make(Fields, len(r.Components))
		for k, node := range r.Components {
			fields[k] = &yamlField{node: node}
		}
		out.Entities[i] = ArchivedRecord{Entity: r.Entity, Components: fields}
	}
	return out
}
