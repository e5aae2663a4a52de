// Package encoding defines the archive document written by the snapshot engine and the
// interchangeable formats (json, yaml, binary) that carry it.
//
// A document is a version string plus an ordered list of entity records. Each record pairs
// an entity reference with a components object holding `has_<Type>` presence flags and the
// component values. Formats decode component values lazily through Field, so the codec for
// each component type decides what Go type to decode into.
package encoding

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrUnknownFormat = errors.New("unknown archive format")
	ErrMalformed     = errors.New("malformed archive")
)

// Format encodes and decodes documents. Encoding the same document twice must produce the
// same bytes.
type Format interface {
	Name() string
	Extension() string

	Encode(doc *Document) ([]byte, error)
	Decode(data []byte) (*Archive, error)

	EncodeScene(doc *SceneDocument) ([]byte, error)
	DecodeScene(data []byte) (*SceneArchive, error)
}

// Record is one entity on the write side. Components maps keys to plain values.
type Record struct {
	Entity     Ref
	Components map[string]any
}

// Document is one flattened entity subtree.
type Document struct {
	Version  string
	Entities []Record
}

// SceneDocument is a whole scene: one Document per root, preceded by their count.
type SceneDocument struct {
	Version       string
	EntitiesCount int
	Entities      []Document
}

// Field is a component value waiting to be decoded.
type Field interface {
	Decode(v any) error
}

// Fields is the decoded components object of a record.
type Fields map[string]Field

// Has reports whether key is present.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// Flag decodes a boolean presence flag. A missing key reads as (false, false).
func (f Fields) Flag(key string) (bool, bool) {
	field, ok := f[key]
	if !ok {
		return false, false
	}
	var v bool
	if err := field.Decode(&v); err != nil {
		return false, false
	}
	return v, true
}

// Keys returns the keys in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ArchivedRecord is one entity on the read side.
type ArchivedRecord struct {
	Entity     Ref
	Components Fields
}

type Archive struct {
	Version  string
	Entities []ArchivedRecord
}

type SceneArchive struct {
	Version       string
	EntitiesCount int
	Entities      []Archive
}

var formats = map[string]Format{
	JSON.Name():   JSON,
	YAML.Name():   YAML,
	Binary.Name(): Binary,
}

// FormatByName returns the format registered under name ("json", "yaml", "binary").
func FormatByName(name string) (Format, error) {
	f, ok := formats[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownFormat)
	}
	return f, nil
}

// Detect guesses the format of an encoded archive.
func Detect(data []byte) Format {
	if hasBinaryMagic(data) {
		return Binary
	}
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[':
			return JSON
		}
		return YAML
	}
	return YAML
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
