// Package properties addresses component fields by slash-separated paths such as
// "Transform/Position/X". The first segment names the component and is handled by the
// caller; the functions here operate on the remaining field path of a struct value.
//
// Fields tagged `prop:"-"` are structural (entity links, bookkeeping) and are skipped by
// Leaves and Diff. Merge still copies them.
package properties

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

const Separator = "/"

var (
	ErrUnknownProperty = errors.New("unknown property")
	ErrNotAssignable   = errors.New("value not assignable to property")
	ErrNotStruct       = errors.New("property target is not a struct")
)

// Join builds a path from segments, ignoring empty ones.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, Separator)
}

// Split breaks a path into segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, Separator)
}

// Head returns the first segment of path and the remainder.
func Head(path string) (string, string) {
	head, rest, _ := strings.Cut(path, Separator)
	return head, rest
}

// Covers reports whether an override at prefix applies to path: either the same path or
// one of its ancestors.
func Covers(prefix, path string) bool {
	if prefix == path {
		return true
	}
	return strings.HasPrefix(path, prefix+Separator)
}

// Lookup returns the addressed field of v. v must be a pointer to a struct.
func Lookup(v any, path string) (reflect.Value, error) {
	rv, err := structValue(v)
	if err != nil {
		return reflect.Value{}, err
	}
	for _, name := range Split(path) {
		for rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return reflect.Value{}, fmt.Errorf("%s: nil pointer at %q: %w", path, name, ErrUnknownProperty)
			}
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%s: %q: %w", path, name, ErrNotStruct)
		}
		f, ok := rv.Type().FieldByName(name)
		if !ok || !f.IsExported() {
			return reflect.Value{}, fmt.Errorf("%s: %q: %w", path, name, ErrUnknownProperty)
		}
		rv = rv.FieldByIndex(f.Index)
	}
	return rv, nil
}

// Get returns the addressed field value as an interface.
func Get(v any, path string) (any, error) {
	rv, err := Lookup(v, path)
	if err != nil {
		return nil, err
	}
	return rv.Interface(), nil
}

// Set assigns value to the addressed field, converting between compatible kinds
// (for example float64 to float32).
func Set(v any, path string, value any) error {
	rv, err := Lookup(v, path)
	if err != nil {
		return err
	}
	if !rv.CanSet() {
		return fmt.Errorf("%s: %w", path, ErrNotAssignable)
	}
	if value == nil {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	in := reflect.ValueOf(value)
	switch {
	case in.Type().AssignableTo(rv.Type()):
		rv.Set(in)
	case in.Type().ConvertibleTo(rv.Type()) && convertible(in.Kind(), rv.Kind()):
		rv.Set(in.Convert(rv.Type()))
	default:
		return fmt.Errorf("%s: %s into %s: %w", path, in.Type(), rv.Type(), ErrNotAssignable)
	}
	return nil
}

// Leaves lists the paths of every non-struct field reachable from v, prefixed by prefix.
func Leaves(v any, prefix string) []string {
	rv, err := structValue(v)
	if err != nil {
		return nil
	}
	var out []string
	walk(rv, prefix, func(path string, _ reflect.Value) {
		out = append(out, path)
	})
	return out
}

// Diff lists the leaf paths whose values differ between a and b, which must share a type.
func Diff(a, b any, prefix string) []string {
	ra, errA := structValue(a)
	rb, errB := structValue(b)
	if errA != nil || errB != nil || ra.Type() != rb.Type() {
		return nil
	}
	var out []string
	diff(ra, rb, prefix, &out)
	return out
}

// Merge copies src into dst field by field. Whenever keep reports true for a path, the
// dst value at that path (and everything under it) is left alone. dst and src must be
// pointers to the same struct type.
func Merge(dst, src any, prefix string, keep func(path string) bool) error {
	rd, err := structValue(dst)
	if err != nil {
		return err
	}
	rs, err := structValue(src)
	if err != nil {
		return err
	}
	if rd.Type() != rs.Type() {
		return fmt.Errorf("merge %s into %s: %w", rs.Type(), rd.Type(), ErrNotAssignable)
	}
	merge(rd, rs, prefix, keep)
	return nil
}

// Label turns a machine path into a display label: "Model/CastShadows" becomes
// "Model › Cast Shadows".
func Label(path string) string {
	parts := Split(path)
	for i, p := range parts {
		parts[i] = words(p)
	}
	return strings.Join(parts, " › ")
}

func structValue(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, ErrNotStruct
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, ErrNotStruct
	}
	return rv, nil
}

func skipped(f reflect.StructField) bool {
	return !f.IsExported() || f.Tag.Get("prop") == "-"
}

func walk(rv reflect.Value, prefix string, visit func(string, reflect.Value)) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if skipped(f) {
			continue
		}
		path := Join(prefix, f.Name)
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct {
			walk(fv, path, visit)
			continue
		}
		visit(path, fv)
	}
}

func diff(a, b reflect.Value, prefix string, out *[]string) {
	t := a.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if skipped(f) {
			continue
		}
		path := Join(prefix, f.Name)
		fa, fb := a.Field(i), b.Field(i)
		if fa.Kind() == reflect.Struct {
			diff(fa, fb, path, out)
			continue
		}
		if !reflect.DeepEqual(fa.Interface(), fb.Interface()) {
			*out = append(*out, path)
		}
	}
}

func merge(dst, src reflect.Value, prefix string, keep func(string) bool) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		path := Join(prefix, f.Name)
		if keep != nil && keep(path) {
			continue
		}
		fd, fs := dst.Field(i), src.Field(i)
		if fd.Kind() == reflect.Struct {
			merge(fd, fs, path, keep)
			continue
		}
		fd.Set(fs)
	}
}

func convertible(from, to reflect.Kind) bool {
	numeric := func(k reflect.Kind) bool {
		return k >= reflect.Int && k <= reflect.Float64
	}
	if numeric(from) && numeric(to) {
		return true
	}
	return from == to
}

func words(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune(' ')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
