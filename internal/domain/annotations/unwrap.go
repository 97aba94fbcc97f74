package annotations

import (
	"bytes"
	"encoding/json"
)

// MaxWrapDepth caps how many JSON-string layers are decoded.
const MaxWrapDepth = 3

const maxNesting = 8

// Shape tags the innermost structure Unwrap resolved to.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeBundle
	ShapeArray
)

func (s Shape) String() string {
	switch s {
	case ShapeBundle:
		return "bundle"
	case ShapeArray:
		return "array"
	default:
		return "none"
	}
}

// Unwrapped is the result of Unwrap. Objects is never nil.
type Unwrapped struct {
	// Container is the outermost {annotations: ...} wrapper, nil when the
	// input was the bundle or array itself.
	Container map[string]json.RawMessage
	Version   string
	Objects   []Annotation
	Shape     Shape
	// Depth counts decoded string layers.
	Depth int
	// Skipped counts array elements that were not annotation objects.
	Skipped int
}

// Bundle returns the resolved objects as a bundle. Version defaults to
// BundleVersion.
func (u Unwrapped) Bundle() Bundle {
	b := NewBundle(u.Objects)
	if u.Version != "" {
		b.Version = u.Version
	}
	return b
}

// Empty reports whether no annotations were recovered.
func (u Unwrapped) Empty() bool { return len(u.Objects) == 0 }

// Unwrap resolves a persisted container string into a flat annotation list.
// The empty string stands for null. It never fails: anything that cannot be
// interpreted yields zero objects.
func Unwrap(raw string) Unwrapped {
	return UnwrapRaw([]byte(raw))
}

// UnwrapRaw is Unwrap over an already extracted JSON value.
func UnwrapRaw(raw []byte) Unwrapped {
	u := Unwrapped{}
	if !u.resolve(raw, 0, 0) {
		return Unwrapped{Objects: []Annotation{}}
	}
	if u.Objects == nil {
		u.Objects = []Annotation{}
	}
	return u
}

func (u *Unwrapped) resolve(raw []byte, depth, nesting int) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || nesting > maxNesting {
		return false
	}
	switch raw[0] {
	case '"':
		inner, ok := decodeString(raw, depth)
		if !ok {
			return false
		}
		u.Depth = depth + 1
		return u.resolve(inner, depth+1, nesting+1)
	case '[':
		objs, skipped, _, ok := decodeList(raw, depth)
		if !ok {
			return false
		}
		u.Objects, u.Skipped, u.Shape = objs, skipped, ShapeArray
		return true
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return false
		}
		if objects, ok := fields["objects"]; ok {
			objs, skipped, d, ok := decodeList(objects, depth)
			if !ok {
				return false
			}
			u.Depth = d
			var version string
			_ = json.Unmarshal(fields["version"], &version)
			u.Objects, u.Skipped, u.Shape, u.Version = objs, skipped, ShapeBundle, version
			return true
		}
		if inner, ok := fields["annotations"]; ok {
			if !u.resolve(inner, depth, nesting+1) {
				return false
			}
			// unwinding outwards, so the outermost wrapper is assigned last
			u.Container = fields
			return true
		}
		return false
	default:
		return false
	}
}

func decodeString(raw []byte, depth int) ([]byte, bool) {
	if depth >= MaxWrapDepth {
		return nil, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return []byte(s), true
}

// decodeList decodes an array of annotations, itself possibly string-wrapped.
// Elements that are not annotation objects are skipped.
func decodeList(raw []byte, depth int) ([]Annotation, int, int, bool) {
	raw = bytes.TrimSpace(raw)
	for len(raw) > 0 && raw[0] == '"' {
		inner, ok := decodeString(raw, depth)
		if !ok {
			return nil, 0, depth, false
		}
		raw, depth = bytes.TrimSpace(inner), depth+1
	}
	var elems []json.RawMessage
	if len(raw) == 0 || raw[0] != '[' {
		return nil, 0, depth, false
	}
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, 0, depth, false
	}
	objs := make([]Annotation, 0, len(elems))
	skipped := 0
	for _, e := range elems {
		var a Annotation
		if err := json.Unmarshal(e, &a); err != nil {
			skipped++
			continue
		}
		objs = append(objs, a)
	}
	return objs, skipped, depth, true
}
