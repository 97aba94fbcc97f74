package annotations

import (
	"encoding/json"
	"errors"
	"strings"
)

// BundleVersion is written into every persisted bundle.
const BundleVersion = "5.3.0"

// Metadata keys mirrored from the top-level fields.
const (
	MetaToolName           = "toolName"
	MetaReferencedImageID  = "referencedImageId"
	MetaReferencedImageURI = "referencedImageURI"
)

// ToolArrowAnnotate is the only kind persisted by default.
const ToolArrowAnnotate = "ArrowAnnotate"

// SurfaceHandle identifies one rendering surface (viewport).
type SurfaceHandle string

// Ownership scopes an annotation to a surface and/or a tool group.
// Surface scoping wins over group scoping.
type Ownership struct {
	Surface SurfaceHandle
	Group   string
}

// Scoped reports whether at least one of the fields is set.
func (o Ownership) Scoped() bool { return o.Surface != "" || o.Group != "" }

// Annotation record produced by a tool. Data is never interpreted here and
// unknown top-level fields are carried through unchanged.
type Annotation struct {
	UID               string
	ToolName          string
	ReferencedImageID string
	Data              json.RawMessage
	Metadata          map[string]any
	Owner             Ownership

	extra map[string]json.RawMessage
}

var errNotObject = errors.New("annotation: not a JSON object")

// UnmarshalJSON accepts both annotationUID and annotationUid and falls back
// to metadata.toolName / metadata.referencedImageId.
func (a *Annotation) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if !strings.HasPrefix(trimmed, "{") {
		return errNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	out := Annotation{}
	take := func(key string, dst any) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		delete(fields, key)
		if string(raw) == "null" {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}
	if err := take("annotationUID", &out.UID); err != nil {
		return err
	}
	if out.UID == "" {
		if err := take("annotationUid", &out.UID); err != nil {
			return err
		}
	} else {
		delete(fields, "annotationUid")
	}
	if err := take("toolName", &out.ToolName); err != nil {
		return err
	}
	if err := take("referencedImageId", &out.ReferencedImageID); err != nil {
		return err
	}
	if err := take("metadata", &out.Metadata); err != nil {
		return err
	}
	if raw, ok := fields["data"]; ok {
		out.Data = append(json.RawMessage(nil), raw...)
		delete(fields, "data")
	}
	if len(fields) > 0 {
		out.extra = fields
	}

	if out.ToolName == "" {
		out.ToolName = out.metaString(MetaToolName)
	}
	if out.ReferencedImageID == "" {
		out.ReferencedImageID = out.metaString(MetaReferencedImageID)
	}
	*a = out
	return nil
}

// MarshalJSON writes the cornerstone-compatible shape. Ownership is never
// serialized.
func (a Annotation) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(a.extra)+5)
	for k, v := range a.extra {
		m[k] = v
	}
	put := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m[key] = b
		return nil
	}
	if err := put("annotationUID", a.UID); err != nil {
		return nil, err
	}
	if a.ToolName != "" {
		if err := put("toolName", a.ToolName); err != nil {
			return nil, err
		}
	}
	if a.ReferencedImageID != "" {
		if err := put("referencedImageId", a.ReferencedImageID); err != nil {
			return nil, err
		}
	}
	if len(a.Data) > 0 {
		m["data"] = a.Data
	} else {
		m["data"] = json.RawMessage("{}")
	}
	if a.Metadata != nil {
		if err := put("metadata", a.Metadata); err != nil {
			return nil, err
		}
	}
	return json.Marshal(m)
}

// Kind returns the tool name, looking into metadata when the top-level
// field is empty.
func (a *Annotation) Kind() string {
	if a.ToolName != "" {
		return a.ToolName
	}
	return a.metaString(MetaToolName)
}

// ImageID returns the referenced image, looking into metadata when the
// top-level field is empty.
func (a *Annotation) ImageID() string {
	if a.ReferencedImageID != "" {
		return a.ReferencedImageID
	}
	return a.metaString(MetaReferencedImageID)
}

// SetMeta sets a metadata key, allocating the map when needed.
func (a *Annotation) SetMeta(key string, v any) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = v
}

func (a *Annotation) metaString(key string) string {
	if a.Metadata == nil {
		return ""
	}
	s, _ := a.Metadata[key].(string)
	return s
}

// Clone returns a deep copy. Data bytes, metadata and pass-through fields
// are not shared with the receiver.
func (a Annotation) Clone() Annotation {
	out := a
	if a.Data != nil {
		out.Data = append(json.RawMessage(nil), a.Data...)
	}
	if a.Metadata != nil {
		out.Metadata = cloneValue(a.Metadata).(map[string]any)
	}
	if a.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(a.extra))
		for k, v := range a.extra {
			out.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return v
	}
}

// Bundle is the persisted {version, objects} document.
type Bundle struct {
	Version string       `json:"version"`
	Objects []Annotation `json:"objects"`
}

// NewBundle wraps objects with the current BundleVersion.
func NewBundle(objects []Annotation) Bundle {
	if objects == nil {
		objects = []Annotation{}
	}
	return Bundle{Version: BundleVersion, Objects: objects}
}

// Clone deep-copies every contained annotation.
func (b Bundle) Clone() Bundle {
	out := Bundle{Version: b.Version, Objects: make([]Annotation, len(b.Objects))}
	for i := range b.Objects {
		out.Objects[i] = b.Objects[i].Clone()
	}
	return out
}

// Len returns the number of annotations.
func (b Bundle) Len() int { return len(b.Objects) }
