package annotations

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

// SyntheticParam is the query parameter carrying the disambiguator.
const SyntheticParam = "vp"

// ErrEmptyImageID is returned when there is nothing to derive from.
var ErrEmptyImageID = errors.New("annotations: empty image identifier")

// DeriveSyntheticID sets the vp query parameter of baseID's location to
// disambiguator, keeping the scheme prefix. The result depends only on the
// inputs. An empty disambiguator returns baseID unchanged.
func DeriveSyntheticID(baseID, disambiguator string) (string, error) {
	baseID = strings.TrimSpace(baseID)
	if baseID == "" {
		return "", ErrEmptyImageID
	}
	if disambiguator == "" {
		return baseID, nil
	}
	scheme, location := imageid.SplitScheme(baseID)
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("derive synthetic id from %q: %w", baseID, err)
	}
	q := u.Query()
	q.Set(SyntheticParam, disambiguator)
	u.RawQuery = q.Encode()

	if scheme == "" {
		return u.String(), nil
	}
	return scheme + ":" + u.String(), nil
}

// BaseID drops the vp query parameter from id, undoing DeriveSyntheticID.
// Identifiers without one, or that do not parse, are returned trimmed but
// otherwise unchanged.
func BaseID(id string) string {
	id = strings.TrimSpace(id)
	scheme, location := imageid.SplitScheme(id)
	u, err := url.Parse(location)
	if err != nil || u.RawQuery == "" {
		return id
	}
	q := u.Query()
	if !q.Has(SyntheticParam) {
		return id
	}
	q.Del(SyntheticParam)
	u.RawQuery = q.Encode()
	if scheme == "" {
		return u.String()
	}
	return scheme + ":" + u.String()
}

// Unsynthesize points a and its metadata mirrors back at the base identity.
func Unsynthesize(a *Annotation) {
	if a.ReferencedImageID != "" {
		a.ReferencedImageID = BaseID(a.ReferencedImageID)
	}
	if a.Metadata == nil {
		return
	}
	for _, key := range []string{MetaReferencedImageID, MetaReferencedImageURI} {
		if v, ok := a.Metadata[key].(string); ok && v != "" {
			a.Metadata[key] = BaseID(v)
		}
	}
}

// FragmentFor returns the substring every identity derived with
// disambiguator contains.
func FragmentFor(disambiguator string) string {
	return SyntheticParam + "=" + url.QueryEscape(disambiguator)
}

// RemapBundle returns a deep copy of b with every annotation pointing at
// newID, including the metadata mirrors that are present. b is not modified.
func RemapBundle(b Bundle, newID string) Bundle {
	out := b.Clone()
	for i := range out.Objects {
		remap(&out.Objects[i], newID)
	}
	return out
}

func remap(a *Annotation, newID string) {
	a.ReferencedImageID = newID
	if a.Metadata == nil {
		return
	}
	if _, ok := a.Metadata[MetaReferencedImageID]; ok {
		a.Metadata[MetaReferencedImageID] = newID
	}
	if _, ok := a.Metadata[MetaReferencedImageURI]; ok {
		a.Metadata[MetaReferencedImageURI] = imageid.StripScheme(newID)
	}
}
