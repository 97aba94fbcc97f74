package imageid

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// NoFrame marks an identifier without a frames segment.
const NoFrame = -1

// ErrUnparsable is wrapped by every ParseError.
var ErrUnparsable = errors.New("imageid: unparsable identifier")

var keyPattern = regexp.MustCompile(`studies/(\d+)/series/(\d+)/(images|instances)/(\d+)(?:/frames/(\d+))?`)

// Keys value object, hierarchical address of one image (and optional frame)
type Keys struct {
	StudyKey  int64 `json:"studyKey"`
	SeriesKey int64 `json:"seriesKey"`
	ImageKey  int64 `json:"imageKey"`
	FrameNo   int   `json:"frameNo"`
}

// HasFrame reports whether the identifier carried a frames segment.
func (k Keys) HasFrame() bool { return k.FrameNo >= 0 }

// Path returns studies/{s}/series/{se}/images/{i}, without frame.
func (k Keys) Path() string {
	return fmt.Sprintf("studies/%d/series/%d/images/%d", k.StudyKey, k.SeriesKey, k.ImageKey)
}

func (k Keys) String() string {
	if k.HasFrame() {
		return fmt.Sprintf("%s/frames/%d", k.Path(), k.FrameNo)
	}
	return k.Path()
}

// ParseError describes why an identifier could not be turned into Keys.
type ParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imageid: parse %q: %s: %v", e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("imageid: parse %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnparsable, e.Err}
	}
	return []error{ErrUnparsable}
}

// ParseKeys extracts study/series/image/frame keys from an identifier.
// Both "images" and "instances" spellings are accepted.
func ParseKeys(id string) (Keys, error) {
	m := keyPattern.FindStringSubmatch(id)
	if m == nil {
		return Keys{}, &ParseError{Input: id, Reason: "no studies/series/images segment"}
	}

	var k Keys
	var err error
	if k.StudyKey, err = parseKey(id, "studyKey", m[1]); err != nil {
		return Keys{}, err
	}
	if k.SeriesKey, err = parseKey(id, "seriesKey", m[2]); err != nil {
		return Keys{}, err
	}
	if k.ImageKey, err = parseKey(id, "imageKey", m[4]); err != nil {
		return Keys{}, err
	}

	k.FrameNo = NoFrame
	if m[5] != "" {
		f, err := strconv.ParseInt(m[5], 10, 32)
		if err != nil {
			return Keys{}, &ParseError{Input: id, Reason: "frameNo out of range", Err: err}
		}
		k.FrameNo = int(f)
	}
	return k, nil
}

func parseKey(id, name, digits string) (int64, error) {
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, &ParseError{Input: id, Reason: name + " out of range", Err: err}
	}
	return v, nil
}

// Build is the inverse of ParseKeys. base is the location prefix before
// "studies/", scheme is optional. All whitespace is removed from the result.
func Build(scheme, base string, k Keys) string {
	var b strings.Builder
	if scheme != "" {
		b.WriteString(scheme)
		b.WriteByte(':')
	}
	base = strings.TrimRight(base, "/ ")
	if base != "" {
		b.WriteString(base)
		b.WriteByte('/')
	}
	b.WriteString(k.String())
	return stripSpace(b.String())
}

// SplitScheme separates "wadouri:http://h/x" into ("wadouri", "http://h/x").
// A bare URL such as "http://h/x" has no scheme prefix.
func SplitScheme(id string) (scheme, location string) {
	i := strings.IndexByte(id, ':')
	if i <= 0 {
		return "", id
	}
	rest := id[i+1:]
	if strings.HasPrefix(rest, "//") {
		return "", id
	}
	for _, r := range id[:i] {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '-' || r == '.') {
			return "", id
		}
	}
	return id[:i], rest
}

// EnsureScheme prefixes scheme when id carries none. Empty stays empty.
func EnsureScheme(id, scheme string) string {
	id = strings.TrimSpace(id)
	if id == "" || scheme == "" {
		return id
	}
	if s, _ := SplitScheme(id); s != "" {
		return id
	}
	return scheme + ":" + id
}

// StripScheme returns the location part of id.
func StripScheme(id string) string {
	_, loc := SplitScheme(id)
	return loc
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
