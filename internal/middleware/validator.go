package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

// recordBodySchema describes the POST body of an annotation record.
const recordBodySchema = `{
  "type": "object",
  "required": ["annotations"],
  "properties": {
    "annotations": {"type": "string", "minLength": 1},
    "createdAt":   {"type": "string"}
  }
}`

var recordSchema = gojsonschema.NewStringLoader(recordBodySchema)

// ValidateRecordBody checks a raw POST body against the record schema.
func ValidateRecordBody(body []byte) error {
	result, err := gojsonschema.Validate(recordSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid record body: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ValidateKeys parses the study/series/image path parameters. Every key
// must be a positive integer.
func ValidateKeys(study, series, image string) (imageid.Keys, error) {
	var k imageid.Keys
	var err error
	if k.StudyKey, err = nonNegativeKey("studyKey", study); err != nil {
		return k, err
	}
	if k.SeriesKey, err = nonNegativeKey("seriesKey", series); err != nil {
		return k, err
	}
	if k.ImageKey, err = nonNegativeKey("imageKey", image); err != nil {
		return k, err
	}
	k.FrameNo = imageid.NoFrame
	return k, nil
}

// Zero is a valid key.
func nonNegativeKey(name, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// ValidateFrame checks an optional frame number from a record body. A
// missing frame, like an explicit NoFrame, addresses the whole image.
func ValidateFrame(frame *int) (int, error) {
	if frame == nil {
		return imageid.NoFrame, nil
	}
	if *frame < imageid.NoFrame {
		return 0, fmt.Errorf("invalid frameNo: %d", *frame)
	}
	return *frame, nil
}
