package annotations

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseID = "wadouri:http://h/studies/10/series/2/images/153"

func TestDeriveSyntheticID(t *testing.T) {
	left, err := DeriveSyntheticID(baseID, "left")
	require.NoError(t, err)
	right, err := DeriveSyntheticID(baseID, "right")
	require.NoError(t, err)

	assert.Equal(t, baseID+"?vp=left", left)
	assert.Equal(t, baseID+"?vp=right", right)
	assert.NotEqual(t, left, right)
	assert.Equal(t, strings.TrimSuffix(left, "left"), strings.TrimSuffix(right, "right"))

	again, err := DeriveSyntheticID(baseID, "left")
	require.NoError(t, err)
	assert.Equal(t, left, again)

	over, err := DeriveSyntheticID(left, "right")
	require.NoError(t, err)
	assert.Equal(t, right, over)
	assert.Contains(t, left, FragmentFor("left"))
}

func TestDeriveSyntheticIDKeepsQuery(t *testing.T) {
	id, err := DeriveSyntheticID("wadouri:http://h/studies/1/series/2/images/3?frame=1", "left")
	require.NoError(t, err)
	assert.Equal(t, "wadouri:http://h/studies/1/series/2/images/3?frame=1&vp=left", id)

	id, err = DeriveSyntheticID("http://h/studies/1/series/2/images/3", "a b")
	require.NoError(t, err)
	assert.Equal(t, "http://h/studies/1/series/2/images/3?vp=a+b", id)
	assert.Contains(t, id, FragmentFor("a b"))

	_, err = DeriveSyntheticID("  ", "left")
	assert.ErrorIs(t, err, ErrEmptyImageID)

	id, err = DeriveSyntheticID(baseID, "")
	require.NoError(t, err)
	assert.Equal(t, baseID, id)
}

func TestRemapBundle(t *testing.T) {
	var b Bundle
	require.NoError(t, json.Unmarshal([]byte(`{"version":"5.3.0","objects":[
		{"annotationUID":"a","toolName":"ArrowAnnotate","referencedImageId":"`+baseID+`","data":{"text":"x"},
		 "metadata":{"referencedImageId":"`+baseID+`","referencedImageURI":"http://h/studies/10/series/2/images/153","nested":{"k":[1,2]}}},
		{"annotationUID":"b","toolName":"ArrowAnnotate","data":{}}
	]}`), &b))
	before, err := json.Marshal(b)
	require.NoError(t, err)

	newID := baseID + "?vp=left"
	out := RemapBundle(b, newID)

	require.Len(t, out.Objects, 2)
	for _, a := range out.Objects {
		assert.Equal(t, newID, a.ReferencedImageID)
	}
	assert.Equal(t, newID, out.Objects[0].Metadata[MetaReferencedImageID])
	assert.Equal(t, "http://h/studies/10/series/2/images/153?vp=left", out.Objects[0].Metadata[MetaReferencedImageURI])
	assert.Nil(t, out.Objects[1].Metadata)

	out.Objects[0].Metadata["nested"].(map[string]any)["k"] = "changed"
	out.Objects[0].Data[2] = 'X'

	after, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestBaseID(t *testing.T) {
	left, err := DeriveSyntheticID(baseID, "left")
	require.NoError(t, err)
	assert.Equal(t, baseID, BaseID(left))
	assert.Equal(t, baseID, BaseID(baseID))

	assert.Equal(t, "wadouri:http://h/studies/1/series/2/images/3?frame=1",
		BaseID("wadouri:http://h/studies/1/series/2/images/3?frame=1&vp=left"))
	assert.Equal(t, "http://h/studies/10/series/2/images/153", BaseID("http://h/studies/10/series/2/images/153?vp=a+b"))
	assert.Equal(t, "", BaseID(""))
}

func TestUnsynthesize(t *testing.T) {
	a := Annotation{
		UID:               "a",
		ReferencedImageID: baseID + "?vp=right",
		Metadata: map[string]any{
			MetaReferencedImageID:  baseID + "?vp=right",
			MetaReferencedImageURI: "http://h/studies/10/series/2/images/153?vp=right",
			"other":                "kept?vp=right",
		},
	}
	Unsynthesize(&a)

	assert.Equal(t, baseID, a.ReferencedImageID)
	assert.Equal(t, baseID, a.Metadata[MetaReferencedImageID])
	assert.Equal(t, "http://h/studies/10/series/2/images/153", a.Metadata[MetaReferencedImageURI])
	assert.Equal(t, "kept?vp=right", a.Metadata["other"])

	bare := Annotation{UID: "b"}
	Unsynthesize(&bare)
	assert.Empty(t, bare.ReferencedImageID)
	assert.Nil(t, bare.Metadata)
}
