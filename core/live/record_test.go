package live_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core/live"
)

func TestRecord_JSON(t *testing.T) {
	rec := live.NewRecord("c1", map[string]interface{}{"title": "Algebra"})

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "c1", "title": "Algebra"}`, string(b))

	var got live.Record
	require.NoError(t, json.Unmarshal([]byte(`{"id": "c2", "title": "Art", "level": 1}`), &got))
	assert.Equal(t, "c2", got.ID)
	assert.Equal(t, map[string]interface{}{"title": "Art", "level": float64(1)}, got.Fields)
}

func TestRecord_Field(t *testing.T) {
	rec := live.NewRecord("c1", map[string]interface{}{
		"teacher": map[string]interface{}{"name": "Amani"},
	})

	v, ok := rec.Field("teacher.name")
	assert.True(t, ok)
	assert.Equal(t, "Amani", v)

	_, ok = rec.Field("teacher.email")
	assert.False(t, ok)

	_, ok = rec.Field("teacher.name.first")
	assert.False(t, ok)
}

func TestRecord_Clone(t *testing.T) {
	rec := live.NewRecord("c1", map[string]interface{}{
		"teacher":  map[string]interface{}{"name": "Amani"},
		"enrolled": []interface{}{"u1"},
		"tags":     []string{"new"},
	})

	c := rec.Clone()
	c.Fields["teacher"].(map[string]interface{})["name"] = "Neema"
	c.Fields["enrolled"].([]interface{})[0] = "u2"
	c.Fields["title"] = "Algebra"

	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, []interface{}{"new"}, c.Fields["tags"])
	assert.Equal(t, map[string]interface{}{
		"teacher":  map[string]interface{}{"name": "Amani"},
		"enrolled": []interface{}{"u1"},
		"tags":     []string{"new"},
	}, rec.Fields, "the original is untouched")
}
