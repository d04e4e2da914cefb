package geotx

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 7, "geometry": {"type": "Point", "coordinates": [103.5, 30.2]}, "properties": {"name": "a"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [104.0, 30.5]}, "properties": {"code": "P-2", "name": "b"}},
    {"type": "Feature", "geometry": null, "properties": {"name": "ghost"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [102.9, 29.8]}, "properties": {"name": "c"}}
  ]
}`

func TestGeoJSONSource(t *testing.T) {
	src, err := NewGeoJSONSource(strings.NewReader(sampleGeoJSON), "code")
	require.NoError(t, err)
	assert.Equal(t, int64(4), src.Total())

	feats := drainSource(t, src)
	// 空几何要素被跳过
	require.Len(t, feats, 3)
	assert.Equal(t, "7", feats[0].ID)
	assert.Equal(t, orb.Point{103.5, 30.2}, feats[0].Geometry)
	assert.Equal(t, "a", feats[0].Properties["name"])
	// geojson 自身没有 id 时回退到指定属性字段
	assert.Equal(t, "P-2", feats[1].ID)
	assert.Equal(t, "", feats[2].ID)
}

func TestGeoJSONSourceRejectsGarbage(t *testing.T) {
	_, err := NewGeoJSONSource(strings.NewReader("not json"), "")
	require.Error(t, err)
}

func TestSliceSource(t *testing.T) {
	src := NewSliceSource(makeFeatures(2))
	assert.Equal(t, int64(2), src.Total())
	feats := drainSource(t, src)
	assert.Len(t, feats, 2)
	require.NoError(t, src.Close())
}
