package geotx

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/paulmach/orb/geojson"
)

// FeatureSource 惰性要素序列, 读完返回 io.EOF
type FeatureSource interface {
	Next() (*Feature, error)
	// Total 预期总数, 未知返回 -1
	Total() int64
	Close() error
}

// SliceSource 内存切片数据源
type SliceSource struct {
	feats []*Feature
	idx   int
}

func NewSliceSource(feats []*Feature) *SliceSource {
	return &SliceSource{feats: feats}
}

func (s *SliceSource) Next() (*Feature, error) {
	if s.idx >= len(s.feats) {
		return nil, io.EOF
	}
	f := s.feats[s.idx]
	s.idx++
	return f, nil
}

func (s *SliceSource) Total() int64 {
	return int64(len(s.feats))
}

func (s *SliceSource) Close() error {
	return nil
}

// GeoJSONSource FeatureCollection 数据源
// 要素 id 优先取 geojson 的 id 字段, 其次取指定的属性字段
type GeoJSONSource struct {
	feats   []*geojson.Feature
	idx     int
	idField string
}

// NewGeoJSONSource 从 reader 解析 FeatureCollection
func NewGeoJSONSource(r io.Reader, idField string) (*GeoJSONSource, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson feature collection: %w", err)
	}
	return &GeoJSONSource{feats: fc.Features, idField: idField}, nil
}

// OpenGeoJSON 从文件解析
func OpenGeoJSON(path string, idField string) (*GeoJSONSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geojson %s: %w", path, err)
	}
	defer f.Close()
	return NewGeoJSONSource(f, idField)
}

func (s *GeoJSONSource) Next() (*Feature, error) {
	for s.idx < len(s.feats) {
		gf := s.feats[s.idx]
		s.idx++
		if gf == nil || gf.Geometry == nil {
			continue
		}
		f := &Feature{
			ID:         s.featureID(gf),
			Geometry:   gf.Geometry,
			Properties: map[string]interface{}(gf.Properties),
		}
		return f, nil
	}
	return nil, io.EOF
}

func (s *GeoJSONSource) featureID(gf *geojson.Feature) string {
	if id := idToString(gf.ID); id != "" {
		return id
	}
	if s.idField != "" && gf.Properties != nil {
		return idToString(gf.Properties[s.idField])
	}
	return ""
}

func (s *GeoJSONSource) Total() int64 {
	return int64(len(s.feats))
}

// GeomType 首个带几何要素的 GeoJSON 几何类型
func (s *GeoJSONSource) GeomType() string {
	for _, gf := range s.feats {
		if gf != nil && gf.Geometry != nil {
			return gf.Geometry.GeoJSONType()
		}
	}
	return ""
}

func (s *GeoJSONSource) Close() error {
	return nil
}

func idToString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprintf("%v", id)
	}
}
