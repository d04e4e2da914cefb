package geotx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gitee.com/LJ_COOL/go-shp"
	"github.com/paulmach/orb"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// ShapefileSource 流式读取 shapefile 的要素数据源
// 属性编码按 .cpg 文件确定, 缺省时对 .dbf 采样探测, 兜底按 GBK 处理
type ShapefileSource struct {
	reader   *shp.Reader
	fields   []shp.Field
	names    []string
	encoding string
	total    int64
	srid     int
	geomType string
}

// OpenShapefile 打开 .shp 及配套的 .dbf/.cpg
func OpenShapefile(path string) (*ShapefileSource, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	s := &ShapefileSource{
		reader:   reader,
		fields:   reader.Fields(),
		encoding: detectShapefileEncoding(path),
		total:    int64(reader.AttributeCount()),
	}
	s.names = make([]string, len(s.fields))
	for i, f := range s.fields {
		name := f.String()
		if s.encoding == "GBK" {
			name = gbkToUtf8(name)
		}
		s.names[i] = name
	}
	return s, nil
}

// Encoding 属性表使用的字符编码
func (s *ShapefileSource) Encoding() string {
	return s.encoding
}

// SRID 按首个要素坐标范围推断的坐标系, 未推断出时为 0
func (s *ShapefileSource) SRID() int {
	return s.srid
}

// FieldNames 解码后的属性字段名
func (s *ShapefileSource) FieldNames() []string {
	return s.names
}

// GeomType 首个要素的 GeoJSON 几何类型, 尚未读到要素时为空串
func (s *ShapefileSource) GeomType() string {
	return s.geomType
}

func (s *ShapefileSource) Next() (*Feature, error) {
	for s.reader.Next() {
		n, p := s.reader.Shape()
		geom := s.toGeometry(p)
		if geom == nil {
			// 空要素或不支持的几何类型, 跳过
			continue
		}
		if s.geomType == "" {
			s.geomType = geom.GeoJSONType()
		}
		return &Feature{Geometry: geom, Properties: s.attributes(n)}, nil
	}
	if err := s.reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read shapefile record: %w", err)
	}
	return nil, io.EOF
}

func (s *ShapefileSource) Total() int64 {
	return s.total
}

func (s *ShapefileSource) Close() error {
	return s.reader.Close()
}

func (s *ShapefileSource) toGeometry(p shp.Shape) orb.Geometry {
	switch g := p.(type) {
	case *shp.Point:
		return s.toPoint(g.X, g.Y)
	case *shp.PointZ:
		return s.toPoint(g.X, g.Y)
	case *shp.PointM:
		return s.toPoint(g.X, g.Y)
	case *shp.MultiPoint:
		pts := make(orb.MultiPoint, 0, len(g.Points))
		for _, pt := range g.Points {
			pts = append(pts, s.toPoint(pt.X, pt.Y))
		}
		return pts
	case *shp.PolyLine:
		return s.toLine(g.Points, g.Parts)
	case *shp.PolyLineZ:
		return s.toLine(g.Points, g.Parts)
	case *shp.PolyLineM:
		return s.toLine(g.Points, g.Parts)
	case *shp.Polygon:
		return s.toPolygon(g.Points, g.Parts)
	case *shp.PolygonZ:
		return s.toPolygon(g.Points, g.Parts)
	case *shp.PolygonM:
		return s.toPolygon(g.Points, g.Parts)
	default:
		return nil
	}
}

func (s *ShapefileSource) toPoint(x, y float64) orb.Point {
	s.noteSRID(x)
	return orb.Point{x, y}
}

// toLine 按 parts 拆分多段线, 单段输出 LineString
func (s *ShapefileSource) toLine(points []shp.Point, parts []int32) orb.Geometry {
	if len(points) == 0 {
		return nil
	}
	segments := splitShapePoints(points, parts)
	lines := make(orb.MultiLineString, 0, len(segments))
	for _, seg := range segments {
		line := make(orb.LineString, len(seg))
		for i, pt := range seg {
			line[i] = s.toPoint(pt.X, pt.Y)
		}
		lines = append(lines, line)
	}
	if len(lines) == 1 {
		return lines[0]
	}
	return lines
}

// toPolygon 把点集按 parts 拆成环, 顺时针为外环,
// 外环后连续的逆时针环作为孔洞归入同一多边形
func (s *ShapefileSource) toPolygon(points []shp.Point, parts []int32) orb.Geometry {
	if len(points) == 0 {
		return nil
	}
	rings := splitShapePoints(points, parts)
	outer := make([]bool, len(rings))
	for i, ring := range rings {
		coords := make([]orb.Point, len(ring))
		for j, pt := range ring {
			coords[j] = orb.Point{pt.X, pt.Y}
		}
		outer[i] = ringIsClockwise(coords)
	}

	var multi orb.MultiPolygon
	for _, group := range groupRings(outer) {
		var polygon orb.Polygon
		for _, idx := range group {
			ring := make(orb.Ring, len(rings[idx]))
			for j, pt := range rings[idx] {
				ring[j] = s.toPoint(pt.X, pt.Y)
			}
			polygon = append(polygon, ring)
		}
		multi = append(multi, polygon)
	}
	if len(multi) == 0 {
		return nil
	}
	return multi
}

func (s *ShapefileSource) attributes(n int) map[string]interface{} {
	attrs := make(map[string]interface{}, len(s.fields))
	for k := range s.fields {
		value := s.reader.ReadAttribute(n, k)
		if s.encoding == "GBK" {
			value = gbkToUtf8(value)
		}
		attrs[s.names[k]] = trimTrailingZeros(value)
	}
	return attrs
}

func (s *ShapefileSource) noteSRID(x float64) {
	if s.srid == 0 {
		s.srid = detectSRID(x)
	}
}

// splitShapePoints 按 parts 偏移把点集切成若干段
func splitShapePoints(points []shp.Point, parts []int32) [][]shp.Point {
	if len(parts) <= 1 {
		return [][]shp.Point{points}
	}
	out := make([][]shp.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(points)) {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

// ringIsClockwise 基于有向面积符号判断环向
func ringIsClockwise(points []orb.Point) bool {
	sum := 0.0
	for i := 0; i < len(points)-1; i++ {
		p1 := points[i]
		p2 := points[i+1]
		sum += (p2[0] - p1[0]) * (p2[1] + p1[1])
	}
	return sum > 0
}

// groupRings 把环索引按 "外环 + 后随孔洞" 分组
func groupRings(outer []bool) [][]int {
	var groups [][]int
	var current []int
	for i, isOuter := range outer {
		if isOuter {
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = []int{i}
			continue
		}
		if len(current) > 0 {
			current = append(current, i)
		} else {
			// 数据不规范: 首环即逆时针, 仍按独立多边形处理
			current = []int{i}
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// detectShapefileEncoding 优先读 .cpg, 缺省时对 .dbf 采样探测
func detectShapefileEncoding(shpPath string) string {
	dir := filepath.Dir(shpPath)
	base := strings.TrimSuffix(filepath.Base(shpPath), filepath.Ext(shpPath))
	if data, err := os.ReadFile(filepath.Join(dir, base+".cpg")); err == nil {
		enc := strings.ToUpper(strings.TrimSpace(string(data)))
		if enc != "" {
			if strings.Contains(enc, "UTF") {
				return "UTF-8"
			}
			return enc
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, base+".dbf")); err == nil {
		sample := data
		if len(sample) > 64*1024 {
			sample = sample[:64*1024]
		}
		detector := chardet.NewTextDetector()
		if result, err := detector.DetectBest(sample); err == nil && result != nil {
			if strings.Contains(strings.ToUpper(result.Charset), "UTF") {
				return "UTF-8"
			}
		}
	}
	return "GBK"
}

// detectSRID 按 X 坐标范围推断坐标系
func detectSRID(x float64) int {
	switch {
	case x >= -180 && x <= 180:
		return 4326 // WGS84 经纬度
	case x >= 100000 && x <= 10000000:
		return 4544 // CGCS2000 / 3-degree Gauss-Kruger
	case x >= 33000000 && x <= 34000000:
		return 4521 // CGCS2000 / Gauss-Kruger 带号13
	case x >= 34000000 && x <= 35000000:
		return 4522
	case x >= 35000000 && x <= 36000000:
		return 4523
	case x >= 36000000 && x <= 37000000:
		return 4524
	default:
		return 0
	}
}

var numericAttrRegex = regexp.MustCompile(`^\d+(\.\d+)?$`)

// trimTrailingZeros 清理数值属性的尾零, 小数最多保留 5 位
func trimTrailingZeros(input string) string {
	input = strings.TrimRight(input, "\x00 ")
	if !numericAttrRegex.MatchString(input) {
		return input
	}
	if !strings.Contains(input, ".") {
		return input
	}
	parts := strings.SplitN(input, ".", 2)
	frac := strings.TrimRight(parts[1], "0")
	if frac == "" {
		return parts[0]
	}
	if len(frac) > 5 {
		frac = frac[:5]
	}
	return parts[0] + "." + frac
}

func gbkToUtf8(s string) string {
	decoded, _, err := transform.String(simplifiedchinese.GBK.NewDecoder(), s)
	if err != nil {
		return s
	}
	return decoded
}
