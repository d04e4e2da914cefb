package views

import (
	"encoding/json"
	"net/http"

	"github.com/GrainArc/GeoEdit/geotx"
	"github.com/paulmach/orb/geojson"
	"gorm.io/datatypes"
)

// StatusClientClosedRequest nginx 约定的 499, net/http 没有这个常量
const StatusClientClosedRequest = 499

// httpStatusOf 编辑错误分类到 HTTP 状态码的映射
func httpStatusOf(kind geotx.Kind) int {
	switch kind {
	case geotx.KindVersionConflict, geotx.KindBatchAborted:
		return http.StatusConflict
	case geotx.KindNotFound:
		return http.StatusNotFound
	case geotx.KindMissingIdentifier:
		return http.StatusBadRequest
	case geotx.KindNotImplemented:
		return http.StatusNotImplemented
	case geotx.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case geotx.KindCommitFailed, geotx.KindRollbackFailed:
		return http.StatusInternalServerError
	case geotx.KindCancelled:
		return StatusClientClosedRequest
	case geotx.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody 错误的响应载荷
type ErrorBody struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func errorBody(e *geotx.EditError) *ErrorBody {
	if e == nil {
		return nil
	}
	return &ErrorBody{Kind: string(e.Kind), Message: e.Message, Details: e.Details}
}

// ResultBody 单条命令的响应载荷
type ResultBody struct {
	Success bool        `json:"success"`
	ID      string      `json:"id,omitempty"`
	Version interface{} `json:"version,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

func resultBody(r geotx.EditResult) ResultBody {
	out := ResultBody{Success: r.Success, ID: r.ID, Error: errorBody(r.Err)}
	if r.NewVersion != nil {
		out.Version = r.NewVersion.Value()
	}
	return out
}

func resultBodies(rs []geotx.EditResult) []ResultBody {
	out := make([]ResultBody, 0, len(rs))
	for _, r := range rs {
		out = append(out, resultBody(r))
	}
	return out
}

// batchStatus 整批的响应状态: 全部成功 200, 否则取各失败分类里最重的状态码
func batchStatus(results []geotx.EditResult) int {
	status := http.StatusOK
	for _, r := range results {
		if r.Success || r.Err == nil {
			continue
		}
		if s := httpStatusOf(r.Err.Kind); s > status {
			status = s
		}
	}
	return status
}

// errStatus 单个错误的响应状态, nil 时返回 200
func errStatus(err *geotx.EditError) int {
	if err == nil {
		return http.StatusOK
	}
	return httpStatusOf(err.Kind)
}

// toFeature 把前端 geojson 要素转为内部要素
func toFeature(gf *geojson.Feature, id string) *geotx.Feature {
	if gf == nil {
		return nil
	}
	return &geotx.Feature{
		ID:         id,
		Geometry:   gf.Geometry,
		Properties: map[string]interface{}(gf.Properties),
	}
}

// marshalFeature 序列化为审计记录里的 geojson 快照
func marshalFeature(f *geotx.Feature) datatypes.JSON {
	if f == nil {
		return nil
	}
	gf := geojson.NewFeature(f.Geometry)
	gf.Properties = f.Properties
	if f.ID != "" {
		gf.ID = f.ID
	}
	data, err := json.MarshalIndent(gf, "", "  ")
	if err != nil {
		return nil
	}
	return data
}

// unmarshalFeature 从审计快照还原要素, id 以记录里的为准
func unmarshalFeature(data datatypes.JSON, id string) (*geotx.Feature, error) {
	gf, err := geojson.UnmarshalFeature(data)
	if err != nil {
		return nil, err
	}
	return toFeature(gf, id), nil
}
