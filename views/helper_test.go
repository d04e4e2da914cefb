package views_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/GrainArc/GeoEdit/config"
	"github.com/GrainArc/GeoEdit/geotx"
	"github.com/GrainArc/GeoEdit/models"
	"github.com/GrainArc/GeoEdit/routers"
	"github.com/GrainArc/GeoEdit/views"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	store *geotx.GormStore
	uc    *views.UserController
	r     *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.MainConfig.DataDir = t.TempDir()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "geo.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.GeoCollection{}, &models.GeoRecord{}, &models.EditSession{}, &models.ImportJob{}))

	store := geotx.NewGormStore(db, nil)
	require.NoError(t, store.EnsureCollection(context.Background(), "parcels", 4326))

	uc := views.NewUserController(db, store, geotx.NewJobManager(), nil)
	r := gin.New()
	routers.GeoRouters(r, uc)
	routers.ImportRouters(r, uc)
	return &testEnv{db: db, store: store, uc: uc, r: r}
}

// doJSON 发送 JSON 请求并返回响应
func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func pointFeature(x, y float64, props gin.H) gin.H {
	return gin.H{
		"type":       "Feature",
		"geometry":   gin.H{"type": "Point", "coordinates": []float64{x, y}},
		"properties": props,
	}
}

// seedFeature 直接经存储端写入一条要素, 初始版本为 1
func seedFeature(t *testing.T, env *testEnv, id string) {
	t.Helper()
	tx := env.store.AutoCommit()
	_, _, err := tx.Create(context.Background(), "parcels", &geotx.Feature{
		ID:         id,
		Geometry:   orb.Point{103.5, 30.2},
		Properties: map[string]interface{}{"name": "n-" + id},
	})
	require.NoError(t, err)
}

func tableCount(t *testing.T, env *testEnv, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Table(table).Count(&n).Error)
	return n
}

func firstResult(t *testing.T, body map[string]interface{}, key string) map[string]interface{} {
	t.Helper()
	list, ok := body[key].([]interface{})
	require.True(t, ok, "missing %s in response", key)
	require.NotEmpty(t, list)
	return list[0].(map[string]interface{})
}

func resultErrorKind(t *testing.T, result map[string]interface{}) string {
	t.Helper()
	errBody, ok := result["error"].(map[string]interface{})
	require.True(t, ok, "result has no error body")
	kind, _ := errBody["kind"].(string)
	return kind
}
