package views

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/GrainArc/GeoEdit/config"
	"github.com/GrainArc/GeoEdit/geotx"
	"github.com/GrainArc/GeoEdit/methods"
	"github.com/GrainArc/GeoEdit/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 数据上传与导入

// Upload 接收 zip/rar/geojson 上传, 解压后定位可导入的数据文件
func (uc *UserController) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required", "details": err.Error()})
		return
	}

	uploadID := uuid.New().String()
	dir, _ := filepath.Abs(filepath.Join(config.MainConfig.DataDir, "upload", uploadID))
	path := filepath.Join(dir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save upload failed", "details": err.Error()})
		return
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".rar":
		if _, err := methods.Unzip(path); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "extract archive failed", "details": err.Error()})
			return
		}
	}

	dataset, err := methods.FindByExt(dir, ".shp", ".geojson")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no .shp or .geojson file in upload"})
		return
	}

	layer := strings.TrimSuffix(filepath.Base(dataset), filepath.Ext(dataset))
	c.JSON(http.StatusOK, gin.H{
		"upload_id":  uploadID,
		"kind":       datasetKind(dataset),
		"file":       dataset,
		"layer_name": layer,
	})
}

func datasetKind(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return "shapefile"
	}
	return "geojson"
}

type importStartData struct {
	UploadID       string `json:"upload_id"`
	Path           string `json:"path"`
	TableName      string `json:"table"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	IDField        string `json:"id_field"`
	BatchSize      int    `json:"batch_size"`
	UseTransaction *bool  `json:"use_transaction"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// StartImport 注册导入任务并在后台执行, 进度走 WebSocket 或状态接口
func (uc *UserController) StartImport(c *gin.Context) {
	var jsonData importStartData
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid JSON format",
			"details": err.Error(),
		})
		return
	}

	path := jsonData.Path
	if path == "" && jsonData.UploadID != "" {
		dir, _ := filepath.Abs(filepath.Join(config.MainConfig.DataDir, "upload", jsonData.UploadID))
		found, err := methods.FindByExt(dir, ".shp", ".geojson")
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found or has no importable file"})
			return
		}
		path = found
	}
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upload_id or path is required"})
		return
	}

	src, srid, err := openSource(path, jsonData.IDField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open dataset failed", "details": err.Error()})
		return
	}

	cn := jsonData.Name
	if cn == "" {
		cn = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	table := jsonData.TableName
	if table == "" {
		table = methods.SafeTableName(cn)
	}
	// 与既有图层重名但来源不同时加后缀避让
	var count int64
	uc.DB.Model(&models.GeoCollection{}).Where("en = ? AND cn != ?", table, cn).Count(&count)
	if count > 0 {
		table = table + "_1"
	}

	if ensurer, ok := uc.Store.(geotx.CollectionEnsurer); ok {
		if err := ensurer.EnsureCollection(c.Request.Context(), table, srid); err != nil {
			src.Close()
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prepare collection failed", "details": err.Error()})
			return
		}
	}

	cfg := geotx.DefaultConfig()
	if jsonData.BatchSize > 0 {
		cfg.BatchSize = jsonData.BatchSize
	}
	if jsonData.UseTransaction != nil {
		cfg.UseTransaction = *jsonData.UseTransaction
	}
	if jsonData.TimeoutSeconds > 0 {
		cfg.TxTimeout = time.Duration(jsonData.TimeoutSeconds) * time.Second
	}

	job := uc.Jobs.NewJob(context.Background(), table)
	go uc.runImport(job, src, cfg, cn, table, jsonData.Username, path, srid)

	c.JSON(http.StatusOK, gin.H{
		"job_id":     job.ID,
		"table":      table,
		"status":     string(job.Status()),
		"ws_url":     fmt.Sprintf("/import/ws/%s", job.ID),
		"status_url": fmt.Sprintf("/import/status/%s", job.ID),
	})
}

// openSource 按扩展名打开数据源, 返回数据源和探测到的坐标系
func openSource(path, idField string) (geotx.FeatureSource, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		src, err := geotx.OpenShapefile(path)
		if err != nil {
			return nil, 0, err
		}
		return src, src.SRID(), nil
	case ".geojson", ".json":
		src, err := geotx.OpenGeoJSON(path, idField)
		if err != nil {
			return nil, 0, err
		}
		return src, 4326, nil
	default:
		return nil, 0, fmt.Errorf("unsupported dataset format %s", filepath.Ext(path))
	}
}

// runImport 后台执行导入并归档结果
func (uc *UserController) runImport(job *geotx.Job, src geotx.FeatureSource, cfg geotx.Config, cn, table, username, sourceFile string, srid int) {
	defer src.Close()
	importer := geotx.NewImporter(uc.Store, cfg, uc.Log)
	summary, err := importer.Import(context.Background(), src, table, job, nil)
	if err != nil {
		uc.Log.Warn("import finished with error",
			zap.String("table", table),
			zap.String("job", job.ID),
			zap.Error(err))
	}
	uc.archiveImport(job, summary, cn, table, username, sourceFile, srid, geomTypeOf(src))
}

func geomTypeOf(src geotx.FeatureSource) string {
	if g, ok := src.(interface{ GeomType() string }); ok {
		return g.GeomType()
	}
	return ""
}

// archiveImport 归档终态任务, 提交成功的先登记图层目录再落归档行
func (uc *UserController) archiveImport(job *geotx.Job, summary *geotx.JobSummary, cn, table, username, sourceFile string, srid int, geomType string) {
	if summary.Status == geotx.JobCommitted {
		uc.registerCollection(summary, cn, table, sourceFile, srid, geomType)
	}

	snap := job.Snapshot()
	row := models.ImportJob{
		JobID:      summary.JobID,
		TableName:  table,
		Username:   username,
		Status:     string(summary.Status),
		Processed:  summary.Processed,
		Total:      summary.Total,
		SourceFile: sourceFile,
		CreatedAt:  snap.CreatedAt.Format("2006-01-02 15:04:05"),
		EndedAt:    snap.EndedAt.Format("2006-01-02 15:04:05"),
	}
	if summary.Err != nil {
		row.ErrMsg = summary.Err.Error()
	}
	if err := uc.DB.Create(&row).Error; err != nil {
		uc.Log.Warn("archive import job failed", zap.String("job", summary.JobID), zap.Error(err))
	}
}

// registerCollection 图层目录登记, 已有条目累加要素数
func (uc *UserController) registerCollection(summary *geotx.JobSummary, cn, table, sourceFile string, srid int, geomType string) {
	source, _ := json.Marshal(gin.H{"file": sourceFile, "kind": datasetKind(sourceFile)})
	now := time.Now().Format("2006-01-02 15:04:05")
	var existing models.GeoCollection
	if err := uc.DB.Where("en = ?", table).Take(&existing).Error; err == nil {
		updates := map[string]interface{}{
			"feature_num":  existing.FeatureNum + summary.Processed,
			"updated_date": now,
			"source":       source,
		}
		if existing.SRID == 0 && srid != 0 {
			updates["srid"] = srid
		}
		if err := uc.DB.Model(&existing).Updates(updates).Error; err != nil {
			uc.Log.Warn("update collection catalog failed", zap.String("table", table), zap.Error(err))
		}
		return
	}
	entry := models.GeoCollection{
		CN:          cn,
		EN:          table,
		Type:        geomType,
		SRID:        srid,
		FeatureNum:  summary.Processed,
		UpdatedDate: now,
		Source:      source,
	}
	if err := uc.DB.Create(&entry).Error; err != nil {
		uc.Log.Warn("register collection catalog failed", zap.String("table", table), zap.Error(err))
	}
}

// WebSocket消息结构体
type ProgressMessage struct {
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Processed int64   `json:"processed"`
	Total     int64   `json:"total"`
	Percent   float64 `json:"percent"`
	Message   string  `json:"message,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

type ClientMessage struct {
	Action string `json:"action"`
}

func progressFrame(snap geotx.JobSnapshot) ProgressMessage {
	frame := ProgressMessage{
		Type:      "progress",
		Status:    string(snap.Status),
		Processed: snap.Processed,
		Total:     snap.Total,
		Percent:   snap.Percent,
		Message:   snap.Error,
		Timestamp: time.Now().UnixMilli(),
	}
	switch snap.Status {
	case geotx.JobCommitted:
		frame.Type = "done"
	case geotx.JobCancelled:
		frame.Type = "cancelled"
	case geotx.JobFailed, geotx.JobRolledBack:
		frame.Type = "failed"
	}
	return frame
}

// ImportWebSocket 推送导入进度, 收到 cancel 消息时请求取消任务
func (uc *UserController) ImportWebSocket(c *gin.Context) {
	jobID := c.Param("jobId")
	job, exists := uc.Jobs.Get(jobID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "websocket upgrade failed"})
		return
	}
	defer ws.Close()

	// 客户端取消监听, 连接断开时自然退出
	go func() {
		for {
			var msg ClientMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Action == "cancel" {
				uc.Log.Info("cancel requested over websocket", zap.String("job", jobID))
				job.Cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap := job.Snapshot()
		if err := ws.WriteJSON(progressFrame(snap)); err != nil {
			return
		}
		if snap.Status.Terminal() {
			return
		}
		<-ticker.C
	}
}

// ImportStatus 查询任务状态, 注册表里没有的回落到归档表
func (uc *UserController) ImportStatus(c *gin.Context) {
	jobID := c.Param("jobId")
	if job, ok := uc.Jobs.Get(jobID); ok {
		c.JSON(http.StatusOK, job.Snapshot())
		return
	}

	var archived models.ImportJob
	if err := uc.DB.Where("job_id = ?", jobID).Take(&archived).Error; err == nil {
		c.JSON(http.StatusOK, gin.H{
			"job_id":     archived.JobID,
			"collection": archived.TableName,
			"status":     archived.Status,
			"processed":  archived.Processed,
			"total":      archived.Total,
			"error":      archived.ErrMsg,
			"created_at": archived.CreatedAt,
			"ended_at":   archived.EndedAt,
			"archived":   true,
		})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
}

// CancelImport 通过 HTTP 请求取消任务
func (uc *UserController) CancelImport(c *gin.Context) {
	jobID := c.Param("jobId")
	if !uc.Jobs.Cancel(jobID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	status := string(geotx.JobCancelled)
	if job, ok := uc.Jobs.Get(jobID); ok {
		status = string(job.Status())
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": status})
}

// ListJobs 注册表里的全部任务快照
func (uc *UserController) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": uc.Jobs.Snapshots()})
}

// ListImports 分页查询导入归档
func (uc *UserController) ListImports(c *gin.Context) {
	table := c.Query("table")
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pagesize", 20)

	query := uc.DB.Model(&models.ImportJob{})
	if table != "" {
		query = query.Where("table_name = ?", table)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var jobs []models.ImportJob
	offset := (page - 1) * pageSize
	if err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&jobs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	c.JSON(http.StatusOK, gin.H{
		"data":       jobs,
		"total":      total,
		"page":       page,
		"pageSize":   pageSize,
		"totalPages": totalPages,
	})
}
