package views

import (
	"fmt"
	"net/http"
	"time"

	"github.com/GrainArc/GeoEdit/geotx"
	"github.com/GrainArc/GeoEdit/models"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

// 批量要素编辑

type editAdd struct {
	Feature *geojson.Feature `json:"feature"`
}

type editUpdate struct {
	ID              string              `json:"id"`
	Feature         *geojson.Feature    `json:"feature"`
	ExpectedVersion *geotx.VersionToken `json:"expected_version"`
}

type editDelete struct {
	ID              string              `json:"id"`
	ExpectedVersion *geotx.VersionToken `json:"expected_version"`
}

type editData struct {
	TableName         string       `json:"table" binding:"required"`
	Username          string       `json:"username"`
	BZ                string       `json:"bz"`
	SessionID         int64        `json:"session_id"`
	RollbackOnFailure *bool        `json:"rollback_on_failure"`
	Adds              []editAdd    `json:"adds"`
	Updates           []editUpdate `json:"updates"`
	Deletes           []editDelete `json:"deletes"`
}

// auditEntry 审计快照, 与命令一一对应
type auditEntry struct {
	op      geotx.Op
	oldSnap *geotx.Feature
	newSnap *geotx.Feature
}

// ApplyEdits 在一个批次里按 adds, updates, deletes 的顺序执行编辑
// 默认整批回滚, rollback_on_failure=false 时失败互相独立
func (uc *UserController) ApplyEdits(c *gin.Context) {
	var jsonData editData
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid JSON format",
			"details": err.Error(),
		})
		return
	}

	rollback := true
	if jsonData.RollbackOnFailure != nil {
		rollback = *jsonData.RollbackOnFailure
	}

	table := jsonData.TableName
	commands := make([]geotx.EditCommand, 0, len(jsonData.Adds)+len(jsonData.Updates)+len(jsonData.Deletes))
	entries := make([]auditEntry, 0, cap(commands))
	reader := uc.Store.AutoCommit()

	for _, item := range jsonData.Adds {
		f := toFeature(item.Feature, "")
		commands = append(commands, geotx.Add(table, f))
		entries = append(entries, auditEntry{op: geotx.OpAdd, newSnap: f})
	}
	for _, item := range jsonData.Updates {
		f := toFeature(item.Feature, item.ID)
		old, _ := reader.Get(c.Request.Context(), table, item.ID)
		commands = append(commands, geotx.Update(table, item.ID, f, item.ExpectedVersion))
		entries = append(entries, auditEntry{op: geotx.OpUpdate, oldSnap: old, newSnap: f})
	}
	for _, item := range jsonData.Deletes {
		old, _ := reader.Get(c.Request.Context(), table, item.ID)
		commands = append(commands, geotx.Delete(table, item.ID, item.ExpectedVersion))
		entries = append(entries, auditEntry{op: geotx.OpDelete, oldSnap: old})
	}

	results := uc.edits.ApplyBatch(c.Request.Context(), commands, rollback)
	uc.writeAuditRows(table, jsonData.Username, jsonData.BZ, jsonData.SessionID, entries, results)

	nAdd := len(jsonData.Adds)
	nUpd := len(jsonData.Updates)
	c.JSON(batchStatus(results), gin.H{
		"table":          table,
		"add_results":    resultBodies(results[:nAdd]),
		"update_results": resultBodies(results[nAdd : nAdd+nUpd]),
		"delete_results": resultBodies(results[nAdd+nUpd:]),
	})
}

// writeAuditRows 提交后落审计记录, 只记成功的命令, 失败仅告警不影响响应
func (uc *UserController) writeAuditRows(table, username, bz string, sessionID int64, entries []auditEntry, results []geotx.EditResult) {
	now := time.Now().Format("2006-01-02 15:04:05")
	var rows []models.GeoRecord
	for i, res := range results {
		if !res.Success || i >= len(entries) {
			continue
		}
		entry := entries[i]
		row := models.GeoRecord{
			TableName: table,
			Username:  username,
			Type:      auditType(entry.op),
			Date:      now,
			BZ:        bz,
			FeatureID: res.ID,
			SessionID: sessionID,
		}
		if entry.oldSnap != nil {
			row.OldGeojson = marshalFeature(entry.oldSnap)
		}
		if entry.newSnap != nil {
			snap := entry.newSnap.Clone()
			snap.ID = res.ID
			row.NewGeojson = marshalFeature(snap)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}
	if err := uc.DB.Create(&rows).Error; err != nil {
		uc.Log.Warn("write audit records failed",
			zap.String("table", table),
			zap.Int("rows", len(rows)),
			zap.Error(err))
	}
}

func auditType(op geotx.Op) string {
	switch op {
	case geotx.OpAdd:
		return "要素添加"
	case geotx.OpUpdate:
		return "要素修改"
	default:
		return "要素删除"
	}
}

// 修改记录查询

// GetChangeRecord 分页查询指定表的审计记录
func (uc *UserController) GetChangeRecord(c *gin.Context) {
	table := c.Query("table")
	username := c.Query("username")
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pagesize", 20)

	query := uc.DB.Model(&models.GeoRecord{})
	if table != "" {
		query = query.Where("table_name = ?", table)
	}
	if username != "" {
		query = query.Where("username = ?", username)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var records []models.GeoRecord
	offset := (page - 1) * pageSize
	if err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	c.JSON(http.StatusOK, gin.H{
		"data":       records,
		"total":      total,
		"page":       page,
		"pageSize":   pageSize,
		"totalPages": totalPages,
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	var v int
	if _, err := fmt.Sscanf(c.Query(key), "%d", &v); err != nil || v <= 0 {
		return def
	}
	return v
}

// 还原图形

type revertData struct {
	ID       int64  `json:"id" binding:"required"`
	Username string `json:"username"`
}

// RevertRecord 按审计记录构造反向命令并执行: 添加删掉, 删除加回, 修改写回旧快照
func (uc *UserController) RevertRecord(c *gin.Context) {
	var jsonData revertData
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid JSON format",
			"details": err.Error(),
		})
		return
	}

	var rec models.GeoRecord
	if err := uc.DB.Where("id = ?", jsonData.ID).Take(&rec).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}

	cmd, err := inverseCommand(&rec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := uc.edits.ApplyBatch(c.Request.Context(), []geotx.EditCommand{cmd}, true)
	c.JSON(batchStatus(results), gin.H{
		"table":   rec.TableName,
		"results": resultBodies(results),
	})
}

// inverseCommand 审计记录的反向命令
func inverseCommand(rec *models.GeoRecord) (geotx.EditCommand, error) {
	switch rec.Type {
	case "要素添加":
		return geotx.Delete(rec.TableName, rec.FeatureID, nil), nil
	case "要素删除":
		f, err := unmarshalFeature(rec.OldGeojson, rec.FeatureID)
		if err != nil {
			return geotx.EditCommand{}, fmt.Errorf("record %d has no usable old snapshot: %w", rec.ID, err)
		}
		return geotx.Add(rec.TableName, f), nil
	case "要素修改":
		f, err := unmarshalFeature(rec.OldGeojson, rec.FeatureID)
		if err != nil {
			return geotx.EditCommand{}, fmt.Errorf("record %d has no usable old snapshot: %w", rec.ID, err)
		}
		return geotx.Update(rec.TableName, rec.FeatureID, f, nil), nil
	default:
		return geotx.EditCommand{}, fmt.Errorf("record %d has unknown type %q", rec.ID, rec.Type)
	}
}

// 编辑会话

type sessionOpenData struct {
	TableName string `json:"table" binding:"required"`
	Username  string `json:"username"`
}

// OpenSession 开启编辑会话, 之后的 ApplyEdits 带上 session_id 即归入该会话
func (uc *UserController) OpenSession(c *gin.Context) {
	var jsonData sessionOpenData
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid JSON format",
			"details": err.Error(),
		})
		return
	}

	session := models.EditSession{
		TableName: jsonData.TableName,
		Username:  jsonData.Username,
		CreatedAt: time.Now().Format("2006-01-02 15:04:05"),
		Status:    "active",
	}
	if err := uc.DB.Create(&session).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "status": session.Status})
}

type sessionCloseData struct {
	SessionID int64 `json:"session_id" binding:"required"`
	Commit    bool  `json:"commit"`
}

// CloseSession 关闭会话: commit=true 直接定稿,
// commit=false 按该会话的审计记录从新到旧整批反向回放
func (uc *UserController) CloseSession(c *gin.Context) {
	var jsonData sessionCloseData
	if err := c.ShouldBindJSON(&jsonData); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid JSON format",
			"details": err.Error(),
		})
		return
	}

	var session models.EditSession
	if err := uc.DB.Where("id = ?", jsonData.SessionID).Take(&session).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if session.Status != "active" {
		c.JSON(http.StatusConflict, gin.H{"error": "session already closed", "status": session.Status})
		return
	}

	if jsonData.Commit {
		uc.closeSessionAs(c, &session, "committed", nil)
		return
	}

	var records []models.GeoRecord
	if err := uc.DB.Where("session_id = ?", session.ID).Order("id DESC").Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	commands := make([]geotx.EditCommand, 0, len(records))
	for i := range records {
		cmd, err := inverseCommand(&records[i])
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		commands = append(commands, cmd)
	}

	results := uc.edits.ApplyBatch(c.Request.Context(), commands, true)
	for _, r := range results {
		if !r.Success {
			// 回放失败, 会话保持 active 以便重试
			c.JSON(batchStatus(results), gin.H{
				"session_id": session.ID,
				"status":     session.Status,
				"results":    resultBodies(results),
			})
			return
		}
	}
	uc.closeSessionAs(c, &session, "rolledback", resultBodies(results))
}

func (uc *UserController) closeSessionAs(c *gin.Context, session *models.EditSession, status string, results []ResultBody) {
	session.Status = status
	session.ClosedAt = time.Now().Format("2006-01-02 15:04:05")
	if err := uc.DB.Save(session).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	body := gin.H{"session_id": session.ID, "status": session.Status}
	if results != nil {
		body["results"] = results
	}
	c.JSON(http.StatusOK, body)
}
