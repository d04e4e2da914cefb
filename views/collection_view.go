package views

import (
	"net/http"

	"github.com/GrainArc/GeoEdit/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 图层目录

// GetCollections 全部已登记图层
func (uc *UserController) GetCollections(c *gin.Context) {
	var collections []models.GeoCollection
	if err := uc.DB.Order("id DESC").Find(&collections).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, collections)
}

// DelCollection 删除图层: 目录行和数据表一起清掉
func (uc *UserController) DelCollection(c *gin.Context) {
	table := c.Query("table")
	if table == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "table is required"})
		return
	}

	var entry models.GeoCollection
	if err := uc.DB.Where("en = ?", table).Take(&entry).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "collection not found"})
		return
	}

	if err := uc.DB.Migrator().DropTable(entry.EN); err != nil {
		uc.Log.Warn("drop data table failed", zap.String("table", entry.EN), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "drop data table failed", "details": err.Error()})
		return
	}
	if err := uc.DB.Delete(&entry).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": entry.EN, "deleted": true})
}
