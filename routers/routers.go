package routers

import (
	"github.com/GrainArc/GeoEdit/views"
	"github.com/gin-gonic/gin"
)

// GeoRouters 批量编辑, 审计与图层目录接口
func GeoRouters(r *gin.Engine, uc *views.UserController) {
	mapRouter := r.Group("/geo")
	{
		mapRouter.POST("/ApplyEdits", uc.ApplyEdits)
		mapRouter.GET("/GetChangeRecord", uc.GetChangeRecord)
		mapRouter.POST("/RevertRecord", uc.RevertRecord)
		mapRouter.POST("/Session/Open", uc.OpenSession)
		mapRouter.POST("/Session/Close", uc.CloseSession)
		mapRouter.GET("/GetCollections", uc.GetCollections)
		mapRouter.GET("/DelCollection", uc.DelCollection)
	}
}

// ImportRouters 数据导入接口
func ImportRouters(r *gin.Engine, uc *views.UserController) {
	importRouter := r.Group("/import")
	{
		importRouter.POST("/Upload", uc.Upload)
		importRouter.POST("/Start", uc.StartImport)
		importRouter.GET("/ws/:jobId", uc.ImportWebSocket)
		importRouter.GET("/status/:jobId", uc.ImportStatus)
		importRouter.POST("/Cancel/:jobId", uc.CancelImport)
		importRouter.GET("/Jobs", uc.ListJobs)
		importRouter.GET("/List", uc.ListImports)
	}
}
