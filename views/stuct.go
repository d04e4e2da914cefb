package views

import (
	"github.com/GrainArc/GeoEdit/geotx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserController 编辑与导入接口的控制器, 依赖在启动时注入
type UserController struct {
	DB    *gorm.DB
	Store geotx.Store
	Jobs  *geotx.JobManager
	Log   *zap.Logger

	edits *geotx.Orchestrator
}

func NewUserController(db *gorm.DB, store geotx.Store, jobs *geotx.JobManager, log *zap.Logger) *UserController {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserController{
		DB:    db,
		Store: store,
		Jobs:  jobs,
		Log:   log,
		edits: geotx.NewOrchestrator(store, geotx.DefaultConfig(), log),
	}
}
