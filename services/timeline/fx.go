package timeline

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"raketpay/pkg/errutil"
)

var Module = fx.Module("timeline.service",
	fx.Provide(NewRecorder),
	fx.Invoke(migrate, registerRoutes),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Event{})
}

func registerRoutes(router *gin.Engine, recorder *Recorder) {
	router.GET("/v1/jobs/:job_id/timeline", func(c *gin.Context) {
		events, err := recorder.List(c.Request.Context(), c.Param("job_id"))
		if err != nil {
			c.Error(errutil.Internal("failed to list timeline", err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"data": events})
	})
}
