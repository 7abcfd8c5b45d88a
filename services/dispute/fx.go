package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"raketpay/pkg/errutil"
	"raketpay/services/payment"
	"raketpay/services/wallet"
)

var Module = fx.Module("dispute.service",
	fx.Provide(NewService),
	fx.Invoke(migrate, registerRoutes),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Dispute{})
}

type resolveRequest struct {
	Outcome    Outcome `json:"outcome" binding:"required"`
	ResolvedBy string  `json:"resolved_by"`
}

func registerRoutes(router *gin.Engine, svc *Service) {
	v1 := router.Group("/v1")
	{
		v1.POST("/jobs/:job_id/disputes", func(c *gin.Context) {
			row, err := svc.Open(c.Request.Context(), c.Param("job_id"))
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"data": row})
		})

		v1.POST("/jobs/:job_id/disputes/resolve", func(c *gin.Context) {
			var req resolveRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.Error(errutil.ValidationFailed("invalid request body", err))
				return
			}

			if err := svc.Resolve(c.Request.Context(), c.Param("job_id"), req.Outcome, req.ResolvedBy); err != nil {
				renderError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		v1.GET("/jobs/:job_id/disputes", func(c *gin.Context) {
			rows, err := svc.List(c.Request.Context(), c.Param("job_id"))
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": rows})
		})
	}
}

func renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrNoActivePendingEntry):
		c.Error(errutil.UnprocessableEntity("job has no pending earning to dispute", err))
	case errors.Is(err, ErrNoOpenDispute), errors.Is(err, payment.ErrPaymentNotFound):
		c.Error(errutil.NotFound("dispute not found", err))
	case errors.Is(err, ErrUnknownOutcome):
		c.Error(errutil.BadRequest("invalid dispute outcome", err))
	default:
		c.Error(errutil.Internal("dispute operation failed", err))
	}
}
