package withdrawal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"raketpay/pkg/errutil"
	"raketpay/pkg/money"
	"raketpay/services/wallet"
)

var Module = fx.Module("withdrawal.service",
	fx.Provide(NewService),
	fx.Invoke(migrate, registerRoutes),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&WithdrawalRequest{})
}

type createRequest struct {
	UserID           string          `json:"user_id" binding:"required"`
	Amount           decimal.Decimal `json:"amount" binding:"required"`
	Method           Method          `json:"method" binding:"required"`
	RecipientName    string          `json:"recipient_name"`
	RecipientAccount string          `json:"recipient_account" binding:"required"`
}

type reviewRequest struct {
	AdminID        string `json:"admin_id" binding:"required"`
	DisbursementID string `json:"disbursement_id"`
	Reason         string `json:"reason"`
}

func registerRoutes(router *gin.Engine, svc *Service) {
	v1 := router.Group("/v1")
	{
		v1.POST("/withdrawals", func(c *gin.Context) {
			var req createRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.Error(errutil.ValidationFailed("invalid request body", err))
				return
			}

			row, err := svc.Request(c.Request.Context(), req.UserID, req.Amount, req.Method, req.RecipientName, req.RecipientAccount)
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"data": row})
		})

		v1.POST("/withdrawals/:id/approve", func(c *gin.Context) {
			requestID, ok := parseID(c)
			if !ok {
				return
			}
			var req reviewRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.Error(errutil.ValidationFailed("invalid request body", err))
				return
			}

			row, err := svc.Approve(c.Request.Context(), requestID, req.AdminID, req.DisbursementID)
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": row})
		})

		v1.POST("/withdrawals/:id/reject", func(c *gin.Context) {
			requestID, ok := parseID(c)
			if !ok {
				return
			}
			var req reviewRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.Error(errutil.ValidationFailed("invalid request body", err))
				return
			}

			row, err := svc.Reject(c.Request.Context(), requestID, req.AdminID, req.Reason)
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": row})
		})

		v1.GET("/withdrawals", func(c *gin.Context) {
			rows, err := svc.List(c.Request.Context(), c.Query("user_id"), Status(c.Query("status")))
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": rows})
		})

		v1.GET("/withdrawals/:id", func(c *gin.Context) {
			requestID, ok := parseID(c)
			if !ok {
				return
			}

			row, err := svc.Get(c.Request.Context(), requestID)
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": row})
		})
	}
}

func parseID(c *gin.Context) (snowflake.ID, bool) {
	raw, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errutil.BadRequest("invalid withdrawal id", err))
		return 0, false
	}
	return snowflake.ID(raw), true
}

func renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		c.Error(errutil.NotFound("withdrawal request not found", err))
	case errors.Is(err, ErrInvalidState):
		c.Error(errutil.Conflict("withdrawal request already reviewed", err))
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.Error(errutil.UnprocessableEntity("insufficient available balance", err))
	case errors.Is(err, money.ErrInvalidAmount), errors.Is(err, ErrUnknownMethod):
		c.Error(errutil.BadRequest("invalid withdrawal request", err))
	default:
		c.Error(errutil.Internal("withdrawal operation failed", err))
	}
}
