package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"raketpay/pkg/errutil"
	"raketpay/pkg/money"
	"raketpay/services/wallet"
)

type createEscrowRequest struct {
	JobID   string          `json:"job_id" binding:"required"`
	PayerID string          `json:"payer_id" binding:"required"`
	PayeeID string          `json:"payee_id" binding:"required"`
	Budget  decimal.Decimal `json:"budget" binding:"required"`
	Method  Method          `json:"method" binding:"required"`
}

type createFinalRequest struct {
	Method Method `json:"method" binding:"required"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type invoiceWebhookRequest struct {
	InvoiceID string `json:"invoice_id" binding:"required"`
	Status    string `json:"status" binding:"required"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

type proofWebhookRequest struct {
	JobID     string `json:"job_id" binding:"required"`
	Leg       Leg    `json:"leg" binding:"required"`
	Approved  bool   `json:"approved"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

func registerRoutes(router *gin.Engine, svc *Service) {
	v1 := router.Group("/v1")
	{
		v1.POST("/payments/escrow", func(c *gin.Context) {
			var req createEscrowRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.Error(errutil.ValidationFailed("invalid request body", err))
				return
			}

			row, err := svc.CreateEscrowPayment(c.Request.Context(), req.JobID, req.PayerID, req.PayeeID, req.Budget, req.Method)
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"data": row})
		})

		v1.POST("/jobs/:job_id/payments/final", func(c *gin.Context) {
			var req createFinalRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.Error(errutil.ValidationFailed("invalid request body", err))
				return
			}

			row, err := svc.CreateFinalPayment(c.Request.Context(), c.Param("job_id"), req.Method)
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"data": row})
		})

		v1.POST("/jobs/:job_id/start", func(c *gin.Context) {
			if err := svc.StartJob(c.Request.Context(), c.Param("job_id")); err != nil {
				renderError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		v1.POST("/jobs/:job_id/complete", func(c *gin.Context) {
			if err := svc.CompleteJob(c.Request.Context(), c.Param("job_id")); err != nil {
				renderError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		v1.POST("/jobs/:job_id/payments/:leg/refund", func(c *gin.Context) {
			if err := svc.Refund(c.Request.Context(), c.Param("job_id"), Leg(c.Param("leg"))); err != nil {
				renderError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		v1.GET("/jobs/:job_id/payments", func(c *gin.Context) {
			status, err := svc.Status(c.Request.Context(), c.Param("job_id"))
			if err != nil {
				renderError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": status})
		})

		v1.POST("/webhooks/invoices", func(c *gin.Context) {
			var req invoiceWebhookRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.Error(errutil.ValidationFailed("invalid request body", err))
				return
			}

			var err error
			switch req.Status {
			case "succeeded":
				err = svc.OnInvoiceSucceeded(c.Request.Context(), req.InvoiceID, req.Reference)
			case "failed", "expired":
				err = svc.OnInvoiceFailed(c.Request.Context(), req.InvoiceID, req.Reason)
			default:
				c.Error(errutil.BadRequest("unknown invoice status", nil))
				return
			}
			if err != nil {
				renderError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		v1.POST("/webhooks/proofs", func(c *gin.Context) {
			var req proofWebhookRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.Error(errutil.ValidationFailed("invalid request body", err))
				return
			}

			var err error
			if req.Approved {
				err = svc.OnProofApproved(c.Request.Context(), req.JobID, req.Leg, req.Reference)
			} else {
				err = svc.OnProofRejected(c.Request.Context(), req.JobID, req.Leg, req.Reason)
			}
			if err != nil {
				renderError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}

func renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		c.Error(errutil.NotFound("payment not found", err))
	case errors.Is(err, ErrDuplicateEscrow),
		errors.Is(err, ErrDuplicateFinalPayment),
		errors.Is(err, wallet.ErrDuplicateTransaction),
		errors.Is(err, wallet.ErrDuplicatePendingEarning):
		c.Error(errutil.Conflict("payment already processed", err))
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, wallet.ErrInsufficientFunds),
		errors.Is(err, wallet.ErrNoActivePendingEntry):
		c.Error(errutil.UnprocessableEntity("payment state does not allow this operation", err))
	case errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, ErrUnknownMethod):
		c.Error(errutil.BadRequest("invalid payment request", err))
	default:
		c.Error(errutil.Internal("payment operation failed", err))
	}
}
