package wallet

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"raketpay/pkg/errutil"
)

var Module = fx.Module("wallet.service",
	fx.Provide(NewService),
	fx.Invoke(migrate, registerRoutes),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Wallet{}, &PendingEarning{}, &Transaction{})
}

func registerRoutes(router *gin.Engine, svc *Service) {
	v1 := router.Group("/v1")
	{
		v1.GET("/wallets/:account_id", func(c *gin.Context) {
			data, err := svc.Data(c.Request.Context(), c.Param("account_id"))
			if err != nil {
				c.Error(errutil.Internal("failed to load wallet", err))
				return
			}

			c.JSON(http.StatusOK, gin.H{"data": data})
		})

		v1.GET("/wallets/:account_id/transactions", func(c *gin.Context) {
			txns, err := svc.Transactions(c.Request.Context(), c.Param("account_id"))
			if err != nil {
				c.Error(errutil.Internal("failed to list transactions", err))
				return
			}

			c.JSON(http.StatusOK, gin.H{"data": txns})
		})
	}
}
