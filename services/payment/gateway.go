package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway creates hosted invoices on the external payment provider. The
// provider confirms or fails them asynchronously through webhooks.
type Gateway interface {
	CreateInvoice(ctx context.Context, jobID string, amount decimal.Decimal) (invoiceID, invoiceURL string, err error)
}

// NoopGateway backs dev and test deployments: it issues local invoice ids and
// never calls out.
type NoopGateway struct{}

func NewNoopGateway() Gateway { return &NoopGateway{} }

func (g *NoopGateway) CreateInvoice(ctx context.Context, jobID string, amount decimal.Decimal) (string, string, error) {
	invoiceID := fmt.Sprintf("inv_%s", uuid.NewString())

	zap.L().Info("created local invoice",
		zap.String("invoice_id", invoiceID),
		zap.String("job_id", jobID),
		zap.String("amount", amount.StringFixed(2)),
	)

	return invoiceID, fmt.Sprintf("https://pay.invalid/invoices/%s", invoiceID), nil
}
