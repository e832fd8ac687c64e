// Package payments abstracts the external payment processor. The engine
// only speaks Processor; Stripe specifics stay behind this package.
package payments

import (
	"context"
	"errors"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/paymentmethod"

	"github.com/example/ride-engine/internal/models"
)

// SplitChargeRequest describes one charge whose proceeds are divided between
// the platform (fee) and a payout destination (remainder). With an empty
// PayoutDestination the full amount lands on the platform account.
type SplitChargeRequest struct {
	AmountCents       int64
	Currency          string
	PayerToken        string
	PayoutDestination string
	PlatformFeeCents  int64
	IdempotencyKey    string
}

// Processor issues charges. Implementations must honor IdempotencyKey:
// repeating a request with the same key must not create a duplicate charge.
type Processor interface {
	CreateSplitCharge(ctx context.Context, req SplitChargeRequest) (string, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
}

// StripeProcessor implements Processor with Stripe PaymentIntents. Split
// routing uses TransferData.Destination plus ApplicationFeeAmount.
type StripeProcessor struct{}

// NewStripeProcessor sets the package-level Stripe API key.
func NewStripeProcessor(apiKey string) *StripeProcessor {
	stripe.Key = apiKey
	return &StripeProcessor{}
}

func (s *StripeProcessor) CreateSplitCharge(ctx context.Context, req SplitChargeRequest) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		Confirm:  stripe.Bool(true),
	}
	params.Context = ctx
	if req.PayerToken != "" {
		params.PaymentMethod = stripe.String(req.PayerToken)
	}
	if req.PayoutDestination != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.PayoutDestination),
		}
		params.ApplicationFeeAmount = stripe.Int64(req.PlatformFeeCents)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", wrapStripeErr(err)
	}
	return pi.ID, nil
}

func (s *StripeProcessor) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	if _, err := paymentmethod.Attach(paymentMethodID, params); err != nil {
		return wrapStripeErr(err)
	}
	return nil
}

func wrapStripeErr(err error) error {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return &models.ProcessorError{Code: "unknown", Message: err.Error(), Err: err}
	}
	return &models.ProcessorError{
		Code:         string(serr.Code),
		Message:      serr.Msg,
		AuthRequired: string(serr.Code) == "authentication_required",
		Retryable:    serr.Type == stripe.ErrorTypeAPI,
		Err:          err,
	}
}
