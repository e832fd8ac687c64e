// Package settlement computes fare/tip splits and drives idempotent charge
// creation against the payment processor, recording the resulting ledger
// fields on the ride.
package settlement

import (
	"context"
	"fmt"
	"math"

	"github.com/example/ride-engine/internal/drivers"
	"github.com/example/ride-engine/internal/models"
	"github.com/example/ride-engine/internal/payments"
	"github.com/example/ride-engine/internal/storage"
)

type Engine struct {
	store     storage.TripStore
	directory drivers.Directory
	processor payments.Processor
	// commissionRate is the driver's cut of the fare (0.80 means the driver
	// keeps 80%, the platform 20%).
	commissionRate float64
	currency       string
}

func NewEngine(store storage.TripStore, directory drivers.Directory, processor payments.Processor, commissionRate float64, currency string) *Engine {
	if currency == "" {
		currency = "usd"
	}
	return &Engine{
		store:          store,
		directory:      directory,
		processor:      processor,
		commissionRate: commissionRate,
		currency:       currency,
	}
}

// Split divides a fare between platform and driver. The driver share is the
// complement of the rounded company share, never rounded independently, so
// driver + company always reassembles the fare exactly.
func Split(fareCents int64, commissionRate float64) (driverCents, companyCents int64) {
	companyCents = int64(math.Round(float64(fareCents) * (1 - commissionRate)))
	driverCents = fareCents - companyCents
	return driverCents, companyCents
}

// ChargeFare charges the full fare to the rider's payment method and records
// the split. With a registered payout destination the company share is
// retained as the platform fee and the remainder routes to the driver;
// without one, the full fare lands on the platform account and the split is
// recorded pending — never a blocker.
//
// The processor call is made with no store lock held: guard first, charge,
// then commit the ledger in a second short transaction. Repeat calls return
// the recorded charge id.
func (e *Engine) ChargeFare(ctx context.Context, rideID, payerToken string) (string, error) {
	r, err := e.store.Get(ctx, rideID)
	if err != nil {
		return "", err
	}
	if r.FareChargeID != "" {
		return r.FareChargeID, nil
	}
	if r.Status != models.StatusCompleted {
		return "", &models.ConflictError{RideID: r.ID, Status: r.Status, HolderID: r.DriverID}
	}
	if r.FareCents <= 0 {
		return "", &models.ValidationError{Field: "fare_amount_cents", Reason: "must be positive"}
	}

	driverShare, companyShare := Split(r.FareCents, e.commissionRate)
	dest, err := e.directory.PayoutDestination(ctx, r.DriverID)
	if err != nil {
		return "", err
	}

	req := payments.SplitChargeRequest{
		AmountCents:    r.FareCents,
		Currency:       e.currency,
		PayerToken:     payerToken,
		IdempotencyKey: "fare:" + rideID,
	}
	if dest != "" {
		req.PayoutDestination = dest
		req.PlatformFeeCents = companyShare
	}
	chargeID, err := e.processor.CreateSplitCharge(ctx, req)
	if err != nil {
		return "", err
	}

	err = e.store.Update(ctx, rideID, func(cur *models.Ride) error {
		if cur.FareChargeID != "" {
			// a concurrent charge won; the idempotency key made the
			// processor side a no-op, so just keep the recorded id
			chargeID = cur.FareChargeID
			return nil
		}
		cur.FareChargeID = chargeID
		cur.DriverShareCents += driverShare
		cur.CompanyShareCents += companyShare
		cur.PendingSplit = dest == ""
		return nil
	})
	if err != nil {
		return "", err
	}
	return chargeID, nil
}

// ChargeTip charges a post-completion tip. The entire tip routes to the
// driver's payout destination with zero platform fee. Idempotent on
// (rideID, amountCents): the same pair never produces a second charge.
// A tip for a driver without a payout destination is a hard precondition
// failure, never a silent skip.
func (e *Engine) ChargeTip(ctx context.Context, rideID string, amountCents int64, payerToken string) (string, error) {
	if amountCents <= 0 {
		return "", nil
	}
	r, err := e.store.Get(ctx, rideID)
	if err != nil {
		return "", err
	}
	if r.TipChargeID != "" {
		if r.TipCents == amountCents {
			return r.TipChargeID, nil
		}
		return "", &models.PaymentPreconditionError{RideID: rideID, Reason: "tip already recorded with a different amount"}
	}
	if r.Status != models.StatusCompleted {
		return "", &models.ConflictError{RideID: r.ID, Status: r.Status, HolderID: r.DriverID}
	}
	dest, err := e.directory.PayoutDestination(ctx, r.DriverID)
	if err != nil {
		return "", err
	}
	if dest == "" {
		return "", &models.PaymentPreconditionError{RideID: rideID, Reason: "driver has no payout destination"}
	}

	chargeID, err := e.processor.CreateSplitCharge(ctx, payments.SplitChargeRequest{
		AmountCents:       amountCents,
		Currency:          e.currency,
		PayerToken:        payerToken,
		PayoutDestination: dest,
		PlatformFeeCents:  0,
		IdempotencyKey:    fmt.Sprintf("tip:%s:%d", rideID, amountCents),
	})
	if err != nil {
		return "", err
	}

	err = e.store.Update(ctx, rideID, func(cur *models.Ride) error {
		if cur.TipChargeID != "" {
			if cur.TipCents == amountCents {
				chargeID = cur.TipChargeID
				return nil
			}
			return &models.PaymentPreconditionError{RideID: rideID, Reason: "tip already recorded with a different amount"}
		}
		cur.TipCents = amountCents
		cur.TipChargeID = chargeID
		// tip adds to the driver share; the company share never moves
		cur.DriverShareCents += amountCents
		return nil
	})
	if err != nil {
		return "", err
	}
	return chargeID, nil
}
