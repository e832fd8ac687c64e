package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-engine/internal/drivers"
	"github.com/example/ride-engine/internal/models"
	"github.com/example/ride-engine/internal/payments"
	"github.com/example/ride-engine/internal/storage"
)

type fakeProcessor struct {
	mu       sync.Mutex
	requests []payments.SplitChargeRequest
	seen     map[string]string // idempotency key -> charge id
	fail     error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{seen: make(map[string]string)}
}

func (f *fakeProcessor) CreateSplitCharge(ctx context.Context, req payments.SplitChargeRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	if id, ok := f.seen[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := fmt.Sprintf("ch_%d", len(f.seen)+1)
	f.seen[req.IdempotencyKey] = id
	f.requests = append(f.requests, req)
	return id, nil
}

func (f *fakeProcessor) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	return nil
}

func (f *fakeProcessor) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeProcessor) lastRequest(t *testing.T) payments.SplitChargeRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no processor calls recorded")
	}
	return f.requests[len(f.requests)-1]
}

func setupEngine(t *testing.T, payoutDest string) (*Engine, *storage.MemoryStore, *fakeProcessor) {
	t.Helper()
	store := storage.NewMemoryStore()
	dir := drivers.NewMemoryDirectory()
	if payoutDest != "" {
		if err := dir.SetPayoutDestination(context.Background(), "d1", payoutDest); err != nil {
			t.Fatal(err)
		}
	}
	proc := newFakeProcessor()
	return NewEngine(store, dir, proc, 0.80, "usd"), store, proc
}

func completedRide(t *testing.T, store storage.TripStore, fareCents int64) string {
	t.Helper()
	now := time.Now()
	r := &models.Ride{
		ID:          "ride1",
		RiderID:     "rider1",
		DriverID:    "d1",
		Status:      models.StatusCompleted,
		FareCents:   fareCents,
		RequestedAt: now,
		CompletedAt: &now,
	}
	if err := store.Create(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r.ID
}

func TestSplitComplementReassemblesFare(t *testing.T) {
	cases := []struct {
		fare            int64
		rate            float64
		driver, company int64
	}{
		{1000, 0.80, 800, 200},
		{999, 0.80, 799, 200},
		{1, 0.80, 1, 0},
		{1001, 0.75, 751, 250},
		{1000, 1.00, 1000, 0},
		{1000, 0.00, 0, 1000},
	}
	for _, c := range cases {
		driver, company := Split(c.fare, c.rate)
		if driver != c.driver || company != c.company {
			t.Errorf("Split(%d, %.2f) = (%d, %d), want (%d, %d)", c.fare, c.rate, driver, company, c.driver, c.company)
		}
		if driver+company != c.fare {
			t.Errorf("Split(%d, %.2f): shares %d+%d do not reassemble the fare", c.fare, c.rate, driver, company)
		}
	}
}

func TestChargeFareSplitsWithPayoutDestination(t *testing.T) {
	e, store, proc := setupEngine(t, "acct_d1")
	ctx := context.Background()
	id := completedRide(t, store, 1000)

	chargeID, err := e.ChargeFare(ctx, id, "tok_rider")
	if err != nil {
		t.Fatalf("charge fare: %v", err)
	}
	if chargeID == "" {
		t.Fatal("expected a charge id")
	}

	req := proc.lastRequest(t)
	if req.AmountCents != 1000 || req.PayoutDestination != "acct_d1" || req.PlatformFeeCents != 200 {
		t.Fatalf("unexpected charge request: %+v", req)
	}
	if req.IdempotencyKey != "fare:"+id {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}

	r, _ := store.Get(ctx, id)
	if r.DriverShareCents != 800 || r.CompanyShareCents != 200 {
		t.Fatalf("expected 800/200 split, got %d/%d", r.DriverShareCents, r.CompanyShareCents)
	}
	if r.PendingSplit {
		t.Fatal("split must not be pending when a payout destination exists")
	}
	if r.FareChargeID != chargeID {
		t.Fatalf("charge id not recorded: %+v", r)
	}
}

func TestChargeFareWithoutDestinationIsPending(t *testing.T) {
	e, store, proc := setupEngine(t, "")
	ctx := context.Background()
	id := completedRide(t, store, 1000)

	if _, err := e.ChargeFare(ctx, id, "tok_rider"); err != nil {
		t.Fatalf("charge fare: %v", err)
	}

	req := proc.lastRequest(t)
	if req.PayoutDestination != "" || req.PlatformFeeCents != 0 {
		t.Fatalf("fallback charge must not carry split fields: %+v", req)
	}

	r, _ := store.Get(ctx, id)
	if !r.PendingSplit {
		t.Fatal("expected pending split without payout destination")
	}
	// the ledger still records what the eventual split owes each party
	if r.DriverShareCents != 800 || r.CompanyShareCents != 200 {
		t.Fatalf("expected recorded 800/200 split, got %d/%d", r.DriverShareCents, r.CompanyShareCents)
	}
}

func TestChargeFareIdempotent(t *testing.T) {
	e, store, proc := setupEngine(t, "acct_d1")
	ctx := context.Background()
	id := completedRide(t, store, 1000)

	first, err := e.ChargeFare(ctx, id, "tok_rider")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.ChargeFare(ctx, id, "tok_rider")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("repeat charge returned a different id: %s vs %s", first, second)
	}
	if proc.chargeCount() != 1 {
		t.Fatalf("expected exactly one processor call, got %d", proc.chargeCount())
	}

	r, _ := store.Get(ctx, id)
	if r.DriverShareCents != 800 || r.CompanyShareCents != 200 {
		t.Fatalf("repeat charge must not double the ledger, got %d/%d", r.DriverShareCents, r.CompanyShareCents)
	}
}

func TestChargeFareRequiresCompletion(t *testing.T) {
	e, store, _ := setupEngine(t, "acct_d1")
	ctx := context.Background()
	r := &models.Ride{ID: "ride1", RiderID: "rider1", DriverID: "d1", Status: models.StatusInProgress, FareCents: 1000, RequestedAt: time.Now()}
	if err := store.Create(ctx, r); err != nil {
		t.Fatal(err)
	}

	_, err := e.ChargeFare(ctx, "ride1", "tok_rider")
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for unfinished ride, got %v", err)
	}
}

func TestChargeFareProcessorFailureLeavesLedgerUntouched(t *testing.T) {
	e, store, proc := setupEngine(t, "acct_d1")
	ctx := context.Background()
	id := completedRide(t, store, 1000)

	proc.fail = &models.ProcessorError{Code: "card_declined", Message: "declined"}
	if _, err := e.ChargeFare(ctx, id, "tok_rider"); err == nil {
		t.Fatal("expected processor error")
	}

	r, _ := store.Get(ctx, id)
	if r.FareChargeID != "" || r.DriverShareCents != 0 || r.CompanyShareCents != 0 {
		t.Fatalf("failed charge must not write the ledger: %+v", r)
	}

	// the ride stays chargeable once the processor recovers
	proc.fail = nil
	if _, err := e.ChargeFare(ctx, id, "tok_rider"); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}

func TestChargeTipRoutesEverythingToDriver(t *testing.T) {
	e, store, proc := setupEngine(t, "acct_d1")
	ctx := context.Background()
	id := completedRide(t, store, 1000)

	if _, err := e.ChargeFare(ctx, id, "tok_rider"); err != nil {
		t.Fatal(err)
	}
	tipID, err := e.ChargeTip(ctx, id, 300, "tok_rider")
	if err != nil {
		t.Fatalf("charge tip: %v", err)
	}
	if tipID == "" {
		t.Fatal("expected a tip charge id")
	}

	req := proc.lastRequest(t)
	if req.AmountCents != 300 || req.PayoutDestination != "acct_d1" || req.PlatformFeeCents != 0 {
		t.Fatalf("tip must route fully to the driver: %+v", req)
	}

	r, _ := store.Get(ctx, id)
	if r.DriverShareCents != 1100 || r.CompanyShareCents != 200 {
		t.Fatalf("expected driver 1100 / company 200 after tip, got %d/%d", r.DriverShareCents, r.CompanyShareCents)
	}
	if r.TipCents != 300 || r.TipChargeID != tipID {
		t.Fatalf("tip not recorded: %+v", r)
	}
	if r.FareCents != 1000 {
		t.Fatalf("tip must not touch the fare, got %d", r.FareCents)
	}
}

func TestChargeTipIdempotentOnSamePair(t *testing.T) {
	e, store, proc := setupEngine(t, "acct_d1")
	ctx := context.Background()
	id := completedRide(t, store, 1000)

	first, err := e.ChargeTip(ctx, id, 300, "tok_rider")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.ChargeTip(ctx, id, 300, "tok_rider")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("repeat tip returned a different id: %s vs %s", first, second)
	}
	if proc.chargeCount() != 1 {
		t.Fatalf("expected exactly one processor call, got %d", proc.chargeCount())
	}
	r, _ := store.Get(ctx, id)
	if r.DriverShareCents != 300 {
		t.Fatalf("repeat tip must not double the driver share, got %d", r.DriverShareCents)
	}
}

func TestChargeTipDifferentAmountRejected(t *testing.T) {
	e, store, _ := setupEngine(t, "acct_d1")
	ctx := context.Background()
	id := completedRide(t, store, 1000)

	if _, err := e.ChargeTip(ctx, id, 300, "tok_rider"); err != nil {
		t.Fatal(err)
	}
	_, err := e.ChargeTip(ctx, id, 500, "tok_rider")
	var precond *models.PaymentPreconditionError
	if !errors.As(err, &precond) {
		t.Fatalf("expected PaymentPreconditionError, got %v", err)
	}
}

func TestChargeTipRequiresPayoutDestination(t *testing.T) {
	e, store, proc := setupEngine(t, "")
	ctx := context.Background()
	id := completedRide(t, store, 1000)

	_, err := e.ChargeTip(ctx, id, 300, "tok_rider")
	var precond *models.PaymentPreconditionError
	if !errors.As(err, &precond) {
		t.Fatalf("expected PaymentPreconditionError, got %v", err)
	}
	if proc.chargeCount() != 0 {
		t.Fatal("no charge may be created without a payout destination")
	}
}

func TestChargeTipZeroAmountSkipped(t *testing.T) {
	e, store, proc := setupEngine(t, "acct_d1")
	ctx := context.Background()
	id := completedRide(t, store, 1000)

	chargeID, err := e.ChargeTip(ctx, id, 0, "tok_rider")
	if err != nil || chargeID != "" {
		t.Fatalf("zero tip must be a no-op, got (%q, %v)", chargeID, err)
	}
	if proc.chargeCount() != 0 {
		t.Fatal("zero tip must not reach the processor")
	}
}
