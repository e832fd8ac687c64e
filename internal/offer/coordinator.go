// Package offer turns ranked driver candidates into a sequential offer
// process and resolves accept/decline races through the transactional store.
package offer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-engine/internal/dispatch"
	"github.com/example/ride-engine/internal/drivers"
	"github.com/example/ride-engine/internal/eta"
	"github.com/example/ride-engine/internal/geo"
	"github.com/example/ride-engine/internal/lifecycle"
	"github.com/example/ride-engine/internal/models"
	"github.com/example/ride-engine/internal/observability"
	"github.com/example/ride-engine/internal/storage"
)

// Policy selects what a decline does with the freed ride.
type Policy string

const (
	// PolicyReoffer proactively re-offers to the next nearest candidate.
	PolicyReoffer Policy = "reoffer"
	// PolicyOpen returns the ride to the open pool for any qualifying
	// driver to accept.
	PolicyOpen Policy = "open"
)

type Coordinator struct {
	Store     storage.TripStore
	Matcher   geo.Matcher
	Dispatch  dispatch.Dispatcher
	Directory drivers.Directory

	ETAClient eta.Client
	ETACache  *eta.Cache
	SpeedMps  float64

	// MaxRetries bounds how many next-ranked candidates an assignment search
	// walks before giving up.
	MaxRetries    int
	DeclinePolicy Policy

	Logger *slog.Logger

	now func() time.Time
}

func NewCoordinator(store storage.TripStore, matcher geo.Matcher, disp dispatch.Dispatcher, dir drivers.Directory, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		Store:         store,
		Matcher:       matcher,
		Dispatch:      disp,
		Directory:     dir,
		SpeedMps:      10,
		MaxRetries:    3,
		DeclinePolicy: PolicyReoffer,
		Logger:        logger,
		now:           time.Now,
	}
}

// Assignment reports the driver an open ride was offered to.
type Assignment struct {
	DriverID     string  `json:"driver_id"`
	Vehicle      string  `json:"vehicle,omitempty"`
	DistanceM    float64 `json:"distance_m"`
	PickupETASec float64 `json:"pickup_eta_seconds,omitempty"`
}

// DeclineResult is the structured outcome of a decline.
type DeclineResult struct {
	Reassigned   bool   `json:"reassigned"`
	NextDriverID string `json:"next_driver_id,omitempty"`
}

// Assign finds the nearest qualifying driver for an open ride and writes the
// claim. When the conditional write loses a race the search moves to the
// next-ranked candidate, bounded by MaxRetries.
func (c *Coordinator) Assign(ctx context.Context, rideID string) (*Assignment, error) {
	r, err := c.Store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !r.Status.Open() {
		return nil, &models.ConflictError{RideID: r.ID, Status: r.Status, HolderID: r.DriverID}
	}
	cands, err := c.Matcher.FindCandidates(ctx, r.Pickup, r.RequiredSeats)
	if err != nil {
		return nil, err
	}
	return c.assignFrom(ctx, r, cands, "")
}

func (c *Coordinator) assignFrom(ctx context.Context, r *models.Ride, cands []geo.Candidate, exclude string) (*Assignment, error) {
	tries := 0
	var lastConflict error
	for _, cand := range cands {
		if cand.Driver.ID == exclude {
			continue
		}
		if tries >= c.MaxRetries {
			break
		}
		tries++

		vehicle := cand.Driver.Vehicle
		if vehicle == "" && c.Directory != nil {
			vehicle, _ = c.Directory.Vehicle(ctx, cand.Driver.ID)
		}
		now := c.clock()
		err := c.Store.Update(ctx, r.ID, func(cur *models.Ride) error {
			if !cur.Status.Open() || cur.DriverID != "" {
				return &models.ConflictError{RideID: cur.ID, Status: cur.Status, HolderID: cur.DriverID}
			}
			cur.DriverID = cand.Driver.ID
			cur.Vehicle = vehicle
			cur.AssignedAt = &now
			return nil
		})
		if err != nil {
			var conflict *models.ConflictError
			if errors.As(err, &conflict) {
				lastConflict = err
				observability.AssignConflicts.Inc()
				continue
			}
			return nil, err
		}

		a := &Assignment{
			DriverID:     cand.Driver.ID,
			Vehicle:      vehicle,
			DistanceM:    cand.DistanceM,
			PickupETASec: c.pickupETA(*cand.Driver.Loc, r.Pickup),
		}
		c.pushOffer(r, a)
		observability.AssignmentsTotal.Inc()
		return a, nil
	}
	if lastConflict != nil {
		return nil, lastConflict
	}
	observability.NoCandidatesTotal.Inc()
	return nil, &models.NoCandidatesError{RideID: r.ID, RequiredSeats: r.RequiredSeats}
}

// Accept resolves the claim race for an open ride. One transaction reads the
// ride, verifies it is still open with the driver unset or equal to the
// caller, and commits the claim plus the accepted transition. Exactly one
// concurrent Accept succeeds; losers get ConflictError with the winner, and
// are never retried.
func (c *Coordinator) Accept(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	if driverID == "" {
		return nil, &models.ValidationError{Field: "driver_id", Reason: "required"}
	}
	var vehicle string
	if c.Directory != nil {
		vehicle, _ = c.Directory.Vehicle(ctx, driverID)
	}
	var out *models.Ride
	now := c.clock()
	err := c.Store.Update(ctx, rideID, func(cur *models.Ride) error {
		if !cur.Status.Open() {
			return &models.ConflictError{RideID: cur.ID, Status: cur.Status, HolderID: cur.DriverID}
		}
		if cur.DriverID != "" && cur.DriverID != driverID {
			return &models.ConflictError{RideID: cur.ID, Status: cur.Status, HolderID: cur.DriverID}
		}
		target := models.StatusAccepted
		if cur.Status == models.StatusScheduledRequested {
			target = models.StatusScheduledAccepted
		}
		cur.DriverID = driverID
		if vehicle != "" {
			cur.Vehicle = vehicle
		}
		if cur.AssignedAt == nil {
			cur.AssignedAt = &now
		}
		if err := lifecycle.Apply(cur, target, now); err != nil {
			return err
		}
		cp := *cur
		out = &cp
		return nil
	})
	if err != nil {
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			observability.AcceptsTotal.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}
	observability.AcceptsTotal.WithLabelValues("ok").Inc()
	return out, nil
}

// Decline releases a driver's claim. On the live track the ride reopens
// through the state machine; a declined reservation request goes terminal.
// Under PolicyReoffer the freed ride is immediately re-offered to the next
// nearest candidate, excluding the decliner.
func (c *Coordinator) Decline(ctx context.Context, rideID, driverID string) (*DeclineResult, error) {
	if driverID == "" {
		return nil, &models.ValidationError{Field: "driver_id", Reason: "required"}
	}
	reopened := false
	now := c.clock()
	err := c.Store.Update(ctx, rideID, func(cur *models.Ride) error {
		if cur.DriverID != driverID {
			return &models.ConflictError{RideID: cur.ID, Status: cur.Status, HolderID: cur.DriverID}
		}
		switch cur.Status {
		case models.StatusRequested:
			// offered but not yet accepted: just release the claim
		case models.StatusScheduledRequested:
			return lifecycle.Apply(cur, models.StatusDeclined, now)
		case models.StatusAccepted:
			if err := lifecycle.Apply(cur, models.StatusRequested, now); err != nil {
				return err
			}
			cur.AcceptedAt = nil
		case models.StatusScheduledAccepted:
			if err := lifecycle.Apply(cur, models.StatusScheduledRequested, now); err != nil {
				return err
			}
			cur.AcceptedAt = nil
		default:
			return &models.ConflictError{RideID: cur.ID, Status: cur.Status, HolderID: cur.DriverID}
		}
		cur.DriverID = ""
		cur.Vehicle = ""
		cur.AssignedAt = nil
		reopened = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.DeclinesTotal.Inc()
	if !reopened || c.DeclinePolicy != PolicyReoffer {
		return &DeclineResult{}, nil
	}

	r, err := c.Store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	cands, err := c.Matcher.FindCandidates(ctx, r.Pickup, r.RequiredSeats)
	if err != nil {
		c.Logger.Warn("reoffer candidate search failed", "ride_id", rideID, "error", err)
		return &DeclineResult{}, nil
	}
	a, err := c.assignFrom(ctx, r, cands, driverID)
	if err != nil {
		// the ride stays open; a later driver can still claim it
		c.Logger.Info("reoffer found no next driver", "ride_id", rideID, "error", err)
		return &DeclineResult{}, nil
	}
	observability.ReoffersTotal.Inc()
	return &DeclineResult{Reassigned: true, NextDriverID: a.DriverID}, nil
}

func (c *Coordinator) pickupETA(from, to models.Coord) float64 {
	if c.ETACache != nil {
		if v, ok := c.ETACache.Get(from, to); ok {
			return v
		}
	}
	if c.ETAClient != nil {
		if v, err := c.ETAClient.EstimateSeconds(from, to); err == nil {
			if c.ETACache != nil {
				c.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, c.SpeedMps)
}

func (c *Coordinator) pushOffer(r *models.Ride, a *Assignment) {
	if c.Dispatch == nil {
		return
	}
	err := c.Dispatch.Offer(models.RideOffer{
		RideID:       r.ID,
		DriverID:     a.DriverID,
		Pickup:       r.Pickup,
		DistanceM:    a.DistanceM,
		PickupETASec: a.PickupETASec,
		FareCents:    r.FareCents,
	})
	if err != nil {
		// delivery is best-effort; the store remains authoritative
		c.Logger.Debug("offer push failed", "ride_id", r.ID, "driver_id", a.DriverID, "error", err)
	}
}

func (c *Coordinator) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
