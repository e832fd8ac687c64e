// Package lifecycle owns the ride status state machine. Every status write
// in the engine funnels through Apply inside a TripStore transaction, so a
// transition is always validated against the persisted status at commit time.
package lifecycle

import (
	"context"
	"time"

	"github.com/example/ride-engine/internal/models"
	"github.com/example/ride-engine/internal/storage"
)

// transitions is the legal edge set. requested<-accepted and
// scheduled_requested<-scheduled_accepted are the decline-reopen edges.
var transitions = map[models.RideStatus][]models.RideStatus{
	models.StatusRequested: {
		models.StatusAccepted,
		models.StatusRejected,
		models.StatusCancelledByUser,
	},
	models.StatusAccepted: {
		models.StatusArrivedAtPickup,
		models.StatusCancelledByUser,
		models.StatusCancelledByDriver,
		models.StatusRequested,
	},
	models.StatusArrivedAtPickup: {
		models.StatusInProgress,
		models.StatusCancelledByUser,
	},
	models.StatusInProgress: {
		models.StatusCompleted,
	},
	models.StatusScheduledRequested: {
		models.StatusScheduledAccepted,
		models.StatusDeclined,
		models.StatusCancelledByUser,
	},
	models.StatusScheduledAccepted: {
		models.StatusAccepted,
		models.StatusScheduledRequested,
		models.StatusCancelledByUser,
		models.StatusCancelledByDriver,
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.RideStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply validates and performs a transition on an in-transaction ride copy,
// stamping the timestamp the target status owns. An illegal transition
// returns ConflictError naming the current status and is never silently
// ignored.
func Apply(r *models.Ride, to models.RideStatus, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return &models.ConflictError{RideID: r.ID, Status: r.Status, HolderID: r.DriverID}
	}
	r.Status = to
	switch to {
	case models.StatusAccepted, models.StatusScheduledAccepted:
		r.AcceptedAt = &now
	case models.StatusArrivedAtPickup:
		r.ArrivedAt = &now
	case models.StatusInProgress:
		r.StartedAt = &now
	case models.StatusCompleted:
		r.CompletedAt = &now
		if r.StartedAt != nil {
			d := now.Sub(*r.StartedAt)
			if d < time.Minute {
				d = time.Minute
			}
			r.Duration = d
		}
	case models.StatusCancelledByUser, models.StatusCancelledByDriver,
		models.StatusRejected, models.StatusDeclined:
		r.CancelledAt = &now
	}
	return nil
}

// Machine drives transitions against the transactional store.
type Machine struct {
	store storage.TripStore
	now   func() time.Time
}

func NewMachine(store storage.TripStore) *Machine {
	return &Machine{store: store, now: time.Now}
}

// Transition moves a ride to the target status, verifying the acting driver
// when one is supplied.
func (m *Machine) Transition(ctx context.Context, rideID string, to models.RideStatus, driverID string) error {
	return m.store.Update(ctx, rideID, func(r *models.Ride) error {
		if driverID != "" && r.DriverID != driverID {
			return &models.ConflictError{RideID: r.ID, Status: r.Status, HolderID: r.DriverID}
		}
		return Apply(r, to, m.now())
	})
}

// Arrive marks the assigned driver at the pickup point.
func (m *Machine) Arrive(ctx context.Context, rideID, driverID string) error {
	return m.Transition(ctx, rideID, models.StatusArrivedAtPickup, driverID)
}

// Start begins the trip.
func (m *Machine) Start(ctx context.Context, rideID, driverID string) error {
	return m.Transition(ctx, rideID, models.StatusInProgress, driverID)
}

// Complete ends the trip, stamping completion time and trip duration
// (floored at one minute).
func (m *Machine) Complete(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	var out *models.Ride
	err := m.store.Update(ctx, rideID, func(r *models.Ride) error {
		if driverID != "" && r.DriverID != driverID {
			return &models.ConflictError{RideID: r.ID, Status: r.Status, HolderID: r.DriverID}
		}
		if err := Apply(r, models.StatusCompleted, m.now()); err != nil {
			return err
		}
		cp := *r
		out = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelByRider cancels on the rider's behalf. Permitted up to
// arrived_at_pickup. A scheduled reservation cancelled before any driver
// accepted it is deleted outright rather than parked in a terminal status.
func (m *Machine) CancelByRider(ctx context.Context, rideID string) error {
	r, err := m.store.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if r.Status == models.StatusScheduledRequested && r.DriverID == "" {
		// revalidate inside the delete path: a concurrent accept loses the
		// race only if it has not committed yet
		err := m.store.Update(ctx, rideID, func(cur *models.Ride) error {
			if cur.Status != models.StatusScheduledRequested || cur.DriverID != "" {
				return &models.ConflictError{RideID: cur.ID, Status: cur.Status, HolderID: cur.DriverID}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return m.store.Delete(ctx, rideID)
	}
	return m.Transition(ctx, rideID, models.StatusCancelledByUser, "")
}

// CancelByDriver cancels on the assigned driver's behalf; permitted at any
// point before in_progress.
func (m *Machine) CancelByDriver(ctx context.Context, rideID, driverID string) error {
	return m.Transition(ctx, rideID, models.StatusCancelledByDriver, driverID)
}

// Reject marks an open ride as rejected by the platform (e.g. the rider flow
// gave up after repeated no-candidate outcomes).
func (m *Machine) Reject(ctx context.Context, rideID string) error {
	return m.Transition(ctx, rideID, models.StatusRejected, "")
}

// Promote converts an accepted reservation to a live trip on trip day. The
// timer that decides "trip day" belongs to an external scheduler.
func (m *Machine) Promote(ctx context.Context, rideID string) error {
	return m.store.Update(ctx, rideID, func(r *models.Ride) error {
		if r.Status != models.StatusScheduledAccepted {
			return &models.ConflictError{RideID: r.ID, Status: r.Status, HolderID: r.DriverID}
		}
		return Apply(r, models.StatusAccepted, m.now())
	})
}
