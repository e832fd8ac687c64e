package models

import "time"

// Coord is a WGS84 point with an optional free-text address. Every Coord
// value is a real location; absence is expressed with a nil *Coord, never a
// zero value, since (0,0) is a legitimate coordinate.
type Coord struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address,omitempty"`
}

// RideStatus is the canonical lifecycle state of a ride. Transitions are
// owned by the lifecycle package; everything else treats the value as opaque.
type RideStatus string

const (
	StatusRequested          RideStatus = "requested"
	StatusAccepted           RideStatus = "accepted"
	StatusArrivedAtPickup    RideStatus = "arrived_at_pickup"
	StatusInProgress         RideStatus = "in_progress"
	StatusCompleted          RideStatus = "completed"
	StatusRejected           RideStatus = "rejected"
	StatusCancelledByUser    RideStatus = "cancelled_by_user"
	StatusCancelledByDriver  RideStatus = "cancelled_by_driver"
	StatusScheduledRequested RideStatus = "scheduled_requested"
	StatusScheduledAccepted  RideStatus = "scheduled_accepted"
	StatusDeclined           RideStatus = "declined"
)

// Open reports whether no driver holds an exclusive claim on a ride in this
// status.
func (s RideStatus) Open() bool {
	return s == StatusRequested || s == StatusScheduledRequested
}

// Terminal reports whether the ride can never leave this status.
func (s RideStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusDeclined,
		StatusCancelledByUser, StatusCancelledByDriver:
		return true
	}
	return false
}

// Scheduled reports whether the status belongs to the reservation track.
func (s RideStatus) Scheduled() bool {
	return s == StatusScheduledRequested || s == StatusScheduledAccepted
}

// Seat classes map a tier name to the minimum seat capacity it requires.
const (
	SeatsStandard = 4
	SeatsComfort  = 6
	SeatsXL       = 7
)

// SeatClassName returns the tier name for a seat requirement.
func SeatClassName(seats int) string {
	switch {
	case seats >= SeatsXL:
		return "xl"
	case seats >= SeatsComfort:
		return "comfort"
	default:
		return "standard"
	}
}

// Ride is the central persisted record. Money fields are integer
// minor-currency units (cents).
type Ride struct {
	ID      string `json:"id"`
	RiderID string `json:"rider_id"`
	// DriverID is empty until a driver is assigned or accepts.
	DriverID string `json:"driver_id,omitempty"`
	Vehicle  string `json:"vehicle,omitempty"`

	Status RideStatus `json:"status"`

	Pickup        Coord `json:"pickup"`
	Destination   Coord `json:"destination"`
	RequiredSeats int   `json:"required_seats"`

	// FareCents is fixed at creation and immutable thereafter.
	FareCents int64 `json:"fare_cents"`
	// TipCents is zero until a tip is charged; set at most once.
	TipCents          int64  `json:"tip_cents,omitempty"`
	DriverShareCents  int64  `json:"driver_share_cents"`
	CompanyShareCents int64  `json:"company_share_cents"`
	PendingSplit      bool   `json:"pending_split,omitempty"`
	FareChargeID      string `json:"fare_charge_id,omitempty"`
	TipChargeID       string `json:"tip_charge_id,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	RequestedAt time.Time     `json:"requested_at"`
	AssignedAt  *time.Time    `json:"assigned_at,omitempty"`
	AcceptedAt  *time.Time    `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time    `json:"arrived_at,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Driver is the matching view of a driver. It is owned by the driver's own
// client; the engine only reads it.
type Driver struct {
	ID string `json:"id"`
	// Loc is nil until the driver has reported a position.
	Loc     *Coord    `json:"loc,omitempty"`
	Seats   int       `json:"seats"`
	Online  bool      `json:"online"`
	Vehicle string    `json:"vehicle,omitempty"`
	Updated time.Time `json:"updated,omitempty"`
}

// RideRequest is the creation input consumed from the rider flow. Pickup and
// destination are pointers so a missing field is distinguishable from a point
// at the origin.
type RideRequest struct {
	RiderID       string     `json:"rider_id"`
	Pickup        *Coord     `json:"pickup"`
	Destination   *Coord     `json:"destination"`
	RequiredSeats int        `json:"required_seats"`
	FareCents     int64      `json:"fare_amount_cents"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
}

// RideOffer is pushed to a driver when a ride is offered to them.
type RideOffer struct {
	RideID       string  `json:"ride_id"`
	DriverID     string  `json:"driver_id"`
	Pickup       Coord   `json:"pickup"`
	DistanceM    float64 `json:"distance_m"`
	PickupETASec float64 `json:"pickup_eta_seconds,omitempty"`
	FareCents    int64   `json:"fare_cents"`
}
