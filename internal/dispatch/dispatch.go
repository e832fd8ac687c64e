// Package dispatch delivers ride offers to drivers. Delivery is best-effort
// eventual consistency: the transactional store stays the source of truth,
// and a driver who missed a push still sees the ride when they poll or
// reconnect.
package dispatch

import "github.com/example/ride-engine/internal/models"

// Dispatcher pushes an offer to a single driver.
type Dispatcher interface {
	Offer(offer models.RideOffer) error
}
