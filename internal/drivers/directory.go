// Package drivers holds the driver metadata directory: payout destination,
// vehicle descriptor, seat capacity. The onboarding flow (out of scope)
// writes payout destinations; settlement and matching read them.
package drivers

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-engine/internal/models"
)

// Directory exposes the driver metadata the engine reads.
type Directory interface {
	// PayoutDestination returns the driver's external payout account
	// reference, or "" when the driver has not finished payout onboarding.
	PayoutDestination(ctx context.Context, driverID string) (string, error)
	SetPayoutDestination(ctx context.Context, driverID, destination string) error
	Vehicle(ctx context.Context, driverID string) (string, error)
}

// MemoryDirectory backs local runs and tests.
type MemoryDirectory struct {
	mu      sync.RWMutex
	payouts map[string]string
	vehicle map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{payouts: make(map[string]string), vehicle: make(map[string]string)}
}

func (m *MemoryDirectory) PayoutDestination(ctx context.Context, driverID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.payouts[driverID], nil
}

func (m *MemoryDirectory) SetPayoutDestination(ctx context.Context, driverID, destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payouts[driverID] = destination
	return nil
}

func (m *MemoryDirectory) Vehicle(ctx context.Context, driverID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vehicle[driverID], nil
}

func (m *MemoryDirectory) SetVehicle(ctx context.Context, driverID, vehicle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicle[driverID] = vehicle
	return nil
}

// RedisDirectory shares the driver:meta:<id> hash with the geo index.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func (r *RedisDirectory) PayoutDestination(ctx context.Context, driverID string) (string, error) {
	v, err := r.client.HGet(ctx, metaKey(driverID), "payout_destination").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *RedisDirectory) SetPayoutDestination(ctx context.Context, driverID, destination string) error {
	if driverID == "" {
		return &models.ValidationError{Field: "driver_id", Reason: "required"}
	}
	return r.client.HSet(ctx, metaKey(driverID), "payout_destination", destination).Err()
}

func (r *RedisDirectory) Vehicle(ctx context.Context, driverID string) (string, error) {
	v, err := r.client.HGet(ctx, metaKey(driverID), "vehicle").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
