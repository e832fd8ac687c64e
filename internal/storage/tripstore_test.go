package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-engine/internal/models"
)

func seedRide(t *testing.T, s *MemoryStore) string {
	t.Helper()
	r := &models.Ride{
		ID:          "r1",
		RiderID:     "rider1",
		Status:      models.StatusRequested,
		FareCents:   1000,
		RequestedAt: time.Now(),
	}
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("create: %v", err)
	}
	return r.ID
}

func TestUpdateAbortsWithoutWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := seedRide(t, s)

	wantErr := errors.New("abort")
	err := s.Update(ctx, id, func(r *models.Ride) error {
		r.Status = models.StatusAccepted
		r.DriverID = "d1"
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected mutate error back, got %v", err)
	}
	r, _ := s.Get(ctx, id)
	if r.Status != models.StatusRequested || r.DriverID != "" {
		t.Fatalf("aborted update must not write, got %+v", r)
	}
}

func TestUpdateSerializesConcurrentWriters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := seedRide(t, s)

	const writers = 16
	var wg sync.WaitGroup
	wins := make(chan string, writers)
	for i := 0; i < writers; i++ {
		driver := string(rune('a' + i))
		wg.Add(1)
		go func(d string) {
			defer wg.Done()
			err := s.Update(ctx, id, func(r *models.Ride) error {
				if r.DriverID != "" {
					return &models.ConflictError{RideID: r.ID, Status: r.Status, HolderID: r.DriverID}
				}
				r.DriverID = d
				return nil
			})
			if err == nil {
				wins <- d
			}
		}(driver)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for d := range wins {
		winners = append(winners, d)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	r, _ := s.Get(ctx, id)
	if r.DriverID != winners[0] {
		t.Fatalf("stored driver %q does not match winner %q", r.DriverID, winners[0])
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := seedRide(t, s)

	r, _ := s.Get(ctx, id)
	r.Status = models.StatusCompleted

	again, _ := s.Get(ctx, id)
	if again.Status != models.StatusRequested {
		t.Fatal("mutating a Get result must not leak into the store")
	}
}

func TestDeleteUnknownRide(t *testing.T) {
	s := NewMemoryStore()
	err := s.Delete(context.Background(), "missing")
	var notFound *models.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
