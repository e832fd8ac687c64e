package geo

import (
	"context"
	"testing"

	"github.com/example/ride-engine/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestFindCandidatesOrdersByDistance(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	_ = idx.Upsert(ctx, models.Driver{ID: "d1", Seats: 4, Loc: &models.Coord{Lat: 0, Lon: 0}, Online: true})
	_ = idx.Upsert(ctx, models.Driver{ID: "d2", Seats: 6, Loc: &models.Coord{Lat: 0, Lon: 1}, Online: true})

	cands, err := idx.FindCandidates(ctx, models.Coord{Lat: 0, Lon: 0.01}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Driver.ID != "d1" || cands[1].Driver.ID != "d2" {
		t.Fatalf("expected [d1 d2], got [%s %s]", cands[0].Driver.ID, cands[1].Driver.ID)
	}
	if cands[0].DistanceM >= cands[1].DistanceM {
		t.Fatalf("expected non-decreasing distances, got %f then %f", cands[0].DistanceM, cands[1].DistanceM)
	}
}

func TestFindCandidatesIncludesDriverAtOrigin(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	// (0,0) is a real coordinate, not a missing location
	_ = idx.Upsert(ctx, models.Driver{ID: "d1", Seats: 4, Loc: &models.Coord{Lat: 0, Lon: 0}, Online: true})
	_ = idx.Upsert(ctx, models.Driver{ID: "d2", Seats: 6, Loc: &models.Coord{Lat: 0, Lon: 1}, Online: true})

	cands, err := idx.FindCandidates(ctx, models.Coord{Lat: 0, Lon: 0.01}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 || cands[0].Driver.ID != "d1" {
		t.Fatalf("driver at the origin must rank first, got %+v", cands)
	}
}

func TestFindCandidatesSeatFilter(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	_ = idx.Upsert(ctx, models.Driver{ID: "small", Seats: 4, Loc: &models.Coord{Lat: 0, Lon: 0}, Online: true})
	_ = idx.Upsert(ctx, models.Driver{ID: "big", Seats: 7, Loc: &models.Coord{Lat: 0, Lon: 2}, Online: true})

	cands, err := idx.FindCandidates(ctx, models.Coord{Lat: 0, Lon: 0}, models.SeatsComfort)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Driver.ID != "big" {
		t.Fatalf("expected only the 7-seat driver, got %+v", cands)
	}
}

func TestFindCandidatesExcludesOfflineAndLocationless(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	_ = idx.Upsert(ctx, models.Driver{ID: "offline", Seats: 4, Loc: &models.Coord{Lat: 1, Lon: 1}, Online: false})
	_ = idx.Upsert(ctx, models.Driver{ID: "nowhere", Seats: 4, Online: true})

	cands, err := idx.FindCandidates(ctx, models.Coord{Lat: 1, Lon: 1}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no candidates, got %+v", cands)
	}
}

func TestFindCandidatesDeterministic(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	_ = idx.Upsert(ctx, models.Driver{ID: "a", Seats: 4, Loc: &models.Coord{Lat: 0, Lon: 0.5}, Online: true})
	_ = idx.Upsert(ctx, models.Driver{ID: "b", Seats: 4, Loc: &models.Coord{Lat: 0, Lon: 0.2}, Online: true})
	_ = idx.Upsert(ctx, models.Driver{ID: "c", Seats: 4, Loc: &models.Coord{Lat: 0, Lon: 0.9}, Online: true})

	pickup := models.Coord{Lat: 0, Lon: 0}
	first, _ := idx.FindCandidates(ctx, pickup, 4)
	for i := 0; i < 5; i++ {
		again, _ := idx.FindCandidates(ctx, pickup, 4)
		if len(again) != len(first) {
			t.Fatalf("result size changed between calls")
		}
		for j := range again {
			if again[j].Driver.ID != first[j].Driver.ID {
				t.Fatalf("ordering changed between calls: %v vs %v", again, first)
			}
			if j > 0 && again[j].DistanceM < again[j-1].DistanceM {
				t.Fatalf("distances not non-decreasing: %+v", again)
			}
		}
	}
}
