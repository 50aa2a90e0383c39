package maps

import (
	"context"
	"errors"
	"testing"
)

func TestCoordinateGeocoder(t *testing.T) {
	p, err := CoordinateGeocoder{}.Geocode(context.Background(), " 22.3193,114.1694 ")
	if err != nil || p.Lat != 22.3193 || p.Lng != 114.1694 {
		t.Fatalf("geocode = %v %v", p, err)
	}
	if _, err := (CoordinateGeocoder{}).Geocode(context.Background(), "Times Square"); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestStraightLineDistance(t *testing.T) {
	// About 25 km between the two points at 25 km/h is roughly an hour.
	secs, err := StraightLineDistance{}.Duration(context.Background(), "22.3193,114.1694", "22.0945,114.1694")
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if secs < 3500 || secs > 3700 {
		t.Fatalf("secs = %d", secs)
	}
	if _, err := (StraightLineDistance{}).Duration(context.Background(), "nowhere", "22,114"); err == nil {
		t.Fatal("expected parse error")
	}
}
