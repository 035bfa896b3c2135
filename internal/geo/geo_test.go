package geo

import (
	"math"
	"testing"

	"bustracker/internal/model"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{"identical points", 27.594185, 85.519209, 27.594185, 85.519209, 0, 1e-9},
		{"one degree of longitude at the equator", 0, 0, 0, 1, 111.195, 0.01},
		{"panauti to banepa", 27.594185, 85.519209, 27.629941, 85.523908, 4.0, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("HaversineKm = %v, want %v ± %v", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestPathDistanceKm(t *testing.T) {
	kathmandu := []model.Waypoint{
		{Lat: 27.594185, Lon: 85.519209},
		{Lat: 27.600556, Lon: 85.526150},
		{Lat: 27.629941, Lon: 85.523908},
	}

	t.Run("empty path", func(t *testing.T) {
		if got := PathDistanceKm(nil); got != 0 {
			t.Errorf("PathDistanceKm(nil) = %v, want 0", got)
		}
	})

	t.Run("single point", func(t *testing.T) {
		if got := PathDistanceKm(kathmandu[:1]); got != 0 {
			t.Errorf("PathDistanceKm = %v, want 0", got)
		}
	})

	t.Run("three points equal pairwise sum", func(t *testing.T) {
		want := HaversineKm(kathmandu[0].Lat, kathmandu[0].Lon, kathmandu[1].Lat, kathmandu[1].Lon) +
			HaversineKm(kathmandu[1].Lat, kathmandu[1].Lon, kathmandu[2].Lat, kathmandu[2].Lon)
		got := PathDistanceKm(kathmandu)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("PathDistanceKm = %v, want %v", got, want)
		}
		if got <= 0 {
			t.Errorf("PathDistanceKm = %v, want positive", got)
		}
	})
}
