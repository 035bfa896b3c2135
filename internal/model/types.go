package model

import "time"

// Bus identifies a registered driver/vehicle. The password hash is set once
// at registration and never rotated.
type Bus struct {
	BusNumber    string    `json:"bus_number"`
	Username     string    `json:"username"`
	RouteID      string    `json:"route_id"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// PositionSample is a single recorded position. Immutable once stored.
type PositionSample struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

// BusLocationState is the live per-bus record: current coordinates plus
// three retention tiers that shift in lock-step on every accepted sample.
type BusLocationState struct {
	BusNumber    string           `json:"bus_number"`
	CurrentLat   float64          `json:"current_lat"`
	CurrentLon   float64          `json:"current_lon"`
	RecentWindow []PositionSample `json:"recent_window"`
	PriorSample  *PositionSample  `json:"prior_sample,omitempty"`
	PriorPrior   *PositionSample  `json:"prior_prior_sample,omitempty"`
	LastUpdated  time.Time        `json:"last_updated"`
}

// RecentWindowDepth bounds BusLocationState.RecentWindow (FIFO eviction).
const RecentWindowDepth = 5

// Waypoint is one vertex of a route's path.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RouteInfo holds a route's static geometry and, when a transit task is
// active, its live fields.
type RouteInfo struct {
	RouteID   string     `json:"route_id"`
	RouteName string     `json:"route_name"`
	Waypoints []Waypoint `json:"coordinates"`

	CurrentLat       *float64   `json:"current_lat,omitempty"`
	CurrentLon       *float64   `json:"current_lon,omitempty"`
	FinalLat         *float64   `json:"final_lat,omitempty"`
	FinalLon         *float64   `json:"final_lon,omitempty"`
	FinalDestination *string    `json:"final_destination,omitempty"`
	UpdatedAt        *time.Time `json:"timestamp,omitempty"`
}

// RouteTransit carries one live-transit submission for a route.
type RouteTransit struct {
	RouteID          string
	CurrentLat       float64
	CurrentLon       float64
	FinalLat         *float64
	FinalLon         *float64
	FinalDestination *string
	Timestamp        *time.Time
}

// BusRouteLocation is the latest known point of one bus on a route.
type BusRouteLocation struct {
	BusNumber  string  `json:"busNumber"`
	CurrentLat float64 `json:"lat"`
	CurrentLon float64 `json:"lon"`
}

// RouteSummary aggregates a route's name, assigned buses, and path length.
type RouteSummary struct {
	RouteID         string   `json:"route_id"`
	RouteName       string   `json:"route_name"`
	BusNumbers      []string `json:"bus_numbers"`
	TotalDistanceKm float64  `json:"total_distance_km"`
}
