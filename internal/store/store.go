package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bustracker/internal/geo"
	"bustracker/internal/model"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS buses (
			bus_number TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			route_id TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_buses_route ON buses(route_id);`,
		`CREATE TABLE IF NOT EXISTS bus_locations (
			bus_number TEXT PRIMARY KEY REFERENCES buses(bus_number),
			current_lat REAL NOT NULL,
			current_lon REAL NOT NULL,
			recent_window TEXT NOT NULL,
			prior_sample TEXT,
			prior_prior_sample TEXT,
			last_updated TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS route_info (
			route_id TEXT PRIMARY KEY,
			route_name TEXT NOT NULL,
			waypoints TEXT NOT NULL DEFAULT '[]',
			current_lat REAL,
			current_lon REAL,
			final_lat REAL,
			final_lon REAL,
			final_destination TEXT,
			updated_at TEXT
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateBus persists a new bus record. The password hash must already be
// computed; plaintext never reaches this layer.
func (s *Store) CreateBus(ctx context.Context, bus model.Bus) (*model.Bus, error) {
	if s.db == nil {
		return nil, model.ErrStoreUnavailable
	}

	if bus.CreatedAt.IsZero() {
		bus.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO buses (bus_number, username, route_id, password_hash, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?);`,
		bus.BusNumber,
		bus.Username,
		bus.RouteID,
		bus.PasswordHash,
		boolToInt(bus.Active),
		bus.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrDuplicateBus
		}
		return nil, fmt.Errorf("insert bus: %w", err)
	}

	return &bus, nil
}

// BusByNumber returns the bus registered under busNumber, or ErrUnknownBus.
func (s *Store) BusByNumber(ctx context.Context, busNumber string) (*model.Bus, error) {
	if s.db == nil {
		return nil, model.ErrStoreUnavailable
	}

	var (
		bus       model.Bus
		active    int
		createdAt string
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT bus_number, username, route_id, password_hash, active, created_at
		 FROM buses WHERE bus_number = ?;`,
		busNumber,
	).Scan(&bus.BusNumber, &bus.Username, &bus.RouteID, &bus.PasswordHash, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUnknownBus
	}
	if err != nil {
		return nil, fmt.Errorf("query bus: %w", err)
	}

	bus.Active = active != 0
	bus.CreatedAt = parseTime(createdAt)
	return &bus, nil
}

// SetBusActive flips the bus's availability flag.
func (s *Store) SetBusActive(ctx context.Context, busNumber string, active bool) error {
	if s.db == nil {
		return model.ErrStoreUnavailable
	}

	res, err := s.db.ExecContext(ctx, `UPDATE buses SET active = ? WHERE bus_number = ?;`, boolToInt(active), busNumber)
	if err != nil {
		return fmt.Errorf("update bus status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrUnknownBus
	}
	return nil
}

// BusNumbersOnRoute lists registered bus numbers assigned to the route.
func (s *Store) BusNumbersOnRoute(ctx context.Context, routeID string) ([]string, error) {
	if s.db == nil {
		return nil, model.ErrStoreUnavailable
	}

	rows, err := s.db.QueryContext(ctx, `SELECT bus_number FROM buses WHERE route_id = ? ORDER BY bus_number;`, routeID)
	if err != nil {
		return nil, fmt.Errorf("query buses on route: %w", err)
	}
	defer rows.Close()

	numbers := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan bus number: %w", err)
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buses on route: %w", err)
	}
	return numbers, nil
}

// ApplyLocationUpdate records a new position sample for the bus, shifting
// the three retention tiers in one transaction: the prior-prior slot takes
// the prior slot, the prior slot takes the new sample, and the recent
// window appends the sample, evicting the oldest past its bound. Returns
// ErrUnknownBus when the bus number is not registered.
func (s *Store) ApplyLocationUpdate(ctx context.Context, busNumber string, lat, lon float64) (*model.BusLocationState, error) {
	if s.db == nil {
		return nil, model.ErrStoreUnavailable
	}

	now := time.Now().UTC()
	sample := model.PositionSample{Lat: lat, Lon: lon, Timestamp: now}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin location update: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM buses WHERE bus_number = ?;`, busNumber).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUnknownBus
	}
	if err != nil {
		return nil, fmt.Errorf("check bus: %w", err)
	}

	state := &model.BusLocationState{BusNumber: busNumber}

	var (
		windowRaw     string
		priorRaw      sql.NullString
		priorPriorRaw sql.NullString
	)
	err = tx.QueryRowContext(
		ctx,
		`SELECT recent_window, prior_sample, prior_prior_sample
		 FROM bus_locations WHERE bus_number = ?;`,
		busNumber,
	).Scan(&windowRaw, &priorRaw, &priorPriorRaw)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First sample for this bus: window holds just the sample, the
		// prior slot takes it, the prior-prior slot stays empty.
		state.RecentWindow = []model.PositionSample{sample}
		state.PriorSample = &sample
		state.PriorPrior = nil
	case err != nil:
		return nil, fmt.Errorf("read location state: %w", err)
	default:
		window, derr := decodeWindow(windowRaw)
		if derr != nil {
			return nil, derr
		}
		window = append(window, sample)
		if len(window) > model.RecentWindowDepth {
			window = window[len(window)-model.RecentWindowDepth:]
		}
		state.RecentWindow = window

		prior, derr := decodeSample(priorRaw)
		if derr != nil {
			return nil, derr
		}
		state.PriorPrior = prior
		state.PriorSample = &sample
	}

	state.CurrentLat = lat
	state.CurrentLon = lon
	state.LastUpdated = now

	windowJSON, err := json.Marshal(state.RecentWindow)
	if err != nil {
		return nil, fmt.Errorf("encode recent window: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO bus_locations (bus_number, current_lat, current_lon, recent_window, prior_sample, prior_prior_sample, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bus_number)
		 DO UPDATE SET current_lat = excluded.current_lat,
				 current_lon = excluded.current_lon,
				 recent_window = excluded.recent_window,
				 prior_sample = excluded.prior_sample,
				 prior_prior_sample = excluded.prior_prior_sample,
				 last_updated = excluded.last_updated;`,
		busNumber,
		lat,
		lon,
		string(windowJSON),
		encodeSample(state.PriorSample),
		encodeSample(state.PriorPrior),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("write location state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit location update: %w", err)
	}

	return state, nil
}

// CurrentLocation returns the live location state for the bus, or nil when
// no sample has ever been recorded.
func (s *Store) CurrentLocation(ctx context.Context, busNumber string) (*model.BusLocationState, error) {
	if s.db == nil {
		return nil, model.ErrStoreUnavailable
	}

	var (
		state         model.BusLocationState
		windowRaw     string
		priorRaw      sql.NullString
		priorPriorRaw sql.NullString
		lastUpdated   string
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT bus_number, current_lat, current_lon, recent_window, prior_sample, prior_prior_sample, last_updated
		 FROM bus_locations WHERE bus_number = ?;`,
		busNumber,
	).Scan(&state.BusNumber, &state.CurrentLat, &state.CurrentLon, &windowRaw, &priorRaw, &priorPriorRaw, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query location state: %w", err)
	}

	if state.RecentWindow, err = decodeWindow(windowRaw); err != nil {
		return nil, err
	}
	if state.PriorSample, err = decodeSample(priorRaw); err != nil {
		return nil, err
	}
	if state.PriorPrior, err = decodeSample(priorPriorRaw); err != nil {
		return nil, err
	}
	state.LastUpdated = parseTime(lastUpdated)

	return &state, nil
}

// LocationsForRoute returns the latest recorded point for every bus on the
// route. Buses without a recorded location are omitted.
func (s *Store) LocationsForRoute(ctx context.Context, routeID string) ([]model.BusRouteLocation, error) {
	if s.db == nil {
		return nil, model.ErrStoreUnavailable
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT bl.bus_number, bl.current_lat, bl.current_lon
		 FROM bus_locations bl
		 INNER JOIN buses b ON b.bus_number = bl.bus_number
		 WHERE b.route_id = ?
		 ORDER BY bl.bus_number;`,
		routeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query route locations: %w", err)
	}
	defer rows.Close()

	locations := []model.BusRouteLocation{}
	for rows.Next() {
		var loc model.BusRouteLocation
		if err := rows.Scan(&loc.BusNumber, &loc.CurrentLat, &loc.CurrentLon); err != nil {
			return nil, fmt.Errorf("scan route location: %w", err)
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route locations: %w", err)
	}
	return locations, nil
}

// CreateRoute inserts a route with its static waypoint path.
func (s *Store) CreateRoute(ctx context.Context, routeID, routeName string, waypoints []model.Waypoint) error {
	if s.db == nil {
		return model.ErrStoreUnavailable
	}

	if waypoints == nil {
		waypoints = []model.Waypoint{}
	}
	wpJSON, err := json.Marshal(waypoints)
	if err != nil {
		return fmt.Errorf("encode waypoints: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO route_info (route_id, route_name, waypoints) VALUES (?, ?, ?);`,
		routeID, routeName, string(wpJSON),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("route %q already exists", routeID)
		}
		return fmt.Errorf("insert route: %w", err)
	}
	return nil
}

// AppendRouteWaypoints extends the route's path. The waypoint sequence is
// append-only.
func (s *Store) AppendRouteWaypoints(ctx context.Context, routeID string, pts []model.Waypoint) error {
	if s.db == nil {
		return model.ErrStoreUnavailable
	}
	if len(pts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin waypoint append: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT waypoints FROM route_info WHERE route_id = ?;`, routeID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrUnknownRoute
	}
	if err != nil {
		return fmt.Errorf("read waypoints: %w", err)
	}

	var waypoints []model.Waypoint
	if err := json.Unmarshal([]byte(raw), &waypoints); err != nil {
		return fmt.Errorf("decode waypoints: %w", err)
	}
	waypoints = append(waypoints, pts...)

	wpJSON, err := json.Marshal(waypoints)
	if err != nil {
		return fmt.Errorf("encode waypoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE route_info SET waypoints = ? WHERE route_id = ?;`, string(wpJSON), routeID); err != nil {
		return fmt.Errorf("write waypoints: %w", err)
	}

	return tx.Commit()
}

// UpsertRouteTransit creates the route if absent, otherwise overwrites its
// live-transit fields. The waypoint path is untouched either way.
func (s *Store) UpsertRouteTransit(ctx context.Context, rt model.RouteTransit) (*model.RouteInfo, error) {
	return s.writeRouteTransit(ctx, rt, true)
}

// UpdateRouteTransit overwrites the live-transit fields of an existing
// route, failing with ErrUnknownRoute when the route is absent.
func (s *Store) UpdateRouteTransit(ctx context.Context, rt model.RouteTransit) (*model.RouteInfo, error) {
	return s.writeRouteTransit(ctx, rt, false)
}

func (s *Store) writeRouteTransit(ctx context.Context, rt model.RouteTransit, createIfAbsent bool) (*model.RouteInfo, error) {
	if s.db == nil {
		return nil, model.ErrStoreUnavailable
	}

	updatedAt := time.Now().UTC()
	if rt.Timestamp != nil {
		updatedAt = rt.Timestamp.UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin route transit: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM route_info WHERE route_id = ?;`, rt.RouteID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !createIfAbsent {
			return nil, model.ErrUnknownRoute
		}
		// Display name defaults to the identifier until a path submission
		// names the route.
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO route_info (route_id, route_name, waypoints, current_lat, current_lon, final_lat, final_lon, final_destination, updated_at)
			 VALUES (?, ?, '[]', ?, ?, ?, ?, ?, ?);`,
			rt.RouteID,
			rt.RouteID,
			rt.CurrentLat,
			rt.CurrentLon,
			nullFloat(rt.FinalLat),
			nullFloat(rt.FinalLon),
			nullString(rt.FinalDestination),
			updatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("insert route transit: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("check route: %w", err)
	default:
		_, err = tx.ExecContext(
			ctx,
			`UPDATE route_info
			 SET current_lat = ?, current_lon = ?, final_lat = ?, final_lon = ?, final_destination = ?, updated_at = ?
			 WHERE route_id = ?;`,
			rt.CurrentLat,
			rt.CurrentLon,
			nullFloat(rt.FinalLat),
			nullFloat(rt.FinalLon),
			nullString(rt.FinalDestination),
			updatedAt.Format(time.RFC3339Nano),
			rt.RouteID,
		)
		if err != nil {
			return nil, fmt.Errorf("update route transit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit route transit: %w", err)
	}

	return s.RouteByID(ctx, rt.RouteID)
}

// RouteByID returns the full route record, or ErrUnknownRoute.
func (s *Store) RouteByID(ctx context.Context, routeID string) (*model.RouteInfo, error) {
	if s.db == nil {
		return nil, model.ErrStoreUnavailable
	}

	var (
		route     model.RouteInfo
		raw       string
		curLat    sql.NullFloat64
		curLon    sql.NullFloat64
		finLat    sql.NullFloat64
		finLon    sql.NullFloat64
		finDest   sql.NullString
		updatedAt sql.NullString
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT route_id, route_name, waypoints, current_lat, current_lon, final_lat, final_lon, final_destination, updated_at
		 FROM route_info WHERE route_id = ?;`,
		routeID,
	).Scan(&route.RouteID, &route.RouteName, &raw, &curLat, &curLon, &finLat, &finLon, &finDest, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUnknownRoute
	}
	if err != nil {
		return nil, fmt.Errorf("query route: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &route.Waypoints); err != nil {
		return nil, fmt.Errorf("decode waypoints: %w", err)
	}
	route.CurrentLat = floatPtr(curLat)
	route.CurrentLon = floatPtr(curLon)
	route.FinalLat = floatPtr(finLat)
	route.FinalLon = floatPtr(finLon)
	if finDest.Valid {
		route.FinalDestination = &finDest.String
	}
	if updatedAt.Valid {
		t := parseTime(updatedAt.String)
		route.UpdatedAt = &t
	}

	return &route, nil
}

// RouteWaypoints returns the route's ordered path. Unknown routes yield an
// empty sequence, not an error.
func (s *Store) RouteWaypoints(ctx context.Context, routeID string) ([]model.Waypoint, error) {
	route, err := s.RouteByID(ctx, routeID)
	if errors.Is(err, model.ErrUnknownRoute) {
		return []model.Waypoint{}, nil
	}
	if err != nil {
		return nil, err
	}
	if route.Waypoints == nil {
		return []model.Waypoint{}, nil
	}
	return route.Waypoints, nil
}

// RouteSummary aggregates the route's name, assigned bus numbers, and the
// total path distance in kilometers.
func (s *Store) RouteSummary(ctx context.Context, routeID string) (*model.RouteSummary, error) {
	route, err := s.RouteByID(ctx, routeID)
	if err != nil {
		return nil, err
	}

	numbers, err := s.BusNumbersOnRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}

	return &model.RouteSummary{
		RouteID:         route.RouteID,
		RouteName:       route.RouteName,
		BusNumbers:      numbers,
		TotalDistanceKm: geo.PathDistanceKm(route.Waypoints),
	}, nil
}

// CountBuses returns the number of registered buses.
func (s *Store) CountBuses(ctx context.Context) (int, error) {
	return s.countRows(ctx, "buses")
}

// CountRoutes returns the number of known routes.
func (s *Store) CountRoutes(ctx context.Context) (int, error) {
	return s.countRows(ctx, "route_info")
}

func (s *Store) countRows(ctx context.Context, table string) (int, error) {
	if s.db == nil {
		return 0, model.ErrStoreUnavailable
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+`;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func decodeWindow(raw string) ([]model.PositionSample, error) {
	var window []model.PositionSample
	if err := json.Unmarshal([]byte(raw), &window); err != nil {
		return nil, fmt.Errorf("decode recent window: %w", err)
	}
	return window, nil
}

func decodeSample(raw sql.NullString) (*model.PositionSample, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var sample model.PositionSample
	if err := json.Unmarshal([]byte(raw.String), &sample); err != nil {
		return nil, fmt.Errorf("decode tier sample: %w", err)
	}
	return &sample, nil
}

func encodeSample(sample *model.PositionSample) any {
	if sample == nil {
		return nil
	}
	b, err := json.Marshal(sample)
	if err != nil {
		return nil
	}
	return string(b)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t, _ = time.Parse("2006-01-02T15:04:05Z07:00", raw)
	}
	return t
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
