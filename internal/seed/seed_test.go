package seed

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"bustracker/internal/auth"
	"bustracker/internal/store"
)

func TestEnsureDemoData(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	am := auth.New(st, "test-secret", time.Hour)

	if err := EnsureDemoData(ctx, logger, st, am); err != nil {
		t.Fatalf("seed: %v", err)
	}

	routes, err := st.CountRoutes(ctx)
	if err != nil {
		t.Fatalf("count routes: %v", err)
	}
	if routes != 4 {
		t.Errorf("routes = %d, want 4", routes)
	}

	buses, err := st.CountBuses(ctx)
	if err != nil {
		t.Fatalf("count buses: %v", err)
	}
	if buses != 20 {
		t.Errorf("buses = %d, want 20", buses)
	}

	// Drivers are assigned routes that actually exist.
	bus, err := st.BusByNumber(ctx, "bus_3_2")
	if err != nil {
		t.Fatalf("bus by number: %v", err)
	}
	if bus.RouteID != "route_3" {
		t.Errorf("route = %s, want route_3", bus.RouteID)
	}
	if _, err := st.RouteByID(ctx, bus.RouteID); err != nil {
		t.Errorf("driver's route missing: %v", err)
	}

	// Seeded credentials authenticate.
	if _, err := am.Authenticate(ctx, "bus_1_1", "password123"); err != nil {
		t.Errorf("authenticate seeded driver: %v", err)
	}

	// A second run leaves the populated database alone.
	if err := EnsureDemoData(ctx, logger, st, am); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if n, _ := st.CountBuses(ctx); n != 20 {
		t.Errorf("buses after reseed = %d, want 20", n)
	}

	wps, err := st.RouteWaypoints(ctx, "route_1")
	if err != nil {
		t.Fatalf("route waypoints: %v", err)
	}
	if len(wps) != 51 {
		t.Errorf("route_1 waypoints = %d, want 51", len(wps))
	}
}
