package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"bustracker/internal/auth"
	"bustracker/internal/config"
	"bustracker/internal/metrics"
	"bustracker/internal/model"
	"bustracker/internal/store"
	"bustracker/internal/ws"
)

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	am := auth.New(st, "test-secret", time.Hour)
	mc := metrics.NewCollector()

	a := &App{
		cfg:     config.Config{HTTPPort: 8080},
		logger:  logger,
		store:   st,
		auth:    am,
		metrics: mc,
		channel: ws.New(logger, st, am, mc, nil, time.Minute),
	}

	server := httptest.NewServer(a.routes())
	t.Cleanup(server.Close)
	return a, server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func registerDriver(t *testing.T, server *httptest.Server, busNumber, routeID string) {
	t.Helper()
	resp := postJSON(t, server.URL+"/create_bus_driver/", map[string]string{
		"username":  "user_" + busNumber,
		"busNumber": busNumber,
		"routeId":   routeID,
		"password":  "password123",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create_bus_driver status = %d", resp.StatusCode)
	}
}

func TestTokenEndpoint(t *testing.T) {
	_, server := newTestApp(t)
	registerDriver(t, server, "bus_1_1", "route_1")

	t.Run("correct password", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/token", map[string]string{"busNumber": "bus_1_1", "password": "password123"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var out struct {
			AccessToken string `json:"accessToken"`
			TokenType   string `json:"tokenType"`
		}
		decodeBody(t, resp, &out)
		if out.AccessToken == "" {
			t.Error("empty access token")
		}
		if out.TokenType != "bearer" {
			t.Errorf("token type = %q, want bearer", out.TokenType)
		}
	})

	// Wrong password and unknown bus must return identical 401 responses.
	readFailure := func(t *testing.T, busNumber, password string) (int, string) {
		resp := postJSON(t, server.URL+"/token", map[string]string{"busNumber": busNumber, "password": password})
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		return resp.StatusCode, string(body)
	}

	t.Run("failures are indistinguishable", func(t *testing.T) {
		wrongStatus, wrongBody := readFailure(t, "bus_1_1", "wrong")
		unknownStatus, unknownBody := readFailure(t, "bus_9_9", "password123")

		if wrongStatus != http.StatusUnauthorized || unknownStatus != http.StatusUnauthorized {
			t.Fatalf("statuses = %d, %d, want 401, 401", wrongStatus, unknownStatus)
		}
		if wrongBody != unknownBody {
			t.Errorf("bodies differ: %q vs %q", wrongBody, unknownBody)
		}
	})
}

func TestCreateBusDriverDuplicate(t *testing.T) {
	_, server := newTestApp(t)
	registerDriver(t, server, "bus_1_1", "route_1")

	resp := postJSON(t, server.URL+"/create_bus_driver/", map[string]string{
		"username":  "someone_else",
		"busNumber": "bus_1_1",
		"routeId":   "route_2",
		"password":  "password456",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRouteInfoEndpoint(t *testing.T) {
	a, server := newTestApp(t)
	ctx := context.Background()

	t.Run("unknown route", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/route_info/route_9")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})

	path := []model.Waypoint{
		{Lat: 27.594185, Lon: 85.519209},
		{Lat: 27.600556, Lon: 85.526150},
		{Lat: 27.629941, Lon: 85.523908},
	}
	if err := a.store.CreateRoute(ctx, "route_1", "Panauti-Banepa", path); err != nil {
		t.Fatalf("create route: %v", err)
	}
	registerDriver(t, server, "bus_1_1", "route_1")
	registerDriver(t, server, "bus_1_2", "route_1")

	t.Run("populated route", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/route_info/route_1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var out struct {
			RouteName         string  `json:"routeName"`
			TotalBusesOnRoute int     `json:"totalBusesOnRoute"`
			TotalDistanceKm   float64 `json:"totalDistanceKm"`
		}
		decodeBody(t, resp, &out)
		if out.RouteName != "Panauti-Banepa" {
			t.Errorf("route name = %q", out.RouteName)
		}
		if out.TotalBusesOnRoute != 2 {
			t.Errorf("buses on route = %d, want 2", out.TotalBusesOnRoute)
		}
		if out.TotalDistanceKm <= 0 {
			t.Errorf("total distance = %v, want > 0", out.TotalDistanceKm)
		}
	})
}

func TestRoutePathEndpoint(t *testing.T) {
	a, server := newTestApp(t)
	ctx := context.Background()

	path := []model.Waypoint{{Lat: 27.594185, Lon: 85.519209}, {Lat: 27.629941, Lon: 85.523908}}
	if err := a.store.CreateRoute(ctx, "route_1", "Panauti-Banepa", path); err != nil {
		t.Fatalf("create route: %v", err)
	}
	registerDriver(t, server, "bus_1_1", "route_1")
	registerDriver(t, server, "bus_1_2", "route_1")
	if _, err := a.store.ApplyLocationUpdate(ctx, "bus_1_1", 27.6, 85.5); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	resp, err := http.Get(server.URL + "/route_path/route_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		RouteCoordinates []model.Waypoint         `json:"routeCoordinates"`
		BusLocations     []model.BusRouteLocation `json:"busLocations"`
	}
	decodeBody(t, resp, &out)
	if len(out.RouteCoordinates) != 2 {
		t.Errorf("coordinates = %d, want 2", len(out.RouteCoordinates))
	}
	// bus_1_2 has no recorded location and is omitted.
	if len(out.BusLocations) != 1 {
		t.Fatalf("bus locations = %d, want 1", len(out.BusLocations))
	}
	if out.BusLocations[0].BusNumber != "bus_1_1" {
		t.Errorf("bus = %s, want bus_1_1", out.BusLocations[0].BusNumber)
	}
}

func TestSubmitRouteData(t *testing.T) {
	a, server := newTestApp(t)

	payload := map[string]any{"routeId": "route_1", "currentLat": 27.6, "currentLon": 85.5}

	t.Run("unknown route", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/submit_route_data/", payload)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})

	if err := a.store.CreateRoute(context.Background(), "route_1", "Panauti-Banepa", nil); err != nil {
		t.Fatalf("create route: %v", err)
	}

	t.Run("existing route", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/submit_route_data/", payload)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		route, err := a.store.RouteByID(context.Background(), "route_1")
		if err != nil {
			t.Fatalf("route by id: %v", err)
		}
		if route.CurrentLat == nil || *route.CurrentLat != 27.6 {
			t.Errorf("current lat = %v, want 27.6", route.CurrentLat)
		}
	})
}

func TestProtectedEndpoint(t *testing.T) {
	_, server := newTestApp(t)
	registerDriver(t, server, "bus_1_1", "route_1")

	t.Run("without token", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/protected")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
	})

	resp := postJSON(t, server.URL+"/token", map[string]string{"busNumber": "bus_1_1", "password": "password123"})
	var token struct {
		AccessToken string `json:"accessToken"`
	}
	decodeBody(t, resp, &token)

	t.Run("with token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/protected", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var out struct {
			BusNumber string `json:"busNumber"`
		}
		decodeBody(t, resp, &out)
		if out.BusNumber != "bus_1_1" {
			t.Errorf("bus = %s, want bus_1_1", out.BusNumber)
		}
	})
}
