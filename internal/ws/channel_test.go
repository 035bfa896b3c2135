package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bustracker/internal/auth"
	"bustracker/internal/store"
)

type testEnv struct {
	store  *store.Store
	auth   *auth.Manager
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
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
	h := New(logger, st, am, nil, nil, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeDriver)
	mux.HandleFunc("/ws/route", h.ServeRoute)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{store: st, auth: am, server: server}
}

func (e *testEnv) wsURL(path, rawQuery string) string {
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func (e *testEnv) driverToken(t *testing.T, busNumber string) string {
	t.Helper()
	bus, err := e.auth.Register(context.Background(), busNumber, "user_"+busNumber, "route_1", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	token, err := e.auth.IssueToken(bus)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) string {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return string(reply)
}

func TestDriverChannelRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/ws", ""), nil)
	if err == nil {
		t.Fatal("dial succeeded without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %+v, want 401", resp)
	}
}

func TestDriverChannelMalformedFrameKeepsSessionOpen(t *testing.T) {
	env := newTestEnv(t)
	token := env.driverToken(t, "bus_1_1")

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws", "token="+token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// A bad frame yields exactly one error and the session keeps reading.
	reply := roundTrip(t, conn, "{not json")
	if !strings.HasPrefix(reply, "Error:") {
		t.Fatalf("reply = %q, want Error prefix", reply)
	}

	reply = roundTrip(t, conn, `{"busNumber":"bus_1_1","lat":27.6,"lon":85.5}`)
	if reply != "Location updated for bus bus_1_1" {
		t.Fatalf("reply = %q", reply)
	}

	state, err := env.store.CurrentLocation(context.Background(), "bus_1_1")
	if err != nil {
		t.Fatalf("current location: %v", err)
	}
	if state == nil || state.CurrentLat != 27.6 {
		t.Fatalf("state = %+v, want lat 27.6", state)
	}
}

func TestDriverChannelValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.driverToken(t, "bus_1_1")

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws", "token="+token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	tests := []struct {
		name       string
		frame      string
		wantPrefix string
	}{
		{"missing bus number", `{"lat":27.6,"lon":85.5}`, "Error:"},
		{"latitude out of range", `{"busNumber":"bus_1_1","lat":120,"lon":85.5}`, "Error:"},
		{"other driver's bus", `{"busNumber":"bus_2_2","lat":27.6,"lon":85.5}`, "Error: token is not valid for bus bus_2_2"},
		{"valid frame", `{"busNumber":"bus_1_1","lat":27.6,"lon":85.5}`, "Location updated for bus bus_1_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := roundTrip(t, conn, tt.frame)
			if !strings.HasPrefix(reply, tt.wantPrefix) {
				t.Errorf("reply = %q, want prefix %q", reply, tt.wantPrefix)
			}
		})
	}
}

func TestRouteChannelUpserts(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/ws/route", ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reply := roundTrip(t, conn, `{"routeId":"route_7","currentLat":27.6,"currentLon":85.5,"finalDestinationName":"Banepa"}`)
	if reply != "Route data for route route_7 updated successfully!" {
		t.Fatalf("reply = %q", reply)
	}

	route, err := env.store.RouteByID(context.Background(), "route_7")
	if err != nil {
		t.Fatalf("route by id: %v", err)
	}
	if route.CurrentLat == nil || *route.CurrentLat != 27.6 {
		t.Errorf("current lat = %v, want 27.6", route.CurrentLat)
	}
	if route.FinalDestination == nil || *route.FinalDestination != "Banepa" {
		t.Errorf("final destination = %v, want Banepa", route.FinalDestination)
	}

	// Repeat submission overwrites, not duplicates.
	reply = roundTrip(t, conn, `{"routeId":"route_7","currentLat":27.7,"currentLon":85.4}`)
	if reply != "Route data for route route_7 updated successfully!" {
		t.Fatalf("reply = %q", reply)
	}

	route, err = env.store.RouteByID(context.Background(), "route_7")
	if err != nil {
		t.Fatalf("route by id: %v", err)
	}
	if route.CurrentLat == nil || *route.CurrentLat != 27.7 {
		t.Errorf("current lat after overwrite = %v, want 27.7", route.CurrentLat)
	}
}
