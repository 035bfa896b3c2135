package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type locationPayload struct {
	BusNumber string  `json:"busNumber"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

type waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func main() {
	serverAddr := flag.String("server", "localhost:8080", "Bus tracker server host:port")
	busNumber := flag.String("bus", "bus_1_1", "Bus number to report positions for")
	password := flag.String("password", "password123", "Driver password")
	routeID := flag.String("route", "route_1", "Route whose waypoints to replay")
	interval := flag.Duration("interval", 2*time.Second, "Interval between position reports")
	jitter := flag.Float64("jitter", 0.0001, "Maximum random offset applied to each coordinate in degrees")

	flag.Parse()

	rand.Seed(time.Now().UnixNano())

	token, err := login(*serverAddr, *busNumber, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	log.Printf("logged in as %s", *busNumber)

	waypoints, err := fetchWaypoints(*serverAddr, *routeID)
	if err != nil {
		log.Fatalf("failed to fetch route path: %v", err)
	}
	if len(waypoints) == 0 {
		log.Fatalf("route %s has no waypoints to replay", *routeID)
	}
	log.Printf("replaying %d waypoints of %s", len(waypoints), *routeID)

	wsURL := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", wsURL.String(), err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	idx := 0
	report := func() error {
		wp := waypoints[idx%len(waypoints)]
		idx++

		payload := locationPayload{
			BusNumber: *busNumber,
			Lat:       wp.Lat + randomOffset(*jitter),
			Lon:       wp.Lon + randomOffset(*jitter),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}

		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("send position: %w", err)
		}
		_, ack, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read ack: %w", err)
		}
		log.Printf("lat=%.6f lon=%.6f server: %s", payload.Lat, payload.Lon, ack)
		return nil
	}

	if err := report(); err != nil {
		log.Fatalf("%v", err)
	}

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if err := report(); err != nil {
				log.Fatalf("%v", err)
			}
		}
	}
}

func login(serverAddr, busNumber, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"busNumber": busNumber, "password": password})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(fmt.Sprintf("http://%s/token", serverAddr), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}
	return out.AccessToken, nil
}

func fetchWaypoints(serverAddr, routeID string) ([]waypoint, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/route_path/%s", serverAddr, routeID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out struct {
		RouteCoordinates []waypoint `json:"routeCoordinates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.RouteCoordinates, nil
}

func randomOffset(max float64) float64 {
	if max <= 0 {
		return 0
	}
	return (rand.Float64()*2 - 1) * max
}
