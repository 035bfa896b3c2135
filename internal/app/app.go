package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"bustracker/internal/auth"
	"bustracker/internal/config"
	"bustracker/internal/metrics"
	"bustracker/internal/model"
	"bustracker/internal/mqttingest"
	"bustracker/internal/publisher"
	"bustracker/internal/seed"
	"bustracker/internal/store"
	"bustracker/internal/ws"
)

// App wires together the bus tracker services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store   *store.Store
	auth    *auth.Manager
	metrics *metrics.Collector
	channel *ws.Handler
	pub     *publisher.NATSPublisher
	bridge  *mqttingest.Bridge
	mdns    *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	a.auth = auth.New(a.store, a.cfg.TokenSecret, a.cfg.TokenTTL)
	a.metrics = metrics.NewCollector()

	if a.cfg.SeedDemoData {
		if err := seed.EnsureDemoData(ctx, a.logger, a.store, a.auth); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	if a.cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(a.cfg.NATSURL, a.cfg.NATSSubjectPrefix, a.metrics, a.logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		a.pub = pub
		defer a.pub.Close()
	}

	a.channel = ws.New(a.logger, a.store, a.auth, a.metrics, a.pub, a.cfg.ChannelIdleTimeout)

	if a.cfg.MQTTBrokerURL != "" {
		bridge, err := mqttingest.Connect(a.logger, a.store, a.metrics, a.cfg.MQTTBrokerURL, a.cfg.MQTTTopic)
		if err != nil {
			return err
		}
		a.bridge = bridge
		defer a.bridge.Close()
	}

	var metricsServer *http.Server
	if a.cfg.MetricsAddr != "" {
		metricsServer = a.metrics.Serve(a.cfg.MetricsAddr, a.logger)
	}

	if a.cfg.EnableMDNS {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")

			if metricsServer != nil {
				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("metrics server shutdown", "error", err)
				}
			}
			return nil
		case err := <-httpErrCh:
			if err != nil {
				if metricsServer != nil {
					_ = metricsServer.Shutdown(context.Background())
				}
				return err
			}
		}
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/token", a.handleToken)
	mux.HandleFunc("/create_bus_driver/", a.handleCreateBusDriver)
	mux.HandleFunc("/submit_route_data/", a.handleSubmitRouteData)
	mux.HandleFunc("/route_info/", a.handleRouteInfo)
	mux.HandleFunc("/route_path/", a.handleRoutePath)
	mux.HandleFunc("/protected", a.handleProtected)
	mux.HandleFunc("/ws", a.channel.ServeDriver)
	mux.HandleFunc("/ws/route", a.channel.ServeRoute)
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.channel == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		BusNumber string `json:"busNumber"`
		Password  string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	bus, err := a.auth.Authenticate(ctx, req.BusNumber, req.Password)
	if err != nil {
		a.metrics.AuthFailures.Inc()
		if errors.Is(err, model.ErrInvalidCredentials) {
			writeDetail(w, http.StatusUnauthorized, model.ErrInvalidCredentials.Error())
			return
		}
		a.logger.Error("authenticate", "bus", req.BusNumber, "error", err)
		writeDetail(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	token, err := a.auth.IssueToken(bus)
	if err != nil {
		a.logger.Error("issue token", "bus", bus.BusNumber, "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	a.metrics.TokensIssued.Inc()

	writeJSON(w, http.StatusOK, struct {
		AccessToken string `json:"accessToken"`
		TokenType   string `json:"tokenType"`
	}{AccessToken: token, TokenType: "bearer"})
}

func (a *App) handleCreateBusDriver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Username  string `json:"username"`
		BusNumber string `json:"busNumber"`
		RouteID   string `json:"routeId"`
		Password  string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Username == "" || req.BusNumber == "" || req.Password == "" {
		writeDetail(w, http.StatusBadRequest, "username, busNumber and password are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	bus, err := a.auth.Register(ctx, req.BusNumber, req.Username, req.RouteID, req.Password)
	if err != nil {
		if errors.Is(err, model.ErrDuplicateBus) {
			writeDetail(w, http.StatusBadRequest, model.ErrDuplicateBus.Error())
			return
		}
		a.logger.Error("register bus driver", "bus", req.BusNumber, "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to register bus driver")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		BusNumber string    `json:"busNumber"`
		Username  string    `json:"username"`
		RouteID   string    `json:"routeId"`
		Status    bool      `json:"status"`
		CreatedAt time.Time `json:"createdAt"`
	}{
		BusNumber: bus.BusNumber,
		Username:  bus.Username,
		RouteID:   bus.RouteID,
		Status:    bus.Active,
		CreatedAt: bus.CreatedAt,
	})
}

// handleSubmitRouteData accepts the same payload as the route channel but
// only for routes that already exist.
func (a *App) handleSubmitRouteData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		RouteID          string     `json:"routeId"`
		CurrentLat       float64    `json:"currentLat"`
		CurrentLon       float64    `json:"currentLon"`
		FinalLat         *float64   `json:"finalLat"`
		FinalLon         *float64   `json:"finalLon"`
		FinalDestination *string    `json:"finalDestination"`
		Timestamp        *time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.RouteID == "" {
		writeDetail(w, http.StatusBadRequest, "routeId is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	_, err := a.store.UpdateRouteTransit(ctx, model.RouteTransit{
		RouteID:          req.RouteID,
		CurrentLat:       req.CurrentLat,
		CurrentLon:       req.CurrentLon,
		FinalLat:         req.FinalLat,
		FinalLon:         req.FinalLon,
		FinalDestination: req.FinalDestination,
		Timestamp:        req.Timestamp,
	})
	if err != nil {
		if errors.Is(err, model.ErrUnknownRoute) {
			a.metrics.RouteErrors.WithLabelValues("unknown_route").Inc()
			writeDetail(w, http.StatusNotFound, fmt.Sprintf("route %s not found", req.RouteID))
			return
		}
		a.metrics.RouteErrors.WithLabelValues("store").Inc()
		a.logger.Error("submit route data", "route", req.RouteID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to store route data")
		return
	}
	a.metrics.RouteUpserts.Inc()

	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
	}{Message: fmt.Sprintf("Route data for route %s updated successfully!", req.RouteID)})
}

func (a *App) handleRouteInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	routeID := strings.TrimPrefix(r.URL.Path, "/route_info/")
	if routeID == "" || strings.Contains(routeID, "/") {
		writeDetail(w, http.StatusNotFound, "route not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	summary, err := a.store.RouteSummary(ctx, routeID)
	if err != nil {
		if errors.Is(err, model.ErrUnknownRoute) {
			writeDetail(w, http.StatusNotFound, fmt.Sprintf("route %s not found", routeID))
			return
		}
		a.logger.Error("route summary", "route", routeID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to load route info")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		RouteName         string  `json:"routeName"`
		TotalBusesOnRoute int     `json:"totalBusesOnRoute"`
		TotalDistanceKm   float64 `json:"totalDistanceKm"`
	}{
		RouteName:         summary.RouteName,
		TotalBusesOnRoute: len(summary.BusNumbers),
		TotalDistanceKm:   summary.TotalDistanceKm,
	})
}

func (a *App) handleRoutePath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	routeID := strings.TrimPrefix(r.URL.Path, "/route_path/")
	if routeID == "" || strings.Contains(routeID, "/") {
		writeDetail(w, http.StatusNotFound, "route not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	coords, err := a.store.RouteWaypoints(ctx, routeID)
	if err != nil {
		a.logger.Error("route waypoints", "route", routeID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to load route path")
		return
	}

	locations, err := a.store.LocationsForRoute(ctx, routeID)
	if err != nil {
		a.logger.Error("route locations", "route", routeID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to load bus locations")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		RouteCoordinates []model.Waypoint         `json:"routeCoordinates"`
		BusLocations     []model.BusRouteLocation `json:"busLocations"`
	}{RouteCoordinates: coords, BusLocations: locations})
}

// handleProtected returns the identity bound to the presented bearer token.
func (a *App) handleProtected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		writeDetail(w, http.StatusUnauthorized, model.ErrInvalidToken.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	bus, err := a.auth.ValidateToken(ctx, token)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, model.ErrInvalidToken.Error())
		return
	}

	writeJSON(w, http.StatusOK, struct {
		BusNumber string `json:"busNumber"`
	}{BusNumber: bus.BusNumber})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail mirrors the error envelope clients already parse: a single
// "detail" string.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, struct {
		Detail string `json:"detail"`
	}{Detail: detail})
}
