package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bustracker/internal/auth"
	"bustracker/internal/metrics"
	"bustracker/internal/model"
	"bustracker/internal/publisher"
	"bustracker/internal/store"
)

// Handler owns the live update channels: one long-lived session per driver
// connection on /ws and per route updater on /ws/route. A bad frame yields
// one error message to its sender and the session keeps reading; only a
// transport fault or remote close ends a session.
type Handler struct {
	logger      *slog.Logger
	store       *store.Store
	auth        *auth.Manager
	validate    *validator.Validate
	metrics     *metrics.Collector
	pub         *publisher.NATSPublisher
	idleTimeout time.Duration

	upgrader websocket.Upgrader
}

// New constructs the channel handler. pub may be nil (broadcasting
// disabled); metrics may be nil.
func New(logger *slog.Logger, st *store.Store, am *auth.Manager, mc *metrics.Collector, pub *publisher.NATSPublisher, idleTimeout time.Duration) *Handler {
	return &Handler{
		logger:      logger,
		store:       st,
		auth:        am,
		validate:    validator.New(),
		metrics:     mc,
		pub:         pub,
		idleTimeout: idleTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeDriver handles /ws. The connection must present a valid bearer
// token; frames may only report positions for the authenticated bus.
func (h *Handler) ServeDriver(w http.ResponseWriter, r *http.Request) {
	bus, err := h.auth.ValidateToken(r.Context(), bearerToken(r))
	if err != nil {
		http.Error(w, model.ErrInvalidToken.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("driver channel upgrade failed", "error", err)
		return
	}

	h.runSession(r.Context(), conn, "location", func(ctx context.Context, data []byte) string {
		return h.handleLocationFrame(ctx, bus, data)
	})
}

// ServeRoute handles /ws/route: repeated transit submissions with upsert
// semantics keyed by route identifier.
func (h *Handler) ServeRoute(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("route channel upgrade failed", "error", err)
		return
	}

	h.runSession(r.Context(), conn, "route", h.handleRouteFrame)
}

// runSession is the per-connection loop: wait for a frame, process it,
// acknowledge to the same sender, repeat until the remote closes or the
// transport faults.
func (h *Handler) runSession(ctx context.Context, conn *websocket.Conn, kind string, process func(context.Context, []byte) string) {
	sessionID := uuid.NewString()
	log := h.logger.With("channel", kind, "session", sessionID, "remote", conn.RemoteAddr().String())
	log.Info("channel open")

	if h.metrics != nil {
		h.metrics.OpenChannels.WithLabelValues(kind).Inc()
	}
	defer func() {
		if h.metrics != nil {
			h.metrics.OpenChannels.WithLabelValues(kind).Dec()
		}
		_ = conn.Close()
		log.Info("channel closed")
	}()

	for {
		if h.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("channel read error", "error", err)
			}
			return
		}

		start := time.Now()
		reply := process(ctx, data)
		if h.metrics != nil {
			h.metrics.FrameDuration.Observe(time.Since(start).Seconds())
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			log.Debug("channel write error", "error", err)
			return
		}
	}
}

func (h *Handler) handleLocationFrame(ctx context.Context, bus *model.Bus, data []byte) string {
	var frame LocationFrame
	if err := decodeFrame(data, h.validate, &frame); err != nil {
		h.countLocationError("malformed")
		return "Error: " + err.Error()
	}

	if frame.BusNumber != bus.BusNumber {
		h.countLocationError("forbidden")
		return fmt.Sprintf("Error: token is not valid for bus %s", frame.BusNumber)
	}

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	state, err := h.store.ApplyLocationUpdate(opCtx, frame.BusNumber, frame.Lat, frame.Lon)
	if err != nil {
		if errors.Is(err, model.ErrUnknownBus) {
			h.countLocationError("unknown_bus")
			return fmt.Sprintf("Error: bus %s is not registered", frame.BusNumber)
		}
		h.countLocationError("store")
		h.logger.Error("apply location update", "bus", frame.BusNumber, "error", err)
		return "Error: failed to store location update"
	}

	if h.metrics != nil {
		h.metrics.LocationsApplied.Inc()
	}
	if h.pub != nil {
		h.pub.PublishPosition(publisher.PositionMessage{
			BusNumber: bus.BusNumber,
			RouteID:   bus.RouteID,
			Lat:       frame.Lat,
			Lon:       frame.Lon,
			Timestamp: state.LastUpdated,
		})
	}

	return fmt.Sprintf("Location updated for bus %s", frame.BusNumber)
}

func (h *Handler) handleRouteFrame(ctx context.Context, data []byte) string {
	var frame RouteTransitFrame
	if err := decodeFrame(data, h.validate, &frame); err != nil {
		if h.metrics != nil {
			h.metrics.RouteErrors.WithLabelValues("malformed").Inc()
		}
		return "Error: " + err.Error()
	}

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := h.store.UpsertRouteTransit(opCtx, frame.Transit()); err != nil {
		if h.metrics != nil {
			h.metrics.RouteErrors.WithLabelValues("store").Inc()
		}
		h.logger.Error("upsert route transit", "route", frame.RouteID, "error", err)
		return "Error: failed to store route data"
	}

	if h.metrics != nil {
		h.metrics.RouteUpserts.Inc()
	}
	return fmt.Sprintf("Route data for route %s updated successfully!", frame.RouteID)
}

func (h *Handler) countLocationError(reason string) {
	if h.metrics != nil {
		h.metrics.LocationErrors.WithLabelValues(reason).Inc()
	}
}

// bearerToken extracts the token from the Authorization header or, for
// browser websocket clients that cannot set headers, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return strings.TrimSpace(h[len("bearer "):])
		}
	}
	return r.URL.Query().Get("token")
}
