package ws

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"bustracker/internal/model"
)

// LocationFrame is one inbound position report on the driver channel.
type LocationFrame struct {
	BusNumber string  `json:"busNumber" validate:"required"`
	Lat       float64 `json:"lat" validate:"min=-90,max=90"`
	Lon       float64 `json:"lon" validate:"min=-180,max=180"`
}

// RouteTransitFrame is one inbound transit report on the route channel.
type RouteTransitFrame struct {
	RouteID          string     `json:"routeId" validate:"required"`
	CurrentLat       float64    `json:"currentLat" validate:"min=-90,max=90"`
	CurrentLon       float64    `json:"currentLon" validate:"min=-180,max=180"`
	FinalLat         *float64   `json:"finalLat,omitempty" validate:"omitempty,min=-90,max=90"`
	FinalLon         *float64   `json:"finalLon,omitempty" validate:"omitempty,min=-180,max=180"`
	FinalDestination *string    `json:"finalDestinationName,omitempty"`
	Timestamp        *time.Time `json:"timestamp,omitempty"`
}

// Transit converts the frame into the store's submission type.
func (f RouteTransitFrame) Transit() model.RouteTransit {
	return model.RouteTransit{
		RouteID:          f.RouteID,
		CurrentLat:       f.CurrentLat,
		CurrentLon:       f.CurrentLon,
		FinalLat:         f.FinalLat,
		FinalLon:         f.FinalLon,
		FinalDestination: f.FinalDestination,
		Timestamp:        f.Timestamp,
	}
}

// decodeFrame unmarshals and schema-validates an inbound frame. Failures
// are typed MalformedMessage values so the session loop can acknowledge
// them without closing the channel.
func decodeFrame(data []byte, v *validator.Validate, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &model.MalformedMessageError{Reason: "invalid JSON", Cause: err}
	}
	if err := v.Struct(out); err != nil {
		return &model.MalformedMessageError{Reason: "invalid frame", Cause: err}
	}
	return nil
}
