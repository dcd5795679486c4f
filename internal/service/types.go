// Package service wires the camera and overlay core into the operations the
// API exposes: station lookups, camera triggers, overlay visibility and the
// booking step.
package service

import (
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-fleetmap/internal/station"
	"github.com/joeblew999/plat-fleetmap/internal/telemetry"
)

var (
	ErrStationNotFound = errors.New("station not found")
	ErrOverlayNotFound = errors.New("overlay not found")
	ErrUnknownStep     = errors.New("unknown booking step")
	ErrInvalidLocation = errors.New("location out of range")
)

// CameraView is the camera state as served to clients.
type CameraView struct {
	Center      []float64 `json:"center,omitempty" doc:"[lng, lat]; absent until the map reports a position" example:"[121.5654,25.033]"`
	Zoom        float64   `json:"zoom" doc:"Zoom level" example:"16"`
	Tilt        float64   `json:"tilt" doc:"Tilt in degrees" example:"45"`
	Heading     float64   `json:"heading" doc:"Heading in degrees" example:"0"`
	LastUpdated time.Time `json:"lastUpdated" doc:"Time of the last telemetry update"`
	Animating   bool      `json:"animating" doc:"Whether a transition is running"`
	Generation  uint64    `json:"generation" doc:"Generation of the most recent transition"`
}

func cameraView(s telemetry.CameraState) CameraView {
	v := CameraView{Zoom: s.Zoom, Tilt: s.Tilt, Heading: s.Heading, LastUpdated: s.LastUpdated}
	if s.Center != nil {
		v.Center = []float64{s.Center.Lon(), s.Center.Lat()}
	}
	return v
}

// StationView is a station as served to clients.
type StationView struct {
	ID          int       `json:"id" doc:"Station ID" example:"5"`
	Name        string    `json:"name" doc:"Display name" example:"Taipei Main"`
	Coordinates []float64 `json:"coordinates" doc:"[lng, lat]" example:"[121.517,25.0478]"`
}

func stationView(st station.Station) StationView {
	return StationView{ID: st.ID, Name: st.Name, Coordinates: []float64{st.Coordinates.Lon(), st.Coordinates.Lat()}}
}

// OverlayView describes a registered overlay.
type OverlayView struct {
	ID      string `json:"id" doc:"Overlay ID" example:"stations"`
	Type    string `json:"type" enum:"marker,three,circle,walking,route" doc:"Overlay type"`
	Visible bool   `json:"visible" doc:"Whether the overlay is shown"`
}

// Location is a geographic point in API payloads.
type Location struct {
	Lng float64 `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude" example:"121.5654"`
	Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude" example:"25.033"`
}

// Point converts l to an orb.Point.
func (l Location) Point() orb.Point { return orb.Point{l.Lng, l.Lat} }

// Selection is the booking flow's current choice of stations and the user's
// last known position.
type Selection struct {
	Step        BookingStep `json:"step" doc:"Current booking step"`
	DepartureID *int        `json:"departureId,omitempty" doc:"Selected departure station"`
	ArrivalID   *int        `json:"arrivalId,omitempty" doc:"Selected arrival station"`
	User        *Location   `json:"user,omitempty" doc:"Last user position fix"`
}

func (s Selection) clone() Selection {
	if s.DepartureID != nil {
		d := *s.DepartureID
		s.DepartureID = &d
	}
	if s.ArrivalID != nil {
		a := *s.ArrivalID
		s.ArrivalID = &a
	}
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
