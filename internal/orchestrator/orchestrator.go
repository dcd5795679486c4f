// Package orchestrator turns business events (station selected, location
// found, route computed) into camera transitions. It resolves every input
// before motion starts and delegates the motion itself to an injected
// camera-control capability.
package orchestrator

import (
	"reflect"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-fleetmap/internal/camera"
	fgeo "github.com/joeblew999/plat-fleetmap/internal/geo"
	"github.com/joeblew999/plat-fleetmap/internal/logging"
	"github.com/joeblew999/plat-fleetmap/internal/metrics"
	"github.com/joeblew999/plat-fleetmap/internal/station"
)

// Controller is a camera-control capability. It may implement any subset of
// camera.PointAnimator, camera.StationAnimator, camera.RouteAnimator,
// camera.Resetter and camera.Orbiter.
type Controller = any

// Stations supplies the station snapshot used for coordinate resolution.
type Stations interface {
	Snapshot() *station.Snapshot
}

// Policy holds the fixed zoom, tilt and duration of each trigger.
type Policy struct {
	StationZoom      float64
	StationTilt      float64
	LocationZoom     float64
	LocationTilt     float64
	Duration         time.Duration
	OrbitDuration    time.Duration
	OrbitRevolutions float64
}

// DefaultPolicy is the product's camera policy.
func DefaultPolicy() Policy {
	return Policy{
		StationZoom:      16,
		StationTilt:      45,
		LocationZoom:     16,
		LocationTilt:     0,
		Duration:         800 * time.Millisecond,
		OrbitDuration:    6 * time.Second,
		OrbitRevolutions: 1,
	}
}

// Options tune a single operation. Zero values fall back to the policy.
type Options struct {
	Zoom       *float64
	Tilt       *float64
	Duration   time.Duration
	OnComplete func()
	// Controller overrides the initialized capability for this call.
	Controller Controller
}

// Orchestrator issues camera transitions. It holds no lock around motion:
// preemption is the capability's job.
type Orchestrator struct {
	stations Stations
	policy   Policy
	log      zerolog.Logger

	mu         sync.RWMutex
	controller Controller
}

// New creates an Orchestrator with no capability bound.
func New(stations Stations, policy Policy) *Orchestrator {
	return &Orchestrator{
		stations: stations,
		policy:   policy,
		log:      logging.WithComponent("orchestrator"),
	}
}

// WithLogger sets the logger.
func (o *Orchestrator) WithLogger(l zerolog.Logger) *Orchestrator {
	o.log = l
	return o
}

// Initialize binds the default capability. The last call wins.
func (o *Orchestrator) Initialize(c Controller) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.controller = c
}

// Policy returns the trigger policy.
func (o *Orchestrator) Policy() Policy { return o.policy }

// controllerFor picks the per-call capability over the bound one. A nil
// pointer wrapped in the interface counts as absent.
func (o *Orchestrator) controllerFor(opts Options) Controller {
	if present(opts.Controller) {
		return opts.Controller
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if present(o.controller) {
		return o.controller
	}
	return nil
}

func present(c Controller) bool {
	if c == nil {
		return false
	}
	switch v := reflect.ValueOf(c); v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return !v.IsNil()
	}
	return true
}

// transition starts a log entry for one issued transition.
func (o *Orchestrator) transition(op string) zerolog.Logger {
	return o.log.With().Str("op", op).Str("transition", logging.NewCorrelationID()).Logger()
}

func (o *Orchestrator) skip(op, reason string) *zerolog.Event {
	metrics.CameraSkipped.WithLabelValues(reason).Inc()
	return o.log.Warn().Str("op", op).Str("reason", reason)
}

func (o *Orchestrator) params(opts Options, zoom, tilt float64, d time.Duration) camera.Params {
	p := camera.Params{
		Zoom:       opts.Zoom,
		Tilt:       opts.Tilt,
		Duration:   opts.Duration,
		OnComplete: opts.OnComplete,
	}
	if p.Zoom == nil {
		p.Zoom = camera.Float(zoom)
	}
	if p.Tilt == nil {
		p.Tilt = camera.Float(tilt)
	}
	if p.Duration <= 0 {
		p.Duration = d
	}
	return p
}

// AnimateToStationCoordinates flies to already known station coordinates.
// It never looks anything up.
func (o *Orchestrator) AnimateToStationCoordinates(coords orb.Point, stationID int, opts Options) bool {
	const op = "animate_to_station_coordinates"
	if !fgeo.Valid(coords) {
		o.skip(op, "invalid_coordinates").Int("station", stationID).Msg("station coordinates are not usable")
		return false
	}
	c := o.controllerFor(opts)
	p := o.params(opts, o.policy.StationZoom, o.policy.StationTilt, o.policy.Duration)

	var start func()
	switch ctl := c.(type) {
	case camera.StationAnimator:
		start = func() { ctl.AnimateToStation(coords, p) }
	case camera.PointAnimator:
		start = func() { ctl.AnimateCameraTo(coords, p) }
	default:
		o.skip(op, "no_capability").Int("station", stationID).Msg("camera controls not ready")
		return false
	}
	log := o.transition(op)
	log.Info().Int("station", stationID).Float64("lng", coords.Lon()).Float64("lat", coords.Lat()).Msg("camera to station")
	start()
	return true
}

// AnimateToSelectedStation resolves id against the current station snapshot
// and then flies there. An unknown id issues nothing.
func (o *Orchestrator) AnimateToSelectedStation(id int, opts Options) bool {
	st, ok := o.stations.Snapshot().Lookup(id)
	if !ok {
		o.skip("animate_to_selected_station", "unknown_station").Int("station", id).Msg("station not found")
		return false
	}
	return o.AnimateToStationCoordinates(st.Coordinates, st.ID, opts)
}

// ResetCamera returns to the capability's home view.
func (o *Orchestrator) ResetCamera(opts Options) bool {
	const op = "reset_camera"
	ctl, ok := o.controllerFor(opts).(camera.Resetter)
	if !ok {
		o.skip(op, "no_capability").Msg("camera controls not ready")
		return false
	}
	p := camera.Params{Zoom: opts.Zoom, Tilt: opts.Tilt, Duration: opts.Duration, OnComplete: opts.OnComplete}
	if p.Duration <= 0 {
		p.Duration = o.policy.Duration
	}
	log := o.transition(op)
	log.Info().Msg("camera reset")
	ctl.ResetCamera(p)
	return true
}

// AnimateToLocation flies to an arbitrary coordinate with a flat view.
func (o *Orchestrator) AnimateToLocation(loc orb.Point, opts Options) bool {
	const op = "animate_to_location"
	if !fgeo.Valid(loc) {
		o.skip(op, "invalid_coordinates").Msg("location is not usable")
		return false
	}
	ctl, ok := o.controllerFor(opts).(camera.PointAnimator)
	if !ok {
		o.skip(op, "no_capability").Msg("camera controls not ready")
		return false
	}
	log := o.transition(op)
	log.Info().Float64("lng", loc.Lon()).Float64("lat", loc.Lat()).Msg("camera to location")
	ctl.AnimateCameraTo(loc, o.params(opts, o.policy.LocationZoom, o.policy.LocationTilt, o.policy.Duration))
	return true
}

// AnimateToShowRoute resolves both stations from one snapshot and fits the
// camera around them. Either being unknown issues nothing.
func (o *Orchestrator) AnimateToShowRoute(departureID, arrivalID int, opts Options) bool {
	const op = "animate_to_show_route"
	snap := o.stations.Snapshot()
	dep, okDep := snap.Lookup(departureID)
	arr, okArr := snap.Lookup(arrivalID)
	if !okDep || !okArr {
		o.skip(op, "unknown_station").
			Int("departure", departureID).
			Int("arrival", arrivalID).
			Msg("route endpoint not found")
		return false
	}
	if !fgeo.Valid(dep.Coordinates) || !fgeo.Valid(arr.Coordinates) {
		o.skip(op, "invalid_coordinates").Msg("route endpoint coordinates are not usable")
		return false
	}
	ctl, ok := o.controllerFor(opts).(camera.RouteAnimator)
	if !ok {
		o.skip(op, "no_capability").Msg("camera controls not ready")
		return false
	}
	p := camera.Params{Zoom: opts.Zoom, Tilt: opts.Tilt, Duration: opts.Duration, OnComplete: opts.OnComplete}
	if p.Duration <= 0 {
		p.Duration = o.policy.Duration
	}
	log := o.transition(op)
	log.Info().Int("departure", dep.ID).Int("arrival", arr.ID).Msg("camera fit to route")
	ctl.AnimateToRoute(dep.Coordinates, arr.Coordinates, p)
	return true
}

// CircleAroundPoint orbits loc to highlight it.
func (o *Orchestrator) CircleAroundPoint(loc orb.Point, opts Options) bool {
	const op = "circle_around_point"
	if !fgeo.Valid(loc) {
		o.skip(op, "invalid_coordinates").Msg("orbit center is not usable")
		return false
	}
	ctl, ok := o.controllerFor(opts).(camera.Orbiter)
	if !ok {
		o.skip(op, "no_capability").Msg("camera controls not ready")
		return false
	}
	log := o.transition(op)
	log.Info().Float64("lng", loc.Lon()).Float64("lat", loc.Lat()).Msg("camera orbit")
	ctl.CircleAroundPoint(loc, o.policy.OrbitRevolutions,
		o.params(opts, o.policy.StationZoom, o.policy.StationTilt, o.policy.OrbitDuration))
	return true
}
